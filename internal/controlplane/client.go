package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/validate"
	"github.com/openmined/readmesync/internal/version"
)

var UserAgent = fmt.Sprintf("readmesync/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)

// APIError is an error response from the control plane.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to a running daemon's control plane.
type Client struct {
	client *req.Client
}

// NewClient returns a client for addr, either host:port or a full base url.
func NewClient(addr, token string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	c := req.C().
		SetBaseURL(strings.TrimRight(addr, "/")).
		SetTimeout(10*time.Second).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(250*time.Millisecond).
		SetUserAgent(UserAgent).
		SetCommonErrorResult(&APIError{})
	if token != "" {
		c.SetCommonBearerAuthToken(token)
	}
	return &Client{client: c}
}

func (c *Client) Status(ctx context.Context) (resp *StatusResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Get("/v1/status")
	if err := handleAPIError(res, err, "status"); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Items(ctx context.Context, all bool) (resp *ItemsResponse, err error) {
	r := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp)
	if all {
		r.SetQueryParam("all", "true")
	}
	res, err := r.Get("/v1/items")
	if err := handleAPIError(res, err, "items"); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Attribute(ctx context.Context, itemID string) (resp *AttributeResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", itemID).
		SetSuccessResult(&resp).
		Get("/v1/items/{id}/attribute")
	if err := handleAPIError(res, err, "attribute"); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Install(ctx context.Context, itemID string) (resp *InstallResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", itemID).
		SetSuccessResult(&resp).
		Post("/v1/items/{id}/install")
	if err := handleAPIError(res, err, "install"); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) SetStatus(ctx context.Context, itemID string, status metadata.Status) (item *metadata.Item, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", itemID).
		SetBody(&StatusRequest{Status: status}).
		SetSuccessResult(&item).
		Put("/v1/items/{id}/status")
	if err := handleAPIError(res, err, "set status"); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate runs the check on the daemon. A failed check is a report, not an
// error.
func (c *Client) Validate(ctx context.Context) (*validate.Report, error) {
	res, err := c.client.R().
		SetContext(ctx).
		Post("/v1/validate")
	if err != nil {
		return nil, fmt.Errorf("http request error: validate %w", err)
	}

	if res.StatusCode == http.StatusOK || res.StatusCode == http.StatusConflict {
		var report validate.Report
		if err := res.Unmarshal(&report); err != nil {
			return nil, fmt.Errorf("validate: decode report: %w", err)
		}
		return &report, nil
	}
	if err := handleAPIError(res, nil, "validate"); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("validate: unexpected status %s", res.Status)
}

func handleAPIError(res *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	if res.IsErrorState() {
		if apiErr, ok := res.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			apiErr.Status = res.StatusCode
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: unexpected status %s", operation, res.Status)
	}

	return nil
}
