package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/readmesync/internal/agent"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/validate"
	"github.com/openmined/readmesync/internal/version"
)

// Service is the part of the agent exposed over HTTP.
type Service interface {
	InstallStarted(ctx context.Context, itemID string) (bool, error)
	Revalidate(ctx context.Context) validate.Report
	LastReport() (validate.Report, bool)
	Attribute(ctx context.Context, itemID string) (agent.Entry, error)
	Entries(ctx context.Context, all bool) ([]agent.Entry, error)
	SetStatus(ctx context.Context, itemID string, status metadata.Status) (metadata.Item, error)
	InFlight() []string
}

type Handler struct {
	svc     Service
	started time.Time
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc, started: time.Now()}
}

func IndexHandler(c *gin.Context) {
	c.PureJSON(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(c *gin.Context) {
	c.PureJSON(http.StatusOK, &HealthResponse{Status: "ok", Version: version.Version})
}

// Status reports version, uptime, in-flight items and process usage.
func (h *Handler) Status(c *gin.Context) {
	stats, err := selfStats()
	if err != nil {
		slog.Debug("process stats unavailable", "error", err)
	}

	c.PureJSON(http.StatusOK, &StatusResponse{
		Version:  version.Version,
		Started:  h.started,
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		InFlight: h.svc.InFlight(),
		Process:  stats,
	})
}

// Items lists tracked items, or every item with ?all=true.
func (h *Handler) Items(c *gin.Context) {
	entries, err := h.svc.Entries(c.Request.Context(), c.Query("all") == "true")
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}

	resp := &ItemsResponse{
		Items:    make([]AttributeResponse, 0, len(entries)),
		InFlight: h.svc.InFlight(),
	}
	for _, e := range entries {
		resp.Items = append(resp.Items, newAttributeResponse(e))
	}
	c.PureJSON(http.StatusOK, resp)
}

func (h *Handler) Attribute(c *gin.Context) {
	e, err := h.svc.Attribute(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortItemError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, newAttributeResponse(e))
}

func (h *Handler) Install(c *gin.Context) {
	id := c.Param("id")
	started, err := h.svc.InstallStarted(c.Request.Context(), id)
	if err != nil {
		abortItemError(c, err)
		return
	}
	c.PureJSON(http.StatusAccepted, &InstallResponse{Item: id, Started: started})
}

func (h *Handler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	item, err := h.svc.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		abortItemError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, item)
}

// Validate runs the validation check now.
func (h *Handler) Validate(c *gin.Context) {
	r := h.svc.Revalidate(c.Request.Context())
	c.PureJSON(reportStatus(r), r)
}

// LastReport returns the report of the most recent change-triggered run.
func (h *Handler) LastReport(c *gin.Context) {
	r, ok := h.svc.LastReport()
	if !ok {
		AbortWithError(c, http.StatusNotFound, ErrCodeNoReport, errors.New("no validation has run yet"))
		return
	}
	c.PureJSON(reportStatus(r), r)
}

func reportStatus(r validate.Report) int {
	if r.OK {
		return http.StatusOK
	}
	return http.StatusConflict
}

func abortItemError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, metadata.ErrItemNotFound):
		AbortWithError(c, http.StatusNotFound, ErrCodeNotFound, err)
	case errors.Is(err, layout.ErrInvalidItemID), errors.Is(err, metadata.ErrBadStatus):
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
	default:
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
	}
}
