package controlplane

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/readmesync/internal/agent"
	"github.com/openmined/readmesync/internal/metadata"
)

const (
	CodeOk              string = "OK"
	ErrCodeBadRequest   string = "ERR_BAD_REQUEST"
	ErrCodeNotFound     string = "ERR_NOT_FOUND"
	ErrCodeNoReport     string = "ERR_NO_REPORT"
	ErrCodeUnknownError string = "ERR_UNKNOWN_ERROR"
)

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// AttributeResponse is what the attribute provider shows for one item.
type AttributeResponse struct {
	Item      string          `json:"item"`
	Status    metadata.Status `json:"status"`
	Kind      metadata.Kind   `json:"kind"`
	Value     string          `json:"value,omitempty"`
	Display   string          `json:"display"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newAttributeResponse(e agent.Entry) AttributeResponse {
	kind := e.Value.Kind
	if kind == "" {
		kind = "absent"
	}
	return AttributeResponse{
		Item:      e.Item.ID,
		Status:    e.Item.Status,
		Kind:      kind,
		Value:     e.Value.Text,
		Display:   e.Value.Display(),
		UpdatedAt: e.Item.UpdatedAt,
	}
}

type ItemsResponse struct {
	Items    []AttributeResponse `json:"items"`
	InFlight []string            `json:"in_flight"`
}

type InstallResponse struct {
	Item    string `json:"item"`
	Started bool   `json:"started"`
}

type StatusRequest struct {
	Status metadata.Status `json:"status" binding:"required"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version  string        `json:"version"`
	Started  time.Time     `json:"started"`
	Uptime   string        `json:"uptime"`
	InFlight []string      `json:"in_flight"`
	Process  *ProcessStats `json:"process,omitempty"`
}
