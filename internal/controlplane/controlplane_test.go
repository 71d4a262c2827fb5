package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/readmesync/internal/agent"
	"github.com/openmined/readmesync/internal/contentsync"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSyncer struct{}

func (blockingSyncer) Run(ctx context.Context, itemID string) (*contentsync.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type env struct {
	root    string
	store   *metadata.MemoryStore
	agent   *agent.Agent
	handler http.Handler
}

func newEnv(t *testing.T, cfg RouteConfig) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	store := metadata.NewMemoryStore()
	v := validate.New(layout.New(layout.StaticRoot(root)), store)
	a := agent.New(store, blockingSyncer{}, v)
	t.Cleanup(a.Close)

	return &env{root: root, store: store, agent: a, handler: SetupRoutes(a, cfg)}
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *env) item(t *testing.T, id string, status metadata.Status, v metadata.Value, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.PutItem(ctx, metadata.Item{ID: id, Status: status}))
	require.NoError(t, e.store.Set(ctx, id, "readme", v))
	require.NoError(t, os.MkdirAll(filepath.Join(e.root, id), 0o755))
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(e.root, id, "readme.txt"), []byte(content), 0o644))
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, RouteConfig{Token: "secret"})

	w := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestTokenAuth(t *testing.T) {
	e := newEnv(t, RouteConfig{Token: "secret"})

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/items", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/items", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/items", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/items?token=secret", "").Code)
}

func TestAttribute(t *testing.T) {
	e := newEnv(t, RouteConfig{})
	e.item(t, "mod-42", metadata.StatusInstalled, metadata.Text("Hello"), "Hello")
	e.item(t, "mod-7", metadata.StatusEnabled, metadata.NotFound(), "")

	w := e.do(t, http.MethodGet, "/v1/items/mod-42/attribute", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AttributeResponse](t, w)
	assert.Equal(t, "mod-42", resp.Item)
	assert.Equal(t, metadata.KindText, resp.Kind)
	assert.Equal(t, "Hello", resp.Value)
	assert.Equal(t, "Hello", resp.Display)

	w = e.do(t, http.MethodGet, "/v1/items/mod-7/attribute", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[AttributeResponse](t, w)
	assert.Equal(t, metadata.KindNotFound, resp.Kind)
	assert.Empty(t, resp.Value)
	assert.Equal(t, metadata.NotFoundDisplay, resp.Display)

	w = e.do(t, http.MethodGet, "/v1/items/nope/attribute", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode[ControlPlaneError](t, w).ErrorCode)
}

func TestItems(t *testing.T) {
	e := newEnv(t, RouteConfig{})
	e.item(t, "a", metadata.StatusInstalled, metadata.Text("x"), "x")
	e.item(t, "b", metadata.StatusDisabled, metadata.NotFound(), "")

	resp := decode[ItemsResponse](t, e.do(t, http.MethodGet, "/v1/items", ""))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "a", resp.Items[0].Item)

	resp = decode[ItemsResponse](t, e.do(t, http.MethodGet, "/v1/items?all=true", ""))
	assert.Len(t, resp.Items, 2)
}

func TestInstall(t *testing.T) {
	e := newEnv(t, RouteConfig{})

	w := e.do(t, http.MethodPost, "/v1/items/mod-1/install", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, InstallResponse{Item: "mod-1", Started: true}, decode[InstallResponse](t, w))

	w = e.do(t, http.MethodPost, "/v1/items/mod-1/install", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, decode[InstallResponse](t, w).Started)

	resp := decode[AttributeResponse](t, e.do(t, http.MethodGet, "/v1/items/mod-1/attribute", ""))
	assert.Equal(t, metadata.StatusInstalling, resp.Status)
	assert.Equal(t, metadata.KindNotFound, resp.Kind)

	list := decode[ItemsResponse](t, e.do(t, http.MethodGet, "/v1/items", ""))
	assert.Equal(t, []string{"mod-1"}, list.InFlight)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/v1/items/%20/install", "").Code)
}

func TestSetStatus(t *testing.T) {
	e := newEnv(t, RouteConfig{})
	e.item(t, "a", metadata.StatusInstalled, metadata.NotFound(), "")

	w := e.do(t, http.MethodPut, "/v1/items/a/status", `{"status":"disabled"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, metadata.StatusDisabled, decode[metadata.Item](t, w).Status)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/v1/items/a/status", `{"status":"bogus"}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/v1/items/a/status", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, "/v1/items/zz/status", `{"status":"enabled"}`).Code)
}

func TestValidate(t *testing.T) {
	e := newEnv(t, RouteConfig{})
	e.item(t, "mod-7", metadata.StatusInstalled, metadata.NotFound(), "")

	w := e.do(t, http.MethodGet, "/v1/validate", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNoReport, decode[ControlPlaneError](t, w).ErrorCode)

	w = e.do(t, http.MethodPost, "/v1/validate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[validate.Report](t, w).OK)

	require.NoError(t, os.WriteFile(filepath.Join(e.root, "mod-7", "notes.txt"), []byte("X"), 0o644))

	w = e.do(t, http.MethodPost, "/v1/validate", "")
	require.Equal(t, http.StatusConflict, w.Code)
	r := decode[validate.Report](t, w)
	assert.False(t, r.OK)
	assert.Equal(t, validate.CodeMismatch, r.Code)
	assert.Equal(t, "mod-7", r.ItemID)
	assert.Contains(t, r.Error, `item "mod-7"`)

	w = e.do(t, http.MethodGet, "/v1/validate", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, RouteConfig{RateLimit: 2})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, e.do(t, http.MethodGet, "/healthz", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_StartStop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := metadata.NewMemoryStore()
	a := agent.New(store, blockingSyncer{}, validate.New(layout.New(layout.StaticRoot(t.TempDir())), store))
	t.Cleanup(a.Close)

	srv := New(&Config{Addr: "127.0.0.1:0"}, a)
	done := make(chan error, 1)
	go func() { done <- srv.Start(t.Context()) }()

	require.Eventually(t, func() bool { return srv.Addr() != "127.0.0.1:0" }, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(t.Context()))
	require.NoError(t, <-done)
}

func TestSecureHeaders(t *testing.T) {
	e := newEnv(t, RouteConfig{})

	w := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestStatus(t *testing.T) {
	e := newEnv(t, RouteConfig{})
	_, err := e.agent.InstallStarted(t.Context(), "mod-1")
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatusResponse](t, w)
	assert.Equal(t, []string{"mod-1"}, resp.InFlight)
	assert.NotEmpty(t, resp.Version)
	assert.False(t, resp.Started.IsZero())
	if assert.NotNil(t, resp.Process) {
		assert.Positive(t, resp.Process.PID)
		assert.Positive(t, resp.Process.NumGoroutines)
	}
}
