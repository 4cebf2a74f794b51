package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/device/devicetest"
	"github.com/danmuck/ionpump/internal/guard"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/danmuck/ionpump/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, r devicetest.Responder) *Server {
	t.Helper()
	return newTestServerWithConfig(t, r, DefaultConfig())
}

func newTestServerWithConfig(t *testing.T, r devicetest.Responder, httpCfg Config) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := device.DefaultConfig()
	cfg.QueryTimeout = 50 * time.Millisecond
	opener := devicetest.NewOpener(func(string) *devicetest.Transport {
		return devicetest.NewTransport(r)
	})
	s := device.NewSession(cfg, opener.Open)
	t.Cleanup(func() { _ = s.Disconnect() })
	return New(rpc.NewNamespace(guard.New(s)), httpCfg)
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	srv := newTestServer(t, devicetest.Silent())

	code, body := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ionpump_http_requests_total")
}

func TestReadyTracksConnection(t *testing.T) {
	testlog.Start(t)
	srv := newTestServer(t, devicetest.Pump(1, devicetest.DefaultReplies()))

	code, body := do(t, srv, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, false, body["ready"])

	code, body = do(t, srv, http.MethodPost, "/pump/connect", `{"port":"/dev/ttyUSB0"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Connected to /dev/ttyUSB0", body["message"])

	code, body = do(t, srv, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ready"])

	code, body = do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "connected", body["state"])
	require.Equal(t, "/dev/ttyUSB0", body["port"])
}

func TestPumpReadingsAndCommands(t *testing.T) {
	testlog.Start(t)
	srv := newTestServer(t, devicetest.Pump(1, devicetest.DefaultReplies()))
	code, _ := do(t, srv, http.MethodPost, "/pump/connect", `{"port":"COM3"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, srv, http.MethodGet, "/pump/pressure", "")
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 1.23e-5, body["value"], 1e-12)

	code, body = do(t, srv, http.MethodGet, "/pump/voltage", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5000.0, body["value"])

	code, body = do(t, srv, http.MethodGet, "/pump/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "RUNNING", body["status"])

	code, body = do(t, srv, http.MethodPost, "/pump/on", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body["reply"])

	code, _ = do(t, srv, http.MethodPost, "/pump/disconnect", "")
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, srv, http.MethodGet, "/pump/current", "")
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(rpc.KindNotConnected), body["kind"])
}

func TestPumpAddressValidation(t *testing.T) {
	testlog.Start(t)
	srv := newTestServer(t, devicetest.Silent())

	code, body := do(t, srv, http.MethodPost, "/pump/address", `{"address":100}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(rpc.KindValidation), body["kind"])

	code, _ = do(t, srv, http.MethodPost, "/pump/address", `{}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, srv, http.MethodPost, "/pump/address", `{"address":0}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0.0, body["address"])

	code, body = do(t, srv, http.MethodGet, "/pump/address", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0.0, body["address"])
}

func TestDeviceTimeoutMapsToGatewayTimeout(t *testing.T) {
	testlog.Start(t)
	srv := newTestServer(t, devicetest.Silent())
	code, _ := do(t, srv, http.MethodPost, "/pump/connect", `{"port":"COM3"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, srv, http.MethodGet, "/pump/pressure", "")
	require.Equal(t, http.StatusGatewayTimeout, code)
	require.Equal(t, string(rpc.KindCommunication), body["kind"])
}

func TestStatusForKind(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, http.StatusBadRequest, StatusForKind(rpc.KindValidation))
	require.Equal(t, http.StatusConflict, StatusForKind(rpc.KindNotConnected))
	require.Equal(t, http.StatusBadGateway, StatusForKind(rpc.KindProtocol))
	require.Equal(t, http.StatusInternalServerError, StatusForKind(rpc.KindInternal))
}

func TestAPITokenGuardsControlRoutes(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.APIToken = "s3cret"
	srv := newTestServerWithConfig(t, devicetest.Pump(1, devicetest.DefaultReplies()), cfg)

	code, _ := do(t, srv, http.MethodPost, "/pump/connect", `{"port":"COM3"}`)
	require.Equal(t, http.StatusUnauthorized, code)

	// reads stay open
	code, body := do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "disconnected", body["state"])

	req := httptest.NewRequest(http.MethodPost, "/pump/connect", strings.NewReader(`{"port":"COM3"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	code, body = do(t, srv, http.MethodGet, "/pump/pressure", "")
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 1.23e-5, body["value"], 1e-12)
}

func TestReadyAnswersWhileExchangeHoldsGuard(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	opener := devicetest.NewOpener(func(string) *devicetest.Transport {
		return devicetest.NewTransport(devicetest.Pump(1, devicetest.DefaultReplies()))
	})
	s := device.NewSession(device.DefaultConfig(), opener.Open)
	t.Cleanup(func() { _ = s.Disconnect() })
	m := guard.New(s)
	srv := New(rpc.NewNamespace(m), DefaultConfig())

	code, _ := do(t, srv, http.MethodPost, "/pump/connect", `{"port":"COM3"}`)
	require.Equal(t, http.StatusOK, code)

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	start := time.Now()
	code, body := do(t, srv, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ready"])
	code, body = do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "COM3", body["port"])
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
