package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ladder_bot/internal/modules/health/service"
	keeper "ladder_bot/internal/modules/keeper/service"
	"ladder_bot/internal/recovery"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAdmin struct {
	reloadErr error
	reloads   int
	recovers  int
}

func (f *fakeAdmin) Reload(context.Context) (int, error) {
	f.reloads++
	return 3, f.reloadErr
}

func (f *fakeAdmin) Recover(context.Context) (recovery.Report, error) {
	f.recovers++
	return recovery.Report{Gaps: recovery.Gaps{Expected: 2, Actual: 1}, Recovered: 1}, nil
}

func (f *fakeAdmin) Status() keeper.Status { return keeper.Status{Monitors: 5} }

func serve(t *testing.T, mux *http.ServeMux, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func newMux(t *testing.T, admin Admin) (*http.ServeMux, *service.State) {
	state := service.NewState()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "ladder_test_total", Help: "t"}))
	return NewMux(Config{StaleAfter: time.Minute}, state, admin, reg, zaptest.NewLogger(t)), state
}

func TestProbes(t *testing.T) {
	mux, state := newMux(t, &fakeAdmin{})

	rec, _ := serve(t, mux, http.MethodGet, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, mux, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	state.SetReady(true)
	rec, body := serve(t, mux, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "ready but no cycle yet")
	assert.Equal(t, true, body["stale"])

	state.TouchCycle(time.Now(), 4)
	state.SetWSConnected(true)
	rec, body = serve(t, mux, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["monitors"])
	assert.Equal(t, true, body["wsConnected"])

	rec, _ = serve(t, mux, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ladder_test_total")
}

func TestAdminEndpoints(t *testing.T) {
	admin := &fakeAdmin{}
	mux, _ := newMux(t, admin)

	rec, body := serve(t, mux, http.MethodPost, "/admin/reload")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["added"])

	rec, _ = serve(t, mux, http.MethodGet, "/admin/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 1, admin.reloads)

	rec, body = serve(t, mux, http.MethodPost, "/admin/recover")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["missing"])
	assert.Equal(t, float64(1), body["recovered"])

	rec, body = serve(t, mux, http.MethodGet, "/admin/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), body["monitors"])

	admin.reloadErr = errors.New("no snapshot")
	rec, body = serve(t, mux, http.MethodPost, "/admin/reload")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no snapshot", body["error"])
}
