package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/infrastructure/metrics"
	"github.com/microlearn/gamification-engine/internal/infrastructure/scheduler"
	"github.com/microlearn/gamification-engine/internal/interface/http/handlers"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth_AllChecksPass(t *testing.T) {
	hc := handlers.NewCompositeHealthChecker("test")
	hc.AddCheck("postgres", handlers.NewPingCheck(pingerFunc(func(context.Context) error { return nil })))
	s := NewServer(DefaultConfig(), Dependencies{Health: hc})

	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "test", status.Version)
}

func TestHealth_RequiredFailureIsUnavailable(t *testing.T) {
	hc := handlers.NewCompositeHealthChecker("test")
	hc.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	hc.AddOptionalCheck("directory", func(context.Context) error { return errors.New("breaker open") })
	s := NewServer(DefaultConfig(), Dependencies{Health: hc})

	rec := serve(t, s, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.Equal(t, "breaker open", status.Checks["directory"].Message)
}

func TestHealth_OptionalFailureStaysHealthy(t *testing.T) {
	hc := handlers.NewCompositeHealthChecker("test")
	hc.AddOptionalCheck("directory", func(context.Context) error { return errors.New("breaker open") })

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.False(t, status.Checks["directory"].Healthy)
	assert.True(t, status.Checks["directory"].Optional)
}

func TestHealth_CheckTimeout(t *testing.T) {
	hc := handlers.NewCompositeHealthChecker("test")
	hc.SetTimeout(20 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestLive(t *testing.T) {
	rec := serve(t, NewServer(DefaultConfig(), Dependencies{}), "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.XPAwarded(50)
	s := NewServer(DefaultConfig(), Dependencies{Metrics: m.Handler()})

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xp_awarded")

	assert.Equal(t, http.StatusNotFound, serve(t, NewServer(DefaultConfig(), Dependencies{}), "/metrics").Code)
}

func TestJobsEndpoint(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{
		Jobs: func() []scheduler.JobInfo {
			return []scheduler.JobInfo{{
				Name:       "warm_leaderboard",
				Schedule:   "@every 1m0s",
				Enabled:    true,
				RunCount:   3,
				FailCount:  1,
				LastResult: &scheduler.JobResult{Error: errors.New("topic:algebra: timeout")},
			}}
		},
	})

	rec := serve(t, s, "/debug/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "warm_leaderboard", jobs[0].Name)
	assert.Equal(t, int64(1), jobs[0].Failures)
	assert.Equal(t, "topic:algebra: timeout", jobs[0].LastError)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{})
	s.router.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := serve(t, s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
