package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/health"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func serve(h health.Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLive(t *testing.T) {
	rec := serve(health.Handler{}, "/health/live")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReadyWithRedisAndDB(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := health.Handler{Probes: []health.Probe{health.DBProbe(stubPinger{}), health.RedisProbe(client)}}
	rec := serve(h, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, status)

	mr.Close()
	rec = serve(h, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), `"redis":"ok"`)
}

func TestReadyFailure(t *testing.T) {
	h := health.Handler{Probes: []health.Probe{health.DBProbe(stubPinger{err: errors.New("db down")})}}
	rec := serve(h, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestReadyHonoursProbeTimeout(t *testing.T) {
	slow := health.Probe{Name: "slow", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	rec := serve(health.Handler{Probes: []health.Probe{slow}}, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Probes: []health.Probe{health.DBProbe(stubPinger{})}}

	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })
	require.Equal(t, http.StatusServiceUnavailable, serve(h, "/health/ready").Code)

	health.SetReady(true)
	require.Equal(t, http.StatusOK, serve(h, "/health/ready").Code)
}
