package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, healthy bool, last *domain.TickResult) (*Server, func()) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)

	props := actor.PropsFromFunc(func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.GetAggregatorStateRequest:
			ctx.Respond(domain.GetAggregatorStateResponse{
				Last:         last,
				State:        domain.EngineState{OwnCharge: 120.5},
				ReadFailures: 0,
			})
		}
	})
	pid := as.Root.Spawn(props)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	s := &Server{
		rootContext: as.Root,
		masterActor: pid,
		registry:    registry,
	}
	return s, func() {
		as.Root.Stop(pid)
		as.Shutdown()
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {

	s, stop := newTestServer(t, true, nil)
	defer stop()
	rec := get(t, s, "/healthcheck")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	s, stop2 := newTestServer(t, false, nil)
	defer stop2()
	rec = get(t, s, "/healthcheck")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStateHandler(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	s, stop := newTestServer(t, true, nil)
	defer stop()
	rec := get(t, s, "/api/state")
	assert.Equal(http.StatusAccepted, rec.Code, "no tick yet")

	last := &domain.TickResult{Time: time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)}
	s, stop2 := newTestServer(t, true, last)
	defer stop2()
	rec = get(t, s, "/api/state")
	require.Equal(http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Contains(view, "last")
	assert.Equal(120.5, view["state"].(map[string]any)["OwnCharge"])
}

func TestMetricsEndpoint(t *testing.T) {

	s, stop := newTestServer(t, true, nil)
	defer stop()
	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total 1")
}
