package server

import (
	"net/http"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/state", s.StateHandler)
	if s.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type stateView struct {
	Last         *domain.TickResult `json:"last,omitempty"`
	State        domain.EngineState `json:"state"`
	ReadFailures int                `json:"read_failures"`
	Error        string             `json:"error,omitempty"`
}

// StateHandler returns the last published tick and the engine state.
func (s *Server) StateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetAggregatorStateRequest{}, 5*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, stateView{Error: err.Error()})
	}
	response, ok := res.(domain.GetAggregatorStateResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, stateView{Error: "unexpected response"})
	}
	view := stateView{
		Last:         response.Last,
		State:        response.State,
		ReadFailures: response.ReadFailures,
	}
	if response.ResponseError != nil {
		view.Error = response.ResponseError.Error()
		return c.JSON(http.StatusServiceUnavailable, view)
	}
	if response.Last == nil {
		return c.JSON(http.StatusAccepted, view)
	}
	return c.JSON(http.StatusOK, view)
}
