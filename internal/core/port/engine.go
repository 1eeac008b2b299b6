package port

import (
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
)

type AggregationEngine interface {
	Load(now time.Time) error
	Tick(now time.Time) (*domain.TickResult, error)
	State() domain.EngineState
	Last() *domain.TickResult
}
