package actor

import (
	"sync"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
)

// fakeEngine returns the queued tick errors in order, then succeeds.
type fakeEngine struct {
	mu        sync.Mutex
	loadErr   error
	errs      []error
	ticks     int
	state     domain.EngineState
	last      *domain.TickResult
	publisher port.Publisher
}

var _ port.AggregationEngine = (*fakeEngine)(nil)

func (e *fakeEngine) Load(now time.Time) error {
	return e.loadErr
}

func (e *fakeEngine) Tick(now time.Time) (*domain.TickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		e.state.ReadFailures++
		return nil, err
	}
	e.state.ReadFailures = 0
	e.state.OwnCharge = 250
	res := &domain.TickResult{
		Time:   now,
		Output: domain.ControlOutput{MaxChargeVoltage: 53.9, MaxChargeCurrent: 150, MaxDischargeCurrent: 200},
		State:  e.state,
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(*res); err != nil {
			return nil, err
		}
	}
	e.last = res
	return res, nil
}

func (e *fakeEngine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) Last() *domain.TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *fakeEngine) Ticks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}
