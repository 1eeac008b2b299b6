package service

import (
	"fmt"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
	"go.uber.org/zap"
)

const (
	FEED_IN_SETTING_PATH = "/Settings/CGwacs/OvervoltageFeedIn"
)

// FeedInControl reads and writes the DC-coupled PV feed-in setting owned by
// the inverter system.
type FeedInControl interface {
	FeedIn() (float64, bool)
	SetFeedIn(value float64) error
}

// CacheFeedIn reaches the feed-in setting through the bus read cache.
type CacheFeedIn struct {
	Cache  port.ReadCache
	Source string
}

func (f CacheFeedIn) FeedIn() (float64, bool) {
	v, ok := f.Cache.Get(f.Source, FEED_IN_SETTING_PATH)
	if !ok {
		return 0, false
	}
	return domain.AsFloat(v)
}

func (f CacheFeedIn) SetFeedIn(value float64) error {
	return f.Cache.Set(f.Source, FEED_IN_SETTING_PATH, value)
}

type OvervoltageInput struct {
	MaxCellVoltage        float64
	MaxCellId             domain.CellRef
	CellSpread            float64
	ChargeVoltage         float64
	ReducedChargeVoltages []float64
}

// OvervoltageMachine clamps the charge voltage as soon as one cell reaches
// MaxCellVoltage and keeps PV feed-in suspended while it does.
type OvervoltageMachine struct {
	MaxCellVoltage float64
	CellDiffMax    float64
	FeedIn         FeedInControl
	Logger         *zap.Logger

	Reducing       bool
	Suspended      bool
	savedFeedIn    float64
	restorePending bool
}

// Step returns the charge voltage to publish.
func (m *OvervoltageMachine) Step(in OvervoltageInput) (float64, error) {
	if in.MaxCellVoltage >= m.MaxCellVoltage {
		if !m.Reducing {
			m.Reducing = true
			m.Logger.Info("dynamic CVL reduction started",
				zap.String("cell", in.MaxCellId.String()), zap.Float64("max_cell_voltage", in.MaxCellVoltage))
		}
		var err error
		if !m.Suspended {
			err = m.suspendFeedIn()
		}
		return m.reducedVoltage(in), err
	}

	if m.Reducing {
		m.Reducing = false
		m.restorePending = m.Suspended
		m.Logger.Info("dynamic CVL reduction finished")
	}
	if m.restorePending && in.CellSpread < m.CellDiffMax {
		if err := m.restoreFeedIn(); err != nil {
			return in.ChargeVoltage, err
		}
	}
	return in.ChargeVoltage, nil
}

func (m *OvervoltageMachine) reducedVoltage(in OvervoltageInput) float64 {
	v := in.ChargeVoltage
	for _, r := range in.ReducedChargeVoltages {
		if r < v {
			v = r
		}
	}
	return v
}

func (m *OvervoltageMachine) suspendFeedIn() error {
	current, ok := m.FeedIn.FeedIn()
	if !ok {
		m.Logger.Warn("PV feed-in setting unavailable, it will stay disabled after reduction")
		current = 0
	}
	if err := m.FeedIn.SetFeedIn(0); err != nil {
		return fmt.Errorf("could not disable PV feed-in: %w", err)
	}
	m.savedFeedIn = current
	m.Suspended = true
	if current == 0 {
		m.Logger.Info("DC-coupled PV feed-in was not active")
	} else {
		m.Logger.Info("DC-coupled PV feed-in de-activated")
	}
	return nil
}

func (m *OvervoltageMachine) restoreFeedIn() error {
	if err := m.FeedIn.SetFeedIn(m.savedFeedIn); err != nil {
		return fmt.Errorf("could not restore PV feed-in: %w", err)
	}
	if m.savedFeedIn != 0 {
		m.Logger.Info("DC-coupled PV feed-in re-activated")
	} else {
		m.Logger.Info("DC-coupled PV feed-in was not active before and was not activated")
	}
	m.Suspended = false
	m.restorePending = false
	m.savedFeedIn = 0
	return nil
}
