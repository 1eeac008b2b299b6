package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
	"go.uber.org/zap"
)

var ErrReadRetriesExceeded = errors.New("read retries exceeded")

// IsFatal reports whether the engine cannot recover from err by ticking again.
func IsFatal(err error) bool {
	return domain.IsConfigError(err) || errors.Is(err, ErrReadRetriesExceeded)
}

type Settings struct {
	Batteries       []BatterySource
	NrOfBatteries   int
	CellsPerBattery int

	BalancingVoltage        float64
	BalancingRepetitionDays int
	// normal charge voltage per cell, January to December
	ChargeVoltageList []float64

	MaxCellVoltage    float64
	MinCellVoltage    float64
	MinCellHysteresis float64
	CellDiffMax       float64

	BatteryEfficiency   float64
	ChargeSavePrecision float64

	MaxChargeCurrent    float64
	MaxDischargeCurrent float64
	ChargeCurve         Curve
	DischargeCurve      Curve

	OwnSoC                 bool
	OwnChargeParameters    bool
	ZeroSoC                bool
	KeepMaxCVL             bool
	MaxCellVoltageSoCFull  float64
	MinCellVoltageSoCEmpty float64

	ReadTrials          int
	PublishCellVoltages bool

	External *ExternalCurrentSources
	// bus source holding the PV feed-in setting
	SettingsSource string
}

// DefaultChargeCurve limits the charge current when the first cell gets full.
func DefaultChargeCurve(minCell, balancing, maxCell float64) Curve {
	return Curve{
		X: []float64{minCell, minCell + 0.05, balancing - 0.1, balancing, maxCell},
		Y: []float64{0.2, 1, 1, 0.05, 0},
	}
}

// DefaultDischargeCurve limits the discharge current when the first cell gets
// empty.
func DefaultDischargeCurve(minCell float64) Curve {
	return Curve{
		X: []float64{minCell, minCell + 0.1, minCell + 0.2},
		Y: []float64{0, 0.05, 1},
	}
}

type Engine struct {
	settings    Settings
	aggregator  *Aggregator
	counter     *CoulombCounter
	saver       *ChargeSaver
	balancing   *BalancingMachine
	overvoltage *OvervoltageMachine
	limits      *LimitSynthesizer
	store       port.Persistence
	publisher   port.Publisher
	logger      *zap.Logger

	seedCharge   bool
	readFailures int
	last         *domain.TickResult
}

var _ port.AggregationEngine = (*Engine)(nil)

func NewEngine(settings Settings, cache port.ReadCache, store port.Persistence, publisher port.Publisher, logger *zap.Logger) (*Engine, error) {
	if len(settings.Batteries) == 0 {
		return nil, domain.ConfigError{Reason: "no batteries configured"}
	}
	if settings.NrOfBatteries != len(settings.Batteries) {
		return nil, domain.ConfigError{Reason: fmt.Sprintf("%d batteries expected, %d configured", settings.NrOfBatteries, len(settings.Batteries))}
	}
	if len(settings.ChargeVoltageList) != 12 {
		return nil, domain.ConfigError{Reason: "charge voltage list must have one entry per month"}
	}
	if settings.ReadTrials < 1 {
		settings.ReadTrials = 1
	}
	if len(settings.ChargeCurve.X) == 0 {
		settings.ChargeCurve = DefaultChargeCurve(settings.MinCellVoltage, settings.BalancingVoltage, settings.MaxCellVoltage)
	}
	if len(settings.DischargeCurve.X) == 0 {
		settings.DischargeCurve = DefaultDischargeCurve(settings.MinCellVoltage)
	}
	chargeCurve, err := NewCurve(settings.ChargeCurve.X, settings.ChargeCurve.Y)
	if err != nil {
		return nil, fmt.Errorf("charge curve: %w", err)
	}
	dischargeCurve, err := NewCurve(settings.DischargeCurve.X, settings.DischargeCurve.Y)
	if err != nil {
		return nil, fmt.Errorf("discharge curve: %w", err)
	}

	return &Engine{
		settings: settings,
		aggregator: &Aggregator{
			Batteries:           settings.Batteries,
			CellsPerBattery:     settings.CellsPerBattery,
			OwnSoC:              settings.OwnSoC,
			OwnChargeParameters: settings.OwnChargeParameters,
			ReadCellVoltages:    settings.PublishCellVoltages,
			MaxCellVoltage:      settings.MaxCellVoltage,
			External:            settings.External,
			Cache:               cache,
			Logger:              logger,
		},
		counter: NewCoulombCounter(settings.BatteryEfficiency, 0),
		saver:   &ChargeSaver{Precision: settings.ChargeSavePrecision},
		balancing: &BalancingMachine{
			RepetitionDays: settings.BalancingRepetitionDays,
			CellDiffMax:    settings.CellDiffMax,
			Logger:         logger,
		},
		overvoltage: &OvervoltageMachine{
			MaxCellVoltage: settings.MaxCellVoltage,
			CellDiffMax:    settings.CellDiffMax,
			FeedIn:         CacheFeedIn{Cache: cache, Source: settings.SettingsSource},
			Logger:         logger,
		},
		limits: &LimitSynthesizer{
			MaxChargeCurrent:    settings.MaxChargeCurrent,
			MaxDischargeCurrent: settings.MaxDischargeCurrent,
			ChargeCurve:         chargeCurve,
			DischargeCurve:      dischargeCurve,
			MinCellVoltage:      settings.MinCellVoltage,
			MinCellHysteresis:   settings.MinCellHysteresis,
			KeepMaxCVL:          settings.KeepMaxCVL,
			NrOfBatteries:       settings.NrOfBatteries,
		},
		store:     store,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Load restores the persisted charge and last balancing day. Values that were
// never stored fall back to defaults, any other failure is fatal.
func (e *Engine) Load(now time.Time) error {
	charge, err := e.store.LoadCharge()
	switch {
	case errors.Is(err, domain.ErrNotStored):
		e.logger.Info("no stored charge, it will be estimated from the BMS SoC")
		e.seedCharge = true
	case err != nil:
		return fmt.Errorf("could not load stored charge: %w", err)
	case charge < 0:
		e.logger.Info("stored charge is negative, it will be estimated from the BMS SoC")
		e.seedCharge = true
	default:
		e.logger.Info("stored charge loaded", zap.Float64("charge", charge))
		e.counter.SetCharge(charge)
		e.saver.Saved(charge)
	}

	day, err := e.store.LoadLastBalancingDay()
	switch {
	case errors.Is(err, domain.ErrNotStored):
		e.logger.Info("no stored last balancing day")
		day = 0
	case err != nil:
		return fmt.Errorf("could not load last balancing day: %w", err)
	}
	e.balancing.LastBalancingDay = day
	e.logger.Info("last balancing day loaded",
		zap.Int("day", day), zap.Int("days_since", DaysSince(now.YearDay(), day)))
	return nil
}

// Tick reads all sources, runs the counter and the state machines and
// publishes the result. A failed read leaves the previous output in place.
func (e *Engine) Tick(now time.Time) (*domain.TickResult, error) {
	agg, err := e.aggregator.Read()
	if err != nil {
		return nil, e.readFailed(err)
	}
	if e.seedCharge {
		if err := e.seed(agg); err != nil {
			return nil, e.readFailed(err)
		}
	}
	e.readFailures = 0

	charge := e.counter.Advance(agg.Current, agg.InstalledCapacity, now)

	var out domain.ControlOutput
	if e.settings.OwnChargeParameters {
		out = e.ownParameters(agg, now)
	} else {
		out, err = e.limits.FromSources(agg)
		if err != nil {
			return nil, err
		}
		if e.settings.OwnSoC {
			if agg.MaxCellVoltage >= e.settings.MaxCellVoltageSoCFull {
				e.counter.ResetFull(agg.InstalledCapacity)
			}
			if agg.MinCellVoltage <= e.settings.MinCellVoltageSoCEmpty && e.settings.ZeroSoC {
				e.counter.ResetEmpty()
			}
		}
	}
	charge = e.counter.Charge()

	if e.saver.Due(charge, agg.InstalledCapacity) {
		if err := e.store.SaveCharge(charge); err != nil {
			e.logger.Error("could not save charge", zap.Error(err))
		} else {
			e.saver.Saved(charge)
		}
	}

	if e.settings.OwnSoC {
		soc := SoC(charge, agg.InstalledCapacity)
		consumed := agg.InstalledCapacity - charge
		agg.Soc = &soc
		agg.Capacity = &charge
		agg.ConsumedAmphours = &consumed
		agg.TimeToGo = TimeToGo(charge, agg.Current)
	}

	if e.last == nil || !e.last.Output.SameLimits(out) {
		e.logger.Info("charge limits changed",
			zap.Float64("cvl", roundTo(out.MaxChargeVoltage, 2)),
			zap.Float64("ccl", roundTo(out.MaxChargeCurrent, 1)),
			zap.Float64("dcl", roundTo(out.MaxDischargeCurrent, 1)))
	}

	result := domain.TickResult{
		Time:      now,
		Aggregate: agg,
		Output:    out,
	}
	result.State = e.state(out)

	if err := e.publisher.Publish(result); err != nil {
		return nil, fmt.Errorf("could not publish tick result: %w", err)
	}
	e.last = &result
	return &result, nil
}

func (e *Engine) ownParameters(agg domain.AggregateReading, now time.Time) domain.ControlOutput {
	cells := float64(e.settings.CellsPerBattery)
	normalCVL := cells * e.settings.ChargeVoltageList[int(now.Month())-1]
	balancingCVL := cells * e.settings.BalancingVoltage

	bal := e.balancing.Step(BalancingInput{
		Voltage:      agg.Voltage,
		CellSpread:   agg.CellSpread(),
		NormalCVL:    normalCVL,
		BalancingCVL: balancingCVL,
		DayOfYear:    now.YearDay(),
	})
	if bal.BalancingDone {
		if err := e.store.SaveLastBalancingDay(e.balancing.LastBalancingDay); err != nil {
			e.logger.Error("could not save last balancing day", zap.Error(err))
		}
	}

	if agg.Voltage >= balancingCVL {
		e.counter.ResetFull(agg.InstalledCapacity)
	}

	cvl, err := e.overvoltage.Step(OvervoltageInput{
		MaxCellVoltage:        agg.MaxCellVoltage,
		MaxCellId:             agg.MaxCellId,
		CellSpread:            agg.CellSpread(),
		ChargeVoltage:         bal.ChargeVoltage,
		ReducedChargeVoltages: agg.ReducedChargeVoltages,
	})
	if err != nil {
		e.logger.Error("PV feed-in control failed, retrying on next tick", zap.Error(err))
	}

	if agg.MinCellVoltage <= e.settings.MinCellVoltage && e.settings.ZeroSoC {
		e.counter.ResetEmpty()
	}

	return e.limits.Own(agg, cvl)
}

func (e *Engine) seed(agg domain.AggregateReading) error {
	if agg.Soc == nil {
		return domain.ReadError{Step: "estimate charge from BMS SoC"}
	}
	charge := clamp(*agg.Soc*agg.InstalledCapacity/100, 0, agg.InstalledCapacity)
	e.counter.SetCharge(charge)
	e.seedCharge = false
	e.logger.Info("charge estimated from BMS SoC", zap.Float64("charge", charge), zap.Float64("soc", *agg.Soc))
	if err := e.store.SaveCharge(charge); err != nil {
		e.logger.Error("could not save charge", zap.Error(err))
	} else {
		e.saver.Saved(charge)
	}
	return nil
}

func (e *Engine) readFailed(err error) error {
	if !domain.IsReadError(err) {
		return err
	}
	e.readFailures++
	e.logger.Warn("read failed",
		zap.Error(err), zap.Int("failures", e.readFailures), zap.Int("max", e.settings.ReadTrials))
	if e.readFailures >= e.settings.ReadTrials {
		return fmt.Errorf("%w (%d trials), last error: %v", ErrReadRetriesExceeded, e.readFailures, err)
	}
	return err
}

func (e *Engine) state(out domain.ControlOutput) domain.EngineState {
	return domain.EngineState{
		OwnCharge:         e.counter.Charge(),
		LastBalancingDay:  e.balancing.LastBalancingDay,
		BalancingPhase:    e.balancing.Phase,
		DynamicCVLActive:  e.overvoltage.Reducing,
		PVFeedInSuspended: e.overvoltage.Suspended,
		FullyDischarged:   e.limits.FullyDischarged(),
		LastLimits:        out,
		ReadFailures:      e.readFailures,
		MultiConnected:    e.aggregator.MultiConnected(),
	}
}

func (e *Engine) State() domain.EngineState {
	if e.last != nil {
		return e.state(e.last.Output)
	}
	return e.state(domain.ControlOutput{})
}

func (e *Engine) ReadFailures() int {
	return e.readFailures
}

// Last returns the last published result, nil before the first one.
func (e *Engine) Last() *domain.TickResult {
	return e.last
}
