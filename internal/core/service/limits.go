package service

import (
	"strings"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
)

// LimitSynthesizer turns the virtual battery into charge/discharge current
// limits.
type LimitSynthesizer struct {
	MaxChargeCurrent    float64
	MaxDischargeCurrent float64
	ChargeCurve         Curve
	DischargeCurve      Curve
	MinCellVoltage      float64
	MinCellHysteresis   float64
	KeepMaxCVL          bool
	NrOfBatteries       int

	fullyDischarged bool
}

// ChargeCurrent limits the charge current by the highest cell voltage.
func (s *LimitSynthesizer) ChargeCurrent(agg domain.AggregateReading) float64 {
	if agg.NrOfModulesBlockingCharge > 0 {
		return 0
	}
	return s.MaxChargeCurrent * s.ChargeCurve.Interpolate(agg.MaxCellVoltage)
}

// DischargeCurrent limits the discharge current by the lowest cell voltage.
// Once the lowest cell reaches MinCellVoltage discharging stays blocked until
// it recovers above MinCellVoltage+MinCellHysteresis.
func (s *LimitSynthesizer) DischargeCurrent(agg domain.AggregateReading) float64 {
	if agg.MinCellVoltage <= s.MinCellVoltage {
		s.fullyDischarged = true
	} else if agg.MinCellVoltage > s.MinCellVoltage+s.MinCellHysteresis {
		s.fullyDischarged = false
	}

	if s.fullyDischarged || agg.NrOfModulesBlockingDischarge > 0 {
		return 0
	}
	return s.MaxDischargeCurrent * s.DischargeCurve.Interpolate(agg.MinCellVoltage)
}

func (s *LimitSynthesizer) FullyDischarged() bool {
	return s.fullyDischarged
}

// Own builds the output from the computed charge voltage and the current
// curves.
func (s *LimitSynthesizer) Own(agg domain.AggregateReading, chargeVoltage float64) domain.ControlOutput {
	return s.withAllowTo(agg, domain.ControlOutput{
		MaxChargeVoltage:    chargeVoltage,
		MaxChargeCurrent:    s.ChargeCurrent(agg),
		MaxDischargeCurrent: s.DischargeCurrent(agg),
	})
}

// FromSources reduces the limits published by the batteries themselves. The
// most restrictive value wins, except for the charge voltage in KeepMaxCVL
// mode, where the highest one is kept until every battery reports float.
func (s *LimitSynthesizer) FromSources(agg domain.AggregateReading) (domain.ControlOutput, error) {
	if len(agg.SourceLimits) == 0 {
		return domain.ControlOutput{}, domain.ConfigError{Reason: "no charge limits read from the batteries"}
	}

	first := agg.SourceLimits[0]
	minCVL, maxCVL := first.MaxChargeVoltage, first.MaxChargeVoltage
	ccl, dcl := first.MaxChargeCurrent, first.MaxDischargeCurrent
	allFloat := true
	for _, l := range agg.SourceLimits {
		minCVL = min(minCVL, l.MaxChargeVoltage)
		maxCVL = max(maxCVL, l.MaxChargeVoltage)
		ccl = min(ccl, l.MaxChargeCurrent)
		dcl = min(dcl, l.MaxDischargeCurrent)
		if !strings.Contains(l.ChargeMode, "Float") {
			allFloat = false
		}
	}

	cvl := minCVL
	if s.KeepMaxCVL && !allFloat {
		cvl = maxCVL
	}
	n := float64(s.NrOfBatteries)
	return s.withAllowTo(agg, domain.ControlOutput{
		MaxChargeVoltage:    cvl,
		MaxChargeCurrent:    ccl * n,
		MaxDischargeCurrent: dcl * n,
	}), nil
}

func (s *LimitSynthesizer) withAllowTo(agg domain.AggregateReading, out domain.ControlOutput) domain.ControlOutput {
	out.AllowToCharge = agg.AllowToCharge
	out.AllowToDischarge = agg.AllowToDischarge
	out.AllowToBalance = agg.AllowToBalance
	return out
}
