package service

import (
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"go.uber.org/zap"
)

type BalancingInput struct {
	Voltage      float64
	CellSpread   float64
	NormalCVL    float64
	BalancingCVL float64
	DayOfYear    int
}

type BalancingResult struct {
	ChargeVoltage float64
	// LastBalancingDay changed and must be persisted
	BalancingDone bool
}

// BalancingMachine raises the charge voltage every RepetitionDays so the BMS
// balancers can equalize the cells.
type BalancingMachine struct {
	RepetitionDays int
	CellDiffMax    float64
	Logger         *zap.Logger

	Phase            domain.BalancingPhase
	LastBalancingDay int
}

// DaysSince returns the days elapsed from last to today (day of year),
// wrapping over new year.
func DaysSince(today, last int) int {
	d := today - last
	if d < 0 {
		d += 365
	}
	return d
}

func (m *BalancingMachine) Step(in BalancingInput) BalancingResult {
	res := BalancingResult{ChargeVoltage: in.NormalCVL}
	unbalanced := DaysSince(in.DayOfYear, m.LastBalancingDay)
	balanced := in.CellSpread < m.CellDiffMax

	if in.BalancingCVL <= in.NormalCVL {
		// normal charging already reaches full, just track the day
		if unbalanced > 0 && in.Voltage >= in.BalancingCVL && balanced {
			m.Logger.Info("balancing goal reached with full charging set as normal", zap.Int("day", in.DayOfYear))
			m.LastBalancingDay = in.DayOfYear
			res.BalancingDone = true
		}
		return res
	}

	if m.Phase == domain.BalancingInactive && unbalanced >= m.RepetitionDays {
		m.Phase = domain.BalancingPending
		m.Logger.Info("CVL increase for balancing activated", zap.Int("days_unbalanced", unbalanced))
	}

	if m.Phase == domain.BalancingPending {
		res.ChargeVoltage = in.BalancingCVL
		if in.Voltage >= in.BalancingCVL && balanced {
			m.Phase = domain.BalancingGoalReached
			m.Logger.Info("balancing goal reached", zap.Float64("spread", in.CellSpread))
		}
	}

	if m.Phase == domain.BalancingGoalReached {
		res.ChargeVoltage = in.BalancingCVL
		// wait until the charge above normal is consumed
		if in.Voltage <= in.NormalCVL {
			m.Phase = domain.BalancingInactive
			m.LastBalancingDay = in.DayOfYear
			res.ChargeVoltage = in.NormalCVL
			res.BalancingDone = true
			m.Logger.Info("CVL increase for balancing de-activated", zap.Int("day", in.DayOfYear))
		}
	}

	return res
}
