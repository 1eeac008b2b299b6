package service

import (
	"math"
	"time"
)

// CoulombCounter integrates current over time into a charge estimate (Ah).
type CoulombCounter struct {
	Efficiency float64

	charge   float64
	lastTick time.Time
}

func NewCoulombCounter(efficiency float64, charge float64) *CoulombCounter {
	return &CoulombCounter{
		Efficiency: efficiency,
		charge:     charge,
	}
}

// Advance adds current*elapsed to the charge. Charging current is weighted by
// the battery efficiency. The result is clamped to [0, installedCapacity].
// The first call only records the timestamp.
func (c *CoulombCounter) Advance(current, installedCapacity float64, now time.Time) float64 {
	var elapsed float64
	if !c.lastTick.IsZero() {
		elapsed = now.Sub(c.lastTick).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
	}
	c.lastTick = now

	if current > 0 {
		c.charge += current * elapsed / 3600 * c.Efficiency
	} else {
		c.charge += current * elapsed / 3600
	}
	c.charge = clamp(c.charge, 0, installedCapacity)
	return c.charge
}

func (c *CoulombCounter) Charge() float64 {
	return c.charge
}

func (c *CoulombCounter) SetCharge(charge float64) {
	c.charge = charge
}

func (c *CoulombCounter) ResetFull(installedCapacity float64) {
	c.charge = installedCapacity
}

func (c *CoulombCounter) ResetEmpty() {
	c.charge = 0
}

func SoC(charge, installedCapacity float64) float64 {
	if installedCapacity <= 0 {
		return 0
	}
	return 100 * charge / installedCapacity
}

// TimeToGo in seconds, only defined while discharging.
func TimeToGo(charge, current float64) *float64 {
	if current >= 0 {
		return nil
	}
	ttg := -3600 * charge / current
	return &ttg
}

// ChargeSaver persists the charge only when it drifted by at least
// precision*installedCapacity since the last save.
type ChargeSaver struct {
	Precision float64

	lastSaved float64
}

func (s *ChargeSaver) Due(charge, installedCapacity float64) bool {
	return math.Abs(charge-s.lastSaved) >= s.Precision*installedCapacity
}

func (s *ChargeSaver) Saved(charge float64) {
	s.lastSaved = charge
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
