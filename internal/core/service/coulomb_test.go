package service

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoulombChargingWithEfficiency(t *testing.T) {

	assert := assert.New(t)

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoulombCounter(0.98, 0)
	c.Advance(50, 400, t0)
	charge := c.Advance(50, 400, t0.Add(time.Hour))

	assert.InDelta(49.0, charge, 1e-9)
	assert.InDelta(12.25, SoC(charge, 400), 1e-9)
}

func TestCoulombDischargingWithoutEfficiency(t *testing.T) {

	assert := assert.New(t)

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoulombCounter(0.98, 100)
	c.Advance(-20, 400, t0)
	charge := c.Advance(-20, 400, t0.Add(30*time.Minute))

	assert.InDelta(90.0, charge, 1e-9)

	ttg := TimeToGo(charge, -20)
	if assert.NotNil(ttg) {
		assert.InDelta(90.0/20*3600, *ttg, 1e-9)
	}
	assert.Nil(TimeToGo(charge, 0), "no time to go while not discharging")
	assert.Nil(TimeToGo(charge, 3))
}

func TestCoulombClamping(t *testing.T) {

	assert := assert.New(t)

	r := rand.New(rand.NewPCG(1, 2))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCoulombCounter(0.95, 200)
	c.Advance(0, 400, t0)
	now := t0
	for i := 0; i < 1000; i++ {
		now = now.Add(time.Duration(r.IntN(7200)) * time.Second)
		current := r.Float64()*1000 - 500
		charge := c.Advance(current, 400, now)
		assert.GreaterOrEqual(charge, 0.0)
		assert.LessOrEqual(charge, 400.0)
	}
}

func TestCoulombFirstAdvanceHasNoElapsedTime(t *testing.T) {

	assert := assert.New(t)

	c := NewCoulombCounter(1, 10)
	assert.Equal(10.0, c.Advance(100, 400, time.Now()))
}

func TestChargeSaverPrecision(t *testing.T) {

	assert := assert.New(t)

	s := ChargeSaver{Precision: 0.0025}
	s.Saved(100)
	// 0.0025 * 400 = 1 Ah
	assert.False(s.Due(100.5, 400))
	assert.True(s.Due(101, 400))
	assert.True(s.Due(98.9, 400))
	s.Saved(101)
	assert.False(s.Due(101.2, 400))
}
