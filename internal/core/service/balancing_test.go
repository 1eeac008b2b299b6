package service

import (
	"testing"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBalancing(lastDay int) *BalancingMachine {
	return &BalancingMachine{
		RepetitionDays:   10,
		CellDiffMax:      0.015,
		Logger:           zap.Must(zap.NewDevelopment()),
		LastBalancingDay: lastDay,
	}
}

func balIn(voltage, spread float64, day int) BalancingInput {
	return BalancingInput{
		Voltage:      voltage,
		CellSpread:   spread,
		NormalCVL:    CELLS * 2.35,
		BalancingCVL: CELLS * BALANCING_V,
		DayOfYear:    day,
	}
}

func TestDaysSinceWrapsOverNewYear(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(5, DaysSince(105, 100))
	assert.Equal(10, DaysSince(5, 360))
	assert.Equal(0, DaysSince(42, 42))
}

func TestBalancingFullCycle(t *testing.T) {

	require := require.New(t)

	m := newBalancing(100)

	// not due yet
	r := m.Step(balIn(52.0, 0.05, 105))
	require.Equal(domain.BalancingInactive, m.Phase)
	require.InDelta(CELLS*2.35, r.ChargeVoltage, 1e-9)

	// due: pending, target raised
	r = m.Step(balIn(52.0, 0.05, 110))
	require.Equal(domain.BalancingPending, m.Phase)
	require.InDelta(CELLS*BALANCING_V, r.ChargeVoltage, 1e-9)
	require.False(r.BalancingDone)

	// at voltage but cells not balanced yet
	r = m.Step(balIn(CELLS*BALANCING_V, 0.05, 110))
	require.Equal(domain.BalancingPending, m.Phase)

	// at voltage and balanced
	r = m.Step(balIn(CELLS*BALANCING_V, 0.01, 110))
	require.Equal(domain.BalancingGoalReached, m.Phase)
	require.InDelta(CELLS*BALANCING_V, r.ChargeVoltage, 1e-9)
	require.False(r.BalancingDone)

	// surplus not consumed yet
	r = m.Step(balIn(CELLS*2.40, 0.01, 111))
	require.Equal(domain.BalancingGoalReached, m.Phase)
	require.InDelta(CELLS*BALANCING_V, r.ChargeVoltage, 1e-9)

	// dropped back to normal
	r = m.Step(balIn(CELLS*2.35, 0.01, 111))
	require.Equal(domain.BalancingInactive, m.Phase)
	require.True(r.BalancingDone)
	require.Equal(111, m.LastBalancingDay)
	require.InDelta(CELLS*2.35, r.ChargeVoltage, 1e-9)
}

func TestBalancingGoalReachedIsIdempotent(t *testing.T) {

	assert := assert.New(t)

	m := newBalancing(1)
	m.Phase = domain.BalancingGoalReached
	for i := 0; i < 5; i++ {
		r := m.Step(balIn(CELLS*2.40, 0.01, 200))
		assert.False(r.BalancingDone, "no persistence while waiting in goal reached")
		assert.Equal(domain.BalancingGoalReached, m.Phase)
	}
}

func TestBalancingWithoutHeadroom(t *testing.T) {

	assert := assert.New(t)

	m := newBalancing(50)
	in := balIn(CELLS*BALANCING_V, 0.01, 60)
	in.NormalCVL = CELLS * BALANCING_V

	r := m.Step(in)
	assert.True(r.BalancingDone)
	assert.Equal(60, m.LastBalancingDay)
	assert.Equal(domain.BalancingInactive, m.Phase, "phase untouched without headroom")

	// same day again: nothing to record
	r = m.Step(in)
	assert.False(r.BalancingDone)

	// unbalanced cells never count
	m = newBalancing(50)
	in.CellSpread = 0.02
	r = m.Step(in)
	assert.False(r.BalancingDone)
}
