package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chargeCurve = Curve{
	X: []float64{MIN_CELL_V, MIN_CELL_V + 0.05, BALANCING_V - 0.1, BALANCING_V, MAX_CELL_V},
	Y: []float64{0.2, 1, 1, 0.05, 0},
}

func TestInterpolateClamps(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(0.2, chargeCurve.Interpolate(1.0), "below domain returns first y")
	assert.Equal(0.2, chargeCurve.Interpolate(MIN_CELL_V), "first point")
	assert.Equal(0.0, chargeCurve.Interpolate(3.0), "above domain returns last y")
	assert.Equal(0.0, chargeCurve.Interpolate(MAX_CELL_V), "last point")
}

func TestInterpolateOnPoints(t *testing.T) {

	assert := assert.New(t)

	for i := range chargeCurve.X {
		assert.Equal(chargeCurve.Y[i], chargeCurve.Interpolate(chargeCurve.X[i]), "point %d", i)
	}
}

func TestInterpolateSegment(t *testing.T) {

	assert := assert.New(t)

	// halfway between BALANCING_V and MAX_CELL_V: 0.05 -> 0
	v := chargeCurve.Interpolate((BALANCING_V + MAX_CELL_V) / 2)
	assert.InDelta(0.025, v, 1e-9)

	// halfway on the rising edge: 0.2 -> 1
	v = chargeCurve.Interpolate(MIN_CELL_V + 0.025)
	assert.InDelta(0.6, v, 1e-9)
}

func TestInterpolateLengthMismatch(t *testing.T) {

	require := require.New(t)

	_, err := Interpolate([]float64{1, 2, 3}, []float64{1, 2}, 2)
	require.Error(err)

	_, err = NewCurve([]float64{2, 1}, []float64{1, 2})
	require.Error(err, "x must be ascending")

	v, err := Interpolate([]float64{1, 2}, []float64{10, 20}, 1.5)
	require.NoError(err)
	require.InDelta(15.0, v, 1e-9)
}
