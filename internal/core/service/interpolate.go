package service

import (
	"fmt"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
)

// Curve is a piecewise-linear function given by ascending X points.
type Curve struct {
	X []float64
	Y []float64
}

func NewCurve(x, y []float64) (Curve, error) {
	if len(x) != len(y) {
		return Curve{}, domain.ConfigError{Reason: fmt.Sprintf("curve has %d x points and %d y points", len(x), len(y))}
	}
	if len(x) == 0 {
		return Curve{}, domain.ConfigError{Reason: "curve is empty"}
	}
	for i := 1; i < len(x); i++ {
		if x[i] < x[i-1] {
			return Curve{}, domain.ConfigError{Reason: fmt.Sprintf("curve x points must be ascending (%.3f after %.3f)", x[i], x[i-1])}
		}
	}
	return Curve{X: x, Y: y}, nil
}

// Interpolate clamps to the first/last y outside the curve and interpolates
// linearly inside the bracketing segment.
func (c Curve) Interpolate(x float64) float64 {
	n := len(c.X)
	if x <= c.X[0] {
		return c.Y[0]
	}
	if x >= c.X[n-1] {
		return c.Y[n-1]
	}
	for i := 1; i < n; i++ {
		if x > c.X[i] {
			continue
		}
		if x == c.X[i] {
			return c.Y[i]
		}
		x0, x1 := c.X[i-1], c.X[i]
		y0, y1 := c.Y[i-1], c.Y[i]
		return y0 + (y1-y0)*(x-x0)/(x1-x0)
	}
	return c.Y[n-1]
}

func Interpolate(x, y []float64, value float64) (float64, error) {
	c, err := NewCurve(x, y)
	if err != nil {
		return 0, err
	}
	return c.Interpolate(value), nil
}
