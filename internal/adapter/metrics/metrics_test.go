package metrics

import (
	"testing"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorUpdate(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	c := NewCollector()
	require.NoError(c.Register(reg))

	soc := 64.5
	warn := 1
	res := domain.TickResult{
		Time: time.Unix(1718452800, 0),
		Aggregate: domain.AggregateReading{
			Voltage: 51.2,
			Current: -12.5,
			Soc:     &soc,
			CellVoltages: []domain.CellVoltage{
				{Cell: domain.CellRef{Battery: "BAT1", Cell: "Cell1"}, Voltage: 2.31},
			},
		},
		Output: domain.ControlOutput{MaxChargeVoltage: 53.9, MaxChargeCurrent: 150},
		State:  domain.EngineState{OwnCharge: 310, DynamicCVLActive: true, BalancingPhase: domain.BalancingGoalReached},
	}
	res.Aggregate.Alarms[domain.AlarmCellImbalance] = &warn

	c.Update(res)

	assert.Equal(51.2, testutil.ToFloat64(c.gauges["voltage_volts"]))
	assert.Equal(64.5, testutil.ToFloat64(c.gauges["soc_percent"]))
	assert.Equal(53.9, testutil.ToFloat64(c.gauges["max_charge_voltage_volts"]))
	assert.Equal(310.0, testutil.ToFloat64(c.gauges["own_charge_amphours"]))
	assert.Equal(1.0, testutil.ToFloat64(c.gauges["dynamic_cvl_active"]))
	assert.Equal(2.0, testutil.ToFloat64(c.gauges["balancing_phase"]))
	assert.Equal(1.0, testutil.ToFloat64(c.alarms.WithLabelValues("CellImbalance")))
	assert.Equal(2.31, testutil.ToFloat64(c.cells.WithLabelValues("BAT1", "Cell1")))
	assert.Equal(1.0, testutil.ToFloat64(c.ticks))
	assert.Equal(float64(1718452800), testutil.ToFloat64(c.lastSuccess))

	c.ReadFailed(domain.EngineState{ReadFailures: 3})
	assert.Equal(1.0, testutil.ToFloat64(c.readErrors))
	assert.Equal(3.0, testutil.ToFloat64(c.gauges["read_failures"]))
}

func TestCollectorRegisterTwice(t *testing.T) {

	reg := prometheus.NewRegistry()
	require.NoError(t, NewCollector().Register(reg))
	require.Error(t, NewCollector().Register(reg))
}
