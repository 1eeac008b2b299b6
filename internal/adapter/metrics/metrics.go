package metrics

import (
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aggbatt"

// Collector exposes the virtual battery and the engine state as gauges.
type Collector struct {
	gauges      map[string]prometheus.Gauge
	alarms      *prometheus.GaugeVec
	cells       *prometheus.GaugeVec
	ticks       prometheus.Counter
	readErrors  prometheus.Counter
	lastSuccess prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		gauges: map[string]prometheus.Gauge{},
		alarms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alarm",
			Help:      "Worst alarm level across all batteries (0 ok, 1 warning, 2 alarm)",
		}, []string{"alarm"}),
		cells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_voltage_volts",
			Help:      "Voltage of a single cell",
		}, []string{"battery", "cell"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Successful engine ticks",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Ticks aborted by a read error",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last successful tick",
		}),
	}

	c.addGauge("voltage_volts", "Bank voltage")
	c.addGauge("current_amperes", "Bank current, positive when charging")
	c.addGauge("power_watts", "Bank power")
	c.addGauge("temperature_celsius", "Average battery temperature")
	c.addGauge("soc_percent", "State of charge")
	c.addGauge("installed_capacity_amphours", "Installed capacity")
	c.addGauge("own_charge_amphours", "Charge tracked by the Coulomb counter")
	c.addGauge("min_cell_voltage_volts", "Lowest cell voltage")
	c.addGauge("max_cell_voltage_volts", "Highest cell voltage")
	c.addGauge("max_charge_voltage_volts", "Published charge voltage limit")
	c.addGauge("max_charge_current_amperes", "Published charge current limit")
	c.addGauge("max_discharge_current_amperes", "Published discharge current limit")
	c.addGauge("last_balancing_day", "Day of year of the last completed balancing")
	c.addGauge("balancing_phase", "Balancing phase (0 inactive, 1 pending, 2 goal reached)")
	c.addGauge("dynamic_cvl_active", "1 while the charge voltage is reduced by a cell overvoltage")
	c.addGauge("pv_feed_in_suspended", "1 while PV feed-in is suspended by the engine")
	c.addGauge("fully_discharged", "1 while discharge is blocked by a low cell")
	c.addGauge("read_failures", "Consecutive read failures")

	return c
}

func (c *Collector) addGauge(name, help string) {
	c.gauges[name] = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, g := range c.gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	for _, col := range []prometheus.Collector{c.alarms, c.cells, c.ticks, c.readErrors, c.lastSuccess} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) set(name string, value float64) {
	if g, ok := c.gauges[name]; ok {
		g.Set(value)
	}
}

// Update records a successful tick.
func (c *Collector) Update(res domain.TickResult) {
	agg := res.Aggregate
	c.set("voltage_volts", agg.Voltage)
	c.set("current_amperes", agg.Current)
	c.set("power_watts", agg.Power)
	c.set("temperature_celsius", agg.Temperature)
	if agg.Soc != nil {
		c.set("soc_percent", *agg.Soc)
	}
	c.set("installed_capacity_amphours", agg.InstalledCapacity)
	c.set("min_cell_voltage_volts", agg.MinCellVoltage)
	c.set("max_cell_voltage_volts", agg.MaxCellVoltage)

	c.set("max_charge_voltage_volts", res.Output.MaxChargeVoltage)
	c.set("max_charge_current_amperes", res.Output.MaxChargeCurrent)
	c.set("max_discharge_current_amperes", res.Output.MaxDischargeCurrent)

	c.setState(res.State)

	for a := domain.Alarm(0); a < domain.AlarmCount; a++ {
		if agg.Alarms[a] != nil {
			c.alarms.WithLabelValues(a.String()).Set(float64(*agg.Alarms[a]))
		}
	}
	for _, cell := range agg.CellVoltages {
		c.cells.WithLabelValues(cell.Cell.Battery, cell.Cell.Cell).Set(cell.Voltage)
	}

	c.ticks.Inc()
	c.lastSuccess.Set(float64(res.Time.Unix()))
}

// ReadFailed records an aborted tick.
func (c *Collector) ReadFailed(state domain.EngineState) {
	c.readErrors.Inc()
	c.set("read_failures", float64(state.ReadFailures))
}

func (c *Collector) setState(st domain.EngineState) {
	c.set("own_charge_amphours", st.OwnCharge)
	c.set("last_balancing_day", float64(st.LastBalancingDay))
	c.set("balancing_phase", float64(st.BalancingPhase))
	c.set("dynamic_cvl_active", boolToFloat(st.DynamicCVLActive))
	c.set("pv_feed_in_suspended", boolToFloat(st.PVFeedInSuspended))
	c.set("fully_discharged", boolToFloat(st.FullyDischarged))
	c.set("read_failures", float64(st.ReadFailures))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
