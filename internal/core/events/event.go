package events

import (
	"strconv"

	. "github.com/berfenger/aggbatt2mqtt/internal/core/domain"
)

// TickResultToUpdateEvents flattens one tick into sensor updates. Optional
// values that are not known are left out.
func TickResultToUpdateEvents(res TickResult, publishCellVoltages bool) []SensorUpdateEvent {
	var events []SensorUpdateEvent

	float := func(id string, value float64, decimals uint) {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value,
			Decimals:               decimals,
		})
	}
	optionalFloat := func(id string, value *float64, decimals uint) {
		if value != nil {
			float(id, *value, decimals)
		}
	}
	optionalInt := func(id string, value *int) {
		if value != nil {
			float(id, float64(*value), 0)
		}
	}
	text := func(id, value string) {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value,
		})
	}
	binary := func(id string, value bool) {
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value,
		})
	}

	agg := res.Aggregate

	// DC
	float(SENSOR_ID_VOLTAGE, agg.Voltage, 2)
	float(SENSOR_ID_CURRENT, agg.Current, 2)
	float(SENSOR_ID_POWER, agg.Power, 0)
	float(SENSOR_ID_TEMPERATURE, agg.Temperature, 1)

	// capacity
	optionalFloat(SENSOR_ID_SOC, agg.Soc, 1)
	optionalFloat(SENSOR_ID_TIME_TO_GO, agg.TimeToGo, 0)
	optionalFloat(SENSOR_ID_CAPACITY, agg.Capacity, 1)
	float(SENSOR_ID_INSTALLED_CAPACITY, agg.InstalledCapacity, 1)
	optionalFloat(SENSOR_ID_CONSUMED_AMPHOURS, agg.ConsumedAmphours, 1)

	// cells
	optionalFloat(SENSOR_ID_MIN_CELL_TEMPERATURE, agg.MinCellTemperature, 1)
	optionalFloat(SENSOR_ID_MAX_CELL_TEMPERATURE, agg.MaxCellTemperature, 1)
	float(SENSOR_ID_MIN_CELL_VOLTAGE, agg.MinCellVoltage, 3)
	float(SENSOR_ID_MAX_CELL_VOLTAGE, agg.MaxCellVoltage, 3)
	text(SENSOR_ID_MIN_VOLTAGE_CELL_ID, agg.MinCellId.String())
	text(SENSOR_ID_MAX_VOLTAGE_CELL_ID, agg.MaxCellId.String())
	float(SENSOR_ID_VOLTAGES_SUM, agg.VoltagesSum, 2)
	float(SENSOR_ID_VOLTAGES_DIFF, agg.CellSpread(), 3)

	float(SENSOR_ID_NR_OF_CELLS_PER_BATTERY, float64(agg.NrOfCellsPerBattery), 0)
	float(SENSOR_ID_NR_OF_MODULES_ONLINE, float64(agg.NrOfModulesOnline), 0)
	float(SENSOR_ID_NR_OF_MODULES_OFFLINE, float64(agg.NrOfModulesOffline), 0)
	float(SENSOR_ID_NR_OF_MODULES_BLOCK_CHARGE, float64(agg.NrOfModulesBlockingCharge), 0)
	float(SENSOR_ID_NR_OF_MODULES_BLOCK_DISCHRG, float64(agg.NrOfModulesBlockingDischarge), 0)

	for a := Alarm(0); a < AlarmCount; a++ {
		optionalInt(AlarmSensorId(a), agg.Alarms[a])
	}

	// control limits
	out := res.Output
	float(SENSOR_ID_MAX_CHARGE_VOLTAGE, out.MaxChargeVoltage, 2)
	float(SENSOR_ID_MAX_CHARGE_CURRENT, out.MaxChargeCurrent, 1)
	float(SENSOR_ID_MAX_DISCHARGE_CURRENT, out.MaxDischargeCurrent, 1)
	optionalInt(SENSOR_ID_ALLOW_TO_CHARGE, out.AllowToCharge)
	optionalInt(SENSOR_ID_ALLOW_TO_DISCHARGE, out.AllowToDischarge)
	optionalInt(SENSOR_ID_ALLOW_TO_BALANCE, out.AllowToBalance)

	// engine state
	st := res.State
	text(SENSOR_ID_BALANCING_PHASE, st.BalancingPhase.String())
	text(SENSOR_ID_LAST_BALANCING_DAY, strconv.Itoa(st.LastBalancingDay))
	binary(SENSOR_ID_DYNAMIC_CVL, st.DynamicCVLActive)
	binary(SENSOR_ID_PV_FEED_IN_SUSPENDED, st.PVFeedInSuspended)
	binary(SENSOR_ID_FULLY_DISCHARGED, st.FullyDischarged)

	if publishCellVoltages {
		for _, c := range agg.CellVoltages {
			float(CellVoltageSensorId(c.Cell), c.Voltage, 3)
		}
	}

	return events
}
