package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE                = "bridge"
	SENSOR_ID_VOLTAGE                     = "bank_voltage"
	SENSOR_ID_CURRENT                     = "bank_current"
	SENSOR_ID_POWER                       = "bank_power"
	SENSOR_ID_TEMPERATURE                 = "bank_temperature"
	SENSOR_ID_SOC                         = "bank_soc"
	SENSOR_ID_TIME_TO_GO                  = "bank_time_to_go"
	SENSOR_ID_CAPACITY                    = "bank_capacity"
	SENSOR_ID_INSTALLED_CAPACITY          = "bank_installed_capacity"
	SENSOR_ID_CONSUMED_AMPHOURS           = "bank_consumed_amphours"
	SENSOR_ID_MIN_CELL_TEMPERATURE        = "min_cell_temperature"
	SENSOR_ID_MAX_CELL_TEMPERATURE        = "max_cell_temperature"
	SENSOR_ID_MIN_CELL_VOLTAGE            = "min_cell_voltage"
	SENSOR_ID_MAX_CELL_VOLTAGE            = "max_cell_voltage"
	SENSOR_ID_MIN_VOLTAGE_CELL_ID         = "min_voltage_cell_id"
	SENSOR_ID_MAX_VOLTAGE_CELL_ID         = "max_voltage_cell_id"
	SENSOR_ID_VOLTAGES_SUM                = "voltages_sum"
	SENSOR_ID_VOLTAGES_DIFF               = "voltages_diff"
	SENSOR_ID_NR_OF_CELLS_PER_BATTERY     = "nr_of_cells_per_battery"
	SENSOR_ID_NR_OF_MODULES_ONLINE        = "nr_of_modules_online"
	SENSOR_ID_NR_OF_MODULES_OFFLINE       = "nr_of_modules_offline"
	SENSOR_ID_NR_OF_MODULES_BLOCK_CHARGE  = "nr_of_modules_blocking_charge"
	SENSOR_ID_NR_OF_MODULES_BLOCK_DISCHRG = "nr_of_modules_blocking_discharge"
	SENSOR_ID_MAX_CHARGE_VOLTAGE          = "max_charge_voltage"
	SENSOR_ID_MAX_CHARGE_CURRENT          = "max_charge_current"
	SENSOR_ID_MAX_DISCHARGE_CURRENT       = "max_discharge_current"
	SENSOR_ID_ALLOW_TO_CHARGE             = "allow_to_charge"
	SENSOR_ID_ALLOW_TO_DISCHARGE          = "allow_to_discharge"
	SENSOR_ID_ALLOW_TO_BALANCE            = "allow_to_balance"
	SENSOR_ID_BALANCING_PHASE             = "balancing_phase"
	SENSOR_ID_LAST_BALANCING_DAY          = "last_balancing_day"
	SENSOR_ID_DYNAMIC_CVL                 = "dynamic_cvl"
	SENSOR_ID_PV_FEED_IN_SUSPENDED        = "pv_feed_in_suspended"
	SENSOR_ID_FULLY_DISCHARGED            = "fully_discharged"
	SENSOR_ID_ALARM_PREFIX                = "alarm_"
	STATE_CLASS_MEASUREMENT               = "measurement"
	DEVICE_CLASS_BATTERY                  = "battery"
	DEVICE_CLASS_CURRENT                  = "current"
	DEVICE_CLASS_POWER                    = "power"
	DEVICE_CLASS_TEMPERATURE              = "temperature"
	DEVICE_CLASS_VOLTAGE                  = "voltage"
	DEVICE_CLASS_DURATION                 = "duration"
	DEVICE_CLASS_CONNECTIVITY             = "connectivity"
	DEVICE_CLASS_PROBLEM                  = "problem"
	ENTITY_CLASS_DIAGNOSTIC               = "diagnostic"
	SENSOR_TYPE_SENSOR                    = "sensor"
	SENSOR_TYPE_BINARY                    = "binary_sensor"
)

var sensorIdSanitizer = regexp.MustCompile("[^a-z0-9_]+")

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("aggbatt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "AggBatt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("AggBatt %s", md5HashShort(baseTopic)),
	}
}

func BatteryBankDevice(baseTopic string, batteries []string) Device {
	return Device{
		Id:           fmt.Sprintf("aggbatt_bank_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        fmt.Sprintf("Battery bank (%d batteries)", len(batteries)),
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Battery bank %s", strings.Join(batteries, "+")),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func AlarmSensorId(alarm Alarm) string {
	return SENSOR_ID_ALARM_PREFIX + toSnake(alarm.String())
}

// CellVoltageSensorId returns the sensor id of a single cell, e.g. "bat1_cell3".
func CellVoltageSensorId(cell CellRef) string {
	return sensorIdSanitizer.ReplaceAllString(strings.ToLower(cell.String()), "_")
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func BatteryBankSensors(bankDevice Device) []GenericSensor {

	var sensors []GenericSensor

	measurement := func(id, name, deviceClass, unit string) {
		sensors = append(sensors, GenericSensor{
			Device:            IdDevice(bankDevice),
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       deviceClass,
			UnitOfMeasurement: unit,
			UniqueId:          uniqueId(bankDevice.Id, id),
		})
	}

	// DC
	measurement(SENSOR_ID_VOLTAGE, "Voltage", DEVICE_CLASS_VOLTAGE, "V")
	measurement(SENSOR_ID_CURRENT, "Current", DEVICE_CLASS_CURRENT, "A")
	measurement(SENSOR_ID_POWER, "Power", DEVICE_CLASS_POWER, "W")
	measurement(SENSOR_ID_TEMPERATURE, "Temperature", DEVICE_CLASS_TEMPERATURE, "°C")

	// first sensor carries the full device description
	sensors[0].Device = bankDevice

	// capacity
	measurement(SENSOR_ID_SOC, "State of charge", DEVICE_CLASS_BATTERY, "%")
	measurement(SENSOR_ID_TIME_TO_GO, "Time to go", DEVICE_CLASS_DURATION, "s")
	measurement(SENSOR_ID_CAPACITY, "Capacity", "", "Ah")
	measurement(SENSOR_ID_INSTALLED_CAPACITY, "Installed capacity", "", "Ah")
	measurement(SENSOR_ID_CONSUMED_AMPHOURS, "Consumed amphours", "", "Ah")

	// cells
	measurement(SENSOR_ID_MIN_CELL_TEMPERATURE, "Min cell temperature", DEVICE_CLASS_TEMPERATURE, "°C")
	measurement(SENSOR_ID_MAX_CELL_TEMPERATURE, "Max cell temperature", DEVICE_CLASS_TEMPERATURE, "°C")
	measurement(SENSOR_ID_MIN_CELL_VOLTAGE, "Min cell voltage", DEVICE_CLASS_VOLTAGE, "V")
	measurement(SENSOR_ID_MAX_CELL_VOLTAGE, "Max cell voltage", DEVICE_CLASS_VOLTAGE, "V")
	measurement(SENSOR_ID_VOLTAGES_SUM, "Sum of cell voltages", DEVICE_CLASS_VOLTAGE, "V")
	measurement(SENSOR_ID_VOLTAGES_DIFF, "Cell voltage difference", DEVICE_CLASS_VOLTAGE, "V")

	// control limits
	measurement(SENSOR_ID_MAX_CHARGE_VOLTAGE, "Max charge voltage", DEVICE_CLASS_VOLTAGE, "V")
	measurement(SENSOR_ID_MAX_CHARGE_CURRENT, "Max charge current", DEVICE_CLASS_CURRENT, "A")
	measurement(SENSOR_ID_MAX_DISCHARGE_CURRENT, "Max discharge current", DEVICE_CLASS_CURRENT, "A")

	diagnostic := func(id, name, sensorType, deviceClass string) {
		sensors = append(sensors, GenericSensor{
			Device:         IdDevice(bankDevice),
			Id:             id,
			SensorType:     sensorType,
			Name:           name,
			DeviceClass:    deviceClass,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bankDevice.Id, id),
		})
	}

	diagnostic(SENSOR_ID_MIN_VOLTAGE_CELL_ID, "Min voltage cell", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_MAX_VOLTAGE_CELL_ID, "Max voltage cell", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_NR_OF_CELLS_PER_BATTERY, "Cells per battery", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_NR_OF_MODULES_ONLINE, "Modules online", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_NR_OF_MODULES_OFFLINE, "Modules offline", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_NR_OF_MODULES_BLOCK_CHARGE, "Modules blocking charge", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_NR_OF_MODULES_BLOCK_DISCHRG, "Modules blocking discharge", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_ALLOW_TO_CHARGE, "Allow to charge", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_ALLOW_TO_DISCHARGE, "Allow to discharge", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_ALLOW_TO_BALANCE, "Allow to balance", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_BALANCING_PHASE, "Balancing phase", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_LAST_BALANCING_DAY, "Last balancing day", SENSOR_TYPE_SENSOR, "")
	diagnostic(SENSOR_ID_DYNAMIC_CVL, "Dynamic CVL reduction", SENSOR_TYPE_BINARY, DEVICE_CLASS_PROBLEM)
	diagnostic(SENSOR_ID_PV_FEED_IN_SUSPENDED, "PV feed-in suspended", SENSOR_TYPE_BINARY, "")
	diagnostic(SENSOR_ID_FULLY_DISCHARGED, "Fully discharged", SENSOR_TYPE_BINARY, DEVICE_CLASS_PROBLEM)

	for a := Alarm(0); a < AlarmCount; a++ {
		diagnostic(AlarmSensorId(a), "Alarm "+a.String(), SENSOR_TYPE_SENSOR, "")
	}

	return sensors
}

func CellVoltageSensors(bankDevice Device, cells []CellVoltage) []GenericSensor {
	var sensors []GenericSensor
	for _, c := range cells {
		id := CellVoltageSensorId(c.Cell)
		sensors = append(sensors, GenericSensor{
			Device:            IdDevice(bankDevice),
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Cell %s voltage", c.Cell.String()),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_VOLTAGE,
			UnitOfMeasurement: "V",
			EnabledByDefault:  optionalBool(false),
			UniqueId:          uniqueId(bankDevice.Id, id),
		})
	}
	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
