package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel        zapcore.Level
	MQTT            MQTTConfig            `mapstructure:"mqtt"`
	Bus             BusConfig             `mapstructure:"bus"`
	Batteries       []BatteryConfig       `mapstructure:"batteries"`
	ShuntPairs      string                `mapstructure:"shunt_battery_pairs"`
	ExternalCurrent ExternalCurrentConfig `mapstructure:"external_current"`
	GXModbus        GXModbusConfig        `mapstructure:"gx_modbus"`
	Persistence     PersistenceConfig     `mapstructure:"persistence"`
	Engine          EngineConfig          `mapstructure:"engine"`
	Port            uint                  `mapstructure:"port"`
	HttpLog         bool                  `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host                string
	Port                int
	Username            string
	Password            string
	BaseTopic           string `mapstructure:"base_topic"`
	HADiscoveryEnable   bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic    string `mapstructure:"ha_discovery_topic"`
	PublishCellVoltages bool   `mapstructure:"publish_cell_voltages"`
}

const (
	BUS_KIND_MQTT = "mqtt"
	BUS_KIND_DBUS = "dbus"
)

type BusConfig struct {
	Kind              string          `mapstructure:"kind"`
	Venus             VenusMQTTConfig `mapstructure:"venus"`
	DBus              DBusConfig      `mapstructure:"dbus"`
	SettingsSource    string          `mapstructure:"settings_source"`
	ShuntSourceFormat string          `mapstructure:"shunt_source_format"`
}

type VenusMQTTConfig struct {
	Host                    string
	Port                    int
	Username                string
	Password                string
	PortalId                string `mapstructure:"portal_id"`
	KeepaliveIntervalMillis uint32 `mapstructure:"keepalive_interval_millis"`
}

type DBusConfig struct {
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type BatteryConfig struct {
	Name   string
	Source string
}

type ExternalCurrentConfig struct {
	Enable                  bool     `mapstructure:"enable"`
	Multi                   string   `mapstructure:"multi"`
	MPPTs                   []string `mapstructure:"mppts"`
	BatteryShunts           []string `mapstructure:"battery_shunts"`
	DCLoadShunts            []string `mapstructure:"dc_load_shunts"`
	InvertSmartShunts       bool     `mapstructure:"invert_smartshunts"`
	IgnoreSmartShuntAbsence bool     `mapstructure:"ignore_smartshunt_absence"`
}

type GXModbusConfig struct {
	Enable             bool    `mapstructure:"enable"`
	Host               string  `mapstructure:"host"`
	Port               uint    `mapstructure:"port"`
	VEBusUnitId        uint8   `mapstructure:"vebus_unit_id"`
	MPPTUnitIds        []uint8 `mapstructure:"mppt_unit_ids"`
	PollIntervalMillis uint32  `mapstructure:"poll_interval_millis"`
}

const (
	PERSISTENCE_KIND_FILE  = "file"
	PERSISTENCE_KIND_REDIS = "redis"
)

type PersistenceConfig struct {
	Kind  string      `mapstructure:"kind"`
	Dir   string      `mapstructure:"dir"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type EngineConfig struct {
	TickIntervalMillis      uint32    `mapstructure:"tick_interval_millis"`
	LogPeriodSeconds        uint32    `mapstructure:"log_period_seconds"`
	ReadTrials              int       `mapstructure:"read_trials"`
	NrOfBatteries           int       `mapstructure:"nr_of_batteries"`
	NrOfCellsPerBattery     int       `mapstructure:"nr_of_cells_per_battery"`
	BalancingVoltage        float64   `mapstructure:"balancing_voltage"`
	BalancingRepetitionDays int       `mapstructure:"balancing_repetition_days"`
	ChargeVoltageList       []float64 `mapstructure:"charge_voltage_list"`
	MaxCellVoltage          float64   `mapstructure:"max_cell_voltage"`
	MinCellVoltage          float64   `mapstructure:"min_cell_voltage"`
	MinCellHysteresis       float64   `mapstructure:"min_cell_hysteresis"`
	CellDiffMax             float64   `mapstructure:"cell_diff_max"`
	BatteryEfficiency       float64   `mapstructure:"battery_efficiency"`
	MaxChargeCurrent        float64   `mapstructure:"max_charge_current"`
	MaxDischargeCurrent     float64   `mapstructure:"max_discharge_current"`
	ChargeCurveVoltage      []float64 `mapstructure:"charge_curve_voltage"`
	ChargeCurveCurrent      []float64 `mapstructure:"charge_curve_current"`
	DischargeCurveVoltage   []float64 `mapstructure:"discharge_curve_voltage"`
	DischargeCurveCurrent   []float64 `mapstructure:"discharge_curve_current"`
	ChargeSavePrecision     float64   `mapstructure:"charge_save_precision"`
	OwnSoC                  bool      `mapstructure:"own_soc"`
	OwnChargeParameters     bool      `mapstructure:"own_charge_parameters"`
	ZeroSoC                 bool      `mapstructure:"zero_soc"`
	KeepMaxCVL              bool      `mapstructure:"keep_max_cvl"`
	MaxCellVoltageSoCFull   float64   `mapstructure:"max_cell_voltage_soc_full"`
	MinCellVoltageSoCEmpty  float64   `mapstructure:"min_cell_voltage_soc_empty"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckCurve validates an interpolation curve given as two lists.
func CheckCurve(name string, x, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("config params %s must have the same length (%d != %d)", name, len(x), len(y))
	}
	for i := 1; i < len(x); i++ {
		if x[i] < x[i-1] {
			return fmt.Errorf("config param %s voltages must be ascending", name)
		}
	}
	return nil
}

// Validate checks bounds and consistency of the loaded config.
func (cfg *Config) Validate() error {
	eng := cfg.Engine
	if len(cfg.Batteries) == 0 {
		return errors.New("config param batteries must list at least one battery")
	}
	if eng.NrOfBatteries != len(cfg.Batteries) {
		return fmt.Errorf("config param engine.nr_of_batteries is %d but %d batteries are configured", eng.NrOfBatteries, len(cfg.Batteries))
	}
	for i, b := range cfg.Batteries {
		if b.Name == "" || b.Source == "" {
			return fmt.Errorf("config param batteries[%d] needs name and source", i)
		}
	}
	if len(eng.ChargeVoltageList) != 12 {
		return errors.New("config param engine.charge_voltage_list must have 12 entries")
	}
	if eng.NrOfCellsPerBattery <= 0 {
		return errors.New("config param engine.nr_of_cells_per_battery should be > 0")
	}
	if eng.TickIntervalMillis < 200 {
		return errors.New("config param engine.tick_interval_millis should be >= 200")
	}
	if eng.BatteryEfficiency <= 0 || eng.BatteryEfficiency > 1 {
		return errors.New("config param engine.battery_efficiency should be in (0, 1]")
	}
	if eng.ReadTrials < 1 {
		return errors.New("config param engine.read_trials should be >= 1")
	}
	if eng.MinCellVoltage >= eng.MaxCellVoltage {
		return errors.New("config param engine.min_cell_voltage must be < engine.max_cell_voltage")
	}
	if err := CheckCurve("engine.charge_curve_voltage/current", eng.ChargeCurveVoltage, eng.ChargeCurveCurrent); err != nil {
		return err
	}
	if err := CheckCurve("engine.discharge_curve_voltage/current", eng.DischargeCurveVoltage, eng.DischargeCurveCurrent); err != nil {
		return err
	}
	if _, err := ParseShuntBatteryPairs(cfg.ShuntPairs); err != nil {
		return fmt.Errorf("config param shunt_battery_pairs: %w", err)
	}
	switch cfg.Bus.Kind {
	case BUS_KIND_MQTT:
		if cfg.Bus.Venus.Host == "" || cfg.Bus.Venus.PortalId == "" {
			return errors.New("config params bus.venus.host and bus.venus.portal_id are required")
		}
	case BUS_KIND_DBUS:
	default:
		return fmt.Errorf("config param bus.kind must be %s or %s", BUS_KIND_MQTT, BUS_KIND_DBUS)
	}
	switch cfg.Persistence.Kind {
	case PERSISTENCE_KIND_FILE, PERSISTENCE_KIND_REDIS:
	default:
		return fmt.Errorf("config param persistence.kind must be %s or %s", PERSISTENCE_KIND_FILE, PERSISTENCE_KIND_REDIS)
	}
	if cfg.GXModbus.Enable && cfg.GXModbus.PollIntervalMillis < 200 {
		return errors.New("config param gx_modbus.poll_interval_millis should be >= 200")
	}
	if cfg.GXModbus.Enable && len(cfg.GXModbus.MPPTUnitIds) != len(cfg.ExternalCurrent.MPPTs) {
		return errors.New("config param gx_modbus.mppt_unit_ids must have one unit id per external_current.mppts entry")
	}
	if cfg.GXModbus.Enable && cfg.ExternalCurrent.Multi == "" {
		return errors.New("config param external_current.multi is required by gx_modbus")
	}
	return nil
}
