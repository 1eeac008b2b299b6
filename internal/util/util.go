package util

import (
	"github.com/berfenger/aggbatt2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "aggbatt",
			HADiscoveryTopic: "homeassistant",
		},
		Bus: config.BusConfig{
			Kind: config.BUS_KIND_MQTT,
			Venus: config.VenusMQTTConfig{
				Host:                    "venus.local",
				Port:                    1883,
				PortalId:                "c0619ab1a2b3",
				KeepaliveIntervalMillis: 30000,
			},
			DBus:              config.DBusConfig{PollIntervalMillis: 1000},
			SettingsSource:    "settings/0",
			ShuntSourceFormat: "battery/%d",
		},
		Batteries: []config.BatteryConfig{
			{Name: "BAT1", Source: "battery/512"},
			{Name: "BAT2", Source: "battery/513"},
		},
		ExternalCurrent: config.ExternalCurrentConfig{
			Multi: "vebus/276",
		},
		GXModbus: config.GXModbusConfig{
			Host:               "-.-.-.-",
			Port:               502,
			VEBusUnitId:        227,
			PollIntervalMillis: 1000,
		},
		Persistence: config.PersistenceConfig{
			Kind: config.PERSISTENCE_KIND_FILE,
			Dir:  ".",
		},
		Engine: config.EngineConfig{
			TickIntervalMillis:      1000,
			LogPeriodSeconds:        900,
			ReadTrials:              10,
			NrOfBatteries:           2,
			NrOfCellsPerBattery:     22,
			BalancingVoltage:        2.45,
			BalancingRepetitionDays: 10,
			ChargeVoltageList:       []float64{2.45, 2.45, 2.42, 2.40, 2.40, 2.35, 2.35, 2.35, 2.40, 2.42, 2.45, 2.45},
			MaxCellVoltage:          2.5,
			MinCellVoltage:          1.9,
			MinCellHysteresis:       0.1,
			CellDiffMax:             0.015,
			BatteryEfficiency:       0.98,
			MaxChargeCurrent:        300,
			MaxDischargeCurrent:     200,
			ChargeSavePrecision:     0.0025,
			OwnSoC:                  true,
			OwnChargeParameters:     true,
			ZeroSoC:                 true,
			MaxCellVoltageSoCFull:   2.45,
			MinCellVoltageSoCEmpty:  1.95,
		},
		Port: 8080,
	}
}
