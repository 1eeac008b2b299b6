package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/aggbatt2mqtt/internal/adapter/actor"
	"github.com/berfenger/aggbatt2mqtt/internal/adapter/bus"
	"github.com/berfenger/aggbatt2mqtt/internal/adapter/metrics"
	"github.com/berfenger/aggbatt2mqtt/internal/adapter/persistence"
	"github.com/berfenger/aggbatt2mqtt/internal/cache"
	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/actor"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
	"github.com/berfenger/aggbatt2mqtt/internal/core/service"
	"github.com/berfenger/aggbatt2mqtt/internal/server"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/aggbatt2mqtt/pkg/gx_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// bus values not refreshed for this long are treated as missing
	cacheMaxAge = 60 * time.Second
)

func gracefulShutdown(ctx context.Context, apiServer *http.Server, done chan bool) {
	// Listen for the interrupt signal or a failing bus feeder.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// Create context that listens for the interrupt signal from the OS.
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, runCtx := errgroup.WithContext(sigCtx)

	// bus feeder
	store := cache.NewStore(cacheMaxAge)
	readCache, runBus, err := createBus(cfg, store, logger)
	if err != nil {
		logger.Fatal("bus init failed", zap.Error(err))
	}
	group.Go(func() error {
		return runBus(runCtx)
	})

	// persistence
	storage, err := createPersistence(runCtx, cfg)
	if err != nil {
		logger.Fatal("persistence init failed", zap.Error(err))
	}

	// engine
	settings, err := engineSettings(cfg)
	if err != nil {
		logger.Fatal("invalid engine settings", zap.Error(err))
	}
	eventStream := eventstream.NewEventStream()
	publisher := actor.NewEventStreamPublisher(eventStream, cfg.MQTT.PublishCellVoltages)
	engine, err := service.NewEngine(settings, readCache, storage, publisher, logger)
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector()
	if err := collector.Register(registry); err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}
	eventStream.Subscribe(func(evt any) {
		switch ev := evt.(type) {
		case domain.TickCompletedEvent:
			collector.Update(ev.Result)
		case domain.TickFailedEvent:
			collector.ReadFailed(ev.State)
		}
	})

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	gxProv, err := gxModbusActorProvider(cfg, store, logger)
	if err != nil {
		logger.Fatal("gx modbus init failed", zap.Error(err))
	}

	onFatal := func(ev domain.FatalErrorEvent) {
		logger.Error("fatal error, exit", zap.String("source", ev.Source), zap.Error(ev.Error))
		logger.Sync()
		os.Exit(1)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, eventStream, aggregatorActorProvider(cfg, engine, logger),
			mqttActorProvider(cfg, logger), gxProv, onFatal, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Fatal("master actor spawn failed", zap.Error(err))
	}

	// periodic status log
	statusSched, err := actor.ScheduleStatusLog(runCtx, actor.NewStatusLogJob(ctx, pid, logger),
		time.Duration(cfg.Engine.LogPeriodSeconds)*time.Second)
	if err != nil {
		logger.Fatal("status log init failed", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, registry)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(runCtx, server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	statusSched.Stop()
	ctx.Stop(pid)
	as.Shutdown()

	if err := group.Wait(); err != nil {
		logger.Error("bus feeder failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => AGGBATT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("AGGBATT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("aggbatt")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// createBus returns the cache the engine reads from and the feeder that fills
// it.
func createBus(cfg *config.Config, store *cache.Store, logger *zap.Logger) (port.ReadCache, func(context.Context) error, error) {
	switch cfg.Bus.Kind {
	case config.BUS_KIND_DBUS:
		conn, err := dbus.SystemBus()
		if err != nil {
			return nil, nil, fmt.Errorf("dbus connect: %w", err)
		}
		feeder := bus.NewDBus(conn, store, busSources(cfg), time.Duration(cfg.Bus.DBus.PollIntervalMillis)*time.Millisecond, logger)
		return feeder, feeder.Run, nil
	default:
		feeder := bus.NewVenusMQTT(cfg, store, logger)
		return feeder, feeder.Run, nil
	}
}

// busSources lists every bus service the engine reads.
func busSources(cfg *config.Config) []string {
	seen := map[string]bool{}
	var sources []string
	add := func(s ...string) {
		for _, src := range s {
			if src != "" && !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
		}
	}
	for _, b := range cfg.Batteries {
		add(b.Source)
	}
	add(cfg.Bus.SettingsSource)
	if shunts, err := cfg.BatteryShunts(); err == nil {
		for _, s := range shunts {
			add(s)
		}
	}
	if cfg.ExternalCurrent.Enable {
		add(cfg.ExternalCurrent.Multi)
		add(cfg.ExternalCurrent.MPPTs...)
		add(cfg.ExternalCurrent.BatteryShunts...)
		add(cfg.ExternalCurrent.DCLoadShunts...)
	}
	return sources
}

func createPersistence(ctx context.Context, cfg *config.Config) (port.Persistence, error) {
	switch cfg.Persistence.Kind {
	case config.PERSISTENCE_KIND_REDIS:
		p := persistence.NewRedisPersistence(cfg.Persistence.Redis)
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return p, nil
	default:
		return persistence.NewFilePersistence(afero.NewOsFs(), cfg.Persistence.Dir)
	}
}

func engineSettings(cfg *config.Config) (service.Settings, error) {
	ec := cfg.Engine

	shunts, err := cfg.BatteryShunts()
	if err != nil {
		return service.Settings{}, err
	}
	batteries := make([]service.BatterySource, len(cfg.Batteries))
	for i, b := range cfg.Batteries {
		batteries[i] = service.BatterySource{
			Name:   b.Name,
			Source: b.Source,
			Shunt:  shunts[b.Name],
		}
	}

	chargeCurve := service.DefaultChargeCurve(ec.MinCellVoltage, ec.BalancingVoltage, ec.MaxCellVoltage)
	if len(ec.ChargeCurveVoltage) > 0 {
		chargeCurve = service.Curve{X: ec.ChargeCurveVoltage, Y: ec.ChargeCurveCurrent}
	}
	dischargeCurve := service.DefaultDischargeCurve(ec.MinCellVoltage)
	if len(ec.DischargeCurveVoltage) > 0 {
		dischargeCurve = service.Curve{X: ec.DischargeCurveVoltage, Y: ec.DischargeCurveCurrent}
	}

	settings := service.Settings{
		Batteries:               batteries,
		NrOfBatteries:           ec.NrOfBatteries,
		CellsPerBattery:         ec.NrOfCellsPerBattery,
		BalancingVoltage:        ec.BalancingVoltage,
		BalancingRepetitionDays: ec.BalancingRepetitionDays,
		ChargeVoltageList:       ec.ChargeVoltageList,
		MaxCellVoltage:          ec.MaxCellVoltage,
		MinCellVoltage:          ec.MinCellVoltage,
		MinCellHysteresis:       ec.MinCellHysteresis,
		CellDiffMax:             ec.CellDiffMax,
		BatteryEfficiency:       ec.BatteryEfficiency,
		ChargeSavePrecision:     ec.ChargeSavePrecision,
		MaxChargeCurrent:        ec.MaxChargeCurrent,
		MaxDischargeCurrent:     ec.MaxDischargeCurrent,
		ChargeCurve:             chargeCurve,
		DischargeCurve:          dischargeCurve,
		OwnSoC:                  ec.OwnSoC,
		OwnChargeParameters:     ec.OwnChargeParameters,
		ZeroSoC:                 ec.ZeroSoC,
		KeepMaxCVL:              ec.KeepMaxCVL,
		MaxCellVoltageSoCFull:   ec.MaxCellVoltageSoCFull,
		MinCellVoltageSoCEmpty:  ec.MinCellVoltageSoCEmpty,
		ReadTrials:              ec.ReadTrials,
		PublishCellVoltages:     cfg.MQTT.PublishCellVoltages,
		SettingsSource:          cfg.Bus.SettingsSource,
	}
	if cfg.ExternalCurrent.Enable {
		settings.External = &service.ExternalCurrentSources{
			Multi:              cfg.ExternalCurrent.Multi,
			MPPTs:              cfg.ExternalCurrent.MPPTs,
			BatteryShunts:      cfg.ExternalCurrent.BatteryShunts,
			DCLoadShunts:       cfg.ExternalCurrent.DCLoadShunts,
			InvertShunts:       cfg.ExternalCurrent.InvertSmartShunts,
			IgnoreShuntAbsence: cfg.ExternalCurrent.IgnoreSmartShuntAbsence,
		}
	}
	return settings, nil
}

func gxModbusActorProvider(cfg *config.Config, store *cache.Store, logger *zap.Logger) (actor.GXModbusActorProvider, error) {
	if !cfg.GXModbus.Enable {
		return nil, nil
	}

	// register timings are traced at logrus trace level
	modbusLogger := logrus.New()
	if viper.GetString("log_level") == "trace" {
		modbusLogger.SetLevel(logrus.TraceLevel)
	}

	reader, err := gx_modbus.CreateGXModbusReader(cfg.GXModbus.Host, cfg.GXModbus.Port,
		cfg.GXModbus.VEBusUnitId, 1*time.Second, modbusLogger, nil)
	if err != nil {
		return nil, err
	}

	mppts := make(map[uint8]string, len(cfg.GXModbus.MPPTUnitIds))
	for i, unitId := range cfg.GXModbus.MPPTUnitIds {
		mppts[unitId] = cfg.ExternalCurrent.MPPTs[i]
	}
	interval := time.Duration(cfg.GXModbus.PollIntervalMillis) * time.Millisecond

	return func() *adactor.GXModbusActor {
		return adactor.NewGXModbusActor(reader, store, cfg.ExternalCurrent.Multi, mppts, interval, logger)
	}, nil
}

func aggregatorActorProvider(cfg *config.Config, engine port.AggregationEngine, logger *zap.Logger) actor.AggregatorActorProvider {
	return func(eventStream *eventstream.EventStream) *actor.AggregatorActor {
		return actor.NewAggregatorActor(engine, time.Duration(cfg.Engine.TickIntervalMillis)*time.Millisecond,
			cfg.Engine.ReadTrials, eventStream, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("mqtt.base_topic", "aggbatt")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.publish_cell_voltages", false)
	viper.SetDefault("bus.kind", config.BUS_KIND_MQTT)
	viper.SetDefault("bus.venus.port", 1883)
	viper.SetDefault("bus.venus.keepalive_interval_millis", 30000)
	viper.SetDefault("bus.dbus.poll_interval_millis", 1000)
	viper.SetDefault("bus.settings_source", "settings/0")
	viper.SetDefault("bus.shunt_source_format", "battery/%d")
	viper.SetDefault("shunt_battery_pairs", "")
	viper.SetDefault("external_current.enable", true)
	viper.SetDefault("external_current.multi", "vebus/276")
	viper.SetDefault("external_current.invert_smartshunts", false)
	viper.SetDefault("external_current.ignore_smartshunt_absence", false)
	viper.SetDefault("gx_modbus.enable", false)
	viper.SetDefault("gx_modbus.port", 502)
	viper.SetDefault("gx_modbus.vebus_unit_id", 227)
	viper.SetDefault("gx_modbus.poll_interval_millis", 1000)
	viper.SetDefault("persistence.kind", config.PERSISTENCE_KIND_FILE)
	viper.SetDefault("persistence.dir", ".")
	viper.SetDefault("persistence.redis.key_prefix", "aggbatt:")
	viper.SetDefault("engine.tick_interval_millis", 1000)
	viper.SetDefault("engine.log_period_seconds", 900)
	viper.SetDefault("engine.read_trials", 10)
	viper.SetDefault("engine.nr_of_batteries", 2)
	viper.SetDefault("engine.nr_of_cells_per_battery", 22)
	viper.SetDefault("engine.balancing_voltage", 2.45)
	viper.SetDefault("engine.balancing_repetition_days", 10)
	viper.SetDefault("engine.charge_voltage_list", []float64{2.45, 2.45, 2.42, 2.40, 2.40, 2.35, 2.35, 2.35, 2.40, 2.42, 2.45, 2.45})
	viper.SetDefault("engine.max_cell_voltage", 2.5)
	viper.SetDefault("engine.min_cell_voltage", 1.9)
	viper.SetDefault("engine.min_cell_hysteresis", 0.1)
	viper.SetDefault("engine.cell_diff_max", 0.015)
	viper.SetDefault("engine.battery_efficiency", 0.98)
	viper.SetDefault("engine.max_charge_current", 300)
	viper.SetDefault("engine.max_discharge_current", 200)
	viper.SetDefault("engine.charge_save_precision", 0.0025)
	viper.SetDefault("engine.own_soc", true)
	viper.SetDefault("engine.own_charge_parameters", true)
	viper.SetDefault("engine.zero_soc", true)
	viper.SetDefault("engine.keep_max_cvl", false)
	viper.SetDefault("engine.max_cell_voltage_soc_full", 2.45)
	viper.SetDefault("engine.min_cell_voltage_soc_empty", 1.95)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Bus.Venus.Username = "*redacted*"
	cfg.Bus.Venus.Password = "*redacted*"
	cfg.Persistence.Redis.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
