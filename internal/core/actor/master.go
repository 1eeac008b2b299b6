package actor

import (
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/aggbatt2mqtt/internal/adapter/actor"
	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	. "github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type GXModbusActorProvider func() *adactor.GXModbusActor

type AggregatorActorProvider func(*eventstream.EventStream) *AggregatorActor

// FatalHandler is called once when a child reports an unrecoverable error.
type FatalHandler func(domain.FatalErrorEvent)

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck      healthCheckResult
	eventStream             *eventstream.EventStream
	mqttActor               *actor.PID
	aggregatorActor         *actor.PID
	gxModbusActor           *actor.PID
	mqttActorProvider       MQTTActorProvider
	aggregatorActorProvider AggregatorActorProvider
	gxModbusActorProvider   GXModbusActorProvider
	onFatal                 FatalHandler
	fatalReported           bool
	logger                  *zap.Logger
}

type healthCheckResult struct {
	expected       map[string]bool
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

// NewMasterOfPuppetsActor builds the root actor. gxModbusActorProvider may be
// nil when the Modbus poller is disabled.
func NewMasterOfPuppetsActor(config config.Config, eventStream *eventstream.EventStream,
	aggregatorActorProvider AggregatorActorProvider, mqttActorProvider MQTTActorProvider,
	gxModbusActorProvider GXModbusActorProvider, onFatal FatalHandler, logger *zap.Logger) *MasterOfPuppetsActor {
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	act := &MasterOfPuppetsActor{
		config:                  config,
		behavior:                actor.NewBehavior(),
		stash:                   &Stash{},
		logger:                  ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:             eventStream,
		aggregatorActorProvider: aggregatorActorProvider,
		mqttActorProvider:       mqttActorProvider,
		gxModbusActorProvider:   gxModbusActorProvider,
		onFatal:                 onFatal,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(state.children())

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start GX Modbus child
		if state.gxModbusActorProvider != nil {
			gxModbusActorPID, err := state.startGXModbusActor(ctx)
			if err != nil {
				panic(err)
			}
			state.gxModbusActor = gxModbusActorPID
		}

		// start Aggregator child
		aggregatorActorPID, err := state.startAggregatorActor(ctx)
		if err != nil {
			panic(err)
		}
		state.aggregatorActor = aggregatorActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.children())
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range state.childPIDs() {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetAggregatorStateRequest:
		// forward to the aggregator keeping the original sender
		ctx.RequestWithCustomSender(state.aggregatorActor, msg, ctx.Sender())
	case domain.FatalErrorEvent:
		state.handleFatal(msg)
	case domain.ActorHealthResponse:
		// late answer of a finished health check
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_AGGREGATOR) {
			state.handleFatal(domain.FatalErrorEvent{
				Source: domain.ACTOR_ID_AGGREGATOR,
				Error:  fmt.Errorf("aggregator terminated"),
			})
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case domain.FatalErrorEvent:
		state.handleFatal(msg)
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) handleFatal(event domain.FatalErrorEvent) {
	if state.fatalReported {
		return
	}
	state.fatalReported = true
	state.logger.Error("master@default fatal error", zap.String("source", event.Source), zap.Error(event.Error))
	if state.onFatal != nil {
		state.onFatal(event)
	}
}

func (state *MasterOfPuppetsActor) children() []string {
	ids := []string{domain.ACTOR_ID_MQTT, domain.ACTOR_ID_AGGREGATOR}
	if state.gxModbusActorProvider != nil {
		ids = append(ids, domain.ACTOR_ID_GX_MODBUS)
	}
	return ids
}

func (state *MasterOfPuppetsActor) childPIDs() map[string]*actor.PID {
	pids := map[string]*actor.PID{
		domain.ACTOR_ID_MQTT:       state.mqttActor,
		domain.ACTOR_ID_AGGREGATOR: state.aggregatorActor,
	}
	if state.gxModbusActor != nil {
		pids[domain.ACTOR_ID_GX_MODBUS] = state.gxModbusActor
	}
	return pids
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startGXModbusActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	gxProps := actor.PropsFromProducer(func() actor.Actor {
		return state.gxModbusActorProvider()
	}, actor.WithSupervisor(supervisor))
	gxPID, err := ctx.SpawnNamed(gxProps, domain.ACTOR_ID_GX_MODBUS)
	if err != nil {
		return nil, err
	}

	return gxPID, nil
}

func (state *MasterOfPuppetsActor) startAggregatorActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	aggregatorProps := actor.PropsFromProducer(func() actor.Actor {
		return state.aggregatorActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	aggregatorPID, err := ctx.SpawnNamed(aggregatorProps, domain.ACTOR_ID_AGGREGATOR)
	if err != nil {
		return nil, err
	}

	return aggregatorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.aggregatorActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *healthCheckResult) reset(expected []string) {
	state.expected = map[string]bool{}
	for _, id := range expected {
		state.expected[id] = true
	}
	state.healthy = map[string]bool{}
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	for id := range state.expected {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
