package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

type HADiscoveryActor struct {
	config                 *config.Config
	behavior               actor.Behavior
	stash                  *actorutil.Stash
	scheduler              *scheduler.TimerScheduler
	mqttActor              *actor.PID
	aggregatorActor        *actor.PID
	mqttActorHealthy       bool
	aggregatorActorHealthy bool
	healthyRecv            int

	logger *zap.Logger
}

type retryAggregatorState struct {
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, aggregatorActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:          config,
		mqttActor:       mqttActor,
		aggregatorActor: aggregatorActor,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)

		// Check MQTT and aggregator actor healthy
		state.healthyRecv = 0
		state.mqttActorHealthy = false
		state.aggregatorActorHealthy = false
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Aggregator Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.aggregatorActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_AGGREGATOR,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			case domain.ACTOR_ID_AGGREGATOR:
				state.aggregatorActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.mqttActorHealthy && state.aggregatorActorHealthy {
				state.requestAggregatorState(ctx)
				state.behavior.Become(state.WaitingStateReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT Actor or Aggregator Actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

// WaitingStateReceive waits for the first tick when cell sensors are
// published, the cell list is only known from a reading.
func (state *HADiscoveryActor) WaitingStateReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case retryAggregatorState:
		state.requestAggregatorState(ctx)
	case domain.GetAggregatorStateResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		if state.config.MQTT.PublishCellVoltages && msg.Last == nil {
			state.logger.Debug("hadiscovery@state: no tick yet, retry")
			state.scheduler.RequestOnce(2*time.Second, ctx.Self(), retryAggregatorState{})
			return
		}
		state.logger.Debug("hadiscovery@state: GetAggregatorStateResponse")

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: state.sensors(msg.Last),
		})
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@state: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) requestAggregatorState(ctx actor.Context) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.aggregatorActor, domain.GetAggregatorStateRequest{}, 2*time.Second), func(err error) any {
		return domain.GetAggregatorStateResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
}

func (state *HADiscoveryActor) sensors(last *domain.TickResult) []domain.GenericSensor {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	var names []string
	for _, b := range state.config.Batteries {
		names = append(names, b.Name)
	}
	bankDevice := domain.BatteryBankDevice(state.config.MQTT.BaseTopic, names)
	bankDevice.ViaDevice = bridgeDevice.Id
	sensors = append(sensors, domain.BatteryBankSensors(bankDevice)...)

	if state.config.MQTT.PublishCellVoltages && last != nil {
		sensors = append(sensors, domain.CellVoltageSensors(bankDevice, last.Aggregate.CellVoltages)...)
	}
	return sensors
}
