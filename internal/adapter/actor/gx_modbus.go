package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/cache"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/aggbatt2mqtt/pkg/gx_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	PATH_DC_CURRENT = "/Dc/0/Current"
	PATH_DC_VOLTAGE = "/Dc/0/Voltage"
	PATH_CONNECTED  = "/Connected"
)

// GXModbusActor polls the GX device over Modbus-TCP and feeds the Multi and
// solar charger currents into the bus cache, for installations where those
// values are not on the bus the aggregator reads.
type GXModbusActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	reader      gx_modbus.GXModbusReader
	store       *cache.Store
	multiSource string
	mpptSources map[uint8]string
	interval    time.Duration
	opened      bool
	lastError   error
	logger      *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

type gxModbusPoll struct {
}

func NewGXModbusActor(reader gx_modbus.GXModbusReader, store *cache.Store, multiSource string,
	mpptSources map[uint8]string, interval time.Duration, logger *zap.Logger) *GXModbusActor {
	act := &GXModbusActor{
		reader:      reader,
		store:       store,
		multiSource: multiSource,
		mpptSources: mpptSources,
		interval:    interval,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_GX_MODBUS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *GXModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *GXModbusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("gxmodbus@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.open()
		ctx.Send(ctx.Self(), gxModbusPoll{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("gxmodbus@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GXModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("gxmodbus@default: ActorHealthRequest")
		ctx.Respond(state.health("idle"))
	case gxModbusPoll:
		state.startPoll(ctx, nil)
	case domain.GXModbusPollRequest:
		state.logger.Debug("gxmodbus@default: GXModbusPollRequest")
		state.startPoll(ctx, actorutil.ForRequest(msg).ReplyTo(ctx))
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("gxmodbus@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *GXModbusActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("gxmodbus@WaitingModbus backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if resp, ok := msg.message.(domain.GXModbusPollResponse); ok {
			state.lastError = resp.ResponseError
			if resp.ResponseError != nil {
				state.logger.Warn("gxmodbus poll failed", zap.Error(resp.ResponseError))
				state.store.Put(state.multiSource, PATH_CONNECTED, 0)
			}
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		} else {
			state.scheduler.RequestOnce(state.interval, ctx.Self(), gxModbusPoll{})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health("polling"))
	case gxModbusPoll:
		// a poll is already running
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("gxmodbus@WaitingModbus stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GXModbusActor) startPoll(ctx actor.Context, replyTo *actor.PID) {
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.poll),
		mapTaskResult[domain.GXModbusPollResponse](replyTo)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.GXModbusPollResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			},
			replyTo: replyTo,
		}
	}).WithTimeout(2 * time.Second).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingModbus)
}

// poll may outlive its timeout, so it only touches the reader and the cache
// store.
func (state *GXModbusActor) poll() (*domain.GXModbusPollResponse, error) {
	if !state.opened {
		if err := state.reader.Open(); err != nil {
			return nil, err
		}
		state.opened = true
	}

	values := map[cache.Key]any{}
	vebus, err := state.reader.ReadVEBus()
	if err != nil {
		return nil, err
	}
	values[cache.Key{Source: state.multiSource, Path: PATH_DC_CURRENT}] = vebus.Current
	values[cache.Key{Source: state.multiSource, Path: PATH_DC_VOLTAGE}] = vebus.Voltage
	values[cache.Key{Source: state.multiSource, Path: PATH_CONNECTED}] = 1

	for unitId, source := range state.mpptSources {
		mppt, err := state.reader.ReadSolarCharger(unitId)
		if err != nil {
			return nil, err
		}
		values[cache.Key{Source: source, Path: PATH_DC_CURRENT}] = mppt.Current
	}

	state.store.PutAll(values)
	return &domain.GXModbusPollResponse{Values: len(values)}, nil
}

func (state *GXModbusActor) open() {
	if err := state.reader.Open(); err != nil {
		state.logger.Warn("gxmodbus open failed, retry on next poll", zap.Error(err))
		return
	}
	state.opened = true
}

func (state *GXModbusActor) close() {
	if state.opened {
		state.reader.Close()
		state.opened = false
	}
}

func (state *GXModbusActor) health(name string) domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_GX_MODBUS,
		Healthy: state.lastError == nil,
		State:   name,
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
