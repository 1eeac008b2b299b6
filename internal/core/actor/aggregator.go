package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
	"github.com/berfenger/aggbatt2mqtt/internal/core/service"
	. "github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// AggregatorActor runs the engine tick. The next tick is scheduled only after
// the current one returned, so ticks never overlap.
type AggregatorActor struct {
	behavior    actor.Behavior
	stash       *Stash
	scheduler   *scheduler.TimerScheduler
	engine      port.AggregationEngine
	eventStream *eventstream.EventStream
	interval    time.Duration
	readTrials  int
	lastError   error
	fatalError  error
	now         func() time.Time

	logger *zap.Logger
}

type aggregatorTick struct {
}

func NewAggregatorActor(engine port.AggregationEngine, interval time.Duration, readTrials int, eventStream *eventstream.EventStream, logger *zap.Logger) *AggregatorActor {
	act := &AggregatorActor{
		engine:      engine,
		interval:    interval,
		readTrials:  readTrials,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		now:         time.Now,
		logger:      ActorLogger(domain.ACTOR_ID_AGGREGATOR, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *AggregatorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *AggregatorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("aggregator@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)

		if err := state.engine.Load(state.now()); err != nil {
			state.fail(ctx, err)
			return
		}
		ctx.Send(ctx.Self(), aggregatorTick{})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("aggregator@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AggregatorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case aggregatorTick:
		state.tick(ctx)
	case domain.ActorHealthRequest:
		state.logger.Debug("aggregator@default ActorHealthRequest")
		ctx.Respond(state.health("ticking"))
	case domain.GetAggregatorStateRequest:
		state.logger.Debug("aggregator@default GetAggregatorStateRequest")
		ForRequest(msg).Respond(ctx, state.stateResponse())
	default:
		state.logger.Debug("aggregator@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// StoppedReceive is entered after a fatal error. The actor keeps answering
// queries until the process exits.
func (state *AggregatorActor) StoppedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("aggregator@stopped ActorHealthRequest")
		ctx.Respond(state.health("stopped"))
	case domain.GetAggregatorStateRequest:
		state.logger.Debug("aggregator@stopped GetAggregatorStateRequest")
		resp := state.stateResponse()
		resp.ResponseError = state.fatalError
		ForRequest(msg).Respond(ctx, resp)
	default:
		state.logger.Debug("aggregator@stopped recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *AggregatorActor) tick(ctx actor.Context) {
	_, err := state.engine.Tick(state.now())
	state.lastError = err
	if err != nil {
		if service.IsFatal(err) {
			state.fail(ctx, err)
			return
		}
		if domain.IsReadError(err) {
			state.logger.Warn("aggregator@default tick aborted", zap.Error(err))
		} else {
			state.logger.Error("aggregator@default tick failed", zap.Error(err))
		}
		if state.eventStream != nil {
			state.eventStream.Publish(domain.TickFailedEvent{
				State: state.engine.State(),
				Error: err,
			})
		}
	}
	state.scheduler.RequestOnce(state.interval, ctx.Self(), aggregatorTick{})
}

func (state *AggregatorActor) fail(ctx actor.Context, err error) {
	state.logger.Error("aggregator@default fatal error, stop ticking", zap.Error(err))
	state.fatalError = err
	state.behavior.Become(state.StoppedReceive)
	if ctx.Parent() != nil {
		ctx.Send(ctx.Parent(), domain.FatalErrorEvent{
			Source: domain.ACTOR_ID_AGGREGATOR,
			Error:  err,
		})
	}
}

func (state *AggregatorActor) health(name string) domain.ActorHealthResponse {
	healthy := state.fatalError == nil &&
		(state.lastError == nil || state.engine.State().ReadFailures < state.readTrials)
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_AGGREGATOR,
		Healthy: healthy,
		State:   name,
	}
}

func (state *AggregatorActor) stateResponse() domain.GetAggregatorStateResponse {
	st := state.engine.State()
	return domain.GetAggregatorStateResponse{
		Last:         state.engine.Last(),
		State:        st,
		ReadFailures: st.ReadFailures,
	}
}
