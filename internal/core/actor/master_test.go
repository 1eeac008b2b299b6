package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/aggbatt2mqtt/internal/adapter/actor"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/service"
	"github.com/berfenger/aggbatt2mqtt/internal/util"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnTestMaster(t *testing.T, engine *fakeEngine, onFatal FatalHandler) (*actor.ActorSystem, *actor.PID) {
	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	eventStream := eventstream.NewEventStream()
	engine.publisher = NewEventStreamPublisher(eventStream, false)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, eventStream,
			func(es *eventstream.EventStream) *AggregatorActor {
				return NewAggregatorActor(engine, 50*time.Millisecond, cfg.Engine.ReadTrials, es, logger)
			},
			func(es *eventstream.EventStream) *adactor.MQTTActor {
				return adactor.NewTestMQTTActor(&cfg, es, logger)
			}, nil, onFatal, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	return as, pid
}

func TestMasterActor(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	engine := &fakeEngine{}
	as, pid := spawnTestMaster(t, engine, nil)
	context := as.Root

	require.Eventually(func() bool { return engine.Last() != nil }, 5*time.Second, 20*time.Millisecond)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(ok)
	assert.True(healthResp.Healthy, "healthy is true")

	// state requests are forwarded to the aggregator
	res, err = context.RequestFuture(pid, domain.GetAggregatorStateRequest{}, 10*time.Second).Result()
	require.NoError(err)
	stateResp, ok := res.(domain.GetAggregatorStateResponse)
	require.True(ok)
	require.NotNil(stateResp.Last)

	// every tick reaches the MQTT actor through the event stream
	mqttPID := actor.NewPID(as.Address(), domain.ACTOR_ID_MASTER+"/"+domain.ACTOR_ID_MQTT)
	require.Eventually(func() bool {
		res, err := context.RequestFuture(mqttPID, domain.GetPublishedBatchesRequest{}, time.Second).Result()
		return err == nil && res.(domain.GetPublishedBatchesResponse).Batches > 0
	}, 5*time.Second, 50*time.Millisecond)

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorReportsFatalError(t *testing.T) {

	assert := assert.New(t)

	fatal := make(chan domain.FatalErrorEvent, 2)
	engine := &fakeEngine{errs: []error{domain.ConfigError{Reason: "22 cells expected, 24 reported"}}}
	as, pid := spawnTestMaster(t, engine, func(ev domain.FatalErrorEvent) {
		fatal <- ev
	})

	select {
	case ev := <-fatal:
		assert.Equal(domain.ACTOR_ID_AGGREGATOR, ev.Source)
		assert.True(service.IsFatal(ev.Error))
	case <-time.After(5 * time.Second):
		t.Fatal("fatal handler not called")
	}

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	assert.NoError(err)
	assert.False(res.(domain.ActorHealthResponse).Healthy)

	// reported once
	assert.Len(fatal, 0)

	as.Root.Stop(pid)
	as.Shutdown()
}
