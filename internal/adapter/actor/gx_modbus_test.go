package actor

import (
	"testing"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/cache"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/aggbatt2mqtt/pkg/gx_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGXModbusActorFeedsCache(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	reader, err := gx_modbus.CreateTestGXModbusReader()
	require.NoError(err)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	store := cache.NewStore(0)
	mppts := map[uint8]string{226: "solarcharger/0", 225: "solarcharger/1"}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewGXModbusActor(reader, store, "vebus/276", mppts, time.Hour, logger)
	})
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.GXModbusPollRequest{}, 5*time.Second).Result()
	require.NoError(err)
	resp := result.(domain.GXModbusPollResponse)
	require.NoError(resp.ResponseError)
	assert.Equal(5, resp.Values)

	v, ok := store.Get("vebus/276", PATH_DC_CURRENT)
	require.True(ok)
	assert.Equal(-18.3, v)
	v, ok = store.Get("vebus/276", PATH_CONNECTED)
	require.True(ok)
	assert.Equal(1, v)
	v, ok = store.Get("solarcharger/1", PATH_DC_CURRENT)
	require.True(ok)
	assert.Equal(7.4, v)

	result, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(err)
	assert.True(result.(domain.ActorHealthResponse).Healthy)

	context.Stop(pid)
	as.Shutdown()
}

func TestGXModbusActorPollFailure(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	reader := &gx_modbus.TestGXModbusReader{Fail: true}

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	store := cache.NewStore(0)
	store.Put("vebus/276", PATH_CONNECTED, 1)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewGXModbusActor(reader, store, "vebus/276", nil, time.Hour, logger)
	})
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.GXModbusPollRequest{}, 5*time.Second).Result()
	require.NoError(err)
	assert.Error(result.(domain.GXModbusPollResponse).ResponseError)

	v, ok := store.Get("vebus/276", PATH_CONNECTED)
	require.True(ok)
	assert.Equal(0, v)

	result, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(err)
	assert.False(result.(domain.ActorHealthResponse).Healthy)

	context.Stop(pid)
	as.Shutdown()
}
