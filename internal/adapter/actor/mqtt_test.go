package actor

import (
	"testing"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/mqtt"
	"github.com/berfenger/aggbatt2mqtt/internal/util"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, logger) })
	pid := context.Spawn(props)

	time.Sleep(500 * time.Millisecond)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.ActorHealthResponse)
	require.True(ok)
	assert.True(resp.Healthy)

	es.Publish(domain.TickCompletedEvent{
		Events: []domain.SensorUpdateEvent{
			domain.FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_VOLTAGE},
				Value:                  52.31,
				Decimals:               2,
			},
			domain.BinarySensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_DYNAMIC_CVL},
				Value:                  true,
			},
		},
	})

	time.Sleep(500 * time.Millisecond)

	result, err = context.RequestFuture(pid, domain.GetPublishedBatchesRequest{}, 2*time.Second).Result()
	require.NoError(err)
	batches, ok := result.(domain.GetPublishedBatchesResponse)
	require.True(ok)
	assert.Equal(1, batches.Batches)

	context.Stop(pid)

	time.Sleep(500 * time.Millisecond)

	as.Shutdown()
}

func TestBatchToMessages(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	client := mqtt.CreateMQTTClient(&cfg, mqtt.OptsFromConfig(&cfg), nil, nil)

	messages, err := BatchToMessages(client, []domain.SensorUpdateEvent{
		domain.FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_VOLTAGES_DIFF},
			Value:                  0.01849,
			Decimals:               3,
		},
		domain.TextSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_MAX_VOLTAGE_CELL_ID},
			Value:                  "BAT2_Cell7",
		},
		domain.BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_FULLY_DISCHARGED},
			Value:                  false,
		},
	})
	require.NoError(err)
	require.Len(messages, 3)

	assert.Equal("aggbatt/sensor/voltages_diff/state", messages[0].Topic)
	assert.Equal("0.018", messages[0].Message)
	assert.Equal("BAT2_Cell7", messages[1].Message)
	assert.Equal("aggbatt/binary_sensor/fully_discharged/state", messages[2].Topic)
	assert.Equal(mqtt.MQTT_PAYLOAD_OFF, messages[2].Message)
}

type unknownEvent struct {
	domain.SensorUpdateEventMixIn
}

func TestBatchToMessagesRejectsWholeBatch(t *testing.T) {

	cfg := util.LoadTestConfig()
	client := mqtt.CreateMQTTClient(&cfg, mqtt.OptsFromConfig(&cfg), nil, nil)

	messages, err := BatchToMessages(client, []domain.SensorUpdateEvent{
		domain.FloatSensorUpdateEvent{SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_VOLTAGE}},
		unknownEvent{},
	})
	assert.Error(t, err)
	assert.Nil(t, messages)
}
