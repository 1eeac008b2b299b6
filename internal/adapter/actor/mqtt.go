package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/mqtt"
	"github.com/berfenger/aggbatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	pending        int
	batchError     error
	batchReplyTo   *actor.PID
	published      int
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTConnectionLost struct {
	Error error
}

type OnEventStreamMessage struct {
	message any
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type RawMessage struct {
	Topic   string
	Message string
	Retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to eventStream
		if state.eventStream != nil {
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				ctx.Send(ctx.Self(), OnEventStreamMessage{
					message: value,
				})
			})
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: state.client.IsConnected(),
			State:   "idle",
		})
	case OnEventStreamMessage:
		if tick, ok := msg.message.(domain.TickCompletedEvent); ok {
			state.logger.Debug("mqtt@default TickCompletedEvent", zap.Int("events", len(tick.Events)))
			state.publishBatch(ctx, tick.Events, nil)
		}
	case domain.PublishSensorBatchRequest:
		state.logger.Debug("mqtt@default PublishSensorBatchRequest", zap.Int("events", len(msg.Events)))
		state.publishBatch(ctx, msg.Events, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.Any("message", msg))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery", zap.Int("sensors", len(msg.Sensors)))
		err := state.PublishHomeAssistantDiscovery(msg.Sensors)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// SensorEventToMessage maps a sensor update to its state topic and payload.
func SensorEventToMessage(client *mqtt.MQTTClient, event domain.SensorUpdateEvent) (*RawMessage, error) {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &RawMessage{
			Topic:   client.SensorStateTopic(msg.Id),
			Message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}, nil
	case domain.BinarySensorUpdateEvent:
		return &RawMessage{
			Topic:   client.BinarySensorStateTopic(msg.Id),
			Message: bool2MQTTPayload(msg.Value),
		}, nil
	case domain.TextSensorUpdateEvent:
		return &RawMessage{
			Topic:   client.SensorStateTopic(msg.Id),
			Message: msg.Value,
		}, nil
	case domain.BridgeStateUpdateEvent:
		var stringMessage string
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		} else {
			stringMessage = mqtt.MQTT_PAYLOAD_OFFLINE
		}
		return &RawMessage{
			Topic:   client.BridgeStateTopic(),
			Message: stringMessage,
			Retain:  true,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported sensor event %T", event)
	}
}

// BatchToMessages converts a whole batch. A single unsupported event
// rejects the batch.
func BatchToMessages(client *mqtt.MQTTClient, events []domain.SensorUpdateEvent) ([]RawMessage, error) {
	messages := make([]RawMessage, 0, len(events))
	for _, ev := range events {
		msg, err := SensorEventToMessage(client, ev)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func (state *MQTTActor) publishBatch(ctx actor.Context, events []domain.SensorUpdateEvent, replyTo *actor.PID) {
	messages, err := BatchToMessages(state.client, events)
	if err != nil || len(messages) == 0 {
		if err != nil {
			state.logger.Error("mqtt@publish batch rejected", zap.Error(err))
		}
		if replyTo != nil {
			ctx.Send(replyTo, domain.PublishSensorBatchResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			})
		}
		return
	}
	state.pending = len(messages)
	state.batchError = nil
	state.batchReplyTo = replyTo
	for _, msg := range messages {
		state.client.Publish(msg.Topic, msg.Message, 1, msg.Retain, func(err error) {
			ctx.Send(ctx.Self(), publishResult{Error: err})
		}, 5*time.Second)
	}
	state.behavior.BecomeStacked(state.BatchPublishResultReceive)
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) BatchPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		state.pending--
		if msg.Error != nil && state.batchError == nil {
			state.batchError = msg.Error
		}
		if state.pending > 0 {
			return
		}
		if state.batchError != nil {
			state.logger.Error("mqtt@batch could not publish the sensor batch", zap.Error(state.batchError))
		} else {
			state.published++
		}
		if state.batchReplyTo != nil {
			ctx.Send(state.batchReplyTo, domain.PublishSensorBatchResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: state.batchError,
				},
			})
		}
		state.batchReplyTo = nil
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	case MQTTConnectionLost:
		state.logger.Error("mqtt@batch connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@batch stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := mqtt.HADiscoverySensorTopic(state.config.MQTT.HADiscoveryTopic, sensors[i])
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	} else {
		return mqtt.MQTT_PAYLOAD_OFF
	}
}

// Dummy actor
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		if state.eventStream != nil {
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				ctx.Send(ctx.Self(), OnEventStreamMessage{
					message: value,
				})
			})
		}
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case OnEventStreamMessage:
		if tick, ok := msg.message.(domain.TickCompletedEvent); ok {
			if _, err := BatchToMessages(state.client, tick.Events); err == nil {
				state.published++
			}
		}
	case domain.GetPublishedBatchesRequest:
		ctx.Respond(domain.GetPublishedBatchesResponse{Batches: state.published})
	case domain.PublishSensorBatchRequest:
		_, err := BatchToMessages(state.client, msg.Events)
		if err == nil {
			state.published++
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishSensorBatchResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		})
	case domain.PublishMessageRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishMessageResponse{})
		}
	}
}
