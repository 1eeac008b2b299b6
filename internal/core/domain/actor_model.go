package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_AGGREGATOR   = "aggregator"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_GX_MODBUS    = "gxmodbus"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetAggregatorStateRequest struct {
	ActorRequestMixIn
}

type GetAggregatorStateResponse struct {
	ActorResponseMixIn
	Last         *TickResult
	State        EngineState
	ReadFailures int
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

// PublishSensorBatchRequest carries every sensor value of one tick. The MQTT
// actor publishes the whole batch or nothing.
type PublishSensorBatchRequest struct {
	ActorRequestMixIn
	Events []SensorUpdateEvent
}

type PublishSensorBatchResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type GXModbusPollRequest struct {
	ActorRequestMixIn
}

type GXModbusPollResponse struct {
	ActorResponseMixIn
	Values int
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// FatalErrorEvent tells the master that the process must stop.
type FatalErrorEvent struct {
	Source string
	Error  error
}

// GetPublishedBatchesRequest asks a publisher how many complete batches it
// has sent.
type GetPublishedBatchesRequest struct {
	ActorRequestMixIn
}

type GetPublishedBatchesResponse struct {
	ActorResponseMixIn
	Batches int
}
