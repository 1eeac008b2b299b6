package mqtt

import (
	"testing"

	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func testClient() *MQTTClient {
	cfg := config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "aggbatt"}}
	return CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
}

func TestStateTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	assert.Equal("aggbatt/bridge/state", c.BridgeStateTopic())
	assert.Equal("aggbatt/sensor/bank_voltage/state", c.SensorStateTopic(domain.SENSOR_ID_VOLTAGE))
	assert.Equal("aggbatt/binary_sensor/dynamic_cvl/state", c.BinarySensorStateTopic(domain.SENSOR_ID_DYNAMIC_CVL))
}

func TestLastWill(t *testing.T) {

	assert := assert.New(t)

	cfg := config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "aggbatt"}}
	opts := OptsFromConfig(&cfg)
	assert.True(opts.WillEnabled)
	assert.True(opts.WillRetained)
	assert.Equal("aggbatt/bridge/state", opts.WillTopic)
	assert.Equal([]byte(MQTT_PAYLOAD_OFFLINE), opts.WillPayload)
}

func TestHADiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	bank := domain.BatteryBankDevice("aggbatt", []string{"BAT1", "BAT2"})
	sensors := domain.BatteryBankSensors(bank)

	voltage := GenericSensorToHADiscoveryMessage(c, sensors[0])
	assert.Equal("aggbatt/sensor/bank_voltage/state", voltage.StateTopic)
	assert.Equal("aggbatt/bridge/state", voltage.AvTopic)
	assert.Equal("V", voltage.UnitOfMeasurement)
	assert.Equal([]string{bank.Id}, voltage.Device.Id)
	assert.Equal(bank.Name, voltage.Device.Name, "first sensor carries the full device")
	assert.Equal("homeassistant/sensor/"+bank.Id+"/bank_voltage/config", HADiscoverySensorTopic("homeassistant", sensors[0]))

	for _, s := range sensors {
		if s.Id != domain.SENSOR_ID_DYNAMIC_CVL {
			continue
		}
		msg := GenericSensorToHADiscoveryMessage(c, s)
		assert.Equal("aggbatt/binary_sensor/dynamic_cvl/state", msg.StateTopic)
		assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
		assert.Equal(MQTT_PAYLOAD_OFF, msg.PayloadOff)
	}

	bridge := GenericSensorToHADiscoveryMessage(c, domain.BridgeSensors(domain.BridgeDevice("aggbatt"))[0])
	assert.Equal(c.BridgeStateTopic(), bridge.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)
}
