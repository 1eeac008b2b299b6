package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/cache"
	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
	"github.com/berfenger/aggbatt2mqtt/internal/mqtt"

	pmqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	venusTimeout = 5 * time.Second
)

// VenusMQTT feeds the cache from the MQTT broker of a Venus OS device, which
// mirrors every D-Bus value as N/<portal>/<service>/<instance>/<path>.
type VenusMQTT struct {
	*cache.Store
	client    *mqtt.MQTTClient
	portalId  string
	keepalive time.Duration
	topics    *regexp.Regexp
	logger    *zap.Logger
}

var _ port.ReadCache = (*VenusMQTT)(nil)

func NewVenusMQTT(cfg *config.Config, store *cache.Store, logger *zap.Logger) *VenusMQTT {
	v := &VenusMQTT{
		Store:     store,
		portalId:  cfg.Bus.Venus.PortalId,
		keepalive: time.Duration(cfg.Bus.Venus.KeepaliveIntervalMillis) * time.Millisecond,
		topics:    notificationTopicExtractor(cfg.Bus.Venus.PortalId),
		logger:    logger.With(zap.String("bus", "venus_mqtt")),
	}
	v.client = mqtt.CreateMQTTClient(cfg, mqtt.VenusOptsFromConfig(cfg), v.onConnect, v.onConnectionLost)
	return v
}

// Run connects and keeps the Venus device publishing until ctx is done.
func (v *VenusMQTT) Run(ctx context.Context) error {
	connected := make(chan error, 1)
	v.client.Connect(func(err error) { connected <- err }, venusTimeout)
	if err := <-connected; err != nil {
		return fmt.Errorf("venus mqtt connect: %w", err)
	}
	defer v.client.Disconnect(time.Second)

	ticker := time.NewTicker(v.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v.sendKeepalive()
		}
	}
}

func (v *VenusMQTT) onConnect(client pmqtt.Client) {
	v.logger.Info("connected")
	v.client.Subscribe(fmt.Sprintf("N/%s/#", v.portalId), 0, v.onMessage, func(err error) {
		if err != nil {
			v.logger.Error("could not subscribe to notifications", zap.Error(err))
			return
		}
		// ask for a full publish of all values
		v.sendKeepalive()
	}, venusTimeout)
}

func (v *VenusMQTT) onConnectionLost(_ pmqtt.Client, err error) {
	v.logger.Warn("connection lost", zap.Error(err))
}

func (v *VenusMQTT) sendKeepalive() {
	v.client.Publish(fmt.Sprintf("R/%s/keepalive", v.portalId), "", 0, false, func(err error) {
		if err != nil {
			v.logger.Warn("keepalive failed", zap.Error(err))
		}
	}, venusTimeout)
}

func (v *VenusMQTT) onMessage(_ pmqtt.Client, msg pmqtt.Message) {
	source, path, ok := ParseNotificationTopic(v.topics, msg.Topic())
	if !ok {
		return
	}
	value, err := DecodeVenusValue(msg.Payload())
	if err != nil {
		v.logger.Debug("invalid payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	v.Put(source, path, value)
}

// Set writes a value through W/<portal>/<service>/<instance>/<path>.
func (v *VenusMQTT) Set(source, path string, value any) error {
	payload, err := json.Marshal(venusValue{Value: value})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("W/%s/%s%s", v.portalId, source, path)
	done := make(chan error, 1)
	v.client.Publish(topic, payload, 1, false, func(err error) { done <- err }, venusTimeout)
	if err := <-done; err != nil {
		return fmt.Errorf("venus mqtt write %s: %w", topic, err)
	}
	v.Put(source, path, value)
	return nil
}

type venusValue struct {
	Value any `json:"value"`
}

// ParseNotificationTopic splits a notification topic into the bus source
// ("battery/512") and the value path ("/Dc/0/Voltage").
func ParseNotificationTopic(extractor *regexp.Regexp, topic string) (source, path string, ok bool) {
	matches := extractor.FindStringSubmatch(topic)
	if len(matches) != 4 {
		return "", "", false
	}
	return matches[1] + "/" + matches[2], "/" + matches[3], true
}

// DecodeVenusValue decodes {"value": x}. An empty payload means the value
// is gone and decodes to nil.
func DecodeVenusValue(payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v venusValue
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v.Value, nil
}

func notificationTopicExtractor(portalId string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^N/%s/([a-z]+)/([0-9]+)/(.+)$", regexp.QuoteMeta(portalId)))
}
