package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/config"
	"github.com/muurk/smartplug/internal/discovery"
	"github.com/muurk/smartplug/internal/logging"
)

// publisher is the part of pahomqtt.Client the bridge uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Bridge republishes device events to an MQTT broker.
//
// All methods are safe for concurrent use.
type Bridge struct {
	client  publisher
	topics  Topics
	qos     byte
	timeout time.Duration
	log     *zap.Logger
	relay   *discovery.Relay

	mu     sync.Mutex
	closed bool
}

// Connect dials the broker and publishes the bridge's online status.
func Connect(cfg config.MQTTConfig, log *zap.Logger) (*Bridge, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := buildClientOptions(cfg)
	b := &Bridge{
		topics:  Topics{Prefix: cfg.TopicPrefix},
		qos:     byte(cfg.QoS),
		timeout: defaultPublishTimeout,
		log:     logging.Named(log, "mqtt"),
	}
	b.relay = discovery.NewRelay(0, b.publishUpdate, b.log)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		b.log.Info("Connected to MQTT broker", zap.String("host", cfg.Broker.Host), zap.Int("port", cfg.Broker.Port))
		go b.publishStatus("online", "")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.log.Warn("MQTT connection lost", zap.Error(err))
	})

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		b.relay.Close()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		b.relay.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return b, nil
}

// newBridge wraps an existing publisher.
func newBridge(p publisher, prefix string, qos byte, log *zap.Logger) *Bridge {
	b := &Bridge{
		client:  p,
		topics:  Topics{Prefix: prefix},
		qos:     qos,
		timeout: defaultPublishTimeout,
		log:     logging.Named(log, "mqtt"),
	}
	b.relay = discovery.NewRelay(0, b.publishUpdate, b.log)
	return b
}

// Topics returns the topic builder in use.
func (b *Bridge) Topics() Topics { return b.topics }

// Publish sends payload to topic and waits for the broker's acknowledgement.
func (b *Bridge) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed || b.client == nil || !b.client.IsConnected() {
		return ErrNotConnected
	}

	token := b.client.Publish(topic, b.qos, retained, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, b.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishEvent publishes a discovery update. Every update goes to the
// device's event topic; availability, power and emeter changes also update
// the retained state topics.
func (b *Bridge) PublishEvent(u discovery.Update) error {
	s := u.Snapshot
	if s.ID == "" {
		return nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := b.Publish(b.topics.DeviceEvent(s.ID, u.Name), data, false); err != nil {
		return err
	}

	switch u.Name {
	case discovery.EventNew, discovery.EventOnline:
		if err := b.Publish(b.topics.DeviceStatus(s.ID), []byte(client.StatusOnline), true); err != nil {
			return err
		}
		return b.publishSysInfo(u)
	case discovery.EventOffline:
		return b.Publish(b.topics.DeviceStatus(s.ID), []byte(client.StatusOffline), true)
	case client.EventPowerOn:
		return b.Publish(b.topics.DevicePower(s.ID), []byte("on"), true)
	case client.EventPowerOff:
		return b.Publish(b.topics.DevicePower(s.ID), []byte("off"), true)
	case client.EventEmeterUpdate:
		if s.Emeter == nil {
			return nil
		}
		reading, err := json.Marshal(s.Emeter)
		if err != nil {
			return fmt.Errorf("failed to marshal emeter reading: %w", err)
		}
		return b.Publish(b.topics.DeviceEmeter(s.ID), reading, true)
	}
	return nil
}

func (b *Bridge) publishSysInfo(u discovery.Update) error {
	if u.Device == nil {
		return nil
	}
	info := u.Device.SysInfo()
	if info == nil {
		return nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal sysinfo: %w", err)
	}
	return b.Publish(b.topics.DeviceSysInfo(u.Snapshot.ID), data, true)
}

// Attach publishes every update from d until the returned cancel is called.
// Publishing runs on the bridge's own goroutine; discovery never waits for
// the broker.
func (b *Bridge) Attach(d *discovery.Discovery) (cancel func()) {
	return d.OnUpdate(b.relay.Push)
}

func (b *Bridge) publishUpdate(u discovery.Update) {
	if err := b.PublishEvent(u); err != nil {
		b.log.Warn("Failed to publish update",
			zap.String("event", u.Name),
			zap.String("device", u.Snapshot.ID),
			zap.Error(err),
		)
	}
}

func (b *Bridge) publishStatus(status, reason string) {
	if err := b.Publish(b.topics.BridgeStatus(), []byte(statusPayload(status, reason)), true); err != nil {
		b.log.Debug("Failed to publish bridge status", zap.Error(err))
	}
}

// Close stops publishing updates, publishes a graceful offline status and
// disconnects.
func (b *Bridge) Close() error {
	b.relay.Close()
	if b.client == nil {
		return nil
	}
	b.publishStatus("offline", "graceful_shutdown")

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
