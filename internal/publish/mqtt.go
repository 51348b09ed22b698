// internal/publish/mqtt.go
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/status"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	writeTimeout   = 10 * time.Second
)

var ErrNotConnected = errors.New("publish: mqtt not connected")

// MQTT publishes read outcomes and device status to one broker and accepts
// write requests on <prefix>/<channel>/<device>/<tag>/set.
//
// Status is published retained. After every (re)connect the last known
// status of every device is re-asserted in full.
type MQTT struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client
	log    zerolog.Logger

	mu       sync.Mutex
	statuses map[string]status.Snapshot // channel/device -> last snapshot
	handlers map[string]WriteFunc       // channel -> write handler
}

// NewMQTT builds the sink. Call HandleWrites before Start.
func NewMQTT(cfg config.MQTTConfig, log zerolog.Logger) *MQTT {
	m := newMQTT(cfg, nil, log)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(func(pahomqtt.Client) { m.onConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.log.Warn().Err(err).Msg("mqtt connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = pahomqtt.NewClient(opts)
	return m
}

func newMQTT(cfg config.MQTTConfig, client pahomqtt.Client, log zerolog.Logger) *MQTT {
	return &MQTT{
		cfg:      cfg,
		client:   client,
		log:      log.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger(),
		statuses: make(map[string]status.Snapshot),
		handlers: make(map[string]WriteFunc),
	}
}

// HandleWrites routes write requests for one channel to fn.
func (m *MQTT) HandleWrites(channel string, fn WriteFunc) {
	m.mu.Lock()
	m.handlers[channel] = fn
	m.mu.Unlock()
}

// Start connects. With connect-retry enabled paho keeps trying in the
// background, so a timeout here is logged, not fatal.
func (m *MQTT) Start() error {
	tok := m.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		m.log.Warn().Msg("mqtt connect still pending, retrying in background")
		return nil
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish: mqtt connect: %w", err)
	}
	return nil
}

func (m *MQTT) Stop() {
	m.client.Disconnect(500)
}

func (m *MQTT) Write(channel string, r poller.Result) error {
	b, err := NewMessage(channel, r).encode()
	if err != nil {
		return err
	}
	return m.publish(TagTopic(m.cfg.TopicPrefix, channel, r.Tag.Device, r.Tag.ID), false, b)
}

func (m *MQTT) WriteStatus(s status.Snapshot) error {
	m.mu.Lock()
	m.statuses[s.Channel+"/"+s.Device] = s
	m.mu.Unlock()
	return m.writeStatus(s)
}

func (m *MQTT) writeStatus(s status.Snapshot) error {
	b, err := json.Marshal(NewStatusMessage(s))
	if err != nil {
		return err
	}
	return m.publish(StatusTopic(m.cfg.TopicPrefix, s.Channel, s.Device), true, b)
}

func (m *MQTT) publish(topic string, retained bool, payload []byte) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	tok := m.client.Publish(topic, m.cfg.QoS, retained || m.cfg.Retain, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish: %s: timeout", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish: %s: %w", topic, err)
	}
	return nil
}

// onConnect subscribes to write requests and re-asserts every status.
func (m *MQTT) onConnect() {
	m.log.Info().Msg("mqtt connected")

	filter := m.cfg.TopicPrefix + "/+/+/+/" + setLeaf
	tok := m.client.Subscribe(filter, m.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		m.onSet(msg.Topic(), msg.Payload())
	})
	if tok.WaitTimeout(publishTimeout) && tok.Error() != nil {
		m.log.Error().Err(tok.Error()).Str("filter", filter).Msg("mqtt subscribe failed")
	}

	m.mu.Lock()
	snaps := make([]status.Snapshot, 0, len(m.statuses))
	for _, s := range m.statuses {
		snaps = append(snaps, s)
	}
	m.mu.Unlock()
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Channel != snaps[j].Channel {
			return snaps[i].Channel < snaps[j].Channel
		}
		return snaps[i].Device < snaps[j].Device
	})

	for _, s := range snaps {
		if err := m.writeStatus(s); err != nil {
			m.log.Warn().Err(err).Str("device", s.Device).Msg("status re-assert failed")
		}
	}
}

type setResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// onSet handles one write request and answers on <request topic>/result.
func (m *MQTT) onSet(topic string, payload []byte) {
	channel, device, tag, ok := parseSetTopic(m.cfg.TopicPrefix, topic)
	if !ok {
		return
	}

	m.mu.Lock()
	fn := m.handlers[channel]
	m.mu.Unlock()

	err := fmt.Errorf("publish: no channel %q", channel)
	if fn != nil {
		var v any
		v, err = decodeValue(payload)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = fn(ctx, device, tag, v)
			cancel()
		}
	}

	res := setResult{OK: err == nil}
	if err != nil {
		res.Error = err.Error()
		m.log.Warn().Err(err).Str("channel", channel).Str("device", device).Str("tag", tag).Msg("write request failed")
	}
	b, _ := json.Marshal(res)
	if err := m.publish(topic+"/"+resultLeaf, false, b); err != nil {
		m.log.Warn().Err(err).Str("topic", topic).Msg("write result not delivered")
	}
}
