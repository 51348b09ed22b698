// internal/publish/publish_test.go
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/status"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sent struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient implements only what the sink uses.
type fakeClient struct {
	pahomqtt.Client

	mu        sync.Mutex
	connected bool
	sent      []sent
	filters   []string
	onMessage pahomqtt.MessageHandler
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	c.sent = append(c.sent, sent{topic: topic, retained: retained, payload: payload.([]byte)})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Subscribe(filter string, _ byte, fn pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	c.filters = append(c.filters, filter)
	c.onMessage = fn
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) take() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func newSink(t *testing.T) (*MQTT, *fakeClient) {
	t.Helper()
	c := &fakeClient{connected: true}
	cfg := config.MQTTConfig{Broker: "tcp://broker:1883", TopicPrefix: "plant"}
	return newMQTT(cfg, c, zerolog.Nop()), c
}

func result(t *testing.T, code poller.Code, v any, err error) poller.Result {
	t.Helper()
	return poller.Result{
		Tag:     &model.Tag{ID: "temp", Device: "D1"},
		Code:    code,
		Quality: poller.QualityOf(code),
		Value:   v,
		Err:     err,
		At:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "plant/line1/D1/temp", TagTopic("plant", "line1", "D1", "temp"))
	assert.Equal(t, "plant/line1/D1/$status", StatusTopic("plant", "line1", "D1"))

	ch, dev, tag, ok := parseSetTopic("plant", "plant/line1/D1/temp/set")
	require.True(t, ok)
	assert.Equal(t, []string{"line1", "D1", "temp"}, []string{ch, dev, tag})

	for _, bad := range []string{
		"other/line1/D1/temp/set",
		"plant/line1/D1/temp",
		"plant/line1/D1/temp/set/result",
		"plant/line1//temp/set",
	} {
		_, _, _, ok := parseSetTopic("plant", bad)
		assert.False(t, ok, bad)
	}
}

func TestDecodeValue(t *testing.T) {
	v, err := decodeValue([]byte("18446744073709551615"))
	require.NoError(t, err)
	assert.Equal(t, json.Number("18446744073709551615"), v)

	v, err = decodeValue([]byte(`[1, 2.5, true]`))
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("1"), json.Number("2.5"), true}, v)

	v, err = decodeValue([]byte(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = decodeValue([]byte(`{`))
	assert.Error(t, err)
}

func TestMQTT_Write(t *testing.T) {
	m, c := newSink(t)

	require.NoError(t, m.Write("line1", result(t, poller.Success, 21.5, nil)))
	require.NoError(t, m.Write("line1", result(t, poller.CommsError, nil, errors.New("timeout"))))

	out := c.take()
	require.Len(t, out, 2)
	assert.Equal(t, "plant/line1/D1/temp", out[0].topic)
	assert.False(t, out[0].retained)

	var msg Message
	require.NoError(t, json.Unmarshal(out[0].payload, &msg))
	assert.Equal(t, "success", msg.Code)
	assert.Equal(t, "good", msg.Quality)
	assert.Equal(t, 21.5, msg.Value)

	require.NoError(t, json.Unmarshal(out[1].payload, &msg))
	assert.Equal(t, "comm_failure", msg.Quality)
	assert.Equal(t, "timeout", msg.Error)
}

func TestMQTT_WriteNaN(t *testing.T) {
	m, c := newSink(t)
	require.NoError(t, m.Write("line1", result(t, poller.Success, math.NaN(), nil)))

	out := c.take()
	require.Len(t, out, 1)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(out[0].payload, &msg))
	assert.NotContains(t, msg, "value")
	assert.Contains(t, msg["error"], "not representable")
}

func TestMQTT_NotConnected(t *testing.T) {
	m, c := newSink(t)
	c.connected = false
	assert.ErrorIs(t, m.Write("line1", result(t, poller.Success, 1, nil)), ErrNotConnected)
}

func TestMQTT_StatusReassertedOnConnect(t *testing.T) {
	m, c := newSink(t)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.WriteStatus(status.Snapshot{Channel: "line1", Device: "D2", Health: status.HealthOK, At: at}))
	require.NoError(t, m.WriteStatus(status.Snapshot{Channel: "line1", Device: "D1", Health: status.HealthError, LastErrorCode: 2, At: at}))
	require.NoError(t, m.WriteStatus(status.Snapshot{Channel: "line1", Device: "D1", Health: status.HealthOK, At: at}))

	out := c.take()
	require.Len(t, out, 3)
	assert.True(t, out[0].retained)
	assert.Equal(t, "plant/line1/D2/$status", out[0].topic)

	m.onConnect()
	assert.Equal(t, []string{"plant/+/+/+/set"}, c.filters)

	out = c.take()
	require.Len(t, out, 2)
	assert.Equal(t, "plant/line1/D1/$status", out[0].topic)
	assert.Equal(t, "plant/line1/D2/$status", out[1].topic)

	var msg StatusMessage
	require.NoError(t, json.Unmarshal(out[0].payload, &msg))
	assert.Equal(t, "ok", msg.Health)
	assert.Zero(t, msg.LastErrorCode)
	assert.Nil(t, msg.DemotedUntil)
}

func TestMQTT_WriteRequest(t *testing.T) {
	m, c := newSink(t)

	var got []any
	m.HandleWrites("line1", func(_ context.Context, device, tag string, v any) error {
		if tag == "ro" {
			return poller.ErrNotWritable
		}
		got = append(got, device, tag, v)
		return nil
	})
	m.onConnect()
	c.take()

	c.onMessage(c, fakeMessage{topic: "plant/line1/D1/sp/set", payload: []byte("42")})
	c.onMessage(c, fakeMessage{topic: "plant/line1/D1/ro/set", payload: []byte("1")})
	c.onMessage(c, fakeMessage{topic: "plant/line9/D1/sp/set", payload: []byte("1")})
	c.onMessage(c, fakeMessage{topic: "plant/line1/D1/sp/set", payload: []byte("{")})

	assert.Equal(t, []any{"D1", "sp", json.Number("42")}, got)

	out := c.take()
	require.Len(t, out, 4)
	var res setResult
	for i, want := range []bool{true, false, false, false} {
		require.NoError(t, json.Unmarshal(out[i].payload, &res))
		assert.Equal(t, want, res.OK, i)
		assert.Equal(t, want, res.Error == "", i)
	}
	assert.Equal(t, "plant/line1/D1/sp/set/result", out[0].topic)
}

type memSink struct {
	results  int
	statuses int
	err      error
}

func (s *memSink) Write(string, poller.Result) error {
	s.results++
	return s.err
}

func (s *memSink) WriteStatus(status.Snapshot) error {
	s.statuses++
	return s.err
}

func TestFanout(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	f := Fanout{a, NewLog(zerolog.Nop()), b}

	err := f.Write("line1", result(t, poller.Success, 1, nil))
	assert.EqualError(t, err, "down")
	assert.NoError(t, Fanout{a}.WriteStatus(status.Snapshot{Device: "D1"}))

	assert.Equal(t, 1, a.results)
	assert.Equal(t, 1, b.results)
	assert.Equal(t, 1, a.statuses)
}
