// internal/publish/types.go
package publish

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/status"
)

// Writer delivers tag read outcomes.
type Writer interface {
	Write(channel string, r poller.Result) error
}

// StatusWriter delivers device status snapshots verbatim.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// Sink is both.
type Sink interface {
	Writer
	StatusWriter
}

// WriteFunc applies an externally requested tag write.
type WriteFunc func(ctx context.Context, device, tag string, value any) error

// Message is the JSON form of one read outcome.
type Message struct {
	Channel string    `json:"channel"`
	Device  string    `json:"device"`
	Tag     string    `json:"tag"`
	Code    string    `json:"code"`
	Quality string    `json:"quality"`
	Value   any       `json:"value,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"ts"`
}

// StatusMessage is the JSON form of a device status snapshot.
type StatusMessage struct {
	Channel        string     `json:"channel"`
	Device         string     `json:"device"`
	Health         string     `json:"health"`
	HealthCode     uint16     `json:"health_code"`
	LastErrorCode  uint16     `json:"last_error_code"`
	SecondsInError uint16     `json:"seconds_in_error"`
	DemotedUntil   *time.Time `json:"demoted_until,omitempty"`
	Time           time.Time  `json:"ts"`
}

func NewMessage(channel string, r poller.Result) Message {
	m := Message{
		Channel: channel,
		Device:  r.Tag.Device,
		Tag:     r.Tag.ID,
		Code:    r.Code.String(),
		Quality: r.Quality.String(),
		Value:   r.Value,
		Time:    r.At,
	}
	if r.Err != nil {
		m.Error = r.Err.Error()
	}
	return m
}

func NewStatusMessage(s status.Snapshot) StatusMessage {
	m := StatusMessage{
		Channel:        s.Channel,
		Device:         s.Device,
		Health:         status.HealthName(s.Health),
		HealthCode:     s.Health,
		LastErrorCode:  s.LastErrorCode,
		SecondsInError: s.SecondsInError,
		Time:           s.At,
	}
	if !s.DemotedUntil.IsZero() {
		u := s.DemotedUntil
		m.DemotedUntil = &u
	}
	return m
}

// encode marshals m. Values JSON cannot carry (NaN, infinities) are
// dropped and reported in the error field instead.
func (m Message) encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err == nil {
		return b, nil
	}
	m.Value = nil
	m.Error = "value not representable: " + err.Error()
	return json.Marshal(m)
}

// ---- topics ----

const (
	statusLeaf = "$status"
	setLeaf    = "set"
	resultLeaf = "result"
)

// TagTopic is <prefix>/<channel>/<device>/<tag>.
func TagTopic(prefix, channel, device, tag string) string {
	return strings.Join([]string{prefix, channel, device, tag}, "/")
}

// StatusTopic is <prefix>/<channel>/<device>/$status.
func StatusTopic(prefix, channel, device string) string {
	return strings.Join([]string{prefix, channel, device, statusLeaf}, "/")
}

// parseSetTopic splits <prefix>/<channel>/<device>/<tag>/set.
func parseSetTopic(prefix, topic string) (channel, device, tag string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != setLeaf {
		return "", "", "", false
	}
	for _, p := range parts[:3] {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], true
}

// decodeValue parses a write payload. Numbers are kept as json.Number so
// integer targets keep full precision.
func decodeValue(payload []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
