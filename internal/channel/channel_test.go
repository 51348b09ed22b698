// internal/channel/channel_test.go
package channel

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/control"
	"github.com/tamzrod/fieldbus-poller/internal/metrics"
	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/status"
)

// fakeCodec is an in-memory register map shared by every slave.
type fakeCodec struct {
	mu      sync.Mutex
	regs    map[uint16]uint16
	readErr []error // popped per holding-register read
	reads   int
}

func newFakeCodec() *fakeCodec { return &fakeCodec{regs: make(map[uint16]uint16)} }

func (f *fakeCodec) Connect() error { return nil }
func (f *fakeCodec) Close() error   { return nil }

func (f *fakeCodec) ReadCoils(byte, uint16, uint16) ([]bool, error) { return nil, io.ErrUnexpectedEOF }
func (f *fakeCodec) ReadDiscreteInputs(byte, uint16, uint16) ([]bool, error) {
	return nil, io.ErrUnexpectedEOF
}
func (f *fakeCodec) WriteCoils(byte, uint16, []bool) error { return io.ErrUnexpectedEOF }

func (f *fakeCodec) ReadInputRegisters(slave byte, offset, count uint16) ([]uint16, error) {
	return f.ReadHoldingRegisters(slave, offset, count)
}

func (f *fakeCodec) ReadHoldingRegisters(_ byte, offset, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if len(f.readErr) > 0 {
		err := f.readErr[0]
		f.readErr = f.readErr[1:]
		return nil, err
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[offset+uint16(i)]
	}
	return out, nil
}

func (f *fakeCodec) WriteRegisters(_ byte, offset uint16, values []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range values {
		f.regs[offset+uint16(i)] = v
	}
	return nil
}

func (f *fakeCodec) set(off, v uint16) {
	f.mu.Lock()
	f.regs[off] = v
	f.mu.Unlock()
}

func (f *fakeCodec) get(off uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[off]
}

func (f *fakeCodec) failNext(err error) {
	f.mu.Lock()
	f.readErr = append(f.readErr, err)
	f.mu.Unlock()
}

type memSink struct {
	mu       sync.Mutex
	results  []poller.Result
	statuses []status.Snapshot
}

func (s *memSink) Write(_ string, r poller.Result) error {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	return nil
}

func (s *memSink) WriteStatus(st status.Snapshot) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
	return nil
}

func (s *memSink) last(tag string) (poller.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].Tag.ID == tag {
			return s.results[i], true
		}
	}
	return poller.Result{}, false
}

func channelConfig(mod func(*config.ChannelConfig)) config.ChannelConfig {
	on := true
	cfg := config.ChannelConfig{
		ID:         "line1",
		Connection: config.ConnectionConfig{Mode: config.ModeTCP, TCP: &config.TCPConfig{Host: "127.0.0.1", Port: 502}},
		Timing: config.TimingConfig{
			RetryAttempts:       1,
			ReconnectIntervalMs: 10,
			ControlDebounceMs:   10,
		},
		Devices: map[string]config.DeviceConfig{
			"D1": {
				SlaveID:      1,
				AutoDemotion: config.DemotionConfig{Failures: 3, DelayMs: 1000},
				PollOnDemand: config.PollOnDemandConfig{Enabled: true, TriggerOnWrite: true, DurationMs: 500},
				Enabled:      &on,
			},
		},
		Tags: []config.TagConfig{
			{ID: "temp", Device: "D1", Address: "40001", Type: "int16", PollMs: 20},
			{ID: "sp", Device: "D1", Address: "40010", Type: "int16"},
		},
	}
	if mod != nil {
		mod(&cfg)
	}
	return cfg
}

// start runs a channel until the test ends.
func start(t *testing.T, cfg config.ChannelConfig, codec *fakeCodec, opts ...Option) (*Channel, *memSink) {
	t.Helper()
	sink := &memSink{}
	opts = append([]Option{WithCodec(codec, model.Modbus)}, opts...)
	c, err := New(cfg, sink, zerolog.Nop(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	})

	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)
	return c, sink
}

func TestChannel_PollsAndPublishes(t *testing.T) {
	codec := newFakeCodec()
	codec.set(0, 42)
	c, sink := start(t, channelConfig(nil), codec, WithMetrics(metrics.New()))

	require.Eventually(t, func() bool {
		r, ok := sink.last("temp")
		return ok && r.Code == poller.Success
	}, time.Second, 5*time.Millisecond)

	r, _ := sink.last("temp")
	assert.EqualValues(t, 42, r.Value)
	assert.Equal(t, poller.Good, r.Quality)

	// unscheduled tags are never read
	_, ok := sink.last("sp")
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		s, _ := c.Status("D1")
		return s.Health == status.HealthOK
	}, time.Second, 5*time.Millisecond)
}

func TestChannel_ConfigErrorTags(t *testing.T) {
	cfg := channelConfig(func(cfg *config.ChannelConfig) {
		cfg.Devices["bad"] = config.DeviceConfig{OffsetConvention: 7}
		cfg.Tags = append(cfg.Tags,
			config.TagConfig{ID: "orphan", Device: "D9", Address: "40001", Type: "int16", PollMs: 10},
			config.TagConfig{ID: "onbad", Device: "bad", Address: "40001", Type: "int16", PollMs: 10},
			config.TagConfig{ID: "wrongproto", Device: "D1", Address: "DB1.0", Type: "int16", PollMs: 10},
		)
	})
	sink := &memSink{}
	c, err := New(cfg, sink, zerolog.Nop(), WithCodec(newFakeCodec(), model.Modbus))
	require.NoError(t, err)

	assert.Equal(t, []string{"onbad", "orphan", "wrongproto"}, c.Broken())
	for _, id := range c.Broken() {
		r, ok := sink.last(id)
		require.True(t, ok, id)
		assert.Equal(t, poller.ConfigError, r.Quality)
		assert.Nil(t, r.Value)
		assert.ErrorIs(t, r.Err, model.ErrConfig)
	}

	err = c.WriteTag(context.Background(), "onbad", 1)
	assert.ErrorIs(t, err, model.ErrConfig)
	assert.Contains(t, err.Error(), "convention")

	// re-registration with a valid definition clears the error
	require.NoError(t, c.AddTag(config.TagConfig{ID: "orphan", Device: "D1", Address: "40002", Type: "int16"}))
	assert.Equal(t, []string{"onbad", "wrongproto"}, c.Broken())

	c.RemoveTag("orphan")
	_, ok := c.Tag("orphan")
	assert.False(t, ok)
}

func TestChannel_WriteOpensPollOnDemand(t *testing.T) {
	codec := newFakeCodec()
	sink := &memSink{}
	c, err := New(channelConfig(nil), sink, zerolog.Nop(), WithCodec(codec, model.Modbus))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []string
	c.OnPollOnDemand(func(device string, active bool) {
		mu.Lock()
		defer mu.Unlock()
		if active {
			events = append(events, device+" on")
		} else {
			events = append(events, device+" off")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Write(context.Background(), "D1", "sp", "7"))
	assert.Equal(t, uint16(7), codec.get(9))

	mu.Lock()
	assert.Equal(t, []string{"D1 on"}, events)
	mu.Unlock()

	assert.ErrorIs(t, c.Write(context.Background(), "D2", "sp", 1), ErrUnknownTag)
	assert.ErrorIs(t, c.WriteTag(context.Background(), "nope", 1), ErrUnknownTag)
}

func TestChannel_Controls(t *testing.T) {
	c, _ := start(t, channelConfig(nil), newFakeCodec())

	require.NoError(t, c.Write(context.Background(), "D1", "_AutoDemotion", true))
	require.NoError(t, c.WriteTag(context.Background(), "D1._DemotionFailures", 5))
	require.NoError(t, c.Write(context.Background(), "D1", "_Enabled", false))

	require.Eventually(t, func() bool {
		s, _ := c.Status("D1")
		return s.Health == status.HealthDisabled
	}, time.Second, 5*time.Millisecond)

	p := c.demotion.Policy("D1")
	assert.True(t, p.Enabled)
	assert.Equal(t, 5, p.Failures)
	assert.False(t, c.devices["D1"].Enabled())

	assert.ErrorIs(t, c.Write(context.Background(), "D9", "_Enabled", true), ErrUnknownDevice)
	assert.ErrorIs(t, c.Write(context.Background(), "D1", "_Enabled", "maybe"), control.ErrInvalid)

	// disabled devices refuse writes and poll on demand
	assert.ErrorIs(t, c.Write(context.Background(), "D1", "sp", 1), poller.ErrDisabled)
	assert.ErrorIs(t, c.PollOnDemand("D1"), poller.ErrDisabled)
}

func TestChannel_CancelReadsRearms(t *testing.T) {
	c, _ := start(t, channelConfig(nil), newFakeCodec())

	before := c.readContext()
	c.CancelReads()
	assert.Error(t, before.Err())
	assert.NoError(t, c.readContext().Err())
}

func TestChannel_ReconnectRestartsScheduler(t *testing.T) {
	codec := newFakeCodec()
	c, sink := start(t, channelConfig(nil), codec)
	require.Eventually(t, c.sched.Running, time.Second, 5*time.Millisecond)

	codec.failNext(io.EOF)

	require.Eventually(t, func() bool {
		for _, s := range sink.statusesOf("D1") {
			if s.Health == status.HealthError {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// reconnects after the interval and resumes polling
	require.Eventually(t, func() bool {
		s, _ := c.Status("D1")
		return c.sched.Running() && s.Health == status.HealthOK
	}, time.Second, 5*time.Millisecond)
}

func (s *memSink) statusesOf(device string) []status.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []status.Snapshot
	for _, st := range s.statuses {
		if st.Device == device {
			out = append(out, st)
		}
	}
	return out
}

func TestNewCodec(t *testing.T) {
	cfg := channelConfig(nil)
	_, fam, err := newCodec(cfg)
	require.NoError(t, err)
	assert.Equal(t, model.Modbus, fam)

	cfg.Connection = config.ConnectionConfig{Mode: config.ModeRTU, RTU: &config.RTUConfig{Device: "/dev/ttyUSB0", BaudRate: 9600}}
	_, fam, err = newCodec(cfg)
	require.NoError(t, err)
	assert.Equal(t, model.Modbus, fam)

	cfg.Connection = config.ConnectionConfig{Mode: config.ModeS7, S7: &config.S7Config{Host: "10.0.0.6", Port: 102}}
	_, fam, err = newCodec(cfg)
	require.NoError(t, err)
	assert.Equal(t, model.S7, fam)

	cfg.Connection = config.ConnectionConfig{Mode: "can"}
	_, err = New(cfg, &memSink{}, zerolog.Nop())
	assert.Error(t, err)
}
