// internal/channel/channel.go
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/control"
	"github.com/tamzrod/fieldbus-poller/internal/demotion"
	"github.com/tamzrod/fieldbus-poller/internal/metrics"
	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/publish"
	"github.com/tamzrod/fieldbus-poller/internal/schedule"
	"github.com/tamzrod/fieldbus-poller/internal/status"
	"github.com/tamzrod/fieldbus-poller/internal/transport"
	"github.com/tamzrod/fieldbus-poller/internal/transport/modbus"
	"github.com/tamzrod/fieldbus-poller/internal/transport/s7"
)

var (
	ErrUnknownTag    = errors.New("channel: unknown tag")
	ErrUnknownDevice = errors.New("channel: unknown device")
)

// Channel is one physical link with its devices, tags and scheduler.
//
// The scheduler runs only while the link is up. Every dispatched batch is
// read on its own goroutine; the transport serializes them.
type Channel struct {
	id   string
	log  zerolog.Logger
	now  func() time.Time
	sink publish.Sink

	link     *transport.Transport
	reader   *poller.Reader
	sched    *schedule.Scheduler
	demotion *demotion.Manager
	tracker  *status.Tracker
	controls *control.Registry
	queue    *control.Queue
	metrics  *metrics.Channel
	debounce time.Duration

	devices map[string]*model.Device // fixed after New
	devErrs map[string]error

	codec  transport.Link // construction only
	family model.Family

	mu     sync.Mutex
	tags   map[string]*model.Tag
	broken map[string]error // tag id -> registration failure

	runMu      sync.Mutex
	runCtx     context.Context
	readCtx    context.Context
	readCancel context.CancelFunc

	inflight sync.WaitGroup
}

type Option func(*Channel)

// WithCodec replaces the codec built from the connection config.
func WithCodec(l transport.Link, family model.Family) Option {
	return func(c *Channel) { c.codec, c.family = l, family }
}

func WithControls(r *control.Registry) Option {
	return func(c *Channel) { c.controls = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m.Channel(c.id) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// New builds a channel and registers its devices and tags. Device and tag
// failures are configuration errors on the affected tags, not on the
// channel. Only an unusable connection fails New.
func New(cfg config.ChannelConfig, sink publish.Sink, log zerolog.Logger, opts ...Option) (*Channel, error) {
	c := &Channel{
		id:       cfg.ID,
		log:      log.With().Str("channel", cfg.ID).Logger(),
		now:      time.Now,
		sink:     sink,
		controls: control.Default(),
		debounce: cfg.Timing.ControlDebounce(),
		devices:  make(map[string]*model.Device),
		devErrs:  make(map[string]error),
		tags:     make(map[string]*model.Tag),
		broken:   make(map[string]error),
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.build(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Run opens the link and serves until ctx ends, then closes everything.
func (c *Channel) Run(ctx context.Context) error {
	c.runMu.Lock()
	c.runCtx = ctx
	c.readCtx, c.readCancel = context.WithCancel(ctx)
	c.runMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.demotion.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.tracker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.flushIdle(gctx)
		return nil
	})

	c.log.Info().Int("devices", len(c.devices)).Int("tags", c.tagCount()).Msg("channel started")
	c.link.Open()

	<-ctx.Done()
	c.close()
	err := g.Wait()
	c.log.Info().Msg("channel stopped")
	return err
}

func (c *Channel) close() {
	c.sched.Stop()
	c.runMu.Lock()
	if c.readCancel != nil {
		c.readCancel()
	}
	c.runMu.Unlock()
	c.inflight.Wait()
	if err := c.link.Close(); err != nil {
		c.log.Warn().Err(err).Msg("close link")
	}
}

// ---- registration ----

// AddTag registers or replaces a tag. A failing tag is unscheduled, keeps
// its id and publishes a configuration-error result.
func (c *Channel) AddTag(tc config.TagConfig) error {
	dev := c.devices[tc.Device]
	t, err := model.NewTag(tc, dev)
	if err == nil {
		c.mu.Lock()
		c.tags[t.ID] = t
		delete(c.broken, t.ID)
		c.mu.Unlock()
		c.sched.Add(t)
		return nil
	}

	if derr, ok := c.devErrs[tc.Device]; ok {
		err = fmt.Errorf("%w: tag %q: %v", model.ErrConfig, tc.ID, derr)
	}
	c.mu.Lock()
	delete(c.tags, tc.ID)
	c.broken[tc.ID] = err
	c.mu.Unlock()
	c.sched.Remove(tc.ID)

	c.log.Error().Err(err).Str("tag", tc.ID).Msg("tag not registered")
	c.deliver(poller.ConfigResult(&model.Tag{ID: tc.ID, Device: tc.Device}, err, c.now()))
	return err
}

func (c *Channel) RemoveTag(id string) {
	c.mu.Lock()
	delete(c.tags, id)
	delete(c.broken, id)
	c.mu.Unlock()
	c.sched.Remove(id)
}

func (c *Channel) Tag(id string) (*model.Tag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tags[id]
	return t, ok
}

// Broken returns the ids of tags that failed registration.
func (c *Channel) Broken() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.broken))
	for id := range c.broken {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Channel) tagCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tags)
}

// ---- observers ----

// OnDemotion subscribes to device demotion edges. Call before Run.
func (c *Channel) OnDemotion(fn func(device string, demoted bool, until time.Time)) {
	c.demotion.Subscribe(demotion.ObserverFunc(fn))
}

// OnPollOnDemand subscribes to poll-on-demand windows. Call before Run.
func (c *Channel) OnPollOnDemand(fn func(device string, active bool)) {
	c.sched.OnPriority(fn)
}

func (c *Channel) Status(device string) (status.Snapshot, bool) {
	return c.tracker.Snapshot(device)
}

func (c *Channel) Connected() bool { return c.link.Connected() }

// ---- reads ----

func (c *Channel) connectionChanged(up bool) {
	c.tracker.ConnectionChanged(up)
	if c.metrics != nil {
		c.metrics.Connection(up)
	}

	if !up {
		c.sched.Stop()
		return
	}
	c.runMu.Lock()
	ctx := c.runCtx
	c.runMu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	c.sched.Start(ctx)
}

// dispatch runs on the tick goroutine and must not block.
func (c *Channel) dispatch(b schedule.Batch) {
	dev := c.devices[b.Device]
	if dev == nil {
		return
	}
	if c.metrics != nil {
		c.metrics.Dispatched(b, c.now())
	}

	ctx := c.readContext()
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.reader.ReadBatch(ctx, b, dev, c.deliver)
	}()
}

func (c *Channel) deliver(r poller.Result) {
	if err := c.sink.Write(c.id, r); err != nil {
		c.log.Debug().Err(err).Str("tag", r.Tag.ID).Msg("result not delivered")
	}
}

func (c *Channel) readContext() context.Context {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.readCtx == nil {
		return context.Background()
	}
	return c.readCtx
}

// CancelReads aborts every in-flight read and installs a fresh signal for
// the reads that follow. The scheduler keeps running.
func (c *Channel) CancelReads() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.readCancel == nil {
		return
	}
	c.readCancel()
	c.readCtx, c.readCancel = context.WithCancel(c.runCtx)
}

// PollOnDemand gives device the scheduler to itself for its configured
// window. Reads in flight for other devices are aborted.
func (c *Channel) PollOnDemand(device string) error {
	dev, ok := c.devices[device]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	if !dev.Enabled() {
		return fmt.Errorf("%w: %q", poller.ErrDisabled, device)
	}

	cur, active := c.sched.Priority()
	c.sched.Prioritize(device, dev.OnDemand.Duration)
	if !active || cur != device {
		c.CancelReads()
	}
	return nil
}

// ---- writes ----

// Write applies a value addressed as (device, tag). Control names are
// accepted as tag for every device.
func (c *Channel) Write(ctx context.Context, device, tag string, v any) error {
	if ctl, ok := c.controls.Lookup(control.Name(tag)); ok {
		return c.writeControl(device, ctl, v)
	}
	t, err := c.lookup(tag)
	if err != nil {
		return err
	}
	if t.Device != device {
		return fmt.Errorf("%w: %q on device %q", ErrUnknownTag, tag, device)
	}
	return c.writeTag(ctx, t, v)
}

// WriteTag applies a value to a tag id, or to a control given as
// <device>.<control>.
func (c *Channel) WriteTag(ctx context.Context, id string, v any) error {
	if device, ctl, ok := c.controls.Parse(id); ok {
		return c.writeControl(device, ctl, v)
	}
	t, err := c.lookup(id)
	if err != nil {
		return err
	}
	return c.writeTag(ctx, t, v)
}

func (c *Channel) lookup(id string) (*model.Tag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.broken[id]; ok {
		return nil, err
	}
	t, ok := c.tags[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, id)
	}
	return t, nil
}

func (c *Channel) writeTag(ctx context.Context, t *model.Tag, v any) error {
	dev := c.devices[t.Device]
	if err := c.reader.Write(ctx, t, dev, v); err != nil {
		return err
	}
	if dev.OnDemand.TriggerOnWrite && dev.PollOnDemandEnabled() {
		if err := c.PollOnDemand(dev.ID); err != nil {
			c.log.Debug().Err(err).Str("device", dev.ID).Msg("poll on demand skipped")
		}
	}
	return nil
}

func (c *Channel) writeControl(device string, ctl control.Control, v any) error {
	if _, ok := c.devices[device]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	return c.queue.Put(device, ctl, v, c.now())
}

// flushIdle applies controls while the scheduler, which normally flushes
// them, is stopped.
func (c *Channel) flushIdle(ctx context.Context) {
	period := max(c.debounce, 10*time.Millisecond)
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !c.sched.Running() {
				c.queue.Flush(c.now())
			}
		}
	}
}

// ---- construction ----

func (c *Channel) logStatus(s status.Snapshot) {
	if err := c.sink.WriteStatus(s); err != nil {
		c.log.Debug().Err(err).Str("device", s.Device).Msg("status not delivered")
	}
}

func (c *Channel) build(cfg config.ChannelConfig) error {
	codec, family := c.codec, c.family
	if codec == nil {
		var err error
		if codec, family, err = newCodec(cfg); err != nil {
			return err
		}
	}
	c.codec = nil

	c.link = transport.New(transport.NewLoggingCodec(codec, c.log), transport.Config{
		Attempts:          cfg.Timing.RetryAttempts,
		RetryDelay:        cfg.Timing.RetryDelay(),
		InterRequestDelay: cfg.Timing.InterRequestDelay(),
		ReconnectInterval: cfg.Timing.ReconnectInterval(),
	}, c.log)

	c.demotion = demotion.New(c.log, demotion.WithClock(c.now))
	c.tracker = status.NewTracker(c.id, c.log, status.WithClock(c.now))
	c.tracker.Subscribe(c.logStatus)
	c.demotion.Subscribe(c.tracker)

	ropts := []poller.Option{poller.WithObserver(c.tracker), poller.WithClock(c.now)}
	if c.metrics != nil {
		ropts = append(ropts, poller.WithObserver(c.metrics))
		c.demotion.Subscribe(c.metrics)
		c.link.OnRetry(c.metrics.Retry)
	}
	c.reader = poller.New(c.link, c.demotion, c.log, ropts...)
	c.link.OnConnection(c.connectionChanged)

	c.sched = schedule.New(c.log, schedule.WithDeviceFilter(func(id string) bool {
		d := c.devices[id]
		return d != nil && d.Enabled()
	}))
	c.queue = control.NewQueue(controlTarget{c}, c.debounce, c.log)
	c.sched.OnTick(c.queue.Flush)
	c.sched.Subscribe(c.dispatch)

	ids := make([]string, 0, len(cfg.Devices))
	for id := range cfg.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d, err := model.NewDevice(id, cfg.Devices[id], family)
		if err != nil {
			c.devErrs[id] = err
			c.log.Error().Err(err).Str("device", id).Msg("device not registered")
			continue
		}
		c.devices[id] = d
		c.demotion.SetPolicy(id, d.Demotion)
		c.tracker.Add(id, d.Enabled())
	}

	for _, tc := range cfg.Tags {
		_ = c.AddTag(tc) // failures are published per tag
	}
	return nil
}

func newCodec(cfg config.ChannelConfig) (transport.Link, model.Family, error) {
	t := cfg.Timing
	switch conn := cfg.Connection; conn.Mode {
	case config.ModeTCP:
		return modbus.NewTCP(modbus.TCPConfig{
			Address:        net.JoinHostPort(conn.TCP.Host, strconv.Itoa(conn.TCP.Port)),
			ConnectTimeout: t.ConnectTimeout(),
			Timeout:        t.RequestTimeout(),
		}), model.Modbus, nil
	case config.ModeRTU:
		return modbus.NewRTU(modbus.RTUConfig{
			Device:   conn.RTU.Device,
			BaudRate: conn.RTU.BaudRate,
			DataBits: conn.RTU.DataBits,
			StopBits: conn.RTU.StopBits,
			Parity:   conn.RTU.Parity,
			RS485:    conn.RTU.RS485,
			Timeout:  t.RequestTimeout(),
		}), model.Modbus, nil
	case config.ModeS7:
		return s7.New(s7.Config{
			Host:           conn.S7.Host,
			Port:           conn.S7.Port,
			Rack:           conn.S7.Rack,
			Slot:           conn.S7.Slot,
			ConnectTimeout: t.ConnectTimeout(),
			Timeout:        t.RequestTimeout(),
		}), model.S7, nil
	}
	return nil, 0, fmt.Errorf("channel %q: unsupported connection mode %q", cfg.ID, cfg.Connection.Mode)
}
