// internal/schedule/scheduler.go
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/model"
)

const (
	// TickPeriod is the scheduler's fixed tick.
	TickPeriod = time.Millisecond

	// OverdueFloor is the smallest overdue time ever reported. A tag that is
	// picked up on the first tick after it became due still counts as one
	// tick late.
	OverdueFloor = TickPeriod
)

// Overdue returns how late a dispatch at now is for an item due at due.
func Overdue(now, due time.Time) time.Duration {
	return max(now.Sub(due), OverdueFloor)
}

// Scheduler turns the index into batches on every tick.
//
// Subscribers and tick hooks run on the tick goroutine. They must not call
// Stop.
type Scheduler struct {
	mu     sync.Mutex
	emitMu sync.Mutex // keeps priority notifications in transition order
	index  *Index

	priority      string
	priorityUntil time.Time

	subs    []func(Batch)
	hooks   []func(time.Time)
	onPrio  []func(device string, active bool)
	enabled func(device string) bool
	now     func() time.Time
	log     zerolog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Scheduler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDeviceFilter skips devices for which enabled returns false. Their
// due-times are left alone, so they are due again as soon as they are
// re-enabled.
func WithDeviceFilter(enabled func(device string) bool) Option {
	return func(s *Scheduler) { s.enabled = enabled }
}

func New(log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		index:   NewIndex(),
		enabled: func(string) bool { return true },
		now:     time.Now,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers a batch-ready handler. Call during setup.
func (s *Scheduler) Subscribe(fn func(Batch)) {
	s.subs = append(s.subs, fn)
}

// OnTick registers a hook run at the start of every tick. Call during setup.
func (s *Scheduler) OnTick(fn func(now time.Time)) {
	s.hooks = append(s.hooks, fn)
}

// OnPriority registers a poll-on-demand state observer. Call during setup.
func (s *Scheduler) OnPriority(fn func(device string, active bool)) {
	s.onPrio = append(s.onPrio, fn)
}

// Add schedules a tag, replacing an earlier registration with the same id.
// Unscheduled tags are only removed.
func (s *Scheduler) Add(t *model.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.Scheduled() {
		s.index.Remove(t.ID)
		return
	}
	s.index.Add(t, s.now())
}

func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Remove(id)
}

// Due returns the next due time of a tag.
func (s *Scheduler) Due(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.index.Get(id)
	return it.Due, ok
}

// Prioritize restricts composition to device for d. Re-prioritizing the
// same device extends the window without a new notification.
func (s *Scheduler) Prioritize(device string, d time.Duration) {
	s.mu.Lock()
	prev := s.priority
	s.priority = device
	s.priorityUntil = s.now().Add(d)
	if prev == device {
		s.mu.Unlock()
		return
	}
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	if prev != "" {
		s.notifyPriority(prev, false)
	}
	s.notifyPriority(device, true)
}

// Priority returns the prioritized device, if any. Expiry is only observed
// by ticks, so this may report a window that has just run out.
func (s *Scheduler) Priority() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority, s.priority != ""
}

// Start resets every due-time to now and runs the tick loop until ctx is
// done or Stop is called. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.index.Reset(s.now())
	s.mu.Unlock()

	s.log.Info().Msg("scheduler started")
	go s.run(ctx, done)
}

// Stop ends the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(TickPeriod)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		batches := s.collect(s.now())
		// cancellation observed between composition and dispatch drops the tick
		if ctx.Err() != nil {
			return
		}
		s.dispatch(batches)
	}
}

// Tick runs one iteration at now: hooks, composition, due-time advance and
// dispatch.
func (s *Scheduler) Tick(now time.Time) {
	s.dispatch(s.collect(now))
}

func (s *Scheduler) collect(now time.Time) (batches []Batch) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Err(fmt.Errorf("%v", r)).Time("tick", now).Msg("tick failed")
			batches = nil
		}
	}()

	for _, h := range s.hooks {
		h(now)
	}

	s.expire(now)
	return s.compose(now)
}

// expire closes a poll-on-demand window that has run out at now.
func (s *Scheduler) expire(now time.Time) {
	s.mu.Lock()
	if s.priority == "" || now.Before(s.priorityUntil) {
		s.mu.Unlock()
		return
	}
	dev := s.priority
	s.priority = ""
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.notifyPriority(dev, false)
}

func (s *Scheduler) compose(now time.Time) (batches []Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.index.Devices()
	if s.priority != "" {
		// the prioritized device alone, even when nothing on it is due
		devices = []string{s.priority}
	}

	for _, dev := range devices {
		if !s.enabled(dev) {
			continue
		}
		due := s.index.due(dev, now)
		spaces := make([]address.Space, 0, len(due))
		for sp := range due {
			spaces = append(spaces, sp)
		}
		sort.Slice(spaces, func(i, j int) bool {
			if spaces[i].Class != spaces[j].Class {
				return spaces[i].Class < spaces[j].Class
			}
			return spaces[i].DB < spaces[j].DB
		})

		for _, sp := range spaces {
			batches = append(batches, Compose(dev, sp, due[sp])...)
			for _, it := range due[sp] {
				it.Due = now.Add(it.Tag.Rate)
			}
		}
	}
	return batches
}

func (s *Scheduler) dispatch(batches []Batch) {
	for _, b := range batches {
		for _, fn := range s.subs {
			s.deliver(fn, b)
		}
	}
}

func (s *Scheduler) deliver(fn func(Batch), b Batch) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("device", b.Device).Interface("panic", r).Msg("batch handler failed")
		}
	}()
	fn(b)
}

func (s *Scheduler) notifyPriority(device string, active bool) {
	s.log.Info().Str("device", device).Bool("active", active).Msg("poll on demand")
	for _, fn := range s.onPrio {
		fn(device, active)
	}
}
