// internal/demotion/demotion.go
package demotion

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SweepInterval is how often Run clears expired demotions.
const SweepInterval = time.Second

// Policy is a device's auto-demotion configuration.
type Policy struct {
	Enabled  bool
	Failures int // consecutive failures that trigger demotion
	Delay    time.Duration
}

// Observer receives demotion edges. until is zero when demoted is false.
type Observer interface {
	DemotionChanged(device string, demoted bool, until time.Time)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(device string, demoted bool, until time.Time)

func (f ObserverFunc) DemotionChanged(device string, demoted bool, until time.Time) {
	f(device, demoted, until)
}

type record struct {
	failures int
	demoted  bool
	until    time.Time
}

type event struct {
	device  string
	demoted bool
	until   time.Time
}

// Manager is a per-device consecutive-failure circuit breaker.
//
//	healthy -> failing -> demoted(until) -> healthy
//
// Writes are never blocked by demotion; callers consult IsDemoted before
// issuing reads only.
type Manager struct {
	mu        sync.Mutex
	emitMu    sync.Mutex // keeps notifications in transition order
	policies  map[string]Policy
	records   map[string]*record
	observers []Observer

	now func() time.Time
	log zerolog.Logger
}

type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		policies: make(map[string]Policy),
		records:  make(map[string]*record),
		now:      time.Now,
		log:      log.With().Str("component", "demotion").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers an observer. Not safe to call concurrently with
// state changes; subscribe during setup.
func (m *Manager) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

// SetPolicy installs or replaces a device's policy. Disabling auto-demotion
// releases an active demotion.
func (m *Manager) SetPolicy(device string, p Policy) {
	if p.Failures < 1 {
		p.Failures = 1
	}

	m.mu.Lock()
	m.policies[device] = p
	var evs []event
	if !p.Enabled {
		if r, ok := m.records[device]; ok {
			if r.demoted {
				evs = append(evs, event{device: device})
			}
			delete(m.records, device)
		}
	}
	m.release(evs)
}

// Policy returns the device's current policy.
func (m *Manager) Policy(device string) Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policies[device]
}

// ReadFail counts one failed block read. The threshold edge demotes the
// device and notifies exactly once.
func (m *Manager) ReadFail(device string) {
	m.mu.Lock()
	p := m.policies[device]
	if !p.Enabled {
		m.mu.Unlock()
		return
	}

	r := m.records[device]
	if r == nil {
		r = &record{}
		m.records[device] = r
	}
	r.failures++

	var evs []event
	if !r.demoted && r.failures >= p.Failures {
		r.demoted = true
		r.until = m.now().Add(p.Delay)
		evs = append(evs, event{device: device, demoted: true, until: r.until})
	}
	m.release(evs)
}

// ReadSuccess resets the failure count and lifts an active demotion.
// It is a no-op on a device that never failed.
func (m *Manager) ReadSuccess(device string) {
	m.mu.Lock()
	r, ok := m.records[device]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.records, device)

	var evs []event
	if r.demoted {
		evs = append(evs, event{device: device})
	}
	m.release(evs)
}

// IsDemoted reports whether reads for device are currently suspended.
func (m *Manager) IsDemoted(device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[device]
	return ok && r.demoted
}

// Until returns the end of an active demotion.
func (m *Manager) Until(device string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[device]
	if !ok || !r.demoted {
		return time.Time{}, false
	}
	return r.until, true
}

// Failures returns the current consecutive-failure count.
func (m *Manager) Failures(device string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[device]; ok {
		return r.failures
	}
	return 0
}

// Sweep releases every demotion whose until has passed at now.
func (m *Manager) Sweep(now time.Time) {
	var evs []event

	m.mu.Lock()
	for dev, r := range m.records {
		if r.demoted && !now.Before(r.until) {
			delete(m.records, dev)
			evs = append(evs, event{device: dev})
		}
	}
	m.release(evs)
}

// Run sweeps every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(m.now())
		}
	}
}

// release unlocks mu and delivers evs in transition order.
// Observers must not call back into the manager.
func (m *Manager) release(evs []event) {
	if len(evs) == 0 {
		m.mu.Unlock()
		return
	}
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	for _, e := range evs {
		if e.demoted {
			m.log.Warn().Str("device", e.device).Time("until", e.until).Msg("device demoted")
		} else {
			m.log.Info().Str("device", e.device).Msg("device restored")
		}
		for _, o := range m.observers {
			o.DemotionChanged(e.device, e.demoted, e.until)
		}
	}
}
