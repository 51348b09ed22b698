// internal/status/tracker.go
package status

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tracker owns the status snapshots of one channel's devices. It is fed by
// read outcomes, demotion edges, connection changes and enable switches,
// and publishes a snapshot to subscribers whenever one changes.
type Tracker struct {
	channel string
	now     func() time.Time
	log     zerolog.Logger

	mu      sync.Mutex
	devices map[string]*entry
	subs    []func(Snapshot)
}

type entry struct {
	snap     Snapshot
	disabled bool
	demoted  bool
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(channel string, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		channel: channel,
		now:     time.Now,
		log:     log.With().Str("component", "status").Str("channel", channel).Logger(),
		devices: make(map[string]*entry),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Subscribe registers fn for every changed snapshot. Call before feeding.
func (t *Tracker) Subscribe(fn func(Snapshot)) {
	t.subs = append(t.subs, fn)
}

// Add registers a device and publishes its initial snapshot.
func (t *Tracker) Add(device string, enabled bool) {
	t.update(device, func(e *entry) bool {
		e.disabled = !enabled
		if !enabled {
			e.snap.Health = HealthDisabled
		}
		return true
	})
}

// Snapshot returns the current status of a device.
func (t *Tracker) Snapshot(device string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.devices[device]
	if !ok {
		return Snapshot{}, false
	}
	return e.snap, true
}

// BlockRead records the outcome of one wire read. Outcomes are ignored
// while a device is disabled or demoted.
func (t *Tracker) BlockRead(device string, err error, _ time.Duration) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	t.update(device, func(e *entry) bool {
		if e.disabled || e.demoted {
			return false
		}
		if err == nil {
			return e.set(HealthOK, 0, true)
		}
		return e.set(HealthError, errorCode(err), false)
	})
}

// WriteDone is part of the reader's observer contract. Writes do not move
// device health.
func (t *Tracker) WriteDone(string, time.Duration, error) {}

// DemotionChanged follows the circuit breaker.
func (t *Tracker) DemotionChanged(device string, demoted bool, until time.Time) {
	t.update(device, func(e *entry) bool {
		e.demoted = demoted
		if e.disabled {
			return false
		}
		if demoted {
			e.snap.DemotedUntil = until
			return e.set(HealthDemoted, e.snap.LastErrorCode, false)
		}
		e.snap.DemotedUntil = time.Time{}
		return e.set(HealthUnknown, e.snap.LastErrorCode, false)
	})
}

// ConnectionChanged marks every active device in error while the link is
// down. Recovery is left to the next successful read.
func (t *Tracker) ConnectionChanged(up bool) {
	if up {
		return
	}
	t.mu.Lock()
	ids := make([]string, 0, len(t.devices))
	for id := range t.devices {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		t.update(id, func(e *entry) bool {
			if e.disabled || e.demoted {
				return false
			}
			return e.set(HealthError, ErrorGeneric, false)
		})
	}
}

// SetEnabled follows the runtime enable switch of a device.
func (t *Tracker) SetEnabled(device string, on bool) {
	t.update(device, func(e *entry) bool {
		if e.disabled == !on {
			return false
		}
		e.disabled = !on
		switch {
		case !on:
			return e.set(HealthDisabled, e.snap.LastErrorCode, false)
		case e.demoted:
			return e.set(HealthDemoted, e.snap.LastErrorCode, false)
		default:
			return e.set(HealthUnknown, e.snap.LastErrorCode, false)
		}
	})
}

// Tick advances seconds-in-error by one for every device that is neither
// OK nor disabled.
func (t *Tracker) Tick() {
	var changed []Snapshot

	t.mu.Lock()
	now := t.now()
	for _, e := range t.devices {
		if e.snap.Health == HealthOK || e.snap.Health == HealthDisabled {
			continue
		}
		if e.snap.SecondsInError < MaxSecondsInError {
			e.snap.SecondsInError++
			e.snap.At = now
			changed = append(changed, e.snap)
		}
	}
	t.mu.Unlock()

	sort.Slice(changed, func(i, j int) bool { return changed[i].Device < changed[j].Device })
	for _, s := range changed {
		t.publish(s)
	}
}

// Run ticks once per second until ctx ends.
func (t *Tracker) Run(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Tick()
		}
	}
}

// update applies fn to a device entry, creating it on first use, and
// publishes the result when fn reports a change.
func (t *Tracker) update(device string, fn func(e *entry) bool) {
	t.mu.Lock()
	e, ok := t.devices[device]
	if !ok {
		e = &entry{snap: Snapshot{Channel: t.channel, Device: device, Health: HealthUnknown}}
		t.devices[device] = e
	}
	before := e.snap.Health
	changed := fn(e) || !ok
	if changed {
		e.snap.At = t.now()
	}
	snap := e.snap
	t.mu.Unlock()

	if !changed {
		return
	}
	if before != snap.Health {
		t.log.Info().
			Str("device", device).
			Str("from", HealthName(before)).
			Str("to", HealthName(snap.Health)).
			Uint16("last_error", snap.LastErrorCode).
			Msg("device health")
	}
	t.publish(snap)
}

func (t *Tracker) publish(s Snapshot) {
	for _, fn := range t.subs {
		fn(s)
	}
}

// set moves the entry to health h with error code code. Recovery to OK
// clears the error code and the seconds counter.
func (e *entry) set(h, code uint16, recovered bool) bool {
	changed := false
	if e.snap.Health != h {
		e.snap.Health = h
		changed = true
	}
	if recovered {
		code = 0
		if e.snap.SecondsInError != 0 {
			e.snap.SecondsInError = 0
			changed = true
		}
	}
	if e.snap.LastErrorCode != code {
		e.snap.LastErrorCode = code
		changed = true
	}
	return changed
}
