// internal/control/queue.go
package control

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type key struct {
	device string
	name   Name
}

type pending struct {
	control Control
	value   any
	since   time.Time // first update of the window
}

// Queue coalesces control updates per (device, control). The window opens
// with the first update; later updates replace the value but keep the
// window. Flush applies every update whose window has elapsed.
type Queue struct {
	target   Target
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[key]*pending
}

func NewQueue(target Target, debounce time.Duration, log zerolog.Logger) *Queue {
	return &Queue{
		target:   target,
		debounce: debounce,
		log:      log.With().Str("component", "control").Logger(),
		pending:  make(map[key]*pending),
	}
}

// Put validates v and queues it. Invalid values are rejected immediately.
func (q *Queue) Put(device string, c Control, v any, now time.Time) error {
	parsed, err := c.parse(v)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	k := key{device: device, name: c.Name}
	if p, ok := q.pending[k]; ok {
		p.value = parsed
		return nil
	}
	q.pending[k] = &pending{control: c, value: parsed, since: now}
	return nil
}

// Flush applies due updates in device then control order. Meant to run as
// a scheduler tick hook.
func (q *Queue) Flush(now time.Time) {
	q.mu.Lock()
	var due []key
	for k, p := range q.pending {
		if now.Sub(p.since) >= q.debounce {
			due = append(due, k)
		}
	}
	if len(due) == 0 {
		q.mu.Unlock()
		return
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].device != due[j].device {
			return due[i].device < due[j].device
		}
		return due[i].name < due[j].name
	})
	apply := make([]*pending, len(due))
	for i, k := range due {
		apply[i] = q.pending[k]
		delete(q.pending, k)
	}
	q.mu.Unlock()

	for i, p := range apply {
		q.log.Info().
			Str("device", due[i].device).
			Str("control", string(p.control.Name)).
			Interface("value", p.value).
			Msg("control applied")
		p.control.apply(q.target, due[i].device, p.value)
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
