// internal/status/tracker_test.go
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

type published struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (p *published) add(s Snapshot) {
	p.mu.Lock()
	p.snaps = append(p.snaps, s)
	p.mu.Unlock()
}

func (p *published) take() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.snaps
	p.snaps = nil
	return out
}

func newTracker() (*Tracker, *published) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker("line1", zerolog.Nop(), WithClock(func() time.Time { return at }))
	out := &published{}
	tr.Subscribe(out.add)
	return tr, out
}

func TestTracker_StartsUnknown(t *testing.T) {
	tr, out := newTracker()
	tr.Add("D1", true)
	tr.Add("D2", false)

	snaps := out.take()
	require.Len(t, snaps, 2)
	assert.Equal(t, HealthUnknown, snaps[0].Health)
	assert.Equal(t, "line1", snaps[0].Channel)
	assert.Equal(t, HealthDisabled, snaps[1].Health)
}

func TestTracker_ReadOutcomes(t *testing.T) {
	tr, out := newTracker()
	tr.Add("D1", true)
	out.take()

	tr.BlockRead("D1", nil, 0)
	s, _ := tr.Snapshot("D1")
	assert.Equal(t, HealthOK, s.Health)
	assert.Len(t, out.take(), 1)

	// no change, no publish
	tr.BlockRead("D1", nil, 0)
	assert.Empty(t, out.take())

	tr.BlockRead("D1", fmt.Errorf("read: %w", &transport.Exception{Function: 3, Code: 2}), 0)
	s, _ = tr.Snapshot("D1")
	assert.Equal(t, HealthError, s.Health)
	assert.Equal(t, uint16(2), s.LastErrorCode)

	tr.BlockRead("D1", errors.New("timeout"), 0)
	s, _ = tr.Snapshot("D1")
	assert.Equal(t, ErrorGeneric, s.LastErrorCode)

	tr.Tick()
	tr.Tick()
	s, _ = tr.Snapshot("D1")
	assert.Equal(t, uint16(2), s.SecondsInError)

	tr.BlockRead("D1", nil, 0)
	s, _ = tr.Snapshot("D1")
	assert.Equal(t, HealthOK, s.Health)
	assert.Zero(t, s.LastErrorCode)
	assert.Zero(t, s.SecondsInError)

	// canceled reads say nothing about the device
	out.take()
	tr.BlockRead("D1", context.Canceled, 0)
	assert.Empty(t, out.take())
}

func TestTracker_SecondsSaturate(t *testing.T) {
	tr, out := newTracker()
	tr.Add("D1", true)
	tr.devices["D1"].snap.SecondsInError = MaxSecondsInError - 1

	tr.Tick()
	tr.Tick()
	s, _ := tr.Snapshot("D1")
	assert.Equal(t, MaxSecondsInError, s.SecondsInError)

	snaps := out.take()
	assert.Len(t, snaps, 2) // Add, then the one increment
}

func TestTracker_NoTickWhileOKOrDisabled(t *testing.T) {
	tr, _ := newTracker()
	tr.Add("ok", true)
	tr.Add("off", false)
	tr.BlockRead("ok", nil, 0)

	tr.Tick()
	s, _ := tr.Snapshot("ok")
	assert.Zero(t, s.SecondsInError)
	s, _ = tr.Snapshot("off")
	assert.Zero(t, s.SecondsInError)
}

func TestTracker_Demotion(t *testing.T) {
	tr, _ := newTracker()
	tr.Add("D1", true)
	until := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)

	tr.BlockRead("D1", errors.New("timeout"), 0)
	tr.DemotionChanged("D1", true, until)
	s, _ := tr.Snapshot("D1")
	assert.Equal(t, HealthDemoted, s.Health)
	assert.Equal(t, until, s.DemotedUntil)
	assert.Equal(t, ErrorGeneric, s.LastErrorCode)

	// late block results do not override demotion
	tr.BlockRead("D1", nil, 0)
	s, _ = tr.Snapshot("D1")
	assert.Equal(t, HealthDemoted, s.Health)

	tr.DemotionChanged("D1", false, time.Time{})
	s, _ = tr.Snapshot("D1")
	assert.Equal(t, HealthUnknown, s.Health)
	assert.True(t, s.DemotedUntil.IsZero())
}

func TestTracker_EnableAndConnection(t *testing.T) {
	tr, _ := newTracker()
	tr.Add("D1", true)
	tr.Add("D2", true)
	tr.BlockRead("D1", nil, 0)
	tr.BlockRead("D2", nil, 0)

	tr.SetEnabled("D2", false)
	tr.ConnectionChanged(false)

	s, _ := tr.Snapshot("D1")
	assert.Equal(t, HealthError, s.Health)
	s, _ = tr.Snapshot("D2")
	assert.Equal(t, HealthDisabled, s.Health)

	tr.SetEnabled("D2", true)
	s, _ = tr.Snapshot("D2")
	assert.Equal(t, HealthUnknown, s.Health)
}

func TestTracker_RunStops(t *testing.T) {
	tr, _ := newTracker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
