// internal/transport/transport.go
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Per-call maxima for chunked writes.
const (
	MaxWriteRegisters = 123
	MaxWriteCoils     = 1968
	MaxWriteBytes     = MaxWriteRegisters * 2
)

type Config struct {
	Attempts          int // total attempts per call, minimum 1
	RetryDelay        time.Duration
	InterRequestDelay time.Duration
	ReconnectInterval time.Duration
}

// Transport owns one physical link: it retries codec calls, detects
// disconnection, reconnects on a timer and serializes access.
type Transport struct {
	link    Link
	regs    RegisterCodec // nil when the codec has no register primitives
	areas   AreaCodec     // nil when the codec has no data-block primitives
	cfg     Config
	guard   *flightGuard
	limiter *rate.Limiter
	log     zerolog.Logger

	connected    atomic.Bool
	reconnecting atomic.Bool

	mu     sync.Mutex
	closed bool
	timer  *time.Timer

	onConn  []func(connected bool)
	onRetry []func(op string, attempt int, err error)
}

func New(link Link, cfg Config, log zerolog.Logger) *Transport {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.InterRequestDelay > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.InterRequestDelay), 1)
	}

	t := &Transport{
		link:    link,
		cfg:     cfg,
		guard:   newFlightGuard(),
		limiter: lim,
		log:     log.With().Str("component", "transport").Logger(),
	}
	t.regs, _ = link.(RegisterCodec)
	t.areas, _ = link.(AreaCodec)
	return t
}

// OnConnection registers a connection-state observer. Call before Open.
func (t *Transport) OnConnection(fn func(connected bool)) {
	t.onConn = append(t.onConn, fn)
}

// OnRetry registers a retry observer, called before every attempt after the
// first. Call before Open.
func (t *Transport) OnRetry(fn func(op string, attempt int, err error)) {
	t.onRetry = append(t.onRetry, fn)
}

func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Open starts connecting in the background; failures re-arm the
// reconnection timer until Close.
func (t *Transport) Open() {
	t.arm(0)
}

// Close stops reconnection and closes the link.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	err := t.link.Close()
	if t.connected.CompareAndSwap(true, false) {
		t.notifyConn(false)
	}
	return err
}

// arm schedules one reconnection attempt after d.
func (t *Transport) arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.reconnect)
		return
	}
	t.timer.Reset(d)
}

func (t *Transport) reconnect() {
	if !t.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer t.reconnecting.Store(false)

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || t.connected.Load() {
		return
	}

	if err := t.link.Connect(); err != nil {
		t.log.Warn().Err(err).Dur("retry_in", t.cfg.ReconnectInterval).Msg("connect failed")
		t.arm(t.cfg.ReconnectInterval)
		return
	}
	if t.connected.CompareAndSwap(false, true) {
		t.log.Info().Msg("connected")
		t.notifyConn(true)
	}
}

// lost marks the link down once and starts reconnecting.
func (t *Transport) lost(cause error) {
	if !t.connected.CompareAndSwap(true, false) {
		return
	}
	t.log.Warn().Err(cause).Msg("connection lost")
	_ = t.link.Close()
	t.notifyConn(false)
	t.arm(t.cfg.ReconnectInterval)
}

func (t *Transport) notifyConn(up bool) {
	for _, fn := range t.onConn {
		fn(up)
	}
}

// do runs fn with the retry policy. Disconnection and device exceptions end
// the call immediately.
func (t *Transport) do(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= t.cfg.Attempts; attempt++ {
		if attempt > 1 {
			for _, cb := range t.onRetry {
				cb(op, attempt, last)
			}
			t.log.Warn().Err(last).Str("op", op).Int("attempt", attempt).Msg("retrying")
			if err := sleep(ctx, t.cfg.RetryDelay); err != nil {
				return err
			}
		}

		if !t.connected.Load() {
			return ErrDisconnected
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		switch classify(err) {
		case disconnect:
			t.lost(err)
			return fmt.Errorf("%w: %s: %w", ErrDisconnected, op, err)
		case exception, canceled:
			return fmt.Errorf("%s: %w", op, err)
		}
		last = err
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, op, t.cfg.Attempts, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ---- guarded entry points ----

// Exclusive runs fn with the link held at write priority, for
// read-modify-write sequences.
func (t *Transport) Exclusive(ctx context.Context, fn func(Ops) error) error {
	if err := t.guard.acquireWrite(ctx); err != nil {
		return err
	}
	defer t.guard.releaseWrite()
	return fn(held{t})
}

func (t *Transport) ReadCoils(ctx context.Context, slave byte, offset, count uint16) ([]bool, error) {
	if err := t.guard.acquireRead(ctx); err != nil {
		return nil, err
	}
	defer t.guard.releaseRead()
	return held{t}.ReadCoils(ctx, slave, offset, count)
}

func (t *Transport) ReadDiscreteInputs(ctx context.Context, slave byte, offset, count uint16) ([]bool, error) {
	if err := t.guard.acquireRead(ctx); err != nil {
		return nil, err
	}
	defer t.guard.releaseRead()
	return held{t}.ReadDiscreteInputs(ctx, slave, offset, count)
}

func (t *Transport) ReadInputRegisters(ctx context.Context, slave byte, offset, count uint16) ([]uint16, error) {
	if err := t.guard.acquireRead(ctx); err != nil {
		return nil, err
	}
	defer t.guard.releaseRead()
	return held{t}.ReadInputRegisters(ctx, slave, offset, count)
}

func (t *Transport) ReadHoldingRegisters(ctx context.Context, slave byte, offset, count uint16) ([]uint16, error) {
	if err := t.guard.acquireRead(ctx); err != nil {
		return nil, err
	}
	defer t.guard.releaseRead()
	return held{t}.ReadHoldingRegisters(ctx, slave, offset, count)
}

func (t *Transport) ReadArea(ctx context.Context, db, offset, size int) ([]byte, error) {
	if err := t.guard.acquireRead(ctx); err != nil {
		return nil, err
	}
	defer t.guard.releaseRead()
	return held{t}.ReadArea(ctx, db, offset, size)
}

func (t *Transport) WriteCoils(ctx context.Context, slave byte, offset uint16, values []bool) error {
	return t.Exclusive(ctx, func(o Ops) error { return o.WriteCoils(ctx, slave, offset, values) })
}

func (t *Transport) WriteRegisters(ctx context.Context, slave byte, offset uint16, values []uint16) error {
	return t.Exclusive(ctx, func(o Ops) error { return o.WriteRegisters(ctx, slave, offset, values) })
}

func (t *Transport) WriteArea(ctx context.Context, db, offset int, data []byte) error {
	return t.Exclusive(ctx, func(o Ops) error { return o.WriteArea(ctx, db, offset, data) })
}
