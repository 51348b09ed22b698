// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/schedule"
	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

// Link is the transport surface the reader depends on.
type Link interface {
	transport.Ops
	Connected() bool
	Exclusive(ctx context.Context, fn func(transport.Ops) error) error
}

// Demoter is the per-device circuit breaker.
type Demoter interface {
	IsDemoted(device string) bool
	ReadFail(device string)
	ReadSuccess(device string)
}

// Observer receives per-block and per-write diagnostics.
type Observer interface {
	BlockRead(device string, err error, took time.Duration)
	WriteDone(device string, took time.Duration, err error)
}

type Option func(*Reader)

func WithObserver(o Observer) Option {
	return func(r *Reader) { r.obs = append(r.obs, o) }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// Reader turns batches into wire requests and wire data into tag results.
type Reader struct {
	link    Link
	demoter Demoter
	obs     []Observer
	now     func() time.Time
	log     zerolog.Logger
}

func New(link Link, demoter Demoter, log zerolog.Logger, opts ...Option) *Reader {
	r := &Reader{
		link:    link,
		demoter: demoter,
		now:     time.Now,
		log:     log.With().Str("component", "reader").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ReadBatch reads one batch block by block and reports every item through
// fn, except when the link drops or ctx ends mid-batch: the remaining items
// then get no result.
func (r *Reader) ReadBatch(ctx context.Context, b schedule.Batch, dev *model.Device, fn func(Result)) {
	switch {
	case !dev.Enabled():
		r.failAll(b.Items, ErrDisabled, fn)
		return
	case r.demoter.IsDemoted(dev.ID):
		r.failAll(b.Items, ErrDemoted, fn)
		return
	case !r.link.Connected():
		r.failAll(b.Items, transport.ErrDisconnected, fn)
		return
	}

	blocks := split(b, dev.BlockSize(b.Space.Class))
	for i, blk := range blocks {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && r.demoter.IsDemoted(dev.ID) {
			for _, rest := range blocks[i:] {
				r.failAll(rest.items, ErrDemoted, fn)
			}
			return
		}

		start := r.now()
		data, err := r.fetch(ctx, dev, blk)
		code := CodeOf(err)
		for _, o := range r.obs {
			o.BlockRead(dev.ID, err, r.now().Sub(start))
		}

		switch {
		case err == nil:
			r.demoter.ReadSuccess(dev.ID)
			r.parse(blk, data, dev, fn)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case errors.Is(err, transport.ErrDisconnected):
			r.log.Debug().Str("device", dev.ID).Int("abandoned", len(blocks)-i).Msg("link lost mid-batch")
			return
		case code == CommsError:
			r.demoter.ReadFail(dev.ID)
			r.failAll(blk.items, err, fn)
		default:
			r.log.Warn().Err(err).Str("device", dev.ID).Stringer("space", b.Space).Uint32("start", blk.start).Msg("block read failed")
			r.failAll(blk.items, err, fn)
		}
	}
}

func (r *Reader) failAll(items []schedule.Item, err error, fn func(Result)) {
	at := r.now()
	code := CodeOf(err)
	for _, it := range items {
		fn(Result{Tag: it.Tag, Code: code, Quality: QualityOf(code), Err: err, Due: it.Due, At: at})
	}
}

func (r *Reader) parse(blk block, data wire, dev *model.Device, fn func(Result)) {
	at := r.now()
	for _, it := range blk.items {
		v, err := data.value(it.Tag, blk.start, dev)
		if err != nil {
			fn(Result{Tag: it.Tag, Code: ParseError, Quality: ConfigError, Err: err, Due: it.Due, At: at})
			continue
		}
		fn(Result{Tag: it.Tag, Code: Success, Quality: Good, Value: v, Due: it.Due, At: at})
	}
}
