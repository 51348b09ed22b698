// internal/poller/blocks.go
package poller

import (
	"context"
	"fmt"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/convert"
	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/schedule"
)

// block is one wire request worth of a batch.
type block struct {
	space address.Space
	start uint32
	end   uint32
	items []schedule.Item
}

func (b block) count() int { return int(b.end-b.start) + 1 }

// split cuts a batch into blocks of at most limit units. Tags are never cut:
// a tag that does not fit starts the next block, and a tag larger than
// limit gets a block of its own.
func split(b schedule.Batch, limit int) []block {
	if limit < 1 {
		limit = 1
	}
	var out []block
	var cur *block
	for _, it := range b.Items {
		start, end := it.Tag.Addr.Offset, it.Tag.End()
		if cur != nil && int(max(cur.end, end)-cur.start)+1 <= limit {
			cur.end = max(cur.end, end)
			cur.items = append(cur.items, it)
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &block{space: b.Space, start: start, end: end, items: []schedule.Item{it}}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// wire is the raw answer to one block request. Data-block bytes are held as
// big-endian words.
type wire struct {
	bits  []bool
	words []uint16
	bytes bool // words came from a byte-addressed area
}

func (r *Reader) fetch(ctx context.Context, dev *model.Device, b block) (wire, error) {
	off, n := uint16(b.start), uint16(b.count())
	switch b.space.Class {
	case address.OutputCoil:
		v, err := r.link.ReadCoils(ctx, dev.SlaveID, off, n)
		return wire{bits: v}, err
	case address.InputCoil:
		v, err := r.link.ReadDiscreteInputs(ctx, dev.SlaveID, off, n)
		return wire{bits: v}, err
	case address.InputRegister:
		v, err := r.link.ReadInputRegisters(ctx, dev.SlaveID, off, n)
		return wire{words: v}, err
	case address.HoldingRegister:
		v, err := r.link.ReadHoldingRegisters(ctx, dev.SlaveID, off, n)
		return wire{words: v}, err
	case address.DataBlock:
		v, err := r.link.ReadArea(ctx, b.space.DB, int(b.start), b.count())
		if err != nil {
			return wire{}, err
		}
		// an odd tail byte is padded so the last word is whole
		if len(v)%2 == 1 {
			v = append(v, 0)
		}
		return wire{words: BytesToWords(v), bytes: true}, nil
	}
	return wire{}, fmt.Errorf("poller: unknown class %s", b.space.Class)
}

// value extracts and converts one tag from the block data.
func (w wire) value(t *model.Tag, start uint32, dev *model.Device) (any, error) {
	rel := int(t.Addr.Offset - start)

	if w.bits != nil {
		if rel+t.Size > len(w.bits) {
			return nil, fmt.Errorf("%w: %d coils in block, tag needs %d at %d", convert.ErrLength, len(w.bits), t.Size, rel)
		}
		return convert.DecodeBits(w.bits[rel:rel+t.Size], t.ArrayLen)
	}

	n := t.Size
	if w.bytes {
		// data-block offsets count bytes
		if rel%2 == 1 {
			return w.oddValue(t, rel, dev)
		}
		rel, n = rel/2, (t.Size+1)/2
	}
	if rel+n > len(w.words) {
		return nil, fmt.Errorf("%w: %d words in block, tag needs %d at %d", convert.ErrLength, len(w.words), n, rel)
	}
	words := w.words[rel : rel+n]

	if t.Addr.Bit >= 0 {
		return convert.Bit(words[0], t.Addr.Bit, dev.Swap), nil
	}
	return convert.Decode(words, t.Type, t.Options(dev))
}

// oddValue handles a data-block tag starting on an odd byte: its words
// straddle the block's word boundaries, so they are rebuilt from bytes.
func (w wire) oddValue(t *model.Tag, rel int, dev *model.Device) (any, error) {
	raw := WordsToBytes(w.words)
	if rel+t.Size > len(raw) {
		return nil, fmt.Errorf("%w: %d bytes in block, tag needs %d at %d", convert.ErrLength, len(raw), t.Size, rel)
	}
	b := raw[rel : rel+t.Size]
	if len(b)%2 == 1 {
		b = append(append([]byte(nil), b...), 0)
	}
	words := BytesToWords(b)
	if t.Addr.Bit >= 0 {
		return convert.Bit(words[0], t.Addr.Bit, dev.Swap), nil
	}
	return convert.Decode(words, t.Type, t.Options(dev))
}

// BytesToWords packs big-endian byte pairs. len(b) must be even.
func BytesToWords(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out
}

func WordsToBytes(w []uint16) []byte {
	out := make([]byte, len(w)*2)
	for i, v := range w {
		out[2*i] = byte(v >> 8)
		out[2*i+1] = byte(v)
	}
	return out
}
