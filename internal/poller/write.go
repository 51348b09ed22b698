// internal/poller/write.go
package poller

import (
	"context"
	"fmt"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/convert"
	"github.com/tamzrod/fieldbus-poller/internal/model"
	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

// Write converts v for tag t and writes it to the device. Demotion does not
// block writes; a disabled device does.
func (r *Reader) Write(ctx context.Context, t *model.Tag, dev *model.Device, v any) (err error) {
	if t.ReadOnly {
		return fmt.Errorf("%w: %s", ErrNotWritable, t.ID)
	}
	if !dev.Enabled() {
		return fmt.Errorf("%w: %s", ErrDisabled, dev.ID)
	}

	start := r.now()
	defer func() {
		took := r.now().Sub(start)
		for _, o := range r.obs {
			o.WriteDone(dev.ID, took, err)
		}
		ev := r.log.Debug()
		if err != nil {
			ev = r.log.Warn().Err(err)
		}
		ev.Str("device", dev.ID).Str("tag", t.ID).Dur("took", took).Msg("write")
	}()

	a := t.Addr
	switch {
	case a.Space.Class == address.OutputCoil:
		bits, err := convert.EncodeBits(v, t.ArrayLen)
		if err != nil {
			return err
		}
		return r.link.Exclusive(ctx, func(o transport.Ops) error {
			return o.WriteCoils(ctx, dev.SlaveID, uint16(a.Offset), bits)
		})

	case a.Bit >= 0:
		on, err := convert.EncodeBits(v, 0)
		if err != nil {
			return err
		}
		return r.link.Exclusive(ctx, func(o transport.Ops) error {
			return writeBit(ctx, o, dev, a, on[0])
		})

	case a.Space.Class == address.HoldingRegister:
		words, err := convert.Encode(v, t.Type, t.Options(dev))
		if err != nil {
			return err
		}
		return r.link.Exclusive(ctx, func(o transport.Ops) error {
			return o.WriteRegisters(ctx, dev.SlaveID, uint16(a.Offset), words)
		})

	case a.Space.Class == address.DataBlock:
		words, err := convert.Encode(v, t.Type, t.Options(dev))
		if err != nil {
			return err
		}
		data := WordsToBytes(words)[:t.Size]
		return r.link.Exclusive(ctx, func(o transport.Ops) error {
			return o.WriteArea(ctx, a.Space.DB, int(a.Offset), data)
		})
	}
	return fmt.Errorf("%w: %s", ErrNotWritable, t.ID)
}

// writeBit does a read-modify-write of the word holding one bit. The caller
// holds the link exclusively so no other request lands in between.
func writeBit(ctx context.Context, o transport.Ops, dev *model.Device, a address.Address, on bool) error {
	if a.Space.Class == address.DataBlock {
		raw, err := o.ReadArea(ctx, a.Space.DB, int(a.Offset), 2)
		if err != nil {
			return err
		}
		if len(raw) < 2 {
			return fmt.Errorf("%w: short data block read", convert.ErrLength)
		}
		w := convert.SetBit(BytesToWords(raw[:2])[0], a.Bit, on, dev.Swap)
		return o.WriteArea(ctx, a.Space.DB, int(a.Offset), WordsToBytes([]uint16{w}))
	}

	cur, err := o.ReadHoldingRegisters(ctx, dev.SlaveID, uint16(a.Offset), 1)
	if err != nil {
		return err
	}
	if len(cur) < 1 {
		return fmt.Errorf("%w: empty register read", convert.ErrLength)
	}
	w := convert.SetBit(cur[0], a.Bit, on, dev.Swap)
	return o.WriteRegisters(ctx, dev.SlaveID, uint16(a.Offset), []uint16{w})
}
