// internal/transport/ops.go
package transport

import (
	"context"
	"fmt"
)

// held implements Ops for a caller that already owns the flight guard.
type held struct{ t *Transport }

func (h held) ReadCoils(ctx context.Context, slave byte, offset, count uint16) (out []bool, err error) {
	if h.t.regs == nil {
		return nil, ErrUnsupported
	}
	err = h.t.do(ctx, "read coils", func() (e error) {
		out, e = h.t.regs.ReadCoils(slave, offset, count)
		return e
	})
	return out, err
}

func (h held) ReadDiscreteInputs(ctx context.Context, slave byte, offset, count uint16) (out []bool, err error) {
	if h.t.regs == nil {
		return nil, ErrUnsupported
	}
	err = h.t.do(ctx, "read discrete inputs", func() (e error) {
		out, e = h.t.regs.ReadDiscreteInputs(slave, offset, count)
		return e
	})
	return out, err
}

func (h held) ReadInputRegisters(ctx context.Context, slave byte, offset, count uint16) (out []uint16, err error) {
	if h.t.regs == nil {
		return nil, ErrUnsupported
	}
	err = h.t.do(ctx, "read input registers", func() (e error) {
		out, e = h.t.regs.ReadInputRegisters(slave, offset, count)
		return e
	})
	return out, err
}

func (h held) ReadHoldingRegisters(ctx context.Context, slave byte, offset, count uint16) (out []uint16, err error) {
	if h.t.regs == nil {
		return nil, ErrUnsupported
	}
	err = h.t.do(ctx, "read holding registers", func() (e error) {
		out, e = h.t.regs.ReadHoldingRegisters(slave, offset, count)
		return e
	})
	return out, err
}

func (h held) ReadArea(ctx context.Context, db, offset, size int) (out []byte, err error) {
	if h.t.areas == nil {
		return nil, ErrUnsupported
	}
	err = h.t.do(ctx, "read area", func() (e error) {
		out, e = h.t.areas.ReadArea(db, offset, size)
		return e
	})
	return out, err
}

func (h held) WriteCoils(ctx context.Context, slave byte, offset uint16, values []bool) error {
	if h.t.regs == nil {
		return ErrUnsupported
	}
	return forEachChunk(int(offset), len(values), MaxWriteCoils, func(start, i, j int) error {
		return h.t.do(ctx, "write coils", func() error {
			return h.t.regs.WriteCoils(slave, uint16(start), values[i:j])
		})
	})
}

func (h held) WriteRegisters(ctx context.Context, slave byte, offset uint16, values []uint16) error {
	if h.t.regs == nil {
		return ErrUnsupported
	}
	return forEachChunk(int(offset), len(values), MaxWriteRegisters, func(start, i, j int) error {
		return h.t.do(ctx, "write registers", func() error {
			return h.t.regs.WriteRegisters(slave, uint16(start), values[i:j])
		})
	})
}

func (h held) WriteArea(ctx context.Context, db, offset int, data []byte) error {
	if h.t.areas == nil {
		return ErrUnsupported
	}
	return forEachChunk(offset, len(data), MaxWriteBytes, func(start, i, j int) error {
		return h.t.do(ctx, "write area", func() error {
			return h.t.areas.WriteArea(db, start, data[i:j])
		})
	})
}

// forEachChunk calls fn for consecutive slices [i,j) of at most size
// elements, with start the wire offset of element i. The first failing
// chunk ends the walk.
func forEachChunk(offset, total, size int, fn func(start, i, j int) error) error {
	for i := 0; i < total; i += size {
		j := min(i+size, total)
		if err := fn(offset+i, i, j); err != nil {
			return fmt.Errorf("chunk at %d: %w", offset+i, err)
		}
	}
	return nil
}
