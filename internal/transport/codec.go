// internal/transport/codec.go
package transport

import "context"

// Link is the connection half of a protocol codec.
// Connect must honor the codec's own connect timeout.
type Link interface {
	Connect() error
	Close() error
}

// RegisterCodec is a Modbus-style codec. Offsets are zero-based wire offsets.
type RegisterCodec interface {
	Link
	ReadCoils(slave byte, offset, count uint16) ([]bool, error)
	ReadDiscreteInputs(slave byte, offset, count uint16) ([]bool, error)
	ReadInputRegisters(slave byte, offset, count uint16) ([]uint16, error)
	ReadHoldingRegisters(slave byte, offset, count uint16) ([]uint16, error)
	WriteCoils(slave byte, offset uint16, values []bool) error
	WriteRegisters(slave byte, offset uint16, values []uint16) error
}

// AreaCodec is a data-block codec addressed by block number and byte offset.
type AreaCodec interface {
	Link
	ReadArea(db, offset, size int) ([]byte, error)
	WriteArea(db, offset int, data []byte) error
}

// Ops are the retried primitives a caller may use, inside or outside
// Transport.Exclusive.
type Ops interface {
	ReadCoils(ctx context.Context, slave byte, offset, count uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, slave byte, offset, count uint16) ([]bool, error)
	ReadInputRegisters(ctx context.Context, slave byte, offset, count uint16) ([]uint16, error)
	ReadHoldingRegisters(ctx context.Context, slave byte, offset, count uint16) ([]uint16, error)
	ReadArea(ctx context.Context, db, offset, size int) ([]byte, error)
	WriteCoils(ctx context.Context, slave byte, offset uint16, values []bool) error
	WriteRegisters(ctx context.Context, slave byte, offset uint16, values []uint16) error
	WriteArea(ctx context.Context, db, offset int, data []byte) error
}
