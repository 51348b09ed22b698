// internal/transport/logging.go
package transport

import (
	"time"

	"github.com/rs/zerolog"
)

// LoggingCodec decorates a codec with one debug event per primitive call.
// It satisfies both codec contracts; primitives the wrapped codec lacks
// return ErrUnsupported.
type LoggingCodec struct {
	inner Link
	regs  RegisterCodec
	areas AreaCodec
	log   zerolog.Logger
}

func NewLoggingCodec(inner Link, log zerolog.Logger) *LoggingCodec {
	c := &LoggingCodec{inner: inner, log: log.With().Str("component", "codec").Logger()}
	c.regs, _ = inner.(RegisterCodec)
	c.areas, _ = inner.(AreaCodec)
	return c
}

func (c *LoggingCodec) trace(op string, start time.Time, err error) *zerolog.Event {
	return c.log.Debug().Err(err).Str("op", op).Dur("took", time.Since(start))
}

func (c *LoggingCodec) Connect() error {
	start := time.Now()
	err := c.inner.Connect()
	c.trace("connect", start, err).Msg("codec")
	return err
}

func (c *LoggingCodec) Close() error {
	start := time.Now()
	err := c.inner.Close()
	c.trace("close", start, err).Msg("codec")
	return err
}

func (c *LoggingCodec) ReadCoils(slave byte, offset, count uint16) ([]bool, error) {
	if c.regs == nil {
		return nil, ErrUnsupported
	}
	start := time.Now()
	v, err := c.regs.ReadCoils(slave, offset, count)
	c.trace("read coils", start, err).Uint8("slave", slave).Uint16("offset", offset).Uint16("count", count).Msg("codec")
	return v, err
}

func (c *LoggingCodec) ReadDiscreteInputs(slave byte, offset, count uint16) ([]bool, error) {
	if c.regs == nil {
		return nil, ErrUnsupported
	}
	start := time.Now()
	v, err := c.regs.ReadDiscreteInputs(slave, offset, count)
	c.trace("read discrete inputs", start, err).Uint8("slave", slave).Uint16("offset", offset).Uint16("count", count).Msg("codec")
	return v, err
}

func (c *LoggingCodec) ReadInputRegisters(slave byte, offset, count uint16) ([]uint16, error) {
	if c.regs == nil {
		return nil, ErrUnsupported
	}
	start := time.Now()
	v, err := c.regs.ReadInputRegisters(slave, offset, count)
	c.trace("read input registers", start, err).Uint8("slave", slave).Uint16("offset", offset).Uint16("count", count).Msg("codec")
	return v, err
}

func (c *LoggingCodec) ReadHoldingRegisters(slave byte, offset, count uint16) ([]uint16, error) {
	if c.regs == nil {
		return nil, ErrUnsupported
	}
	start := time.Now()
	v, err := c.regs.ReadHoldingRegisters(slave, offset, count)
	c.trace("read holding registers", start, err).Uint8("slave", slave).Uint16("offset", offset).Uint16("count", count).Msg("codec")
	return v, err
}

func (c *LoggingCodec) WriteCoils(slave byte, offset uint16, values []bool) error {
	if c.regs == nil {
		return ErrUnsupported
	}
	start := time.Now()
	err := c.regs.WriteCoils(slave, offset, values)
	c.trace("write coils", start, err).Uint8("slave", slave).Uint16("offset", offset).Int("count", len(values)).Msg("codec")
	return err
}

func (c *LoggingCodec) WriteRegisters(slave byte, offset uint16, values []uint16) error {
	if c.regs == nil {
		return ErrUnsupported
	}
	start := time.Now()
	err := c.regs.WriteRegisters(slave, offset, values)
	c.trace("write registers", start, err).Uint8("slave", slave).Uint16("offset", offset).Int("count", len(values)).Msg("codec")
	return err
}

func (c *LoggingCodec) ReadArea(db, offset, size int) ([]byte, error) {
	if c.areas == nil {
		return nil, ErrUnsupported
	}
	start := time.Now()
	v, err := c.areas.ReadArea(db, offset, size)
	c.trace("read area", start, err).Int("db", db).Int("offset", offset).Int("size", size).Msg("codec")
	return v, err
}

func (c *LoggingCodec) WriteArea(db, offset int, data []byte) error {
	if c.areas == nil {
		return ErrUnsupported
	}
	start := time.Now()
	err := c.areas.WriteArea(db, offset, data)
	c.trace("write area", start, err).Int("db", db).Int("offset", offset).Int("size", len(data)).Msg("codec")
	return err
}
