// internal/transport/modbus/codec_test.go
package modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

var _ transport.RegisterCodec = (*Codec)(nil)

func TestPackBits(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, true}
	b := packBits(bits)
	assert.Equal(t, []byte{0x0D, 0x01}, b)

	out, err := unpackBits(b, len(bits))
	require.NoError(t, err)
	assert.Equal(t, bits, out)

	_, err = unpackBits(b, 17)
	assert.ErrorIs(t, err, transport.ErrRejected)
}

func TestPackRegisters(t *testing.T) {
	regs := []uint16{0x1234, 0xABCD}
	b := packRegisters(regs)
	assert.Equal(t, []byte{0x12, 0x34, 0xAB, 0xCD}, b)

	out, err := unpackRegisters(b, 2)
	require.NoError(t, err)
	assert.Equal(t, regs, out)

	_, err = unpackRegisters(b, 3)
	assert.Error(t, err)
}

func TestWrapException(t *testing.T) {
	err := wrap(&modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: modbus.ExceptionCodeIllegalDataAddress})
	assert.ErrorIs(t, err, transport.ErrException)
	var ex *transport.Exception
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, uint16(2), ex.ErrorCode())

	short := errors.New("modbus: response data size '3' does not match count '4'")
	assert.ErrorIs(t, wrap(short), transport.ErrRejected)

	plain := errors.New("modbus: response transaction id '7' does not match request '8'")
	assert.Equal(t, plain, wrap(plain))
	assert.NoError(t, wrap(nil))
}

func TestOversizeReadRejected(t *testing.T) {
	// the client checks the quantity before touching the network
	c := NewTCP(TCPConfig{Address: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	_, err := c.ReadHoldingRegisters(1, 0, 150)
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.NotErrorIs(t, err, transport.ErrException)
}

func TestParity(t *testing.T) {
	assert.Equal(t, "N", parity("none"))
	assert.Equal(t, "O", parity("Odd"))
	assert.Equal(t, "E", parity("even"))
	assert.Equal(t, "E", parity(""))
}

func TestNotConnectedFails(t *testing.T) {
	// nothing listens on port 1
	c := NewTCP(TCPConfig{Address: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	assert.Error(t, c.Connect())
	_ = c.Close()
}

func TestConnectTimeoutRestored(t *testing.T) {
	c := NewTCP(TCPConfig{Address: "127.0.0.1:1", ConnectTimeout: 50 * time.Millisecond, Timeout: 200 * time.Millisecond})
	assert.Error(t, c.Connect())

	h, ok := c.link.(*modbus.TCPClientHandler)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, h.Timeout)
}
