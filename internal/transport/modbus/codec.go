// internal/transport/modbus/codec.go
package modbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"

	"github.com/tamzrod/fieldbus-poller/internal/transport"
)

// Codec is one goburrow handler shared by every slave on the link.
// It serializes requests because it mutates the slave id per call.
type Codec struct {
	mu       sync.Mutex
	link     link
	client   modbus.Client
	setSlave func(byte)

	// dial uses a separate timeout from requests when set
	connectTimeout time.Duration
	setTimeout     func(time.Duration)
	timeout        time.Duration
}

type link interface {
	Connect() error
	Close() error
}

type TCPConfig struct {
	Address        string // host:port
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

type RTUConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // none, even, odd
	RS485    bool
	Timeout  time.Duration
}

func NewTCP(cfg TCPConfig) *Codec {
	h := modbus.NewTCPClientHandler(cfg.Address)
	h.Timeout = cfg.Timeout
	h.IdleTimeout = 0

	return &Codec{
		link:           h,
		client:         modbus.NewClient(h),
		setSlave:       func(id byte) { h.SlaveId = id },
		connectTimeout: cfg.ConnectTimeout,
		setTimeout:     func(d time.Duration) { h.Timeout = d },
		timeout:        cfg.Timeout,
	}
}

func NewRTU(cfg RTUConfig) *Codec {
	h := modbus.NewRTUClientHandler(cfg.Device)
	h.Config = serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   parity(cfg.Parity),
		Timeout:  cfg.Timeout,
		RS485:    serial.RS485Config{Enabled: cfg.RS485},
	}
	h.IdleTimeout = 0

	return &Codec{
		link:     h,
		client:   modbus.NewClient(h),
		setSlave: func(id byte) { h.SlaveId = id },
	}
}

func parity(p string) string {
	switch strings.ToLower(p) {
	case "none", "n":
		return "N"
	case "odd", "o":
		return "O"
	default:
		return "E"
	}
}

func (c *Codec) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setTimeout != nil && c.connectTimeout > 0 {
		c.setTimeout(c.connectTimeout)
		defer c.setTimeout(c.timeout)
	}
	return c.link.Connect()
}

func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Close()
}

func (c *Codec) ReadCoils(slave byte, offset, count uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setSlave(slave)
	b, err := c.client.ReadCoils(offset, count)
	if err != nil {
		return nil, wrap(err)
	}
	return unpackBits(b, int(count))
}

func (c *Codec) ReadDiscreteInputs(slave byte, offset, count uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setSlave(slave)
	b, err := c.client.ReadDiscreteInputs(offset, count)
	if err != nil {
		return nil, wrap(err)
	}
	return unpackBits(b, int(count))
}

func (c *Codec) ReadInputRegisters(slave byte, offset, count uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setSlave(slave)
	b, err := c.client.ReadInputRegisters(offset, count)
	if err != nil {
		return nil, wrap(err)
	}
	return unpackRegisters(b, int(count))
}

func (c *Codec) ReadHoldingRegisters(slave byte, offset, count uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setSlave(slave)
	b, err := c.client.ReadHoldingRegisters(offset, count)
	if err != nil {
		return nil, wrap(err)
	}
	return unpackRegisters(b, int(count))
}

func (c *Codec) WriteCoils(slave byte, offset uint16, values []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setSlave(slave)
	_, err := c.client.WriteMultipleCoils(offset, uint16(len(values)), packBits(values))
	return wrap(err)
}

func (c *Codec) WriteRegisters(slave byte, offset uint16, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setSlave(slave)
	_, err := c.client.WriteMultipleRegisters(offset, uint16(len(values)), packRegisters(values))
	return wrap(err)
}

// wrap marks device exception responses and the client's own validation
// failures so the transport does not retry them.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &transport.Exception{Function: me.FunctionCode, Code: me.ExceptionCode}
	}
	if rejected(err) {
		return fmt.Errorf("%w: %v", transport.ErrRejected, err)
	}
	return err
}

// The client reports quantity and response-shape checks as plain
// formatted errors.
var rejectPrefixes = []string{
	"modbus: quantity ",
	"modbus: response data size ",
	"modbus: response address ",
	"modbus: response quantity ",
	"modbus: response value ",
}

func rejected(err error) bool {
	msg := err.Error()
	for _, p := range rejectPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

// ---- wire packing ----

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, v := range bits {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func unpackBits(b []byte, n int) ([]bool, error) {
	if len(b)*8 < n {
		return nil, fmt.Errorf("%w: modbus: short bit response: %d bytes for %d bits", transport.ErrRejected, len(b), n)
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = b[i/8]&(1<<uint(i%8)) != 0
	}
	return out, nil
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}

func unpackRegisters(b []byte, n int) ([]uint16, error) {
	if len(b) < n*2 {
		return nil, fmt.Errorf("%w: modbus: short register response: %d bytes for %d registers", transport.ErrRejected, len(b), n)
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out, nil
}
