// internal/model/device.go
package model

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/convert"
	"github.com/tamzrod/fieldbus-poller/internal/demotion"
)

// ErrConfig marks a registration failure. Tags carrying it are never
// scheduled and never produce fresh values.
var ErrConfig = errors.New("configuration error")

// Family is the addressing family a device is reached through.
type Family uint8

const (
	Modbus Family = iota
	S7
)

// Block-size fallbacks used when a device leaves a class at zero.
const (
	DefaultCoilBlock     = 2000
	DefaultRegisterBlock = 120
	DefaultDataBlock     = 200
)

// Protocol ceilings on a single Modbus read request.
const (
	MaxCoilBlock     = 2000
	MaxRegisterBlock = 125
)

type PollOnDemand struct {
	TriggerOnWrite bool
	Duration       time.Duration
}

// Device is the runtime view of one slave or PLC.
type Device struct {
	ID         string
	SlaveID    byte
	Family     Family
	Convention int
	Swap       convert.Swap
	Demotion   demotion.Policy
	OnDemand   PollOnDemand

	blocks   config.BlockSizesConfig
	enabled  atomic.Bool
	podAllow atomic.Bool
}

// NewDevice builds a device. An invalid offset convention is a
// configuration error.
func NewDevice(id string, c config.DeviceConfig, family Family) (*Device, error) {
	if err := address.CheckConvention(c.OffsetConvention); err != nil {
		return nil, fmt.Errorf("%w: device %q: %v", ErrConfig, id, err)
	}

	d := &Device{
		ID:         id,
		SlaveID:    c.SlaveID,
		Family:     family,
		Convention: c.OffsetConvention,
		Swap: convert.Swap{
			DWords: c.Swap.DWordsIn64Bit,
			Words:  c.Swap.WordsIn32Bit,
			Bytes:  c.Swap.BytesInWord,
			Bits:   c.Swap.BitsInWord,
		},
		Demotion: demotion.Policy{
			Enabled:  c.AutoDemotion.Enabled,
			Failures: c.AutoDemotion.Failures,
			Delay:    time.Duration(c.AutoDemotion.DelayMs) * time.Millisecond,
		},
		OnDemand: PollOnDemand{
			TriggerOnWrite: c.PollOnDemand.TriggerOnWrite,
			Duration:       time.Duration(c.PollOnDemand.DurationMs) * time.Millisecond,
		},
		blocks: c.BlockSizes,
	}
	d.enabled.Store(c.Enabled == nil || *c.Enabled)
	d.podAllow.Store(c.PollOnDemand.Enabled)
	return d, nil
}

func (d *Device) Enabled() bool             { return d.enabled.Load() }
func (d *Device) SetEnabled(on bool)        { d.enabled.Store(on) }
func (d *Device) PollOnDemandEnabled() bool { return d.podAllow.Load() }
func (d *Device) SetPollOnDemand(on bool)   { d.podAllow.Store(on) }

// BlockSize returns the per-request cap for a class, in the class's units.
// Configured sizes above the protocol ceiling are clamped to it.
func (d *Device) BlockSize(c address.Class) int {
	var n, def, ceil int
	switch c {
	case address.OutputCoil:
		n, def, ceil = d.blocks.OutputCoils, DefaultCoilBlock, MaxCoilBlock
	case address.InputCoil:
		n, def, ceil = d.blocks.InputCoils, DefaultCoilBlock, MaxCoilBlock
	case address.InputRegister:
		n, def, ceil = d.blocks.InputRegisters, DefaultRegisterBlock, MaxRegisterBlock
	case address.HoldingRegister:
		n, def, ceil = d.blocks.HoldingRegisters, DefaultRegisterBlock, MaxRegisterBlock
	case address.DataBlock:
		n, def = d.blocks.DataBlocks, DefaultDataBlock
	}
	if n <= 0 {
		n = def
	}
	if ceil > 0 && n > ceil {
		return ceil
	}
	return n
}
