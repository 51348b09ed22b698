// internal/model/model_test.go
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/config"
)

func device(t *testing.T, convention int, family Family) *Device {
	t.Helper()
	d, err := NewDevice("D1", config.DeviceConfig{SlaveID: 7, OffsetConvention: convention}, family)
	require.NoError(t, err)
	return d
}

func TestNewDevice(t *testing.T) {
	off := false
	d, err := NewDevice("D1", config.DeviceConfig{
		Swap:         config.SwapConfig{WordsIn32Bit: true},
		AutoDemotion: config.DemotionConfig{Enabled: true, Failures: 3, DelayMs: 5000},
		PollOnDemand: config.PollOnDemandConfig{Enabled: true, TriggerOnWrite: true, DurationMs: 200},
		BlockSizes:   config.BlockSizesConfig{HoldingRegisters: 50, InputCoils: 5000},
		Enabled:      &off,
	}, Modbus)
	require.NoError(t, err)

	assert.True(t, d.Swap.Words)
	assert.Equal(t, 5*time.Second, d.Demotion.Delay)
	assert.Equal(t, 200*time.Millisecond, d.OnDemand.Duration)
	assert.True(t, d.PollOnDemandEnabled())
	assert.False(t, d.Enabled())
	assert.Equal(t, 50, d.BlockSize(address.HoldingRegister))
	assert.Equal(t, DefaultRegisterBlock, d.BlockSize(address.InputRegister))
	assert.Equal(t, DefaultCoilBlock, d.BlockSize(address.OutputCoil))
	assert.Equal(t, MaxCoilBlock, d.BlockSize(address.InputCoil))

	d.SetEnabled(true)
	assert.True(t, d.Enabled())
}

func TestNewDevice_BadConvention(t *testing.T) {
	_, err := NewDevice("D1", config.DeviceConfig{OffsetConvention: 1}, Modbus)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewTag_Conventions(t *testing.T) {
	// convention 0: no increment, 40001 is the first register on the wire
	tag, err := NewTag(config.TagConfig{ID: "a", Device: "D1", Address: "40001", Type: "int16"}, device(t, 0, Modbus))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), tag.Addr.Offset)

	// convention -1: 40000 is accepted and incremented before validation
	tag, err = NewTag(config.TagConfig{ID: "a", Device: "D1", Address: "40000", Type: "int16"}, device(t, -1, Modbus))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), tag.Addr.Offset)

	_, err = NewTag(config.TagConfig{ID: "a", Device: "D1", Address: "40000", Type: "int16"}, device(t, 0, Modbus))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewTag(t *testing.T) {
	d := device(t, 0, Modbus)
	tag, err := NewTag(config.TagConfig{
		ID: "temps", Device: "D1", Address: "300010", Type: "float", ArraySize: 4, PollMs: 500,
	}, d)
	require.NoError(t, err)

	assert.Equal(t, address.InputRegister, tag.Addr.Space.Class)
	assert.Equal(t, uint32(9), tag.Addr.Offset)
	assert.Equal(t, 8, tag.Size)
	assert.Equal(t, uint32(16), tag.End())
	assert.True(t, tag.ReadOnly)
	assert.True(t, tag.Scheduled())
	assert.Equal(t, 4, tag.Options(d).ArrayLen)

	bit := 3
	tag, err = NewTag(config.TagConfig{ID: "b", Device: "D1", Address: "40010", Type: "bool", Bit: &bit}, d)
	require.NoError(t, err)
	assert.Equal(t, 3, tag.Addr.Bit)
	assert.Equal(t, 1, tag.Size)
	assert.False(t, tag.ReadOnly)
	assert.False(t, tag.Scheduled())
}

func TestNewTag_ConfigErrors(t *testing.T) {
	bit := 2
	modbus := device(t, 0, Modbus)
	tests := []struct {
		name string
		c    config.TagConfig
		d    *Device
	}{
		{"unknown device", config.TagConfig{Address: "40001", Type: "int16"}, nil},
		{"bad address", config.TagConfig{Address: "20001", Type: "int16"}, modbus},
		{"bad type", config.TagConfig{Address: "40001", Type: "decimal"}, modbus},
		{"coil not bool", config.TagConfig{Address: "00001", Type: "int16"}, modbus},
		{"bit on non-bool", config.TagConfig{Address: "40001.2", Type: "int16"}, modbus},
		{"bit twice", config.TagConfig{Address: "40001.2", Type: "bool", Bit: &bit}, modbus},
		{"string without size", config.TagConfig{Address: "40001", Type: "string"}, modbus},
		{"past the end", config.TagConfig{Address: "465536", Type: "int32"}, modbus},
		{"s7 address on modbus", config.TagConfig{Address: "DB1.0", Type: "int16"}, modbus},
		{"modbus address on s7", config.TagConfig{Address: "40001", Type: "int16"}, device(t, 0, S7)},
		{"wider than a block", config.TagConfig{Address: "40001", Type: "string", StringSize: 300}, modbus},
		{"wider than a db block", config.TagConfig{Address: "DB1.0", Type: "string", StringSize: 300}, device(t, 0, S7)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTag(tc.c, tc.d)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestNewTag_DataBlock(t *testing.T) {
	tag, err := NewTag(config.TagConfig{ID: "s", Device: "D1", Address: "DB10.DBW4", Type: "string", StringSize: 5}, device(t, 0, S7))
	require.NoError(t, err)
	assert.Equal(t, address.Space{Class: address.DataBlock, DB: 10}, tag.Addr.Space)
	assert.Equal(t, uint32(4), tag.Addr.Offset)
	assert.Equal(t, 6, tag.Size) // bytes, rounded to whole words
}
