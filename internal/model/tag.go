// internal/model/tag.go
package model

import (
	"fmt"
	"time"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/config"
	"github.com/tamzrod/fieldbus-poller/internal/convert"
)

// Tag is an immutable, registered process value.
type Tag struct {
	ID        string
	Device    string
	Addr      address.Address // zero-based wire address
	Type      address.DataType
	StringLen int
	ArrayLen  int
	Size      int           // footprint in class units: bits, words or bytes
	Rate      time.Duration // <= 0: never scheduled
	ReadOnly  bool
}

// NewTag validates a tag against its device and resolves its wire address.
// Every failure wraps ErrConfig.
func NewTag(c config.TagConfig, d *Device) (*Tag, error) {
	t, err := newTag(c, d)
	if err != nil {
		return nil, fmt.Errorf("%w: tag %q: %v", ErrConfig, c.ID, err)
	}
	return t, nil
}

func newTag(c config.TagConfig, d *Device) (*Tag, error) {
	if d == nil {
		return nil, fmt.Errorf("unknown device %q", c.Device)
	}

	a, err := address.Parse(c.Address)
	if err != nil {
		return nil, err
	}
	dt, err := address.ParseType(c.Type)
	if err != nil {
		return nil, err
	}

	isS7 := a.Space.Class == address.DataBlock
	if isS7 != (d.Family == S7) {
		return nil, fmt.Errorf("address %q does not belong to this channel's protocol", c.Address)
	}

	if c.Bit != nil {
		if a.Bit >= 0 {
			return nil, fmt.Errorf("bit given twice for %q", c.Address)
		}
		if *c.Bit < 0 || *c.Bit > 15 || a.Space.Class.IsBit() {
			return nil, fmt.Errorf("bit %d not valid for %q", *c.Bit, c.Address)
		}
		a.Bit = *c.Bit
	}

	switch {
	case a.Bit >= 0 && (dt != address.Bool || c.ArraySize > 0):
		return nil, fmt.Errorf("bit tags must be scalar bool, got %s", dt)
	case a.Space.Class.IsBit() && dt != address.Bool:
		return nil, fmt.Errorf("coil tags must be bool, got %s", dt)
	case dt == address.String && c.StringSize <= 0:
		return nil, fmt.Errorf("string tags need a string_size")
	case c.ArraySize < 0 || c.StringSize < 0:
		return nil, fmt.Errorf("negative size")
	}

	wire, err := address.Wire(a, d.Convention)
	if err != nil {
		return nil, err
	}

	t := &Tag{
		ID:        c.ID,
		Device:    d.ID,
		Addr:      wire,
		Type:      dt,
		StringLen: c.StringSize,
		ArrayLen:  c.ArraySize,
		Size:      address.WireSize(a.Space.Class, dt, c.StringSize, c.ArraySize),
		Rate:      time.Duration(c.PollMs) * time.Millisecond,
		ReadOnly:  c.ReadOnly || a.Space.Class.ReadOnly(),
	}
	if a.Bit >= 0 {
		t.Size = address.WireSize(a.Space.Class, address.UInt16, 0, 0)
	}
	// reads never cut a tag, so it has to fit one request
	if lim := d.BlockSize(a.Space.Class); t.Size > lim {
		return nil, fmt.Errorf("%q needs %d units, more than the %s block size of %d", c.Address, t.Size, a.Space.Class, lim)
	}
	if end := int64(t.Addr.Offset) + int64(t.Size) - 1; end > 65535 {
		return nil, fmt.Errorf("%q with %d units runs past the end of %s", c.Address, t.Size, a.Space)
	}
	return t, nil
}

// End is the last occupied offset.
func (t *Tag) End() uint32 {
	return t.Addr.Offset + uint32(t.Size) - 1
}

// Scheduled reports whether the tag has a positive poll rate.
func (t *Tag) Scheduled() bool {
	return t.Rate > 0
}

// Options returns the conversion parameters for this tag on device d.
func (t *Tag) Options(d *Device) convert.Options {
	return convert.Options{Swap: d.Swap, StringLen: t.StringLen, ArrayLen: t.ArrayLen}
}
