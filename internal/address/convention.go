// internal/address/convention.go
package address

import (
	"errors"
	"fmt"
)

// ErrConvention is returned for an offset convention other than 0 or -1.
var ErrConvention = errors.New("address: unsupported offset convention")

// Offset conventions.
const (
	// OneBased: configured offsets are 1..65536.
	OneBased = 0
	// ZeroBased: configured offsets are 0..65535 and are shifted up by one.
	ZeroBased = -1
)

// CheckConvention validates a device offset convention.
func CheckConvention(convention int) error {
	if convention != OneBased && convention != ZeroBased {
		return fmt.Errorf("%w: %d", ErrConvention, convention)
	}
	return nil
}

// Effective applies the device offset convention to a configured Modbus
// offset and returns the effective one-based offset.
func Effective(offset uint32, convention int) (uint32, error) {
	switch convention {
	case OneBased:
		if offset < 1 || offset > 65536 {
			return 0, fmt.Errorf("%w: offset %d outside [1,65536]", ErrInvalid, offset)
		}
		return offset, nil
	case ZeroBased:
		if offset > 65535 {
			return 0, fmt.Errorf("%w: offset %d outside [0,65535]", ErrInvalid, offset)
		}
		return offset + 1, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrConvention, convention)
	}
}

// Wire converts a configured address to its zero-based protocol offset.
// Data-block addresses are already zero-based byte offsets and pass through.
func Wire(a Address, convention int) (Address, error) {
	if a.Space.Class == DataBlock {
		return a, nil
	}
	eff, err := Effective(a.Offset, convention)
	if err != nil {
		return Address{}, err
	}
	a.Offset = eff - 1
	return a, nil
}
