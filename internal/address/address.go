// internal/address/address.go
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned for any address that cannot be parsed or normalized.
var ErrInvalid = errors.New("address: invalid")

// Class is the register class of an address.
type Class uint8

const (
	OutputCoil Class = iota
	InputCoil
	InputRegister
	HoldingRegister
	// DataBlock is a Siemens data block. Offsets are byte offsets.
	DataBlock
)

func (c Class) String() string {
	switch c {
	case OutputCoil:
		return "OutputCoil"
	case InputCoil:
		return "InputCoil"
	case InputRegister:
		return "InputRegister"
	case HoldingRegister:
		return "HoldingRegister"
	case DataBlock:
		return "DataBlock"
	default:
		return "Unknown"
	}
}

// IsBit reports whether the class is addressed in single bits (coils).
func (c Class) IsBit() bool {
	return c == OutputCoil || c == InputCoil
}

// ReadOnly reports whether tags of this class can never be written.
func (c Class) ReadOnly() bool {
	return c == InputCoil || c == InputRegister
}

// Space identifies one independently addressed memory area on a device.
// Two addresses can only share a wire request when their spaces are equal.
type Space struct {
	Class Class
	DB    int // data block number, DataBlock only
}

func (s Space) String() string {
	if s.Class == DataBlock {
		return fmt.Sprintf("DB%d", s.DB)
	}
	return s.Class.String()
}

// Address is a parsed device-relative address.
type Address struct {
	Space  Space
	Offset uint32
	Bit    int // bit within the addressed word, -1 when unused
}

// Compare orders addresses by class, data block, then offset.
func Compare(a, b Address) int {
	switch {
	case a.Space.Class != b.Space.Class:
		return cmp(int(a.Space.Class), int(b.Space.Class))
	case a.Space.DB != b.Space.DB:
		return cmp(a.Space.DB, b.Space.DB)
	default:
		return cmp(int(a.Offset), int(b.Offset))
	}
}

// Equal reports whether two addresses name the same location (bit index ignored).
func Equal(a, b Address) bool {
	return a.Space == b.Space && a.Offset == b.Offset
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Parse parses either the legacy numeric Modbus notation (optionally with a
// ".bit" suffix) or a Siemens data-block address.
func Parse(s string) (Address, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrInvalid)
	}
	if strings.HasPrefix(s, "DB") {
		return parseS7(s)
	}
	return parseModbus(s)
}

// parseModbus handles 0xxxx..4xxxxx with an optional bit suffix.
func parseModbus(s string) (Address, error) {
	bit := -1
	if i := strings.IndexByte(s, '.'); i >= 0 {
		b, err := strconv.Atoi(s[i+1:])
		if err != nil || b < 0 || b > 15 {
			return Address{}, fmt.Errorf("%w: bad bit index in %q", ErrInvalid, s)
		}
		bit = b
		s = s[:i]
	}

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q is not numeric", ErrInvalid, s)
	}

	a, err := Normalize(uint32(n))
	if err != nil {
		return Address{}, err
	}
	if bit >= 0 && a.Space.Class.IsBit() {
		return Address{}, fmt.Errorf("%w: bit index on coil address %q", ErrInvalid, s)
	}
	a.Bit = bit
	return a, nil
}

// Normalize maps legacy numeric notation onto a class and rebased offset.
//
//	0..9999              OutputCoil
//	1xxxx / 1xxxxx       InputCoil
//	3xxxx / 3xxxxx       InputRegister
//	4xxxx / 4xxxxx       HoldingRegister
func Normalize(n uint32) (Address, error) {
	type band struct {
		lo, hi uint32
		class  Class
	}
	bands := []band{
		{0, 9999, OutputCoil},
		{10000, 19999, InputCoil},
		{30000, 39999, InputRegister},
		{40000, 49999, HoldingRegister},
		{100000, 199999, InputCoil},
		{300000, 399999, InputRegister},
		{400000, 499999, HoldingRegister},
	}
	for _, b := range bands {
		if n >= b.lo && n <= b.hi {
			return Address{
				Space:  Space{Class: b.class},
				Offset: n - b.lo,
				Bit:    -1,
			}, nil
		}
	}
	return Address{}, fmt.Errorf("%w: %d is outside every register class", ErrInvalid, n)
}
