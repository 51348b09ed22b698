// internal/address/types.go
package address

import (
	"fmt"
	"strings"
)

// DataType is the logical type of a tag value.
type DataType uint8

const (
	Bool DataType = iota + 1
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float
	Double
	String
)

var typeNames = map[DataType]string{
	Bool:   "bool",
	Int16:  "int16",
	UInt16: "uint16",
	Int32:  "int32",
	UInt32: "uint32",
	Int64:  "int64",
	UInt64: "uint64",
	Float:  "float",
	Double: "double",
	String: "string",
}

func (t DataType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseType accepts the config names plus a few common aliases.
func ParseType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return Bool, nil
	case "int16", "short", "int":
		return Int16, nil
	case "uint16", "word":
		return UInt16, nil
	case "int32", "long", "dint":
		return Int32, nil
	case "uint32", "dword":
		return UInt32, nil
	case "int64", "llong", "lint":
		return Int64, nil
	case "uint64", "qword":
		return UInt64, nil
	case "float", "float32", "real":
		return Float, nil
	case "double", "float64", "lreal":
		return Double, nil
	case "string":
		return String, nil
	}
	return 0, fmt.Errorf("%w: unknown data type %q", ErrInvalid, s)
}

// Words returns the scalar width of a type in 16-bit words.
// Strings return 0: their width depends on the declared length.
func (t DataType) Words() int {
	switch t {
	case Bool, Int16, UInt16:
		return 1
	case Int32, UInt32, Float:
		return 2
	case Int64, UInt64, Double:
		return 4
	}
	return 0
}

// WireWords returns the number of 16-bit words a tag occupies on the wire.
func WireWords(t DataType, stringLen, arrayLen int) int {
	n := t.Words()
	if t == String {
		n = (stringLen + 1) / 2
	}
	if arrayLen < 1 {
		arrayLen = 1
	}
	return n * arrayLen
}

// WireSize returns a tag's footprint in the units its class is addressed in:
// bits for coils, words for registers, bytes for data blocks.
func WireSize(c Class, t DataType, stringLen, arrayLen int) int {
	if c.IsBit() {
		if arrayLen < 1 {
			return 1
		}
		return arrayLen
	}
	w := WireWords(t, stringLen, arrayLen)
	if c == DataBlock {
		return w * 2
	}
	return w
}
