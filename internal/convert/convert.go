// internal/convert/convert.go
package convert

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/tamzrod/fieldbus-poller/internal/address"
)

var (
	ErrUnsupported = errors.New("convert: unsupported conversion")
	ErrRange       = errors.New("convert: value out of range")
	ErrLength      = errors.New("convert: malformed length")
)

// Options carries the per-tag and per-device parameters of a conversion.
type Options struct {
	Swap      Swap
	StringLen int // declared byte length, String only
	ArrayLen  int // element count, 0 for scalars
}

func (o Options) stride(t address.DataType) int {
	if t == address.String {
		return (o.StringLen + 1) / 2
	}
	return t.Words()
}

// Encode converts a host value into wire-ordered register words.
//
// Array values may be any slice or array; short arrays are zero-padded to
// ArrayLen, long ones are rejected.
func Encode(v any, t address.DataType, o Options) ([]uint16, error) {
	stride := o.stride(t)
	if stride == 0 {
		return nil, fmt.Errorf("%w: %s has no wire width", ErrLength, t)
	}

	if o.ArrayLen < 1 {
		out := make([]uint16, stride)
		if err := encodeScalar(v, t, o, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	elems, err := elements(v)
	if err != nil {
		return nil, err
	}
	if len(elems) > o.ArrayLen {
		return nil, fmt.Errorf("%w: %d elements for an array of %d", ErrLength, len(elems), o.ArrayLen)
	}

	// zero words stay zero under every swap step, so padding needs no transform
	out := make([]uint16, stride*o.ArrayLen)
	for i, e := range elems {
		if err := encodeScalar(e, t, o, out[i*stride:(i+1)*stride]); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out, nil
}

// Decode converts wire-ordered register words into a host value.
// Arrays are returned as typed slices truncated to the smaller of ArrayLen
// and the number of whole elements available.
func Decode(w []uint16, t address.DataType, o Options) (any, error) {
	stride := o.stride(t)
	if stride == 0 {
		return nil, fmt.Errorf("%w: %s has no wire width", ErrLength, t)
	}

	if o.ArrayLen < 1 {
		if len(w) < stride {
			return nil, fmt.Errorf("%w: %s needs %d words, got %d", ErrLength, t, stride, len(w))
		}
		return decodeScalar(w[:stride], t, o)
	}

	n := min(o.ArrayLen, len(w)/stride)
	switch t {
	case address.Bool:
		return decodeArray[bool](w, n, stride, t, o)
	case address.Int16:
		return decodeArray[int16](w, n, stride, t, o)
	case address.UInt16:
		return decodeArray[uint16](w, n, stride, t, o)
	case address.Int32:
		return decodeArray[int32](w, n, stride, t, o)
	case address.UInt32:
		return decodeArray[uint32](w, n, stride, t, o)
	case address.Int64:
		return decodeArray[int64](w, n, stride, t, o)
	case address.UInt64:
		return decodeArray[uint64](w, n, stride, t, o)
	case address.Float:
		return decodeArray[float32](w, n, stride, t, o)
	case address.Double:
		return decodeArray[float64](w, n, stride, t, o)
	case address.String:
		return decodeArray[string](w, n, stride, t, o)
	}
	return nil, fmt.Errorf("%w: type %s", ErrUnsupported, t)
}

func decodeArray[T any](w []uint16, n, stride int, t address.DataType, o Options) ([]T, error) {
	out := make([]T, n)
	for i := range out {
		v, err := decodeScalar(w[i*stride:(i+1)*stride], t, o)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v.(T)
	}
	return out, nil
}

func encodeScalar(v any, t address.DataType, o Options, dst []uint16) error {
	switch t {
	case address.Bool:
		b, err := toBool(v)
		if err != nil {
			return err
		}
		if b {
			dst[0] = 1
		}
	case address.Int16:
		n, err := toInt(v, 16)
		if err != nil {
			return err
		}
		dst[0] = uint16(int16(n))
	case address.UInt16:
		n, err := toUint(v, 16)
		if err != nil {
			return err
		}
		dst[0] = uint16(n)
	case address.Int32:
		n, err := toInt(v, 32)
		if err != nil {
			return err
		}
		put32(dst, uint32(int32(n)))
	case address.UInt32:
		n, err := toUint(v, 32)
		if err != nil {
			return err
		}
		put32(dst, uint32(n))
	case address.Int64:
		n, err := toInt(v, 64)
		if err != nil {
			return err
		}
		put64(dst, uint64(n))
	case address.UInt64:
		n, err := toUint(v, 64)
		if err != nil {
			return err
		}
		put64(dst, n)
	case address.Float:
		f, err := toFloat32(v)
		if err != nil {
			return err
		}
		put32(dst, math.Float32bits(f))
	case address.Double:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		put64(dst, math.Float64bits(f))
	case address.String:
		s, err := toString(v)
		if err != nil {
			return err
		}
		if len(s) > o.StringLen {
			return fmt.Errorf("%w: %d bytes for a string of %d", ErrLength, len(s), o.StringLen)
		}
		for i := 0; i < len(s); i++ {
			if i%2 == 0 {
				dst[i/2] |= uint16(s[i]) << 8
			} else {
				dst[i/2] |= uint16(s[i])
			}
		}
		// word and dword steps have no meaning for character data
		for i := range dst {
			o.Swap.Apply(dst[i : i+1])
		}
		return nil
	default:
		return fmt.Errorf("%w: type %s", ErrUnsupported, t)
	}

	o.Swap.Apply(dst)
	return nil
}

func decodeScalar(src []uint16, t address.DataType, o Options) (any, error) {
	w := make([]uint16, len(src))
	copy(w, src)

	if t == address.String {
		for i := range w {
			o.Swap.Revert(w[i : i+1])
		}
		b := make([]byte, 0, o.StringLen)
		for i := 0; i < o.StringLen; i++ {
			c := byte(w[i/2] >> 8)
			if i%2 == 1 {
				c = byte(w[i/2])
			}
			if c == 0 {
				break
			}
			b = append(b, c)
		}
		return string(b), nil
	}

	o.Swap.Revert(w)
	switch t {
	case address.Bool:
		return w[0] != 0, nil
	case address.Int16:
		return int16(w[0]), nil
	case address.UInt16:
		return w[0], nil
	case address.Int32:
		return int32(get32(w)), nil
	case address.UInt32:
		return get32(w), nil
	case address.Int64:
		return int64(get64(w)), nil
	case address.UInt64:
		return get64(w), nil
	case address.Float:
		return math.Float32frombits(get32(w)), nil
	case address.Double:
		return math.Float64frombits(get64(w)), nil
	}
	return nil, fmt.Errorf("%w: type %s", ErrUnsupported, t)
}

func elements(v any) ([]any, error) {
	if a, ok := v.([]any); ok {
		return a, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %T is not an array", ErrUnsupported, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// big-endian: high word first
func put32(dst []uint16, v uint32) {
	dst[0] = uint16(v >> 16)
	dst[1] = uint16(v)
}

func put64(dst []uint16, v uint64) {
	dst[0] = uint16(v >> 48)
	dst[1] = uint16(v >> 32)
	dst[2] = uint16(v >> 16)
	dst[3] = uint16(v)
}

func get32(w []uint16) uint32 {
	return uint32(w[0])<<16 | uint32(w[1])
}

func get64(w []uint16) uint64 {
	return uint64(w[0])<<48 | uint64(w[1])<<32 | uint64(w[2])<<16 | uint64(w[3])
}
