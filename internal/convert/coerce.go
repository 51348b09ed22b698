// internal/convert/coerce.go
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// toInt coerces a host value into a signed integer of the given bit size.
// Datetimes become epoch seconds for 32-bit targets and epoch milliseconds
// for 64-bit targets.
func toInt(v any, size int) (int64, error) {
	lo := int64(-1) << (size - 1)
	hi := -(lo + 1)

	var n int64
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil value", ErrUnsupported)
	case time.Time:
		t, err := epoch(x, size)
		if err != nil {
			return 0, err
		}
		n = t
	case bool:
		if x {
			n = 1
		}
	case string:
		p, err := strconv.ParseInt(strings.TrimSpace(x), 0, size)
		if err != nil {
			return 0, parseErr(x, err)
		}
		return p, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = i
			break
		}
		f, err := x.Float64()
		if err != nil {
			return 0, parseErr(string(x), err)
		}
		return toInt(f, size)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := rv.Uint()
			if u > uint64(hi) {
				return 0, fmt.Errorf("%w: %d exceeds int%d", ErrRange, u, size)
			}
			n = int64(u)
		case reflect.Float32, reflect.Float64:
			f := math.Trunc(rv.Float())
			// float64(hi) rounds up to 2^63 for 64-bit targets, hence >=.
			if math.IsNaN(f) || f < float64(lo) || f >= float64(hi)+1 {
				return 0, fmt.Errorf("%w: %v does not fit int%d", ErrRange, rv.Float(), size)
			}
			n = int64(f)
		default:
			return 0, fmt.Errorf("%w: %T to int%d", ErrUnsupported, v, size)
		}
	}

	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d does not fit int%d", ErrRange, n, size)
	}
	return n, nil
}

// toUint coerces a host value into an unsigned integer of the given bit size.
func toUint(v any, size int) (uint64, error) {
	hi := uint64(math.MaxUint64) >> (64 - size)

	var n uint64
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil value", ErrUnsupported)
	case time.Time:
		t, err := epoch(x, size)
		if err != nil {
			return 0, err
		}
		if t < 0 {
			return 0, fmt.Errorf("%w: %v predates the epoch", ErrRange, x)
		}
		n = uint64(t)
	case bool:
		if x {
			n = 1
		}
	case string:
		p, err := strconv.ParseUint(strings.TrimSpace(x), 0, size)
		if err != nil {
			return 0, parseErr(x, err)
		}
		return p, nil
	case json.Number:
		// above MaxInt64 only ParseUint is exact
		if u, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			n = u
			break
		}
		f, err := x.Float64()
		if err != nil {
			return 0, parseErr(string(x), err)
		}
		return toUint(f, size)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := rv.Int()
			if i < 0 {
				return 0, fmt.Errorf("%w: %d is negative", ErrRange, i)
			}
			n = uint64(i)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			n = rv.Uint()
		case reflect.Float32, reflect.Float64:
			f := math.Trunc(rv.Float())
			if math.IsNaN(f) || f < 0 || f >= float64(hi)+1 {
				return 0, fmt.Errorf("%w: %v does not fit uint%d", ErrRange, rv.Float(), size)
			}
			n = uint64(f)
		default:
			return 0, fmt.Errorf("%w: %T to uint%d", ErrUnsupported, v, size)
		}
	}

	if n > hi {
		return 0, fmt.Errorf("%w: %d does not fit uint%d", ErrRange, n, size)
	}
	return n, nil
}

// toFloat32 keeps float32 inputs bit-exact.
func toFloat32(v any) (float32, error) {
	switch x := v.(type) {
	case float32:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 32)
		if err != nil {
			return 0, parseErr(x, err)
		}
		return float32(f), nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, err
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, fmt.Errorf("%w: %v does not fit float", ErrRange, f)
	}
	return float32(f), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil value", ErrUnsupported)
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, parseErr(x, err)
		}
		return f, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, parseErr(string(x), err)
		}
		return f, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("%w: %T to float", ErrUnsupported, v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, parseErr(x, err)
		}
		return b, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return false, fmt.Errorf("%w: %T to bool", ErrUnsupported, v)
	}
	return f != 0, nil
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	case nil:
		return "", fmt.Errorf("%w: nil value", ErrUnsupported)
	}
	return fmt.Sprint(v), nil
}

func epoch(t time.Time, size int) (int64, error) {
	switch size {
	case 32:
		return t.Unix(), nil
	case 64:
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("%w: datetime into a %d-bit value", ErrUnsupported, size)
}

func parseErr(s string, err error) error {
	if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
		return fmt.Errorf("%w: %q", ErrRange, s)
	}
	return fmt.Errorf("%w: cannot parse %q", ErrUnsupported, s)
}

// Int coerces a host value into an int64 the way integer tags do.
func Int(v any) (int64, error) { return toInt(v, 64) }

// Bool coerces a host value into a bool the way Bool tags do.
func Bool(v any) (bool, error) { return toBool(v) }
