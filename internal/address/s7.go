// internal/address/s7.go
package address

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	// DB10.4 - byte offset, type comes from tag config
	reDBSimple = regexp.MustCompile(`^DB(\d+)\.(\d+)$`)

	// DB10.DBX4.3, DB10.DBB4, DB10.DBW4, DB10.DBD4
	reDBTyped = regexp.MustCompile(`^DB(\d+)\.DB([XBWD])(\d+)(?:\.([0-7]))?$`)
)

// parseS7 parses Siemens data-block addresses.
//
// Data-block values are still handled as big-endian 16-bit words, so a DBX bit
// is mapped to a bit of the word that contains its byte: even bytes are the
// high half of the word starting at that byte, odd bytes the low half of the
// word starting one byte earlier.
func parseS7(s string) (Address, error) {
	if m := reDBSimple.FindStringSubmatch(s); m != nil {
		db, off, err := dbAndOffset(m[1], m[2])
		if err != nil {
			return Address{}, err
		}
		return Address{Space: Space{Class: DataBlock, DB: db}, Offset: off, Bit: -1}, nil
	}

	m := reDBTyped.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("%w: invalid S7 address %q", ErrInvalid, s)
	}
	db, off, err := dbAndOffset(m[1], m[3])
	if err != nil {
		return Address{}, err
	}

	a := Address{Space: Space{Class: DataBlock, DB: db}, Offset: off, Bit: -1}
	if m[2] != "X" {
		if m[4] != "" {
			return Address{}, fmt.Errorf("%w: bit index only valid on DBX: %q", ErrInvalid, s)
		}
		return a, nil
	}
	if m[4] == "" {
		return Address{}, fmt.Errorf("%w: DBX requires a bit index: %q", ErrInvalid, s)
	}
	bit, _ := strconv.Atoi(m[4])
	if off%2 == 0 {
		a.Bit = bit + 8
	} else {
		a.Offset = off - 1
		a.Bit = bit
	}
	return a, nil
}

func dbAndOffset(dbs, offs string) (int, uint32, error) {
	db, err := strconv.Atoi(dbs)
	if err != nil || db < 1 || db > 65535 {
		return 0, 0, fmt.Errorf("%w: data block number %q", ErrInvalid, dbs)
	}
	off, err := strconv.ParseUint(offs, 10, 32)
	if err != nil || off > 65535 {
		return 0, 0, fmt.Errorf("%w: data block offset %q", ErrInvalid, offs)
	}
	return db, uint32(off), nil
}
