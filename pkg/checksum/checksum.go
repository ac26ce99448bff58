// Package checksum implements the two additive checksums used by MS4x images.
//
// Range and Trailer are separate algorithms with their own layouts; neither is
// a CRC. Sums wrap at 16 bits and are stored big-endian.
package checksum

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrRange = errors.New("checksum range out of bounds")

// Sum16 adds every byte, truncating to 16 bits.
func Sum16(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// Layout describes a range checksum: bytes [Start, End] inclusive, stored at
// At and At+1.
type Layout struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
	At    int `yaml:"at"`
}

// DefaultLayout covers 0x00000-0x1F7FF with the sum at 0x1F800.
var DefaultLayout = Layout{
	Start: 0x0000,
	End:   0x1F7FF,
	At:    0x1F800,
}

func (l Layout) validate(size int) error {
	if l.Start < 0 || l.End < l.Start || l.End >= size {
		return fmt.Errorf("%w: range 0x%X-0x%X, image size 0x%X", ErrRange, l.Start, l.End, size)
	}
	if l.At < 0 || l.At+1 >= size {
		return fmt.Errorf("%w: store offset 0x%X, image size 0x%X", ErrRange, l.At, size)
	}
	if l.At+1 >= l.Start && l.At <= l.End {
		return fmt.Errorf("%w: store offset 0x%X overlaps range 0x%X-0x%X", ErrRange, l.At, l.Start, l.End)
	}
	return nil
}

// Range sums data[start..end] inclusive.
func Range(data []byte, start, end int) (uint16, error) {
	if start < 0 || end < start || end >= len(data) {
		return 0, fmt.Errorf("%w: range 0x%X-0x%X, image size 0x%X", ErrRange, start, end, len(data))
	}
	return Sum16(data[start : end+1]), nil
}

// ApplyRange computes the range checksum and writes it at l.At.
func ApplyRange(data []byte, l Layout) (uint16, error) {
	if err := l.validate(len(data)); err != nil {
		return 0, err
	}
	sum := Sum16(data[l.Start : l.End+1])
	binary.BigEndian.PutUint16(data[l.At:], sum)
	return sum, nil
}

// VerifyRange returns the stored and computed sums for l.
func VerifyRange(data []byte, l Layout) (stored, computed uint16, err error) {
	if err := l.validate(len(data)); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint16(data[l.At:]), Sum16(data[l.Start : l.End+1]), nil
}

// Trailer sums everything except the last two bytes.
func Trailer(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: image of %d bytes has no trailer", ErrRange, len(data))
	}
	return Sum16(data[:len(data)-2]), nil
}

// ApplyTrailer writes the trailer checksum into the final two bytes.
func ApplyTrailer(data []byte) (uint16, error) {
	sum, err := Trailer(data)
	if err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint16(data[len(data)-2:], sum)
	return sum, nil
}

// VerifyTrailer returns the stored and computed trailer sums.
func VerifyTrailer(data []byte) (stored, computed uint16, err error) {
	computed, err = Trailer(data)
	if err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint16(data[len(data)-2:]), computed, nil
}
