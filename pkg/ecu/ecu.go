// Package ecu models a firmware image loaded from storage and the ECU
// variant it was built for.
package ecu

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Unknown Variant = iota
	MS42
	MS43
)

type Variant int

func (v Variant) String() string {
	switch v {
	case MS42:
		return "MS42"
	case MS43:
		return "MS43"
	default:
		return "Unknown ECU"
	}
}

var ErrUnknownVariant = errors.New("unknown ECU variant")

// ParseVariant maps a variant name to its Variant. "unknown" names Unknown
// explicitly; any other unrecognised name is an error.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ms42", "ms 42", "ms4.2", "a":
		return MS42, nil
	case "ms43", "ms 43", "ms4.3", "b":
		return MS43, nil
	case "unknown", "unknown ecu":
		return Unknown, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

func (v Variant) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

func (v *Variant) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	p, err := ParseVariant(s)
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// VariantRange maps identification byte values Min..Max inclusive to Variant.
type VariantRange struct {
	Variant Variant `yaml:"variant"`
	Min     byte    `yaml:"min"`
	Max     byte    `yaml:"max"`
}

// Detector classifies an image from the byte at Offset.
type Detector struct {
	Offset int            `yaml:"offset"`
	Ranges []VariantRange `yaml:"ranges"`
}

// DefaultDetector reads the version byte at 0x1234.
var DefaultDetector = Detector{
	Offset: 0x1234,
	Ranges: []VariantRange{
		{Variant: MS42, Min: 0x10, Max: 0x1F},
		{Variant: MS43, Min: 0x20, Max: 0x2F},
	},
}

// Detect never fails: an image too short to hold the identification byte, or
// a byte outside every range, is Unknown.
func (d Detector) Detect(data []byte) Variant {
	if d.Offset < 0 || d.Offset >= len(data) {
		return Unknown
	}
	b := data[d.Offset]
	for _, r := range d.Ranges {
		if b >= r.Min && b <= r.Max {
			return r.Variant
		}
	}
	return Unknown
}

func Detect(data []byte) Variant {
	return DefaultDetector.Detect(data)
}
