// Package patch toggles named feature flags in an ECU image and writes the
// result back with a fresh trailer checksum.
package patch

import (
	"errors"
	"fmt"
	"io"

	"github.com/kimboflash/ecuflash/pkg/checksum"
	"github.com/kimboflash/ecuflash/pkg/ecu"
	"go.uber.org/zap"
)

var ErrUnknownPatch = errors.New("unknown patch")

// Selection is one requested patch. Value is only read for scalar patches.
type Selection struct {
	Name    string
	Enabled bool
	Value   int
}

// Enable is shorthand for a literal patch selection.
func Enable(name string) Selection {
	return Selection{Name: name, Enabled: true}
}

// Set is shorthand for a scalar patch selection.
func Set(name string, value int) Selection {
	return Selection{Name: name, Enabled: true, Value: value}
}

type SkipReason string

const (
	SkipDisabled        SkipReason = "disabled"
	SkipVariantMismatch SkipReason = "variant mismatch"
)

type Skipped struct {
	Name   string
	Reason SkipReason
}

// Truncation records a scalar value that did not fit in a byte.
type Truncation struct {
	Name    string
	Value   int
	Written byte
}

type Report struct {
	Variant   ecu.Variant
	Applied   []string
	Skipped   []Skipped
	Truncated []Truncation
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: %d applied, %d skipped, %d truncated", r.Variant, len(r.Applied), len(r.Skipped), len(r.Truncated))
}

type Engine struct {
	catalog *Catalog
	log     *zap.Logger
}

type EngineOption func(*Engine)

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(c *Catalog, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: c,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Apply writes the selected patches into img in the order given. Unknown names
// and writes outside the image stop the run; patches applied before the
// failure stay applied.
func (e *Engine) Apply(img *ecu.Image, sel []Selection) (*Report, error) {
	r := &Report{Variant: img.Variant()}
	for _, s := range sel {
		d, ok := e.catalog.Lookup(s.Name)
		if !ok {
			return r, fmt.Errorf("%w: %q", ErrUnknownPatch, s.Name)
		}
		if !s.Enabled {
			r.Skipped = append(r.Skipped, Skipped{Name: d.Name, Reason: SkipDisabled})
			continue
		}
		if !d.AppliesTo(img.Variant()) {
			e.log.Debug("patch skipped", zap.String("patch", d.Name), zap.Stringer("variant", img.Variant()))
			r.Skipped = append(r.Skipped, Skipped{Name: d.Name, Reason: SkipVariantMismatch})
			continue
		}
		if err := checkBounds(img, d); err != nil {
			return r, err
		}
		if d.Scalar {
			v := byte(s.Value)
			if int(v) != s.Value {
				r.Truncated = append(r.Truncated, Truncation{Name: d.Name, Value: s.Value, Written: v})
				e.log.Warn("scalar truncated", zap.String("patch", d.Name), zap.Int("value", s.Value), zap.Uint8("written", v))
			}
			for _, w := range d.Writes {
				_ = img.SetByte(w.Offset, v)
			}
		} else {
			for _, w := range d.Writes {
				_ = img.SetByte(w.Offset, w.Value)
			}
		}
		e.log.Debug("patch applied", zap.String("patch", d.Name))
		r.Applied = append(r.Applied, d.Name)
	}
	return r, nil
}

func checkBounds(img *ecu.Image, d *Descriptor) error {
	for _, w := range d.Writes {
		if w.Offset >= img.Len() {
			return fmt.Errorf("patch %q: %w: 0x%X, image size 0x%X", d.Name, ecu.ErrOutOfBounds, w.Offset, img.Len())
		}
	}
	return nil
}

// Save stamps the trailer checksum into the last two bytes of img and writes
// the whole buffer to w.
func Save(img *ecu.Image, w io.Writer) error {
	if _, err := checksum.ApplyTrailer(img.Bytes()); err != nil {
		return err
	}
	if _, err := img.WriteTo(w); err != nil {
		return &ecu.StorageError{Op: "write", Err: err}
	}
	return nil
}

func SaveFile(img *ecu.Image, path string) error {
	if _, err := checksum.ApplyTrailer(img.Bytes()); err != nil {
		return err
	}
	return img.Save(path)
}

// Load reads path and detects its variant with the catalog's identification
// layout.
func (c *Catalog) Load(path string) (*ecu.Image, error) {
	return ecu.LoadImage(path, c.Identification)
}

