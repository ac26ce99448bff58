package patch

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kimboflash/ecuflash/pkg/checksum"
	"github.com/kimboflash/ecuflash/pkg/ecu"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Write is one byte written by a patch. Value is ignored for scalar patches.
type Write struct {
	Offset int  `yaml:"offset"`
	Value  byte `yaml:"value"`
}

// Descriptor is a named feature patch.
type Descriptor struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	// Variants restricts the patch; empty means any variant, Unknown included.
	Variants []ecu.Variant `yaml:"variants,omitempty"`
	Writes   []Write       `yaml:"writes"`
	// Scalar patches write the caller supplied value at every offset instead
	// of the literal values.
	Scalar bool `yaml:"scalar,omitempty"`
}

// AppliesTo reports whether the patch may touch an image of variant v.
func (d *Descriptor) AppliesTo(v ecu.Variant) bool {
	if len(d.Variants) == 0 {
		return true
	}
	for _, want := range d.Variants {
		if want == v {
			return true
		}
	}
	return false
}

func (d *Descriptor) sharesVariant(o *Descriptor) bool {
	if len(d.Variants) == 0 || len(o.Variants) == 0 {
		return true
	}
	for _, v := range d.Variants {
		if o.AppliesTo(v) {
			return true
		}
	}
	return false
}

// Catalog is the image layout a set of patches was written against.
type Catalog struct {
	Identification ecu.Detector    `yaml:"identification"`
	RangeChecksum  checksum.Layout `yaml:"range_checksum"`
	Patches        []Descriptor    `yaml:"patches"`

	index map[string]*Descriptor
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
	defaultCatalogErr  error
)

// DefaultCatalog returns the embedded MS42/MS43 catalog.
func DefaultCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(catalogYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

func LoadCatalog(r io.Reader) (*Catalog, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewCatalog builds a catalog in code, e.g. for a scaled down test layout.
func NewCatalog(ident ecu.Detector, rangeChecksum checksum.Layout, patches ...Descriptor) (*Catalog, error) {
	c := &Catalog{
		Identification: ident,
		RangeChecksum:  rangeChecksum,
		Patches:        patches,
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

var ErrInvalidCatalog = errors.New("invalid patch catalog")

// init indexes the patches and rejects layouts that could corrupt an image:
// duplicate names, patches with no writes, patches gated to Unknown, writes
// over the identification byte, and overlapping patches that can apply to the
// same variant.
func (c *Catalog) init() error {
	c.index = make(map[string]*Descriptor, len(c.Patches))
	for i := range c.Patches {
		d := &c.Patches[i]
		if d.Name == "" {
			return fmt.Errorf("%w: patch #%d has no name", ErrInvalidCatalog, i)
		}
		if _, dup := c.index[d.Name]; dup {
			return fmt.Errorf("%w: duplicate patch %q", ErrInvalidCatalog, d.Name)
		}
		if len(d.Writes) == 0 {
			return fmt.Errorf("%w: patch %q has no writes", ErrInvalidCatalog, d.Name)
		}
		for _, v := range d.Variants {
			if v == ecu.Unknown {
				return fmt.Errorf("%w: patch %q is gated to an unidentified ECU", ErrInvalidCatalog, d.Name)
			}
		}
		for _, w := range d.Writes {
			if w.Offset < 0 {
				return fmt.Errorf("%w: patch %q has negative offset", ErrInvalidCatalog, d.Name)
			}
			if w.Offset == c.Identification.Offset {
				return fmt.Errorf("%w: patch %q writes the identification byte at 0x%X", ErrInvalidCatalog, d.Name, w.Offset)
			}
		}
		for _, prev := range c.index {
			if !d.sharesVariant(prev) {
				continue
			}
			if off, ok := overlap(d, prev); ok {
				return fmt.Errorf("%w: patches %q and %q both write 0x%X", ErrInvalidCatalog, prev.Name, d.Name, off)
			}
		}
		c.index[d.Name] = d
	}
	return nil
}

func overlap(a, b *Descriptor) (int, bool) {
	for _, wa := range a.Writes {
		for _, wb := range b.Writes {
			if wa.Offset == wb.Offset {
				return wa.Offset, true
			}
		}
	}
	return 0, false
}

func (c *Catalog) Lookup(name string) (*Descriptor, bool) {
	d, ok := c.index[name]
	return d, ok
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Patches))
	for _, d := range c.Patches {
		out = append(out, d.Name)
	}
	return out
}
