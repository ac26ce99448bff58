package ecu

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrStorage     = errors.New("image storage error")
	ErrOutOfBounds = errors.New("offset outside image")
	ErrEmptyImage  = errors.New("image is empty")
)

// StorageError reports a failed load or save.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s image: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s image %q: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Image is an owned firmware buffer. Its length is fixed once loaded and the
// variant is detected exactly once, at construction.
//
// An Image is not safe for concurrent mutation; the patch engine and the
// flasher must not share one while it is being written.
type Image struct {
	data    []byte
	variant Variant
}

// NewImage takes ownership of data.
func NewImage(data []byte, d Detector) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return &Image{
		data:    data,
		variant: d.Detect(data),
	}, nil
}

func LoadImage(path string, d Detector) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()
	img, err := ReadImage(f, d)
	if err != nil {
		var se *StorageError
		if errors.As(err, &se) {
			se.Op, se.Path = "load", path
		}
		return nil, err
	}
	return img, nil
}

func ReadImage(r io.Reader, d Detector) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	img, err := NewImage(data, d)
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	return img, nil
}

func (i *Image) Len() int {
	return len(i.data)
}

func (i *Image) Variant() Variant {
	return i.variant
}

// Bytes returns the live buffer. Callers outside the patch engine must treat
// it as read-only.
func (i *Image) Bytes() []byte {
	return i.data
}

// Clone returns an independent copy carrying the same cached variant.
func (i *Image) Clone() *Image {
	return &Image{
		data:    bytes.Clone(i.data),
		variant: i.variant,
	}
}

func (i *Image) checkRange(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(i.data) {
		return fmt.Errorf("%w: 0x%X+%d, image size 0x%X", ErrOutOfBounds, offset, n, len(i.data))
	}
	return nil
}

func (i *Image) ByteAt(offset int) (byte, error) {
	if err := i.checkRange(offset, 1); err != nil {
		return 0, err
	}
	return i.data[offset], nil
}

func (i *Image) SetByte(offset int, b byte) error {
	if err := i.checkRange(offset, 1); err != nil {
		return err
	}
	i.data[offset] = b
	return nil
}

// WriteAt copies p into the image at offset. Nothing is written if any byte
// would fall outside the image.
func (i *Image) WriteAt(p []byte, offset int64) (int, error) {
	if err := i.checkRange(int(offset), len(p)); err != nil {
		return 0, err
	}
	return copy(i.data[offset:], p), nil
}

func (i *Image) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(i.data)
	return int64(n), err
}

// Save writes the buffer verbatim to path.
func (i *Image) Save(path string) error {
	if err := os.WriteFile(path, i.data, 0644); err != nil {
		return &StorageError{Op: "save", Path: path, Err: err}
	}
	return nil
}
