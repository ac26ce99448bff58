package checksum

import (
	"bytes"
	"errors"
	"testing"
)

func TestSum16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0},
		{"small", []byte{0x01, 0x02, 0x03}, 0x0006},
		{"bytes are unsigned", []byte{0xFF, 0xFF}, 0x01FE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sum16(tt.data); got != tt.want {
				t.Errorf("Sum16() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestSum16Wraps(t *testing.T) {
	// 0x102 * 0xFF = 0x100FE, truncated to 0x00FE
	data := make([]byte, 0x102)
	for i := range data {
		data[i] = 0xFF
	}
	if got := Sum16(data); got != 0x00FE {
		t.Fatalf("Sum16() = 0x%04X, want 0x00FE", got)
	}
}

func TestTrailer(t *testing.T) {
	data := make([]byte, 4096)
	data[0] = 0x10
	data[100] = 0x20
	data[4094] = 0xAA // trailer bytes are excluded
	data[4095] = 0xBB

	sum, err := ApplyTrailer(data)
	if err != nil {
		t.Fatalf("ApplyTrailer() error = %v", err)
	}
	if sum != 0x0030 {
		t.Errorf("ApplyTrailer() = 0x%04X, want 0x0030", sum)
	}
	if data[4094] != 0x00 || data[4095] != 0x30 {
		t.Errorf("trailer = %02X %02X, want 00 30", data[4094], data[4095])
	}

	stored, computed, err := VerifyTrailer(data)
	if err != nil {
		t.Fatalf("VerifyTrailer() error = %v", err)
	}
	if stored != computed {
		t.Errorf("VerifyTrailer() stored 0x%04X computed 0x%04X", stored, computed)
	}
}

func TestTrailerDeterministic(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i * 7)
	}
	a, _ := Trailer(data)
	b, _ := Trailer(data)
	if a != b {
		t.Fatalf("Trailer() not deterministic: 0x%04X != 0x%04X", a, b)
	}
}

func TestRangeDeterministic(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i * 7)
	}
	orig := bytes.Clone(data)
	l := Layout{Start: 0, End: 0x1EF, At: 0x1F0}

	a, err := Range(data, l.Start, l.End)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Range(data, l.Start, l.End)
	if a != b {
		t.Fatalf("Range() not deterministic: 0x%04X != 0x%04X", a, b)
	}
	_, c1, err := VerifyRange(data, l)
	if err != nil {
		t.Fatal(err)
	}
	_, c2, _ := VerifyRange(data, l)
	if c1 != c2 || c1 != a {
		t.Errorf("VerifyRange() computed 0x%04X then 0x%04X, Range() 0x%04X", c1, c2, a)
	}
	if !bytes.Equal(data, orig) {
		t.Error("Range/VerifyRange modified the image")
	}
}

func TestTrailerTooShort(t *testing.T) {
	for _, n := range []int{0, 1} {
		if _, err := ApplyTrailer(make([]byte, n)); !errors.Is(err, ErrRange) {
			t.Errorf("ApplyTrailer(%d bytes) error = %v, want ErrRange", n, err)
		}
	}
	sum, err := ApplyTrailer([]byte{0xAA, 0xBB})
	if err != nil || sum != 0 {
		t.Errorf("ApplyTrailer(2 bytes) = 0x%04X, %v", sum, err)
	}
}

func TestApplyRange(t *testing.T) {
	data := make([]byte, 64)
	for i := 0; i <= 15; i++ {
		data[i] = 0x11
	}
	data[16] = 0xEE // outside range
	l := Layout{Start: 0, End: 15, At: 32}

	sum, err := ApplyRange(data, l)
	if err != nil {
		t.Fatalf("ApplyRange() error = %v", err)
	}
	if sum != 0x0110 {
		t.Errorf("ApplyRange() = 0x%04X, want 0x0110", sum)
	}
	if data[32] != 0x01 || data[33] != 0x10 {
		t.Errorf("stored = %02X %02X, want 01 10", data[32], data[33])
	}
	if data[62] != 0 || data[63] != 0 {
		t.Error("range checksum touched the trailer bytes")
	}

	stored, computed, err := VerifyRange(data, l)
	if err != nil || stored != computed {
		t.Errorf("VerifyRange() = 0x%04X 0x%04X %v", stored, computed, err)
	}
}

func TestRangeAndTrailerDiffer(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = 1
	}
	r, err := Range(data, 0, 15)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := Trailer(data)
	if err != nil {
		t.Fatal(err)
	}
	if r != 16 || tr != 62 {
		t.Errorf("Range() = %d, Trailer() = %d, want 16 and 62", r, tr)
	}
}

func TestRangeValidation(t *testing.T) {
	data := make([]byte, 64)
	tests := []struct {
		name string
		l    Layout
	}{
		{"end past image", Layout{Start: 0, End: 64, At: 10}},
		{"start after end", Layout{Start: 10, End: 5, At: 40}},
		{"store past image", Layout{Start: 0, End: 15, At: 63}},
		{"store inside range", Layout{Start: 0, End: 15, At: 8}},
		{"store straddles start", Layout{Start: 10, End: 20, At: 9}},
		{"negative start", Layout{Start: -1, End: 15, At: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ApplyRange(data, tt.l); !errors.Is(err, ErrRange) {
				t.Errorf("ApplyRange() error = %v, want ErrRange", err)
			}
		})
	}
}

func TestDefaultLayout(t *testing.T) {
	data := make([]byte, 0x20000)
	data[0x1F7FF] = 0x05
	data[0x1F802] = 0x77 // outside the range
	sum, err := ApplyRange(data, DefaultLayout)
	if err != nil {
		t.Fatalf("ApplyRange() error = %v", err)
	}
	if sum != 0x0005 || data[0x1F800] != 0x00 || data[0x1F801] != 0x05 {
		t.Errorf("ApplyRange(DefaultLayout) = 0x%04X stored %02X %02X", sum, data[0x1F800], data[0x1F801])
	}
}
