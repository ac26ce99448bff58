// Package kwp2000 speaks the KWP2000 diagnostic services needed to reflash
// an MS4x ECU over a byte stream transport.
package kwp2000

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const (
	SidStartDiagnosticSession     = 0x10
	SidClearDiagnosticInformation = 0x14
	SidReadDTCByStatus            = 0x18
	SidReadDataByCommonIdentifier = 0x22
	SidReadMemoryByAddress        = 0x23
	SidSecurityAccess             = 0x27
	SidStartRoutineByLocalID      = 0x31
	SidWriteMemoryByAddress       = 0x34 // MS4x memory write, answered with 74
	SidTransferData               = 0x36
	SidRequestTransferExit        = 0x37
	SidTesterPresent              = 0x3E
	SidNegativeResponse           = 0x7F
)

const PositiveResponseOffset byte = 0x40

var ErrEmptyFrame = errors.New("empty frame")

// Frame is a service id followed by its parameters.
type Frame struct {
	Service byte
	Payload []byte
}

func NewFrame(service byte, payload ...byte) *Frame {
	return &Frame{
		Service: service,
		Payload: payload,
	}
}

func ParseFrame(b []byte) (*Frame, error) {
	if len(b) == 0 {
		return nil, ErrEmptyFrame
	}
	return &Frame{
		Service: b[0],
		Payload: append([]byte(nil), b[1:]...),
	}, nil
}

func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, 1+len(f.Payload))
	out = append(out, f.Service)
	return append(out, f.Payload...)
}

func (f *Frame) Len() int {
	return 1 + len(f.Payload)
}

// IsPositiveResponseTo reports whether f answers service sid.
func (f *Frame) IsPositiveResponseTo(sid byte) bool {
	return f.Service == sid+PositiveResponseOffset
}

func (f *Frame) IsNegative() bool {
	return f.Service == SidNegativeResponse
}

var (
	blue  = color.New(color.FgHiBlue).SprintfFunc()
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
)

// String renders the frame for debug logs, colouring the service byte by
// response kind.
func (f *Frame) String() string {
	var out strings.Builder
	switch {
	case f.IsNegative():
		out.WriteString(red("%02X", f.Service))
	case f.Service >= PositiveResponseOffset:
		out.WriteString(green("%02X", f.Service))
	default:
		out.WriteString(blue("%02X", f.Service))
	}
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%3d", len(f.Payload)))
	out.WriteString(" || ")
	for i, b := range f.Payload {
		if i == 16 {
			out.WriteString(fmt.Sprintf("... +%d", len(f.Payload)-16))
			break
		}
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Payload)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}
