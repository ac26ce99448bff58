package kwp2000

import (
	"context"
	"errors"
	"fmt"

	"github.com/albenik/bcd"
)

const (
	// TransferChunkSize is the largest TransferData payload.
	TransferChunkSize = 128
	// SessionProgramming is the session requested before flashing.
	SessionProgramming = 0x81
)

// $10
func (c *Client) StartSession(ctx context.Context) error {
	if _, err := c.expect(ctx, []byte{SidStartDiagnosticSession, SessionProgramming}, SidStartDiagnosticSession+PositiveResponseOffset); err != nil {
		return fmt.Errorf("StartSession: %w", err)
	}
	return nil
}

// $27 01, returns the seed bytes following 67 01.
func (c *Client) RequestSeed(ctx context.Context) ([]byte, error) {
	resp, err := c.expect(ctx, []byte{SidSecurityAccess, 0x01}, SidSecurityAccess+PositiveResponseOffset, 0x01)
	if err != nil {
		return nil, fmt.Errorf("RequestSeed: %w", err)
	}
	if len(resp) < 3 {
		return nil, fmt.Errorf("RequestSeed: %w", &ProtocolError{Service: SidSecurityAccess, Reason: "no seed", Got: resp})
	}
	return resp[2:], nil
}

// $27 02
func (c *Client) SendKey(ctx context.Context, key []byte) error {
	req := append([]byte{SidSecurityAccess, 0x02}, key...)
	if _, err := c.expect(ctx, req, SidSecurityAccess+PositiveResponseOffset); err != nil {
		return fmt.Errorf("SendKey: %w", err)
	}
	return nil
}

// $31 01 FF erases the flash.
func (c *Client) Erase(ctx context.Context) error {
	if _, err := c.expect(ctx, []byte{SidStartRoutineByLocalID, 0x01, 0xFF}, SidStartRoutineByLocalID+PositiveResponseOffset); err != nil {
		return fmt.Errorf("Erase: %w", err)
	}
	return nil
}

// $36, the response must echo the block counter.
func (c *Client) TransferData(ctx context.Context, counter byte, chunk []byte) error {
	if len(chunk) > TransferChunkSize {
		return fmt.Errorf("TransferData: chunk of %d bytes exceeds %d", len(chunk), TransferChunkSize)
	}
	req := make([]byte, 0, 2+len(chunk))
	req = append(req, SidTransferData, counter)
	req = append(req, chunk...)
	if _, err := c.expect(ctx, req, SidTransferData+PositiveResponseOffset, counter); err != nil {
		return fmt.Errorf("TransferData block %d: %w", counter, err)
	}
	return nil
}

// $37
func (c *Client) TransferExit(ctx context.Context) error {
	if _, err := c.expect(ctx, []byte{SidRequestTransferExit}, SidRequestTransferExit+PositiveResponseOffset); err != nil {
		return fmt.Errorf("TransferExit: %w", err)
	}
	return nil
}

// $3E
func (c *Client) TesterPresent(ctx context.Context) error {
	if _, err := c.expect(ctx, []byte{SidTesterPresent}, SidTesterPresent+PositiveResponseOffset); err != nil {
		return fmt.Errorf("TesterPresent: %w", err)
	}
	return nil
}

// DTC is one stored trouble code.
type DTC struct {
	Code   uint16
	Status byte
}

// String renders the code in SAE form, e.g. P0301.
func (d DTC) String() string {
	a, b := byte(d.Code>>8), byte(d.Code)
	systemChars := [4]byte{'P', 'C', 'B', 'U'}
	hexDigits := "0123456789ABCDEF"
	return string([]byte{
		systemChars[(a>>6)&0x03],
		'0' + (a>>4)&0x03,
		hexDigits[a&0x0F],
		hexDigits[(b>>4)&0x0F],
		hexDigits[b&0x0F],
	})
}

// Number returns the code digits read as BCD, the form BMW tools print.
func (d DTC) Number() uint16 {
	return bcd.ToUint16([]byte{byte(d.Code>>8) & 0x3F, byte(d.Code)})
}

// Active reports the "present at time of request" status bit.
func (d DTC) Active() bool {
	return d.Status&0x40 != 0
}

// $18 00 FF 00 reads all stored codes.
func (c *Client) ReadDTCs(ctx context.Context) ([]DTC, error) {
	resp, err := c.expect(ctx, []byte{SidReadDTCByStatus, 0x00, 0xFF, 0x00}, SidReadDTCByStatus+PositiveResponseOffset)
	if err != nil {
		return nil, fmt.Errorf("ReadDTCs: %w", err)
	}
	dtcs, err := ParseDTCs(resp)
	if err != nil {
		return nil, fmt.Errorf("ReadDTCs: %w", err)
	}
	return dtcs, nil
}

// ParseDTCs decodes a 58 n [hi lo status]... response.
func ParseDTCs(resp []byte) ([]DTC, error) {
	if len(resp) < 2 {
		return nil, &ProtocolError{Service: SidReadDTCByStatus, Reason: "missing DTC count", Got: resp}
	}
	n := int(resp[1])
	body := resp[2:]
	if len(body) < n*3 {
		return nil, &ProtocolError{Service: SidReadDTCByStatus, Reason: fmt.Sprintf("%d DTCs announced, %d bytes present", n, len(body)), Got: resp}
	}
	out := make([]DTC, 0, n)
	for i := 0; i < n; i++ {
		rec := body[i*3:]
		out = append(out, DTC{
			Code:   uint16(rec[0])<<8 | uint16(rec[1]),
			Status: rec[2],
		})
	}
	return out, nil
}

// $14 FF 00 clears all stored codes.
func (c *Client) ClearDTCs(ctx context.Context) error {
	if _, err := c.expect(ctx, []byte{SidClearDiagnosticInformation, 0xFF, 0x00}, SidClearDiagnosticInformation+PositiveResponseOffset); err != nil {
		return fmt.Errorf("ClearDTCs: %w", err)
	}
	return nil
}

var ErrAddressRange = errors.New("address does not fit in 24 bits")

// $23 a2 a1 a0 s1 s0
func (c *Client) ReadMemoryByAddress(ctx context.Context, address uint32, size uint16) ([]byte, error) {
	if address > 0xFFFFFF {
		return nil, fmt.Errorf("ReadMemoryByAddress: %w: 0x%X", ErrAddressRange, address)
	}
	req := []byte{
		SidReadMemoryByAddress,
		byte(address >> 16),
		byte(address >> 8),
		byte(address),
		byte(size >> 8),
		byte(size),
	}
	resp, err := c.expect(ctx, req, SidReadMemoryByAddress+PositiveResponseOffset)
	if err != nil {
		return nil, fmt.Errorf("ReadMemoryByAddress: %w", err)
	}
	data := resp[1:]
	if len(data) != int(size) {
		return nil, fmt.Errorf("ReadMemoryByAddress: %w", &ProtocolError{Service: SidReadMemoryByAddress, Reason: fmt.Sprintf("wanted %d bytes, got %d", size, len(data)), Got: resp})
	}
	return data, nil
}

// $34 a2 a1 a0 s1 s0 ++ data
func (c *Client) WriteMemoryByAddress(ctx context.Context, address uint32, data []byte) error {
	if address > 0xFFFFFF {
		return fmt.Errorf("WriteMemoryByAddress: %w: 0x%X", ErrAddressRange, address)
	}
	if len(data) == 0 || len(data) > 0xFFFF {
		return fmt.Errorf("WriteMemoryByAddress: invalid length %d", len(data))
	}
	req := make([]byte, 0, 6+len(data))
	req = append(req,
		SidWriteMemoryByAddress,
		byte(address>>16),
		byte(address>>8),
		byte(address),
		byte(len(data)>>8),
		byte(len(data)),
	)
	req = append(req, data...)
	if _, err := c.expect(ctx, req, SidWriteMemoryByAddress+PositiveResponseOffset); err != nil {
		return fmt.Errorf("WriteMemoryByAddress: %w", err)
	}
	return nil
}

// $22 reads one or more 16-bit common identifiers and returns the raw
// record following the 62 header.
func (c *Client) ReadDataByCommonIdentifier(ctx context.Context, ids ...uint16) ([]byte, error) {
	if len(ids) == 0 {
		return nil, errors.New("ReadDataByCommonIdentifier: no identifiers")
	}
	req := make([]byte, 1, 1+2*len(ids))
	req[0] = SidReadDataByCommonIdentifier
	for _, id := range ids {
		req = append(req, byte(id>>8), byte(id))
	}
	resp, err := c.expect(ctx, req, SidReadDataByCommonIdentifier+PositiveResponseOffset)
	if err != nil {
		return nil, fmt.Errorf("ReadDataByCommonIdentifier: %w", err)
	}
	return resp[1:], nil
}
