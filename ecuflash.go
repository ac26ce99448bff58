// Package ecuflash holds the pieces shared by every part of the flashing
// toolkit: the byte-stream Transport contract, the adapter registry and the
// error kinds the diagnostic protocol reports.
package ecuflash

import (
	"context"
)

// MaxResponseSize is the largest response a single Receive is expected to
// deliver. The protocol reads exactly once per request into a buffer of this
// size.
const MaxResponseSize = 1024

// Transport is a bidirectional byte channel to a diagnostic interface,
// typically a Bluetooth SPP link or a USB serial cable.
//
// A Transport is borrowed by one flash run at a time. Implementations must be
// comparable (pointer receivers) so the protocol can guard in-flight runs per
// transport.
type Transport interface {
	Name() string
	// Send writes one request. A transport that is not connected returns
	// ErrNotConnected.
	Send(ctx context.Context, data []byte) error
	// Receive performs one blocking read into p. It returns 0 bytes when the
	// transport is not connected or nothing was read. It returns ctx.Err()
	// when ctx is done before data arrives.
	Receive(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Opener is implemented by transports that connect in a separate step after
// construction.
type Opener interface {
	Open(ctx context.Context) error
}
