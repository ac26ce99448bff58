package kwp2000

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimboflash/ecuflash"
	"github.com/kimboflash/ecuflash/pkg/logging"
	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

// Client issues one request and reads one response at a time. Responses are
// read with a single Receive; nothing is reassembled across reads.
type Client struct {
	tr      ecuflash.Transport
	timeout time.Duration
	log     *zap.Logger

	mu  sync.Mutex
	buf [ecuflash.MaxResponseSize]byte
}

type Option func(*Client)

// WithTimeout bounds the wait for each response. Zero waits until the
// context is done.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(tr ecuflash.Transport, opts ...Option) *Client {
	c := &Client{
		tr:      tr,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Transport() ecuflash.Transport {
	return c.tr
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Request sends req and returns a copy of the bytes delivered by the next
// Receive.
func (c *Client) Request(ctx context.Context, req []byte) ([]byte, error) {
	if c.tr == nil {
		return nil, ecuflash.ErrNilTransport
	}
	if len(req) == 0 {
		return nil, ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ecuflash.ErrCancelled, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug("request", zap.String("service", TranslateServiceCode(req[0])), logging.HexField("data", req))
	if err := c.tr.Send(ctx, req); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ecuflash.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("send: %w", err)
	}

	rctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	n, err := c.tr.Receive(rctx, c.buf[:])
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %w", ecuflash.ErrCancelled, ctx.Err())
		case errors.Is(rctx.Err(), context.DeadlineExceeded):
			return nil, &ecuflash.TimeoutError{Timeout: c.timeout, Service: req[0], Type: "response"}
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	if n == 0 {
		return nil, ecuflash.ErrNoResponse
	}
	resp := append([]byte(nil), c.buf[:n]...)
	c.log.Debug("response", zap.String("service", TranslateServiceCode(req[0])), logging.HexField("data", resp))
	return resp, nil
}

// expect sends req and checks the response against the negative response
// rule and then against want as a literal prefix.
func (c *Client) expect(ctx context.Context, req []byte, want ...byte) ([]byte, error) {
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := CheckErr(resp); err != nil {
		return nil, err
	}
	if len(resp) < len(want) {
		return nil, &ProtocolError{Service: req[0], Reason: fmt.Sprintf("expected % X", want), Got: resp}
	}
	for i, b := range want {
		if resp[i] != b {
			return nil, &ProtocolError{Service: req[0], Reason: fmt.Sprintf("expected % X", want), Got: resp}
		}
	}
	return resp, nil
}
