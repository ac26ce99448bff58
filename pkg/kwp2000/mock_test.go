package kwp2000

import (
	"bytes"
	"context"
	"sync"

	"github.com/kimboflash/ecuflash/pkg/seedkey"
)

type reply struct {
	data   []byte
	silent bool
}

// mockTransport answers each Send through respond and hands the answer to
// the next Receive. A nil answer leaves the ECU silent.
type mockTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	queue   []reply
	respond func(req []byte) []byte
	sendErr error
	sentCh  chan []byte
}

func newMockTransport(respond func(req []byte) []byte) *mockTransport {
	return &mockTransport{
		respond: respond,
		sentCh:  make(chan []byte, 1024),
	}
}

func (m *mockTransport) Name() string {
	return "mock"
}

func (m *mockTransport) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	req := bytes.Clone(data)
	m.sent = append(m.sent, req)
	resp := m.respond(req)
	m.queue = append(m.queue, reply{data: resp, silent: resp == nil})
	select {
	case m.sentCh <- req:
	default:
	}
	return nil
}

func (m *mockTransport) Receive(ctx context.Context, p []byte) (int, error) {
	m.mu.Lock()
	var r reply
	ok := len(m.queue) > 0
	if ok {
		r = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()
	if !ok || r.silent {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return copy(p, r.data), nil
}

func (m *mockTransport) Close() error {
	return nil
}

func (m *mockTransport) requests() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

var testSeed = []byte{0x12, 0x34}

// healthyECU accepts the whole flash sequence with Complement as the key
// algorithm.
func healthyECU(req []byte) []byte {
	switch req[0] {
	case SidStartDiagnosticSession:
		return []byte{0x50, req[1]}
	case SidSecurityAccess:
		if req[1] == 0x01 {
			return append([]byte{0x67, 0x01}, testSeed...)
		}
		if bytes.Equal(req[2:], seedkey.Complement(testSeed)) {
			return []byte{0x67, 0x02, 0x34}
		}
		return []byte{0x7F, 0x27, 0x35}
	case SidStartRoutineByLocalID:
		return []byte{0x71, 0x01}
	case SidTransferData:
		return []byte{0x76, req[1]}
	case SidRequestTransferExit:
		return []byte{0x77}
	case SidTesterPresent:
		return []byte{0x7E}
	case SidClearDiagnosticInformation:
		return []byte{0x54, 0xFF, 0x00}
	}
	return []byte{0x7F, req[0], 0x11}
}

// override returns healthyECU with the answer to one service replaced.
func override(sid byte, resp []byte) func([]byte) []byte {
	return func(req []byte) []byte {
		if req[0] == sid {
			return resp
		}
		return healthyECU(req)
	}
}
