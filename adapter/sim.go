package adapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/kimboflash/ecuflash"
	"github.com/kimboflash/ecuflash/pkg/kwp2000"
	"github.com/kimboflash/ecuflash/pkg/logging"
	"github.com/kimboflash/ecuflash/pkg/seedkey"
	"go.uber.org/zap"
)

func init() {
	if err := ecuflash.RegisterAdapter(&ecuflash.AdapterInfo{
		Name:        "Simulator",
		Description: "In-memory MS4x ECU answering the flash and diagnostic services",
		Alias:       []string{"sim", "virtual"},
		New:         newSimulatorFromConfig,
	}); err != nil {
		panic(err)
	}
}

var defaultSeed = []byte{0x5A, 0xA5}

// Simulator is an ECU on the other end of a Transport. It enforces the order
// of the flash sequence, checks keys with its key function and keeps the
// bytes it was sent.
type Simulator struct {
	key seedkey.Func
	log *zap.Logger

	mu        sync.Mutex
	seed      []byte
	connected bool
	session   bool
	unlocked  bool
	erased    bool
	exited    bool
	counter   byte
	flash     bytes.Buffer
	dtcs      []kwp2000.DTC
	overrides map[byte][]byte
	silenced  map[byte]bool
	requests  [][]byte

	resp chan []byte
}

type SimOption func(*Simulator)

func WithSimSeed(seed []byte) SimOption {
	return func(s *Simulator) {
		s.seed = append([]byte(nil), seed...)
	}
}

func WithSimKey(fn seedkey.Func) SimOption {
	return func(s *Simulator) {
		if fn != nil {
			s.key = fn
		}
	}
}

func WithSimLogger(l *zap.Logger) SimOption {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSimDTCs preloads stored trouble codes.
func WithSimDTCs(dtcs ...kwp2000.DTC) SimOption {
	return func(s *Simulator) {
		s.dtcs = append(s.dtcs, dtcs...)
	}
}

func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		key:       seedkey.Complement,
		log:       zap.NewNop(),
		seed:      defaultSeed,
		connected: true,
		overrides: make(map[byte][]byte),
		silenced:  make(map[byte]bool),
		resp:      make(chan []byte, 16),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// newSimulatorFromConfig reads "seed_key" (algorithm name) and "seed" (hex)
// from AdditionalConfig.
func newSimulatorFromConfig(cfg *ecuflash.AdapterConfig) (ecuflash.Transport, error) {
	fn, err := seedkey.Lookup(cfg.AdditionalConfig["seed_key"])
	if err != nil {
		return nil, err
	}
	opts := []SimOption{WithSimKey(fn), WithSimLogger(cfg.Log().Named("sim"))}
	if v := cfg.AdditionalConfig["seed"]; v != "" {
		seed, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid simulator seed %q: %w", v, err)
		}
		opts = append(opts, WithSimSeed(seed))
	}
	return NewSimulator(opts...), nil
}

func (s *Simulator) Name() string {
	return "Simulator"
}

// Override makes the ECU answer sid with resp from now on.
func (s *Simulator) Override(sid byte, resp []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[sid] = append([]byte(nil), resp...)
}

// Silence makes the ECU ignore sid.
func (s *Simulator) Silence(sid byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenced[sid] = true
}

// Disconnect drops the link: Send fails and Receive yields nothing.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Flashed returns a copy of the bytes received through TransferData.
func (s *Simulator) Flashed() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.flash.Bytes())
}

// Completed reports whether a transfer was closed with TransferExit.
func (s *Simulator) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

func (s *Simulator) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.requests...)
}

func (s *Simulator) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ecuflash.ErrNotConnected
	}
	req := bytes.Clone(data)
	s.requests = append(s.requests, req)
	var resp []byte
	switch {
	case len(req) == 0:
	case s.silenced[req[0]]:
	case s.overrides[req[0]] != nil:
		resp = bytes.Clone(s.overrides[req[0]])
	default:
		resp = s.handle(req)
	}
	s.mu.Unlock()

	s.log.Debug("sim request", logging.HexField("req", req), logging.HexField("resp", resp))
	if resp == nil {
		return nil
	}
	select {
	case s.resp <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) Receive(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return 0, nil
	}
	select {
	case r := <-s.resp:
		return copy(p, r), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Simulator) Close() error {
	s.Disconnect()
	s.drain()
	return nil
}

// drain drops answers nobody received, e.g. after a run was cancelled
// between Send and Receive.
func (s *Simulator) drain() {
	for {
		select {
		case <-s.resp:
		default:
			return
		}
	}
}

func negative(sid, code byte) []byte {
	return []byte{kwp2000.SidNegativeResponse, sid, code}
}

// handle is called with mu held.
func (s *Simulator) handle(req []byte) []byte {
	sid := req[0]
	pos := sid + kwp2000.PositiveResponseOffset
	switch sid {
	case kwp2000.SidStartDiagnosticSession:
		if len(req) != 2 || req[1] != kwp2000.SessionProgramming {
			return negative(sid, 0x12)
		}
		s.drain()
		s.session, s.unlocked, s.erased, s.exited = true, false, false, false
		return []byte{pos, req[1]}

	case kwp2000.SidSecurityAccess:
		if !s.session {
			return negative(sid, 0x22)
		}
		if len(req) >= 2 && req[1] == 0x01 {
			return append([]byte{pos, 0x01}, s.seed...)
		}
		if len(req) >= 2 && req[1] == 0x02 {
			if bytes.Equal(req[2:], s.key(s.seed)) {
				s.unlocked = true
				return []byte{pos, 0x02, 0x34}
			}
			return negative(sid, 0x35)
		}
		return negative(sid, 0x12)

	case kwp2000.SidStartRoutineByLocalID:
		if !s.unlocked {
			return negative(sid, 0x33)
		}
		if !bytes.Equal(req, []byte{sid, 0x01, 0xFF}) {
			return negative(sid, 0x12)
		}
		s.erased, s.exited = true, false
		s.counter = 1
		s.flash.Reset()
		return []byte{pos, 0x01}

	case kwp2000.SidTransferData:
		if !s.erased || s.exited {
			return negative(sid, 0x22)
		}
		if len(req) < 2 || len(req)-2 > kwp2000.TransferChunkSize {
			return negative(sid, 0x79)
		}
		if req[1] != s.counter {
			return negative(sid, 0x73)
		}
		s.flash.Write(req[2:])
		s.counter++
		return []byte{pos, req[1]}

	case kwp2000.SidRequestTransferExit:
		if !s.erased || s.exited {
			return negative(sid, 0x22)
		}
		s.exited = true
		return []byte{pos}

	case kwp2000.SidTesterPresent:
		return []byte{pos}

	case kwp2000.SidReadDTCByStatus:
		out := []byte{pos, byte(len(s.dtcs))}
		for _, d := range s.dtcs {
			out = append(out, byte(d.Code>>8), byte(d.Code), d.Status)
		}
		return out

	case kwp2000.SidClearDiagnosticInformation:
		s.dtcs = nil
		return []byte{pos, 0xFF, 0x00}

	case kwp2000.SidReadMemoryByAddress:
		if len(req) != 6 {
			return negative(sid, 0x12)
		}
		addr := int(req[1])<<16 | int(req[2])<<8 | int(req[3])
		size := int(req[4])<<8 | int(req[5])
		mem := s.flash.Bytes()
		if addr+size > len(mem) {
			return negative(sid, 0x31)
		}
		return append([]byte{pos}, mem[addr:addr+size]...)

	case kwp2000.SidWriteMemoryByAddress:
		if !s.unlocked {
			return negative(sid, 0x33)
		}
		if len(req) < 7 {
			return negative(sid, 0x12)
		}
		addr := int(req[1])<<16 | int(req[2])<<8 | int(req[3])
		size := int(req[4])<<8 | int(req[5])
		if size != len(req)-6 {
			return negative(sid, 0x12)
		}
		mem := s.flash.Bytes()
		if addr+size > len(mem) {
			return negative(sid, 0x31)
		}
		copy(mem[addr:], req[6:])
		return []byte{pos}

	case kwp2000.SidReadDataByCommonIdentifier:
		if len(req) < 3 || (len(req)-1)%2 != 0 {
			return negative(sid, 0x12)
		}
		out := []byte{pos}
		for i := 1; i < len(req); i += 2 {
			out = append(out, req[i], req[i+1], 0x00)
		}
		return out
	}
	return negative(sid, 0x11)
}
