package adapter

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kimboflash/ecuflash"
	"github.com/kimboflash/ecuflash/pkg/kwp2000"
	"github.com/kimboflash/ecuflash/pkg/seedkey"
)

func TestRegistered(t *testing.T) {
	for _, name := range []string{"serial", "Bluetooth", "usb", "sim", "Simulator", "ELM327", "elm"} {
		if _, err := ecuflash.NewAdapter(name, &ecuflash.AdapterConfig{Port: "/dev/null"}); err != nil {
			t.Errorf("NewAdapter(%q) error = %v", name, err)
		}
	}
}

func TestSerialRequiresPort(t *testing.T) {
	if _, err := NewSerial(&ecuflash.AdapterConfig{}); err == nil {
		t.Error("NewSerial() without port should fail")
	}
}

func TestSerialNotOpen(t *testing.T) {
	tr, err := NewSerial(&ecuflash.AdapterConfig{Port: "/dev/ttyNOPE"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(context.Background(), []byte{0x3E}); !errors.Is(err, ecuflash.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	n, err := tr.Receive(context.Background(), make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("Receive() = %d, %v, want 0, nil", n, err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSerialOpenMissingPort(t *testing.T) {
	_, err := ecuflash.OpenAdapter(context.Background(), "serial", &ecuflash.AdapterConfig{
		Port:         "/dev/ecuflash-missing-port",
		OpenAttempts: 2,
	})
	if err == nil {
		t.Fatal("OpenAdapter() on a missing port should fail")
	}
}

func testImage(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestSimulatorFlash(t *testing.T) {
	sim := NewSimulator()
	image := testImage(4096)
	res := kwp2000.NewFlasher(kwp2000.New(sim)).Flash(context.Background(), image)
	if res.Err != nil {
		t.Fatalf("Flash() error = %v", res.Err)
	}
	if res.Chunks != 32 {
		t.Errorf("Chunks = %d, want 32", res.Chunks)
	}
	if !bytes.Equal(sim.Flashed(), image) {
		t.Error("simulator holds different bytes than were flashed")
	}
	if !sim.Completed() {
		t.Error("transfer not closed")
	}
}

func TestSimulatorFlashJob(t *testing.T) {
	sim := NewSimulator(WithSimSeed([]byte{1, 2, 3, 4}))
	done := make(chan bool, 1)
	f := kwp2000.NewFlasher(kwp2000.New(sim), kwp2000.WithCompletion(func(ok bool) { done <- ok }))
	res := f.Start(context.Background(), testImage(1000)).Wait()
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Error("completion reported failure")
		}
	case <-time.After(time.Second):
		t.Fatal("completion not called")
	}
}

func TestSimulatorWrongKeyAlgorithm(t *testing.T) {
	xor := func(seed []byte) []byte {
		out := make([]byte, len(seed))
		for i, b := range seed {
			out[i] = b ^ 0x55
		}
		return out
	}
	sim := NewSimulator(WithSimKey(xor))
	res := kwp2000.NewFlasher(kwp2000.New(sim)).Flash(context.Background(), testImage(10))
	var se *kwp2000.StepError
	if !errors.As(res.Err, &se) || se.Step != kwp2000.StepSendKey {
		t.Fatalf("Flash() error = %v, want failure at SendKey", res.Err)
	}
	var nre *kwp2000.NegativeResponseError
	if !errors.As(res.Err, &nre) || nre.Code != 0x35 {
		t.Errorf("error = %v, want invalid key", res.Err)
	}

	res = kwp2000.NewFlasher(kwp2000.New(sim), kwp2000.WithKeyFunc(xor)).Flash(context.Background(), testImage(10))
	if res.Err != nil {
		t.Errorf("Flash() with matching key error = %v", res.Err)
	}
}

func TestSimulatorEnforcesOrder(t *testing.T) {
	sim := NewSimulator()
	c := kwp2000.New(sim)
	ctx := context.Background()
	if _, err := c.RequestSeed(ctx); !errors.Is(err, ecuflash.ErrProtocolViolation) {
		t.Errorf("RequestSeed() before session error = %v", err)
	}
	if err := c.Erase(ctx); !errors.Is(err, ecuflash.ErrProtocolViolation) {
		t.Errorf("Erase() while locked error = %v", err)
	}
	if err := c.TransferData(ctx, 1, []byte{0}); !errors.Is(err, ecuflash.ErrProtocolViolation) {
		t.Errorf("TransferData() before erase error = %v", err)
	}
}

func TestSimulatorSilence(t *testing.T) {
	sim := NewSimulator()
	sim.Silence(kwp2000.SidStartRoutineByLocalID)
	c := kwp2000.New(sim, kwp2000.WithTimeout(20*time.Millisecond))
	res := kwp2000.NewFlasher(c).Flash(context.Background(), testImage(10))
	if !ecuflash.IsTimeout(res.Err) {
		t.Errorf("Flash() error = %v, want timeout", res.Err)
	}
}

func TestSimulatorOverride(t *testing.T) {
	sim := NewSimulator()
	sim.Override(kwp2000.SidStartDiagnosticSession, []byte{0x7F, 0x10, 0x11})
	res := kwp2000.NewFlasher(kwp2000.New(sim)).Flash(context.Background(), testImage(10))
	if !errors.Is(res.Err, ecuflash.ErrProtocolViolation) {
		t.Fatalf("Flash() error = %v", res.Err)
	}
	for _, r := range sim.Requests() {
		if r[0] == kwp2000.SidSecurityAccess {
			t.Fatal("security access sent after rejected session")
		}
	}
}

func TestSimulatorDisconnected(t *testing.T) {
	sim := NewSimulator()
	sim.Disconnect()
	c := kwp2000.New(sim)
	if err := c.StartSession(context.Background()); !errors.Is(err, ecuflash.ErrNotConnected) {
		t.Errorf("StartSession() error = %v, want ErrNotConnected", err)
	}
	n, err := sim.Receive(context.Background(), make([]byte, 4))
	if n != 0 || err != nil {
		t.Errorf("Receive() = %d, %v", n, err)
	}
}

func TestSimulatorDTCs(t *testing.T) {
	sim := NewSimulator(WithSimDTCs(kwp2000.DTC{Code: 0x0301, Status: 0x60}, kwp2000.DTC{Code: 0x1212, Status: 0x20}))
	c := kwp2000.New(sim)
	ctx := context.Background()
	dtcs, err := c.ReadDTCs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dtcs) != 2 || dtcs[0].String() != "P0301" || dtcs[1].String() != "P1212" {
		t.Errorf("ReadDTCs() = %v", dtcs)
	}
	if err := c.ClearDTCs(ctx); err != nil {
		t.Fatal(err)
	}
	if dtcs, err := c.ReadDTCs(ctx); err != nil || len(dtcs) != 0 {
		t.Errorf("ReadDTCs() after clear = %v, %v", dtcs, err)
	}
}

func TestSimulatorReadBack(t *testing.T) {
	sim := NewSimulator()
	c := kwp2000.New(sim)
	ctx := context.Background()
	image := testImage(512)
	if res := kwp2000.NewFlasher(c).Flash(ctx, image); res.Err != nil {
		t.Fatal(res.Err)
	}
	data, err := c.ReadMemoryByAddress(ctx, 0x100, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, image[0x100:0x110]) {
		t.Errorf("ReadMemoryByAddress() = % X", data)
	}
	if _, err := c.ReadMemoryByAddress(ctx, 0x1F8, 16); !errors.Is(err, ecuflash.ErrProtocolViolation) {
		t.Errorf("read past end error = %v", err)
	}
	if err := c.TesterPresent(ctx); err != nil {
		t.Error(err)
	}
}

func TestSimulatorFromConfig(t *testing.T) {
	tr, err := ecuflash.NewAdapter("sim", &ecuflash.AdapterConfig{
		AdditionalConfig: map[string]string{"seed": "0102", "seed_key": "complement"},
	})
	if err != nil {
		t.Fatal(err)
	}
	c := kwp2000.New(tr)
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	seed, err := c.RequestSeed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(seed, []byte{1, 2}) {
		t.Errorf("seed = % X", seed)
	}
	if err := c.SendKey(context.Background(), seedkey.Complement(seed)); err != nil {
		t.Error(err)
	}

	if _, err := ecuflash.NewAdapter("sim", &ecuflash.AdapterConfig{AdditionalConfig: map[string]string{"seed": "zz"}}); err == nil {
		t.Error("invalid seed accepted")
	}
	if _, err := ecuflash.NewAdapter("sim", &ecuflash.AdapterConfig{AdditionalConfig: map[string]string{"seed_key": "rot13"}}); err == nil {
		t.Error("unknown algorithm accepted")
	}
}

func TestParseELMResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []byte
		err  error
	}{
		{"plain", "5081\r\r", []byte{0x50, 0x81}, nil},
		{"bus init", "BUS INIT: ...OK\r5081\r\r", []byte{0x50, 0x81}, nil},
		{"spaces", "67 01 5A A5\r", []byte{0x67, 0x01, 0x5A, 0xA5}, nil},
		{"multi line", "63DEAD\rBEEF\r", []byte{0x63, 0xDE, 0xAD, 0xBE, 0xEF}, nil},
		{"no data", "SEARCHING...\rNO DATA\r", nil, nil},
		{"init failed", "BUS INIT: ...ERROR\r", nil, ecuflash.ErrNotConnected},
		{"unable", "UNABLE TO CONNECT\r", nil, ecuflash.ErrNotConnected},
		{"garbage", "ZZ\r", nil, ecuflash.ErrProtocolViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseELMResponse(tt.raw)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("error = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("parseELMResponse(%q) = % X, want % X", tt.raw, got, tt.want)
			}
		})
	}
	if _, err := parseELMResponse("BUS ERROR\r"); err == nil {
		t.Error("BUS ERROR accepted")
	}
}

func TestELM327Config(t *testing.T) {
	if _, err := NewELM327(&ecuflash.AdapterConfig{}); err == nil {
		t.Error("NewELM327() without port should fail")
	}
	if _, err := NewELM327(&ecuflash.AdapterConfig{Port: "/dev/rfcomm0", AdditionalConfig: map[string]string{"elm_header": "81XX"}}); err == nil {
		t.Error("invalid header accepted")
	}
	tr, err := ecuflash.NewAdapter("elm", &ecuflash.AdapterConfig{Port: "/dev/rfcomm0"})
	if err != nil {
		t.Fatal(err)
	}
	e := tr.(*ELM327)
	if e.header != elmDefaultHeader || e.port.cfg.PortBaudrate != elmDefaultBaudrate {
		t.Errorf("header %s baudrate %d", e.header, e.port.cfg.PortBaudrate)
	}
	if err := tr.Send(context.Background(), make([]byte, 8)); !errors.Is(err, ErrELMRequestTooLong) {
		t.Errorf("Send(8 bytes) error = %v", err)
	}
	if err := tr.Send(context.Background(), []byte{0x3E}); !errors.Is(err, ecuflash.ErrNotConnected) {
		t.Errorf("Send() before Open error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Error(err)
	}
}

func TestSimulatorWriteMemory(t *testing.T) {
	sim := NewSimulator()
	c := kwp2000.New(sim)
	ctx := context.Background()
	if err := c.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMemoryByAddress(ctx, 0x10, []byte{0xAA}); !errors.Is(err, ecuflash.ErrProtocolViolation) {
		t.Errorf("WriteMemoryByAddress() while locked error = %v", err)
	}

	if res := kwp2000.NewFlasher(c).Flash(ctx, testImage(256)); res.Err != nil {
		t.Fatal(res.Err)
	}
	if err := c.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	seed, err := c.RequestSeed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendKey(ctx, seedkey.Complement(seed)); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMemoryByAddress(ctx, 0x10, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("WriteMemoryByAddress() error = %v", err)
	}
	if got := sim.Flashed()[0x10:0x12]; !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("memory at 0x10 = % X", got)
	}
	if err := c.WriteMemoryByAddress(ctx, 0xFF, []byte{1, 2}); !errors.Is(err, ecuflash.ErrProtocolViolation) {
		t.Errorf("write past end error = %v", err)
	}
}

func TestSimulatorDropsStaleResponse(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	// an answer left behind by a run cancelled before its Receive
	if err := sim.Send(ctx, []byte{kwp2000.SidTesterPresent}); err != nil {
		t.Fatal(err)
	}
	if err := kwp2000.New(sim).StartSession(ctx); err != nil {
		t.Fatalf("StartSession() after an unread answer error = %v", err)
	}
}
