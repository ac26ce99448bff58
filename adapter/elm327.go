package adapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kimboflash/ecuflash"
	"go.uber.org/zap"
)

const (
	elmDefaultBaudrate = 38400
	elmCommandTimeout  = 3 * time.Second

	// elmMaxRequest is the longest ISO 14230 payload an ELM327 will put on
	// the K-line.
	elmMaxRequest = 7

	// format 0x81, target 0x12 (DME), source 0xF1 (tester)
	elmDefaultHeader = "8112F1"
)

var ErrELMRequestTooLong = errors.New("request exceeds the 7 data bytes an ELM327 sends on K-line")

func init() {
	if err := ecuflash.RegisterAdapter(&ecuflash.AdapterInfo{
		Name:               "ELM327",
		Description:        "ELM327 compatible dongle on K-line (ISO 14230 fast init), diagnostics only",
		Alias:              []string{"elm"},
		RequiresSerialPort: true,
		New:                NewELM327,
	}); err != nil {
		panic(err)
	}
}

// ELM327 talks to the ECU through the AT command interpreter of an ELM327
// dongle. Requests are sent as hex lines and answers end with the '>' prompt.
type ELM327 struct {
	port    *Serial
	log     *zap.Logger
	header  string
	version string
}

func NewELM327(cfg *ecuflash.AdapterConfig) (ecuflash.Transport, error) {
	c := *cfg
	if c.PortBaudrate == 0 {
		c.PortBaudrate = elmDefaultBaudrate
	}
	tr, err := NewSerial(&c)
	if err != nil {
		return nil, err
	}
	header := strings.ToUpper(cfg.AdditionalConfig["elm_header"])
	if header == "" {
		header = elmDefaultHeader
	}
	if _, err := hex.DecodeString(header); err != nil || len(header) != 6 {
		return nil, fmt.Errorf("invalid ELM327 header %q", header)
	}
	return &ELM327{
		port:   tr.(*Serial),
		log:    cfg.Log().Named("elm327"),
		header: header,
	}, nil
}

func (e *ELM327) Name() string {
	if e.version != "" {
		return e.version + " " + e.port.cfg.Port
	}
	return "ELM327 " + e.port.cfg.Port
}

func (e *ELM327) Open(ctx context.Context) error {
	if err := e.port.Open(ctx); err != nil {
		return err
	}
	reply, err := e.command(ctx, "ATZ")
	if err != nil {
		e.port.Close()
		return err
	}
	for _, line := range elmLines(reply) {
		if strings.HasPrefix(line, "ELM327") {
			e.version = line
		}
	}
	if e.version == "" {
		e.port.Close()
		return fmt.Errorf("no ELM327 answering on %s: %q", e.port.cfg.Port, reply)
	}
	e.log.Info("adapter version", zap.String("version", e.version))

	initCmds := []string{
		"ATE0",  // echo off
		"ATL0",  // linefeeds off
		"ATS0",  // spaces off
		"ATH0",  // headers off
		"ATAL",  // allow long messages
		"ATAT2", // aggressive adaptive timing
		"ATSP5", // ISO 14230-4 KWP, fast init
		"ATSH" + e.header,
	}
	for _, c := range initCmds {
		reply, err := e.command(ctx, c)
		if err != nil {
			e.port.Close()
			return err
		}
		if !strings.Contains(reply, "OK") {
			e.port.Close()
			return fmt.Errorf("%s: unexpected reply %q", c, reply)
		}
	}
	return nil
}

func (e *ELM327) command(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, elmCommandTimeout)
	defer cancel()
	e.log.Debug("<o> " + cmd)
	if err := e.write(ctx, cmd); err != nil {
		return "", err
	}
	reply, err := e.readPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	e.log.Debug("<i> " + strings.Join(elmLines(reply), " | "))
	return reply, nil
}

func (e *ELM327) write(ctx context.Context, line string) error {
	return e.port.Send(ctx, []byte(line+"\r"))
}

// readPrompt reads until the '>' prompt and returns what came before it.
func (e *ELM327) readPrompt(ctx context.Context) (string, error) {
	p := e.port.getPort()
	if p == nil {
		return "", ecuflash.ErrNotConnected
	}
	var buf bytes.Buffer
	rb := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return buf.String(), err
		}
		n, err := p.Read(rb)
		if err != nil {
			return "", fmt.Errorf("failed to read com port: %w", err)
		}
		for _, b := range rb[:n] {
			if b == '>' {
				return buf.String(), nil
			}
			buf.WriteByte(b)
		}
	}
}

func (e *ELM327) Send(ctx context.Context, data []byte) error {
	if len(data) > elmMaxRequest {
		return ErrELMRequestTooLong
	}
	if e.port.getPort() == nil {
		return ecuflash.ErrNotConnected
	}
	return e.write(ctx, strings.ToUpper(hex.EncodeToString(data)))
}

func (e *ELM327) Receive(ctx context.Context, p []byte) (int, error) {
	if e.port.getPort() == nil {
		return 0, nil
	}
	raw, err := e.readPrompt(ctx)
	if err != nil {
		return 0, err
	}
	data, err := parseELMResponse(raw)
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (e *ELM327) Close() error {
	if e.port.getPort() != nil {
		// protocol close ends the K-line session
		_ = e.write(context.Background(), "ATPC")
		time.Sleep(50 * time.Millisecond)
	}
	return e.port.Close()
}

func elmLines(raw string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' }) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// parseELMResponse turns the lines printed before a prompt into response
// bytes. NO DATA yields an empty response.
func parseELMResponse(raw string) ([]byte, error) {
	var out []byte
	for _, line := range elmLines(raw) {
		switch {
		case line == "OK", strings.HasPrefix(line, "SEARCHING"):
		case strings.HasPrefix(line, "BUS INIT"):
			if strings.HasSuffix(line, "ERROR") {
				return nil, fmt.Errorf("%w: %s", ecuflash.ErrNotConnected, line)
			}
		case line == "NO DATA":
			return nil, nil
		case line == "UNABLE TO CONNECT":
			return nil, fmt.Errorf("%w: %s", ecuflash.ErrNotConnected, line)
		case line == "?":
			return nil, errors.New("ELM327 did not understand the request")
		case strings.HasSuffix(line, "ERROR"), line == "BUFFER FULL", line == "STOPPED":
			return nil, fmt.Errorf("ELM327: %s", line)
		default:
			b, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
			if err != nil {
				return nil, fmt.Errorf("%w: undecodable line %q", ecuflash.ErrProtocolViolation, line)
			}
			out = append(out, b...)
		}
	}
	return out, nil
}
