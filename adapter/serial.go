package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/kimboflash/ecuflash"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

const (
	defaultBaudrate     = 10400
	defaultReadTimeout  = 50 * time.Millisecond
	defaultOpenAttempts = 3
)

func init() {
	if err := ecuflash.RegisterAdapter(&ecuflash.AdapterInfo{
		Name:               "Serial",
		Description:        "K-line interface on a Bluetooth SPP or USB serial port",
		Alias:              []string{"bluetooth", "bt", "usb", "kline"},
		RequiresSerialPort: true,
		New:                NewSerial,
	}); err != nil {
		panic(err)
	}
}

// Serial is a Transport over a serial port. Bluetooth SPP links show up as
// serial ports too (rfcomm on Linux, an outgoing COM port on Windows).
type Serial struct {
	cfg *ecuflash.AdapterConfig
	log *zap.Logger

	mu   sync.Mutex
	port serial.Port
}

func NewSerial(cfg *ecuflash.AdapterConfig) (ecuflash.Transport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial adapter requires a port")
	}
	return &Serial{
		cfg: cfg,
		log: cfg.Log().Named("serial"),
	}, nil
}

func (s *Serial) Name() string {
	return "Serial " + s.cfg.Port
}

func (s *Serial) Open(ctx context.Context) error {
	baud := s.cfg.PortBaudrate
	if baud == 0 {
		baud = defaultBaudrate
	}
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	attempts := s.cfg.OpenAttempts
	if attempts == 0 {
		attempts = defaultOpenAttempts
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	if s.cfg.Debug {
		if d, err := portInfo(s.cfg.Port); err == nil {
			s.log.Debug("port details", zap.String("port", d.Name), zap.Bool("usb", d.IsUSB), zap.String("vid", d.VID), zap.String("pid", d.PID), zap.String("serial", d.SerialNumber))
		}
	}

	var p serial.Port
	err := retry.Do(func() error {
		var err error
		p, err = serial.Open(s.cfg.Port, mode)
		if err != nil {
			var pe *serial.PortError
			if errors.As(err, &pe) && (pe.Code() == serial.PortNotFound || pe.Code() == serial.InvalidSerialPort) {
				return ecuflash.Unrecoverable(err)
			}
			return err
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(ecuflash.IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("retrying port open", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to open com port %q: %w", s.cfg.Port, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	s.mu.Lock()
	s.port = p
	s.mu.Unlock()
	s.log.Info("port open", zap.String("port", s.cfg.Port), zap.Int("baudrate", baud))
	return nil
}

func (s *Serial) getPort() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Serial) Send(ctx context.Context, data []byte) error {
	p := s.getPort()
	if p == nil {
		return ecuflash.ErrNotConnected
	}
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.Write(data)
		if err != nil {
			return fmt.Errorf("failed to write com port: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// Receive polls until the first byte arrives, then keeps reading until the
// line stays idle for one read timeout or p is full.
func (s *Serial) Receive(ctx context.Context, p []byte) (int, error) {
	port := s.getPort()
	if port == nil {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		if n == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		r, err := port.Read(p[n:])
		if err != nil {
			return n, fmt.Errorf("failed to read com port: %w", err)
		}
		if r == 0 {
			if n > 0 {
				break
			}
			continue
		}
		n += r
	}
	return n, nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Ports lists the serial ports present on the system.
func Ports() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

func portInfo(portName string) (*enumerator.PortDetails, error) {
	if runtime.GOOS == "windows" {
		portName = strings.ToUpper(portName)
	}
	ports, err := Ports()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, errors.New("no serial ports found")
	}
	for _, port := range ports {
		if port.Name == portName {
			return port, nil
		}
	}
	return nil, fmt.Errorf("port %q not found", portName)
}
