package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

// nativePort wraps github.com/tarm/serial's Port with the Optolink 8E2
// framing that tarm's zero-value config doesn't default to.
type nativePort struct {
	port *serial.Port
}

// Open opens the Optolink link at cfg.Device with 8 data bits, even
// parity, and 2 stop bits.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}

	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityEven,
		StopBits:    serial.Stop2,
	}

	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	return &nativePort{port: p}, nil
}

func (p *nativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *nativePort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *nativePort) Close() error                { return p.port.Close() }
func (p *nativePort) Flush() error                { return p.port.Flush() }
