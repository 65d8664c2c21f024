// Package serial wraps the physical Optolink link: a 4800 baud, 8 data
// bit, even parity, 2 stop bit connection, with backoff-based retry of the
// initial open. An open port is not reopened if it later fails.
package serial

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Port is the byte stream the protocol engine reads from and writes to.
type Port interface {
	io.ReadWriteCloser

	// Flush discards any buffered, not-yet-transmitted output.
	Flush() error
}

// Config holds the serial port parameters for an Optolink link.
type Config struct {
	// Device path, e.g. "/dev/ttyUSB0".
	Device string

	// Baud rate. Optolink links run at 4800 baud, 8E2.
	Baud int

	// ReadTimeout bounds a single Read call; 0 would block forever, so the
	// read loop could not notice cancellation between reads.
	ReadTimeout time.Duration
}

// DefaultConfig returns the Optolink wire parameters for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        4800,
		ReadTimeout: 200 * time.Millisecond,
	}
}

// openFunc is swapped out in tests so OpenWithRetry's backoff/cancellation
// behavior can be exercised without a real serial adapter.
var openFunc = Open

// OpenWithRetry opens device, retrying with exponential backoff until ctx
// is cancelled or the port opens successfully. An adapter that is not yet
// present at startup is picked up once it appears. It only covers opening:
// a port that fails after it was returned is not reopened.
func OpenWithRetry(ctx context.Context, cfg *Config) (Port, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever; ctx is the only way out
	bo.InitialInterval = 50 * time.Millisecond

	var port Port
	operation := func() error {
		p, err := openFunc(cfg)
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Device, err)
		}
		port = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return port, nil
}
