package serial

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePort struct{}

func (fakePort) Read([]byte) (int, error)  { return 0, nil }
func (fakePort) Write([]byte) (int, error) { return 0, nil }
func (fakePort) Close() error              { return nil }
func (fakePort) Flush() error              { return nil }

func TestOpenWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	openFunc = func(cfg *Config) (Port, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		return fakePort{}, nil
	}
	defer func() { openFunc = Open }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	port, err := OpenWithRetry(ctx, DefaultConfig("/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port == nil {
		t.Fatal("expected a port")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestOpenWithRetryStopsOnCancel(t *testing.T) {
	openFunc = func(cfg *Config) (Port, error) {
		return nil, errors.New("never succeeds")
	}
	defer func() { openFunc = Open }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := OpenWithRetry(ctx, DefaultConfig("/dev/ttyUSB0"))
	if err == nil {
		t.Fatal("expected an error once the context is cancelled")
	}
}

func TestDefaultConfigWireParameters(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	if cfg.Baud != 4800 {
		t.Fatalf("Baud = %d, want 4800", cfg.Baud)
	}
}
