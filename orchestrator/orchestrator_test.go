package orchestrator

import (
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vogelchr/vitolink/protocol"
)

// syncEngine drives a fresh engine through the handshake into StateSync,
// the same two-ENQ sequence used by protocol's own tests.
func syncEngine(t *testing.T) *protocol.Engine {
	t.Helper()
	e := protocol.NewEngine(io.Discard, nil)
	e.OnBytes([]byte{protocol.ENQ})
	e.OnBytes([]byte{protocol.ENQ})
	if e.State() != protocol.StateSync {
		t.Fatalf("engine did not sync, state=%v", e.State())
	}
	return e
}

func TestQueryNotSynced(t *testing.T) {
	e := protocol.NewEngine(io.Discard, nil)
	o := New(e, nil, nil, Options{})

	_, err := o.Query(0x0800, 2)
	if err != ErrNotSynced {
		t.Fatalf("err = %v, want ErrNotSynced", err)
	}
}

func TestQuerySuccess(t *testing.T) {
	e := syncEngine(t)
	clock := clockwork.NewFakeClock()
	o := New(e, nil, nil, Options{Clock: clock})

	resultCh := make(chan protocol.ResponseRecord, 1)
	errCh := make(chan error, 1)
	go func() {
		rec, err := o.Query(0x0800, 2)
		resultCh <- rec
		errCh <- err
	}()

	clock.BlockUntil(1)
	// msgtype=0x01 method=0x01 addr=0x0800 payload={0x00,0x64}
	telegram := []byte{0x41, 0x07, 0x01, 0x01, 0x08, 0x00, 0x02, 0x00, 0x64, 0x77}
	e.OnBytes(telegram)
	clock.Advance(pollInterval)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return")
	}
	rec := <-resultCh
	if rec.Address != 0x0800 || len(rec.Payload) != 2 || rec.Payload[1] != 0x64 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestQueryTimeout(t *testing.T) {
	e := syncEngine(t)
	clock := clockwork.NewFakeClock()
	o := New(e, nil, nil, Options{Clock: clock})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Query(0x0800, 2)
		errCh <- err
	}()

	for i := 0; i < pollAttempts; i++ {
		clock.BlockUntil(1)
		clock.Advance(pollInterval)
	}

	select {
	case err := <-errCh:
		if err != ErrTimeout {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return")
	}
}

func TestQueryNak(t *testing.T) {
	e := syncEngine(t)
	clock := clockwork.NewFakeClock()
	o := New(e, nil, nil, Options{Clock: clock})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Query(0x0800, 2)
		errCh <- err
	}()

	clock.BlockUntil(1)
	e.OnBytes([]byte{protocol.NAK})
	clock.Advance(pollInterval)

	select {
	case err := <-errCh:
		if err != ErrNak {
			t.Fatalf("err = %v, want ErrNak", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return")
	}
}

func TestQueryAddressMismatch(t *testing.T) {
	e := syncEngine(t)
	clock := clockwork.NewFakeClock()
	o := New(e, nil, nil, Options{Clock: clock})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Query(0x0800, 2)
		errCh <- err
	}()

	clock.BlockUntil(1)
	// same shape as TestQuerySuccess but addr=0x0900
	telegram := []byte{0x41, 0x07, 0x01, 0x01, 0x09, 0x00, 0x02, 0x00, 0x64, 0x78}
	e.OnBytes(telegram)
	clock.Advance(pollInterval)

	select {
	case err := <-errCh:
		if err != ErrAddressMismatch {
			t.Fatalf("err = %v, want ErrAddressMismatch", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return")
	}
}
