// Package orchestrator drives the periodic poll loop: it iterates the
// variable list at a fixed cadence, issues one request at a time through
// the protocol engine, serializes concurrent callers behind a single
// mutex, batches successful samples, and hands them to the sink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vogelchr/vitolink/protocol"
	"github.com/vogelchr/vitolink/sink"
	"github.com/vogelchr/vitolink/varlist"
)

// Poll-level errors, per spec §7.
var (
	ErrNotSynced       = errors.New("orchestrator: controller not synced")
	ErrNak             = errors.New("orchestrator: nak received")
	ErrTimeout         = errors.New("orchestrator: timeout waiting for response")
	ErrProtocolError   = errors.New("orchestrator: protocol error on rx")
	ErrAddressMismatch = errors.New("orchestrator: response address mismatch")
	ErrLengthMismatch  = errors.New("orchestrator: response length mismatch")
)

const (
	pollAttempts = 10
	pollInterval = 100 * time.Millisecond
	tickInterval = 500 * time.Millisecond
)

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Clock         clockwork.Clock
	Logger        *slog.Logger
	SleepInterval time.Duration // time between polling passes
	BatchSize     int           // polling passes per sink flush
	Measurement   string
}

// Orchestrator is the Poll Orchestrator component.
type Orchestrator struct {
	engine *protocol.Engine
	sink   sink.Sink
	vars   []varlist.VariableDescriptor

	// engineMu is the single exclusive lock that serializes every
	// clear_rx -> request_read -> await -> pop sequence, whether it comes
	// from the polling loop or an ad-hoc HTTP query. It is the correlation
	// invariant from spec §9 and must not be relaxed.
	engineMu sync.Mutex

	clock       clockwork.Clock
	log         *slog.Logger
	sleep       time.Duration
	batchSize   int
	measurement string

	pollsCompleted uint64
}

// New creates an Orchestrator for engine, writing forwarded samples to s.
func New(engine *protocol.Engine, s sink.Sink, vars []varlist.VariableDescriptor, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.SleepInterval <= 0 {
		opts.SleepInterval = 15 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Measurement == "" {
		opts.Measurement = "optolink"
	}
	if s == nil {
		s = sink.Noop{}
	}
	return &Orchestrator{
		engine:      engine,
		sink:        s,
		vars:        vars,
		clock:       opts.Clock,
		log:         opts.Logger,
		sleep:       opts.SleepInterval,
		batchSize:   opts.BatchSize,
		measurement: opts.Measurement,
	}
}

// Query is the single-request procedure exposed to callers: the polling
// loop and the optional HTTP endpoint both go through it, and both are
// serialized by the same engine mutex, so at most one request is ever in
// flight and the next response-shaped telegram is unambiguously the one
// being awaited.
func (o *Orchestrator) Query(addr uint16, length uint8) (protocol.ResponseRecord, error) {
	o.engineMu.Lock()
	defer o.engineMu.Unlock()

	o.engine.ClearRx()
	if err := o.engine.RequestRead(addr, length); err != nil {
		return protocol.ResponseRecord{}, ErrNotSynced
	}

	for i := 0; i < pollAttempts; i++ {
		o.clock.Sleep(pollInterval)

		m := o.engine.Metrics()
		switch {
		case m.Naks > 0:
			return protocol.ResponseRecord{}, ErrNak
		case m.Timeouts > 0:
			return protocol.ResponseRecord{}, ErrTimeout
		case m.Errors > 0:
			return protocol.ResponseRecord{}, ErrProtocolError
		}

		rec, ok := o.engine.PopResponse()
		if !ok {
			continue
		}
		if rec.Address != addr {
			return protocol.ResponseRecord{}, ErrAddressMismatch
		}
		if len(rec.Payload) != int(length) {
			return protocol.ResponseRecord{}, ErrLengthMismatch
		}
		return rec, nil
	}

	return protocol.ResponseRecord{}, ErrTimeout
}

// RunTicks drives the engine's 500ms timeout tick forever, until ctx is
// cancelled.
func (o *Orchestrator) RunTicks(ctx context.Context) {
	ticker := o.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			o.engine.OnTick()
		}
	}
}

// Run drives the periodic polling loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	var pending []sink.Point
	cycles := 0

	for {
		cycleID := uuid.NewString()
		log := o.log.With("poll_cycle", cycleID)
		log.Info("poll cycle starting")

		fields := o.pollOnce(log)
		if len(fields) > 0 {
			pending = append(pending, sink.Point{
				Measurement: o.measurement,
				Timestamp:   o.clock.Now().UTC(),
				Fields:      fields,
			})
		}

		o.pollsCompleted++
		cycles++
		if cycles >= o.batchSize {
			if len(pending) > 0 {
				if err := o.sink.Write(ctx, pending); err != nil {
					log.Error("sink write failed, dropping batch", "error", err, "points", len(pending))
				}
			}
			pending = nil
			cycles = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.clock.After(o.sleep):
		}
	}
}

// pollOnce polls every variable once in declared order, returning the
// fields that should be forwarded to the sink.
func (o *Orchestrator) pollOnce(log *slog.Logger) map[string]float64 {
	fields := make(map[string]float64)

	for _, v := range o.vars {
		rec, err := o.Query(v.Address, v.PayloadLen)
		if err != nil {
			if errors.Is(err, ErrNotSynced) {
				log.Info("controller not ready, skipping remainder of this pass")
				break
			}
			log.Error("poll failed", "variable", v.Name, "addr", fmt.Sprintf("0x%04x", v.Address), "error", err)
			continue
		}

		tv, err := v.Decoder.Parse(rec.Payload)
		if err != nil {
			log.Error("decode failed", "variable", v.Name, "error", err)
			continue
		}

		log.Info(fmt.Sprintf("%-12s %s", v.Name, v.Decoder.Format(tv)))

		if v.Forward {
			if f, ok := tv.Float(); ok {
				fields[v.Name] = f
			} else {
				log.Warn("variable marked for forwarding decodes to a non-numeric value, skipping", "variable", v.Name)
			}
		}
	}

	return fields
}

// PollsCompleted returns the number of completed polling passes, for
// exposition as a metric.
func (o *Orchestrator) PollsCompleted() uint64 {
	return o.pollsCompleted
}

// Engine exposes the underlying protocol engine for metrics collection.
func (o *Orchestrator) Engine() *protocol.Engine {
	return o.engine
}
