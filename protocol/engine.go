package protocol

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Timeout thresholds, expressed in 500ms ticks (on_tick is called every
// 500ms by the scheduler). Per spec §9's open question, these reflect the
// richer variant: 30s in Sync, 4s elsewhere.
const (
	syncTimeoutTicks    = 60 // 30s
	defaultTimeoutTicks = 8  // 4s
)

// ErrNotSynced is returned by RequestRead when the engine is not in StateSync.
var ErrNotSynced = errors.New("protocol: engine not synced")

// Engine is the framer / protocol engine. It owns rx_buf, rx_state,
// counters and the pending queue exclusively; callers reach them only
// through the methods below. A single mutex makes on_bytes/on_tick/
// request_read/clear_rx/pop_response atomic with respect to each other,
// matching spec §5's "no cross-task mutation" rule when tasks are
// goroutines rather than a single OS thread.
type Engine struct {
	mu  sync.Mutex
	out io.Writer
	log *slog.Logger

	state        RxState
	rxBuf        []byte
	timeoutTicks int

	queue []ResponseRecord

	acks, naks, timeouts, errs, msgs uint64
}

// NewEngine creates an Engine that writes outbound protocol bytes to out.
// log may be nil, in which case a discarding logger is used.
func NewEngine(out io.Writer, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		out:   out,
		log:   log,
		state: StateStart,
	}
}

// State returns the engine's current RxState.
func (e *Engine) State() RxState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Metrics returns a snapshot of the engine's RxCounters.
func (e *Engine) Metrics() EngineMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineMetrics{
		Acks:     e.acks,
		Naks:     e.naks,
		Timeouts: e.timeouts,
		Errors:   e.errs,
		Messages: e.msgs,
	}
}

// ClearRx zeros the RxCounters and empties the pending queue. The
// orchestrator calls this immediately before every request so that the
// next inbound response-shaped telegram is unambiguously the one awaited.
func (e *Engine) ClearRx() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acks, e.naks, e.timeouts, e.errs, e.msgs = 0, 0, 0, 0, 0
	e.queue = e.queue[:0]
}

// PopResponse pulls one queued response, if any.
func (e *Engine) PopResponse() (ResponseRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return ResponseRecord{}, false
	}
	rec := e.queue[0]
	e.queue = e.queue[1:]
	return rec, true
}

// RequestRead emits an 8-byte read request for addr/expectedLen. It must
// only be called while the engine is synced; otherwise it returns
// ErrNotSynced without touching the link.
func (e *Engine) RequestRead(addr uint16, expectedLen uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateSync {
		e.log.Error("request_read called while not synced", "state", e.state)
		return ErrNotSynced
	}

	msg := [requestFrameLen]byte{
		telegramTag,
		0x05, // telegram length, excluding checksum
		0x00, // request
		0x01, // read_data
		byte(addr >> 8),
		byte(addr & 0xff),
		expectedLen,
		0,
	}
	msg[7] = checksum(msg[1:7])

	e.log.Debug("requesting read", "addr", addr, "len", expectedLen)
	e.write(msg[:])
	return nil
}

// OnBytes feeds inbound bytes into the engine. It never blocks: its only
// side effects are writes to the serial output and updates to internal
// state/counters.
func (e *Engine) OnBytes(buf []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStart {
		e.state = StateUnsync
		// Stale bytes may already be sitting in the RX buffer from before
		// the link came up; a multi-byte first chunk is discarded whole.
		if len(buf) > 1 {
			return
		}
	}

	for _, b := range buf {
		e.processByte(b)
	}
}

func (e *Engine) processByte(b byte) {
	switch e.state {
	case StateUnsync:
		switch b {
		case NAK:
			e.log.Debug("received NAK while unsynced, sending sync sequence")
			e.write(SyncSequence)
			e.state = StateSync
		case ENQ:
			e.log.Debug("received ENQ while unsynced, sending EOT")
			e.write([]byte{EOT})
			e.state = StateStartup
		default:
			e.errs++
		}

	case StateStartup:
		switch b {
		case ENQ:
			e.log.Debug("received ENQ during startup, sending sync sequence")
			e.write(SyncSequence)
			e.state = StateSync
		default:
			e.errs++
			e.state = StateUnsync
		}

	case StateSync:
		switch b {
		case ACK:
			e.acks++
			e.timeoutTicks = 0
		case NAK:
			e.naks++
			e.timeoutTicks = 0
		case telegramTag:
			e.rxBuf = append(e.rxBuf[:0], b)
			e.state = StateBusy
		default:
			e.errs++
			e.state = StateUnsync
		}

	case StateBusy:
		e.rxBuf = append(e.rxBuf, b)
		if len(e.rxBuf) < int(e.rxBuf[1])+3 {
			return
		}
		e.validateTelegram()
		e.timeoutTicks = 0
		e.state = StateSync

	case StateStart:
		// unreachable: OnBytes transitions out of Start before calling
		// processByte.
	}
}

// validateTelegram checks the checksum and declared payload length of a
// fully-received telegram in e.rxBuf, enqueueing a ResponseRecord on
// success or incrementing the error counter and dropping the frame.
func (e *Engine) validateTelegram() {
	buf := e.rxBuf
	last := len(buf) - 1

	chk := checksum(buf[1:last])
	if chk != buf[last] || len(buf) != int(buf[6])+8 {
		e.log.Error("dropping telegram with bad checksum or length", "hex", hexString(buf))
		e.errs++
		return
	}

	payload := make([]byte, len(buf[7:last]))
	copy(payload, buf[7:last])

	rec := ResponseRecord{
		MsgType: buf[2],
		Method:  buf[3],
		Address: uint16(buf[4])<<8 | uint16(buf[5]),
		Payload: payload,
	}
	e.queue = append(e.queue, rec)
	e.msgs++
	e.log.Debug("received telegram", "msgtype", rec.MsgType, "method", rec.Method, "addr", rec.Address)
}

// OnTick advances the timeout counter and enforces the timeout policy. It
// must be called roughly every 500ms by the scheduler.
func (e *Engine) OnTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timeoutTicks++

	if e.state == StateSync {
		if e.timeoutTicks >= syncTimeoutTicks {
			e.log.Debug("no activity in sync for 30s, re-sending sync sequence")
			e.write(SyncSequence)
			e.timeoutTicks = 0
		}
		return
	}

	if e.timeoutTicks >= defaultTimeoutTicks {
		e.log.Error("rx timeout", "state", e.state)
		e.timeouts++
		e.state = StateUnsync
		e.write([]byte{EOT})
		e.timeoutTicks = 0
	}
}

// write sends data to the byte sink. Failures are logged; per spec §7 there
// is no fatal condition and no automatic retransmission.
func (e *Engine) write(data []byte) {
	if e.out == nil {
		return
	}
	if _, err := e.out.Write(data); err != nil {
		e.log.Error("write to serial link failed", "error", err)
	}
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
