// Package send implements the sender-side sliding-window, timer, and
// congestion-control state machine shared by the Go-Back-N and
// Selective-Repeat retransmission disciplines.
package send

import (
	"math"
	"time"

	"github.com/ventosilenzioso/go-reliable-transport/internal/faultinject"
	"github.com/ventosilenzioso/go-reliable-transport/internal/wire"
)

// DefaultTimeout is the per-packet retransmission deadline.
const DefaultTimeout = 4 * time.Second

// DefaultMaxRetries is the retry ceiling per sequence number before
// the engine gives up on it (SR) or the connection (GBN).
const DefaultMaxRetries = 5

// defaultSsthresh is the initial slow-start threshold.
const defaultSsthresh = 16

// Mode selects how the caller's send loop interleaves new sends with
// draining responses. The engine itself is mode-agnostic: Mode only
// changes which convenience method the caller reaches for.
type Mode int

const (
	// Batch fills the whole window before draining responses.
	Batch Mode = iota
	// Single emits one packet, drains responses, then repeats.
	Single
)

// Config configures a sender Engine.
type Config struct {
	Protocol wire.Protocol
	Total    uint32
	Wmax     uint32
	Mode     Mode

	Timeout    time.Duration
	MaxRetries int

	// PayloadFunc builds the application payload for seq. Defaults to
	// the literal "Pacote <seq>" used by the reference sender.
	PayloadFunc func(seq uint32) []byte

	Hooks faultinject.Hooks
}

type sentPacket struct {
	payload []byte
	// corruptedOnFirstSend records whether the first transmission of
	// this seq carried a deliberately bad checksum; retransmissions are
	// always clean regardless.
	corruptedOnFirstSend bool
}

// Engine is the per-connection sender state machine. It is driven by
// a single goroutine; it holds no internal lock.
type Engine struct {
	cfg Config

	base, nextSeq, total uint32
	wmax                 uint32

	sent      map[uint32]sentPacket
	timers    map[uint32]time.Time
	retries   map[uint32]int
	acked     map[uint32]bool // SR only
	abandoned map[uint32]bool // SR only

	cwnd     float64
	ssthresh float64
	rwnd     uint32

	timeout    time.Duration
	maxRetries int

	failed bool // GBN retry ceiling: connection aborted

	// Stats, surfaced to pkg/metrics.
	PacketsSent    uint64
	Retransmits    uint64
	NaksReceived   uint64
	BytesDelivered uint64
}

// NewEngine builds a sender Engine. initialRwnd is the receive window
// learned during the handshake.
func NewEngine(cfg Config, initialRwnd uint32) *Engine {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PayloadFunc == nil {
		cfg.PayloadFunc = func(seq uint32) []byte {
			return []byte("Pacote " + itoa(seq))
		}
	}

	return &Engine{
		cfg:        cfg,
		total:      cfg.Total,
		wmax:       cfg.Wmax,
		sent:       make(map[uint32]sentPacket),
		timers:     make(map[uint32]time.Time),
		retries:    make(map[uint32]int),
		acked:      make(map[uint32]bool),
		abandoned:  make(map[uint32]bool),
		cwnd:       1.0,
		ssthresh:   defaultSsthresh,
		rwnd:       initialRwnd,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Window reports the effective sending window W = floor(min(cwnd, rwnd, wmax)).
func (e *Engine) Window() uint32 {
	w := e.cwnd
	if float64(e.rwnd) < w {
		w = float64(e.rwnd)
	}
	if float64(e.wmax) < w {
		w = float64(e.wmax)
	}
	return uint32(math.Floor(w))
}

// Done reports whether the sender has completed (base reached total,
// whether by acknowledgment or by abandonment under SR).
func (e *Engine) Done() bool { return e.base >= e.total }

// Failed reports whether a GBN retry ceiling aborted the connection.
func (e *Engine) Failed() bool { return e.failed }

// Base, NextSeq, Cwnd, Ssthresh, Rwnd expose live state for metrics.
func (e *Engine) Base() uint32        { return e.base }
func (e *Engine) NextSeq() uint32     { return e.nextSeq }
func (e *Engine) Cwnd() float64       { return e.cwnd }
func (e *Engine) Ssthresh() float64   { return e.ssthresh }
func (e *Engine) Rwnd() uint32        { return e.rwnd }
func (e *Engine) Retries(seq uint32) int { return e.retries[seq] }

// NextOutgoing builds and records the next DATA frame if the window
// has capacity, or returns ok=false otherwise.
func (e *Engine) NextOutgoing(now time.Time) (frame []byte, seq uint32, ok bool) {
	w := e.Window()
	if !(e.nextSeq < e.total && e.nextSeq < e.base+w) {
		return nil, 0, false
	}

	seq = e.nextSeq
	payload := e.cfg.PayloadFunc(seq)
	corrupt := e.cfg.Hooks.DataErrorSeqs.Has(seq)

	frame = wire.Encode(seq, 0, payload, corrupt)
	e.sent[seq] = sentPacket{payload: payload, corruptedOnFirstSend: corrupt}
	e.timers[seq] = now.Add(e.timeout)
	e.retries[seq] = 0
	e.nextSeq++
	e.PacketsSent++
	return frame, seq, true
}

// FillWindow emits every frame the window currently has capacity for
// (batch send mode).
func (e *Engine) FillWindow(now time.Time) [][]byte {
	var frames [][]byte
	for {
		frame, _, ok := e.NextOutgoing(now)
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

// SendOne emits at most one frame (single send mode).
func (e *Engine) SendOne(now time.Time) ([]byte, bool) {
	frame, _, ok := e.NextOutgoing(now)
	return frame, ok
}

func clampFloor(v float64) float64 {
	f := math.Floor(v)
	if f < 1 {
		return 1
	}
	return f
}

func (e *Engine) growOnGoodAck() {
	if e.cwnd < e.ssthresh {
		e.cwnd += 1
	} else {
		e.cwnd += 1 / e.cwnd
	}
}

func (e *Engine) clearOutstanding(seq uint32) {
	delete(e.sent, seq)
	delete(e.timers, seq)
}

// retransmit rebuilds a clean (never corrupted) DATA frame for seq,
// bumps its retry counter, and resets its timer. ok is false when seq
// is not outstanding or the retry ceiling has already been reached for it.
func (e *Engine) retransmit(now time.Time, seq uint32) (frame []byte, ok bool) {
	sp, exists := e.sent[seq]
	if !exists {
		return nil, false
	}
	if e.retries[seq] >= e.maxRetries {
		return nil, false
	}

	frame = wire.Encode(seq, 0, sp.payload, false)
	e.timers[seq] = now.Add(e.timeout)
	e.retries[seq]++
	e.Retransmits++
	return frame, true
}

// abandonSR drops seq's outstanding state under Selective Repeat and
// advances base past it if it was the window's base.
func (e *Engine) abandonSR(seq uint32) {
	e.abandoned[seq] = true
	e.clearOutstanding(seq)
	e.advanceSRBase()
}

func (e *Engine) advanceSRBase() {
	for e.base < e.total && (e.acked[e.base] || e.abandoned[e.base]) {
		e.base++
	}
}

// HandleIncoming processes one ACK/NAK frame from the peer. It
// returns any frames the engine wants retransmitted as a result
// (NAK-triggered retransmission), and whether the connection has hit
// an unrecoverable (GBN) failure.
func (e *Engine) HandleIncoming(now time.Time, raw []byte) (out [][]byte, fatal bool) {
	f, err := wire.Decode(raw)
	if err != nil {
		return nil, false
	}
	if err := f.Verify(); err != nil {
		return nil, false
	}

	if rwnd, ok := wire.DecodeWindow(f.Payload); ok && rwnd != e.rwnd {
		e.rwnd = rwnd
	}

	switch {
	case f.IsACK():
		e.handleAck(f.Seq)
	case f.IsNAK():
		e.NaksReceived++
		frame, fatalNak := e.handleNak(now, f.Seq)
		if frame != nil {
			out = append(out, frame)
		}
		fatal = fatalNak
	}
	return out, fatal
}

func (e *Engine) handleAck(r uint32) {
	if e.cfg.Protocol == wire.GBN {
		if r < e.base {
			return
		}
		for seq := e.base; seq <= r; seq++ {
			e.clearOutstanding(seq)
		}
		e.base = r + 1
		e.growOnGoodAck()
		return
	}

	// Selective Repeat.
	if e.acked[r] {
		return
	}
	e.acked[r] = true
	e.clearOutstanding(r)
	e.advanceSRBase()
	e.growOnGoodAck()
}

// handleNak applies the NAK backoff asymmetry mandated by the spec:
// GBN collapses cwnd to 1, SR only halves it (per-packet loss vs a
// cumulative discipline's loss signal).
func (e *Engine) handleNak(now time.Time, r uint32) (frame []byte, fatal bool) {
	e.ssthresh = clampFloor(e.cwnd / 2)
	if e.cfg.Protocol == wire.GBN {
		e.cwnd = 1
	} else {
		e.cwnd = clampFloor(e.cwnd / 2)
	}

	frame, ok := e.retransmit(now, r)
	if ok {
		return frame, false
	}
	if _, outstanding := e.sent[r]; !outstanding {
		// Already acknowledged or abandoned: nothing to retransmit.
		return nil, false
	}

	// Retry ceiling reached.
	if e.cfg.Protocol == wire.GBN {
		e.failed = true
		return nil, true
	}
	e.abandonSR(r)
	return nil, false
}

// CheckTimers polls for expired per-packet deadlines and returns any
// retransmissions (or GBN's full go-back-N batch) they trigger, plus
// whether the connection has hit an unrecoverable (GBN) failure.
func (e *Engine) CheckTimers(now time.Time) (out [][]byte, fatal bool) {
	if e.cfg.Protocol == wire.GBN {
		return e.checkGBNTimeout(now)
	}
	return e.checkSRTimeouts(now)
}

func (e *Engine) checkGBNTimeout(now time.Time) (out [][]byte, fatal bool) {
	deadline, exists := e.timers[e.base]
	if !exists || now.Before(deadline) {
		return nil, false
	}

	e.ssthresh = clampFloor(e.cwnd / 2)
	e.cwnd = 1
	e.nextSeq = e.base

	for seq := e.base; seq < e.total; seq++ {
		if _, outstanding := e.sent[seq]; !outstanding {
			continue
		}
		frame, ok := e.retransmit(now, seq)
		if !ok {
			e.failed = true
			return out, true
		}
		out = append(out, frame)
		e.nextSeq = seq + 1
	}
	return out, false
}

func (e *Engine) checkSRTimeouts(now time.Time) (out [][]byte, fatal bool) {
	var expired []uint32
	for seq, deadline := range e.timers {
		if !now.Before(deadline) {
			expired = append(expired, seq)
		}
	}

	for _, seq := range expired {
		e.ssthresh = clampFloor(e.cwnd / 2)
		e.cwnd = clampFloor(e.cwnd / 2)

		frame, ok := e.retransmit(now, seq)
		if ok {
			out = append(out, frame)
			continue
		}
		e.abandonSR(seq)
	}
	return out, false
}
