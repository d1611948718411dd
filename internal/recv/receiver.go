// Package recv implements the receiver-side in-order/out-of-order
// window and acknowledgment-generation state machine shared by the
// Go-Back-N and Selective-Repeat retransmission disciplines.
package recv

import (
	"time"

	"github.com/ventosilenzioso/go-reliable-transport/internal/faultinject"
	"github.com/ventosilenzioso/go-reliable-transport/internal/wire"
)

// AckMode selects whether DATA acknowledgments (under GBN) name the
// packet just received or the cumulative in-order frontier.
type AckMode int

const (
	Individual AckMode = iota
	Cumulative
)

// WindowStep is one entry of a dynamic receive-window advertisement
// schedule: at Offset after connection start, advertise Size.
type WindowStep struct {
	Offset time.Duration
	Size   uint32
}

// Config configures a receiver Engine.
type Config struct {
	Protocol      wire.Protocol
	InitialWindow uint32
	AckMode       AckMode
	Schedule      []WindowStep
	Hooks         faultinject.Hooks
}

// Engine is the per-connection receiver state machine.
type Engine struct {
	cfg Config

	expected uint32 // GBN
	buffered map[uint32][]byte
	recvBase uint32 // SR
	rwndAdv  uint32

	start       time.Time
	scheduleIdx int

	PacketsDelivered uint64
	BytesDelivered   uint64
}

// NewEngine builds a receiver Engine. start is the connection's
// establishment time, against which the dynamic-window Schedule is
// measured.
func NewEngine(cfg Config, start time.Time) *Engine {
	return &Engine{
		cfg:      cfg,
		buffered: make(map[uint32][]byte),
		rwndAdv:  cfg.InitialWindow,
		start:    start,
	}
}

// Rwnd reports the currently advertised receive window.
func (e *Engine) Rwnd() uint32 { return e.rwndAdv }

// RecvBase reports the oldest not-yet-delivered sequence number
// (meaningful under SR; under GBN this tracks Expected).
func (e *Engine) RecvBase() uint32 {
	if e.cfg.Protocol == wire.GBN {
		return e.expected
	}
	return e.recvBase
}

func (e *Engine) applySchedule(now time.Time) {
	for e.scheduleIdx < len(e.cfg.Schedule) {
		step := e.cfg.Schedule[e.scheduleIdx]
		if now.Sub(e.start) < step.Offset {
			break
		}
		e.rwndAdv = step.Size
		e.scheduleIdx++
	}
}

// outgoing builds a control frame for the given seq/flag, applying
// the ack-error/ack-loss hooks keyed by the triggering data seq.
// It returns nil when the hook configures the frame to be lost.
func (e *Engine) outgoing(triggerSeq, ackSeq uint32, flag byte) []byte {
	payload := wire.EncodeWindow(e.rwndAdv)
	if e.cfg.Hooks.AckLossSeqs.Has(triggerSeq) {
		return nil
	}
	corrupt := e.cfg.Hooks.AckErrorSeqs.Has(triggerSeq)
	return wire.Encode(ackSeq, flag, payload, corrupt)
}

// HandleData processes one incoming DATA frame and returns any
// delivered application payloads (in delivery order) plus any
// control (ACK/NAK) frames to write back to the peer.
func (e *Engine) HandleData(now time.Time, raw []byte) (delivered [][]byte, responses [][]byte) {
	e.applySchedule(now)

	f, err := wire.Decode(raw)
	if err != nil {
		return nil, nil
	}

	if err := f.Verify(); err != nil {
		if e.inWindow(f.Seq) {
			if resp := e.outgoing(f.Seq, f.Seq, wire.FlagNAK); resp != nil {
				responses = append(responses, resp)
			}
		}
		return nil, responses
	}

	if e.cfg.Protocol == wire.GBN {
		return e.handleGBN(f)
	}
	return e.handleSR(f)
}

func (e *Engine) inWindow(seq uint32) bool {
	if e.cfg.Protocol == wire.GBN {
		return seq == e.expected
	}
	dist := seq - e.recvBase
	return seq >= e.recvBase && dist < e.rwndAdv
}

func (e *Engine) handleGBN(f wire.Frame) (delivered [][]byte, responses [][]byte) {
	if f.Seq == e.expected {
		delivered = append(delivered, f.Payload)
		e.PacketsDelivered++
		e.BytesDelivered += uint64(len(f.Payload))
		e.expected++
	}

	var ackSeq uint32
	if e.cfg.AckMode == Individual {
		ackSeq = f.Seq
	} else if e.expected == 0 {
		ackSeq = f.Seq // safety echo: no in-order delivery has happened yet
	} else {
		ackSeq = e.expected - 1
	}

	if resp := e.outgoing(f.Seq, ackSeq, wire.FlagACK); resp != nil {
		responses = append(responses, resp)
	}
	return delivered, responses
}

func (e *Engine) handleSR(f wire.Frame) (delivered [][]byte, responses [][]byte) {
	switch {
	case f.Seq < e.recvBase:
		// Stale duplicate: re-ACK to unstick a sender that never saw
		// the original ACK.
		if resp := e.outgoing(f.Seq, f.Seq, wire.FlagACK); resp != nil {
			responses = append(responses, resp)
		}
		return nil, responses

	case f.Seq-e.recvBase < e.rwndAdv:
		e.buffered[f.Seq] = f.Payload // idempotent: same seq, same payload
		if resp := e.outgoing(f.Seq, f.Seq, wire.FlagACK); resp != nil {
			responses = append(responses, resp)
		}

		for {
			payload, ok := e.buffered[e.recvBase]
			if !ok {
				break
			}
			delivered = append(delivered, payload)
			e.PacketsDelivered++
			e.BytesDelivered += uint64(len(payload))
			delete(e.buffered, e.recvBase)
			e.recvBase++
		}
		return delivered, responses

	default:
		// Beyond the receive window: drop silently, no NAK for
		// out-of-window futures.
		return nil, nil
	}
}
