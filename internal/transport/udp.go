// Package transport provides the thin glue between the protocol
// engines in internal/send and internal/recv and a real net.PacketConn:
// a single-peer io.ReadWriter adapter (datagrams map 1:1 onto wire
// frames) and the CLI flag-parsing helpers shared by cmd/sender and
// cmd/receiver (sequence-number sets, dynamic window schedules).
package transport

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ventosilenzioso/go-reliable-transport/internal/faultinject"
	"github.com/ventosilenzioso/go-reliable-transport/internal/recv"
)

// Peer adapts a net.PacketConn plus a fixed remote address into an
// io.ReadWriter, which is what internal/wire's handshake functions
// expect. Addr is learned from the first datagram read when it isn't
// known up front (the receiver side's case).
type Peer struct {
	Conn net.PacketConn
	Addr net.Addr
}

// Read blocks for the next datagram on Conn. If Addr is unset, it is
// learned from the first datagram's sender.
func (p *Peer) Read(b []byte) (int, error) {
	n, from, err := p.Conn.ReadFrom(b)
	if err != nil {
		return 0, err
	}
	if p.Addr == nil {
		p.Addr = from
	}
	return n, nil
}

// Write sends b as a single datagram to Addr.
func (p *Peer) Write(b []byte) (int, error) {
	return p.Conn.WriteTo(b, p.Addr)
}

// ParseSeqSet parses a comma-separated list of sequence numbers (as
// used by the --data-error-seqs/--ack-error-seqs/--ack-loss-seqs CLI
// flags) into a faultinject.Set. Malformed entries are skipped.
func ParseSeqSet(csv string) faultinject.Set {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return faultinject.Set{}
	}
	parts := strings.Split(csv, ",")
	seqs := make([]uint32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			continue
		}
		seqs = append(seqs, uint32(v))
	}
	return faultinject.NewSet(seqs...)
}

// ParseWindowSchedule parses a comma-separated "offset:size" list (e.g.
// "10s:1,20s:3", as used by the --window-schedule CLI flag) into a
// []recv.WindowStep ordered the way recv.Engine expects: ascending by
// offset. Malformed entries are skipped.
func ParseWindowSchedule(csv string) []recv.WindowStep {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}

	var steps []recv.WindowStep
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		offsetStr, sizeStr, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		offset, err := time.ParseDuration(strings.TrimSpace(offsetStr))
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(strings.TrimSpace(sizeStr), 10, 32)
		if err != nil {
			continue
		}
		steps = append(steps, recv.WindowStep{Offset: offset, Size: uint32(size)})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Offset < steps[j].Offset })
	return steps
}
