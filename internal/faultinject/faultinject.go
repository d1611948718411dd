// Package faultinject holds the configurable corruption/loss hooks
// shared by the sender and receiver engines. These exist purely to
// make failure paths deterministically testable; they must never
// influence a state transition, only the bytes that actually hit the
// wire.
package faultinject

// Set is a sparse set of sequence numbers selected for fault injection.
// The zero value is an empty set.
type Set struct {
	seqs map[uint32]struct{}
}

// NewSet builds a Set from the given sequence numbers.
func NewSet(seqs ...uint32) Set {
	s := Set{seqs: make(map[uint32]struct{}, len(seqs))}
	for _, seq := range seqs {
		s.seqs[seq] = struct{}{}
	}
	return s
}

// Has reports whether seq was configured for fault injection.
func (s Set) Has(seq uint32) bool {
	if s.seqs == nil {
		return false
	}
	_, ok := s.seqs[seq]
	return ok
}

// Hooks bundles the independent fault-injection sets recognised by the
// protocol: data-corruption on first send (sender side), and
// ack/nak corruption or loss (receiver side).
type Hooks struct {
	// DataErrorSeqs lists data seqs whose first transmission gets a
	// deliberately bad checksum. Retransmissions are always clean.
	DataErrorSeqs Set
	// AckErrorSeqs lists seqs whose outgoing ACK/NAK gets a deliberately
	// bad checksum.
	AckErrorSeqs Set
	// AckLossSeqs lists seqs whose outgoing ACK/NAK is simply not
	// written.
	AckLossSeqs Set
}
