// Package seq provides the ordering authority: the external service that
// assigns a total order to submitted operations and broadcasts them to all
// attached parties, including the submitter. Parties never apply their own
// operations directly; everything round-trips through the authority so that
// every correctly functioning party observes the exact same sequence.
package seq

import "context"

// OpKind discriminates the two ledger wire operations.
type OpKind uint8

const (
	// OpAppend carries an opaque serialized value to append.
	OpAppend OpKind = iota + 1
	// OpClear signals that the whole entry list is cleared.
	OpClear
)

// Op is the wire payload submitted to and broadcast by the authority. The
// value is opaque here; the ledger layer owns its encoding.
type Op struct {
	Kind  OpKind `json:"kind"`
	Value []byte `json:"value,omitempty"`
}

// Delivery is a sequenced operation as broadcast by the authority.
// Sequence numbers start at 1 and increase strictly by 1 within a session.
// Delivery is at-least-once: consumers must treat a repeated sequence
// number as a duplicate and drop it.
type Delivery struct {
	Seq uint64 `json:"seq"`
	Op  Op     `json:"op"`
}

// Sequencer is one party's handle to the ordering authority session.
type Sequencer interface {
	// Submit hands an operation to the authority for sequencing. It
	// returns once the authority has accepted the operation, not once it
	// has been delivered; the operation comes back on Deliveries like
	// everybody else's.
	Submit(ctx context.Context, op Op) error

	// Deliveries returns the channel of sequenced operations. The same
	// channel is always returned. It is closed when the sequencer is
	// closed.
	Deliveries() <-chan Delivery

	// Close detaches from the authority and releases resources. No other
	// methods may be called afterwards.
	Close() error
}
