// Package ledger implements the replicated, sequenced, append-only list
// that all shared game state is built on. A Log either runs detached
// (purely local, appends apply immediately) or attached to an ordering
// authority, in which case every mutation, including the caller's own,
// only takes effect once the authority has sequenced and delivered it.
// All correctly functioning parties attached to the same session converge
// on bit-identical entry lists.
package ledger

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/seq"
)

// ErrGap is the fatal error recorded when the delivery stream skips a
// sequence number. A hole means entries were lost in transport; the only
// safe recovery is a full resync from a snapshot.
var ErrGap = xerrors.New("ledger: gap in sequence numbers")

// ErrAttached is returned by operations that are only legal before the
// log joins an ordering session.
var ErrAttached = xerrors.New("ledger: log is already attached")

// ErrDead is returned when the log has been killed or has failed.
var ErrDead = xerrors.New("ledger: log is dead")

// Codec translates entry values to and from the opaque bytes carried by
// the ordering authority.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(raw []byte) (T, error)
}

// EventKind discriminates log events.
type EventKind int

const (
	// EventAppend fires exactly once per entry, when it transitions from
	// pending to applied locally.
	EventAppend EventKind = iota + 1
	// EventClear fires once per applied clear and carries the removed
	// values.
	EventClear
)

// Event notifies a consumer of an applied mutation.
type Event[T any] struct {
	Kind    EventKind
	Seq     uint64
	Value   T   // set for EventAppend
	Removed []T // set for EventClear
}

// Entry is an applied entry together with its sequence number.
type Entry[T any] struct {
	Seq   uint64
	Value T
}

// Log is the sequenced append-only list. It is safe for concurrent use.
type Log[T any] struct {
	codec Codec[T]

	mu       sync.Mutex
	entries  []Entry[T]
	lastSeq  uint64
	attached bool
	failed   error
	dead     bool

	sequencer seq.Sequencer
	events     chan Event[T]
	eventsOnce sync.Once
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewLog creates a detached log.
func NewLog[T any](codec Codec[T]) *Log[T] {
	return &Log[T]{
		codec:  codec,
		events: make(chan Event[T], 256),
		stop:   make(chan struct{}),
	}
}

// Attach joins an ordering session and starts applying its deliveries.
// Entries already present (from Restore) act as the resumption point:
// deliveries at or below the restored sequence number are dropped as
// duplicates. Attach may be called at most once.
func (l *Log[T]) Attach(s seq.Sequencer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead || l.failed != nil {
		return ErrDead
	}
	if l.attached {
		return ErrAttached
	}
	l.attached = true
	l.sequencer = s
	go l.consume()
	return nil
}

// Append records a value. Detached, it applies immediately; nobody else
// can observe the log, so no ordering is needed. Attached, it submits the
// value to the authority and returns; the entry applies when it comes
// back sequenced, like every other party's entries.
func (l *Log[T]) Append(ctx context.Context, v T) error {
	l.mu.Lock()
	if err := l.usable(); err != nil {
		l.mu.Unlock()
		return err
	}
	if !l.attached {
		l.lastSeq++
		ev := Event[T]{Kind: EventAppend, Seq: l.lastSeq, Value: v}
		l.entries = append(l.entries, Entry[T]{Seq: l.lastSeq, Value: v})
		l.mu.Unlock()
		l.emit(ev)
		return nil
	}
	s := l.sequencer
	l.mu.Unlock()

	raw, err := l.codec.Encode(v)
	if err != nil {
		return xerrors.Errorf("ledger: encoding value: %w", err)
	}
	return s.Submit(ctx, seq.Op{Kind: seq.OpAppend, Value: raw})
}

// Clear removes all entries, with the same dual detached/attached
// behavior as Append. The resulting event carries the removed values.
func (l *Log[T]) Clear(ctx context.Context) error {
	l.mu.Lock()
	if err := l.usable(); err != nil {
		l.mu.Unlock()
		return err
	}
	if !l.attached {
		l.lastSeq++
		ev := Event[T]{Kind: EventClear, Seq: l.lastSeq, Removed: l.values()}
		l.entries = nil
		l.mu.Unlock()
		l.emit(ev)
		return nil
	}
	s := l.sequencer
	l.mu.Unlock()
	return s.Submit(ctx, seq.Op{Kind: seq.OpClear})
}

// Get returns a snapshot of the applied values, in sequence order. It
// never blocks on pending operations.
func (l *Log[T]) Get() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values()
}

// Entries returns a snapshot of the applied entries with their sequence
// numbers.
func (l *Log[T]) Entries() []Entry[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry[T], len(l.entries))
	copy(out, l.entries)
	return out
}

// LastSeq returns the sequence number of the last applied operation.
func (l *Log[T]) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Events returns the channel of applied-mutation events. The same channel
// is always returned; it is closed when the log dies or fails.
func (l *Log[T]) Events() <-chan Event[T] {
	return l.events
}

// Err returns the fatal error that stopped the log, if any.
func (l *Log[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Kill stops the consume goroutine and closes the events channel. The
// log's applied entries stay readable.
func (l *Log[T]) Kill() {
	l.mu.Lock()
	l.dead = true
	attached := l.attached
	l.mu.Unlock()
	l.stopOnce.Do(func() { close(l.stop) })
	if !attached {
		// No consume goroutine to close the channel for us.
		l.closeEvents()
	}
}

func (l *Log[T]) closeEvents() {
	l.eventsOnce.Do(func() { close(l.events) })
}

func (l *Log[T]) usable() error {
	if l.dead {
		return ErrDead
	}
	if l.failed != nil {
		return l.failed
	}
	return nil
}

// values must be called with the lock held.
func (l *Log[T]) values() []T {
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Value
	}
	return out
}

func (l *Log[T]) emit(ev Event[T]) {
	select {
	case l.events <- ev:
	case <-l.stop:
	}
}

func (l *Log[T]) consume() {
	defer l.closeEvents()
	for {
		select {
		case <-l.stop:
			return
		case d, ok := <-l.sequencer.Deliveries():
			if !ok {
				l.fail(xerrors.New("ledger: delivery channel closed"))
				return
			}
			ev, apply, err := l.applyDelivery(d)
			if err != nil {
				l.fail(err)
				return
			}
			if apply {
				l.emit(ev)
			}
		}
	}
}

// applyDelivery applies one sequenced operation. Duplicates (at-least-once
// transport) are dropped; a gap is fatal.
func (l *Log[T]) applyDelivery(d seq.Delivery) (Event[T], bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if d.Seq <= l.lastSeq {
		log.Debug().Uint64("seq", d.Seq).Uint64("last", l.lastSeq).Msg("dropping duplicate delivery")
		return Event[T]{}, false, nil
	}
	if d.Seq != l.lastSeq+1 {
		return Event[T]{}, false, xerrors.Errorf("expected seq %d, got %d: %w", l.lastSeq+1, d.Seq, ErrGap)
	}
	l.lastSeq = d.Seq

	switch d.Op.Kind {
	case seq.OpAppend:
		v, err := l.codec.Decode(d.Op.Value)
		if err != nil {
			return Event[T]{}, false, xerrors.Errorf("ledger: decoding entry %d: %w", d.Seq, err)
		}
		l.entries = append(l.entries, Entry[T]{Seq: d.Seq, Value: v})
		return Event[T]{Kind: EventAppend, Seq: d.Seq, Value: v}, true, nil
	case seq.OpClear:
		ev := Event[T]{Kind: EventClear, Seq: d.Seq, Removed: l.values()}
		l.entries = nil
		return ev, true, nil
	default:
		return Event[T]{}, false, xerrors.Errorf("ledger: unknown op kind %d at seq %d", d.Op.Kind, d.Seq)
	}
}

func (l *Log[T]) fail(err error) {
	l.mu.Lock()
	l.failed = err
	l.mu.Unlock()
	log.Error().Err(err).Msg("ledger stopped")
}
