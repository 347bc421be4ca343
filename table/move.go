package table

import (
	"encoding/json"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/sra"
)

type MoveKind string

const (
	SitKind          MoveKind = "sit"
	ProposePrimeKind MoveKind = "proposePrime"
	StartShuffleKind MoveKind = "startShuffle"
	ShuffleKind      MoveKind = "shuffle"
	LockKind         MoveKind = "lock"
	DrawKind         MoveKind = "draw"
	PublishKeyKind   MoveKind = "publishKey"
	DiscardKind      MoveKind = "discard"
	RevealKind       MoveKind = "reveal"
)

// Move is an operation to be applied to the table state. Moves are
// sequenced by the ledger before they take effect, so every party applies
// the same moves in the same order. A Move is immutable and thread safe.
type Move interface {
	Kind() MoveKind
	Player() uuid.UUID
}

// SitMove seats a player at the table. Seat order is turn order for the
// whole game. If the game has left the setup phase, or the player is
// already seated, it is a no-op.
type SitMove struct {
	Id uuid.UUID
}

func (m SitMove) Kind() MoveKind    { return SitKind }
func (m SitMove) Player() uuid.UUID { return m.Id }

// ProposePrimeMove proposes the shared prime all key pairs derive from.
// Every party proposes one; the first proposal to be sequenced wins, and
// all later proposals are no-ops. A proposal from an unseated player is a
// no-op.
type ProposePrimeMove struct {
	Id    uuid.UUID
	Prime *big.Int
}

func (m ProposePrimeMove) Kind() MoveKind    { return ProposePrimeKind }
func (m ProposePrimeMove) Player() uuid.UUID { return m.Id }

// StartShuffleMove closes seating and starts the shuffle with the given
// deck of card values. It is a no-op unless the table is in the setup
// phase with a shared prime agreed, at least two seated players, and the
// mover seated. Card values must be at least 2: 0 and 1 are fixed points
// of the cipher and would leak through every layer.
type StartShuffleMove struct {
	Id   uuid.UUID
	Deck []int64
}

func (m StartShuffleMove) Kind() MoveKind    { return StartShuffleKind }
func (m StartShuffleMove) Player() uuid.UUID { return m.Id }

// ShuffleMove submits a player's shuffle contribution: the previous deck
// encrypted under their single deck key and permuted. Contributions go in
// seat order; a contribution out of turn, from an unseated player, or of
// the wrong size is a no-op. Prev is the number of contributions the
// mover observed, supporting test-and-set against stale submissions.
type ShuffleMove struct {
	Id   uuid.UUID
	Deck []*big.Int
	Prev int
}

func (m ShuffleMove) Kind() MoveKind    { return ShuffleKind }
func (m ShuffleMove) Player() uuid.UUID { return m.Id }

// LockMove submits a player's lock contribution: the previous deck with
// the player's deck key peeled off and a fresh per-card key applied at
// each position, order preserved. The same turn gating as ShuffleMove
// applies. When the last player locks, the table enters the playing phase.
type LockMove struct {
	Id   uuid.UUID
	Deck []*big.Int
	Prev int
}

func (m LockMove) Kind() MoveKind    { return LockKind }
func (m LockMove) Player() uuid.UUID { return m.Id }

// DrawMove claims a card by deck position. Face-up draws ask every party
// to disclose their key for the card; face-down draws ask everyone but
// the drawer. Drawing a card already drawn or discarded is a no-op.
type DrawMove struct {
	Id     uuid.UUID
	Card   int
	FaceUp bool
}

func (m DrawMove) Kind() MoveKind    { return DrawKind }
func (m DrawMove) Player() uuid.UUID { return m.Id }

// PublishKeyMove discloses the mover's decryption exponent for one card,
// cooperating with a draw. Publishing for an undrawn card, from an
// unseated player, or a second time for the same card is a no-op.
type PublishKeyMove struct {
	Id   uuid.UUID
	Card int
	Dec  *big.Int
}

func (m PublishKeyMove) Kind() MoveKind    { return PublishKeyKind }
func (m PublishKeyMove) Player() uuid.UUID { return m.Id }

// DiscardMove discards a card the mover holds. Only the holder may
// discard; anything else is a no-op.
type DiscardMove struct {
	Id   uuid.UUID
	Card int
}

func (m DiscardMove) Kind() MoveKind    { return DiscardKind }
func (m DiscardMove) Player() uuid.UUID { return m.Id }

// KeySet is a player's complete key material for one game: the deck key
// used while shuffling and one key per card position from locking.
type KeySet struct {
	Deck  sra.KeyPair   `json:"deck"`
	Cards []sra.KeyPair `json:"cards"`
}

// Nil reports whether the key set has not been disclosed.
func (ks KeySet) Nil() bool {
	return ks.Deck.Nil()
}

// RevealMove discloses the mover's complete key set, ending their
// participation. When every seated player has revealed, the table enters
// the revealed phase and the game can be audited. A reveal with the wrong
// number of card keys, or a second reveal, is a no-op.
type RevealMove struct {
	Id   uuid.UUID
	Keys KeySet
}

func (m RevealMove) Kind() MoveKind    { return RevealKind }
func (m RevealMove) Player() uuid.UUID { return m.Id }

// envelope is the wire form of a move: the kind tag picks the concrete
// type the body decodes into.
type envelope struct {
	Kind MoveKind        `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MoveCodec translates moves to and from ledger entries.
type MoveCodec struct{}

func (MoveCodec) Encode(m Move) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("table: encoding %s move: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Kind: m.Kind(), Body: body})
}

func (MoveCodec) Decode(raw []byte) (Move, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, xerrors.Errorf("table: decoding move envelope: %w", err)
	}
	switch env.Kind {
	case SitKind:
		return decodeAs[SitMove](env)
	case ProposePrimeKind:
		return decodeAs[ProposePrimeMove](env)
	case StartShuffleKind:
		return decodeAs[StartShuffleMove](env)
	case ShuffleKind:
		return decodeAs[ShuffleMove](env)
	case LockKind:
		return decodeAs[LockMove](env)
	case DrawKind:
		return decodeAs[DrawMove](env)
	case PublishKeyKind:
		return decodeAs[PublishKeyMove](env)
	case DiscardKind:
		return decodeAs[DiscardMove](env)
	case RevealKind:
		return decodeAs[RevealMove](env)
	default:
		return nil, xerrors.Errorf("table: unknown move kind %q", env.Kind)
	}
}

func decodeAs[M Move](env envelope) (Move, error) {
	var m M
	if err := json.Unmarshal(env.Body, &m); err != nil {
		return nil, xerrors.Errorf("table: decoding %s move: %w", env.Kind, err)
	}
	return m, nil
}
