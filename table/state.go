package table

import (
	"math/big"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Phase string

const (
	SetupPhase     Phase = "SETUP"
	ShufflingPhase Phase = "SHUFFLING"
	LockingPhase   Phase = "LOCKING"
	PlayingPhase   Phase = "PLAYING"
	RevealedPhase  Phase = "REVEALED"
)

// Contribution is one player's shuffle or lock output, with the sequence
// number it was recorded at so misbehavior can be attributed later.
type Contribution struct {
	Player uuid.UUID
	Deck   []*big.Int
	Seq    uint64
}

// PublishedKey is a decryption exponent a player disclosed for one card.
type PublishedKey struct {
	Dec *big.Int
	Seq uint64
}

// Disclosure is a player's end-of-game key reveal.
type Disclosure struct {
	Keys KeySet
	Seq  uint64
}

// CardState tracks one deck position from the end of locking onwards.
type CardState struct {
	// Cipher is the card's final ciphertext: the value under every
	// player's per-card key for this position. It never changes.
	Cipher *big.Int
	Holder uuid.UUID
	Drawn  bool
	FaceUp bool
	// Discarded cards were drawn and then given up; their keys stay
	// disclosed but the card is out of play.
	Discarded bool
	// RequestSeq is the sequence number of the draw, exposed so callers
	// can report how long a key request has been outstanding.
	RequestSeq uint64
	Published  map[uuid.UUID]PublishedKey
}

// TableState is the shared state of one game, replicated via the move
// ledger. Every party applies the same sequenced moves and therefore
// holds an identical TableState. It is NOT thread safe.
type TableState struct {
	Phase Phase
	// Players in seat order. Seat order is turn order for shuffle and
	// lock contributions.
	Players []uuid.UUID
	// Prime is the shared prime, nil until a proposal is sequenced.
	Prime         *big.Int
	PrimeProposer uuid.UUID
	PrimeSeq      uint64
	// InitialDeck is the agreed plaintext card values, in the order the
	// starter submitted them.
	InitialDeck []int64
	// ShuffleTrail and LockTrail record every intermediate deck, one
	// contribution per player in seat order. They are the evidence the
	// end-of-game audit replays.
	ShuffleTrail []Contribution
	LockTrail    []Contribution
	// Cards is populated when the last lock contribution arrives.
	Cards []CardState
	// Revealed collects end-of-game key disclosures by player.
	Revealed map[uuid.UUID]Disclosure
}

// NewTableState returns a table in the setup phase.
func NewTableState() TableState {
	return TableState{
		Phase:    SetupPhase,
		Revealed: make(map[uuid.UUID]Disclosure),
	}
}

// Apply applies a sequenced move. Moves that are not legal in the current
// state have no effect; Apply returns whether the move changed anything.
func (st *TableState) Apply(seq uint64, mv Move) bool {
	switch mv.Kind() {
	case SitKind:
		return st.sit(seq, mv.(SitMove))
	case ProposePrimeKind:
		return st.proposePrime(seq, mv.(ProposePrimeMove))
	case StartShuffleKind:
		return st.startShuffle(seq, mv.(StartShuffleMove))
	case ShuffleKind:
		return st.shuffle(seq, mv.(ShuffleMove))
	case LockKind:
		return st.lock(seq, mv.(LockMove))
	case DrawKind:
		return st.draw(seq, mv.(DrawMove))
	case PublishKeyKind:
		return st.publishKey(seq, mv.(PublishKeyMove))
	case DiscardKind:
		return st.discard(seq, mv.(DiscardMove))
	case RevealKind:
		return st.reveal(seq, mv.(RevealMove))
	default:
		log.Warn().Str("kind", string(mv.Kind())).Msg("ignoring move of unknown kind")
		return false
	}
}

func (st *TableState) seatIndex(id uuid.UUID) (int, bool) {
	for i, p := range st.Players {
		if p == id {
			return i, true
		}
	}
	return -1, false
}

// Seated reports whether the player has a seat at the table.
func (st *TableState) Seated(id uuid.UUID) bool {
	_, ok := st.seatIndex(id)
	return ok
}

func (st *TableState) sit(seq uint64, mv SitMove) bool {
	if st.Phase != SetupPhase {
		return false
	}
	if st.Seated(mv.Id) {
		return false
	}
	st.Players = append(st.Players, mv.Id)
	return true
}

func (st *TableState) proposePrime(seq uint64, mv ProposePrimeMove) bool {
	if st.Phase != SetupPhase || st.Prime != nil {
		return false
	}
	if !st.Seated(mv.Id) || mv.Prime == nil {
		return false
	}
	st.Prime = new(big.Int).Set(mv.Prime)
	st.PrimeProposer = mv.Id
	st.PrimeSeq = seq
	return true
}

func (st *TableState) startShuffle(seq uint64, mv StartShuffleMove) bool {
	if st.Phase != SetupPhase || st.Prime == nil {
		return false
	}
	if !st.Seated(mv.Id) || len(st.Players) < 2 || len(mv.Deck) == 0 {
		return false
	}
	for _, v := range mv.Deck {
		if v < minCardValue || st.Prime.Cmp(big.NewInt(v)) <= 0 {
			log.Warn().Int64("value", v).Msg("refusing deck with out-of-range card value")
			return false
		}
	}
	st.InitialDeck = append([]int64(nil), mv.Deck...)
	st.Phase = ShufflingPhase
	return true
}

// shuffleInput returns the deck the i-th seat's shuffle contribution must
// be built from.
func (st *TableState) shuffleInput(i int) []*big.Int {
	if i == 0 {
		deck := make([]*big.Int, len(st.InitialDeck))
		for j, v := range st.InitialDeck {
			deck[j] = big.NewInt(v)
		}
		return deck
	}
	return st.ShuffleTrail[i-1].Deck
}

// lockInput returns the deck the i-th seat's lock contribution must be
// built from.
func (st *TableState) lockInput(i int) []*big.Int {
	if i == 0 {
		return st.ShuffleTrail[len(st.ShuffleTrail)-1].Deck
	}
	return st.LockTrail[i-1].Deck
}

func (st *TableState) shuffle(seq uint64, mv ShuffleMove) bool {
	if st.Phase != ShufflingPhase {
		return false
	}
	turn := len(st.ShuffleTrail)
	if mv.Prev != turn {
		return false
	}
	i, ok := st.seatIndex(mv.Id)
	if !ok || i != turn {
		return false
	}
	if len(mv.Deck) != len(st.InitialDeck) {
		log.Warn().Stringer("player", mv.Id).Msg("shuffle contribution of wrong size")
		return false
	}
	st.ShuffleTrail = append(st.ShuffleTrail, Contribution{Player: mv.Id, Deck: copyDeck(mv.Deck), Seq: seq})
	if len(st.ShuffleTrail) == len(st.Players) {
		st.Phase = LockingPhase
	}
	return true
}

func (st *TableState) lock(seq uint64, mv LockMove) bool {
	if st.Phase != LockingPhase {
		return false
	}
	turn := len(st.LockTrail)
	if mv.Prev != turn {
		return false
	}
	i, ok := st.seatIndex(mv.Id)
	if !ok || i != turn {
		return false
	}
	if len(mv.Deck) != len(st.InitialDeck) {
		log.Warn().Stringer("player", mv.Id).Msg("lock contribution of wrong size")
		return false
	}
	st.LockTrail = append(st.LockTrail, Contribution{Player: mv.Id, Deck: copyDeck(mv.Deck), Seq: seq})
	if len(st.LockTrail) == len(st.Players) {
		final := st.LockTrail[len(st.LockTrail)-1].Deck
		st.Cards = make([]CardState, len(final))
		for j, c := range final {
			st.Cards[j] = CardState{
				Cipher:    new(big.Int).Set(c),
				Published: make(map[uuid.UUID]PublishedKey),
			}
		}
		st.Phase = PlayingPhase
	}
	return true
}

func (st *TableState) draw(seq uint64, mv DrawMove) bool {
	if st.Phase != PlayingPhase {
		return false
	}
	if !st.Seated(mv.Id) || mv.Card < 0 || mv.Card >= len(st.Cards) {
		return false
	}
	c := &st.Cards[mv.Card]
	if c.Drawn || c.Discarded {
		return false
	}
	c.Drawn = true
	c.Holder = mv.Id
	c.FaceUp = mv.FaceUp
	c.RequestSeq = seq
	return true
}

func (st *TableState) publishKey(seq uint64, mv PublishKeyMove) bool {
	if st.Phase != PlayingPhase {
		return false
	}
	if !st.Seated(mv.Id) || mv.Card < 0 || mv.Card >= len(st.Cards) || mv.Dec == nil {
		return false
	}
	c := &st.Cards[mv.Card]
	if !c.Drawn {
		return false
	}
	if _, done := c.Published[mv.Id]; done {
		return false
	}
	c.Published[mv.Id] = PublishedKey{Dec: new(big.Int).Set(mv.Dec), Seq: seq}
	return true
}

func (st *TableState) discard(seq uint64, mv DiscardMove) bool {
	if st.Phase != PlayingPhase {
		return false
	}
	if mv.Card < 0 || mv.Card >= len(st.Cards) {
		return false
	}
	c := &st.Cards[mv.Card]
	if !c.Drawn || c.Discarded || c.Holder != mv.Id {
		return false
	}
	c.Discarded = true
	return true
}

func (st *TableState) reveal(seq uint64, mv RevealMove) bool {
	if st.Phase != PlayingPhase {
		return false
	}
	if !st.Seated(mv.Id) || mv.Keys.Nil() || len(mv.Keys.Cards) != len(st.Cards) {
		return false
	}
	if _, done := st.Revealed[mv.Id]; done {
		return false
	}
	st.Revealed[mv.Id] = Disclosure{Keys: mv.Keys, Seq: seq}
	if len(st.Revealed) == len(st.Players) {
		st.Phase = RevealedPhase
	}
	return true
}

// Await reports an outstanding key disclosure: card Card is waiting on a
// key from player From, and has been since the draw at SinceSeq.
type Await struct {
	Card     int
	From     uuid.UUID
	SinceSeq uint64
}

// AwaitingKeys lists every key disclosure the table is still waiting for.
// A face-down card waits on everyone but its holder; a face-up card waits
// on every player.
func (st *TableState) AwaitingKeys() []Await {
	var out []Await
	for i := range st.Cards {
		c := &st.Cards[i]
		if !c.Drawn || c.Discarded {
			continue
		}
		for _, p := range st.Players {
			if p == c.Holder && !c.FaceUp {
				continue
			}
			if _, ok := c.Published[p]; !ok {
				out = append(out, Await{Card: i, From: p, SinceSeq: c.RequestSeq})
			}
		}
	}
	return out
}

// ReadableBy reports whether the given player can decrypt the card: the
// card is drawn, the player is entitled to see it (holder, or anyone once
// it is face up), and every other player has published their key for it.
func (st *TableState) ReadableBy(card int, id uuid.UUID) bool {
	if card < 0 || card >= len(st.Cards) {
		return false
	}
	c := &st.Cards[card]
	if !c.Drawn {
		return false
	}
	if c.Holder != id && !c.FaceUp {
		return false
	}
	for _, p := range st.Players {
		if p == id {
			continue
		}
		if _, ok := c.Published[p]; !ok {
			return false
		}
	}
	return true
}

func copyDeck(deck []*big.Int) []*big.Int {
	out := make([]*big.Int, len(deck))
	for i, c := range deck {
		out[i] = new(big.Int).Set(c)
	}
	return out
}

// DeepCopy returns a copy sharing no mutable data with the original, so
// the copy can be read concurrently with the original being applied to.
func (st *TableState) DeepCopy() TableState {
	cp := TableState{
		Phase:         st.Phase,
		Players:       append([]uuid.UUID(nil), st.Players...),
		PrimeProposer: st.PrimeProposer,
		PrimeSeq:      st.PrimeSeq,
		InitialDeck:   append([]int64(nil), st.InitialDeck...),
		Revealed:      make(map[uuid.UUID]Disclosure, len(st.Revealed)),
	}
	if st.Prime != nil {
		cp.Prime = new(big.Int).Set(st.Prime)
	}
	cp.ShuffleTrail = copyTrail(st.ShuffleTrail)
	cp.LockTrail = copyTrail(st.LockTrail)
	if st.Cards != nil {
		cp.Cards = make([]CardState, len(st.Cards))
		for i, c := range st.Cards {
			cc := c
			cc.Cipher = new(big.Int).Set(c.Cipher)
			cc.Published = make(map[uuid.UUID]PublishedKey, len(c.Published))
			for p, k := range c.Published {
				cc.Published[p] = PublishedKey{Dec: new(big.Int).Set(k.Dec), Seq: k.Seq}
			}
			cp.Cards[i] = cc
		}
	}
	for p, d := range st.Revealed {
		cp.Revealed[p] = d
	}
	return cp
}

// Dump renders the complete table state for debugging.
func (st *TableState) Dump() string {
	return spew.Sdump(st)
}

func copyTrail(trail []Contribution) []Contribution {
	if trail == nil {
		return nil
	}
	out := make([]Contribution, len(trail))
	for i, c := range trail {
		out[i] = Contribution{Player: c.Player, Deck: copyDeck(c.Deck), Seq: c.Seq}
	}
	return out
}
