package table

import (
	"context"
	crand "crypto/rand"
	"io"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/bigmath"
	"github.com/deckhand-io/deckhand/ledger"
	"github.com/deckhand-io/deckhand/prime"
	"github.com/deckhand-io/deckhand/seq"
	"github.com/deckhand-io/deckhand/sra"
)

// ErrNotReadable is returned by Look when the caller is not entitled to
// the card's value, or not all required keys have been disclosed yet.
var ErrNotReadable = xerrors.New("table: card is not readable")

// Policy decides whether to disclose a key when another player draws a
// card. The honest policy always discloses; tests use withholding and
// lying policies to exercise liveness reporting and cheat detection.
type Policy interface {
	// PublishKey returns the decryption exponent to disclose for the
	// card, or nil to withhold it.
	PublishKey(card int, key sra.KeyPair) *big.Int
}

type honestPolicy struct{}

func (honestPolicy) PublishKey(_ int, key sra.KeyPair) *big.Int { return key.D }

// HonestPolicy discloses every requested key, unmodified.
func HonestPolicy() Policy { return honestPolicy{} }

// Config configures a Party. The zero value of every field except Id has
// a sensible default.
type Config struct {
	Id uuid.UUID
	// Random is the entropy source for primes, keys and shuffles.
	// Defaults to crypto/rand.Reader.
	Random io.Reader
	// PrimeBytes is the size of the shared prime this party proposes.
	// Defaults to 24.
	PrimeBytes int
	// KeyBytes is the size of generated encryption exponents. Defaults
	// to 8.
	KeyBytes int
	// Deck is the plaintext deck submitted if this party starts the
	// game. Defaults to StandardDeck().
	Deck []int64
	// Policy governs key disclosure. Defaults to HonestPolicy().
	Policy Policy
}

func (c Config) withDefaults() Config {
	if c.Random == nil {
		c.Random = crand.Reader
	}
	if c.PrimeBytes == 0 {
		c.PrimeBytes = 24
	}
	if c.KeyBytes == 0 {
		c.KeyBytes = 8
	}
	if c.Deck == nil {
		c.Deck = StandardDeck()
	}
	if c.Policy == nil {
		c.Policy = HonestPolicy()
	}
	return c
}

// Party is one player's view of a game. It consumes the sequenced move
// ledger, maintains the replicated table state, and automatically plays
// the cooperative protocol steps: seating, prime agreement, shuffle and
// lock contributions in turn, and key disclosure when others draw.
// Game decisions (starting, drawing, discarding, revealing) are taken
// through its methods. Party is safe for concurrent use.
type Party struct {
	cfg Config
	log *ledger.Log[Move]

	mu       sync.Mutex
	state    TableState
	deckKey  *sra.KeyPair
	cardKeys []*sra.KeyPair

	// Submission flags. The state machine already no-ops duplicates;
	// these only keep the party from submitting the same move twice.
	sentPrime   bool
	sentShuffle bool
	sentLock    bool
	sentReveal  bool
	published   map[int]bool
	failed      error
}

// NewParty seats a new player on the given ordering session and starts
// its update loop. The caller keeps ownership of the sequencer.
func NewParty(cfg Config, s seq.Sequencer) (*Party, error) {
	if cfg.Id == uuid.Nil {
		return nil, xerrors.New("table: party needs a non-nil id")
	}
	p := &Party{
		cfg:       cfg.withDefaults(),
		log:       ledger.NewLog[Move](MoveCodec{}),
		state:     NewTableState(),
		published: make(map[int]bool),
	}
	if err := p.log.Attach(s); err != nil {
		return nil, err
	}
	go p.readUpdates()
	if err := p.log.Append(context.Background(), SitMove{Id: p.cfg.Id}); err != nil {
		p.log.Kill()
		return nil, xerrors.Errorf("table: taking a seat: %w", err)
	}
	return p, nil
}

// readUpdates applies every sequenced move to the local table state and
// then plays whatever cooperative step the new state asks of this party.
func (p *Party) readUpdates() {
	for ev := range p.log.Events() {
		if ev.Kind != ledger.EventAppend {
			continue
		}
		p.mu.Lock()
		p.state.Apply(ev.Seq, ev.Value)
		if p.failed == nil {
			if err := p.react(); err != nil {
				p.failed = err
				log.Error().Err(err).Stringer("player", p.cfg.Id).Msg("party stopped playing")
				log.Debug().Msg(p.state.Dump())
			}
		}
		p.mu.Unlock()
	}
}

// react is called with the lock held after each applied move.
func (p *Party) react() error {
	st := &p.state
	me, seated := st.seatIndex(p.cfg.Id)
	if !seated {
		return nil
	}
	switch st.Phase {
	case SetupPhase:
		if st.Prime == nil && !p.sentPrime {
			p.sentPrime = true
			prm, err := prime.Generate(p.cfg.Random, p.cfg.PrimeBytes)
			if err != nil {
				return xerrors.Errorf("table: generating prime proposal: %w", err)
			}
			return p.submit(ProposePrimeMove{Id: p.cfg.Id, Prime: prm})
		}
	case ShufflingPhase:
		if len(st.ShuffleTrail) == me && !p.sentShuffle {
			p.sentShuffle = true
			return p.contributeShuffle(me)
		}
	case LockingPhase:
		if len(st.LockTrail) == me && !p.sentLock {
			p.sentLock = true
			return p.contributeLock(me)
		}
	case PlayingPhase:
		return p.disclosePending()
	}
	return nil
}

// contributeShuffle encrypts the previous deck under a fresh deck key and
// permutes it.
func (p *Party) contributeShuffle(me int) error {
	st := &p.state
	key, err := sra.GenerateKeyPair(p.cfg.Random, st.Prime, p.cfg.KeyBytes)
	if err != nil {
		return xerrors.Errorf("table: generating deck key: %w", err)
	}
	p.deckKey = key

	in := st.shuffleInput(me)
	out := make([]*big.Int, len(in))
	for j, c := range in {
		out[j] = key.EncryptInt(c)
	}
	if err := permute(p.cfg.Random, out); err != nil {
		return xerrors.Errorf("table: shuffling deck: %w", err)
	}
	return p.submit(ShuffleMove{Id: p.cfg.Id, Deck: out, Prev: me})
}

// contributeLock peels this party's deck key off every card and applies a
// fresh per-position key instead, preserving order.
func (p *Party) contributeLock(me int) error {
	st := &p.state
	in := st.lockInput(me)
	out := make([]*big.Int, len(in))
	p.cardKeys = make([]*sra.KeyPair, len(in))
	for j, c := range in {
		key, err := sra.GenerateKeyPair(p.cfg.Random, st.Prime, p.cfg.KeyBytes)
		if err != nil {
			return xerrors.Errorf("table: generating key for card %d: %w", j, err)
		}
		p.cardKeys[j] = key
		out[j] = key.EncryptInt(p.deckKey.DecryptInt(c))
	}
	return p.submit(LockMove{Id: p.cfg.Id, Deck: out, Prev: me})
}

// disclosePending publishes keys for every drawn card this party owes a
// key for, subject to its policy.
func (p *Party) disclosePending() error {
	st := &p.state
	if p.cardKeys == nil {
		return nil
	}
	for i := range st.Cards {
		c := &st.Cards[i]
		if !c.Drawn || c.Discarded || p.published[i] {
			continue
		}
		if c.Holder == p.cfg.Id && !c.FaceUp {
			continue
		}
		if _, done := c.Published[p.cfg.Id]; done {
			continue
		}
		p.published[i] = true
		dec := p.cfg.Policy.PublishKey(i, *p.cardKeys[i])
		if dec == nil {
			log.Info().Stringer("player", p.cfg.Id).Int("card", i).Msg("policy withheld key")
			continue
		}
		if err := p.submit(PublishKeyMove{Id: p.cfg.Id, Card: i, Dec: dec}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Party) submit(mv Move) error {
	if err := p.log.Append(context.Background(), mv); err != nil {
		return xerrors.Errorf("table: submitting %s move: %w", mv.Kind(), err)
	}
	return nil
}

// StartGame closes seating and starts the shuffle with this party's
// configured deck. Like every move, it only takes effect once sequenced;
// callers observe the result through State.
func (p *Party) StartGame(ctx context.Context) error {
	return p.log.Append(ctx, StartShuffleMove{Id: p.cfg.Id, Deck: p.cfg.Deck})
}

// Draw claims the card at the given deck position. Face up, every player
// is asked to disclose their key for it; face down, everyone but this
// party.
func (p *Party) Draw(ctx context.Context, card int, faceUp bool) error {
	return p.log.Append(ctx, DrawMove{Id: p.cfg.Id, Card: card, FaceUp: faceUp})
}

// Discard gives up a card this party holds.
func (p *Party) Discard(ctx context.Context, card int) error {
	return p.log.Append(ctx, DiscardMove{Id: p.cfg.Id, Card: card})
}

// Reveal discloses this party's complete key material, ending its game.
func (p *Party) Reveal(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Phase != PlayingPhase || p.deckKey == nil || p.cardKeys == nil {
		p.mu.Unlock()
		return xerrors.New("table: nothing to reveal yet")
	}
	if p.sentReveal {
		p.mu.Unlock()
		return nil
	}
	p.sentReveal = true
	ks := KeySet{Deck: *p.deckKey, Cards: make([]sra.KeyPair, len(p.cardKeys))}
	for i, k := range p.cardKeys {
		ks.Cards[i] = *k
	}
	p.mu.Unlock()
	return p.log.Append(ctx, RevealMove{Id: p.cfg.Id, Keys: ks})
}

// Look decrypts a card this party is entitled to see. It peels off every
// other player's published key and finally this party's own.
func (p *Party) Look(card int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := &p.state
	if !st.ReadableBy(card, p.cfg.Id) {
		return 0, ErrNotReadable
	}
	if p.cardKeys == nil || card >= len(p.cardKeys) {
		return 0, ErrNotReadable
	}
	c := st.Cards[card]
	v := new(big.Int).Set(c.Cipher)
	for _, q := range st.Players {
		if q == p.cfg.Id {
			continue
		}
		v = bigmath.ModExp(v, c.Published[q].Dec, st.Prime)
	}
	v = p.cardKeys[card].DecryptInt(v)
	if !v.IsInt64() {
		return 0, xerrors.New("table: card decrypted to garbage, some disclosed key is wrong")
	}
	return v.Int64(), nil
}

// State returns a deep copy of the current table state.
func (p *Party) State() TableState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.DeepCopy()
}

// AwaitingKeys lists the key disclosures the table is waiting on.
func (p *Party) AwaitingKeys() []Await {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.AwaitingKeys()
}

// Id returns this party's player id.
func (p *Party) Id() uuid.UUID {
	return p.cfg.Id
}

// Err returns the error that stopped the party, if any.
func (p *Party) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil {
		return p.failed
	}
	return p.log.Err()
}

// Kill stops the update loop. The last observed state stays readable.
func (p *Party) Kill() {
	p.log.Kill()
}

// permute applies a uniform Fisher-Yates shuffle driven by the party's
// entropy source.
func permute(random io.Reader, deck []*big.Int) error {
	for i := len(deck) - 1; i > 0; i-- {
		j, err := crand.Int(random, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		deck[i], deck[j.Int64()] = deck[j.Int64()], deck[i]
	}
	return nil
}
