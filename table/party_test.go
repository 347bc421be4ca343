package table

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deckhand-io/deckhand/seq"
	"github.com/deckhand-io/deckhand/sra"
)

var testDeck = []int64{2, 3, 4, 5}

// newGame spins up an in-process ordering authority and one party per
// policy, all configured with a small prime and the four-card test deck.
func newGame(t *testing.T, policies ...Policy) (*seq.Authority, []*Party) {
	t.Helper()
	a := seq.NewAuthority()
	t.Cleanup(a.Kill)
	parties := make([]*Party, len(policies))
	for i, pol := range policies {
		p, err := NewParty(Config{
			Id:         uuid.New(),
			PrimeBytes: 8,
			KeyBytes:   3,
			Deck:       testDeck,
			Policy:     pol,
		}, a.Attach())
		require.NoError(t, err)
		t.Cleanup(p.Kill)
		parties[i] = p
	}
	return a, parties
}

func waitFor(t *testing.T, p *Party, what string, cond func(TableState) bool) TableState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, p.Err())
		st := p.State()
		if cond(st) {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, phase %s", what, p.State().Phase)
	return TableState{}
}

func waitPlaying(t *testing.T, parties []*Party) {
	t.Helper()
	waitFor(t, parties[0], "all seated with a prime", func(st TableState) bool {
		return len(st.Players) == len(parties) && st.Prime != nil
	})
	require.NoError(t, parties[0].StartGame(context.Background()))
	for _, p := range parties {
		waitFor(t, p, "playing phase", func(st TableState) bool {
			return st.Phase == PlayingPhase
		})
	}
}

func TestFourCardGame(t *testing.T) {
	_, parties := newGame(t, nil, nil)
	alice, bob := parties[0], parties[1]
	ctx := context.Background()
	waitPlaying(t, parties)

	require.NoError(t, alice.Draw(ctx, 0, false))
	require.NoError(t, alice.Draw(ctx, 1, false))
	require.NoError(t, bob.Draw(ctx, 2, false))
	require.NoError(t, bob.Draw(ctx, 3, false))

	seen := map[int64]bool{}
	for card, p := range map[int]*Party{0: alice, 1: alice, 2: bob, 3: bob} {
		waitFor(t, p, "card keys", func(st TableState) bool {
			return st.ReadableBy(card, p.Id())
		})
		v, err := p.Look(card)
		require.NoError(t, err)
		require.Contains(t, testDeck, v, "card %d decrypted to a value outside the deck", card)
		require.False(t, seen[v], "card %d decrypted to duplicate value %d", card, v)
		seen[v] = true
	}

	// Face-down cards stay private to their holders.
	_, err := bob.Look(0)
	require.ErrorIs(t, err, ErrNotReadable)
	_, err = alice.Look(3)
	require.ErrorIs(t, err, ErrNotReadable)

	require.NoError(t, alice.Reveal(ctx))
	require.NoError(t, bob.Reveal(ctx))
	for _, p := range parties {
		st := waitFor(t, p, "revealed phase", func(st TableState) bool {
			return st.Phase == RevealedPhase
		})
		violations, err := Audit(&st)
		require.NoError(t, err)
		require.Empty(t, violations, "honest game must audit clean")
	}
}

func TestPartiesConvergeOnIdenticalState(t *testing.T) {
	_, parties := newGame(t, nil, nil, nil)
	waitPlaying(t, parties)

	ref := parties[0].State()
	for _, p := range parties[1:] {
		st := waitFor(t, p, "same history length", func(st TableState) bool {
			return len(st.LockTrail) == len(ref.LockTrail)
		})
		require.Equal(t, ref.Players, st.Players)
		require.Equal(t, ref.InitialDeck, st.InitialDeck)
		require.Equal(t, 0, ref.Prime.Cmp(st.Prime))
		require.Equal(t, len(ref.Cards), len(st.Cards))
		for j := range ref.Cards {
			require.Equal(t, 0, ref.Cards[j].Cipher.Cmp(st.Cards[j].Cipher), "card %d ciphertext diverged", j)
		}
	}
}

func TestFaceUpDrawIsReadableByEveryone(t *testing.T) {
	_, parties := newGame(t, nil, nil)
	alice, bob := parties[0], parties[1]
	waitPlaying(t, parties)

	require.NoError(t, alice.Draw(context.Background(), 0, true))
	var want int64
	for _, p := range []*Party{alice, bob} {
		waitFor(t, p, "face-up card keys", func(st TableState) bool {
			return st.ReadableBy(0, p.Id())
		})
		v, err := p.Look(0)
		require.NoError(t, err)
		require.Contains(t, testDeck, v)
		if want == 0 {
			want = v
		}
		require.Equal(t, want, v, "parties disagree on a face-up card")
	}
}

func TestDiscardTakesCardOutOfPlay(t *testing.T) {
	_, parties := newGame(t, nil, nil)
	alice, bob := parties[0], parties[1]
	ctx := context.Background()
	waitPlaying(t, parties)

	require.NoError(t, alice.Draw(ctx, 0, false))
	waitFor(t, alice, "card keys", func(st TableState) bool {
		return st.ReadableBy(0, alice.Id())
	})
	require.NoError(t, alice.Discard(ctx, 0))
	waitFor(t, bob, "discard", func(st TableState) bool {
		return st.Cards[0].Discarded
	})

	require.NoError(t, bob.Draw(ctx, 0, false))
	require.NoError(t, bob.Draw(ctx, 1, false))
	st := waitFor(t, bob, "second draw", func(st TableState) bool {
		return st.Cards[1].Drawn
	})
	require.NotEqual(t, bob.Id(), st.Cards[0].Holder, "discarded card must not be drawable")
}

// lyingPolicy discloses a wrong exponent, simulating a party that
// sabotages another player's draw.
type lyingPolicy struct{}

func (lyingPolicy) PublishKey(_ int, key sra.KeyPair) *big.Int {
	return new(big.Int).Add(key.D, big.NewInt(1))
}

func TestInconsistentKeyIsFlaggedByAudit(t *testing.T) {
	_, parties := newGame(t, nil, lyingPolicy{})
	alice, mallory := parties[0], parties[1]
	ctx := context.Background()
	waitPlaying(t, parties)

	require.NoError(t, alice.Draw(ctx, 0, false))
	st := waitFor(t, alice, "mallory's key", func(st TableState) bool {
		return st.ReadableBy(0, alice.Id())
	})
	badSeq := st.Cards[0].Published[mallory.Id()].Seq

	// The wrong key decrypts to garbage, never to a deck card.
	if v, err := alice.Look(0); err == nil {
		require.NotContains(t, testDeck, v)
	}

	// The reveal is honest; the audit catches the published key lie.
	require.NoError(t, alice.Reveal(ctx))
	require.NoError(t, mallory.Reveal(ctx))
	final := waitFor(t, alice, "revealed phase", func(st TableState) bool {
		return st.Phase == RevealedPhase
	})
	violations, err := Audit(&final)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, mallory.Id(), violations[0].Player)
	require.Equal(t, badSeq, violations[0].Seq)
	require.Contains(t, violations[0].Reason, "published")
}

// silentPolicy never discloses anything.
type silentPolicy struct{}

func (silentPolicy) PublishKey(int, sra.KeyPair) *big.Int { return nil }

func TestWithheldKeyIsReportedAsAwaiting(t *testing.T) {
	_, parties := newGame(t, nil, silentPolicy{})
	alice, mute := parties[0], parties[1]
	waitPlaying(t, parties)

	require.NoError(t, alice.Draw(context.Background(), 0, false))
	st := waitFor(t, alice, "draw applied", func(st TableState) bool {
		return st.Cards[0].Drawn
	})
	drawSeq := st.Cards[0].RequestSeq

	// The key never arrives; the draw stays blocked and the table says
	// exactly who it is waiting on, and since when.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []Await{{Card: 0, From: mute.Id(), SinceSeq: drawSeq}}, alice.AwaitingKeys())
	_, err := alice.Look(0)
	require.ErrorIs(t, err, ErrNotReadable)
}
