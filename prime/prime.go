// Package prime produces cryptographically large probable primes. Random
// candidates are drawn from a cryptographically secure source and tested
// with Miller–Rabin; a general-purpose PRNG must never be substituted here,
// since predictable primes break the whole scheme.
package prime

import (
	"crypto/rand"
	"io"
	"math/big"

	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/bigmath"
)

// DefaultRounds is the Miller–Rabin round count used throughout the
// module. 40 rounds bound the false-positive probability by ~4^-40,
// which is cryptographically negligible.
const DefaultRounds = 40

// maxAttemptsPerByte caps candidate generation in Generate. Prime density
// near 2^(8n) is ~1/(8n·ln2), so the cap leaves orders of magnitude of
// headroom; hitting it means the configuration is broken (e.g. byteLen 0).
const maxAttemptsPerByte = 4096

// ErrExhausted is returned by Generate when no probable prime was found
// within the attempt budget. It indicates a configuration bug, not bad
// luck.
var ErrExhausted = xerrors.New("prime: candidate generation exhausted")

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// RandomInt draws byteLen cryptographically random bytes from random and
// interprets them as a big-endian non-negative integer.
func RandomInt(random io.Reader, byteLen int) (*big.Int, error) {
	buf := make([]byte, byteLen)
	if _, err := io.ReadFull(random, buf); err != nil {
		return nil, xerrors.Errorf("prime: reading %d random bytes: %w", byteLen, err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// IsProbablyPrime runs rounds iterations of the Miller–Rabin test on n,
// drawing witnesses from random. It returns false for all n < 2 and for
// even n > 2, and true immediately for 2 and 3. A true result means n is
// composite with probability at most 4^-rounds.
func IsProbablyPrime(random io.Reader, n *big.Int, rounds int) (bool, error) {
	if n.Cmp(two) < 0 {
		return false, nil
	}
	if n.Cmp(three) <= 0 {
		return true, nil
	}
	if n.Bit(0) == 0 {
		return false, nil
	}

	// n-1 = 2^s * d with d odd.
	nMinus1 := new(big.Int).Sub(n, one)
	d := new(big.Int).Set(nMinus1)
	s := 0
	for d.Bit(0) == 0 {
		d.Rsh(d, 1)
		s++
	}

	// Witnesses are drawn uniformly from [2, n-2].
	witnessRange := new(big.Int).Sub(n, three)
	for i := 0; i < rounds; i++ {
		a, err := rand.Int(random, witnessRange)
		if err != nil {
			return false, xerrors.Errorf("prime: drawing witness: %w", err)
		}
		a.Add(a, two)

		x := bigmath.ModExp(a, d, n)
		if x.Cmp(one) == 0 || x.Cmp(nMinus1) == 0 {
			continue
		}
		composite := true
		for r := 1; r < s; r++ {
			x.Mul(x, x)
			x.Mod(x, n)
			if x.Cmp(nMinus1) == 0 {
				composite = false
				break
			}
		}
		if composite {
			return false, nil
		}
	}
	return true, nil
}

// Generate loops over random candidates of the given byte length until one
// passes IsProbablyPrime with DefaultRounds. The top and bottom candidate
// bits are forced so candidates have the full length and are odd. A bounded
// number of attempts guards against misconfiguration; exhausting it returns
// ErrExhausted.
func Generate(random io.Reader, byteLen int) (*big.Int, error) {
	if byteLen < 1 {
		return nil, xerrors.Errorf("prime: byte length %d: %w", byteLen, ErrExhausted)
	}
	for attempt := 0; attempt < maxAttemptsPerByte*byteLen; attempt++ {
		n, err := RandomInt(random, byteLen)
		if err != nil {
			return nil, err
		}
		n.SetBit(n, 8*byteLen-1, 1)
		n.SetBit(n, 0, 1)
		ok, err := IsProbablyPrime(random, n, DefaultRounds)
		if err != nil {
			return nil, err
		}
		if ok {
			return n, nil
		}
	}
	return nil, xerrors.Errorf("prime: no prime of %d bytes found: %w", byteLen, ErrExhausted)
}
