// Package bigmath implements the handful of arbitrary-precision number
// theory operations the rest of the module is built on: Euclidean GCD,
// extended-Euclidean modular inverse, and modular exponentiation by
// repeated squaring. All functions are pure: arguments are never mutated
// and results are freshly allocated.
package bigmath

import (
	"math/big"

	"golang.org/x/xerrors"
)

// ErrNoInverse is returned by ModInverse when the two arguments are not
// coprime, in which case no modular inverse exists.
var ErrNoInverse = xerrors.New("bigmath: no modular inverse exists")

// ErrInvalidInput is returned when an argument is outside a function's
// domain, e.g. a modulus smaller than 2.
var ErrInvalidInput = xerrors.New("bigmath: invalid input")

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// GCD returns the greatest common divisor of a and b, both of which must
// be non-negative. GCD(0, 0) is defined as 0.
func GCD(a, b *big.Int) *big.Int {
	x := new(big.Int).Set(a)
	y := new(big.Int).Set(b)
	for y.Sign() != 0 {
		x.Mod(x, y)
		x, y = y, x
	}
	return x
}

// Coprime reports whether gcd(a, b) == 1.
func Coprime(a, b *big.Int) bool {
	return GCD(a, b).Cmp(one) == 0
}

// ModInverse returns x in [0, m) such that (a*x) mod m == 1, computed with
// the extended Euclidean algorithm. It returns ErrNoInverse if a and m are
// not coprime and ErrInvalidInput if m < 2.
func ModInverse(a, m *big.Int) (*big.Int, error) {
	if m.Cmp(big.NewInt(2)) < 0 {
		return nil, xerrors.Errorf("modulus %v is smaller than 2: %w", m, ErrInvalidInput)
	}

	// Invariants: oldR = oldS*a + t*m for some t we never need.
	oldR := new(big.Int).Mod(new(big.Int).Set(a), m)
	r := new(big.Int).Set(m)
	oldS := big.NewInt(1)
	s := big.NewInt(0)

	for r.Sign() != 0 {
		q := new(big.Int).Div(oldR, r)
		oldR, r = r, oldR.Sub(oldR, new(big.Int).Mul(q, r))
		oldS, s = s, oldS.Sub(oldS, new(big.Int).Mul(q, s))
	}

	if oldR.Cmp(one) != 0 {
		return nil, xerrors.Errorf("gcd(%v, %v) != 1: %w", a, m, ErrNoInverse)
	}

	if oldS.Sign() < 0 {
		oldS.Add(oldS, m)
	}
	return oldS, nil
}

// ModExp returns base^exp mod m using exponentiation by squaring,
// performing O(log exp) multiplications with every intermediate reduced
// mod m. The exponent must be non-negative; an exponent of 0 returns
// 1 mod m (so 0 when m == 1). The modulus must be positive.
func ModExp(base, exp, m *big.Int) *big.Int {
	if exp.Sign() < 0 || m.Sign() <= 0 {
		// Callers control both values; misuse is a bug, not a runtime
		// condition worth an error return.
		panic("bigmath: ModExp requires exp >= 0 and m > 0")
	}
	result := new(big.Int).Mod(big.NewInt(1), m)
	b := new(big.Int).Mod(base, m)
	e := new(big.Int).Set(exp)
	for e.Sign() != 0 {
		if e.Bit(0) == 1 {
			result.Mul(result, b)
			result.Mod(result, m)
		}
		b.Mul(b, b)
		b.Mod(b, m)
		e.Rsh(e, 1)
	}
	return result
}
