package bigmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

// eq compares big.Ints by value; require.Equal would compare internal
// representation, which differs between freshly-made and reduced zeros.
func eq(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Zero(t, want.Cmp(got), msgAndArgs...)
}

func TestGCD(t *testing.T) {
	cases := []struct{ a, b, want int64 }{
		{0, 0, 0},
		{0, 7, 7},
		{7, 0, 7},
		{1, 1, 1},
		{12, 18, 6},
		{18, 12, 6},
		{17, 31, 1},
		{270, 192, 6},
		{1071, 462, 21},
	}
	for _, c := range cases {
		eq(t, bi(c.want), GCD(bi(c.a), bi(c.b)), "gcd(%d, %d)", c.a, c.b)
	}
}

func TestGCDDoesNotMutateArguments(t *testing.T) {
	a, b := bi(1071), bi(462)
	GCD(a, b)
	eq(t, bi(1071), a)
	eq(t, bi(462), b)
}

func TestModInverse(t *testing.T) {
	for a := int64(1); a < 200; a++ {
		for _, m := range []int64{2, 3, 17, 100, 101, 997} {
			inv, err := ModInverse(bi(a), bi(m))
			if GCD(bi(a), bi(m)).Cmp(bi(1)) != 0 {
				require.ErrorIs(t, err, ErrNoInverse, "a=%d m=%d", a, m)
				continue
			}
			require.NoError(t, err, "a=%d m=%d", a, m)
			require.True(t, inv.Sign() >= 0 && inv.Cmp(bi(m)) < 0, "inverse %v not in [0, %d)", inv, m)
			prod := new(big.Int).Mul(bi(a), inv)
			prod.Mod(prod, bi(m))
			eq(t, bi(1), prod, "a=%d m=%d inv=%v", a, m, inv)
		}
	}
}

func TestModInverseInvalidModulus(t *testing.T) {
	for _, m := range []int64{-5, 0, 1} {
		_, err := ModInverse(bi(3), bi(m))
		require.ErrorIs(t, err, ErrInvalidInput, "m=%d", m)
	}
}

func TestModExpMatchesReference(t *testing.T) {
	for _, base := range []int64{0, 1, 2, 3, 10, 255, 1 << 30} {
		for _, exp := range []int64{0, 1, 2, 3, 16, 17, 64, 1000} {
			for _, m := range []int64{1, 2, 7, 256, 997, 1 << 31} {
				got := ModExp(bi(base), bi(exp), bi(m))
				want := new(big.Int).Exp(bi(base), bi(exp), bi(m))
				eq(t, want, got, "base=%d exp=%d m=%d", base, exp, m)
			}
		}
	}
}

func TestModExpZeroExponent(t *testing.T) {
	// The exponent-0 contract: always 1 mod m.
	eq(t, bi(1), ModExp(bi(12345), bi(0), bi(97)))
	eq(t, bi(0), ModExp(bi(12345), bi(0), bi(1)))
}

func TestModExpLargeValues(t *testing.T) {
	base, _ := new(big.Int).SetString("9f3b0c2a7d5e11348899aa0102030405060708090a0b0c0d0e0f", 16)
	exp, _ := new(big.Int).SetString("10001", 16)
	m, _ := new(big.Int).SetString("fedcba9876543210fedcba9876543210fedcba9876543211", 16)
	eq(t, new(big.Int).Exp(base, exp, m), ModExp(base, exp, m))
}

func TestModExpPanicsOutsideDomain(t *testing.T) {
	require.Panics(t, func() { ModExp(bi(2), bi(-1), bi(7)) })
	require.Panics(t, func() { ModExp(bi(2), bi(3), bi(0)) })
}
