// Package sra implements the commutative SRA cipher used for mental-poker
// style card handling. All key pairs generated from the same shared prime
// commute: any stack of encryptions can be peeled off in any order, as
// long as every encrypting key's decryption is applied exactly once.
package sra

import (
	"io"
	"math/big"

	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/bigmath"
	"github.com/deckhand-io/deckhand/prime"
)

// KeyPair holds an SRA key pair over the shared prime P. E and D are
// exponents with E*D ≡ 1 (mod P-1). A key pair is immutable after
// generation; P is shared among all parties, E and D stay private until
// deliberately revealed.
type KeyPair struct {
	P *big.Int `json:"p"`
	E *big.Int `json:"e"`
	D *big.Int `json:"d"`
}

// GenerateKeyPair derives a key pair from the shared prime. It draws
// probable primes of keyByteLen bytes until one is coprime with P-1, then
// computes the matching decryption exponent. sharedPrime must itself be
// prime; the caller is expected to have produced it with prime.Generate.
func GenerateKeyPair(random io.Reader, sharedPrime *big.Int, keyByteLen int) (*KeyPair, error) {
	phi := new(big.Int).Sub(sharedPrime, big.NewInt(1))
	for {
		e, err := prime.Generate(random, keyByteLen)
		if err != nil {
			return nil, xerrors.Errorf("sra: generating encryption exponent: %w", err)
		}
		if !bigmath.Coprime(e, phi) {
			continue
		}
		d, err := bigmath.ModInverse(e, phi)
		if err != nil {
			// Unreachable with a coprime e; surface it anyway.
			return nil, xerrors.Errorf("sra: inverting encryption exponent: %w", err)
		}
		return &KeyPair{P: new(big.Int).Set(sharedPrime), E: e, D: d}, nil
	}
}

// Validate checks the key pair invariant E*D ≡ 1 (mod P-1). It is the
// check auditors run against revealed keys.
func (kp *KeyPair) Validate() error {
	if kp.P == nil || kp.E == nil || kp.D == nil {
		return xerrors.New("sra: key pair has nil components")
	}
	phi := new(big.Int).Sub(kp.P, big.NewInt(1))
	prod := new(big.Int).Mul(kp.E, kp.D)
	if prod.Mod(prod, phi).Cmp(big.NewInt(1)) != 0 {
		return xerrors.Errorf("sra: E*D != 1 mod P-1, key pair is inconsistent")
	}
	return nil
}

// Nil reports whether the key pair is the zero value, used for "not yet
// revealed" slots in serialized state.
func (kp *KeyPair) Nil() bool {
	return kp == nil || kp.P == nil
}
