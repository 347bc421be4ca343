package sra

import (
	"encoding/json"
	"math/big"

	"golang.org/x/xerrors"

	"github.com/deckhand-io/deckhand/bigmath"
)

// ErrNonLatin1 is returned when a string contains a code point above 255
// and therefore cannot be base-256 encoded for the cipher.
var ErrNonLatin1 = xerrors.New("sra: string contains code points above 255")

// ErrTooLarge is returned when a plaintext does not fit below the shared
// prime. Encrypting such a value would silently wrap, so it is refused.
var ErrTooLarge = xerrors.New("sra: plaintext does not fit under the shared prime")

// EncryptInt returns n^E mod P. The caller must guarantee 0 <= n < P;
// values outside that range wrap silently, exactly like textbook RSA.
func (kp *KeyPair) EncryptInt(n *big.Int) *big.Int {
	return bigmath.ModExp(n, kp.E, kp.P)
}

// DecryptInt returns c^D mod P, undoing EncryptInt for any key pair whose
// encryption is still layered on c, in any order.
func (kp *KeyPair) DecryptInt(c *big.Int) *big.Int {
	return bigmath.ModExp(c, kp.D, kp.P)
}

// encodeString packs a string into a big integer using base-256 positional
// encoding of its code points. Only code points up to 255 are encodable.
func encodeString(s string) (*big.Int, error) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, xerrors.Errorf("code point %q: %w", r, ErrNonLatin1)
		}
		buf = append(buf, byte(r))
	}
	return new(big.Int).SetBytes(buf), nil
}

// decodeString reverses encodeString.
func decodeString(n *big.Int) string {
	raw := n.Bytes()
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// EncryptString encrypts a string of code points <= 255. Unlike
// EncryptInt it refuses plaintexts that do not fit under P, since a
// wrapped string round-trips to garbage without any other indication.
func (kp *KeyPair) EncryptString(s string) (*big.Int, error) {
	n, err := encodeString(s)
	if err != nil {
		return nil, err
	}
	if n.Cmp(kp.P) >= 0 {
		return nil, xerrors.Errorf("%d-byte string under a %d-bit prime: %w", len(s), kp.P.BitLen(), ErrTooLarge)
	}
	return kp.EncryptInt(n), nil
}

// DecryptString undoes EncryptString.
func (kp *KeyPair) DecryptString(c *big.Int) (string, error) {
	return decodeString(kp.DecryptInt(c)), nil
}

// Encrypt serializes any JSON-encodable value and encrypts it with the
// string cipher. The JSON encoding is stable for the move payloads this
// module produces; values containing non-ASCII strings are rejected the
// same way EncryptString rejects them.
func Encrypt[T any](kp *KeyPair, v T) (*big.Int, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Errorf("sra: encoding value: %w", err)
	}
	return kp.EncryptString(string(raw))
}

// Decrypt reverses Encrypt.
func Decrypt[T any](kp *KeyPair, c *big.Int) (T, error) {
	var v T
	s, err := kp.DecryptString(c)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, xerrors.Errorf("sra: decoding value: %w", err)
	}
	return v, nil
}
