// Package chain implements the rolling digest that commits to a flight log
// one chunk at a time.
//
// The chain starts from an all-zero seed. Every chunk folds only its own new
// bytes into the previous digest:
//
//	tip(0) = Seed()
//	tip(n) = SHA-256(tip(n-1) || delta(n))
//
// This is not a hash of the whole file. The folding rule is part of every
// anchored checkpoint and must never change.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jmerrifield20/uavledger/internal/faults"
)

// Size is the length of a digest in bytes.
const Size = sha256.Size

// Digest is the chain state after folding in zero or more chunks.
type Digest [Size]byte

// Seed returns the chain state before any chunk.
func Seed() Digest {
	return Digest{}
}

// Update folds delta into prev. Cost is proportional to len(delta) only.
func Update(prev Digest, delta []byte) Digest {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(delta)
	var next Digest
	copy(next[:], h.Sum(nil))
	return next
}

// IsZero reports whether d is the seed value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hex returns the external form: "0x" followed by 64 lowercase hex digits.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseHex parses a digest in external form. The "0x" prefix is optional
// and hex digits are case-insensitive.
func ParseHex(s string) (Digest, error) {
	var d Digest
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*Size {
		return d, faults.Inputf("digest must be %d hex digits, got %d", 2*Size, len(raw))
	}
	if _, err := hex.Decode(d[:], []byte(raw)); err != nil {
		return d, faults.Inputf("digest is not hex: %v", err)
	}
	return d, nil
}
