// Package anchor reads and writes checkpoint anchors on an immutable,
// address-authenticated key-value ledger.
//
// Each flight owns one slot on the ledger, addressed by a fixed-width
// mission key derived from the flight id. Writing a slot overwrites it:
// the ledger holds only the latest anchor per flight.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/jmerrifield20/uavledger/internal/faults"
	"golang.org/x/crypto/sha3"
)

// KeySize is the width of a mission key in bytes.
const KeySize = 32

// KeyKind says how a mission key was obtained from a mission id.
type KeyKind int

const (
	// DerivedKey keys are a one-way digest of the mission id.
	DerivedKey KeyKind = iota
	// RawHexKey keys are mission ids that already are 0x + 64 hex digits,
	// used verbatim.
	RawHexKey
)

func (k KeyKind) String() string {
	if k == RawHexKey {
		return "raw_hex"
	}
	return "derived"
}

// Scheme is the digest used for DerivedKey keys.
type Scheme string

const (
	SchemeSHA256    Scheme = "sha256"
	SchemeKeccak256 Scheme = "keccak256"
)

// The prefix is case-sensitive: "0X..." ids are hashed like any other id.
var rawHexKey = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// MissionKey is the ledger address of one flight's anchor slot.
type MissionKey struct {
	bytes    [KeySize]byte
	kind     KeyKind
	original string
}

// DeriveKey resolves missionID to its ledger key. Ids shaped like a raw
// 32-byte hex key are used as-is; everything else is hashed with scheme.
// The two paths must stay exactly as they are: previously anchored records
// are addressed through them.
func DeriveKey(missionID string, scheme Scheme) (MissionKey, error) {
	if missionID == "" {
		return MissionKey{}, faults.Inputf("mission id is required")
	}
	mk := MissionKey{original: missionID}

	if rawHexKey.MatchString(missionID) {
		if _, err := hex.Decode(mk.bytes[:], []byte(missionID[2:])); err != nil {
			return MissionKey{}, faults.Inputf("mission id %q: %v", missionID, err)
		}
		mk.kind = RawHexKey
		return mk, nil
	}

	switch scheme {
	case SchemeSHA256, "":
		mk.bytes = sha256.Sum256([]byte(missionID))
	case SchemeKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write([]byte(missionID))
		copy(mk.bytes[:], h.Sum(nil))
	default:
		return MissionKey{}, faults.Inputf("unknown key derivation scheme %q", scheme)
	}
	mk.kind = DerivedKey
	return mk, nil
}

// Bytes returns the 32-byte ledger key.
func (k MissionKey) Bytes() [KeySize]byte { return k.bytes }

// Kind reports which derivation path produced k.
func (k MissionKey) Kind() KeyKind { return k.kind }

// MissionID returns the id k was derived from.
func (k MissionKey) MissionID() string { return k.original }

// Hex returns the key as 0x + 64 lowercase hex digits.
func (k MissionKey) Hex() string {
	return "0x" + hex.EncodeToString(k.bytes[:])
}

// String implements fmt.Stringer.
func (k MissionKey) String() string { return k.Hex() }
