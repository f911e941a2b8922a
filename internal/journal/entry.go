package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the hash of the genesis entry. All entry hashes chain from
// this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is one emitted checkpoint as handed to Append.
type Record struct {
	FlightID       string `json:"flight_id"`
	SeqNo          int    `json:"seq_no"`
	TipHash        string `json:"tip_hash"`
	StorageKey     string `json:"storage_key"`
	StorageVersion string `json:"storage_version"`
	MissionKey     string `json:"mission_key"`
	TxHash         string `json:"tx_hash"`
	RunID          string `json:"run_id"`
}

// Entry is a single journal record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Record
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// It must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.FlightID, e.SeqNo, e.TipHash,
		e.StorageKey, e.StorageVersion,
		e.MissionKey, e.TxHash, e.RunID,
		e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func newEntry(index int, prevHash string, rec Record) *Entry {
	e := &Entry{
		Index: index,
		// Postgres keeps microseconds; truncate so the hash survives a round trip.
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Record:    rec,
		PrevHash:  prevHash,
	}
	e.Hash = hashEntry(e)
	return e
}

func validate(rec Record) error {
	if rec.FlightID == "" {
		return fmt.Errorf("journal record: flight id is required")
	}
	if rec.SeqNo < 1 {
		return fmt.Errorf("journal record %s: seq %d must be >= 1", rec.FlightID, rec.SeqNo)
	}
	return nil
}

// checkLink validates curr against its predecessor.
func checkLink(prev, curr *Entry) error {
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
