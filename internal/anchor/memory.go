package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger with last-write-wins
// slots. It is useful for tests and for running without a chain.
type MemoryLedger struct {
	uploader string

	mu       sync.RWMutex
	slots    map[[KeySize]byte]Slot
	payloads map[[KeySize]byte][]byte
	writes   uint64
}

// NewMemoryLedger creates an empty MemoryLedger whose writes are attributed
// to uploader.
func NewMemoryLedger(uploader string) *MemoryLedger {
	return &MemoryLedger{
		uploader: uploader,
		slots:    make(map[[KeySize]byte]Slot),
		payloads: make(map[[KeySize]byte][]byte),
	}
}

// Submit implements Ledger.
func (l *MemoryLedger) Submit(_ context.Context, key [KeySize]byte, s3Key string, payload []byte) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writes++
	now := time.Now().UTC()
	l.slots[key] = Slot{S3Key: s3Key, Timestamp: now, Uploader: l.uploader}
	l.payloads[key] = append([]byte(nil), payload...)

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], l.writes)
	h := sha256.New()
	h.Write(key[:])
	h.Write([]byte(s3Key))
	h.Write(n[:])

	return &Receipt{
		MissionKey:    "0x" + hex.EncodeToString(key[:]),
		SubmissionID:  "0x" + hex.EncodeToString(h.Sum(nil)),
		Status:        StatusConfirmed,
		BlockNumber:   l.writes,
		PayloadDigest: payloadDigest(payload),
		SubmittedAt:   now,
	}, nil
}

// Query implements Ledger.
func (l *MemoryLedger) Query(_ context.Context, key [KeySize]byte) (*Slot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.slots[key]
	return &s, nil
}

// Ping implements Ledger.
func (l *MemoryLedger) Ping(context.Context) error { return nil }

// Info implements Ledger.
func (l *MemoryLedger) Info(context.Context) (*ChainInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ChainInfo{
		Connected:      true,
		Backend:        "memory",
		LatestBlock:    l.writes,
		AccountAddress: l.uploader,
	}, nil
}

// Writes returns the number of Submit calls so far.
func (l *MemoryLedger) Writes() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.writes
}

// Payload returns the payload of the latest write to key.
func (l *MemoryLedger) Payload(key [KeySize]byte) []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.payloads[key]
}

func payloadDigest(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return "0x" + hex.EncodeToString(sum[:])
}
