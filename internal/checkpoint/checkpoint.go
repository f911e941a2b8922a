// Package checkpoint turns a flight log into a sequence of anchored
// checkpoints.
//
// A run splits the log into chunks, folds each chunk's bytes into the
// rolling tip, overwrites the flight's cumulative log object and anchors the
// new tip on the ledger, strictly one chunk after another.
package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"github.com/jmerrifield20/uavledger/internal/chain"
)

// Checkpoint is the commitment made after one chunk.
type Checkpoint struct {
	FlightID    string       `json:"flightId"`
	SeqNo       int          `json:"seqNo"`
	TipHash     chain.Digest `json:"tipHash"`
	S3Bucket    string       `json:"s3Bucket"`
	S3Key       string       `json:"s3Key"`
	S3VersionID string       `json:"s3VersionId"`
}

// Canonical returns the RFC 8785 form of c. It is the payload submitted with
// the anchor, so equal checkpoints always produce equal bytes.
func (c Checkpoint) Canonical() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize checkpoint: %w", err)
	}
	return out, nil
}

// Locator returns the storage locator anchored for c.
func (c Checkpoint) Locator() anchor.Locator {
	return anchor.Locator{
		Bucket:    c.S3Bucket,
		Key:       c.S3Key,
		VersionID: c.S3VersionID,
		SeqNo:     c.SeqNo,
		Tip:       c.TipHash,
	}
}

// Result is one emitted checkpoint with its anchor receipt.
type Result struct {
	Checkpoint Checkpoint      `json:"checkpoint"`
	Receipt    *anchor.Receipt `json:"receipt"`
	// CumulativeRecords is the cut point of this chunk.
	CumulativeRecords int `json:"cumulative_records"`
	// JournalIndex is 0 when no journal is configured or the append failed.
	JournalIndex int `json:"journal_index,omitempty"`
	// JournalError is set when the checkpoint was anchored but could not be
	// journaled.
	JournalError string `json:"journal_error,omitempty"`
}

// Component names reported in RunError.
const (
	ComponentPlanner = "planner"
	ComponentStorage = "storage"
	ComponentAnchor  = "anchor"
	ComponentLock    = "lock"
)

// RunError reports where a run stopped. Checkpoints up to LastSeq were
// written and anchored and remain valid.
type RunError struct {
	FlightID  string
	LastSeq   int // 0 when nothing was emitted in this run
	Component string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("flight %s: %s failed after seq %d: %v", e.FlightID, e.Component, e.LastSeq, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
