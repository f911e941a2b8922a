package anchor

import (
	"context"
	"fmt"
	"time"

	"github.com/jmerrifield20/uavledger/internal/faults"
	"github.com/jmerrifield20/uavledger/internal/retry"
	"go.uber.org/zap"
)

// Record is the ledger-resident projection of a flight's latest anchor.
type Record struct {
	MissionKey string    `json:"mission_key"`
	StorageRef string    `json:"s3_key"`
	Locator    Locator   `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	Uploader   string    `json:"uploader"`
}

// StorageKey returns the object key the record points at.
func (r *Record) StorageKey() string { return r.Locator.Key }

// Submission is what Put writes to a slot.
type Submission struct {
	Locator Locator
	Payload []byte // canonical checkpoint JSON; may be empty for hand-written records
}

// Client is the anchor client used by the checkpoint pipeline: key
// derivation, idempotent-by-key upserts, and point lookups.
type Client struct {
	ledger Ledger
	scheme Scheme
	policy retry.Policy
	logger *zap.Logger
}

// NewClient creates a Client over ledger. A zero policy uses retry.DefaultPolicy.
func NewClient(ledger Ledger, scheme Scheme, policy retry.Policy, logger *zap.Logger) *Client {
	if scheme == "" {
		scheme = SchemeSHA256
	}
	return &Client{ledger: ledger, scheme: scheme, policy: policy, logger: logger}
}

// MissionKey derives the ledger key for a flight or mission id.
func (c *Client) MissionKey(missionID string) (MissionKey, error) {
	return DeriveKey(missionID, c.scheme)
}

// Ping checks the ledger connection once. Callers use it as the
// not-connected precondition before starting any I/O.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ledger.Ping(ctx); err != nil {
		return faults.NotConnected(err)
	}
	return nil
}

// Info describes the ledger connection.
func (c *Client) Info(ctx context.Context) (*ChainInfo, error) {
	return c.ledger.Info(ctx)
}

// Put overwrites the slot for key. Transient failures are retried within the
// policy budget; each attempt that reaches the ledger may cost a write, so
// callers must not call Put speculatively.
func (c *Client) Put(ctx context.Context, key MissionKey, sub Submission) (*Receipt, error) {
	ref := sub.Locator.String()
	if ref == "" {
		return nil, faults.Inputf("storage key is required")
	}

	var receipt *Receipt
	err := retry.Do(ctx, c.policy, c.logger, "anchor.put", func() error {
		r, err := c.ledger.Submit(ctx, key.Bytes(), ref, sub.Payload)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return receipt, fmt.Errorf("anchor %s: %w", key.Hex(), err)
	}

	c.logger.Debug("anchor written",
		zap.String("mission_id", key.MissionID()),
		zap.String("mission_key", key.Hex()),
		zap.String("tx_hash", receipt.SubmissionID),
		zap.String("status", receipt.Status),
	)
	return receipt, nil
}

// Get reads the slot for key. found is false when the slot was never
// written; that is not an error.
func (c *Client) Get(ctx context.Context, key MissionKey) (rec *Record, found bool, err error) {
	var slot *Slot
	err = retry.Do(ctx, c.policy, c.logger, "anchor.get", func() error {
		s, err := c.ledger.Query(ctx, key.Bytes())
		if err != nil {
			return err
		}
		slot = s
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("query %s: %w", key.Hex(), err)
	}
	if slot == nil || slot.S3Key == "" {
		return nil, false, nil
	}

	loc, err := ParseLocator(slot.S3Key)
	if err != nil {
		return nil, false, fmt.Errorf("record %s: %w", key.Hex(), err)
	}
	return &Record{
		MissionKey: key.Hex(),
		StorageRef: slot.S3Key,
		Locator:    loc,
		Timestamp:  slot.Timestamp,
		Uploader:   slot.Uploader,
	}, true, nil
}
