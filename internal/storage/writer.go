package storage

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/uavledger/internal/retry"
	"go.uber.org/zap"
)

// SegmentWriter writes the cumulative body of a flight log and captures the
// version id the store assigns. Transient store failures are retried within
// the policy budget; every other failure is returned as-is.
type SegmentWriter struct {
	store  Store
	policy retry.Policy
	logger *zap.Logger
}

// NewSegmentWriter creates a SegmentWriter. A zero policy uses retry.DefaultPolicy.
func NewSegmentWriter(store Store, policy retry.Policy, logger *zap.Logger) *SegmentWriter {
	return &SegmentWriter{store: store, policy: policy, logger: logger}
}

// Bucket returns the bucket segments are written to.
func (w *SegmentWriter) Bucket() string {
	return w.store.Bucket()
}

// Policy returns the retry policy writes run under.
func (w *SegmentWriter) Policy() retry.Policy {
	return w.policy
}

// Write overwrites key with body and returns the new version id. Each
// successful call creates exactly one new version; a retried call may leave
// an extra version behind if the store accepted a write whose response was
// lost.
func (w *SegmentWriter) Write(ctx context.Context, key string, body []byte) (string, error) {
	var versionID string
	err := retry.Do(ctx, w.policy, w.logger, "storage.put", func() error {
		v, err := w.store.Put(ctx, key, body)
		if err != nil {
			return err
		}
		versionID = v
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write segment %s: %w", key, err)
	}
	return versionID, nil
}
