// Package verify checks an anchored flight log against its ledger record.
//
// Verification reads the flight's anchor, locates the anchored version of
// the cumulative log, re-derives the chunk boundaries from the versions
// written before it (named by the checkpoint journal when one is attached,
// otherwise inferred from their sizes) and re-chains the bytes from the
// seed. It never repairs anything.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"github.com/jmerrifield20/uavledger/internal/chain"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"github.com/jmerrifield20/uavledger/internal/journal"
	"github.com/jmerrifield20/uavledger/internal/storage"
	"go.uber.org/zap"
)

// Status is the outcome of a verification.
type Status string

const (
	StatusMatch    Status = "MATCH"
	StatusMismatch Status = "MISMATCH"
	StatusAbsent   Status = "ABSENT"
)

// Compared field names reported in Mismatch.Field.
const (
	FieldStorageBucket  = "storage_bucket"
	FieldStorageVersion = "storage_version"
	FieldRecomputedTip  = "recomputed_tip"
	FieldAnchoredTip    = "anchored_tip"
)

// DefaultCacheSize is the number of recomputed tips kept in memory.
const DefaultCacheSize = 1024

// Mismatch describes one compared field that disagreed.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Result is the full verification report.
type Result struct {
	FlightID       string     `json:"flight_id"`
	MissionKey     string     `json:"mission_key"`
	Status         Status     `json:"status"`
	ExpectedTip    string     `json:"expected_tip,omitempty"`
	AnchoredTip    string     `json:"anchored_tip,omitempty"`
	RecomputedTip  string     `json:"recomputed_tip,omitempty"`
	SeqNo          int        `json:"seq_no,omitempty"`
	StorageKey     string     `json:"storage_key,omitempty"`
	StorageVersion string     `json:"storage_version,omitempty"`
	AnchoredAt     time.Time  `json:"anchored_at,omitzero"`
	Uploader       string     `json:"uploader,omitempty"`
	Mismatches     []Mismatch `json:"mismatches,omitempty"`
	Cached         bool       `json:"cached,omitempty"`
}

// Err returns an ErrInconsistent describing the mismatches, or nil.
func (r *Result) Err() error {
	if r.Status != StatusMismatch {
		return nil
	}
	fields := make([]string, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		fields = append(fields, m.Field)
	}
	return fmt.Errorf("%w: flight %s: %v disagree", faults.ErrInconsistent, r.FlightID, fields)
}

func (r *Result) mismatch(field, expected, actual string) {
	r.Status = StatusMismatch
	r.Mismatches = append(r.Mismatches, Mismatch{Field: field, Expected: expected, Actual: actual})
}

type cacheKey struct {
	key       string
	versionID string
	seq       int
}

// Verifier is the verification service.
type Verifier struct {
	store   storage.Store
	anchors *anchor.Client
	journal journal.Journal // nil = select versions by size only
	cache   *lru.Cache[cacheKey, chain.Digest]
	logger  *zap.Logger

	metricsRecord func(status Status, elapsed time.Duration)
}

// NewVerifier creates a Verifier. cacheSize <= 0 uses DefaultCacheSize.
// Cached tips are keyed by immutable version ids, so they never go stale.
func NewVerifier(store storage.Store, anchors *anchor.Client, cacheSize int, logger *zap.Logger) (*Verifier, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, chain.Digest](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create tip cache: %w", err)
	}
	return &Verifier{store: store, anchors: anchors, cache: cache, logger: logger}, nil
}

// SetJournal lets verification take the exact version ids of an anchored
// run from the checkpoint journal instead of inferring them from sizes.
func (v *Verifier) SetJournal(j journal.Journal) {
	v.journal = j
}

// SetMetricsRecorder sets a callback invoked once per completed verification.
func (v *Verifier) SetMetricsRecorder(fn func(status Status, elapsed time.Duration)) {
	v.metricsRecord = fn
}

// Verify checks flightID against expected. A zero expected tip means "the
// tip the ledger holds". MATCH, MISMATCH and ABSENT are all returned with a
// nil error; errors are reserved for failures to perform the check.
func (v *Verifier) Verify(ctx context.Context, flightID string, expected chain.Digest) (*Result, error) {
	start := time.Now()
	res, err := v.verify(ctx, flightID, expected)
	if err != nil {
		return nil, err
	}
	if v.metricsRecord != nil {
		v.metricsRecord(res.Status, time.Since(start))
	}

	fields := []zap.Field{
		zap.String("flight_id", flightID),
		zap.String("status", string(res.Status)),
		zap.Int("seq_no", res.SeqNo),
	}
	if res.Status == StatusMismatch {
		v.logger.Warn("verification mismatch", append(fields, zap.Any("mismatches", res.Mismatches))...)
	} else {
		v.logger.Debug("verification finished", fields...)
	}
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, flightID string, expected chain.Digest) (*Result, error) {
	if err := storage.ValidateFlightID(flightID); err != nil {
		return nil, err
	}
	missionKey, err := v.anchors.MissionKey(flightID)
	if err != nil {
		return nil, err
	}
	res := &Result{FlightID: flightID, MissionKey: missionKey.Hex(), Status: StatusMatch}

	rec, found, err := v.anchors.Get(ctx, missionKey)
	if err != nil {
		return nil, err
	}
	if !found {
		res.Status = StatusAbsent
		if !expected.IsZero() {
			res.ExpectedTip = expected.Hex()
		}
		return res, nil
	}

	loc := rec.Locator
	res.StorageKey = loc.Key
	res.AnchoredAt = rec.Timestamp
	res.Uploader = rec.Uploader
	if !loc.Tip.IsZero() {
		res.AnchoredTip = loc.Tip.Hex()
	}

	if expected.IsZero() {
		if loc.Tip.IsZero() {
			return nil, faults.Inputf("anchor for %s carries no tip; an expected tip is required", flightID)
		}
		expected = loc.Tip
	}
	res.ExpectedTip = expected.Hex()

	if loc.Bucket != "" && loc.Bucket != v.store.Bucket() {
		res.mismatch(FieldStorageBucket, loc.Bucket, v.store.Bucket())
		return res, nil
	}

	versions, err := v.store.ListVersions(ctx, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", loc.Key, err)
	}

	candidates, problem := selectVersions(versions, loc)
	if problem != "" {
		res.mismatch(FieldStorageVersion, describeAnchored(loc), problem)
		return res, nil
	}
	if exact := v.journaled(ctx, flightID, loc, versions); exact != nil {
		candidates = prepend(candidates, exact)
	}

	chainVersions, recomputed, cached, problem, err := v.recompute(ctx, loc.Key, candidates, expected)
	if err != nil {
		return nil, err
	}
	anchored := chainVersions[len(chainVersions)-1]
	res.StorageVersion = anchored.ID
	res.SeqNo = len(chainVersions)
	if problem != "" {
		res.mismatch(FieldStorageVersion, describeAnchored(loc), problem)
		return res, nil
	}
	res.RecomputedTip = recomputed.Hex()
	res.Cached = cached

	if recomputed != expected {
		res.mismatch(FieldRecomputedTip, expected.Hex(), recomputed.Hex())
	}
	if !loc.Tip.IsZero() && loc.Tip != expected {
		res.mismatch(FieldAnchoredTip, expected.Hex(), loc.Tip.Hex())
	}
	return res, nil
}

// selectVersions returns the candidate version chains for the anchor, each
// oldest first. versions is newest first. A locator without a version id (a
// record written by hand) covers every version of the key.
//
// Two readings of the history are offered. The contiguous one takes the
// versions written immediately before the anchored one; it is right whenever
// the run left no orphans, including re-runs over an existing key and sparse
// plans whose chunks share a size. The other walks back from the anchored
// version skipping a version the same size as the next newer one (an
// orphaned rewrite left by a retried or resumed write) while more versions
// remain than are still needed.
func selectVersions(versions []storage.Version, loc anchor.Locator) ([][]storage.Version, string) {
	if len(versions) == 0 {
		return nil, "no versions stored"
	}
	if loc.VersionID == "" {
		return [][]storage.Version{oldestFirst(versions)}, ""
	}

	idx := -1
	for i, ver := range versions {
		if ver.ID == loc.VersionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, "anchored version not found"
	}

	need := loc.SeqNo
	if need == 0 {
		need = len(versions) - idx
	}
	if idx+need > len(versions) {
		return nil, fmt.Sprintf("only %d versions up to the anchored one, seq %d needs %d", len(versions)-idx, loc.SeqNo, need)
	}

	candidates := [][]storage.Version{oldestFirst(versions[idx : idx+need])}

	picked := []storage.Version{versions[idx]}
	for i := idx + 1; i < len(versions) && len(picked) < need; i++ {
		stillNeeded := need - len(picked)
		remaining := len(versions) - i
		if versions[i].Size == picked[len(picked)-1].Size && remaining > stillNeeded {
			continue
		}
		picked = append(picked, versions[i])
	}
	if len(picked) == need {
		candidates = appendDistinct(candidates, oldestFirst(picked))
	}
	return candidates, ""
}

// journaled returns the exact versions the journal recorded for the anchored
// checkpoint, oldest first, or nil when the journal cannot name all of them.
func (v *Verifier) journaled(ctx context.Context, flightID string, loc anchor.Locator, versions []storage.Version) []storage.Version {
	if v.journal == nil || loc.VersionID == "" || loc.SeqNo < 1 {
		return nil
	}
	history, err := v.journal.History(ctx, flightID)
	if err != nil {
		v.logger.Warn("journal history unavailable; selecting versions by size",
			zap.String("flight_id", flightID), zap.Error(err))
		return nil
	}

	byID := make(map[string]storage.Version, len(versions))
	for _, ver := range versions {
		byID[ver.ID] = ver
	}

	out := make([]storage.Version, loc.SeqNo)
	want := loc.SeqNo
	for i := len(history) - 1; i >= 0 && want > 0; i-- {
		e := history[i]
		if e.StorageKey != loc.Key || e.SeqNo != want {
			continue
		}
		if want == loc.SeqNo && e.StorageVersion != loc.VersionID {
			continue
		}
		ver, ok := byID[e.StorageVersion]
		if !ok {
			return nil
		}
		out[want-1] = ver
		want--
	}
	if want > 0 {
		return nil
	}
	return out
}

// recompute re-chains the anchored body along each candidate's version sizes
// and returns the first candidate whose tip equals expected. When none does,
// the first candidate's outcome is reported. problem is set when the stored
// bytes cannot form that candidate's chain.
func (v *Verifier) recompute(ctx context.Context, key string, candidates [][]storage.Version, expected chain.Digest) (picked []storage.Version, tip chain.Digest, cached bool, problem string, err error) {
	anchored := candidates[0][len(candidates[0])-1]
	ck := cacheKey{key: key, versionID: anchored.ID, seq: len(candidates[0])}
	if d, ok := v.cache.Get(ck); ok && d == expected {
		return candidates[0], d, true, "", nil
	}

	body, err := v.store.GetVersion(ctx, key, anchored.ID)
	if errors.Is(err, storage.ErrVersionNotFound) {
		return candidates[0], chain.Digest{}, false, "anchored version not readable", nil
	}
	if err != nil {
		return nil, chain.Digest{}, false, "", fmt.Errorf("read %s@%s: %w", key, anchored.ID, err)
	}

	for i, versions := range candidates {
		sizes := make([]int64, len(versions))
		for j, ver := range versions {
			sizes[j] = ver.Size
		}
		d, err := chain.ReplaySizes(body, sizes)
		switch {
		case errors.Is(err, faults.ErrInput):
			if i == 0 {
				picked, problem = versions, err.Error()
			}
			continue
		case err != nil:
			return nil, chain.Digest{}, false, "", err
		}
		if d == expected {
			v.cache.Add(ck, d)
			return versions, d, false, "", nil
		}
		if i == 0 {
			picked, tip = versions, d
		}
	}
	return picked, tip, false, problem, nil
}

func oldestFirst(newestFirst []storage.Version) []storage.Version {
	out := make([]storage.Version, len(newestFirst))
	for i, ver := range newestFirst {
		out[len(newestFirst)-1-i] = ver
	}
	return out
}

func sameIDs(a, b []storage.Version) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func appendDistinct(candidates [][]storage.Version, c []storage.Version) [][]storage.Version {
	for _, have := range candidates {
		if sameIDs(have, c) {
			return candidates
		}
	}
	return append(candidates, c)
}

// prepend puts c first and drops any later duplicate of it.
func prepend(candidates [][]storage.Version, c []storage.Version) [][]storage.Version {
	out := [][]storage.Version{c}
	for _, have := range candidates {
		if c == nil || !sameIDs(have, c) {
			out = append(out, have)
		}
	}
	return out
}

func describeAnchored(loc anchor.Locator) string {
	if loc.VersionID == "" {
		return loc.Key
	}
	return fmt.Sprintf("%s@%s (seq %d)", loc.Key, loc.VersionID, loc.SeqNo)
}
