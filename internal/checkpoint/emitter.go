package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/uavledger/internal/anchor"
	"github.com/jmerrifield20/uavledger/internal/chain"
	"github.com/jmerrifield20/uavledger/internal/chunk"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"github.com/jmerrifield20/uavledger/internal/journal"
	"github.com/jmerrifield20/uavledger/internal/retry"
	"github.com/jmerrifield20/uavledger/internal/storage"
	"go.uber.org/zap"
)

// ComponentRun marks a run stopped by its context between chunks.
const ComponentRun = "run"

// Run outcomes passed to the metrics recorder.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected" // refused before any chunk, e.g. run in progress
)

// RunRequest describes one checkpoint run.
type RunRequest struct {
	FlightID string
	Source   chunk.Source
	Chunks   int

	// StartSeq resumes a run at this seq (default 1). Chunks before it are
	// not re-emitted; the source must still hold the full log.
	StartSeq int
	// PriorTip is the tip after StartSeq-1. When zero on a resumed run it
	// is taken from the journal's latest entry for the flight.
	PriorTip chain.Digest
}

// Emitter runs the checkpoint pipeline.
type Emitter struct {
	writer  *storage.SegmentWriter
	anchors *anchor.Client
	layout  storage.Layout
	journal journal.Journal // nil = no journal
	locker  journal.Locker
	logger  *zap.Logger

	metricsRecord func(outcome string, emitted int, elapsed time.Duration)
}

// NewEmitter creates an Emitter. Runs are locked per flight in process
// memory until SetLocker installs a shared locker.
func NewEmitter(writer *storage.SegmentWriter, anchors *anchor.Client, layout storage.Layout, logger *zap.Logger) *Emitter {
	return &Emitter{
		writer:  writer,
		anchors: anchors,
		layout:  layout,
		locker:  journal.NewMemoryLocker(),
		logger:  logger,
	}
}

// SetJournal records every emitted checkpoint in j.
func (e *Emitter) SetJournal(j journal.Journal) {
	e.journal = j
}

// SetLocker replaces the per-flight run locker.
func (e *Emitter) SetLocker(l journal.Locker) {
	e.locker = l
}

// SetMetricsRecorder sets a callback invoked once per finished run.
func (e *Emitter) SetMetricsRecorder(fn func(outcome string, emitted int, elapsed time.Duration)) {
	e.metricsRecord = fn
}

// Run emits checkpoints StartSeq..Chunks for the flight, in order. Chunk n+1
// is not started before chunk n's write and anchor have completed. On
// failure the checkpoints already emitted are returned together with a
// *RunError naming the failing component.
func (e *Emitter) Run(ctx context.Context, req RunRequest) ([]Result, error) {
	start := time.Now()
	results, err := e.run(ctx, req)

	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeCanceled
	case errors.Is(err, journal.ErrRunInProgress), errors.Is(err, faults.ErrInput), errors.Is(err, faults.ErrNotConnected):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailed
	}
	if e.metricsRecord != nil {
		e.metricsRecord(outcome, len(results), time.Since(start))
	}
	return results, err
}

func (e *Emitter) run(ctx context.Context, req RunRequest) ([]Result, error) {
	lastSeq := req.StartSeq - 1
	if lastSeq < 0 {
		lastSeq = 0
	}
	fail := func(component string, err error) error {
		return &RunError{FlightID: req.FlightID, LastSeq: lastSeq, Component: component, Err: err}
	}

	key, cuts, err := e.prepare(req)
	if err != nil {
		return nil, fail(ComponentPlanner, err)
	}
	if req.StartSeq == 0 {
		req.StartSeq = 1
	}

	if err := e.anchors.Ping(ctx); err != nil {
		return nil, fail(ComponentAnchor, err)
	}

	unlock, err := e.locker.TryLock(ctx, req.FlightID)
	if err != nil {
		return nil, fail(ComponentLock, err)
	}
	defer unlock()

	missionKey, err := e.anchors.MissionKey(req.FlightID)
	if err != nil {
		return nil, fail(ComponentAnchor, err)
	}

	tip, err := e.priorTip(ctx, req)
	if err != nil {
		return nil, fail(ComponentPlanner, err)
	}

	runID := uuid.NewString()
	log := e.logger.With(
		zap.String("flight_id", req.FlightID),
		zap.String("run_id", runID),
		zap.String("mission_key", missionKey.Hex()),
	)
	if chunk.Sparse(req.Source.Total(), req.Chunks) {
		log.Warn("more chunks than records; some checkpoints will carry no new bytes",
			zap.Int("records", req.Source.Total()),
			zap.Int("chunks", req.Chunks),
		)
	}
	log.Info("checkpoint run started",
		zap.Int("start_seq", req.StartSeq),
		zap.Int("chunks", req.Chunks),
		zap.String("s3_key", key),
	)

	// A chunk in flight runs to completion; cancellation is observed
	// between chunks.
	ioCtx := context.WithoutCancel(ctx)

	results := make([]Result, 0, req.Chunks-req.StartSeq+1)
	for seq := req.StartSeq; seq <= req.Chunks; seq++ {
		if err := ctx.Err(); err != nil {
			log.Info("checkpoint run cancelled", zap.Int("last_seq", lastSeq))
			return results, fail(ComponentRun, err)
		}

		from := 0
		if seq > 1 {
			from = cuts[seq-2]
		}
		to := cuts[seq-1]

		delta, err := req.Source.Slice(from, to)
		if err != nil {
			return results, fail(ComponentPlanner, err)
		}
		tip = chain.Update(tip, delta)

		body, err := req.Source.Slice(0, to)
		if err != nil {
			return results, fail(ComponentPlanner, err)
		}
		versionID, err := e.writer.Write(ioCtx, key, body)
		if err != nil {
			log.Error("segment write failed", zap.Int("seq_no", seq), zap.Error(err))
			return results, fail(ComponentStorage, err)
		}

		cp := Checkpoint{
			FlightID:    req.FlightID,
			SeqNo:       seq,
			TipHash:     tip,
			S3Bucket:    e.writer.Bucket(),
			S3Key:       key,
			S3VersionID: versionID,
		}
		payload, err := cp.Canonical()
		if err != nil {
			return results, fail(ComponentAnchor, err)
		}
		receipt, err := e.anchors.Put(ioCtx, missionKey, anchor.Submission{Locator: cp.Locator(), Payload: payload})
		if err != nil {
			log.Error("anchor submission failed",
				zap.Int("seq_no", seq),
				zap.String("version_id", versionID),
				zap.Error(err),
			)
			return results, fail(ComponentAnchor, err)
		}

		res := Result{Checkpoint: cp, Receipt: receipt, CumulativeRecords: to}
		if idx, err := e.appendJournal(ioCtx, log, cp, missionKey.Hex(), receipt.SubmissionID, runID); err != nil {
			res.JournalError = err.Error()
		} else {
			res.JournalIndex = idx
		}
		results = append(results, res)
		lastSeq = seq

		log.Info("checkpoint anchored",
			zap.Int("seq_no", seq),
			zap.String("tip_hash", tip.Hex()),
			zap.String("version_id", versionID),
			zap.String("tx_hash", receipt.SubmissionID),
			zap.Int("bytes", len(body)),
		)
	}

	log.Info("checkpoint run finished", zap.Int("emitted", len(results)), zap.String("tip_hash", tip.Hex()))
	return results, nil
}

// prepare validates req and returns the flight's object key and the chunk plan.
func (e *Emitter) prepare(req RunRequest) (string, []int, error) {
	key, err := e.layout.FlightKey(req.FlightID)
	if err != nil {
		return "", nil, err
	}
	if req.Source == nil {
		return "", nil, faults.Inputf("byte source is required")
	}
	cuts, err := chunk.Plan(req.Source.Total(), req.Chunks)
	if err != nil {
		return "", nil, err
	}
	if req.StartSeq < 0 || req.StartSeq > req.Chunks {
		return "", nil, faults.Inputf("start seq %d outside 1..%d", req.StartSeq, req.Chunks)
	}
	return key, cuts, nil
}

// priorTip returns the tip the run folds onto.
func (e *Emitter) priorTip(ctx context.Context, req RunRequest) (chain.Digest, error) {
	if req.StartSeq <= 1 {
		if !req.PriorTip.IsZero() {
			return chain.Digest{}, faults.Inputf("prior tip given for a run starting at seq 1")
		}
		return chain.Seed(), nil
	}
	if !req.PriorTip.IsZero() {
		return req.PriorTip, nil
	}
	if e.journal == nil {
		return chain.Digest{}, faults.Inputf("resuming at seq %d needs a prior tip", req.StartSeq)
	}

	last, err := e.journal.Latest(ctx, req.FlightID)
	if errors.Is(err, journal.ErrNotFound) {
		return chain.Digest{}, faults.Inputf("resuming at seq %d needs a prior tip; flight has no journal history", req.StartSeq)
	}
	if err != nil {
		return chain.Digest{}, fmt.Errorf("read journal: %w", err)
	}
	if last.SeqNo != req.StartSeq-1 {
		return chain.Digest{}, faults.Inputf("resuming at seq %d but the journal's last checkpoint is seq %d; pass the prior tip explicitly", req.StartSeq, last.SeqNo)
	}
	return chain.ParseHex(last.TipHash)
}

// appendJournal records cp in the journal, retrying failed appends with the
// writer's policy. A final failure does not stop the run, since the
// checkpoint is already anchored, but it is returned so the result can carry
// it: resuming after seq cp.SeqNo then needs an explicit prior tip.
func (e *Emitter) appendJournal(ctx context.Context, log *zap.Logger, cp Checkpoint, missionKey, txHash, runID string) (int, error) {
	if e.journal == nil {
		return 0, nil
	}
	rec := journal.Record{
		FlightID:       cp.FlightID,
		SeqNo:          cp.SeqNo,
		TipHash:        cp.TipHash.Hex(),
		StorageKey:     cp.S3Key,
		StorageVersion: cp.S3VersionID,
		MissionKey:     missionKey,
		TxHash:         txHash,
		RunID:          runID,
	}
	var entry *journal.Entry
	err := retry.Do(ctx, e.writer.Policy(), log, "journal append", func() error {
		var err error
		entry, err = e.journal.Append(ctx, rec)
		if err != nil {
			return faults.Transient(err)
		}
		return nil
	})
	if err != nil {
		log.Warn("journal append failed; checkpoint is anchored but unjournaled",
			zap.Int("seq_no", cp.SeqNo),
			zap.Error(err),
		)
		return 0, err
	}
	return entry.Index, nil
}
