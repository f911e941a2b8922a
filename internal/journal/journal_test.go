package journal_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmerrifield20/uavledger/internal/journal"
)

var ctx = context.Background()

func rec(flight string, seq int) journal.Record {
	return journal.Record{
		FlightID:       flight,
		SeqNo:          seq,
		TipHash:        "0x01",
		StorageKey:     "flights/" + flight + "/flight.log",
		StorageVersion: "v1",
		MissionKey:     "0xabc",
		TxHash:         "0xdef",
	}
}

func TestNewMemoryJournal_genesisEntry(t *testing.T) {
	j := journal.NewMemoryJournal()

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := j.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Hash != journal.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	j := journal.NewMemoryJournal()

	e1, err := j.Append(ctx, rec("f-1", 1))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := j.Append(ctx, rec("f-1", 2))
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e1.Index != 1 || e2.Index != 2 {
		t.Errorf("indexes: got %d, %d", e1.Index, e2.Index)
	}

	n, _ := j.Len(ctx)
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestAppend_rejectsIncompleteRecords(t *testing.T) {
	j := journal.NewMemoryJournal()
	if _, err := j.Append(ctx, journal.Record{SeqNo: 1}); err == nil {
		t.Error("expected error for missing flight id")
	}
	if _, err := j.Append(ctx, journal.Record{FlightID: "f"}); err == nil {
		t.Error("expected error for seq 0")
	}
}

func TestVerify_valid(t *testing.T) {
	j := journal.NewMemoryJournal()
	_, _ = j.Append(ctx, rec("f-1", 1))
	_, _ = j.Append(ctx, rec("f-2", 1))

	if err := j.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestVerify_genesisOnlyChain(t *testing.T) {
	if err := journal.NewMemoryJournal().Verify(ctx); err != nil {
		t.Errorf("Verify() on genesis-only chain should pass: %v", err)
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	j := journal.NewMemoryJournal()
	root, _ := j.Root(ctx)
	if root != journal.GenesisHash {
		t.Errorf("Root() on genesis-only: got %q, want GenesisHash", root)
	}

	e, _ := j.Append(ctx, rec("f-1", 1))
	root, err := j.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}

func TestLatestAndHistory(t *testing.T) {
	j := journal.NewMemoryJournal()
	for seq := 1; seq <= 3; seq++ {
		_, _ = j.Append(ctx, rec("f-1", seq))
		_, _ = j.Append(ctx, rec("f-2", seq))
	}

	latest, err := j.Latest(ctx, "f-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.SeqNo != 3 || latest.FlightID != "f-1" {
		t.Errorf("latest: got %s/%d", latest.FlightID, latest.SeqNo)
	}

	hist, _ := j.History(ctx, "f-2")
	if len(hist) != 3 {
		t.Fatalf("history: got %d entries, want 3", len(hist))
	}
	for i, e := range hist {
		if e.SeqNo != i+1 {
			t.Errorf("history[%d]: seq %d", i, e.SeqNo)
		}
	}

	if _, err := j.Latest(ctx, "f-3"); !errors.Is(err, journal.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := j.Get(ctx, 99); !errors.Is(err, journal.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppend_concurrent(t *testing.T) {
	j := journal.NewMemoryJournal()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			if _, err := j.Append(ctx, rec("f", seq)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if err := j.Verify(ctx); err != nil {
		t.Errorf("Verify() after concurrent appends: %v", err)
	}
}

func TestMemoryLocker(t *testing.T) {
	l := journal.NewMemoryLocker()

	unlock, err := l.TryLock(ctx, "f-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryLock(ctx, "f-1"); !errors.Is(err, journal.ErrRunInProgress) {
		t.Errorf("second lock: expected ErrRunInProgress, got %v", err)
	}

	other, err := l.TryLock(ctx, "f-2")
	if err != nil {
		t.Errorf("other flight should lock independently: %v", err)
	}
	other()

	unlock()
	unlock() // idempotent

	again, err := l.TryLock(ctx, "f-1")
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	again()
}
