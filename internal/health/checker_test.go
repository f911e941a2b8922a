package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubDep struct {
	mu   sync.Mutex
	errs []error // consumed one per Ping; the last one repeats
}

func (s *stubDep) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	if len(s.errs) > 1 {
		s.errs = s.errs[1:]
	}
	return err
}

type updates struct {
	mu  sync.Mutex
	log map[string][]bool
}

func (u *updates) record(name string, healthy bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.log[name] = append(u.log[name], healthy)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestHTTPProbe_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := (HTTPProbe{URL: srv.URL}).Ping(context.Background()); err != nil {
		t.Errorf("expected probe to succeed: %v", err)
	}
}

func TestHTTPProbe_getFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := (HTTPProbe{URL: srv.URL}).Ping(context.Background()); err != nil {
		t.Errorf("expected GET fallback to succeed: %v", err)
	}
}

func TestHTTPProbe_failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := (HTTPProbe{URL: srv.URL}).Ping(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("expected StatusError 500, got %v", err)
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	down := errors.New("connection refused")
	ledger := &stubDep{errs: []error{down}}
	store := &stubDep{}
	u := &updates{log: make(map[string][]bool)}

	checker := New(map[string]Pinger{"ledger": ledger, "storage": store}, Config{
		ProbeTimeout:  time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetStatusUpdate(u.record)

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if !checker.Healthy() {
		t.Error("should stay healthy below the threshold")
	}

	checker.CheckAll(context.Background())
	if checker.Healthy() {
		t.Error("expected degraded after 3 failures")
	}

	snap := checker.Snapshot()
	if len(snap) != 2 || snap[0].Name != "ledger" || snap[0].Healthy || snap[0].FailCount != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap[0].LastError != "connection refused" {
		t.Errorf("last error: got %q", snap[0].LastError)
	}

	// First probe reports each dependency; ledger then flips to degraded.
	if got := u.log["ledger"]; len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("ledger updates: got %v", got)
	}
	if got := u.log["storage"]; len(got) != 1 || got[0] != true {
		t.Errorf("storage updates: got %v", got)
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	down := errors.New("timeout")
	dep := &stubDep{errs: []error{down, down, down, nil}}

	var mu sync.Mutex
	var results []bool
	checker := New(map[string]Pinger{"ledger": dep}, Config{FailThreshold: 3}, zap.NewNop())
	checker.SetMetricsRecord(func(_ string, ok bool) {
		mu.Lock()
		results = append(results, ok)
		mu.Unlock()
	})

	for i := 0; i < 4; i++ {
		checker.CheckAll(context.Background())
	}

	if !checker.Healthy() {
		t.Error("expected healthy after recovery")
	}
	if len(results) != 4 || results[3] != true {
		t.Errorf("metrics: got %v", results)
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	checker := New(map[string]Pinger{"slow": slow}, Config{ProbeTimeout: 10 * time.Millisecond, FailThreshold: 1}, zap.NewNop())
	checker.CheckAll(context.Background())
	if checker.Healthy() {
		t.Error("a probe that times out should count as a failure")
	}
}
