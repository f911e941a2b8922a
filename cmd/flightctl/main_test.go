package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jmerrifield20/uavledger/internal/chain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeLog(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "flight.log")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPlan(t *testing.T) {
	out, err := execute(t, "plan", "10", "3", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var cuts []int
	if err := json.Unmarshal([]byte(out), &cuts); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if diff := cmp.Diff([]int{4, 7, 10}, cuts); diff != "" {
		t.Errorf("cuts mismatch (-want +got):\n%s", diff)
	}

	if _, err := execute(t, "plan", "0", "3"); err == nil {
		t.Error("expected error for empty log")
	}
}

func TestPlan_sparseWarning(t *testing.T) {
	out, err := execute(t, "plan", "2", "4")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "warning") {
		t.Errorf("expected sparse warning, got %q", out)
	}
}

func TestTip(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")
	out, err := execute(t, "tip", path, "--chunks", "2", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var rows []struct {
		SeqNo   int    `json:"seq_no"`
		Records int    `json:"records"`
		Tip     string `json:"tip"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}

	first := chain.Update(chain.Seed(), []byte("a\nb\n"))
	final := chain.Update(first, []byte("c\n"))
	if len(rows) != 2 || rows[0].Tip != first.Hex() || rows[1].Tip != final.Hex() || rows[1].Records != 3 {
		t.Errorf("unexpected tips: %+v", rows)
	}
}

func TestTip_requiresChunks(t *testing.T) {
	if _, err := execute(t, "tip", writeLog(t, "a\n")); err == nil {
		t.Error("expected error without --chunks")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.HasPrefix(out, "flightctl dev") {
		t.Errorf("version: %q %v", out, err)
	}
}

func TestBadFormat(t *testing.T) {
	if _, err := execute(t, "plan", "1", "1", "--format", "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestVerify_mismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "MATCH"
		if r.URL.Query().Get("tip") != "" {
			status = "MISMATCH"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"flight_id": "f", "status": status,
			"mismatches": []map[string]string{{"field": "recomputed_tip", "expected": "0x1", "actual": "0x2"}},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "verify", "f")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "MATCH") {
		t.Errorf("output: %q", out)
	}

	out, err = execute(t, "--server", srv.URL, "verify", "f", "--tip", "0xabc")
	if err == nil {
		t.Fatal("expected mismatch to fail the command")
	}
	if !strings.Contains(out, "recomputed_tip") {
		t.Errorf("mismatch details missing: %q", out)
	}
}

func TestEmit_partialRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "ledger rejected", "component": "anchor", "last_seq": 2,
			"checkpoints": []map[string]any{
				{"checkpoint": map[string]any{"seqNo": 1, "tipHash": "0xt1"}},
				{"checkpoint": map[string]any{"seqNo": 2, "tipHash": "0xt2"}},
			},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "emit", "f", writeLog(t, "a\nb\nc\n"), "--chunks", "3")
	if err == nil || !strings.Contains(err.Error(), "after seq 2") {
		t.Fatalf("expected partial run error, got %v", err)
	}
	if !strings.Contains(out, "0xt2") {
		t.Errorf("anchored checkpoints should be printed: %q", out)
	}
}
