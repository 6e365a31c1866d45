package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"migbench/internal/state"
)

func postJSON(t *testing.T, url string, body any) map[string]any {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s returned %s", url, resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestIngest_DuplicateSuppression(t *testing.T) {
	ts := httptest.NewServer(New("server_a").Handler())
	defer ts.Close()

	for _, seq := range []int{1, 1, 2, 3, 2} {
		postJSON(t, ts.URL+"/ingest", map[string]any{"seq": seq, "ts": 0.0, "size": 1, "blob": "x"})
	}

	var meta state.Meta
	getJSON(t, ts.URL+"/state_meta", &meta)
	if meta.Counter != 3 {
		t.Errorf("counter = %d after seqs [1,1,2,3,2], want 3", meta.Counter)
	}
	if meta.LastSeq != 3 {
		t.Errorf("last_seq = %d, want 3", meta.LastSeq)
	}
}

func TestStatePost_MergeIsIdempotentAndMonotonic(t *testing.T) {
	ts := httptest.NewServer(New("server_b").Handler())
	defer ts.Close()

	snap := state.New("server_a")
	snap.Counter = 4
	snap.LastSeq = 4
	snap.Blob = map[string]string{"1": "a", "2": "b", "3": "c", "4": "d"}

	postJSON(t, ts.URL+"/state", snap)
	var first state.Snapshot
	getJSON(t, ts.URL+"/state", &first)

	postJSON(t, ts.URL+"/state", snap)
	var second state.Snapshot
	getJSON(t, ts.URL+"/state", &second)

	if second.Counter != first.Counter || second.LastSeq != first.LastSeq {
		t.Errorf("repeated merge changed counters: %+v vs %+v", second, first)
	}
	if len(second.Blob) != len(first.Blob) {
		t.Errorf("repeated merge changed blob size: %d vs %d", len(second.Blob), len(first.Blob))
	}

	// A lower-counter push must not regress state.
	stale := state.New("server_a")
	stale.Counter = 1
	stale.LastSeq = 1
	postJSON(t, ts.URL+"/state", stale)
	var after state.Snapshot
	getJSON(t, ts.URL+"/state", &after)
	if after.Counter < first.Counter || after.LastSeq < first.LastSeq {
		t.Errorf("stale merge regressed counters: %+v", after)
	}
}

func TestPullState_RangeFilteredMerge(t *testing.T) {
	source := httptest.NewServer(New("server_a").Handler())
	defer source.Close()
	dest := httptest.NewServer(New("server_b").Handler())
	defer dest.Close()

	for i := 1; i <= 8; i++ {
		postJSON(t, source.URL+"/ingest", map[string]any{"seq": i, "blob": fmt.Sprintf("payload-%d", i)})
	}

	marker := 5
	resp := postJSON(t, dest.URL+"/pull_state", map[string]any{
		"source_url":            source.URL,
		"max_counter_inclusive": marker,
	})
	if resp["imported"] != true {
		t.Fatalf("pull_state did not import: %+v", resp)
	}
	if int(resp["source_counter"].(float64)) != 8 {
		t.Errorf("source_counter = %v, want 8", resp["source_counter"])
	}

	var mid state.Snapshot
	getJSON(t, dest.URL+"/state", &mid)
	if len(mid.Blob) != 5 {
		t.Errorf("dest should hold 5 entries after bounded pull, got %d", len(mid.Blob))
	}

	resp = postJSON(t, dest.URL+"/pull_state", map[string]any{
		"source_url":            source.URL,
		"min_counter_exclusive": marker,
	})
	if int(resp["dest_counter"].(float64)) != 8 {
		t.Errorf("dest_counter = %v after delta pull, want 8", resp["dest_counter"])
	}

	var full state.Snapshot
	getJSON(t, dest.URL+"/state", &full)
	if len(full.Blob) != 8 {
		t.Errorf("dest should hold all 8 entries, got %d", len(full.Blob))
	}
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(New("server_a").Handler())
	defer ts.Close()

	var body struct {
		OK     bool   `json:"ok"`
		Server string `json:"server"`
	}
	getJSON(t, ts.URL+"/health", &body)
	if !body.OK || body.Server != "server_a" {
		t.Errorf("unexpected health payload: %+v", body)
	}
}
