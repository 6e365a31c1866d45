package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"migbench/internal/server"
	"migbench/internal/state"
)

func TestFetchState_RoundTrip(t *testing.T) {
	srv := server.New("server_a")
	for i := 1; i <= 3; i++ {
		srv.Store().Ingest(i, "payload")
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := New(time.Second)
	snap, err := c.FetchState(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if snap.Counter != 3 || len(snap.Blob) != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestFetchStateMeta_DefaultsOnMissingFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"server":"server_a"}`))
	}))
	defer ts.Close()

	c := New(time.Second)
	meta, err := c.FetchStateMeta(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("FetchStateMeta: %v", err)
	}
	if meta.Counter != 0 || meta.LastSeq != -1 {
		t.Errorf("missing fields should default to counter=0 last_seq=-1, got %+v", meta)
	}
}

func TestPushState_ReturnsPayloadSize(t *testing.T) {
	dest := httptest.NewServer(server.New("server_b").Handler())
	defer dest.Close()

	snap := state.New("server_a")
	snap.Counter = 2
	snap.LastSeq = 2
	snap.Blob = map[string]string{"1": "aa", "2": "bb"}

	c := New(time.Second)
	n, err := c.PushState(context.Background(), dest.URL, snap)
	if err != nil {
		t.Fatalf("PushState: %v", err)
	}
	if n != 4 {
		t.Errorf("PushState reported %d bytes, want 4", n)
	}
}

func TestDo_RetriesTransientTransportError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"server":"server_a"}`))
	}))
	defer ts.Close()

	c := New(time.Second)
	if err := c.Health(context.Background(), ts.URL); err != nil {
		t.Fatalf("Health should succeed on retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDo_PersistentFailureSurfacesTypedError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(time.Second)
	_, err := c.FetchState(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("expected failure")
	}
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("error is not a *Failure: %v", err)
	}
	if f.Kind != TransportFailure {
		t.Errorf("kind = %s, want transport", f.Kind)
	}
}

func TestDo_ProtocolFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	c := New(time.Second)
	_, err := c.FetchState(context.Background(), ts.URL)
	var f *Failure
	if !errors.As(err, &f) || f.Kind != ProtocolFailure {
		t.Fatalf("expected protocol failure, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("protocol failure retried: %d attempts", calls.Load())
	}
}

func TestPullStateFromPeer_RangeBounds(t *testing.T) {
	source := httptest.NewServer(server.New("server_a").Handler())
	defer source.Close()
	destSrv := server.New("server_b")
	dest := httptest.NewServer(destSrv.Handler())
	defer dest.Close()

	c := New(time.Second)

	// Seed the source via PushState.
	seed := state.New("server_a")
	seed.Counter = 6
	seed.LastSeq = 6
	seed.Blob = map[string]string{"1": "a", "2": "b", "3": "c", "4": "d", "5": "e", "6": "f"}
	if _, err := c.PushState(context.Background(), source.URL, seed); err != nil {
		t.Fatalf("seed push: %v", err)
	}

	marker := 4
	res, err := c.PullStateFromPeer(context.Background(), dest.URL, source.URL, nil, &marker)
	if err != nil {
		t.Fatalf("initial pull: %v", err)
	}
	if res.SourceCounter != 6 {
		t.Errorf("source_counter = %d, want 6", res.SourceCounter)
	}
	if got := len(destSrv.Store().Snapshot().Blob); got != 4 {
		t.Errorf("dest holds %d entries after bounded pull, want 4", got)
	}

	res, err = c.PullStateFromPeer(context.Background(), dest.URL, source.URL, &marker, nil)
	if err != nil {
		t.Fatalf("delta pull: %v", err)
	}
	if res.DestCounter != 6 {
		t.Errorf("dest_counter = %d after delta pull, want 6", res.DestCounter)
	}
	if got := len(destSrv.Store().Snapshot().Blob); got != 6 {
		t.Errorf("dest holds %d entries after delta pull, want 6", got)
	}
}
