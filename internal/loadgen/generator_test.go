package loadgen

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"migbench/internal/metrics"
	"migbench/internal/server"
)

func TestGenerator_EmitsParseableTelemetry(t *testing.T) {
	srv := server.New("server_a")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var out bytes.Buffer
	gen := New(ts.URL, "1", 100, 16, time.Second, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = gen.Run(ctx)

	records, err := metrics.ParseLines("client_1", bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("generator produced no telemetry")
	}
	for _, r := range records {
		if !r.OK() {
			t.Errorf("request against live server failed: %+v", r)
		}
		if r.RTTms == nil || *r.RTTms < 0 {
			t.Errorf("ok record missing rtt: %+v", r)
		}
	}

	// Every accepted ingest increments the replica counter exactly once.
	meta := srv.Store().Meta()
	if meta.Counter != len(records) {
		t.Errorf("server counter = %d, telemetry lines = %d", meta.Counter, len(records))
	}
}

func TestGenerator_ReportsServerErrors(t *testing.T) {
	ts := httptest.NewServer(server.New("server_a").Handler())
	deadURL := ts.URL
	ts.Close() // connection refused from here on

	var out bytes.Buffer
	gen := New(deadURL, "1", 50, 8, 200*time.Millisecond, &out)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = gen.Run(ctx)

	records, err := metrics.ParseLines("client_1", bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("failed attempts must still produce telemetry")
	}
	for _, r := range records {
		if r.Status != metrics.StatusErrExc {
			t.Errorf("status = %s, want err_exc for refused connection", r.Status)
		}
	}
}
