package bench

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"migbench/internal/config"
	"migbench/internal/dockerrun"
	"migbench/internal/metrics"
	"migbench/internal/server"
	"migbench/internal/transfer"
)

type fakeRuntime struct {
	mu     sync.Mutex
	events []string
	logs   map[string]string
}

func (f *fakeRuntime) record(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeRuntime) EnsureNetwork(context.Context) error {
	f.record("network")
	return nil
}

func (f *fakeRuntime) BuildImages(_ context.Context, dir string) error {
	f.record("build:" + dir)
	return nil
}

func (f *fakeRuntime) RunServer(_ context.Context, name string, hostPort int) error {
	f.record(fmt.Sprintf("run:%s:%d", name, hostPort))
	return nil
}

func (f *fakeRuntime) RunClient(_ context.Context, name string, _ dockerrun.ClientEnv) error {
	f.record("client:" + name)
	return nil
}

func (f *fakeRuntime) AttachAlias(_ context.Context, name string) error {
	f.record("attach:" + name)
	return nil
}

func (f *fakeRuntime) DetachAlias(_ context.Context, name string) error {
	f.record("detach:" + name)
	return nil
}

func (f *fakeRuntime) WaitReady(context.Context, string, time.Duration) error {
	return nil
}

func (f *fakeRuntime) Logs(_ context.Context, name string) ([]byte, error) {
	return []byte(f.logs[name]), nil
}

func (f *fakeRuntime) Stop(_ context.Context, names ...string) {
	f.record("stop:" + strings.Join(names, ","))
}

func (f *fakeRuntime) index(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e == event {
			return i
		}
	}
	return -1
}

type captureWriter struct {
	written []metrics.Metrics
}

func (w *captureWriter) WriteMetrics(m metrics.Metrics) error {
	w.written = append(w.written, m)
	return nil
}

type captureObserver struct {
	stages  []string
	results []metrics.Metrics
}

func (o *captureObserver) Stage(name string)        { o.stages = append(o.stages, name) }
func (o *captureObserver) Log(string)               {}
func (o *captureObserver) Result(m metrics.Metrics) { o.results = append(o.results, m) }

func benchConfig(strategy string) *config.Config {
	return &config.Config{
		General: config.General{RunID: "run-1"},
		Clients: config.Clients{Count: 2, RateHz: 5, PayloadBytes: 32, TimeoutMS: 800},
		Migration: config.Migration{
			Strategy:      strategy,
			PostcopySyncS: 0.05,
		},
		Servers: config.Servers{
			ServiceAlias: "service",
			Port:         5000,
			NetworkName:  "bench_net",
		},
	}
}

func clientTelemetry() string {
	return strings.Join([]string{
		"CSV:1,10.000000,10.010000,10.0,ok",
		"CSV:2,10.200000,10.215000,15.0,ok",
		"CSV:3,10.400000,,,err_http",
	}, "\n") + "\n"
}

func TestOrchestratorColdRun(t *testing.T) {
	src := server.New("server_a")
	for seq := 1; seq <= 10; seq++ {
		src.Store().Ingest(seq, strings.Repeat("x", 32))
	}
	dst := server.New("server_b")
	srcTS := httptest.NewServer(src.Handler())
	defer srcTS.Close()
	dstTS := httptest.NewServer(dst.Handler())
	defer dstTS.Close()

	rt := &fakeRuntime{logs: map[string]string{
		"client_01": clientTelemetry(),
		"client_02": clientTelemetry(),
	}}
	w := &captureWriter{}
	obs := &captureObserver{}
	o := NewOrchestrator(benchConfig("cold"), rt, transfer.New(0), w, Options{
		SourceBaseURL: srcTS.URL,
		DestBaseURL:   dstTS.URL,
		Observer:      obs,
	})

	m, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Strategy != "cold" {
		t.Fatalf("strategy = %q", m.Strategy)
	}
	if m.StateDiff != 0 {
		t.Fatalf("state diff = %d", m.StateDiff)
	}
	if m.StateSizeBytes != 320 {
		t.Fatalf("state size = %d", m.StateSizeBytes)
	}
	if m.TotalPackets != 6 || m.SuccessfulPackets != 4 {
		t.Fatalf("packets = %d/%d", m.SuccessfulPackets, m.TotalPackets)
	}
	if got := dst.Store().Meta().Counter; got != 10 {
		t.Fatalf("destination counter = %d", got)
	}
	if len(w.written) != 1 {
		t.Fatalf("expected one metrics row, got %d", len(w.written))
	}

	detach := rt.index("detach:server_a")
	attach := rt.index("attach:server_b")
	if detach == -1 || attach == -1 || detach > attach {
		t.Fatalf("alias switch out of order: %v", rt.events)
	}
	if rt.index("run:server_b:5001") > rt.index("client:client_01") {
		t.Fatalf("destination should be prebooted before load: %v", rt.events)
	}
	last := rt.events[len(rt.events)-1]
	if !strings.HasPrefix(last, "stop:") {
		t.Fatalf("expected teardown last, got %q", last)
	}
	if obs.stages[0] != "setup" || obs.stages[len(obs.stages)-1] != "teardown" {
		t.Fatalf("stages = %v", obs.stages)
	}
}

func TestOrchestratorLazyBoot(t *testing.T) {
	src := server.New("server_a")
	src.Store().Ingest(1, "abc")
	dst := server.New("server_b")
	srcTS := httptest.NewServer(src.Handler())
	defer srcTS.Close()
	dstTS := httptest.NewServer(dst.Handler())
	defer dstTS.Close()

	preboot := false
	cfg := benchConfig("cold")
	cfg.Migration.DestPreboot = &preboot

	rt := &fakeRuntime{logs: map[string]string{}}
	o := NewOrchestrator(cfg, rt, transfer.New(0), nil, Options{
		SourceBaseURL: srcTS.URL,
		DestBaseURL:   dstTS.URL,
	})
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	boot := rt.index("run:server_b:5001")
	load := rt.index("client:client_02")
	if boot == -1 {
		t.Fatalf("destination never booted: %v", rt.events)
	}
	if boot < load {
		t.Fatalf("destination booted before migration: %v", rt.events)
	}
	if got := dst.Store().Meta().Counter; got != 1 {
		t.Fatalf("destination counter = %d", got)
	}
}

func TestOrchestratorAbortStillReportsMetrics(t *testing.T) {
	// Precopy pulls through the destination's peer endpoint, which
	// cannot reach the source here, so the migration aborts.
	src := server.New("server_a")
	dst := server.New("server_b")
	srcTS := httptest.NewServer(src.Handler())
	defer srcTS.Close()
	dstTS := httptest.NewServer(dst.Handler())
	defer dstTS.Close()

	rt := &fakeRuntime{logs: map[string]string{
		"client_01": clientTelemetry(),
		"client_02": "",
	}}
	w := &captureWriter{}
	o := NewOrchestrator(benchConfig("precopy"), rt, transfer.New(0), w, Options{
		SourceBaseURL: srcTS.URL,
		DestBaseURL:   dstTS.URL,
	})

	m, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected migration error")
	}
	if m.StateDiff != -1 {
		t.Fatalf("state diff = %d, want abort sentinel", m.StateDiff)
	}
	if len(w.written) != 1 {
		t.Fatalf("aborted run must still write metrics, got %d rows", len(w.written))
	}
	if m.TotalPackets != 3 {
		t.Fatalf("total packets = %d", m.TotalPackets)
	}
}
