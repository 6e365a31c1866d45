package bench

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"migbench/internal/config"
	"migbench/internal/dockerrun"
	"migbench/internal/metrics"
	"migbench/internal/migration"
)

const (
	sourceName = "server_a"
	destName   = "server_b"

	readyTimeout = 10 * time.Second
)

// Runtime is the container surface the orchestrator drives. It is
// satisfied by dockerrun.Manager.
type Runtime interface {
	EnsureNetwork(ctx context.Context) error
	BuildImages(ctx context.Context, appDir string) error
	RunServer(ctx context.Context, name string, hostPort int) error
	RunClient(ctx context.Context, name string, env dockerrun.ClientEnv) error
	AttachAlias(ctx context.Context, name string) error
	DetachAlias(ctx context.Context, name string) error
	WaitReady(ctx context.Context, baseURL string, timeout time.Duration) error
	Logs(ctx context.Context, name string) ([]byte, error)
	Stop(ctx context.Context, names ...string)
}

// Options tunes an Orchestrator beyond the run configuration.
type Options struct {
	// AppDir, when non-empty, holds the Dockerfiles to build the server
	// and client images from before the run.
	AppDir string
	// SourceBaseURL and DestBaseURL override the replica endpoints,
	// which otherwise derive from the configured service port.
	SourceBaseURL string
	DestBaseURL   string
	Observer      Observer
	Logger        *slog.Logger
}

// Orchestrator provisions the benchmark topology, runs one migration and
// collects its metrics.
type Orchestrator struct {
	cfg      *config.Config
	rt       Runtime
	transfer migration.Transfer
	writer   MetricsWriter
	obs      Observer
	log      *slog.Logger
	opts     Options
}

// NewOrchestrator wires one benchmark run.
func NewOrchestrator(cfg *config.Config, rt Runtime, tc migration.Transfer, writer MetricsWriter, opts Options) *Orchestrator {
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		rt:       rt,
		transfer: tc,
		writer:   writer,
		obs:      opts.Observer,
		log:      opts.Logger,
		opts:     opts,
	}
}

func (o *Orchestrator) sourceReplica() migration.Replica {
	base := o.opts.SourceBaseURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", o.cfg.Servers.Port)
	}
	return migration.Replica{
		Name:    sourceName,
		BaseURL: base,
		PeerURL: fmt.Sprintf("http://%s:%d", sourceName, o.cfg.Servers.Port),
	}
}

func (o *Orchestrator) destReplica() migration.Replica {
	base := o.opts.DestBaseURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", o.cfg.Servers.Port+1)
	}
	return migration.Replica{
		Name:    destName,
		BaseURL: base,
		PeerURL: fmt.Sprintf("http://%s:%d", destName, o.cfg.Servers.Port),
	}
}

func (o *Orchestrator) clientNames() []string {
	names := make([]string, o.cfg.Clients.Count)
	for i := range names {
		names[i] = fmt.Sprintf("client_%02d", i+1)
	}
	return names
}

// Run executes one full benchmark: topology up, load on, migrate, settle,
// harvest telemetry, write metrics, topology down. The returned metrics
// are also handed to the configured writer. An aborted migration still
// produces metrics, with the abort sentinel set.
func (o *Orchestrator) Run(ctx context.Context) (metrics.Metrics, error) {
	source := o.sourceReplica()
	dest := o.destReplica()
	clients := o.clientNames()

	defer func() {
		o.obs.Stage("teardown")
		names := append([]string{sourceName, destName}, clients...)
		o.rt.Stop(context.WithoutCancel(ctx), names...)
	}()

	o.obs.Stage("setup")
	if err := o.rt.EnsureNetwork(ctx); err != nil {
		return metrics.Metrics{}, fmt.Errorf("ensure network: %w", err)
	}
	if o.opts.AppDir != "" {
		if err := o.rt.BuildImages(ctx, o.opts.AppDir); err != nil {
			return metrics.Metrics{}, fmt.Errorf("build images: %w", err)
		}
	}

	if err := o.rt.RunServer(ctx, sourceName, o.cfg.Servers.Port); err != nil {
		return metrics.Metrics{}, fmt.Errorf("start %s: %w", sourceName, err)
	}
	if err := o.rt.WaitReady(ctx, source.BaseURL, readyTimeout); err != nil {
		return metrics.Metrics{}, fmt.Errorf("wait for %s: %w", sourceName, err)
	}
	if err := o.rt.AttachAlias(ctx, sourceName); err != nil {
		return metrics.Metrics{}, fmt.Errorf("attach alias to %s: %w", sourceName, err)
	}

	var boot migration.Booter
	if o.cfg.PrebootDestination() {
		if err := o.rt.RunServer(ctx, destName, o.cfg.Servers.Port+1); err != nil {
			return metrics.Metrics{}, fmt.Errorf("start %s: %w", destName, err)
		}
		if err := o.rt.WaitReady(ctx, dest.BaseURL, readyTimeout); err != nil {
			return metrics.Metrics{}, fmt.Errorf("wait for %s: %w", destName, err)
		}
	} else {
		boot = &lazyBoot{rt: o.rt, port: o.cfg.Servers.Port + 1, baseURL: dest.BaseURL}
	}

	o.obs.Stage("load")
	for _, name := range clients {
		env := dockerrun.ClientEnv{
			ClientID:     name,
			RateHz:       o.cfg.Clients.RateHz,
			PayloadBytes: o.cfg.Clients.PayloadBytes,
			TimeoutMS:    o.cfg.Clients.TimeoutMS,
			RunID:        o.cfg.General.RunID,
		}
		if err := o.rt.RunClient(ctx, name, env); err != nil {
			return metrics.Metrics{}, fmt.Errorf("start %s: %w", name, err)
		}
	}
	if err := sleep(ctx, o.delay()); err != nil {
		return metrics.Metrics{}, err
	}

	o.obs.Stage("migrate")
	strategy, err := migration.ParseStrategy(o.cfg.Migration.Strategy)
	if err != nil {
		return metrics.Metrics{}, err
	}
	runner := migration.NewRunner(o.transfer, o.rt, migration.RunnerConfig{
		ResyncWindow: time.Duration(o.cfg.Migration.PostcopySyncS * float64(time.Second)),
		Boot:         boot,
		Logger:       o.log,
	})
	report, runErr := runner.Run(ctx, strategy, source, dest)
	if runErr != nil {
		o.log.Error("migration aborted", "strategy", strategy, "error", runErr)
		o.obs.Log(fmt.Sprintf("migration aborted: %v", runErr))
	}

	o.obs.Stage("settle")
	if err := sleep(ctx, o.delay()); err != nil {
		return metrics.Metrics{}, err
	}

	o.obs.Stage("collect")
	var records []metrics.Record
	for _, name := range clients {
		out, err := o.rt.Logs(ctx, name)
		if err != nil {
			o.log.Warn("client logs unavailable", "client", name, "error", err)
			continue
		}
		recs, err := metrics.ParseLines(name, bytes.NewReader(out))
		if err != nil {
			o.log.Warn("client telemetry unreadable", "client", name, "error", err)
			continue
		}
		records = append(records, recs...)
	}

	m := metrics.Collect(o.cfg.General.RunID, records, report)
	o.obs.Result(m)
	if o.writer != nil {
		if err := o.writer.WriteMetrics(m); err != nil {
			return m, fmt.Errorf("write metrics: %w", err)
		}
	}
	return m, runErr
}

func (o *Orchestrator) delay() time.Duration {
	return time.Duration(o.cfg.Migration.DelayS * float64(time.Second))
}

// lazyBoot starts the destination replica on demand. The replica joins
// the benchmark network without the public alias; the strategy attaches
// it after the transfer.
type lazyBoot struct {
	rt      Runtime
	port    int
	baseURL string
}

func (b *lazyBoot) EnsureStarted(ctx context.Context, name string) error {
	if err := b.rt.RunServer(ctx, name, b.port); err != nil {
		return fmt.Errorf("boot %s: %w", name, err)
	}
	return b.rt.WaitReady(ctx, b.baseURL, readyTimeout)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
