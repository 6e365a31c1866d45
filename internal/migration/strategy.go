// Migration strategy state machine: precopy, postcopy and cold cutover
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"migbench/internal/state"
	"migbench/internal/transfer"
)

// Strategy selects the migration protocol variant.
type Strategy string

const (
	// Precopy moves the bulk of the state while the source still serves
	// clients and only pays downtime for the delta since the marker.
	Precopy Strategy = "precopy"
	// Postcopy cuts client access first, copies everything, reattaches,
	// then reconciles in a bounded background loop.
	Postcopy Strategy = "postcopy"
	// Cold is the strictly serial detach, copy, attach baseline.
	Cold Strategy = "cold"
)

// ParseStrategy validates a strategy name from configuration. An unknown
// name is a configuration failure and must be rejected before any phase
// runs.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Precopy, Postcopy, Cold:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown migration strategy %q", s)
}

// Replica identifies one service replica to the orchestrator.
type Replica struct {
	// Name is the container name, used for alias switching.
	Name string
	// BaseURL is the replica endpoint reachable from the orchestrator.
	BaseURL string
	// PeerURL is the replica endpoint reachable from the other replica
	// on the benchmark network, used as pull_state source.
	PeerURL string
}

// Transfer is the state transfer surface the strategies drive.
type Transfer interface {
	Health(ctx context.Context, baseURL string) error
	FetchState(ctx context.Context, baseURL string) (state.Snapshot, error)
	FetchStateMeta(ctx context.Context, baseURL string) (state.Meta, error)
	PushState(ctx context.Context, baseURL string, snap state.Snapshot) (int, error)
	PullStateFromPeer(ctx context.Context, destURL, sourceURL string, minExclusive, maxInclusive *int) (transfer.PullResult, error)
}

// AliasSwitch reassigns the service's stable network alias between
// replicas. Both operations are idempotent: attaching an already attached
// replica or detaching an already detached one succeeds.
type AliasSwitch interface {
	AttachAlias(ctx context.Context, name string) error
	DetachAlias(ctx context.Context, name string) error
}

// Booter starts a replica that was not pre-booted. Implementations must
// leave the replica registered on the benchmark network but without the
// public alias.
type Booter interface {
	EnsureStarted(ctx context.Context, name string) error
}

// RunnerConfig carries the tunables of the state machine.
type RunnerConfig struct {
	// ResyncWindow bounds the postcopy reconciliation loop.
	ResyncWindow time.Duration
	// ResyncInterval is the pause between reconciliation iterations.
	ResyncInterval time.Duration
	// Boot, when set, is invoked for a lazily started destination
	// before any transfer phase. Boot time counts toward the total
	// window but not the downtime window.
	Boot   Booter
	Logger *slog.Logger
}

// Runner executes one migration strategy as a strict phase sequence. A
// failed phase aborts the run; phases are never skipped or reordered.
type Runner struct {
	transfer Transfer
	network  AliasSwitch
	cfg      RunnerConfig
	now      func() float64
}

// NewRunner wires the state machine to its collaborators.
func NewRunner(t Transfer, network AliasSwitch, cfg RunnerConfig) *Runner {
	if cfg.ResyncWindow <= 0 {
		cfg.ResyncWindow = 5 * time.Second
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 300 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{transfer: t, network: network, cfg: cfg, now: nowTS}
}

// Run drives the selected strategy from the source to the destination
// replica and returns the timing and consistency report. On a phase
// failure the returned report carries zero windows and the abort
// sentinel, together with a non-nil error naming the phase.
func (r *Runner) Run(ctx context.Context, strategy Strategy, source, dest Replica) (Report, error) {
	switch strategy {
	case Precopy:
		return r.runPrecopy(ctx, source, dest)
	case Postcopy:
		return r.runPostcopy(ctx, source, dest)
	case Cold:
		return r.runCold(ctx, source, dest)
	}
	return abortedReport(strategy, "validate"), fmt.Errorf("unknown migration strategy %q", strategy)
}

func (r *Runner) abort(strategy Strategy, phase string, err error) (Report, error) {
	r.cfg.Logger.Error("migration aborted", "strategy", strategy, "phase", phase, "reason", err)
	return abortedReport(strategy, phase), fmt.Errorf("phase %s: %w", phase, err)
}

// prepare boots a lazy destination and probes both replicas. It is the
// common entry phase of every strategy.
func (r *Runner) prepare(ctx context.Context, strategy Strategy, source, dest Replica) error {
	if r.cfg.Boot != nil {
		if err := r.cfg.Boot.EnsureStarted(ctx, dest.Name); err != nil {
			return fmt.Errorf("boot destination: %w", err)
		}
	}
	if err := r.transfer.Health(ctx, source.BaseURL); err != nil {
		return fmt.Errorf("source health: %w", err)
	}
	if err := r.transfer.Health(ctx, dest.BaseURL); err != nil {
		return fmt.Errorf("destination health: %w", err)
	}
	return nil
}

// runPrecopy: initial-copy -> cutover -> final-copy -> reattach.
func (r *Runner) runPrecopy(ctx context.Context, source, dest Replica) (Report, error) {
	totalStart := r.now()
	if err := r.prepare(ctx, Precopy, source, dest); err != nil {
		return r.abort(Precopy, "prepare", err)
	}

	// Consistency marker: the source counter at T0. Everything up to
	// and including it moves while the source still serves clients.
	initStart := r.now()
	meta, err := r.transfer.FetchStateMeta(ctx, source.BaseURL)
	if err != nil {
		return r.abort(Precopy, "initial-copy", err)
	}
	marker := meta.Counter

	initial, err := r.transfer.PullStateFromPeer(ctx, dest.BaseURL, source.PeerURL, nil, &marker)
	if err != nil {
		return r.abort(Precopy, "initial-copy", err)
	}
	initEnd := r.now()
	r.cfg.Logger.Info("initial copy done", "marker", marker, "bytes", initial.StateSizeBytes)

	downStart := r.now()
	if err := r.network.DetachAlias(ctx, source.Name); err != nil {
		return r.abort(Precopy, "cutover", err)
	}

	// Delta since T0. The source is unreachable to clients now, so the
	// delta is frozen and typically small.
	delta, err := r.transfer.PullStateFromPeer(ctx, dest.BaseURL, source.PeerURL, &marker, nil)
	if err != nil {
		return r.abort(Precopy, "final-copy", err)
	}

	if err := r.network.AttachAlias(ctx, dest.Name); err != nil {
		return r.abort(Precopy, "reattach", err)
	}
	downEnd := r.now()

	bytes := initial.StateSizeBytes + delta.StateSizeBytes
	consistency, err := r.reconcile(ctx, source, dest, bytes)
	if err != nil {
		return r.abort(Precopy, "reconcile", err)
	}
	totalEnd := r.now()

	return Report{
		Strategy:    Precopy,
		Total:       NewWindow(totalStart, totalEnd),
		Downtime:    NewWindow(downStart, downEnd),
		InitialCopy: NewWindow(initStart, initEnd),
		Consistency: consistency,
	}, nil
}

// runPostcopy: cutover -> full-copy -> reattach -> bounded resync.
func (r *Runner) runPostcopy(ctx context.Context, source, dest Replica) (Report, error) {
	totalStart := r.now()
	if err := r.prepare(ctx, Postcopy, source, dest); err != nil {
		return r.abort(Postcopy, "prepare", err)
	}

	downStart := r.now()
	if err := r.network.DetachAlias(ctx, source.Name); err != nil {
		return r.abort(Postcopy, "cutover", err)
	}

	full, err := r.transfer.PullStateFromPeer(ctx, dest.BaseURL, source.PeerURL, nil, nil)
	if err != nil {
		return r.abort(Postcopy, "full-copy", err)
	}

	if err := r.network.AttachAlias(ctx, dest.Name); err != nil {
		return r.abort(Postcopy, "reattach", err)
	}
	downEnd := r.now()

	// Clients are already served by the destination; reconcile writes
	// the source accepted between cutover and reattach. The loop result
	// is only read after the goroutine has finished, so no locking is
	// needed.
	resync := r.resyncLoop(ctx, source, dest)

	bytes := full.StateSizeBytes + resync.totalBytes
	consistency, err := r.reconcile(ctx, source, dest, bytes)
	if err != nil {
		return r.abort(Postcopy, "reconcile", err)
	}
	totalEnd := r.now()

	r.cfg.Logger.Info("postcopy resync finished",
		"iterations", resync.iterations, "resync_bytes", resync.totalBytes)

	return Report{
		Strategy:    Postcopy,
		Total:       NewWindow(totalStart, totalEnd),
		Downtime:    NewWindow(downStart, downEnd),
		Consistency: consistency,
	}, nil
}

// runCold: detach -> full-copy -> reattach, strictly serial.
func (r *Runner) runCold(ctx context.Context, source, dest Replica) (Report, error) {
	totalStart := r.now()
	if err := r.prepare(ctx, Cold, source, dest); err != nil {
		return r.abort(Cold, "prepare", err)
	}

	downStart := r.now()
	if err := r.network.DetachAlias(ctx, source.Name); err != nil {
		return r.abort(Cold, "detach", err)
	}

	snap, err := r.transfer.FetchState(ctx, source.BaseURL)
	if err != nil {
		return r.abort(Cold, "full-copy", err)
	}
	bytes, err := r.transfer.PushState(ctx, dest.BaseURL, snap)
	if err != nil {
		return r.abort(Cold, "full-copy", err)
	}

	if err := r.network.AttachAlias(ctx, dest.Name); err != nil {
		return r.abort(Cold, "reattach", err)
	}
	downEnd := r.now()

	consistency, err := r.reconcile(ctx, source, dest, bytes)
	if err != nil {
		return r.abort(Cold, "reconcile", err)
	}
	totalEnd := r.now()

	return Report{
		Strategy:    Cold,
		Total:       NewWindow(totalStart, totalEnd),
		Downtime:    NewWindow(downStart, downEnd),
		Consistency: consistency,
	}, nil
}

// reconcile reads both counters after migration completed.
func (r *Runner) reconcile(ctx context.Context, source, dest Replica, bytesTransferred int) (Consistency, error) {
	srcMeta, err := r.transfer.FetchStateMeta(ctx, source.BaseURL)
	if err != nil {
		return Consistency{}, fmt.Errorf("source meta: %w", err)
	}
	dstMeta, err := r.transfer.FetchStateMeta(ctx, dest.BaseURL)
	if err != nil {
		return Consistency{}, fmt.Errorf("destination meta: %w", err)
	}
	return ComputeConsistency(srcMeta.Counter, dstMeta.Counter, bytesTransferred), nil
}

// resyncResult is handed back through the join channel; the commit point
// is the last completed iteration, not the deadline itself.
type resyncResult struct {
	iterations int
	lastBytes  int
	totalBytes int
}

// resyncLoop repeatedly re-copies the source state to the destination
// until the wall-clock deadline set at entry expires. Individual
// iteration failures are logged and skipped; the loop is best effort.
func (r *Runner) resyncLoop(ctx context.Context, source, dest Replica) resyncResult {
	done := make(chan resyncResult, 1)
	go func() {
		var res resyncResult
		deadline := time.Now().Add(r.cfg.ResyncWindow)
		ticker := time.NewTicker(r.cfg.ResyncInterval)
		defer ticker.Stop()
		for time.Now().Before(deadline) {
			snap, err := r.transfer.FetchState(ctx, source.BaseURL)
			if err != nil {
				r.cfg.Logger.Warn("resync fetch failed", "error", err)
			} else if n, err := r.transfer.PushState(ctx, dest.BaseURL, snap); err != nil {
				r.cfg.Logger.Warn("resync push failed", "error", err)
			} else {
				res.iterations++
				res.lastBytes = n
				res.totalBytes += n
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				done <- res
				return
			}
		}
		done <- res
	}()
	return <-done
}
