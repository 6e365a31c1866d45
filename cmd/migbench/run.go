package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"migbench/internal/bench"
	"migbench/internal/config"
	"migbench/internal/dockerrun"
	"migbench/internal/logging"
	"migbench/internal/migration"
	"migbench/internal/transfer"
)

var (
	runConfigPath string
	runSchemaPath string
	runPrintOnly  bool
	runTUI        bool
	runAppDir     string
	runStrategy   string
	runID         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one migration benchmark",
	Long:  "run provisions the benchmark topology, migrates the service once under load and records the resulting metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		if runStrategy != "" {
			if _, err := migration.ParseStrategy(runStrategy); err != nil {
				return err
			}
			cfg.Migration.Strategy = runStrategy
		}
		if runID != "" {
			cfg.General.RunID = runID
		}

		logger := logging.New()
		writer, err := newWriters(cfg, runPrintOnly)
		if err != nil {
			return err
		}

		var obs bench.Observer = bench.NopObserver{}
		if runTUI {
			tui := bench.NewTUIView(cfg)
			defer tui.Close()
			obs = tui
		}

		mgr, err := dockerrun.NewManager(dockerrun.Options{
			NetworkName:  cfg.Servers.NetworkName,
			ServiceAlias: cfg.Servers.ServiceAlias,
			ImageServer:  cfg.Servers.ImageServer,
			ImageClient:  cfg.Servers.ImageClient,
			Port:         cfg.Servers.Port,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		o := bench.NewOrchestrator(cfg, mgr, transfer.New(0), writer, bench.Options{
			AppDir:   runAppDir,
			Observer: obs,
			Logger:   logger,
		})
		m, err := o.Run(ctx)
		if err != nil {
			logger.Error("benchmark run failed", "run_id", cfg.General.RunID, "error", err)
			return err
		}
		logger.Info("benchmark run finished",
			"run_id", m.RunID,
			"strategy", m.Strategy,
			"downtime_ms", m.ClientDowntimeMS,
			"loss_pct", m.PacketLossPct,
			"state_diff", m.StateDiff)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "configs/benchmark.yaml", "Path to benchmark configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/benchmark.cue", "Path to CUE schema file")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print metrics to STDOUT instead of writing to DB")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Render run progress in a terminal UI")
	runCmd.Flags().StringVar(&runAppDir, "app-dir", "", "Build server and client images from this directory first")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Override the configured migration strategy (precopy, postcopy, cold)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Override the configured run ID")
}
