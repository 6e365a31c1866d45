package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"migbench/internal/bench"
	"migbench/internal/config"
	"migbench/internal/dockerrun"
	"migbench/internal/logging"
	"migbench/internal/migration"
	"migbench/internal/transfer"
)

var (
	sweepConfigPath string
	sweepSchemaPath string
	sweepPrintOnly  bool
	sweepAppDir     string
	sweepStrategies []string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a payload size sweep",
	Long:  "sweep repeats the benchmark for every configured payload size, and optionally for every given strategy, appending all results to one CSV file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseCfg, err := config.Load(sweepConfigPath, sweepSchemaPath)
		if err != nil {
			return err
		}

		strategies := sweepStrategies
		if len(strategies) == 0 {
			strategies = []string{baseCfg.Migration.Strategy}
		}
		for _, s := range strategies {
			if _, err := migration.ParseStrategy(s); err != nil {
				return err
			}
		}
		sizes := baseCfg.Sweep.PayloadSizes
		if len(sizes) == 0 {
			sizes = []int{baseCfg.Clients.PayloadBytes}
		}

		logger := logging.New()
		writer, err := newWriters(baseCfg, sweepPrintOnly)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		sweepID := uuid.New().String()[:8]
		// images are built once, before the first run
		appDir := sweepAppDir
		var failed []string
		for _, strategy := range strategies {
			for _, size := range sizes {
				cfg := *baseCfg
				cfg.Migration.Strategy = strategy
				cfg.Clients.PayloadBytes = size
				cfg.General.RunID = fmt.Sprintf("%s-%s-%s-p%d", baseCfg.General.RunID, sweepID, strategy, size)

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

				o := bench.NewOrchestrator(&cfg, mgr, transfer.New(0), writer, bench.Options{
					AppDir: appDir,
					Logger: logger,
				})
				appDir = ""
				logger.Info("sweep run starting", "run_id", cfg.General.RunID)
				m, err := o.Run(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Error("sweep run failed", "run_id", cfg.General.RunID, "error", err)
					failed = append(failed, cfg.General.RunID)
					continue
				}
				logger.Info("sweep run finished",
					"run_id", m.RunID,
					"downtime_ms", m.ClientDowntimeMS,
					"loss_pct", m.PacketLossPct)
			}
		}

		if len(failed) > 0 {
			return fmt.Errorf("%d sweep runs failed: %s", len(failed), strings.Join(failed, ", "))
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepConfigPath, "config", "configs/benchmark.yaml", "Path to benchmark configuration YAML")
	sweepCmd.Flags().StringVar(&sweepSchemaPath, "schema", "schemas/benchmark.cue", "Path to CUE schema file")
	sweepCmd.Flags().BoolVar(&sweepPrintOnly, "print-only", false, "Print metrics to STDOUT instead of writing to DB")
	sweepCmd.Flags().StringVar(&sweepAppDir, "app-dir", "", "Build server and client images from this directory before the first run")
	sweepCmd.Flags().StringSliceVar(&sweepStrategies, "strategies", nil, "Strategies to sweep (defaults to the configured one)")
}
