package main

import (
	"os"
	"path/filepath"

	"migbench/internal/bench"
	"migbench/internal/config"
)

// newWriters sets up metric sinks based on flags and env vars. Results
// always land in the CSV file; GreptimeDB is added when an endpoint is
// configured and printOnly is off.
func newWriters(cfg *config.Config, printOnly bool) (bench.MetricsWriter, error) {
	cw, err := bench.NewCSVWriter(filepath.Join(cfg.General.ResultsDir, "benchmark.csv"))
	if err != nil {
		return nil, err
	}
	writers := []bench.MetricsWriter{cw}

	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if printOnly || endpoint == "" {
		writers = append(writers, &bench.StdoutWriter{})
		return bench.NewMultiWriter(writers...), nil
	}

	database := os.Getenv("GREPTIMEDB_DATABASE")
	if database == "" {
		database = "public"
	}
	gw, err := bench.NewGreptimeDBWriter(endpoint, database)
	if err != nil {
		return nil, err
	}
	writers = append(writers, gw)
	return bench.NewMultiWriter(writers...), nil
}
