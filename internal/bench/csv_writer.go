package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"migbench/internal/metrics"
)

var csvHeader = []string{
	"run_id", "strategy",
	"migration_time_ms", "client_downtime_ms", "initial_copy_ms", "latency_before_downtime_ms",
	"latency_avg_pre_ms", "latency_avg_during_ms", "latency_avg_post_ms",
	"packet_loss_pct", "total_packets", "successful_packets",
	"state_diff", "state_size_bytes",
}

// CSVWriter appends one row per run to a results CSV file, writing the
// header when the file is created. Appending lets a sweep accumulate all
// runs in one file.
type CSVWriter struct {
	path string
}

// NewCSVWriter creates the results directory if needed.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &CSVWriter{path: path}, nil
}

// Path returns the output file path.
func (w *CSVWriter) Path() string { return w.path }

// WriteMetrics appends the metrics record as one CSV row.
func (w *CSVWriter) WriteMetrics(m metrics.Metrics) error {
	_, statErr := os.Stat(w.path)
	newFile := os.IsNotExist(statErr)

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if newFile {
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
	}
	row := []string{
		m.RunID, m.Strategy,
		fmtFloat(m.MigrationTimeMS), fmtFloat(m.ClientDowntimeMS),
		fmtFloat(m.InitialCopyMS), fmtFloat(m.LatencyBeforeDowntimeMS),
		fmtFloat(m.LatencyAvgPreMS), fmtFloat(m.LatencyAvgDuringMS), fmtFloat(m.LatencyAvgPostMS),
		strconv.Itoa(m.PacketLossPct), strconv.Itoa(m.TotalPackets), strconv.Itoa(m.SuccessfulPackets),
		strconv.Itoa(m.StateDiff), strconv.Itoa(m.StateSizeBytes),
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
