// Writer implementation printing run metrics to STDOUT
package bench

import (
	"encoding/json"
	"fmt"

	"migbench/internal/metrics"
)

// StdoutWriter prints metrics records as JSON lines.
type StdoutWriter struct{}

// WriteMetrics outputs a single metrics record.
func (w *StdoutWriter) WriteMetrics(m metrics.Metrics) error {
	data, _ := json.Marshal(m)
	fmt.Println(string(data))
	return nil
}
