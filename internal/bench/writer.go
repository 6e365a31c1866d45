package bench

import "migbench/internal/metrics"

// MetricsWriter is an interface to support different result sinks.
type MetricsWriter interface {
	WriteMetrics(metrics.Metrics) error
}

// MultiWriter fan-outs metrics to multiple writers.
type MultiWriter struct {
	writers []MetricsWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(writers ...MetricsWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteMetrics sends the metrics record to all writers.
func (mw *MultiWriter) WriteMetrics(m metrics.Metrics) error {
	for _, w := range mw.writers {
		if err := w.WriteMetrics(m); err != nil {
			return err
		}
	}
	return nil
}
