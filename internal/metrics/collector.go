// Metrics collector deriving run metrics from client telemetry
package metrics

import (
	"math"

	"migbench/internal/migration"
)

// Metrics is the aggregate record of one benchmark run. It is derived
// once from the telemetry and the migration report and persisted as a
// CSV row or a TSDB row afterwards.
type Metrics struct {
	RunID    string `json:"run_id" csv:"run_id"`
	Strategy string `json:"strategy" csv:"strategy"`

	MigrationTimeMS         float64 `json:"migration_time_ms" csv:"migration_time_ms"`
	ClientDowntimeMS        float64 `json:"client_downtime_ms" csv:"client_downtime_ms"`
	InitialCopyMS           float64 `json:"initial_copy_ms" csv:"initial_copy_ms"`
	LatencyBeforeDowntimeMS float64 `json:"latency_before_downtime_ms" csv:"latency_before_downtime_ms"`

	LatencyAvgPreMS    float64 `json:"latency_avg_pre_ms" csv:"latency_avg_pre_ms"`
	LatencyAvgDuringMS float64 `json:"latency_avg_during_ms" csv:"latency_avg_during_ms"`
	LatencyAvgPostMS   float64 `json:"latency_avg_post_ms" csv:"latency_avg_post_ms"`

	PacketLossPct     int `json:"packet_loss_pct" csv:"packet_loss_pct"`
	TotalPackets      int `json:"total_packets" csv:"total_packets"`
	SuccessfulPackets int `json:"successful_packets" csv:"successful_packets"`

	StateDiff      int `json:"state_diff" csv:"state_diff"`
	StateSizeBytes int `json:"state_size_bytes" csv:"state_size_bytes"`
}

// Partition groups telemetry records relative to the downtime window by
// send timestamp.
type Partition struct {
	Pre    []Record
	During []Record
	Post   []Record
}

// PartitionByWindow splits records into pre, during and post relative to
// the closed window [start, end].
func PartitionByWindow(records []Record, w migration.Window) Partition {
	var p Partition
	for _, r := range records {
		switch {
		case r.SendTS < w.StartTS:
			p.Pre = append(p.Pre, r)
		case r.SendTS > w.EndTS:
			p.Post = append(p.Post, r)
		default:
			p.During = append(p.During, r)
		}
	}
	return p
}

// Collect derives the aggregate metrics for one run. It is a pure
// function of its inputs: running it twice over the same telemetry and
// report yields identical output.
func Collect(runID string, records []Record, rep migration.Report) Metrics {
	p := PartitionByWindow(records, rep.Downtime)

	m := Metrics{
		RunID:              runID,
		Strategy:           string(rep.Strategy),
		MigrationTimeMS:    rep.Total.DurationMS(),
		InitialCopyMS:      rep.InitialCopy.DurationMS(),
		LatencyAvgPreMS:    meanRTT(p.Pre),
		LatencyAvgDuringMS: meanRTT(p.During),
		LatencyAvgPostMS:   meanRTT(p.Post),
		StateDiff:          rep.Consistency.Diff,
		StateSizeBytes:     rep.Consistency.StateSizeBytes,
	}
	// an aborted run carries a zero window; no downtime can be read off it
	if !rep.Downtime.IsZero() {
		m.ClientDowntimeMS = downtime(p, rep.Downtime) * 1000
	}

	if last, ok := lastOK(p.Pre); ok {
		gap := rep.Downtime.StartTS - last.SendTS
		if gap < 0 {
			gap = 0
		}
		m.LatencyBeforeDowntimeMS = gap * 1000
	}

	if n := len(p.During); n > 0 {
		lost := 0
		for _, r := range p.During {
			if !r.OK() {
				lost++
			}
		}
		m.PacketLossPct = int(math.Round(float64(lost) / float64(n) * 100))
	}

	m.TotalPackets = len(records)
	for _, r := range records {
		if r.OK() {
			m.SuccessfulPackets++
		}
	}
	return m
}

// downtime approximates the client-observed outage as the gap between
// the last success before the window and the first success after it.
// With no success on either side the window boundary itself substitutes,
// so sparse telemetry degrades gracefully and the result is never
// negative.
func downtime(p Partition, w migration.Window) float64 {
	lastOKTS := w.StartTS
	if r, ok := lastOK(p.Pre); ok {
		lastOKTS = r.SendTS
	}
	firstOKTS := w.EndTS
	if r, ok := firstOK(p.Post); ok {
		firstOKTS = r.SendTS
	}
	d := firstOKTS - lastOKTS
	if d < 0 {
		return 0
	}
	return d
}

func lastOK(records []Record) (Record, bool) {
	var best Record
	found := false
	for _, r := range records {
		if r.OK() && (!found || r.SendTS > best.SendTS) {
			best, found = r, true
		}
	}
	return best, found
}

func firstOK(records []Record) (Record, bool) {
	var best Record
	found := false
	for _, r := range records {
		if r.OK() && (!found || r.SendTS < best.SendTS) {
			best, found = r, true
		}
	}
	return best, found
}

func meanRTT(records []Record) float64 {
	sum, n := 0.0, 0
	for _, r := range records {
		if r.OK() && r.RTTms != nil {
			sum += *r.RTTms
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
