package bench

import (
	"context"
	"log"
	"time"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"migbench/internal/metrics"
)

// GreptimeDBWriter writes run metrics to GreptimeDB via the ingester client
type GreptimeDBWriter struct {
	client greptime.Client
	db     string
	table  string
}

// NewGreptimeDBWriter creates a new GreptimeDB writer and auto-creates the table if needed.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	ctx := ingesterContext.NewContext(context.Background())
	client, err := greptime.NewClient(ctx, &greptime.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS migration_metrics (
  run_id STRING TAG,
  strategy STRING TAG,
  migration_time_ms DOUBLE,
  client_downtime_ms DOUBLE,
  initial_copy_ms DOUBLE,
  latency_before_downtime_ms DOUBLE,
  packet_loss_pct BIGINT,
  total_packets BIGINT,
  successful_packets BIGINT,
  state_diff BIGINT,
  state_size_bytes BIGINT,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='90d')
`
	if _, err := client.SQL(ctx, ddl); err != nil {
		return nil, err
	}

	return &GreptimeDBWriter{
		client: client,
		db:     database,
		table:  "migration_metrics",
	}, nil
}

// WriteMetrics inserts one run metrics row.
func (w *GreptimeDBWriter) WriteMetrics(m metrics.Metrics) error {
	ctx := ingesterContext.NewContext(context.Background())

	tbl := table.New(w.table)
	tbl.AddTagColumn("run_id", types.StringType, 0)
	tbl.AddTagColumn("strategy", types.StringType, 0)
	tbl.AddFieldColumn("migration_time_ms", types.Float64Type)
	tbl.AddFieldColumn("client_downtime_ms", types.Float64Type)
	tbl.AddFieldColumn("initial_copy_ms", types.Float64Type)
	tbl.AddFieldColumn("latency_before_downtime_ms", types.Float64Type)
	tbl.AddFieldColumn("packet_loss_pct", types.Int64Type)
	tbl.AddFieldColumn("total_packets", types.Int64Type)
	tbl.AddFieldColumn("successful_packets", types.Int64Type)
	tbl.AddFieldColumn("state_diff", types.Int64Type)
	tbl.AddFieldColumn("state_size_bytes", types.Int64Type)
	tbl.SetTimeIndex("ts", types.TimestampType)

	tbl.AppendTagValue("run_id", m.RunID)
	tbl.AppendTagValue("strategy", m.Strategy)
	tbl.AppendFieldValue("migration_time_ms", m.MigrationTimeMS)
	tbl.AppendFieldValue("client_downtime_ms", m.ClientDowntimeMS)
	tbl.AppendFieldValue("initial_copy_ms", m.InitialCopyMS)
	tbl.AppendFieldValue("latency_before_downtime_ms", m.LatencyBeforeDowntimeMS)
	tbl.AppendFieldValue("packet_loss_pct", int64(m.PacketLossPct))
	tbl.AppendFieldValue("total_packets", int64(m.TotalPackets))
	tbl.AppendFieldValue("successful_packets", int64(m.SuccessfulPackets))
	tbl.AppendFieldValue("state_diff", int64(m.StateDiff))
	tbl.AppendFieldValue("state_size_bytes", int64(m.StateSizeBytes))
	tbl.AppendTimeIndex(time.Now())

	if err := w.client.Write(ctx, w.db, []*table.Table{tbl}); err != nil {
		log.Printf("[GreptimeDBWriter] Write failed: %v", err)
		return err
	}
	return nil
}
