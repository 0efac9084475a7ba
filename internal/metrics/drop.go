package metrics

import "marketfeed/logger"

// DropMetric identifies the metric name emitted when buffered records are dropped.
type DropMetric string

const (
	// DropMetricStreamTrades records trade frames evicted from a full stream buffer.
	DropMetricStreamTrades DropMetric = "stream_trades_dropped"
	// DropMetricSnapshotRecords records rows rejected by a full snapshot writer buffer.
	DropMetricSnapshotRecords DropMetric = "snapshot_records_dropped"
)

// EmitDropMetric logs and emits a metric for one dropped record. Exchange,
// instrument and stage are attached when set.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, instrument, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if instrument != "" {
		fields["instrument"] = instrument
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "buffer_drops", string(metric), 1, "counter", fields)
}
