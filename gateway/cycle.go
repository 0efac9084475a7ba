package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketfeed/adapter"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/writer"
)

// ErrCyclePanic wraps a panic recovered inside a polling cycle.
var ErrCyclePanic = errors.New("cycle panicked")

// Outcome is how a polling cycle ended.
type Outcome string

const (
	OutcomeEmitted   Outcome = "emitted"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
	OutcomeMalformed Outcome = "malformed"
)

// CycleResult is the structured result of one worker cycle. Emitted counts
// accepted updates; SinkFailures counts failed sink calls for them.
type CycleResult struct {
	Stream       string
	Outcome      Outcome
	Emitted      int
	SinkFailures int
	Err          error
	Duration     time.Duration
}

func failure(stream string, err error) CycleResult {
	var mre *adapter.MalformedResponseError
	if errors.As(err, &mre) {
		return CycleResult{Stream: stream, Outcome: OutcomeMalformed, Err: err}
	}
	return CycleResult{Stream: stream, Outcome: OutcomeFailed, Err: err}
}

// panicked turns a recovered panic from a source, parser or sink into a
// failed cycle so the worker keeps polling.
func panicked(stream string, r interface{}) CycleResult {
	return CycleResult{Stream: stream, Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %v", ErrCyclePanic, r)}
}

// emitBook hands a snapshot to every sink. Failures are logged and counted;
// they never undo the state change.
func (g *Gateway) emitBook(ctx context.Context, id models.InstrumentID, depth models.L2Depth, seq int64) int {
	failed := 0
	for _, s := range g.sinks {
		if err := s.InsertOrderBookSnapshot(ctx, id, depth, seq); err != nil {
			failed++
			g.logSinkError(id, &writer.SinkError{Sink: s.Name(), Stream: writer.StreamOrderBook, Err: err}, seq)
		}
	}
	return failed
}

func (g *Gateway) emitTrade(ctx context.Context, id models.InstrumentID, trade models.Trade, seq int64) int {
	failed := 0
	for _, s := range g.sinks {
		if err := s.InsertTrade(ctx, id, trade, seq); err != nil {
			failed++
			g.logSinkError(id, &writer.SinkError{Sink: s.Name(), Stream: writer.StreamTrades, Err: err}, seq)
		}
	}
	return failed
}

func (g *Gateway) logSinkError(id models.InstrumentID, err *writer.SinkError, seq int64) {
	metrics.IncSinkError(err.Sink, err.Stream)
	g.log.WithComponent("gateway").WithStream(id.Exchange, id.Name).WithFields(logger.Fields{
		"stream":     err.Stream,
		"sink":       err.Sink,
		"sequence":   seq,
		"error_kind": "sink",
	}).WithError(err).Warn("sink insert failed")
}

// logCycle logs the outcome and reports it to the metrics package.
func (g *Gateway) logCycle(id models.InstrumentID, res CycleResult) {
	metrics.ObserveCycle(id.Exchange, id.Name, res.Stream, string(res.Outcome), res.Emitted, res.Duration)

	log := g.log.WithComponent("gateway").WithStream(id.Exchange, id.Name).WithFields(logger.Fields{
		"stream":      res.Stream,
		"outcome":     string(res.Outcome),
		"duration_ms": res.Duration.Milliseconds(),
	})

	switch res.Outcome {
	case OutcomeFailed:
		log.WithFields(logger.Fields{"error_kind": "fetch"}).WithError(res.Err).Warn("fetch failed")
	case OutcomeMalformed:
		fields := logger.Fields{"error_kind": "malformed", "emitted": res.Emitted}
		var mre *adapter.MalformedResponseError
		if errors.As(res.Err, &mre) {
			fields["field"] = mre.Field
			fields["payload"] = mre.Payload
		}
		log.WithFields(fields).WithError(res.Err).Error("malformed exchange response")
	case OutcomeEmitted:
		log.WithFields(logger.Fields{
			"emitted":       res.Emitted,
			"sink_failures": res.SinkFailures,
		}).Debug("cycle emitted updates")
		for _, s := range g.sinks {
			logger.LogDataFlowEntry(log, g.exchange.Name(), s.Name(), res.Emitted, res.Stream)
		}
	default:
		log.Debug("cycle completed")
	}
}
