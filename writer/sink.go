package writer

import (
	"context"
	"fmt"

	"marketfeed/models"
)

// Stream names used in sink errors, metrics and logs.
const (
	StreamOrderBook = "order_book"
	StreamTrades    = "trades"
)

// Sink receives accepted order books and trades. Implementations must be
// safe for concurrent use; gateways call them from many workers.
type Sink interface {
	Name() string
	InsertOrderBookSnapshot(ctx context.Context, id models.InstrumentID, depth models.L2Depth, seq int64) error
	InsertTrade(ctx context.Context, id models.InstrumentID, trade models.Trade, seq int64) error
}

// SinkError is returned by a sink that could not store a record.
type SinkError struct {
	Sink   string
	Stream string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %s insert failed: %v", e.Sink, e.Stream, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
