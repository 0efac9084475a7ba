package writer

import (
	"context"

	"marketfeed/internal/symbols"
	"marketfeed/logger"
	"marketfeed/models"
)

// LogWriter prints every record through the structured logger.
type LogWriter struct {
	log *logger.Log
}

func NewLogWriter(log *logger.Log) *LogWriter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogWriter{log: log}
}

func (w *LogWriter) Name() string { return "log" }

func (w *LogWriter) InsertOrderBookSnapshot(_ context.Context, id models.InstrumentID, depth models.L2Depth, seq int64) error {
	rec := models.NewOrderBookRecord(id, symbols.Normalize(id.Exchange, id.Code), depth, seq)
	w.log.WithComponent("log_sink").WithFields(logger.Fields{
		"stream_id": id.StreamID(),
		"table":     models.SnapshotTableName(id.Exchange, id.Name),
		"sequence":  rec.Sequence,
		"timestamp": rec.Timestamp,
		"bids":      rec.Bids,
		"asks":      rec.Asks,
	}).Info("order book snapshot")
	return nil
}

func (w *LogWriter) InsertTrade(_ context.Context, id models.InstrumentID, trade models.Trade, seq int64) error {
	rec := models.NewTradeRecord(id, symbols.Normalize(id.Exchange, id.Code), trade, seq)
	w.log.WithComponent("log_sink").WithFields(logger.Fields{
		"stream_id": id.StreamID(),
		"table":     models.TradesTableName(id.Exchange, id.Name),
		"sequence":  rec.Sequence,
		"timestamp": rec.Timestamp,
		"trade_id":  rec.TradeID,
		"side":      rec.Side.String(),
		"price":     rec.Price,
		"volume":    rec.Volume,
	}).Info("trade")
	return nil
}
