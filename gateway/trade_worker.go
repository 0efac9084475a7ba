package gateway

import (
	"context"
	"time"

	"marketfeed/adapter"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/writer"
)

// PollTrades runs one trade cycle. The whole list is parsed before any
// state changes, so a malformed entry leaves the watermark, the sequence and
// the recovered flag untouched. Accepted trades are then filtered against the
// watermark in list order; each accepted trade raises the watermark before
// the next one is compared, so a smaller id that follows a larger one is
// skipped.
func (g *Gateway) PollTrades(ctx context.Context, inst *models.Instrument) (res CycleResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = panicked(writer.StreamTrades, r)
		}
		res.Duration = time.Since(start)
	}()
	return g.pollTrades(ctx, inst)
}

func (g *Gateway) pollTrades(ctx context.Context, inst *models.Instrument) CycleResult {
	id := inst.InstrumentID

	fetchCtx, cancel := context.WithTimeout(ctx, g.settings.FetchTimeout)
	list, err := g.exchange.FetchTradesRaw(fetchCtx, id)
	cancel()
	if err != nil {
		return failure(writer.StreamTrades, err)
	}

	trades := make([]models.Trade, 0, len(list))
	for _, raw := range list {
		trade, err := g.exchange.ParseTrade(id, raw)
		if err != nil {
			return failure(writer.StreamTrades, err)
		}
		trades = append(trades, trade)
	}

	if inst.Trades.MarkRecovered() {
		g.log.WithComponent("gateway").WithStream(id.Exchange, id.Name).Info("trade feed recovered")
	}

	if len(trades) == 0 {
		return CycleResult{Stream: writer.StreamTrades, Outcome: OutcomeEmpty}
	}

	res := CycleResult{Stream: writer.StreamTrades, Outcome: OutcomeUnchanged}
	for _, trade := range trades {
		newer, err := adapter.NewerTradeID(trade.TradeID, inst.Trades.LastTradeID())
		if err != nil || !newer {
			continue
		}

		seq := inst.Trades.Accept(trade.TradeID)
		metrics.SetSequence(id.Exchange, id.Name, writer.StreamTrades, seq)
		res.SinkFailures += g.emitTrade(ctx, id, trade, seq)
		res.Emitted++
		res.Outcome = OutcomeEmitted
	}
	return res
}

func (g *Gateway) runTrades(ctx context.Context, inst *models.Instrument) {
	defer g.wg.Done()
	log := g.log.WithComponent("gateway").WithStream(inst.Exchange, inst.Name).WithFields(logger.Fields{
		"worker": writer.StreamTrades,
	})
	log.Info("trade worker started")

	for {
		if ctx.Err() != nil {
			break
		}
		res := g.PollTrades(ctx, inst)
		g.logCycle(inst.InstrumentID, res)

		delay := g.settings.TradeInterval
		if res.Outcome == OutcomeEmpty {
			delay = g.settings.EmptyTradeRetry
		}
		if !sleep(ctx, delay) {
			break
		}
	}
	log.Info("worker stopped due to context cancellation")
}
