package gateway

import (
	"context"
	"time"

	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/writer"
)

// PollOrderBook runs one order book cycle: fetch, parse, compare against the
// current ladder and, when it changed, rotate and emit.
func (g *Gateway) PollOrderBook(ctx context.Context, inst *models.Instrument) (res CycleResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = panicked(writer.StreamOrderBook, r)
		}
		res.Duration = time.Since(start)
	}()
	return g.pollOrderBook(ctx, inst)
}

func (g *Gateway) pollOrderBook(ctx context.Context, inst *models.Instrument) CycleResult {
	id := inst.InstrumentID

	fetchCtx, cancel := context.WithTimeout(ctx, g.settings.FetchTimeout)
	raw, err := g.exchange.FetchOrderBookRaw(fetchCtx, id)
	cancel()
	if err != nil {
		return failure(writer.StreamOrderBook, err)
	}
	if raw == nil {
		return CycleResult{Stream: writer.StreamOrderBook, Outcome: OutcomeEmpty}
	}

	depth, err := g.exchange.ParseOrderBook(id, raw)
	if err != nil {
		return failure(writer.StreamOrderBook, err)
	}

	if !inst.Book.IsDiff(depth) {
		return CycleResult{Stream: writer.StreamOrderBook, Outcome: OutcomeUnchanged}
	}

	seq := inst.Book.Rotate(depth)
	metrics.SetSequence(id.Exchange, id.Name, writer.StreamOrderBook, seq)
	failed := g.emitBook(ctx, id, depth, seq)
	return CycleResult{
		Stream:       writer.StreamOrderBook,
		Outcome:      OutcomeEmitted,
		Emitted:      1,
		SinkFailures: failed,
	}
}

func (g *Gateway) runOrderBook(ctx context.Context, inst *models.Instrument) {
	defer g.wg.Done()
	log := g.log.WithComponent("gateway").WithStream(inst.Exchange, inst.Name).WithFields(logger.Fields{
		"worker": writer.StreamOrderBook,
	})
	log.Info("order book worker started")

	for {
		if ctx.Err() != nil {
			break
		}
		res := g.PollOrderBook(ctx, inst)
		g.logCycle(inst.InstrumentID, res)
		if !sleep(ctx, g.settings.OrderBookInterval) {
			break
		}
	}
	log.Info("worker stopped due to context cancellation")
}
