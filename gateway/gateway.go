package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	simplejson "github.com/bitly/go-simplejson"

	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/writer"
)

// Exchange is the adapter surface a gateway polls. adapter.Adapter
// implements it; tests substitute scripted fakes.
type Exchange interface {
	Name() string
	FetchOrderBookRaw(ctx context.Context, id models.InstrumentID) (*simplejson.Json, error)
	FetchTradesRaw(ctx context.Context, id models.InstrumentID) ([]*simplejson.Json, error)
	ParseOrderBook(id models.InstrumentID, raw *simplejson.Json) (models.L2Depth, error)
	ParseTrade(id models.InstrumentID, raw *simplejson.Json) (models.Trade, error)
}

// Settings are the worker cadences. Zero values fall back to the defaults.
type Settings struct {
	OrderBookInterval time.Duration
	TradeInterval     time.Duration
	EmptyTradeRetry   time.Duration
	FetchTimeout      time.Duration
}

const (
	DefaultOrderBookInterval = 30 * time.Second
	DefaultTradeInterval     = 300 * time.Second
	DefaultEmptyTradeRetry   = time.Second
	DefaultFetchTimeout      = 10 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.OrderBookInterval <= 0 {
		s.OrderBookInterval = DefaultOrderBookInterval
	}
	if s.TradeInterval <= 0 {
		s.TradeInterval = DefaultTradeInterval
	}
	if s.EmptyTradeRetry <= 0 {
		s.EmptyTradeRetry = DefaultEmptyTradeRetry
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = DefaultFetchTimeout
	}
	return s
}

// Gateway runs an order book worker and a trade worker for every instrument
// of one exchange and forwards accepted updates to its sinks.
type Gateway struct {
	exchange Exchange
	sinks    []writer.Sink
	settings Settings
	log      *logger.Log

	mu          sync.RWMutex
	running     bool
	instruments []*models.Instrument
	wg          sync.WaitGroup
}

// New creates a gateway. Sinks are called in the order given.
func New(exchange Exchange, sinks []writer.Sink, settings Settings, log *logger.Log) *Gateway {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Gateway{
		exchange: exchange,
		sinks:    append([]writer.Sink(nil), sinks...),
		settings: settings.withDefaults(),
		log:      log,
	}
}

func (g *Gateway) Name() string { return g.exchange.Name() }

func (g *Gateway) Settings() Settings { return g.settings }

// Start spawns two workers per instrument. Workers run until ctx is
// cancelled.
func (g *Gateway) Start(ctx context.Context, instruments ...*models.Instrument) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}
	g.running = true
	g.instruments = append(g.instruments, instruments...)
	g.mu.Unlock()

	log := g.log.WithComponent("gateway").WithFields(logger.Fields{
		"exchange":    g.exchange.Name(),
		"instruments": len(instruments),
		"operation":   "start",
	})
	log.Info("starting gateway")

	for _, inst := range instruments {
		g.wg.Add(2)
		go g.runOrderBook(ctx, inst)
		go g.runTrades(ctx, inst)
	}

	log.Info("gateway started successfully")
	return nil
}

// Stop waits for every worker to return. Cancel the context passed to Start
// first.
func (g *Gateway) Stop() {
	g.log.WithComponent("gateway").WithFields(logger.Fields{"exchange": g.exchange.Name()}).Info("stopping gateway")
	g.wg.Wait()

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
	g.log.WithComponent("gateway").WithFields(logger.Fields{"exchange": g.exchange.Name()}).Info("gateway stopped")
}

// Instruments returns the instruments handed to Start.
func (g *Gateway) Instruments() []*models.Instrument {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*models.Instrument(nil), g.instruments...)
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
