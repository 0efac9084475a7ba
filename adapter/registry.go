package adapter

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var buySell = map[string]string{"buy": "buy", "sell": "sell"}

// builtinDescriptors are the exchanges known without configuration.
var builtinDescriptors = []Descriptor{
	{
		Exchange:                "JUBI_Spot",
		Class:                   "spot",
		Source:                  SourceREST,
		BaseURL:                 "https://www.jubi.com",
		BookStyle:               BookTicker,
		TimestampDivisor:        1,
		OrderBookTimestampField: "date",
		BestBidField:            "buy",
		BestAskField:            "sell",
		TradeTimestampField:     "date",
		TradeSideField:          "type",
		TradeIDField:            "tid",
		TradePriceField:         "price",
		TradeVolumeField:        "amount",
		SideValues:              buySell,
		TradesNewestFirst:       true,
		OrderBook:               Endpoint{Method: http.MethodPost, Path: "/api/v1/ticker/", Params: map[string]string{"coin": "{code}"}, Encoding: "form"},
		Trades:                  Endpoint{Method: http.MethodGet, Path: "/api/v1/orders/", Params: map[string]string{"coin": "{code}"}},
	},
	{
		Exchange:            "Bitfinex_Spot",
		Class:               "spot",
		Source:              SourceREST,
		BaseURL:             "https://api.bitfinex.com",
		BookStyle:           BookFullDepth,
		TimestampDivisor:    1,
		BidsField:           "bids",
		AsksField:           "asks",
		LevelPriceField:     "price",
		LevelVolumeField:    "amount",
		TradeTimestampField: "timestamp",
		TradeSideField:      "type",
		TradeIDField:        "tid",
		TradePriceField:     "price",
		TradeVolumeField:    "amount",
		SideValues:          buySell,
		TradesNewestFirst:   true,
		OrderBook:           Endpoint{Method: http.MethodGet, Path: "/v1/book/{code}", Params: map[string]string{"limit_bids": "{depth}", "limit_asks": "{depth}"}},
		Trades:              Endpoint{Method: http.MethodGet, Path: "/v1/trades/{code}"},
	},
	{
		Exchange:                "OKX_Spot",
		Class:                   "spot",
		Source:                  SourceREST,
		BaseURL:                 "https://www.okx.com",
		BookStyle:               BookFullDepth,
		TimestampDivisor:        1000,
		BookRoot:                []string{"data", "0"},
		TradesRoot:              []string{"data"},
		OrderBookTimestampField: "ts",
		BidsField:               "bids",
		AsksField:               "asks",
		TradeTimestampField:     "ts",
		TradeSideField:          "side",
		TradeIDField:            "tradeId",
		TradePriceField:         "px",
		TradeVolumeField:        "sz",
		SideValues:              buySell,
		TradesNewestFirst:       true,
		OrderBook:               Endpoint{Method: http.MethodGet, Path: "/api/v5/market/books", Params: map[string]string{"instId": "{code}", "sz": "{depth}"}},
		Trades:                  Endpoint{Method: http.MethodGet, Path: "/api/v5/market/trades", Params: map[string]string{"instId": "{code}", "limit": "100"}},
	},
	{
		Exchange:            "Kraken_Spot",
		Class:               "spot",
		Source:              SourceREST,
		BaseURL:             "https://api.kraken.com",
		BookStyle:           BookFullDepth,
		TimestampDivisor:    1,
		BookRoot:            []string{"result", "{code}"},
		TradesRoot:          []string{"result", "{code}"},
		BidsField:           "bids",
		AsksField:           "asks",
		TradePriceField:     "0",
		TradeVolumeField:    "1",
		TradeTimestampField: "2",
		TradeSideField:      "3",
		TradeIDField:        "6",
		SideValues:          map[string]string{"b": "buy", "s": "sell"},
		OrderBook:           Endpoint{Method: http.MethodGet, Path: "/0/public/Depth", Params: map[string]string{"pair": "{code}", "count": "{depth}"}},
		Trades:              Endpoint{Method: http.MethodGet, Path: "/0/public/Trades", Params: map[string]string{"pair": "{code}"}},
	},
	{
		Exchange:                "Kucoin_Spot",
		Class:                   "spot",
		Source:                  SourceREST,
		BaseURL:                 "https://api.kucoin.com",
		BookStyle:               BookFullDepth,
		TimestampDivisor:        1000,
		TradeTimestampDivisor:   1e9,
		BookRoot:                []string{"data"},
		TradesRoot:              []string{"data"},
		OrderBookTimestampField: "time",
		BidsField:               "bids",
		AsksField:               "asks",
		TradeTimestampField:     "time",
		TradeSideField:          "side",
		TradeIDField:            "sequence",
		TradePriceField:         "price",
		TradeVolumeField:        "size",
		SideValues:              buySell,
		OrderBook:               Endpoint{Method: http.MethodGet, Path: "/api/v1/market/orderbook/level2_20", Params: map[string]string{"symbol": "{code}"}},
		Trades:                  Endpoint{Method: http.MethodGet, Path: "/api/v1/market/histories", Params: map[string]string{"symbol": "{code}"}},
	},
	{
		Exchange:                "Gate_Spot",
		Class:                   "spot",
		Source:                  SourceREST,
		BaseURL:                 "https://api.gateio.ws",
		BookStyle:               BookFullDepth,
		TimestampDivisor:        1000,
		OrderBookTimestampField: "current",
		BidsField:               "bids",
		AsksField:               "asks",
		TradeTimestampField:     "create_time_ms",
		TradeSideField:          "side",
		TradeIDField:            "id",
		TradePriceField:         "price",
		TradeVolumeField:        "amount",
		SideValues:              buySell,
		TradesNewestFirst:       true,
		OrderBook:               Endpoint{Method: http.MethodGet, Path: "/api/v4/spot/order_book", Params: map[string]string{"currency_pair": "{code}", "limit": "{depth}"}},
		Trades:                  Endpoint{Method: http.MethodGet, Path: "/api/v4/spot/trades", Params: map[string]string{"currency_pair": "{code}"}},
	},
	{
		Exchange:                "Kucoin_Futures",
		Class:                   "futures",
		Source:                  SourceKucoin,
		BookStyle:               BookFullDepth,
		TimestampDivisor:        1e9,
		TradesRoot:              []string{"data"},
		OrderBookTimestampField: "ts",
		BidsField:               "bids",
		AsksField:               "asks",
		TradeTimestampField:     "ts",
		TradeSideField:          "side",
		TradeIDField:            "sequence",
		TradePriceField:         "price",
		TradeVolumeField:        "size",
		SideValues:              buySell,
		TradesNewestFirst:       true,
	},
	binanceDescriptor("Binance_Spot", "spot"),
	binanceDescriptor("Binance_Futures", "futures"),
	bybitDescriptor("Bybit_Spot", "spot"),
	{
		Exchange:            "Binance_Stream",
		Class:               "spot",
		Source:              SourceStream,
		BookStyle:           BookFullDepth,
		TimestampDivisor:    1000,
		BidsField:           "bids",
		AsksField:           "asks",
		TradeTimestampField: "T",
		TradeSideField:      "m",
		TradeIDField:        "t",
		TradePriceField:     "p",
		TradeVolumeField:    "q",
		SideValues:          map[string]string{"true": "sell", "false": "buy"},
		Stream: StreamSettings{
			URL:         "wss://stream.binance.com:9443/stream?streams={lcode}@depth{depth}@1000ms/{lcode}@trade",
			DepthSuffix: "@depth",
			TradeSuffix: "@trade",
			TradeBuffer: defaultTradeBuffer,
		},
	},
}

// Binance reports the maker side; a buyer maker means the aggressor sold.
func binanceDescriptor(name, class string) Descriptor {
	return Descriptor{
		Exchange:            name,
		Class:               class,
		Source:              SourceBinance,
		BookStyle:           BookFullDepth,
		TimestampDivisor:    1000,
		BidsField:           "bids",
		AsksField:           "asks",
		TradeTimestampField: "time",
		TradeSideField:      "isBuyerMaker",
		TradeIDField:        "id",
		TradePriceField:     "price",
		TradeVolumeField:    "qty",
		SideValues:          map[string]string{"true": "sell", "false": "buy"},
	}
}

func bybitDescriptor(name, class string) Descriptor {
	return Descriptor{
		Exchange:                name,
		Class:                   class,
		Source:                  SourceBybit,
		BookStyle:               BookFullDepth,
		TimestampDivisor:        1000,
		TradesRoot:              []string{"list"},
		OrderBookTimestampField: "ts",
		BidsField:               "b",
		AsksField:               "a",
		TradeTimestampField:     "time",
		TradeSideField:          "side",
		TradeIDField:            "execId",
		TradePriceField:         "price",
		TradeVolumeField:        "size",
		SideValues:              buySell,
		TradesNewestFirst:       true,
	}
}

// Registry holds the descriptors the process knows about.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns a registry preloaded with the built-in exchanges.
func NewRegistry() *Registry {
	r := &Registry{descriptors: make(map[string]Descriptor, len(builtinDescriptors))}
	for _, d := range builtinDescriptors {
		r.descriptors[d.Exchange] = d
	}
	return r
}

// Register adds or replaces a descriptor after validating it.
func (r *Registry) Register(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.descriptors[desc.Exchange] = desc
	r.mu.Unlock()
	return nil
}

// Lookup returns the descriptor for exchange or ErrUnknownExchange.
func (r *Registry) Lookup(exchange string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[exchange]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	return d, nil
}

// Exchanges lists the registered exchange names in sorted order.
func (r *Registry) Exchanges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceOptions are the shared resources used to build a source.
type SourceOptions struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Dialer     *websocket.Dialer
}

// NewSource builds the fetch implementation declared by desc.
func NewSource(desc Descriptor, opts SourceOptions) (Source, error) {
	switch desc.Source {
	case SourceREST:
		return NewRESTSource(desc, opts.HTTPClient, opts.Limiter), nil
	case SourceBinance:
		return NewBinanceSource(desc.Class, desc.BaseURL, opts.HTTPClient, opts.Limiter), nil
	case SourceBybit:
		return NewBybitSource(desc.BaseURL, opts.HTTPClient, opts.Limiter), nil
	case SourceKucoin:
		return NewKucoinSource(desc.BaseURL, opts.HTTPClient, opts.Limiter), nil
	case SourceStream:
		return NewStreamSource(desc, opts.Dialer), nil
	default:
		return nil, fmt.Errorf("%s: unsupported source %q", desc.Exchange, desc.Source)
	}
}
