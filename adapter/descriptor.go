package adapter

import (
	"fmt"
	"strconv"
	"strings"

	"marketfeed/models"
)

// BookStyle selects how an order book payload is interpreted.
type BookStyle string

const (
	// BookTicker feeds publish a single best bid and best ask.
	BookTicker BookStyle = "ticker"
	// BookFullDepth feeds publish bid and ask ladders.
	BookFullDepth BookStyle = "full_depth"
)

// SourceKind selects the fetch implementation behind a descriptor.
type SourceKind string

const (
	SourceREST    SourceKind = "rest"
	SourceBinance SourceKind = "binance_sdk"
	SourceBybit   SourceKind = "bybit_sdk"
	SourceKucoin  SourceKind = "kucoin_sdk"
	SourceStream  SourceKind = "stream"
)

// Endpoint describes one HTTP call. Path and Params may reference {code},
// {lcode} and {depth}.
type Endpoint struct {
	Method   string            `yaml:"method"`
	Path     string            `yaml:"path"`
	Params   map[string]string `yaml:"params"`
	Encoding string            `yaml:"encoding"` // form or json, POST only
}

// StreamSettings describes a combined websocket stream. Frames are routed by
// the suffix of their stream name.
type StreamSettings struct {
	URL         string `yaml:"url"`
	DepthSuffix string `yaml:"depth_suffix"`
	TradeSuffix string `yaml:"trade_suffix"`
	TradeBuffer int    `yaml:"trade_buffer"`
}

// Descriptor is everything that differs between exchanges. Parsing and
// diffing are shared; adding an exchange means adding a descriptor.
//
// Field names address object keys. A numeric field name addresses an index
// of a positional array.
type Descriptor struct {
	Exchange string     `yaml:"exchange"`
	Class    string     `yaml:"class"`
	Source   SourceKind `yaml:"source"`
	BaseURL  string     `yaml:"base_url"`

	BookStyle             BookStyle `yaml:"book_style"`
	TimestampDivisor      float64   `yaml:"timestamp_divisor"`
	TradeTimestampDivisor float64   `yaml:"trade_timestamp_divisor"`

	BookRoot   []string `yaml:"book_root"`
	TradesRoot []string `yaml:"trades_root"`

	OrderBookTimestampField string `yaml:"order_book_timestamp_field"`
	BidsField               string `yaml:"bids_field"`
	AsksField               string `yaml:"asks_field"`
	BestBidField            string `yaml:"best_bid_field"`
	BestAskField            string `yaml:"best_ask_field"`
	BestBidVolumeField      string `yaml:"best_bid_volume_field"`
	BestAskVolumeField      string `yaml:"best_ask_volume_field"`
	LevelPriceField         string `yaml:"level_price_field"`
	LevelVolumeField        string `yaml:"level_volume_field"`

	TradeTimestampField string            `yaml:"trade_timestamp_field"`
	TradeSideField      string            `yaml:"trade_side_field"`
	TradeIDField        string            `yaml:"trade_id_field"`
	TradePriceField     string            `yaml:"trade_price_field"`
	TradeVolumeField    string            `yaml:"trade_volume_field"`
	SideValues          map[string]string `yaml:"side_values"`
	TradesNewestFirst   bool              `yaml:"trades_newest_first"`

	OrderBook Endpoint       `yaml:"order_book"`
	Trades    Endpoint       `yaml:"trades"`
	Stream    StreamSettings `yaml:"stream"`
}

// Validate checks that the descriptor carries the fields its book style and
// trade parsing need.
func (d Descriptor) Validate() error {
	if d.Exchange == "" {
		return fmt.Errorf("descriptor exchange is required")
	}
	switch d.BookStyle {
	case BookTicker:
		if d.BestBidField == "" || d.BestAskField == "" {
			return fmt.Errorf("%s: ticker descriptors need best_bid_field and best_ask_field", d.Exchange)
		}
	case BookFullDepth:
		if d.BidsField == "" || d.AsksField == "" {
			return fmt.Errorf("%s: full depth descriptors need bids_field and asks_field", d.Exchange)
		}
	default:
		return fmt.Errorf("%s: unsupported book style %q", d.Exchange, d.BookStyle)
	}
	if d.TradeIDField == "" || d.TradePriceField == "" || d.TradeVolumeField == "" || d.TradeTimestampField == "" {
		return fmt.Errorf("%s: trade id, price, volume and timestamp fields are required", d.Exchange)
	}
	for raw, side := range d.SideValues {
		if _, err := models.ParseTradeSide(side); err != nil {
			return fmt.Errorf("%s: side value %q: %w", d.Exchange, raw, err)
		}
	}
	switch d.Source {
	case SourceREST:
		if d.BaseURL == "" || d.OrderBook.Path == "" || d.Trades.Path == "" {
			return fmt.Errorf("%s: rest descriptors need base_url and both endpoints", d.Exchange)
		}
	case SourceStream:
		if d.Stream.URL == "" {
			return fmt.Errorf("%s: stream descriptors need stream.url", d.Exchange)
		}
	case SourceBinance, SourceBybit, SourceKucoin:
	default:
		return fmt.Errorf("%s: unsupported source %q", d.Exchange, d.Source)
	}
	return nil
}

func (d Descriptor) bookDivisor() float64 {
	if d.TimestampDivisor <= 0 {
		return 1
	}
	return d.TimestampDivisor
}

func (d Descriptor) tradeDivisor() float64 {
	if d.TradeTimestampDivisor > 0 {
		return d.TradeTimestampDivisor
	}
	return d.bookDivisor()
}

// side maps a raw side value. ok is false for values the descriptor does not
// know.
func (d Descriptor) side(raw string) (models.TradeSide, bool) {
	if len(d.SideValues) == 0 {
		side, err := models.ParseTradeSide(raw)
		return side, err == nil
	}
	for k, v := range d.SideValues {
		if strings.EqualFold(k, raw) {
			side, err := models.ParseTradeSide(v)
			return side, err == nil
		}
	}
	return models.SideUnknown, false
}

func expander(id models.InstrumentID, depth int) *strings.Replacer {
	return strings.NewReplacer(
		"{code}", id.Code,
		"{lcode}", strings.ToLower(id.Code),
		"{depth}", strconv.Itoa(depth),
	)
}
