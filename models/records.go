package models

import "time"

// OrderBookRecord is the published form of an accepted order book.
type OrderBookRecord struct {
	Exchange   string       `json:"exchange"`
	Instrument string       `json:"instrument"`
	Symbol     string       `json:"symbol"`
	Timestamp  time.Time    `json:"timestamp"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Sequence   int64        `json:"sequence"`
}

// TradeRecord is the published form of an accepted trade.
type TradeRecord struct {
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	TradeID    string    `json:"trade_id"`
	Side       TradeSide `json:"side"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Sequence   int64     `json:"sequence"`
}

func NewOrderBookRecord(id InstrumentID, symbol string, depth L2Depth, seq int64) OrderBookRecord {
	d := depth.Copy()
	return OrderBookRecord{
		Exchange:   id.Exchange,
		Instrument: id.Name,
		Symbol:     symbol,
		Timestamp:  d.DateTime.UTC(),
		Bids:       d.Bids,
		Asks:       d.Asks,
		Sequence:   seq,
	}
}

func NewTradeRecord(id InstrumentID, symbol string, trade Trade, seq int64) TradeRecord {
	return TradeRecord{
		Exchange:   id.Exchange,
		Instrument: id.Name,
		Symbol:     symbol,
		Timestamp:  trade.DateTime.UTC(),
		TradeID:    trade.TradeID,
		Side:       trade.Side,
		Price:      trade.Price,
		Volume:     trade.Volume,
		Sequence:   seq,
	}
}
