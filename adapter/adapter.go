package adapter

import (
	"bytes"
	"context"

	simplejson "github.com/bitly/go-simplejson"

	"marketfeed/models"
)

// Source fetches raw order book and trade payloads for an instrument. A nil
// body with a nil error means the exchange had nothing to return.
type Source interface {
	OrderBook(ctx context.Context, id models.InstrumentID, depth int) ([]byte, error)
	Trades(ctx context.Context, id models.InstrumentID) ([]byte, error)
}

// Adapter binds a descriptor to a source. It is the only exchange-specific
// value a gateway holds.
type Adapter struct {
	desc   Descriptor
	source Source
	depth  int
}

func New(desc Descriptor, source Source, depth int) *Adapter {
	if depth <= 0 {
		depth = models.DefaultDepth
	}
	return &Adapter{desc: desc, source: source, depth: depth}
}

func (a *Adapter) Name() string { return a.desc.Exchange }

func (a *Adapter) Descriptor() Descriptor { return a.desc }

func (a *Adapter) Depth() int { return a.depth }

func isEmptyBody(body []byte) bool {
	b := bytes.TrimSpace(body)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func (a *Adapter) decode(id models.InstrumentID, body []byte) (*simplejson.Json, error) {
	doc, err := simplejson.NewJson(body)
	if err != nil {
		return nil, &MalformedResponseError{
			Exchange:   id.Exchange,
			Instrument: id.Name,
			Reason:     "invalid json: " + err.Error(),
			Payload:    truncate(body),
		}
	}
	return doc, nil
}

// FetchOrderBookRaw returns the order book node of the payload, or nil when
// the exchange returned nothing.
func (a *Adapter) FetchOrderBookRaw(ctx context.Context, id models.InstrumentID) (*simplejson.Json, error) {
	body, err := a.source.OrderBook(ctx, id, a.depth)
	if err != nil {
		return nil, newFetchError(id, "fetch_order_book", err)
	}
	if isEmptyBody(body) {
		return nil, nil
	}
	doc, err := a.decode(id, body)
	if err != nil {
		return nil, err
	}
	node, err := walk(doc, a.desc.BookRoot, expander(id, a.depth))
	if err != nil {
		return nil, malformed(id, "", err.Error(), doc)
	}
	return node, nil
}

// FetchTradesRaw returns the trade entries in chronological order. Lists
// published newest first are reversed.
func (a *Adapter) FetchTradesRaw(ctx context.Context, id models.InstrumentID) ([]*simplejson.Json, error) {
	body, err := a.source.Trades(ctx, id)
	if err != nil {
		return nil, newFetchError(id, "fetch_trades", err)
	}
	if isEmptyBody(body) {
		return nil, nil
	}
	doc, err := a.decode(id, body)
	if err != nil {
		return nil, err
	}
	list, err := walk(doc, a.desc.TradesRoot, expander(id, a.depth))
	if err != nil {
		return nil, malformed(id, "", err.Error(), doc)
	}
	arr, err := list.Array()
	if err != nil {
		return nil, malformed(id, "", "trade list is not an array", doc)
	}
	out := make([]*simplejson.Json, len(arr))
	for i := range arr {
		if a.desc.TradesNewestFirst {
			out[len(arr)-1-i] = list.GetIndex(i)
		} else {
			out[i] = list.GetIndex(i)
		}
	}
	return out, nil
}

func (a *Adapter) ParseTicker(id models.InstrumentID, raw *simplejson.Json) (models.L2Depth, error) {
	return ParseTicker(a.desc, id, raw, a.depth)
}

func (a *Adapter) ParseFullDepth(id models.InstrumentID, raw *simplejson.Json) (models.L2Depth, error) {
	return ParseFullDepth(a.desc, id, raw, a.depth)
}

func (a *Adapter) ParseOrderBook(id models.InstrumentID, raw *simplejson.Json) (models.L2Depth, error) {
	return ParseOrderBook(a.desc, id, raw, a.depth)
}

func (a *Adapter) ParseTrade(id models.InstrumentID, raw *simplejson.Json) (models.Trade, error) {
	return ParseTrade(a.desc, id, raw)
}
