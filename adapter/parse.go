package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/shopspring/decimal"

	"marketfeed/models"
)

var nanosPerSecond = decimal.NewFromInt(int64(time.Second))

// lookup returns the named child of node. Numeric names index arrays.
func lookup(node *simplejson.Json, name string) (*simplejson.Json, bool) {
	if node == nil {
		return nil, false
	}
	if idx, err := strconv.Atoi(name); err == nil {
		arr, err := node.Array()
		if err != nil || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		child := node.GetIndex(idx)
		return child, child.Interface() != nil
	}
	child, ok := node.CheckGet(name)
	if !ok || child.Interface() == nil {
		return nil, false
	}
	return child, true
}

// walk follows a root path into the payload.
func walk(node *simplejson.Json, path []string, vars *strings.Replacer) (*simplejson.Json, error) {
	cur := node
	for _, p := range path {
		key := vars.Replace(p)
		next, ok := lookup(cur, key)
		if !ok {
			return nil, fmt.Errorf("path element %q not found", key)
		}
		cur = next
	}
	return cur, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case bool:
		if x {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// Coerce converts a native number or numeric string into a float64.
func Coerce(v interface{}) (float64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

func rawString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// toTime converts an exchange timestamp into UTC. Numbers are divided by
// divisor to obtain seconds; other strings must be RFC3339.
func toTime(v interface{}, divisor float64) (time.Time, error) {
	if s, ok := v.(string); ok {
		if _, err := decimal.NewFromString(strings.TrimSpace(s)); err != nil {
			t, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
			if perr != nil {
				return time.Time{}, fmt.Errorf("timestamp %q is neither numeric nor RFC3339", s)
			}
			return t.UTC(), nil
		}
	}
	d, err := toDecimal(v)
	if err != nil {
		return time.Time{}, err
	}
	if divisor <= 0 {
		divisor = 1
	}
	nanos := d.Div(decimal.NewFromFloat(divisor)).Mul(nanosPerSecond).IntPart()
	return time.Unix(0, nanos).UTC(), nil
}

func numberField(desc Descriptor, id models.InstrumentID, node *simplejson.Json, field string) (float64, error) {
	child, ok := lookup(node, field)
	if !ok {
		return 0, malformed(id, field, "missing", node)
	}
	f, err := Coerce(child.Interface())
	if err != nil {
		return 0, malformed(id, field, "is not numeric", node)
	}
	return f, nil
}

func bookTime(desc Descriptor, id models.InstrumentID, raw *simplejson.Json) (time.Time, error) {
	if desc.OrderBookTimestampField == "" {
		return time.Now().UTC(), nil
	}
	child, ok := lookup(raw, desc.OrderBookTimestampField)
	if !ok {
		return time.Now().UTC(), nil
	}
	t, err := toTime(child.Interface(), desc.bookDivisor())
	if err != nil {
		return time.Time{}, malformed(id, desc.OrderBookTimestampField, err.Error(), raw)
	}
	return t, nil
}

// ParseTicker reads a best bid / best ask quote into level 0 of a ladder.
// Volumes come from the optional volume fields and stay zero otherwise.
func ParseTicker(desc Descriptor, id models.InstrumentID, raw *simplejson.Json, depth int) (models.L2Depth, error) {
	bid, err := numberField(desc, id, raw, desc.BestBidField)
	if err != nil {
		return models.L2Depth{}, err
	}
	ask, err := numberField(desc, id, raw, desc.BestAskField)
	if err != nil {
		return models.L2Depth{}, err
	}
	out := models.NewL2Depth(depth)
	out.Bids[0].Price = bid
	out.Asks[0].Price = ask
	if desc.BestBidVolumeField != "" {
		if out.Bids[0].Volume, err = numberField(desc, id, raw, desc.BestBidVolumeField); err != nil {
			return models.L2Depth{}, err
		}
	}
	if desc.BestAskVolumeField != "" {
		if out.Asks[0].Volume, err = numberField(desc, id, raw, desc.BestAskVolumeField); err != nil {
			return models.L2Depth{}, err
		}
	}
	if out.DateTime, err = bookTime(desc, id, raw); err != nil {
		return models.L2Depth{}, err
	}
	return out, nil
}

func parseLevels(desc Descriptor, id models.InstrumentID, raw *simplejson.Json, field string) ([]models.PriceLevel, error) {
	list, ok := lookup(raw, field)
	if !ok {
		return nil, malformed(id, field, "missing", raw)
	}
	arr, err := list.Array()
	if err != nil {
		return nil, malformed(id, field, "is not a list", raw)
	}
	priceField, volumeField := desc.LevelPriceField, desc.LevelVolumeField
	if priceField == "" {
		priceField = "0"
	}
	if volumeField == "" {
		volumeField = "1"
	}
	levels := make([]models.PriceLevel, 0, len(arr))
	for i := range arr {
		entry := list.GetIndex(i)
		price, err := numberField(desc, id, entry, priceField)
		if err != nil {
			return nil, err
		}
		volume, err := numberField(desc, id, entry, volumeField)
		if err != nil {
			return nil, err
		}
		levels = append(levels, models.PriceLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

// ParseFullDepth reads bid and ask ladders, sorting and truncating them to
// depth.
func ParseFullDepth(desc Descriptor, id models.InstrumentID, raw *simplejson.Json, depth int) (models.L2Depth, error) {
	bids, err := parseLevels(desc, id, raw, desc.BidsField)
	if err != nil {
		return models.L2Depth{}, err
	}
	asks, err := parseLevels(desc, id, raw, desc.AsksField)
	if err != nil {
		return models.L2Depth{}, err
	}
	at, err := bookTime(desc, id, raw)
	if err != nil {
		return models.L2Depth{}, err
	}
	return models.SortAndTruncate(bids, asks, depth, at), nil
}

// ParseOrderBook dispatches on the descriptor's book style.
func ParseOrderBook(desc Descriptor, id models.InstrumentID, raw *simplejson.Json, depth int) (models.L2Depth, error) {
	if desc.BookStyle == BookTicker {
		return ParseTicker(desc, id, raw, depth)
	}
	return ParseFullDepth(desc, id, raw, depth)
}

// ParseTrade reads one trade entry. The trade id must be numeric because
// the trade watermark compares ids numerically.
func ParseTrade(desc Descriptor, id models.InstrumentID, raw *simplejson.Json) (models.Trade, error) {
	var trade models.Trade

	idNode, ok := lookup(raw, desc.TradeIDField)
	if !ok {
		return trade, malformed(id, desc.TradeIDField, "missing", raw)
	}
	trade.TradeID = rawString(idNode.Interface())
	if _, err := decimal.NewFromString(trade.TradeID); err != nil {
		return trade, malformed(id, desc.TradeIDField, "is not numeric", raw)
	}

	var err error
	if trade.Price, err = numberField(desc, id, raw, desc.TradePriceField); err != nil {
		return trade, err
	}
	if trade.Volume, err = numberField(desc, id, raw, desc.TradeVolumeField); err != nil {
		return trade, err
	}

	tsNode, ok := lookup(raw, desc.TradeTimestampField)
	if !ok {
		return trade, malformed(id, desc.TradeTimestampField, "missing", raw)
	}
	if trade.DateTime, err = toTime(tsNode.Interface(), desc.tradeDivisor()); err != nil {
		return trade, malformed(id, desc.TradeTimestampField, err.Error(), raw)
	}

	if desc.TradeSideField == "" {
		trade.Side = models.SideUnknown
		return trade, nil
	}
	sideNode, ok := lookup(raw, desc.TradeSideField)
	if !ok {
		return trade, malformed(id, desc.TradeSideField, "missing", raw)
	}
	side, ok := desc.side(rawString(sideNode.Interface()))
	if !ok {
		return trade, malformed(id, desc.TradeSideField, "has an unmapped value", raw)
	}
	trade.Side = side
	return trade, nil
}

// NewerTradeID reports whether candidate is numerically greater than the
// watermark. Both must be numeric strings.
func NewerTradeID(candidate, watermark string) (bool, error) {
	c, err := decimal.NewFromString(candidate)
	if err != nil {
		return false, fmt.Errorf("trade id %q: %w", candidate, err)
	}
	if watermark == "" {
		return true, nil
	}
	w, err := decimal.NewFromString(watermark)
	if err != nil {
		return false, fmt.Errorf("watermark %q: %w", watermark, err)
	}
	return c.GreaterThan(w), nil
}
