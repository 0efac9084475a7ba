package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	simplejson "github.com/bitly/go-simplejson"

	"marketfeed/models"
)

var jubiID = models.InstrumentID{Exchange: "JUBI_Spot", Name: "BTCCNY", Code: "btc", Class: "spot"}

func mustJSON(t *testing.T, s string) *simplejson.Json {
	t.Helper()
	doc, err := simplejson.NewJson([]byte(s))
	if err != nil {
		t.Fatalf("invalid fixture %s: %v", s, err)
	}
	return doc
}

func builtin(t *testing.T, name string) Descriptor {
	t.Helper()
	desc, err := NewRegistry().Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return desc
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    float64
		wantErr bool
	}{
		{"6543.21", 6543.21, false},
		{" 12 ", 12, false},
		{float64(0.5), 0.5, false},
		{int64(7), 7, false},
		{"abc", 0, true},
		{[]interface{}{1}, 0, true},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Coerce(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("Coerce(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTickerJUBI(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	raw := mustJSON(t, `{"buy":"6543.21","sell":6544.0,"date":1500000000}`)

	book, err := ParseTicker(desc, jubiID, raw, 5)
	if err != nil {
		t.Fatalf("ParseTicker: %v", err)
	}
	if book.Bids[0].Price != 6543.21 || book.Asks[0].Price != 6544.0 {
		t.Fatalf("unexpected top of book: %+v / %+v", book.Bids[0], book.Asks[0])
	}
	if book.Bids[0].Volume != 0 || book.Asks[0].Volume != 0 {
		t.Fatalf("ticker volumes should stay zero, got %+v", book)
	}
	for i := 1; i < 5; i++ {
		if book.Bids[i] != (models.PriceLevel{}) || book.Asks[i] != (models.PriceLevel{}) {
			t.Fatalf("level %d should be zero", i)
		}
	}
	if !book.DateTime.Equal(time.Unix(1500000000, 0)) {
		t.Fatalf("unexpected time %v", book.DateTime)
	}
}

func TestParseTickerMissingField(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	raw := mustJSON(t, `{"buy":"1","date":1}`)

	_, err := ParseTicker(desc, jubiID, raw, 5)
	var mre *MalformedResponseError
	if !errors.As(err, &mre) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
	if mre.Field != "sell" {
		t.Fatalf("expected field sell, got %q", mre.Field)
	}
	if !strings.Contains(mre.Payload, `"buy"`) {
		t.Fatalf("payload not carried: %q", mre.Payload)
	}
}

func TestParseTickerNotNumeric(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	raw := mustJSON(t, `{"buy":"n/a","sell":"2","date":1}`)
	_, err := ParseTicker(desc, jubiID, raw, 5)
	var mre *MalformedResponseError
	if !errors.As(err, &mre) || mre.Field != "buy" {
		t.Fatalf("expected malformed buy field, got %v", err)
	}
}

func TestParseFullDepthSortsAndTruncates(t *testing.T) {
	desc := builtin(t, "Gate_Spot")
	id := models.InstrumentID{Exchange: "Gate_Spot", Name: "BTCUSDT", Code: "BTC_USDT"}
	raw := mustJSON(t, `{
		"current": 1700000000123,
		"bids": [["99","1"],["101","2"],["100","3"],["98","1"],["97","1"],["96","1"]],
		"asks": [["103","1"],["102","2"]]
	}`)

	book, err := ParseFullDepth(desc, id, raw, 5)
	if err != nil {
		t.Fatalf("ParseFullDepth: %v", err)
	}
	wantBids := []float64{101, 100, 99, 98, 97}
	for i, p := range wantBids {
		if book.Bids[i].Price != p {
			t.Fatalf("bid %d = %v, want %v", i, book.Bids[i].Price, p)
		}
	}
	if book.Asks[0].Price != 102 || book.Asks[1].Price != 103 {
		t.Fatalf("asks not ascending: %+v", book.Asks)
	}
	if book.Asks[2] != (models.PriceLevel{}) {
		t.Fatalf("missing ask levels should be zero: %+v", book.Asks[2])
	}
	if book.DateTime.UnixMilli() != 1700000000123 {
		t.Fatalf("unexpected time %v", book.DateTime)
	}
}

func TestParseFullDepthObjectLevels(t *testing.T) {
	desc := builtin(t, "Bitfinex_Spot")
	id := models.InstrumentID{Exchange: "Bitfinex_Spot", Name: "BTCUSD", Code: "btcusd"}
	raw := mustJSON(t, `{
		"bids": [{"price":"100.5","amount":"0.3","timestamp":"1"}],
		"asks": [{"price":"101","amount":"0.1","timestamp":"1"}]
	}`)

	book, err := ParseFullDepth(desc, id, raw, 5)
	if err != nil {
		t.Fatalf("ParseFullDepth: %v", err)
	}
	if book.BestBid() != (models.PriceLevel{Price: 100.5, Volume: 0.3}) {
		t.Fatalf("unexpected best bid %+v", book.BestBid())
	}
	if book.BestAsk() != (models.PriceLevel{Price: 101, Volume: 0.1}) {
		t.Fatalf("unexpected best ask %+v", book.BestAsk())
	}
}

func TestParseFullDepthMissingLadder(t *testing.T) {
	desc := builtin(t, "Gate_Spot")
	raw := mustJSON(t, `{"bids": []}`)
	_, err := ParseFullDepth(desc, models.InstrumentID{Exchange: "Gate_Spot"}, raw, 5)
	var mre *MalformedResponseError
	if !errors.As(err, &mre) || mre.Field != "asks" {
		t.Fatalf("expected malformed asks, got %v", err)
	}
}

func TestParseTradeJUBI(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	raw := mustJSON(t, `{"date":"1500000001","price":"6543.2","amount":"0.5","tid":"1234","type":"sell"}`)

	trade, err := ParseTrade(desc, jubiID, raw)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.TradeID != "1234" || trade.Price != 6543.2 || trade.Volume != 0.5 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if trade.Side != models.SideSell {
		t.Fatalf("expected sell, got %v", trade.Side)
	}
	if trade.DateTime.Unix() != 1500000001 {
		t.Fatalf("unexpected time %v", trade.DateTime)
	}
}

func TestParseTradePositional(t *testing.T) {
	desc := builtin(t, "Kraken_Spot")
	id := models.InstrumentID{Exchange: "Kraken_Spot", Name: "XBTUSD", Code: "XXBTZUSD"}
	raw := mustJSON(t, `["64000.1","0.01",1700000000.5,"b","l","",987654]`)

	trade, err := ParseTrade(desc, id, raw)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.TradeID != "987654" || trade.Side != models.SideBuy || trade.Price != 64000.1 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if trade.DateTime.UnixMilli() != 1700000000500 {
		t.Fatalf("unexpected time %v", trade.DateTime)
	}
}

func TestParseTradeNanosecondTimestamp(t *testing.T) {
	desc := builtin(t, "Kucoin_Spot")
	id := models.InstrumentID{Exchange: "Kucoin_Spot", Name: "BTCUSDT", Code: "BTC-USDT"}
	raw := mustJSON(t, `{"sequence":"1545896668571","price":"0.07","size":"0.004","side":"buy","time":1545904567062140823}`)

	trade, err := ParseTrade(desc, id, raw)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.DateTime.Unix() != 1545904567 {
		t.Fatalf("unexpected time %v", trade.DateTime)
	}
}

func TestParseTradeBooleanSide(t *testing.T) {
	desc := builtin(t, "Binance_Spot")
	id := models.InstrumentID{Exchange: "Binance_Spot", Name: "BTCUSDT", Code: "BTCUSDT"}
	raw := mustJSON(t, `{"id":28457,"price":"4.00","qty":"12.00","time":1499865549590,"isBuyerMaker":true}`)

	trade, err := ParseTrade(desc, id, raw)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.Side != models.SideSell {
		t.Fatalf("buyer maker should be a sell, got %v", trade.Side)
	}
	if trade.TradeID != "28457" {
		t.Fatalf("unexpected id %q", trade.TradeID)
	}
}

func TestParseTradeRejects(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing id", `{"date":1,"price":"1","amount":"1","type":"buy"}`, "tid"},
		{"non numeric id", `{"date":1,"price":"1","amount":"1","tid":"abc","type":"buy"}`, "tid"},
		{"bad price", `{"date":1,"price":"x","amount":"1","tid":"1","type":"buy"}`, "price"},
		{"unmapped side", `{"date":1,"price":"1","amount":"1","tid":"1","type":"hold"}`, "type"},
		{"bad timestamp", `{"date":"yesterday","price":"1","amount":"1","tid":"1","type":"buy"}`, "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTrade(desc, jubiID, mustJSON(t, tt.raw))
			var mre *MalformedResponseError
			if !errors.As(err, &mre) {
				t.Fatalf("expected MalformedResponseError, got %v", err)
			}
			if mre.Field != tt.field {
				t.Fatalf("field = %q, want %q", mre.Field, tt.field)
			}
		})
	}
}

func TestParseTradeWithoutSideField(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	desc.TradeSideField = ""
	trade, err := ParseTrade(desc, jubiID, mustJSON(t, `{"date":1,"price":"1","amount":"1","tid":"1"}`))
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.Side != models.SideUnknown {
		t.Fatalf("expected unknown side, got %v", trade.Side)
	}
}

func TestRFC3339Timestamp(t *testing.T) {
	got, err := toTime("2024-01-02T03:04:05.5Z", 1)
	if err != nil {
		t.Fatalf("toTime: %v", err)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("toTime = %v, want %v", got, want)
	}
}

func TestNewerTradeID(t *testing.T) {
	tests := []struct {
		candidate, watermark string
		want                 bool
	}{
		{"5", "4", true},
		{"4", "4", false},
		{"10", "9", true},
		{"9", "10", false},
		{"1", "0", true},
		{"1", "", true},
	}
	for _, tt := range tests {
		got, err := NewerTradeID(tt.candidate, tt.watermark)
		if err != nil {
			t.Fatalf("NewerTradeID(%s, %s): %v", tt.candidate, tt.watermark, err)
		}
		if got != tt.want {
			t.Fatalf("NewerTradeID(%s, %s) = %v, want %v", tt.candidate, tt.watermark, got, tt.want)
		}
	}
	if _, err := NewerTradeID("x", "1"); err == nil {
		t.Fatal("expected error for non numeric candidate")
	}
}

func TestTruncatePayload(t *testing.T) {
	long := strings.Repeat("a", maxPayloadLog+100)
	got := truncate([]byte(long))
	if len(got) != maxPayloadLog+3 {
		t.Fatalf("unexpected truncated length %d", len(got))
	}
	if truncate([]byte("short")) != "short" {
		t.Fatal("short payloads must not change")
	}
}
