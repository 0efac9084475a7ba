package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"marketfeed/models"
)

const binanceTradeLimit = 500

var binanceDepthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// BinanceSource fetches through the go-binance client. Spot and futures
// instruments use separate clients; the payload handed to the parser has the
// REST shape of the depth and recent trade endpoints.
type BinanceSource struct {
	spot    *binance.Client
	futures *futures.Client
	limiter *rate.Limiter
}

// NewBinanceSource creates a source for the instrument class. Class
// "futures" selects the USD-M futures API. baseURL may be empty and a nil
// limiter disables rate limiting.
func NewBinanceSource(class, baseURL string, httpClient *http.Client, limiter *rate.Limiter) *BinanceSource {
	s := &BinanceSource{limiter: limiter}
	if strings.EqualFold(class, "futures") {
		client := futures.NewClient("", "")
		if httpClient != nil {
			client.HTTPClient = httpClient
		}
		if baseURL != "" {
			client.SetApiEndpoint(baseURL)
		}
		s.futures = client
		return s
	}

	client := binance.NewClient("", "")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	s.spot = client
	return s
}

func binanceDepthLimit(depth int) int {
	for _, l := range binanceDepthLimits {
		if depth <= l {
			return l
		}
	}
	return binanceDepthLimits[len(binanceDepthLimits)-1]
}

func pricePairs(levels []common.PriceLevel) [][]string {
	out := make([][]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, []string{l.Price, l.Quantity})
	}
	return out
}

func (s *BinanceSource) OrderBook(ctx context.Context, id models.InstrumentID, depth int) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}
	limit := binanceDepthLimit(depth)
	if s.futures != nil {
		res, err := s.futures.NewDepthService().Symbol(id.Code).Limit(limit).Do(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"lastUpdateId": res.LastUpdateID,
			"bids":         pricePairs(res.Bids),
			"asks":         pricePairs(res.Asks),
		})
	}

	res, err := s.spot.NewDepthService().Symbol(id.Code).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"lastUpdateId": res.LastUpdateID,
		"bids":         pricePairs(res.Bids),
		"asks":         pricePairs(res.Asks),
	})
}

type binanceTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Quantity     string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// Trades returns recent trades oldest first, as the exchange publishes them.
func (s *BinanceSource) Trades(ctx context.Context, id models.InstrumentID) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}
	var out []binanceTrade
	if s.futures != nil {
		res, err := s.futures.NewRecentTradesService().Symbol(id.Code).Limit(binanceTradeLimit).Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range res {
			out = append(out, binanceTrade{ID: t.ID, Price: t.Price, Quantity: t.Quantity, Time: t.Time, IsBuyerMaker: t.IsBuyerMaker})
		}
	} else {
		res, err := s.spot.NewRecentTradesService().Symbol(id.Code).Limit(binanceTradeLimit).Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range res {
			out = append(out, binanceTrade{ID: t.ID, Price: t.Price, Quantity: t.Quantity, Time: t.Time, IsBuyerMaker: t.IsBuyerMaker})
		}
	}
	if out == nil {
		out = []binanceTrade{}
	}
	return json.Marshal(out)
}
