package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	"marketfeed/models"
)

const bybitTradeLimit = 60

// BybitSource fetches through the bybit v5 client. The instrument class is
// the v5 category (spot, linear, inverse).
type BybitSource struct {
	client  *bybit.Client
	limiter *rate.Limiter
}

func NewBybitSource(baseURL string, httpClient *http.Client, limiter *rate.Limiter) *BybitSource {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(baseURL))
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return &BybitSource{client: client, limiter: limiter}
}

func bybitCategory(class string) string {
	switch strings.ToLower(class) {
	case "", "spot":
		return "spot"
	case "futures", "perpetual":
		return "linear"
	default:
		return strings.ToLower(class)
	}
}

func bybitResult(resp *bybit.ServerResponse) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", resp.RetCode, resp.RetMsg)
	}
	return json.Marshal(resp.Result)
}

func (s *BybitSource) OrderBook(ctx context.Context, id models.InstrumentID, depth int) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"category": bybitCategory(id.Class),
		"symbol":   id.Code,
		"limit":    depth,
	}
	resp, err := s.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return nil, err
	}
	return bybitResult(resp)
}

func (s *BybitSource) Trades(ctx context.Context, id models.InstrumentID) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"category": bybitCategory(id.Class),
		"symbol":   id.Code,
		"limit":    bybitTradeLimit,
	}
	resp, err := s.client.NewUtaBybitServiceWithParams(params).GetPublicRecentTrades(ctx)
	if err != nil {
		return nil, err
	}
	return bybitResult(resp)
}
