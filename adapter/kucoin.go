package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	"marketfeed/models"
)

// KucoinSource fetches KuCoin futures books and trades through the
// universal SDK. Responses are re-encoded as JSON for the shared parser.
type KucoinSource struct {
	market  futuresmarket.MarketAPI
	limiter *rate.Limiter
}

// NewKucoinSource builds the SDK client from the pool settings, timeout and
// user agent of httpClient. The SDK dials on its own, so a local IP binding
// on httpClient does not apply.
func NewKucoinSource(baseURL string, httpClient *http.Client, limiter *rate.Limiter) *KucoinSource {
	if baseURL == "" {
		baseURL = "https://api-futures.kucoin.com"
	}
	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(kucoinTransportOption(httpClient)).
		Build()

	client := sdkapi.NewClient(option)
	return &KucoinSource{
		market:  client.RestService().GetFuturesService().GetMarketAPI(),
		limiter: limiter,
	}
}

func kucoinTransportOption(httpClient *http.Client) *sdktype.TransportOption {
	b := sdktype.NewTransportOptionBuilder().SetTimeout(10 * time.Second)
	if httpClient == nil {
		return b.Build()
	}
	if httpClient.Timeout > 0 {
		b.SetTimeout(httpClient.Timeout)
	}
	tr, agent := clientSettings(httpClient)
	if tr != nil {
		if tr.MaxIdleConns > 0 {
			b.SetMaxIdleConns(tr.MaxIdleConns).SetMaxIdleConnsPerHost(tr.MaxIdleConns)
		}
		if tr.MaxConnsPerHost > 0 {
			b.SetMaxConnsPerHost(tr.MaxConnsPerHost)
		}
		if tr.IdleConnTimeout > 0 {
			b.SetIdleConnTimeout(tr.IdleConnTimeout)
		}
		if tr.Proxy != nil {
			b.SetProxy(tr.Proxy)
		}
	}
	if agent != "" {
		b.AddInterceptors(userAgentInterceptor(agent))
	}
	return b.Build()
}

// userAgentInterceptor stamps the configured agent on every SDK request.
type userAgentInterceptor string

func (u userAgentInterceptor) Before(req *http.Request) (*http.Request, error) {
	req.Header.Set("User-Agent", string(u))
	return req, nil
}

func (u userAgentInterceptor) After(_ *http.Request, resp *http.Response, err error) (*http.Response, error) {
	return resp, err
}

// kucoinBookSize picks the smallest partial book that covers depth.
func kucoinBookSize(depth int) string {
	if depth <= 20 {
		return "20"
	}
	return "100"
}

func (s *KucoinSource) OrderBook(ctx context.Context, id models.InstrumentID, depth int) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}
	req := futuresmarket.NewGetPartOrderBookReqBuilder().
		SetSymbol(id.Code).
		SetSize(kucoinBookSize(depth)).
		Build()
	resp, err := s.market.GetPartOrderBook(req, ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}

func (s *KucoinSource) Trades(ctx context.Context, id models.InstrumentID) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}
	req := futuresmarket.NewGetTradeHistoryReqBuilder().SetSymbol(id.Code).Build()
	resp, err := s.market.GetTradeHistory(req, ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}
