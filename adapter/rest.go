package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
)

const maxResponseBytes = 8 << 20

// RESTSource fetches payloads over plain HTTP using the descriptor's
// endpoint templates.
type RESTSource struct {
	desc    Descriptor
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewRESTSource creates a source. A nil limiter disables rate limiting.
func NewRESTSource(desc Descriptor, client *http.Client, limiter *rate.Limiter) *RESTSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTSource{desc: desc, client: client, limiter: limiter, log: logger.GetLogger()}
}

func (s *RESTSource) OrderBook(ctx context.Context, id models.InstrumentID, depth int) ([]byte, error) {
	return s.do(ctx, s.desc.OrderBook, id, depth, "fetch_order_book")
}

func (s *RESTSource) Trades(ctx context.Context, id models.InstrumentID) ([]byte, error) {
	return s.do(ctx, s.desc.Trades, id, models.DefaultDepth, "fetch_trades")
}

func (s *RESTSource) buildRequest(ctx context.Context, ep Endpoint, id models.InstrumentID, depth int) (*http.Request, error) {
	vars := expander(id, depth)
	target := strings.TrimRight(s.desc.BaseURL, "/") + vars.Replace(ep.Path)

	params := make(map[string]string, len(ep.Params))
	values := url.Values{}
	for k, v := range ep.Params {
		params[k] = vars.Replace(v)
		values.Set(k, params[k])
	}

	switch strings.ToUpper(ep.Method) {
	case "", http.MethodGet:
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + values.Encode()
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	case http.MethodPost:
		var body []byte
		contentType := "application/x-www-form-urlencoded"
		if ep.Encoding == "json" {
			b, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			body = b
			contentType = "application/json"
		} else {
			body = []byte(values.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	default:
		return nil, fmt.Errorf("unsupported method %q", ep.Method)
	}
}

func (s *RESTSource) do(ctx context.Context, ep Endpoint, id models.InstrumentID, depth int, operation string) ([]byte, error) {
	if err := waitLimiter(ctx, s.limiter); err != nil {
		return nil, err
	}

	req, err := s.buildRequest(ctx, ep, id, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log := s.log.WithComponent("rest_source").WithFields(logger.Fields{
		"exchange":   id.Exchange,
		"instrument": id.Name,
		"status":     resp.StatusCode,
	})
	logger.LogPerformanceEntry(log, "rest_source", operation, time.Since(start), nil)
	metrics.ReportUsedWeight(s.log, id.Exchange, id.Name, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ReportLimit(s.log, id.Exchange, id.Name, resp.StatusCode, string(body))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}
