package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRESTSourcePostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/ticker/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("coin"); got != "btc" {
			t.Errorf("coin = %q, want btc", got)
		}
		if got := r.Header.Get("User-Agent"); got != "marketfeed-test" {
			t.Errorf("user agent = %q", got)
		}
		w.Write([]byte(`{"buy":"1","sell":"2","date":1}`))
	}))
	defer srv.Close()

	desc := builtin(t, "JUBI_Spot")
	desc.BaseURL = srv.URL
	client := NewHTTPClient(TransportOptions{Timeout: 5 * time.Second, UserAgent: "marketfeed-test"})
	src := NewRESTSource(desc, client, rate.NewLimiter(rate.Inf, 1))

	body, err := src.OrderBook(context.Background(), jubiID, 5)
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	if string(body) != `{"buy":"1","sell":"2","date":1}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestRESTSourceGetQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/book/btcusd" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit_bids") != "5" || q.Get("limit_asks") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"bids":[],"asks":[]}`))
	}))
	defer srv.Close()

	desc := builtin(t, "Bitfinex_Spot")
	desc.BaseURL = srv.URL + "/"
	src := NewRESTSource(desc, srv.Client(), nil)

	id := jubiID
	id.Exchange, id.Code = "Bitfinex_Spot", "btcusd"
	if _, err := src.OrderBook(context.Background(), id, 5); err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
}

func TestRESTSourceJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	desc := builtin(t, "JUBI_Spot")
	desc.BaseURL = srv.URL
	desc.Trades = Endpoint{Method: http.MethodPost, Path: "/trades", Params: map[string]string{"coin": "{code}"}, Encoding: "json"}
	src := NewRESTSource(desc, srv.Client(), nil)

	body, err := src.Trades(context.Background(), jubiID)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if string(body) != "[]" {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestRESTSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	desc := builtin(t, "JUBI_Spot")
	desc.BaseURL = srv.URL
	src := NewRESTSource(desc, srv.Client(), nil)

	if _, err := src.Trades(context.Background(), jubiID); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestRESTSourceCancelledLimiter(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	src := NewRESTSource(desc, nil, rate.NewLimiter(rate.Every(time.Hour), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Trades(ctx, jubiID); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestRESTSourceUnsupportedMethod(t *testing.T) {
	desc := builtin(t, "JUBI_Spot")
	desc.Trades.Method = http.MethodDelete
	src := NewRESTSource(desc, nil, nil)
	if _, err := src.Trades(context.Background(), jubiID); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
