package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
)

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	log := logger.Logger()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, MetricsHistory: 10, LogHistory: 10}, log)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)

	metrics.EmitMetric(log, "component", "snapshot_writer_buffer_len", 5, "gauge", logger.Fields{"capacity": 10})

	router, err := srv.buildRouter("app")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if len(srv.metricStore.snapshot()) == 0 {
		t.Fatalf("metrics store empty")
	}
}

type staticSource struct {
	name        string
	instruments []*models.Instrument
}

func (s staticSource) Name() string                      { return s.name }
func (s staticSource) Instruments() []*models.Instrument { return s.instruments }

func TestInstrumentsEndpointReportsState(t *testing.T) {
	inst := models.NewInstrument(models.InstrumentID{Exchange: "JUBI_Spot", Name: "BTC", Code: "btc", Class: "spot"}, 5)
	book := models.NewL2Depth(5)
	book.DateTime = time.Unix(1700000000, 0).UTC()
	book.Bids[0] = models.PriceLevel{Price: 100, Volume: 1}
	book.Asks[0] = models.PriceLevel{Price: 101, Volume: 2}
	inst.Book.Rotate(book)
	inst.Trades.Accept("57")
	inst.Trades.MarkRecovered()

	log := logger.Logger()
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, log, staticSource{name: "JUBI_Spot", instruments: []*models.Instrument{inst}})
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter("marketfeed")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/instruments", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var body struct {
		Instruments []instrumentStatus `json:"instruments"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Instruments) != 1 {
		t.Fatalf("expected 1 instrument, got %d", len(body.Instruments))
	}
	got := body.Instruments[0]
	if got.StreamID != "JUBI_Spot_BTC" || got.BookSequence != 1 || got.TradeSequence != 1 {
		t.Fatalf("unexpected status: %+v", got)
	}
	if got.BestBid.Price != 100 || got.BestAsk.Volume != 2 || got.LastTradeID != "57" || !got.TradeRecovered {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestHealthAndPrometheusEndpoints(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, logger.Logger())
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)
	metrics.SetSequence("JUBI_Spot", "BTC", "order_book", 3)

	router, err := srv.buildRouter("marketfeed")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	for _, path := range []string{"/healthz", "/metrics", "/"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		if res.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status code %d", path, res.Code)
		}
		if path == "/metrics" && !strings.Contains(res.Body.String(), "marketfeed_sequence") {
			t.Fatalf("/metrics does not expose feed collectors")
		}
	}
}
