package dashboard

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "0.0.0.0:8080"},
		{" :8090 ", "0.0.0.0:8090"},
		{"*:8090", "0.0.0.0:8090"},
		{"127.0.0.1", "127.0.0.1:8080"},
		{"::1", "[::1]:8080"},
		{"feed-dashboard", "feed-dashboard:8080"},
		{"feed-dashboard:9001", "feed-dashboard:9001"},
		{"http://10.0.4.17:8090", "10.0.4.17:8090"},
		{"https://feed.internal/", "feed.internal:8080"},
		{"http://:8090", "0.0.0.0:8090"},
	}
	for _, c := range cases {
		if got := normalizeAddress(c.in); got != c.want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false, Address: ":8090"}, logger.Logger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server for a disabled dashboard, got %v, %v", srv, err)
	}
}

func TestNewServerDefaults(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: "http://:8090"}, logger.Logger())
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)

	if got := srv.Address(); got != "0.0.0.0:8090" {
		t.Fatalf("address = %q", got)
	}
	if srv.refreshIntervalMs != 5000 {
		t.Fatalf("refresh interval = %dms", srv.refreshIntervalMs)
	}
	if srv.logStore.limit != 200 || srv.metricStore.limit != 200 {
		t.Fatalf("history limits = %d/%d", srv.logStore.limit, srv.metricStore.limit)
	}
}

func TestHealthzCountsGateways(t *testing.T) {
	sources := []InstrumentSource{
		staticSource{name: "OKX"},
		staticSource{name: "Kraken"},
	}
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, logger.Logger(), sources...)
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)

	body := getJSON(t, srv, "/healthz")
	if body["status"] != "ok" || body["gateways"] != float64(2) {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestInstrumentsSortedByStreamID(t *testing.T) {
	okx := models.NewInstrument(models.InstrumentID{Exchange: "OKX", Name: "BTC-USDT", Code: "BTC-USDT"}, 5)
	bitfinex := models.NewInstrument(models.InstrumentID{Exchange: "Bitfinex", Name: "BTCUSD", Code: "tBTCUSD"}, 5)
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, logger.Logger(),
		staticSource{name: "OKX", instruments: []*models.Instrument{okx}},
		staticSource{name: "Bitfinex", instruments: []*models.Instrument{bitfinex}},
	)
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)

	var body struct {
		Instruments []instrumentStatus `json:"instruments"`
	}
	decode(t, serve(t, srv, "/api/instruments"), &body)
	if len(body.Instruments) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(body.Instruments))
	}
	if body.Instruments[0].StreamID != "Bitfinex_BTCUSD" || body.Instruments[1].StreamID != "OKX_BTC-USDT" {
		t.Fatalf("unexpected order %+v", body.Instruments)
	}
	if body.Instruments[0].TradeRecovered || body.Instruments[0].LastTradeID != "0" {
		t.Fatalf("fresh instrument reports state %+v", body.Instruments[0])
	}
}

func TestLogsEndpointLiftsStreamFields(t *testing.T) {
	log := logger.Logger()
	log.SetOutput(io.Discard)
	srv, err := NewServer(config.DashboardConfig{Enabled: true, LogHistory: 2}, log)
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)

	log.WithComponent("gateway").Info("dropped")
	log.WithComponent("gateway").WithStream("Kraken", "XBTUSD").WithError(errors.New("timeout")).Warn("order book fetch failed")
	log.WithComponent("gateway").WithStream("Kraken", "ETHUSD").Info("trade feed recovered")

	var body struct {
		Logs []logRecord `json:"logs"`
	}
	decode(t, serve(t, srv, "/api/logs"), &body)
	if len(body.Logs) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(body.Logs))
	}
	first := body.Logs[0]
	if first.Exchange != "Kraken" || first.Instrument != "XBTUSD" || first.Component != "gateway" {
		t.Fatalf("stream fields not lifted: %+v", first)
	}
	if first.Level != "warning" || first.Fields["error"] != "timeout" {
		t.Fatalf("unexpected record %+v", first)
	}
	if _, ok := first.Fields["exchange"]; ok {
		t.Fatalf("lifted field repeated in fields: %+v", first.Fields)
	}
	if body.Logs[1].Instrument != "ETHUSD" {
		t.Fatalf("newest record missing: %+v", body.Logs[1])
	}
}

func TestResourcesEndpointServesSamples(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, logger.Logger())
	if err != nil || srv == nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)
	srv.resourceSampler.samples.push(resourceSnapshot{Timestamp: time.Unix(1700000000, 0).UTC(), CPUPercent: 12.5, Threads: 9})

	var body struct {
		Resources []resourceSnapshot `json:"resources"`
	}
	decode(t, serve(t, srv, "/api/resources"), &body)
	if len(body.Resources) != 1 || body.Resources[0].CPUPercent != 12.5 || body.Resources[0].Threads != 9 {
		t.Fatalf("unexpected resources %+v", body.Resources)
	}
}

func serve(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter("marketfeed")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	if res.Code != http.StatusOK {
		t.Fatalf("%s: unexpected status code %d", path, res.Code)
	}
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func getJSON(t *testing.T, srv *Server, path string) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	decode(t, serve(t, srv, path), &body)
	return body
}
