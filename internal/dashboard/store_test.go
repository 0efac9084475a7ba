package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/metrics"
)

func TestHistoryKeepsNewest(t *testing.T) {
	h := newHistory[int](3)
	for i := 0; i < 7; i++ {
		h.push(i)
	}
	got := h.snapshot()
	if len(got) != 3 || got[0] != 4 || got[2] != 6 {
		t.Fatalf("unexpected history: %v", got)
	}
	if h.len() != 3 {
		t.Fatalf("len = %d, want 3", h.len())
	}
}

func TestHistoryDefaultLimit(t *testing.T) {
	h := newHistory[string](0)
	if h.limit != defaultHistory {
		t.Fatalf("limit = %d, want %d", h.limit, defaultHistory)
	}
}

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "cycle", Value: i})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(snapshot))
	}
	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestLogStoreLiftsStreamFields(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "fetch failed"
	entry.Data = logrus.Fields{
		"component":  "gateway",
		"exchange":   "Binance_Spot",
		"instrument": "BTCUSDT",
		"error":      errors.New("timeout"),
	}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	snapshot := store.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snapshot))
	}
	rec := snapshot[0]
	if rec.Component != "gateway" || rec.Exchange != "Binance_Spot" || rec.Instrument != "BTCUSDT" {
		t.Fatalf("unexpected lifted fields: %#v", rec)
	}
	if _, ok := rec.Fields["exchange"]; ok {
		t.Fatalf("exchange should not be repeated in fields: %#v", rec.Fields)
	}
	if rec.Fields["error"] != "timeout" {
		t.Fatalf("error field = %#v, want timeout", rec.Fields["error"])
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(store.snapshot()); got != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", got)
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}
	if got := len(store.snapshot()); got != 2 {
		t.Fatalf("store accepted entries after close")
	}
}
