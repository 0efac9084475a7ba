package metrics

import (
	"testing"
	"time"

	"marketfeed/logger"
)

func resetMetricHandlers() {
	bus = newHandlerBus()
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}

	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
}

func TestRegisterMetricHandlerNil(t *testing.T) {
	resetMetricHandlers()

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	fields := logger.Fields{"exchange": "binance", "unit": "count"}
	log := logger.Logger()

	EmitMetric(log, "used_weight", "request_count", 3, "gauge", fields)

	select {
	case event := <-events:
		if event.Component != "used_weight" {
			t.Fatalf("unexpected component: %s", event.Component)
		}
		if event.Name != "request_count" {
			t.Fatalf("unexpected metric name: %s", event.Name)
		}
		if event.Type != "gauge" {
			t.Fatalf("unexpected metric type: %s", event.Type)
		}
		if event.Exchange != "binance" {
			t.Fatalf("exchange = %q, want binance", event.Exchange)
		}
		if _, ok := fields["metric"]; ok {
			t.Fatalf("original fields mutated: %v", fields)
		}
		if _, ok := event.Fields["metric"]; ok {
			t.Fatalf("event fields should not contain metric key: %v", event.Fields)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("metric handler not invoked")
	}
}

func TestEmitMetricDefaultType(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	EmitMetric(nil, "order_book", "updates", 7, "", logger.Fields{"unit": "count"})

	select {
	case event := <-events:
		if event.Type != "counter" {
			t.Fatalf("expected default metric type to be counter, got %s", event.Type)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("metric handler not invoked for default type")
	}
}

func TestEmitMetricWithoutName(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	EmitMetric(nil, "component", "", 1, "counter", nil)

	select {
	case <-events:
		t.Fatal("handler should not receive metrics without a name")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	resetMetricHandlers()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		RegisterMetricHandler(func(Metric) { order = append(order, i) })
	}

	EmitMetric(nil, "gateway", "cycle", 1, "counter", nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected handler order: %v", order)
	}
}

func TestHandlerMayUnregisterItself(t *testing.T) {
	resetMetricHandlers()

	calls := 0
	var id MetricHandlerID
	id = RegisterMetricHandler(func(Metric) {
		calls++
		UnregisterMetricHandler(id)
	})

	EmitMetric(nil, "gateway", "cycle", 1, "counter", nil)
	EmitMetric(nil, "gateway", "cycle", 1, "counter", nil)

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}
