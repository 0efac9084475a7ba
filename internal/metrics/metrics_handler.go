package metrics

import (
	"sort"
	"sync"
	"time"

	"marketfeed/logger"
)

// Metric is one structured metric event. Exchange is lifted out of Fields
// when the emitter tagged the event with a venue.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Exchange  string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

type MetricHandlerID uint64

// handlerBus fans metric events out to subscribers in registration order.
type handlerBus struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	next     MetricHandlerID
}

var bus = newHandlerBus()

func newHandlerBus() *handlerBus {
	return &handlerBus{handlers: make(map[MetricHandlerID]MetricHandler)}
}

func (b *handlerBus) register(h MetricHandler) MetricHandlerID {
	if h == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[b.next] = h
	return b.next
}

func (b *handlerBus) unregister(id MetricHandlerID) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// publish calls handlers outside the lock so a handler may unregister itself.
func (b *handlerBus) publish(m Metric) {
	b.mu.RLock()
	ids := make([]MetricHandlerID, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]MetricHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
}

// RegisterMetricHandler subscribes handler to every emitted metric. A nil
// handler yields the zero id.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	return bus.register(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	bus.unregister(id)
}

func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	metric := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    make(logger.Fields, len(fields)),
	}
	for k, v := range fields {
		metric.Fields[k] = v
	}
	if ex, ok := fields["exchange"].(string); ok {
		metric.Exchange = ex
	}

	entry := log.WithComponent(component).WithFields(metric.Fields)
	entry.WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	bus.publish(metric)
	return metric, true
}
