package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"marketfeed/internal/metrics"
)

const defaultHistory = 200

// history is a bounded FIFO of the newest items, safe for concurrent use.
type history[T any] struct {
	mu    sync.RWMutex
	items deque.Deque[T]
	limit int
}

func newHistory[T any](limit int) *history[T] {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &history[T]{limit: limit}
}

func (h *history[T]) push(item T) {
	h.mu.Lock()
	h.items.PushBack(item)
	for h.items.Len() > h.limit {
		h.items.PopFront()
	}
	h.mu.Unlock()
}

func (h *history[T]) snapshot() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, h.items.Len())
	for i := range out {
		out[i] = h.items.At(i)
	}
	return out
}

func (h *history[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.items.Len()
}

type metricStore struct {
	*history[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{history: newHistory[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.push(metric)
}

// logRecord is a captured log entry. Exchange and instrument are lifted out of
// the fields so the UI can filter per stream.
type logRecord struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      string                 `json:"level"`
	Component  string                 `json:"component,omitempty"`
	Exchange   string                 `json:"exchange,omitempty"`
	Instrument string                 `json:"instrument,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var liftedFields = map[string]struct{}{
	"component":  {},
	"exchange":   {},
	"instrument": {},
}

// logStore is a logrus hook that keeps the latest entries for /api/logs.
type logStore struct {
	*history[logRecord]
	closed atomic.Bool
}

func newLogStore(limit int) *logStore {
	return &logStore{history: newHistory[logRecord](limit)}
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if s.closed.Load() {
		return nil
	}
	s.push(newLogRecord(entry))
	return nil
}

func (s *logStore) close() {
	s.closed.Store(true)
}

func newLogRecord(entry *logrus.Entry) logRecord {
	record := logRecord{
		Timestamp:  entry.Time,
		Level:      entry.Level.String(),
		Message:    entry.Message,
		Component:  stringField(entry.Data, "component"),
		Exchange:   stringField(entry.Data, "exchange"),
		Instrument: stringField(entry.Data, "instrument"),
	}
	for k, v := range entry.Data {
		if _, lifted := liftedFields[k]; lifted {
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}
	return record
}

func stringField(data logrus.Fields, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
