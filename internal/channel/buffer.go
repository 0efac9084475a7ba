package channel

import (
	"context"
	"sync"
	"time"

	"marketfeed/internal/metrics"
	"marketfeed/logger"
)

// Stats are the counters of a Buffer.
type Stats struct {
	Sent    int64
	Dropped int64
}

// Buffer is a named, bounded channel. Send never blocks: a full buffer drops
// the item and counts it.
type Buffer[T any] struct {
	name string
	C    chan T

	stats      Stats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewBuffer[T any](name string, size int) *Buffer[T] {
	if size <= 0 {
		size = 1
	}
	log := logger.GetLogger()
	b := &Buffer[T]{
		name: name,
		C:    make(chan T, size),
		log:  log,
	}
	log.WithComponent("channel").WithFields(logger.Fields{
		"buffer":      name,
		"buffer_size": size,
	}).Info("buffer initialized")
	return b
}

func (b *Buffer[T]) Name() string { return b.name }

func (b *Buffer[T]) Len() int { return len(b.C) }

func (b *Buffer[T]) Cap() int { return cap(b.C) }

// Send enqueues item. It reports false when ctx is done or the buffer is
// full.
func (b *Buffer[T]) Send(ctx context.Context, item T) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case b.C <- item:
		b.statsMutex.Lock()
		b.stats.Sent++
		b.statsMutex.Unlock()
		return true
	default:
		b.statsMutex.Lock()
		b.stats.Dropped++
		b.statsMutex.Unlock()
		return false
	}
}

func (b *Buffer[T]) GetStats() Stats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()
	return b.stats
}

// Close closes the underlying channel. Further sends panic, so the producer
// side must be stopped first.
func (b *Buffer[T]) Close() {
	b.closeOnce.Do(func() {
		close(b.C)
		b.log.WithComponent("channel").WithFields(logger.Fields{"buffer": b.name}).Info("buffer closed")
	})
}

// StartMetricsReporting emits occupancy gauges every interval until ctx is
// cancelled.
func (b *Buffer[T]) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := b.GetStats()
				metrics.EmitMetric(b.log, "channel_buffers", b.name+"_buffer_length", b.Len(), "gauge", logger.Fields{
					"buffer":   b.name,
					"capacity": b.Cap(),
					"dropped":  stats.Dropped,
				})
			}
		}
	}()
}
