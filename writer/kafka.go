package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "marketfeed/config"
	"marketfeed/internal/symbols"
	"marketfeed/logger"
	"marketfeed/models"
)

const (
	defaultOrderBookTopic = "marketfeed.order_book"
	defaultTradeTopic     = "marketfeed.trades"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes accepted records as JSON, keyed by the stream id
// <exchange>_<instrument>.
type KafkaWriter struct {
	writer     messageWriter
	bookTopic  string
	tradeTopic string
	log        *logger.Log

	mu     sync.Mutex
	closed bool
}

func NewKafkaWriter(cfg *appconfig.Config) (*KafkaWriter, error) {
	kcfg := cfg.Writer.Kafka
	if len(kcfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	log := logger.GetLogger()
	batchTimeout := kcfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	kw := &KafkaWriter{
		bookTopic:  kcfg.OrderBookTopic,
		tradeTopic: kcfg.TradeTopic,
		log:        log,
	}
	kw.writer = &kafka.Writer{
		Addr:         kafka.TCP(kcfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: batchTimeout,
		Async:        true,
		Completion:   kw.completion,
	}
	kw.applyDefaults()

	log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers":          kcfg.Brokers,
		"order_book_topic": kw.bookTopic,
		"trade_topic":      kw.tradeTopic,
	}).Info("kafka writer initialized")
	return kw, nil
}

func (kw *KafkaWriter) applyDefaults() {
	if kw.bookTopic == "" {
		kw.bookTopic = defaultOrderBookTopic
	}
	if kw.tradeTopic == "" {
		kw.tradeTopic = defaultTradeTopic
	}
	if kw.log == nil {
		kw.log = logger.GetLogger()
	}
}

func (kw *KafkaWriter) Name() string { return "kafka" }

func (kw *KafkaWriter) InsertOrderBookSnapshot(ctx context.Context, id models.InstrumentID, depth models.L2Depth, seq int64) error {
	rec := models.NewOrderBookRecord(id, symbols.Normalize(id.Exchange, id.Code), depth, seq)
	msg, err := recordMessage(kw.bookTopic, id, rec)
	if err != nil {
		return err
	}
	return kw.write(ctx, msg)
}

func (kw *KafkaWriter) InsertTrade(ctx context.Context, id models.InstrumentID, trade models.Trade, seq int64) error {
	rec := models.NewTradeRecord(id, symbols.Normalize(id.Exchange, id.Code), trade, seq)
	msg, err := recordMessage(kw.tradeTopic, id, rec)
	if err != nil {
		return err
	}
	return kw.write(ctx, msg)
}

func (kw *KafkaWriter) write(ctx context.Context, msg kafka.Message) error {
	kw.mu.Lock()
	closed := kw.closed
	kw.mu.Unlock()
	if closed {
		return fmt.Errorf("kafka writer closed")
	}
	if err := kw.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", msg.Topic, err)
	}
	return nil
}

// completion runs once per async batch.
func (kw *KafkaWriter) completion(messages []kafka.Message, err error) {
	if err == nil {
		kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
			"messages": len(messages),
		}).Debug("batch delivered")
		return
	}
	topics := make(map[string]int)
	for _, m := range messages {
		topics[m.Topic]++
	}
	kw.log.WithComponent("kafka_writer").WithError(err).WithFields(logger.Fields{
		"messages": len(messages),
		"topics":   topics,
	}).Warn("kafka delivery failed")
}

// Close flushes pending async batches.
func (kw *KafkaWriter) Close() error {
	kw.mu.Lock()
	if kw.closed {
		kw.mu.Unlock()
		return nil
	}
	kw.closed = true
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Info("closing kafka writer")
	return kw.writer.Close()
}

func recordMessage(topic string, id models.InstrumentID, rec any) (kafka.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s record: %w", id.StreamID(), err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(id.StreamID()),
		Value: data,
		Time:  time.Now(),
	}, nil
}
