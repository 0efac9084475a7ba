package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/gorilla/websocket"

	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
	defaultTradeBuffer    = 1000
)

type streamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamState struct {
	mu      sync.Mutex
	depth   []byte
	trades  deque.Deque[json.RawMessage]
	dropped int64
}

// StreamSource serves order books and trades from a combined websocket
// stream. Each instrument keeps its latest depth frame and a bounded buffer
// of trade frames; the oldest trades are dropped when the buffer is full.
type StreamSource struct {
	desc           Descriptor
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	bufferSize     int
	log            *logger.Log

	mu     sync.RWMutex
	states map[string]*streamState
	wg     sync.WaitGroup
}

func NewStreamSource(desc Descriptor, dialer *websocket.Dialer) *StreamSource {
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	size := desc.Stream.TradeBuffer
	if size <= 0 {
		size = defaultTradeBuffer
	}
	return &StreamSource{
		desc:           desc,
		dialer:         dialer,
		reconnectDelay: defaultReconnectDelay,
		bufferSize:     size,
		log:            logger.GetLogger(),
		states:         make(map[string]*streamState),
	}
}

// Run opens one connection per instrument and keeps it alive until ctx is
// cancelled.
func (s *StreamSource) Run(ctx context.Context, ids []models.InstrumentID, depth int) {
	for _, id := range ids {
		state := s.state(id.Code)
		url := expander(id, depth).Replace(s.desc.Stream.URL)
		s.wg.Add(1)
		go func(id models.InstrumentID) {
			defer s.wg.Done()
			s.runConnection(ctx, id, url, state)
		}(id)
	}
}

// Wait blocks until every connection loop has returned.
func (s *StreamSource) Wait() {
	s.wg.Wait()
}

func (s *StreamSource) state(code string) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[code]
	if !ok {
		st = &streamState{}
		s.states[code] = st
	}
	return st
}

func (s *StreamSource) lookupState(code string) (*streamState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[code]
	return st, ok
}

// OrderBook returns the latest depth frame, or nil when none arrived yet.
func (s *StreamSource) OrderBook(_ context.Context, id models.InstrumentID, _ int) ([]byte, error) {
	st, ok := s.lookupState(id.Code)
	if !ok {
		return nil, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.depth == nil {
		return nil, nil
	}
	return append([]byte(nil), st.depth...), nil
}

// Trades drains buffered trade frames as a JSON array in arrival order.
func (s *StreamSource) Trades(_ context.Context, id models.InstrumentID) ([]byte, error) {
	st, ok := s.lookupState(id.Code)
	if !ok {
		return nil, nil
	}
	st.mu.Lock()
	frames := make([]json.RawMessage, 0, st.trades.Len())
	for st.trades.Len() > 0 {
		frames = append(frames, st.trades.PopFront())
	}
	st.mu.Unlock()
	if len(frames) == 0 {
		return nil, nil
	}
	return json.Marshal(frames)
}

func (s *StreamSource) handle(st *streamState, msg []byte) {
	var frame streamFrame
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame.Data) == 0 {
		return
	}
	data := append(json.RawMessage(nil), frame.Data...)

	dropped := false
	st.mu.Lock()
	switch {
	case s.desc.Stream.TradeSuffix != "" && strings.HasSuffix(frame.Stream, s.desc.Stream.TradeSuffix):
		if st.trades.Len() >= s.bufferSize {
			st.trades.PopFront()
			st.dropped++
			dropped = true
		}
		st.trades.PushBack(data)
	case s.desc.Stream.DepthSuffix != "" && strings.Contains(frame.Stream, s.desc.Stream.DepthSuffix):
		st.depth = data
	}
	st.mu.Unlock()

	if dropped {
		metrics.EmitDropMetric(s.log, metrics.DropMetricStreamTrades, s.desc.Exchange, frame.Stream, "stream_buffer")
	}
}

func (s *StreamSource) runConnection(ctx context.Context, id models.InstrumentID, url string, st *streamState) {
	log := s.log.WithComponent("stream_source").WithFields(logger.Fields{
		"exchange":   id.Exchange,
		"instrument": id.Name,
	})
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"url": url}).Warn("failed to connect to websocket")
			if waitForReconnect(ctx, s.reconnectDelay) {
				return
			}
			continue
		}
		log.Info("websocket connected")

		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-connCtx.Done()
			conn.Close()
		}()
		go keepAlive(connCtx, conn, defaultKeepAlive, cancel)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("websocket read loop ended")
				}
				break
			}
			s.handle(st, msg)
		}
		cancel()

		if waitForReconnect(ctx, s.reconnectDelay) {
			return
		}
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn, interval time.Duration, cancel context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				cancel()
				return
			}
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
