package models

import (
	"fmt"
	"strings"
	"sync"
)

// InstrumentID identifies one tradable pair on one exchange. It never
// changes after the instrument is created.
type InstrumentID struct {
	Exchange string `json:"exchange" yaml:"exchange"`
	Name     string `json:"name" yaml:"name"`
	Code     string `json:"code" yaml:"code"`
	Class    string `json:"class" yaml:"class"`
}

func (id InstrumentID) String() string {
	return fmt.Sprintf("%s/%s", id.Exchange, id.Name)
}

// StreamID is the key used for published records of this instrument.
func (id InstrumentID) StreamID() string {
	return StreamID(id.Exchange, id.Name)
}

// StreamID derives the publish key from exchange and instrument name.
func StreamID(exchange, name string) string {
	return exchange + "_" + name
}

// SnapshotTableName derives the order book table for an instrument.
func SnapshotTableName(exchange, name string) string {
	return strings.ToLower(fmt.Sprintf("exch_%s_%s_snapshot", exchange, name))
}

// TradesTableName derives the trades table for an instrument.
func TradesTableName(exchange, name string) string {
	return strings.ToLower(fmt.Sprintf("exch_%s_%s_trades", exchange, name))
}

// Instrument is the unit of work of a gateway. Book is written only by the
// order book worker and Trades only by the trade worker; each state has its
// own guard so readers never serialize the two streams.
type Instrument struct {
	InstrumentID
	Book   *BookState
	Trades *TradeState
}

func NewInstrument(id InstrumentID, depth int) *Instrument {
	return &Instrument{
		InstrumentID: id,
		Book:         NewBookState(depth),
		Trades:       NewTradeState(),
	}
}

// BookState is the order book half of an instrument.
type BookState struct {
	mu       sync.RWMutex
	current  L2Depth
	previous L2Depth
	sequence int64
}

func NewBookState(depth int) *BookState {
	return &BookState{
		current:  NewL2Depth(depth),
		previous: NewL2Depth(depth),
	}
}

// Current returns a copy of the latest accepted ladder.
func (b *BookState) Current() L2Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.Copy()
}

// Previous returns a copy of the ladder replaced by the latest rotation.
func (b *BookState) Previous() L2Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.previous.Copy()
}

// Snapshot returns current, previous and sequence under one lock.
func (b *BookState) Snapshot() (current, previous L2Depth, seq int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.Copy(), b.previous.Copy(), b.sequence
}

func (b *BookState) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// IsDiff compares next against the current ladder.
func (b *BookState) IsDiff(next L2Depth) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.IsDiff(next)
}

// Rotate moves current to previous, stores next as current and returns the
// incremented sequence.
func (b *BookState) Rotate(next L2Depth) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.previous = b.current
	b.current = next.Copy()
	b.sequence++
	return b.sequence
}

// TradeState is the trade half of an instrument.
type TradeState struct {
	mu          sync.RWMutex
	lastTradeID string
	sequence    int64
	recovered   bool
}

func NewTradeState() *TradeState {
	return &TradeState{lastTradeID: "0"}
}

// LastTradeID is the watermark: the id of the last accepted trade.
func (t *TradeState) LastTradeID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastTradeID
}

func (t *TradeState) Sequence() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sequence
}

func (t *TradeState) Recovered() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recovered
}

// Accept raises the watermark to id and returns the incremented sequence.
// The caller has already checked that id is newer.
func (t *TradeState) Accept(id string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTradeID = id
	t.sequence++
	return t.sequence
}

// MarkRecovered sets the recovered flag and reports whether this call
// performed the transition.
func (t *TradeState) MarkRecovered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recovered {
		return false
	}
	t.recovered = true
	return true
}
