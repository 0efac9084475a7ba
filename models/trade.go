package models

import (
	"fmt"
	"strings"
	"time"
)

// TradeSide is the aggressor side of a trade. Unknown is reported by
// exchanges that do not publish a side.
type TradeSide int

const (
	SideUnknown TradeSide = iota
	SideBuy
	SideSell
)

func (s TradeSide) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s TradeSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TradeSide) UnmarshalText(b []byte) error {
	side, err := ParseTradeSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseTradeSide converts buy/sell/unknown into a TradeSide.
func ParseTradeSide(v string) (TradeSide, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	case "unknown", "":
		return SideUnknown, nil
	default:
		return SideUnknown, fmt.Errorf("unknown trade side %q", v)
	}
}

// Trade is a single public trade. TradeID keeps the exchange-native form;
// ordering between ids is numeric.
type Trade struct {
	DateTime time.Time `json:"date_time"`
	TradeID  string    `json:"trade_id"`
	Side     TradeSide `json:"side"`
	Price    float64   `json:"price"`
	Volume   float64   `json:"volume"`
}
