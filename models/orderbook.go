package models

import (
	"encoding/json"
	"fmt"
)

// OrderbookLevel is a single (price, size) entry. On the wire it is the
// two-element array form used by the exchange, e.g. [50000.0, 0.1].
type OrderbookLevel struct {
	Price float64
	Size  float64
}

// MarshalJSON encodes the level as a [price, size] pair.
func (l OrderbookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price, l.Size})
}

// UnmarshalJSON decodes a level from an array with at least two numeric
// elements. Extra elements are ignored, matching the upstream feed which
// may append depth metadata.
func (l *OrderbookLevel) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("orderbook level needs at least 2 elements, got %d", len(raw))
	}
	l.Price = raw[0]
	l.Size = raw[1]
	return nil
}

// Orderbook is the full bid/ask ladder for one instrument. Levels keep
// the order the feed delivered them in; the store never re-sorts. Each
// update replaces the whole book, there is no incremental merge.
type Orderbook struct {
	Instrument string           `json:"instrument"`
	Bids       []OrderbookLevel `json:"bids"`
	Asks       []OrderbookLevel `json:"asks"`
	Timestamp  int64            `json:"timestamp"`
}

// Clone returns a deep copy so callers can never mutate stored state.
func (b Orderbook) Clone() Orderbook {
	out := Orderbook{
		Instrument: b.Instrument,
		Timestamp:  b.Timestamp,
	}
	if b.Bids != nil {
		out.Bids = append([]OrderbookLevel(nil), b.Bids...)
	}
	if b.Asks != nil {
		out.Asks = append([]OrderbookLevel(nil), b.Asks...)
	}
	return out
}
