package market

import "time"

// Tick is a single traded print for a symbol. Ticks arrive in
// non-decreasing timestamp order per symbol; interleaving across
// symbols carries no ordering guarantee.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
