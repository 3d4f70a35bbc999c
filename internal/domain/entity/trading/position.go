package trading

import "time"

// Side of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SideForAction maps an entry action onto the position side it opens.
func SideForAction(a Action) Side {
	if a == ActionSell {
		return SideShort
	}
	return SideLong
}

// Position is one open holding. It is owned by the position ledger; the
// risk pipeline only queries existence and counts.
type Position struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Quantity   int64     `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	Side       Side      `json:"side"`
	OpenTime   time.Time `json:"open_time"`
}
