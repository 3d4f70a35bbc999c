package trading

import (
	"time"

	"github.com/google/uuid"
)

// Action is what a strategy wants to do with a symbol. BUY and SELL open
// exposure (long/short entries); EXIT closes whatever is held.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionExit Action = "EXIT"
)

// IsEntry reports whether the action opens new exposure.
func (a Action) IsEntry() bool {
	return a == ActionBuy || a == ActionSell
}

// IsValid reports whether the action is one of the known verbs.
func (a Action) IsValid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionExit:
		return true
	default:
		return false
	}
}

// Signal is a proposed trade produced by a strategy. The risk pipeline may
// substitute its own approved quantity; it never mutates the signal.
type Signal struct {
	ID         uuid.UUID `json:"id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// DedupKey identifies the logical trade intent for duplicate suppression.
func (s Signal) DedupKey() string {
	return s.StrategyID + "|" + s.Symbol + "|" + string(s.Action)
}
