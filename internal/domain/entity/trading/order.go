package trading

import (
	"time"

	"github.com/google/uuid"
)

// Order is an admitted instruction handed to the execution port.
type Order struct {
	ID         uuid.UUID `json:"id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	PlacedAt   time.Time `json:"placed_at"`
}

// Fill reports an executed order back into the ledger and P&L path.
type Fill struct {
	OrderID    uuid.UUID `json:"order_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executed_at"`
}
