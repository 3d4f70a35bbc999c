package trading

import (
	"time"

	"github.com/google/uuid"
)

// RejectReason is a stable machine-readable admission outcome code.
type RejectReason string

const (
	ReasonNone                          RejectReason = ""
	ReasonTradingHalted                 RejectReason = "TradingHalted"
	ReasonDuplicateSignal               RejectReason = "DuplicateSignal"
	ReasonPositionExists                RejectReason = "PositionExists"
	ReasonPositionSizeExceeded          RejectReason = "PositionSizeExceeded"
	ReasonStrategyPositionLimitExceeded RejectReason = "StrategyPositionLimitExceeded"
	ReasonTotalPositionLimitExceeded    RejectReason = "TotalPositionLimitExceeded"
	ReasonDailyLossLimitExceeded        RejectReason = "DailyLossLimitExceeded"
	ReasonStoreUnavailable              RejectReason = "StoreUnavailable"
)

// Decision is the structured outcome of risk admission. Rejections are
// values, not errors, so a caller can never mistake one for an order.
type Decision struct {
	SignalID         uuid.UUID    `json:"signal_id"`
	StrategyID       string       `json:"strategy_id"`
	Symbol           string       `json:"symbol"`
	Action           Action       `json:"action"`
	Approved         bool         `json:"approved"`
	Reason           RejectReason `json:"reason,omitempty"`
	ApprovedQuantity int64        `json:"approved_quantity"`
	EvaluatedAt      time.Time    `json:"evaluated_at"`
}
