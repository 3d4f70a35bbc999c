package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
)

// DedupStore suppresses duplicate trade intents. Any store with
// set-if-absent semantics and TTL expiry satisfies it: the in-process map
// for a single node, Redis when several consumers share the dedup window.
type DedupStore interface {
	// SetIfAbsent atomically claims key for ttl. It returns true when the
	// claim is fresh, false when a live claim already exists.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// PositionLedger owns open positions and P&L accounting. The risk pipeline
// only reads it; fills mutate it. Implementations may sit on an external
// store, so the read methods can fail and callers must treat failure as a
// conservative rejection.
type PositionLedger interface {
	CountOpen(ctx context.Context, strategyID string) (int, error)
	CountOpenTotal(ctx context.Context) (int, error)
	Exists(ctx context.Context, strategyID, symbol string) (bool, error)
	Get(ctx context.Context, strategyID, symbol string) (*trading.Position, error)
	OpenPositions(ctx context.Context) ([]trading.Position, error)

	// ApplyFill folds an executed fill into the book. Entry fills open a
	// position; exit fills close one and report the realized P&L delta.
	ApplyFill(fill trading.Fill) (realizedDelta decimal.Decimal, err error)

	// MarkPrice records the latest traded price used for mark-to-market.
	MarkPrice(symbol string, price float64)
	// LastPrice returns the most recent mark for symbol, if any.
	LastPrice(symbol string) (float64, bool)

	RealizedPnL() decimal.Decimal
	UnrealizedPnL() decimal.Decimal
}

// OrderExecutor is the execution port. Implementations fill approved
// orders against a venue (or a paper book) and report the fill.
type OrderExecutor interface {
	Execute(ctx context.Context, order trading.Order) (trading.Fill, error)
}

// Liquidator force-closes every open position. The emergency monitor calls
// it on a halt transition; the engine implements it on top of the executor
// and the ledger.
type Liquidator interface {
	CloseAllPositions(ctx context.Context) (int, error)
}
