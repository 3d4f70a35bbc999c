package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
)

var (
	ErrPositionOpen     = errors.New("position already open for strategy and symbol")
	ErrPositionNotFound = errors.New("no open position for strategy and symbol")
)

// MemoryLedger is the in-process position book: at most one open position
// per (strategy, symbol), realized P&L accumulated on closes, unrealized
// P&L recomputed from the latest marks. Money math runs on decimals so the
// loss-limit comparisons in the emergency monitor are exact.
type MemoryLedger struct {
	mu        sync.Mutex
	positions map[string]trading.Position
	marks     map[string]float64
	realized  decimal.Decimal
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		positions: make(map[string]trading.Position),
		marks:     make(map[string]float64),
	}
}

func posKey(strategyID, symbol string) string {
	return strategyID + "|" + symbol
}

func (l *MemoryLedger) CountOpen(_ context.Context, strategyID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, pos := range l.positions {
		if pos.StrategyID == strategyID {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) CountOpenTotal(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions), nil
}

func (l *MemoryLedger) Exists(_ context.Context, strategyID, symbol string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[posKey(strategyID, symbol)]
	return ok, nil
}

func (l *MemoryLedger) Get(_ context.Context, strategyID, symbol string) (*trading.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[posKey(strategyID, symbol)]
	if !ok {
		return nil, nil
	}
	out := pos
	return &out, nil
}

// OpenPositions returns every open position sorted by strategy then symbol.
func (l *MemoryLedger) OpenPositions(context.Context) ([]trading.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]trading.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// ApplyFill opens a position on an entry fill and closes the whole position
// on an exit fill, returning the realized P&L delta of the close. Exits of
// a position that does not exist, or entries over one that does, are
// errors: the admission pipeline should have filtered them.
func (l *MemoryLedger) ApplyFill(fill trading.Fill) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := posKey(fill.StrategyID, fill.Symbol)
	l.marks[fill.Symbol] = fill.Price

	if fill.Action.IsEntry() {
		if _, ok := l.positions[key]; ok {
			return decimal.Zero, ErrPositionOpen
		}
		l.positions[key] = trading.Position{
			StrategyID: fill.StrategyID,
			Symbol:     fill.Symbol,
			Quantity:   fill.Quantity,
			EntryPrice: fill.Price,
			Side:       trading.SideForAction(fill.Action),
			OpenTime:   fill.ExecutedAt,
		}
		return decimal.Zero, nil
	}

	pos, ok := l.positions[key]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	delete(l.positions, key)

	realized := pnl(pos, fill.Price)
	l.realized = l.realized.Add(realized)
	return realized, nil
}

func (l *MemoryLedger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[symbol] = price
}

func (l *MemoryLedger) LastPrice(symbol string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	price, ok := l.marks[symbol]
	return price, ok
}

func (l *MemoryLedger) RealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// UnrealizedPnL marks every open position against the latest recorded
// price. A symbol that was never marked after entry contributes zero.
func (l *MemoryLedger) UnrealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for _, pos := range l.positions {
		mark, ok := l.marks[pos.Symbol]
		if !ok {
			continue
		}
		total = total.Add(pnl(pos, mark))
	}
	return total
}

// pnl is the signed profit of closing pos at price: longs gain as price
// rises, shorts as it falls.
func pnl(pos trading.Position, price float64) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(pos.EntryPrice))
	if pos.Side == trading.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(pos.Quantity))
}
