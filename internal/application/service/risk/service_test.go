package risk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
)

type stubDedup struct {
	mu   sync.Mutex
	keys map[string]time.Time
	err  error
}

func newStubDedup() *stubDedup {
	return &stubDedup{keys: make(map[string]time.Time)}
}

func (d *stubDedup) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if expiry, ok := d.keys[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	d.keys[key] = time.Now().Add(ttl)
	return true, nil
}

func (d *stubDedup) Exists(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	expiry, ok := d.keys[key]
	return ok && time.Now().Before(expiry), nil
}

type stubBook struct {
	mu          sync.Mutex
	positions   map[string]bool
	perStrategy map[string]int
	total       int
	err         error
}

func newStubBook() *stubBook {
	return &stubBook{positions: make(map[string]bool), perStrategy: make(map[string]int)}
}

func (b *stubBook) addPosition(strategyID, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[strategyID+"|"+symbol] = true
	b.perStrategy[strategyID]++
	b.total++
}

func (b *stubBook) Exists(_ context.Context, strategyID, symbol string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	return b.positions[strategyID+"|"+symbol], nil
}

func (b *stubBook) CountOpen(_ context.Context, strategyID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.perStrategy[strategyID], nil
}

func (b *stubBook) CountOpenTotal(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.total, nil
}

type stubMonitor struct {
	halted   bool
	breached bool
}

func (m *stubMonitor) Halted() bool            { return m.halted }
func (m *stubMonitor) LossLimitBreached() bool { return m.breached }

func testConfig() Config {
	return Config{
		EnableDeduplication:     true,
		DedupWindow:             5 * time.Second,
		MaxPositionSize:         decimal.NewFromInt(1000000),
		MaxPositionsPerStrategy: 2,
		MaxTotalPositions:       3,
		StoreTimeout:            500 * time.Millisecond,
	}
}

func newTestPipeline(t *testing.T, cfg Config, dedup *stubDedup, book *stubBook, monitor *stubMonitor) *Service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc, err := NewService(cfg, dedup, book, monitor, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func signal(strategy, symbol string, action trading.Action, quantity int64, price float64) trading.Signal {
	return trading.Signal{
		ID:         uuid.New(),
		StrategyID: strategy,
		Symbol:     symbol,
		Action:     action,
		Quantity:   quantity,
		Price:      price,
		Reason:     "test",
		At:         time.Now().UTC(),
	}
}

func TestNewServiceValidation(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dedup, book, monitor := newStubDedup(), newStubBook(), &stubMonitor{}

	cfg := testConfig()
	cfg.MaxPositionSize = decimal.Zero
	if _, err := NewService(cfg, dedup, book, monitor, logger); !errors.Is(err, ErrBadNotionalCap) {
		t.Errorf("expected ErrBadNotionalCap, got %v", err)
	}

	cfg = testConfig()
	cfg.MaxTotalPositions = 0
	if _, err := NewService(cfg, dedup, book, monitor, logger); !errors.Is(err, ErrBadPositionCaps) {
		t.Errorf("expected ErrBadPositionCaps, got %v", err)
	}

	cfg = testConfig()
	cfg.DedupWindow = 0
	if _, err := NewService(cfg, dedup, book, monitor, logger); !errors.Is(err, ErrBadDedupWindow) {
		t.Errorf("expected ErrBadDedupWindow, got %v", err)
	}

	cfg = testConfig()
	cfg.FixedLotSize = -1
	if _, err := NewService(cfg, dedup, book, monitor, logger); !errors.Is(err, ErrBadFixedLot) {
		t.Errorf("expected ErrBadFixedLot, got %v", err)
	}

	cfg = testConfig()
	if _, err := NewService(cfg, dedup, book, nil, logger); !errors.Is(err, ErrMissingHaltState) {
		t.Errorf("expected ErrMissingHaltState, got %v", err)
	}
}

func TestApprovedSignalKeepsRequestedQuantity(t *testing.T) {
	svc := newTestPipeline(t, testConfig(), newStubDedup(), newStubBook(), &stubMonitor{})

	decision := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	if !decision.Approved {
		t.Fatalf("expected approval, got %s", decision.Reason)
	}
	if decision.ApprovedQuantity != 10 {
		t.Fatalf("expected quantity 10, got %d", decision.ApprovedQuantity)
	}
	if decision.Reason != trading.ReasonNone {
		t.Fatalf("approved decision must carry no reason, got %q", decision.Reason)
	}
}

func TestHaltRejectsAllSignalContent(t *testing.T) {
	svc := newTestPipeline(t, testConfig(), newStubDedup(), newStubBook(), &stubMonitor{halted: true})

	signals := []trading.Signal{
		signal("sma", "SBER", trading.ActionBuy, 10, 250),
		signal("sma", "GAZP", trading.ActionSell, 5, 150),
		signal("momo", "SBER", trading.ActionExit, 10, 250),
	}
	for _, sig := range signals {
		decision := svc.Evaluate(context.Background(), sig)
		if decision.Approved || decision.Reason != trading.ReasonTradingHalted {
			t.Fatalf("%s %s: expected TradingHalted, got %+v", sig.StrategyID, sig.Action, decision)
		}
	}
}

func TestDuplicateSignalRejectedWithinWindow(t *testing.T) {
	svc := newTestPipeline(t, testConfig(), newStubDedup(), newStubBook(), &stubMonitor{})

	first := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	if !first.Approved {
		t.Fatalf("first signal should pass, got %s", first.Reason)
	}

	second := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	if second.Approved || second.Reason != trading.ReasonDuplicateSignal {
		t.Fatalf("expected DuplicateSignal, got %+v", second)
	}

	// A different action is a different key.
	other := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionExit, 10, 250))
	if !other.Approved {
		t.Fatalf("different action must not collide, got %s", other.Reason)
	}
}

func TestDeduplicationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableDeduplication = false
	svc := newTestPipeline(t, cfg, newStubDedup(), newStubBook(), &stubMonitor{})

	first := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	second := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	if !first.Approved || !second.Approved {
		t.Fatalf("dedup off must not suppress: %+v / %+v", first, second)
	}
}

func TestEntryRejectedWhenPositionExists(t *testing.T) {
	book := newStubBook()
	book.addPosition("sma", "SBER")
	svc := newTestPipeline(t, testConfig(), newStubDedup(), book, &stubMonitor{})

	decision := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	if decision.Approved || decision.Reason != trading.ReasonPositionExists {
		t.Fatalf("expected PositionExists, got %+v", decision)
	}

	// The exit for that same position must pass.
	exit := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionExit, 10, 250))
	if !exit.Approved {
		t.Fatalf("exit must bypass entry checks, got %s", exit.Reason)
	}
}

func TestFixedLotOverridesRequestedQuantity(t *testing.T) {
	cfg := testConfig()
	cfg.FixedLotSize = 75
	svc := newTestPipeline(t, cfg, newStubDedup(), newStubBook(), &stubMonitor{})

	decision := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 500, 100))
	if !decision.Approved {
		t.Fatalf("override is not a rejection, got %s", decision.Reason)
	}
	if decision.ApprovedQuantity != 75 {
		t.Fatalf("expected fixed lot 75, got %d", decision.ApprovedQuantity)
	}
}

func TestFixedLotFeedsNotionalCheck(t *testing.T) {
	cfg := testConfig()
	cfg.FixedLotSize = 75
	cfg.MaxPositionSize = decimal.NewFromInt(5000)
	svc := newTestPipeline(t, cfg, newStubDedup(), newStubBook(), &stubMonitor{})

	// 75 * 100 = 7500 > 5000 even though the requested 10 * 100 would fit.
	decision := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 100))
	if decision.Approved || decision.Reason != trading.ReasonPositionSizeExceeded {
		t.Fatalf("notional check must use the overridden quantity, got %+v", decision)
	}
}

func TestNotionalCapBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = decimal.NewFromInt(2500)
	svc := newTestPipeline(t, cfg, newStubDedup(), newStubBook(), &stubMonitor{})

	// Exactly at the cap passes.
	atCap := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
	if !atCap.Approved {
		t.Fatalf("notional equal to the cap must pass, got %s", atCap.Reason)
	}

	over := svc.Evaluate(context.Background(), signal("sma", "GAZP", trading.ActionBuy, 10, 250.01))
	if over.Approved || over.Reason != trading.ReasonPositionSizeExceeded {
		t.Fatalf("expected PositionSizeExceeded, got %+v", over)
	}
}

func TestPerStrategyPositionCap(t *testing.T) {
	book := newStubBook()
	book.addPosition("sma", "SBER")
	book.addPosition("sma", "GAZP")
	svc := newTestPipeline(t, testConfig(), newStubDedup(), book, &stubMonitor{})

	decision := svc.Evaluate(context.Background(), signal("sma", "LKOH", trading.ActionBuy, 1, 100))
	if decision.Approved || decision.Reason != trading.ReasonStrategyPositionLimitExceeded {
		t.Fatalf("expected StrategyPositionLimitExceeded, got %+v", decision)
	}

	// Another strategy is still under its own cap.
	other := svc.Evaluate(context.Background(), signal("momo", "LKOH", trading.ActionBuy, 1, 100))
	if !other.Approved {
		t.Fatalf("per-strategy cap must not leak across strategies, got %s", other.Reason)
	}
}

func TestGlobalPositionCap(t *testing.T) {
	book := newStubBook()
	book.addPosition("sma", "SBER")
	book.addPosition("sma", "GAZP")
	book.addPosition("momo", "LKOH")
	svc := newTestPipeline(t, testConfig(), newStubDedup(), book, &stubMonitor{})

	// Three positions engine-wide: any further entry is rejected, even for
	// a strategy below its own per-strategy cap.
	decision := svc.Evaluate(context.Background(), signal("momo", "ROSN", trading.ActionBuy, 1, 100))
	if decision.Approved || decision.Reason != trading.ReasonTotalPositionLimitExceeded {
		t.Fatalf("expected TotalPositionLimitExceeded, got %+v", decision)
	}
}

func TestDailyLossGuardRejectsEntries(t *testing.T) {
	svc := newTestPipeline(t, testConfig(), newStubDedup(), newStubBook(), &stubMonitor{breached: true})

	entry := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 1, 100))
	if entry.Approved || entry.Reason != trading.ReasonDailyLossLimitExceeded {
		t.Fatalf("expected DailyLossLimitExceeded, got %+v", entry)
	}

	exit := svc.Evaluate(context.Background(), signal("sma", "GAZP", trading.ActionExit, 1, 100))
	if !exit.Approved {
		t.Fatalf("loss guard must not trap exits, got %s", exit.Reason)
	}
}

func TestStoreFailureIsConservativeRejection(t *testing.T) {
	dedup := newStubDedup()
	dedup.err = errors.New("redis: connection refused")
	svc := newTestPipeline(t, testConfig(), dedup, newStubBook(), &stubMonitor{})

	decision := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 1, 100))
	if decision.Approved || decision.Reason != trading.ReasonStoreUnavailable {
		t.Fatalf("expected StoreUnavailable, got %+v", decision)
	}

	book := newStubBook()
	book.err = errors.New("ledger offline")
	svc = newTestPipeline(t, testConfig(), newStubDedup(), book, &stubMonitor{})

	decision = svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 1, 100))
	if decision.Approved || decision.Reason != trading.ReasonStoreUnavailable {
		t.Fatalf("expected StoreUnavailable on ledger failure, got %+v", decision)
	}
}

func TestShortCircuitOrder(t *testing.T) {
	// Halted wins over everything, including a would-be duplicate.
	dedup := newStubDedup()
	svc := newTestPipeline(t, testConfig(), dedup, newStubBook(), &stubMonitor{halted: true})
	decision := svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 1, 100))
	if decision.Reason != trading.ReasonTradingHalted {
		t.Fatalf("check 1 must short-circuit, got %s", decision.Reason)
	}

	// Duplicate wins over position-exists.
	book := newStubBook()
	book.addPosition("sma", "SBER")
	svc = newTestPipeline(t, testConfig(), newStubDedup(), book, &stubMonitor{})
	svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 1, 100))
	decision = svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 1, 100))
	if decision.Reason != trading.ReasonDuplicateSignal {
		t.Fatalf("check 2 must run before check 3, got %s", decision.Reason)
	}
}

func TestConcurrentSameKeySignalsAdmitExactlyOne(t *testing.T) {
	svc := newTestPipeline(t, testConfig(), newStubDedup(), newStubBook(), &stubMonitor{})

	const racers = 8
	decisions := make([]trading.Decision, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = svc.Evaluate(context.Background(), signal("sma", "SBER", trading.ActionBuy, 10, 250))
		}(i)
	}
	wg.Wait()

	approved, duplicates := 0, 0
	for _, d := range decisions {
		switch {
		case d.Approved:
			approved++
		case d.Reason == trading.ReasonDuplicateSignal:
			duplicates++
		default:
			t.Fatalf("unexpected decision: %+v", d)
		}
	}
	if approved != 1 || duplicates != racers-1 {
		t.Fatalf("expected exactly 1 approval, got %d approved / %d duplicates", approved, duplicates)
	}
}

func TestRecentDecisionsNewestFirstAndBounded(t *testing.T) {
	cfg := testConfig()
	cfg.EnableDeduplication = false
	svc := newTestPipeline(t, cfg, newStubDedup(), newStubBook(), &stubMonitor{})

	for i := 0; i < recentDecisionsCap+20; i++ {
		svc.Evaluate(context.Background(), signal("sma", fmt.Sprintf("SYM%d", i), trading.ActionBuy, 1, 100))
	}

	recent := svc.RecentDecisions()
	if len(recent) != recentDecisionsCap {
		t.Fatalf("expected %d retained decisions, got %d", recentDecisionsCap, len(recent))
	}
	if recent[0].Symbol != fmt.Sprintf("SYM%d", recentDecisionsCap+19) {
		t.Fatalf("expected newest first, got %s", recent[0].Symbol)
	}
}
