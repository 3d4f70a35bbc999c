package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/metrics"
)

var (
	ErrBadNotionalCap   = errors.New("max position size must be positive")
	ErrBadPositionCaps  = errors.New("position count limits must be positive")
	ErrBadDedupWindow   = errors.New("dedup window must be positive when deduplication is enabled")
	ErrBadFixedLot      = errors.New("fixed lot size must not be negative")
	ErrBadStoreTimeout  = errors.New("store timeout must be positive")
	ErrMissingHaltState = errors.New("halt monitor is required")
)

// recentDecisionsCap bounds the in-memory decision log served by the ops
// API.
const recentDecisionsCap = 100

// HaltMonitor is the slice of the emergency monitor the pipeline consults:
// the circuit-breaker flag for check 1 and the loss limits for check 8.
type HaltMonitor interface {
	Halted() bool
	LossLimitBreached() bool
}

// PositionBook is the read-only slice of the position ledger the pipeline
// needs. Admission only ever queries existence and counts; it never mutates
// positions.
type PositionBook interface {
	Exists(ctx context.Context, strategyID, symbol string) (bool, error)
	CountOpen(ctx context.Context, strategyID string) (int, error)
	CountOpenTotal(ctx context.Context) (int, error)
}

type Config struct {
	EnableDeduplication     bool
	DedupWindow             time.Duration
	FixedLotSize            int64 // 0 disables the override
	MaxPositionSize         decimal.Decimal
	MaxPositionsPerStrategy int
	MaxTotalPositions       int
	StoreTimeout            time.Duration
}

// Service is the admission pipeline every proposed signal passes before it
// may become an order. Checks run in a fixed, short-circuiting order; the
// first failure decides the rejection reason. The outcome is always a
// structured Decision: the pipeline never panics a signal away, and store
// failures surface as conservative rejections, never approvals.
//
// Entries face the full chain. Exits face only the halt check and duplicate
// suppression: an exit reduces exposure, so sizing and count caps must not
// be able to trap an open position.
type Service struct {
	cfg     Config
	logger  *logrus.Entry
	dedup   interfaces.DedupStore
	ledger  PositionBook
	monitor HaltMonitor

	// keyed locks make checks 2-3 one atomic unit per (strategy, symbol):
	// two concurrent signals for the same key cannot both pass.
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	recentMu sync.Mutex
	recent   []trading.Decision
}

func NewService(cfg Config, dedup interfaces.DedupStore, ledger PositionBook, monitor HaltMonitor, logger *logrus.Logger) (*Service, error) {
	if !cfg.MaxPositionSize.IsPositive() {
		return nil, ErrBadNotionalCap
	}
	if cfg.MaxPositionsPerStrategy <= 0 || cfg.MaxTotalPositions <= 0 {
		return nil, ErrBadPositionCaps
	}
	if cfg.EnableDeduplication && cfg.DedupWindow <= 0 {
		return nil, ErrBadDedupWindow
	}
	if cfg.FixedLotSize < 0 {
		return nil, ErrBadFixedLot
	}
	if cfg.StoreTimeout <= 0 {
		return nil, ErrBadStoreTimeout
	}
	if monitor == nil {
		return nil, ErrMissingHaltState
	}
	return &Service{
		cfg:     cfg,
		logger:  logger.WithField("component", "risk_pipeline"),
		dedup:   dedup,
		ledger:  ledger,
		monitor: monitor,
		keys:    make(map[string]*sync.Mutex),
	}, nil
}

// Evaluate runs the admission chain for one signal and returns the
// decision. It never returns an error: failure paths are rejections with a
// machine-readable reason.
func (s *Service) Evaluate(ctx context.Context, signal trading.Signal) trading.Decision {
	decision := s.evaluate(ctx, signal)
	s.remember(decision)

	result := "rejected"
	reason := string(decision.Reason)
	if decision.Approved {
		result, reason = "approved", "none"
	}
	metrics.DecisionsTotal.WithLabelValues(result, reason).Inc()

	entry := s.logger.WithFields(logrus.Fields{
		"signal_id": decision.SignalID,
		"strategy":  decision.StrategyID,
		"symbol":    decision.Symbol,
		"action":    decision.Action,
	})
	if decision.Approved {
		entry.WithField("approved_quantity", decision.ApprovedQuantity).Info("signal approved")
	} else {
		entry.WithField("reason", decision.Reason).Warn("signal rejected")
	}
	return decision
}

func (s *Service) evaluate(ctx context.Context, signal trading.Signal) trading.Decision {
	// Check 1: circuit breaker. Applies to every signal, entries and exits
	// alike; the monitor's own liquidation path does not go through here.
	if s.monitor.Halted() {
		return s.reject(signal, trading.ReasonTradingHalted)
	}

	key := signal.StrategyID + "|" + signal.Symbol
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Check 2: duplicate suppression. SetIfAbsent both tests and claims the
	// marker, so a concurrent same-key signal loses the race here. A claim
	// left behind by a later rejection expires with the window.
	if s.cfg.EnableDeduplication {
		claimed, err := s.setDedupMarker(ctx, signal)
		if err != nil {
			return s.rejectStore(signal, err)
		}
		if !claimed {
			return s.reject(signal, trading.ReasonDuplicateSignal)
		}
	}

	if !signal.Action.IsEntry() {
		return s.approve(signal, signal.Quantity)
	}

	// Check 3: one position per (strategy, symbol).
	exists, err := s.positionExists(ctx, signal)
	if err != nil {
		return s.rejectStore(signal, err)
	}
	if exists {
		return s.reject(signal, trading.ReasonPositionExists)
	}

	// Check 4: fixed-lot override rewrites the quantity, never rejects.
	quantity := signal.Quantity
	if s.cfg.FixedLotSize > 0 {
		quantity = s.cfg.FixedLotSize
	}

	// Check 5: per-position notional cap.
	notional := decimal.NewFromInt(quantity).Mul(decimal.NewFromFloat(signal.Price))
	if notional.GreaterThan(s.cfg.MaxPositionSize) {
		return s.reject(signal, trading.ReasonPositionSizeExceeded)
	}

	// Check 6: per-strategy open position cap.
	strategyOpen, err := s.countOpen(ctx, signal.StrategyID)
	if err != nil {
		return s.rejectStore(signal, err)
	}
	if strategyOpen >= s.cfg.MaxPositionsPerStrategy {
		return s.reject(signal, trading.ReasonStrategyPositionLimitExceeded)
	}

	// Check 7: global open position cap.
	totalOpen, err := s.countOpenTotal(ctx)
	if err != nil {
		return s.rejectStore(signal, err)
	}
	if totalOpen >= s.cfg.MaxTotalPositions {
		return s.reject(signal, trading.ReasonTotalPositionLimitExceeded)
	}

	// Check 8: daily loss guard. The emergency monitor is the primary
	// enforcement; this catches a breach the halt transition has not
	// finished reacting to.
	if s.monitor.LossLimitBreached() {
		return s.reject(signal, trading.ReasonDailyLossLimitExceeded)
	}

	return s.approve(signal, quantity)
}

// RecentDecisions returns up to recentDecisionsCap latest decisions, newest
// first.
func (s *Service) RecentDecisions() []trading.Decision {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	out := make([]trading.Decision, 0, len(s.recent))
	for i := len(s.recent) - 1; i >= 0; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

func (s *Service) setDedupMarker(ctx context.Context, signal trading.Signal) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.dedup.SetIfAbsent(ctx, signal.DedupKey(), s.cfg.DedupWindow)
}

func (s *Service) positionExists(ctx context.Context, signal trading.Signal) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.ledger.Exists(ctx, signal.StrategyID, signal.Symbol)
}

func (s *Service) countOpen(ctx context.Context, strategyID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.ledger.CountOpen(ctx, strategyID)
}

func (s *Service) countOpenTotal(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.ledger.CountOpenTotal(ctx)
}

func (s *Service) keyLock(key string) *sync.Mutex {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	lock, ok := s.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keys[key] = lock
	}
	return lock
}

func (s *Service) approve(signal trading.Signal, quantity int64) trading.Decision {
	return trading.Decision{
		SignalID:         signal.ID,
		StrategyID:       signal.StrategyID,
		Symbol:           signal.Symbol,
		Action:           signal.Action,
		Approved:         true,
		Reason:           trading.ReasonNone,
		ApprovedQuantity: quantity,
		EvaluatedAt:      time.Now().UTC(),
	}
}

func (s *Service) reject(signal trading.Signal, reason trading.RejectReason) trading.Decision {
	return trading.Decision{
		SignalID:    signal.ID,
		StrategyID:  signal.StrategyID,
		Symbol:      signal.Symbol,
		Action:      signal.Action,
		Approved:    false,
		Reason:      reason,
		EvaluatedAt: time.Now().UTC(),
	}
}

// rejectStore is the conservative path for an unreachable or timed-out
// store: log and drop the signal, never approve it and never retry it.
func (s *Service) rejectStore(signal trading.Signal, err error) trading.Decision {
	s.logger.WithFields(logrus.Fields{
		"signal_id": signal.ID,
		"strategy":  signal.StrategyID,
		"symbol":    signal.Symbol,
		"action":    signal.Action,
	}).WithError(err).Error("store failure, rejecting signal")
	return s.reject(signal, trading.ReasonStoreUnavailable)
}

func (s *Service) remember(decision trading.Decision) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	if len(s.recent) == recentDecisionsCap {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:recentDecisionsCap-1]
	}
	s.recent = append(s.recent, decision)
}
