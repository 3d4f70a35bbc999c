package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/metrics"
)

var (
	ErrBadLossLimit = errors.New("max daily loss must be positive")
	ErrBadLossPct   = errors.New("max daily loss percent must be positive")
	ErrBadCapital   = errors.New("initial capital must be positive")
)

// State is the monitor's position in its two-state machine.
type State int

const (
	StateArmed State = iota
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	MaxDailyLoss       decimal.Decimal
	MaxDailyLossPct    decimal.Decimal
	InitialCapital     decimal.Decimal
	CloseAllAttempts   int
	CloseAllRetryDelay time.Duration
}

// Snapshot is a point-in-time copy of the daily risk state for logging and
// the ops API.
type Snapshot struct {
	State         string          `json:"state"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	DailyLoss     decimal.Decimal `json:"daily_loss"`
	DailyLossPct  decimal.Decimal `json:"daily_loss_pct"`
	TradingHalted bool            `json:"trading_halted"`
	HaltReason    string          `json:"halt_reason,omitempty"`
	HaltTime      *time.Time      `json:"halt_time,omitempty"`
}

// Service owns the process-wide daily risk state and the Armed -> Halted
// transition. It re-evaluates the loss limits on every P&L-affecting event
// (RecordFill, MarkUnrealized) rather than on a timer, so reaction latency
// is bounded by event arrival. The halt is monotonic: once Halted, only
// ResetForNewDay re-arms the monitor.
//
// All reads and writes of the risk state go through the service's lock, so
// the admission pipeline's halt check can never observe a torn transition.
type Service struct {
	cfg    Config
	logger *logrus.Entry

	mu         sync.RWMutex
	state      State
	realized   decimal.Decimal
	unrealized decimal.Decimal
	haltReason string
	haltTime   time.Time
	liquidator interfaces.Liquidator
}

func NewService(cfg Config, logger *logrus.Logger) (*Service, error) {
	if !cfg.MaxDailyLoss.IsPositive() {
		return nil, ErrBadLossLimit
	}
	if !cfg.MaxDailyLossPct.IsPositive() {
		return nil, ErrBadLossPct
	}
	if !cfg.InitialCapital.IsPositive() {
		return nil, ErrBadCapital
	}
	if cfg.CloseAllAttempts <= 0 {
		cfg.CloseAllAttempts = 1
	}
	return &Service{
		cfg:    cfg,
		logger: logger.WithField("component", "emergency_monitor"),
		state:  StateArmed,
	}, nil
}

// SetLiquidator wires the close-all port. The engine implements liquidation
// on top of the executor and ledger, so it is attached after construction.
func (s *Service) SetLiquidator(l interfaces.Liquidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liquidator = l
}

// RecordFill folds a fill's realized P&L delta into the daily total and
// re-evaluates the loss limits.
func (s *Service) RecordFill(realizedDelta decimal.Decimal) {
	s.mu.Lock()
	s.realized = s.realized.Add(realizedDelta)
	fired := s.evaluateLocked()
	s.mu.Unlock()

	if fired {
		s.closeAll()
	}
}

// MarkUnrealized replaces the mark-to-market unrealized P&L total and
// re-evaluates the loss limits. Called on every tick that moves an open
// position's symbol.
func (s *Service) MarkUnrealized(total decimal.Decimal) {
	s.mu.Lock()
	s.unrealized = total
	fired := s.evaluateLocked()
	s.mu.Unlock()

	if fired {
		s.closeAll()
	}
}

// Halted reports whether trading is halted. The admission pipeline's first
// check reads this on every signal.
func (s *Service) Halted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateHalted
}

// LossLimitBreached reports whether the current daily loss already exceeds
// either limit, independent of the halt transition. The admission pipeline
// uses it as the final defense-in-depth check on entries.
func (s *Service) LossLimitBreached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breachedLocked() != ""
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:         s.state.String(),
		RealizedPnL:   s.realized,
		UnrealizedPnL: s.unrealized,
		DailyLoss:     s.dailyLossLocked(),
		DailyLossPct:  s.dailyLossPctLocked(),
		TradingHalted: s.state == StateHalted,
		HaltReason:    s.haltReason,
	}
	if !s.haltTime.IsZero() {
		t := s.haltTime
		snap.HaltTime = &t
	}
	return snap
}

// ResetForNewDay re-arms the monitor with a fresh daily risk state. This is
// the external day-rollover event; nothing inside the engine calls it.
func (s *Service) ResetForNewDay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateArmed
	s.realized = decimal.Zero
	s.unrealized = decimal.Zero
	s.haltReason = ""
	s.haltTime = time.Time{}
	metrics.TradingHalted.Set(0)
	s.logger.Info("day rollover, monitor re-armed")
}

// dailyLossLocked is the positive magnitude of the daily drawdown; a
// profitable day reports zero loss.
func (s *Service) dailyLossLocked() decimal.Decimal {
	pnl := s.realized.Add(s.unrealized)
	if pnl.IsNegative() {
		return pnl.Neg()
	}
	return decimal.Zero
}

func (s *Service) dailyLossPctLocked() decimal.Decimal {
	return s.dailyLossLocked().Div(s.cfg.InitialCapital).Mul(decimal.NewFromInt(100))
}

// breachedLocked returns the halt reason if either limit is crossed, or ""
// when within limits. The two limits are independent; crossing either one
// is enough.
func (s *Service) breachedLocked() string {
	loss := s.dailyLossLocked()
	if loss.GreaterThanOrEqual(s.cfg.MaxDailyLoss) {
		return fmt.Sprintf("daily loss %s reached max daily loss %s", loss, s.cfg.MaxDailyLoss)
	}
	pct := s.dailyLossPctLocked()
	if pct.GreaterThanOrEqual(s.cfg.MaxDailyLossPct) {
		return fmt.Sprintf("daily loss %s%% reached max daily loss %s%%", pct, s.cfg.MaxDailyLossPct)
	}
	return ""
}

// evaluateLocked runs the Armed -> Halted transition and reports whether it
// fired just now. Re-entrant triggers while already halted are no-ops.
func (s *Service) evaluateLocked() bool {
	if s.state == StateHalted {
		return false
	}
	reason := s.breachedLocked()
	if reason == "" {
		return false
	}

	s.state = StateHalted
	s.haltReason = reason
	s.haltTime = time.Now().UTC()
	metrics.TradingHalted.Set(1)
	s.logger.WithFields(logrus.Fields{
		"reason":         reason,
		"realized_pnl":   s.realized.String(),
		"unrealized_pnl": s.unrealized.String(),
	}).Error("trading halted, closing all positions")
	return true
}

// closeAll liquidates every open position. Failing to liquidate is worse
// than a duplicate close attempt, so this is the one action that retries.
func (s *Service) closeAll() {
	s.mu.RLock()
	liquidator := s.liquidator
	s.mu.RUnlock()

	if liquidator == nil {
		s.logger.Error("no liquidator wired, open positions left unclosed")
		return
	}

	for attempt := 1; attempt <= s.cfg.CloseAllAttempts; attempt++ {
		closed, err := liquidator.CloseAllPositions(context.Background())
		if err == nil {
			s.logger.WithField("positions_closed", closed).Info("close-all complete")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"attempts": s.cfg.CloseAllAttempts,
		}).WithError(err).Warn("close-all attempt failed")
		if attempt < s.cfg.CloseAllAttempts {
			time.Sleep(s.cfg.CloseAllRetryDelay)
		}
	}
	s.logger.Error("close-all exhausted retries, positions may remain open")
}
