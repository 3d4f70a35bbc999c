package warmup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
)

// Config selects how the per-strategy required candle count is derived.
// With AutoCalculate each strategy's own WarmupCandles() declaration wins;
// otherwise MinCandles applies uniformly.
type Config struct {
	MinCandles    int
	AutoCalculate bool
}

// Progress is the observable warmup state of one strategy. Received is the
// minimum count across the strategy's (symbol, timeframe) pairs, so it only
// reaches Required once every declared pair has enough history. WarmedUp is
// monotonic. Degraded records that the historical preload came up short and
// the remainder had to arrive via the live feed.
type Progress struct {
	Strategy string `json:"strategy"`
	Required int    `json:"required"`
	Received int    `json:"received"`
	WarmedUp bool   `json:"warmed_up"`
	Degraded bool   `json:"degraded"`
}

// Service primes strategy indicator state with historical candles and gates
// the live signal path until each strategy has seen enough history. Candles
// reach unwarmed strategies only through OnWarmupCandle, which cannot emit
// signals, so an insufficiently primed strategy can never trade.
type Service struct {
	cfg     Config
	history interfaces.CandleHistory
	logger  *logrus.Entry

	mu       sync.RWMutex
	states   map[string]*strategyState
	loadSize int
}

type strategyState struct {
	strategy interfaces.Strategy
	required int
	pairs    map[pairKey]*pairProgress
	warmedUp bool
	degraded bool
}

type pairKey struct {
	symbol    string
	timeframe time.Duration
}

type pairProgress struct {
	received  int
	lastStart time.Time
}

func NewService(cfg Config, history interfaces.CandleHistory, strategies []interfaces.Strategy, logger *logrus.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		history: history,
		logger:  logger.WithField("component", "warmup_manager"),
		states:  make(map[string]*strategyState, len(strategies)),
	}
	for _, strat := range strategies {
		required := cfg.MinCandles
		if cfg.AutoCalculate {
			required = strat.WarmupCandles()
		}
		if required < 0 {
			required = 0
		}
		state := &strategyState{
			strategy: strat,
			required: required,
			pairs:    make(map[pairKey]*pairProgress),
		}
		for _, symbol := range strat.Symbols() {
			for _, tf := range strat.RequiredTimeframes() {
				state.pairs[pairKey{symbol: symbol, timeframe: tf}] = &pairProgress{}
			}
		}
		if required == 0 || len(state.pairs) == 0 {
			state.warmedUp = true
		}
		s.states[strat.Name()] = state
		if required > s.loadSize {
			s.loadSize = required
		}
	}
	return s
}

// Run preloads history oldest-first into every registered strategy. A store
// failure or a short read degrades the affected strategies instead of
// failing startup; the live feed keeps counting until they are warm.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.pairKeysLocked() {
		if err := ctx.Err(); err != nil {
			return err
		}
		candles, err := s.history.LastCandles(ctx, key.symbol, key.timeframe, s.loadSize)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"symbol":    key.symbol,
				"timeframe": market.TimeframeLabel(key.timeframe),
			}).WithError(err).Warn("historical candle load failed, warmup degraded")
			continue
		}
		for _, candle := range candles {
			for _, state := range s.states {
				s.feedLocked(state, key, candle)
			}
		}
	}

	for name, state := range s.states {
		entry := s.logger.WithFields(logrus.Fields{
			"strategy": name,
			"required": state.required,
			"received": receivedLocked(state),
		})
		if state.warmedUp {
			entry.Info("strategy warmed up from history")
			continue
		}
		state.degraded = true
		entry.Warn("insufficient historical candles, completing warmup from live feed")
	}
	return nil
}

// Route delivers a sealed live candle to warmup for every interested
// strategy that is not yet warm, and returns the interested strategies that
// were already warm before this candle. The caller runs the signal path for
// the returned strategies only, so the candle that completes a warmup is
// itself consumed by the warmup path and never generates a signal.
func (s *Service) Route(candle market.Candle) []interfaces.Strategy {
	if !candle.IsClosed {
		return nil
	}
	key := pairKey{symbol: candle.Symbol, timeframe: candle.Timeframe}

	s.mu.Lock()
	defer s.mu.Unlock()

	var live []interfaces.Strategy
	for _, state := range s.states {
		if _, interested := state.pairs[key]; !interested {
			continue
		}
		if state.warmedUp {
			live = append(live, state.strategy)
			continue
		}
		s.feedLocked(state, key, candle)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Name() < live[j].Name() })
	return live
}

// IsWarm reports whether the named strategy finished warmup. Unknown names
// are not warm.
func (s *Service) IsWarm(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[name]
	return ok && state.warmedUp
}

// Degraded reports whether any strategy had to complete warmup without the
// full historical preload.
func (s *Service) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.states {
		if state.degraded {
			return true
		}
	}
	return false
}

// Progress returns per-strategy warmup state sorted by strategy name.
func (s *Service) Progress() []Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Progress, 0, len(s.states))
	for name, state := range s.states {
		out = append(out, Progress{
			Strategy: name,
			Required: state.required,
			Received: receivedLocked(state),
			WarmedUp: state.warmedUp,
			Degraded: state.degraded,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

func (s *Service) feedLocked(state *strategyState, key pairKey, candle market.Candle) {
	if state.warmedUp {
		return
	}
	pair, interested := state.pairs[key]
	if !interested {
		return
	}
	// Replays and restarts can re-deliver a window; count each one once.
	if pair.received > 0 && !candle.StartTime.After(pair.lastStart) {
		return
	}
	state.strategy.OnWarmupCandle(candle)
	pair.received++
	pair.lastStart = candle.StartTime

	if receivedLocked(state) >= state.required {
		state.warmedUp = true
		s.logger.WithFields(logrus.Fields{
			"strategy": state.strategy.Name(),
			"required": state.required,
		}).Info("strategy warmup complete")
	}
}

// pairKeysLocked returns every (symbol, timeframe) any strategy declared,
// deduplicated and in deterministic order.
func (s *Service) pairKeysLocked() []pairKey {
	seen := make(map[pairKey]struct{})
	var keys []pairKey
	for _, state := range s.states {
		for key := range state.pairs {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].timeframe < keys[j].timeframe
	})
	return keys
}

func receivedLocked(state *strategyState) int {
	received := 0
	first := true
	for _, pair := range state.pairs {
		if first || pair.received < received {
			received = pair.received
			first = false
		}
	}
	return received
}
