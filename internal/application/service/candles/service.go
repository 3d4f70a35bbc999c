package candles

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/metrics"
)

var (
	ErrNoTimeframes = errors.New("at least one timeframe is required")
	ErrBadTimeframe = errors.New("timeframes must be positive durations")
	ErrBadCapacity  = errors.New("history capacity must be positive")
)

// Config controls the aggregation grid. MaxHistory is the explicit ring
// capacity per (symbol, timeframe); there is no implicit default.
type Config struct {
	Timeframes []time.Duration
	MaxHistory int
}

// Service converts a tick stream into closed candles for every configured
// timeframe. Windows are aligned to wall-clock multiples of the timeframe,
// so the grid is deterministic and independent of tick arrival jitter.
//
// All mutation for one symbol is serialized by a per-symbol mutex; ticks
// for distinct symbols aggregate concurrently.
type Service struct {
	cfg    Config
	logger *logrus.Entry

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

type symbolState struct {
	mu     sync.Mutex
	frames map[time.Duration]*timeframeState
}

type timeframeState struct {
	forming *market.Candle
	history *ring
}

func NewService(cfg Config, logger *logrus.Logger) (*Service, error) {
	if len(cfg.Timeframes) == 0 {
		return nil, ErrNoTimeframes
	}
	for _, tf := range cfg.Timeframes {
		if tf <= 0 {
			return nil, ErrBadTimeframe
		}
	}
	if cfg.MaxHistory <= 0 {
		return nil, ErrBadCapacity
	}
	return &Service{
		cfg:     cfg,
		logger:  logger.WithField("component", "candle_aggregator"),
		symbols: make(map[string]*symbolState),
	}, nil
}

// Timeframes returns the configured aggregation grid.
func (s *Service) Timeframes() []time.Duration {
	out := make([]time.Duration, len(s.cfg.Timeframes))
	copy(out, s.cfg.Timeframes)
	return out
}

// Ingest routes the tick into every timeframe's forming candle for
// tick.Symbol and returns the candles this tick sealed, in configured
// timeframe order. The caller dispatches candle-complete notifications
// from the return value, so sealing and notification stay synchronous
// without holding aggregation locks during strategy code.
func (s *Service) Ingest(tick market.Tick) []market.Candle {
	state := s.symbolState(tick.Symbol)

	state.mu.Lock()
	defer state.mu.Unlock()

	var sealed []market.Candle
	for _, tf := range s.cfg.Timeframes {
		frame, ok := state.frames[tf]
		if !ok {
			frame = &timeframeState{history: newRing(s.cfg.MaxHistory)}
			state.frames[tf] = frame
		}

		if frame.forming == nil {
			frame.forming = s.openForming(tick, tf)
			continue
		}

		ts := tick.Timestamp.UTC()
		if ts.Before(frame.forming.StartTime) {
			metrics.LateTicksTotal.WithLabelValues(tick.Symbol).Inc()
			s.logger.WithFields(logrus.Fields{
				"symbol":       tick.Symbol,
				"timeframe":    market.TimeframeLabel(tf),
				"tick_ts":      ts,
				"window_start": frame.forming.StartTime,
			}).Warn("late tick dropped")
			continue
		}

		if frame.forming.Contains(ts) {
			applyTick(frame.forming, tick)
			continue
		}

		closed := s.sealLocked(frame)
		sealed = append(sealed, closed)
		frame.forming = s.openForming(tick, tf)
	}
	return sealed
}

// Forming returns a read-only snapshot of the in-progress candle for
// real-time indicator reads. Mutating the copy has no effect on the
// aggregator.
func (s *Service) Forming(symbol string, timeframe time.Duration) (market.Candle, bool) {
	state := s.symbolState(symbol)

	state.mu.Lock()
	defer state.mu.Unlock()

	frame, ok := state.frames[timeframe]
	if !ok || frame.forming == nil {
		return market.Candle{}, false
	}
	return *frame.forming, true
}

// History returns up to limit most recent closed candles in ascending
// time order.
func (s *Service) History(symbol string, timeframe time.Duration, limit int) []market.Candle {
	state := s.symbolState(symbol)

	state.mu.Lock()
	defer state.mu.Unlock()

	frame, ok := state.frames[timeframe]
	if !ok {
		return nil
	}
	return frame.history.last(limit)
}

// Flush seals every forming candle in place and returns them. Used at
// shutdown so the persistence path receives the tail of the session.
func (s *Service) Flush() []market.Candle {
	s.mu.RLock()
	states := make([]*symbolState, 0, len(s.symbols))
	for _, st := range s.symbols {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var sealed []market.Candle
	for _, state := range states {
		state.mu.Lock()
		for _, tf := range s.cfg.Timeframes {
			frame, ok := state.frames[tf]
			if !ok || frame.forming == nil {
				continue
			}
			sealed = append(sealed, s.sealLocked(frame))
			frame.forming = nil
		}
		state.mu.Unlock()
	}
	return sealed
}

func (s *Service) symbolState(symbol string) *symbolState {
	s.mu.RLock()
	state, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.symbols[symbol]; ok {
		return state
	}
	state = &symbolState{frames: make(map[time.Duration]*timeframeState)}
	s.symbols[symbol] = state
	return state
}

func (s *Service) openForming(tick market.Tick, timeframe time.Duration) *market.Candle {
	start := market.WindowStart(tick.Timestamp, timeframe)
	return &market.Candle{
		Symbol:    tick.Symbol,
		Timeframe: timeframe,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Volume,
		StartTime: start,
		EndTime:   start.Add(timeframe),
	}
}

func (s *Service) sealLocked(frame *timeframeState) market.Candle {
	frame.forming.IsClosed = true
	closed := *frame.forming
	frame.history.push(closed)
	metrics.CandlesSealedTotal.WithLabelValues(closed.Symbol, market.TimeframeLabel(closed.Timeframe)).Inc()
	return closed
}

func applyTick(c *market.Candle, tick market.Tick) {
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Volume
}
