package interfaces

import (
	"time"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
)

// Strategy is the capability a signal producer must implement. Anything
// satisfying it can be registered, no reflection involved.
//
// OnWarmupCandle primes indicator state and by construction cannot emit a
// signal; OnCandleComplete is the live path and may return zero or more
// proposed trades. Candles arrive oldest-first on both paths.
type Strategy interface {
	Name() string
	Symbols() []string
	RequiredTimeframes() []time.Duration
	// WarmupCandles is the minimum closed-candle history per timeframe the
	// strategy needs before its first live signal is trustworthy.
	WarmupCandles() int
	OnWarmupCandle(candle market.Candle)
	OnCandleComplete(candle market.Candle) []trading.Signal
}
