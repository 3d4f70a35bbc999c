package interfaces

import (
	"context"
	"time"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
)

// CandleHistory is the persistent candle store. The write side absorbs
// sealed candles from the aggregator; the read side feeds strategy warmup.
// LastCandles and CandlesBetween return candles in ascending time order.
type CandleHistory interface {
	AddCandle(ctx context.Context, candle *market.Candle) error
	AddCandles(ctx context.Context, candles []market.Candle) error
	LastCandles(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]market.Candle, error)
	CandlesBetween(ctx context.Context, symbol string, timeframe time.Duration, from, to time.Time) ([]market.Candle, error)
	Close()
}
