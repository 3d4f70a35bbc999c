package marketstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
)

// Repository persists sealed candles in PostgreSQL and serves the warmup
// read side. Only closed candles ever reach the table, so rows carry no
// is_closed column; reads re-materialize it as true.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const insertCandleQuery = `
	INSERT INTO candles (
		candle_id, symbol, timeframe_seconds, period_start, period_end,
		open, high, low, close, volume
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func (r *Repository) AddCandle(ctx context.Context, candle *market.Candle) error {
	if candle == nil {
		return errors.New("nil candle")
	}
	_, err := r.pool.Exec(ctx, insertCandleQuery,
		uuid.New(),
		candle.Symbol,
		int64(candle.Timeframe/time.Second),
		candle.StartTime,
		candle.EndTime,
		candle.Open,
		candle.High,
		candle.Low,
		candle.Close,
		candle.Volume,
	)
	return err
}

func (r *Repository) AddCandles(ctx context.Context, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(candles))
	for i := range candles {
		rows = append(rows, []interface{}{
			uuid.New(),
			candles[i].Symbol,
			int64(candles[i].Timeframe / time.Second),
			candles[i].StartTime,
			candles[i].EndTime,
			candles[i].Open,
			candles[i].High,
			candles[i].Low,
			candles[i].Close,
			candles[i].Volume,
		})
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"candles"},
		[]string{
			"candle_id",
			"symbol",
			"timeframe_seconds",
			"period_start",
			"period_end",
			"open",
			"high",
			"low",
			"close",
			"volume",
		},
		pgx.CopyFromRows(rows),
	)
	return err
}

// LastCandles returns up to limit most recent candles for the symbol and
// timeframe, oldest first.
func (r *Repository) LastCandles(ctx context.Context, symbol string, timeframe time.Duration, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = `
		SELECT symbol, timeframe_seconds, period_start, period_end,
		       open, high, low, close, volume
		FROM candles
		WHERE symbol=$1 AND timeframe_seconds=$2
		ORDER BY period_start DESC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, symbol, int64(timeframe/time.Second), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(candles)
	return candles, nil
}

func (r *Repository) CandlesBetween(ctx context.Context, symbol string, timeframe time.Duration, from, to time.Time) ([]market.Candle, error) {
	const query = `
		SELECT symbol, timeframe_seconds, period_start, period_end,
		       open, high, low, close, volume
		FROM candles
		WHERE symbol=$1
		  AND timeframe_seconds=$2
		  AND period_start >= $3
		  AND period_start <= $4
		ORDER BY period_start ASC`
	rows, err := r.pool.Query(ctx, query, symbol, int64(timeframe/time.Second), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, rows.Err()
}

func scanCandle(row pgx.Row) (market.Candle, error) {
	var timeframeSeconds int64
	candle := market.Candle{IsClosed: true}
	err := row.Scan(
		&candle.Symbol,
		&timeframeSeconds,
		&candle.StartTime,
		&candle.EndTime,
		&candle.Open,
		&candle.High,
		&candle.Low,
		&candle.Close,
		&candle.Volume,
	)
	if err != nil {
		return market.Candle{}, err
	}
	candle.Timeframe = time.Duration(timeframeSeconds) * time.Second
	return candle, nil
}

func reverse(candles []market.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}
