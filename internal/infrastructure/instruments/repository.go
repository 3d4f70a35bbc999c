package instruments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/instruments"
)

var ErrInstrumentNotFound = errors.New("instrument not found")

// Repository stores the tradable instrument catalog in PostgreSQL.
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

const upsertInstrumentQuery = `
	INSERT INTO instruments (uid, symbol, figi, exchange, currency, lot, created_at, updated_at, deleted_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL)
	ON CONFLICT (symbol) DO UPDATE SET
		figi=EXCLUDED.figi,
		exchange=EXCLUDED.exchange,
		currency=EXCLUDED.currency,
		lot=EXCLUDED.lot,
		updated_at=EXCLUDED.updated_at,
		deleted_at=NULL`

// UpsertInstruments inserts or refreshes catalog rows keyed by symbol in a
// single round trip. An upsert revives a previously soft-deleted row.
func (r *Repository) UpsertInstruments(ctx context.Context, items []domain.Instrument) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i := range items {
		item := &items[i]
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(upsertInstrumentQuery,
			item.UID,
			item.Symbol,
			item.FIGI,
			item.Exchange,
			item.Currency,
			item.Lot,
			createdAt,
			now,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert instrument %s: %w", items[i].Symbol, err)
		}
	}
	return results.Close()
}

func (r *Repository) GetBySymbol(ctx context.Context, symbol string) (*domain.Instrument, error) {
	const query = `
		SELECT uid, symbol, figi, exchange, currency, lot, created_at, updated_at, deleted_at
		FROM instruments
		WHERE symbol=$1 AND deleted_at IS NULL`

	row := r.pool.QueryRow(ctx, query, symbol)
	instrument := &domain.Instrument{}
	if err := scanInstrumentInto(row, instrument); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstrumentNotFound
		}
		return nil, err
	}
	return instrument, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Instrument, error) {
	const query = `
		SELECT uid, symbol, figi, exchange, currency, lot, created_at, updated_at, deleted_at
		FROM instruments
		WHERE deleted_at IS NULL
		ORDER BY symbol ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Instrument
	for rows.Next() {
		var instrument domain.Instrument
		if err := scanInstrumentInto(rows, &instrument); err != nil {
			return nil, err
		}
		items = append(items, instrument)
	}
	return items, rows.Err()
}

func scanInstrumentInto(row pgx.Row, instrument *domain.Instrument) error {
	var deletedAt *time.Time
	err := row.Scan(
		&instrument.UID,
		&instrument.Symbol,
		&instrument.FIGI,
		&instrument.Exchange,
		&instrument.Currency,
		&instrument.Lot,
		&instrument.CreatedAt,
		&instrument.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return err
	}
	instrument.DeletedAt = deletedAt
	return nil
}
