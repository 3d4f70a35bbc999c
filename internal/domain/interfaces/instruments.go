package interfaces

import (
	"context"

	instruments "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/instruments"
)

// InstrumentsRepository stores the tradable instrument catalog.
type InstrumentsRepository interface {
	UpsertInstruments(ctx context.Context, items []instruments.Instrument) error
	GetBySymbol(ctx context.Context, symbol string) (*instruments.Instrument, error)
	List(ctx context.Context) ([]instruments.Instrument, error)
	Close()
}
