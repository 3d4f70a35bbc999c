package instruments

import (
	"context"
	"errors"

	domain "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/instruments"
	interfaces "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
)

var (
	ErrNoInstruments = errors.New("no instruments to upsert")
	ErrEmptySymbol   = errors.New("symbol is empty")
)

// Service validates catalog writes before they reach the repository.
type Service struct {
	repo interfaces.InstrumentsRepository
}

func NewService(repo interfaces.InstrumentsRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) UpsertInstruments(ctx context.Context, items []domain.Instrument) error {
	if len(items) == 0 {
		return ErrNoInstruments
	}
	for i := range items {
		if items[i].Symbol == "" {
			return ErrEmptySymbol
		}
	}
	return s.repo.UpsertInstruments(ctx, items)
}

func (s *Service) GetBySymbol(ctx context.Context, symbol string) (*domain.Instrument, error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}
	return s.repo.GetBySymbol(ctx, symbol)
}

func (s *Service) List(ctx context.Context) ([]domain.Instrument, error) {
	return s.repo.List(ctx)
}

func (s *Service) Close() {
	s.repo.Close()
}
