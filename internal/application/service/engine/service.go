package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/candles"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/emergency"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/risk"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/application/service/warmup"
	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/metrics"
)

// CandleSink receives every sealed candle for persistence. The batch writer
// over the candle store satisfies it.
type CandleSink interface {
	Add(candle market.Candle) error
}

// Service is the tick-to-order loop. Each tick marks open positions to
// market, feeds the aggregator, and dispatches any candles that sealed to
// the warmed-up strategies; resulting signals pass the risk pipeline and
// approved ones are executed and folded back into the ledger and the
// emergency monitor.
//
// It also implements interfaces.Liquidator so the monitor can force-close
// everything on a halt.
type Service struct {
	logger     *logrus.Entry
	aggregator *candles.Service
	warmup     *warmup.Service
	pipeline   *risk.Service
	monitor    *emergency.Service
	ledger     interfaces.PositionLedger
	executor   interfaces.OrderExecutor
	sink       CandleSink
}

func NewService(
	aggregator *candles.Service,
	warmupSvc *warmup.Service,
	pipeline *risk.Service,
	monitor *emergency.Service,
	ledger interfaces.PositionLedger,
	executor interfaces.OrderExecutor,
	sink CandleSink,
	logger *logrus.Logger,
) (*Service, error) {
	for name, dep := range map[string]any{
		"aggregator": aggregator,
		"warmup":     warmupSvc,
		"pipeline":   pipeline,
		"monitor":    monitor,
		"ledger":     ledger,
		"executor":   executor,
	} {
		if dep == nil {
			return nil, fmt.Errorf("engine: %s is required", name)
		}
	}
	return &Service{
		logger:     logger.WithField("component", "engine"),
		aggregator: aggregator,
		warmup:     warmupSvc,
		pipeline:   pipeline,
		monitor:    monitor,
		ledger:     ledger,
		executor:   executor,
		sink:       sink,
	}, nil
}

// OnTick processes one market tick end to end.
func (s *Service) OnTick(ctx context.Context, tick market.Tick) {
	if err := validateTick(tick); err != nil {
		s.logger.WithField("symbol", tick.Symbol).WithError(err).Warn("malformed tick dropped")
		return
	}
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()

	// Mark to market first: the monitor re-evaluates loss limits on every
	// price move, not only on fills.
	s.ledger.MarkPrice(tick.Symbol, tick.Price)
	s.monitor.MarkUnrealized(s.ledger.UnrealizedPnL())

	for _, candle := range s.aggregator.Ingest(tick) {
		s.persist(candle)
		s.dispatch(ctx, candle)
	}
}

// Flush seals all forming candles into the persistence sink. Called at
// shutdown; flushed partial windows are persisted but never dispatched to
// strategies.
func (s *Service) Flush() int {
	sealed := s.aggregator.Flush()
	for _, candle := range sealed {
		s.persist(candle)
	}
	if len(sealed) > 0 {
		s.logger.WithField("candles", len(sealed)).Info("forming candles flushed")
	}
	return len(sealed)
}

// CloseAllPositions liquidates every open position at the last marked
// price. It keeps going past individual failures and reports them joined,
// so the monitor's bounded retry can pick up the stragglers.
func (s *Service) CloseAllPositions(ctx context.Context) (int, error) {
	positions, err := s.ledger.OpenPositions(ctx)
	if err != nil {
		return 0, err
	}

	closed := 0
	var errs []error
	for _, pos := range positions {
		price, ok := s.ledger.LastPrice(pos.Symbol)
		if !ok {
			price = pos.EntryPrice
		}
		order := trading.Order{
			ID:         uuid.New(),
			StrategyID: pos.StrategyID,
			Symbol:     pos.Symbol,
			Action:     trading.ActionExit,
			Quantity:   pos.Quantity,
			Price:      price,
			PlacedAt:   time.Now().UTC(),
		}
		fill, err := s.executor.Execute(ctx, order)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"strategy": pos.StrategyID,
				"symbol":   pos.Symbol,
			}).WithError(err).Error("close-all order failed")
			errs = append(errs, err)
			continue
		}
		metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Action)).Inc()

		realized, err := s.ledger.ApplyFill(fill)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.monitor.RecordFill(realized)
		closed++
	}
	// The closes moved losses from unrealized to realized; re-mark so the
	// monitor does not double-count them until the next tick.
	s.monitor.MarkUnrealized(s.ledger.UnrealizedPnL())
	s.refreshOpenPositions(ctx)
	return closed, errors.Join(errs...)
}

func (s *Service) dispatch(ctx context.Context, candle market.Candle) {
	for _, strat := range s.warmup.Route(candle) {
		for _, sig := range strat.OnCandleComplete(candle) {
			s.handleSignal(ctx, strat.Name(), candle, sig)
		}
	}
}

func (s *Service) handleSignal(ctx context.Context, strategyName string, candle market.Candle, sig trading.Signal) {
	sig = normalizeSignal(strategyName, candle, sig)
	if err := validateSignal(sig); err != nil {
		s.logger.WithFields(logrus.Fields{
			"strategy": strategyName,
			"symbol":   sig.Symbol,
		}).WithError(err).Warn("malformed signal dropped")
		return
	}
	metrics.SignalsTotal.WithLabelValues(sig.StrategyID, string(sig.Action)).Inc()

	decision := s.pipeline.Evaluate(ctx, sig)
	if !decision.Approved {
		return
	}
	s.execute(ctx, sig, decision)
}

func (s *Service) execute(ctx context.Context, sig trading.Signal, decision trading.Decision) {
	quantity := decision.ApprovedQuantity
	if !sig.Action.IsEntry() {
		// Exits always close the whole position; its size may differ from
		// the requested quantity after a fixed-lot entry.
		pos, err := s.ledger.Get(ctx, sig.StrategyID, sig.Symbol)
		if err != nil {
			s.logger.WithError(err).Error("position lookup failed, exit dropped")
			return
		}
		if pos == nil {
			s.logger.WithFields(logrus.Fields{
				"strategy": sig.StrategyID,
				"symbol":   sig.Symbol,
			}).Warn("exit signal without open position dropped")
			return
		}
		quantity = pos.Quantity
	}

	order := trading.Order{
		ID:         sig.ID,
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Action:     sig.Action,
		Quantity:   quantity,
		Price:      sig.Price,
		PlacedAt:   time.Now().UTC(),
	}
	fill, err := s.executor.Execute(ctx, order)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"strategy": order.StrategyID,
			"symbol":   order.Symbol,
			"action":   order.Action,
		}).WithError(err).Error("order execution failed")
		return
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Action)).Inc()
	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"strategy": order.StrategyID,
		"symbol":   order.Symbol,
		"action":   order.Action,
		"quantity": fill.Quantity,
		"price":    fill.Price,
	}).Info("order filled")

	realized, err := s.ledger.ApplyFill(fill)
	if err != nil {
		s.logger.WithField("order_id", order.ID).WithError(err).Error("fill not applied to ledger")
		return
	}
	s.monitor.RecordFill(realized)
	s.refreshOpenPositions(ctx)
}

func (s *Service) persist(candle market.Candle) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Add(candle); err != nil {
		s.logger.WithFields(logrus.Fields{
			"symbol":    candle.Symbol,
			"timeframe": market.TimeframeLabel(candle.Timeframe),
		}).WithError(err).Warn("candle persist enqueue failed")
	}
}

func (s *Service) refreshOpenPositions(ctx context.Context) {
	total, err := s.ledger.CountOpenTotal(ctx)
	if err != nil {
		return
	}
	metrics.OpenPositions.Set(float64(total))
}

func validateTick(tick market.Tick) error {
	switch {
	case tick.Symbol == "":
		return errors.New("empty symbol")
	case tick.Price <= 0:
		return errors.New("non-positive price")
	case tick.Volume < 0:
		return errors.New("negative volume")
	case tick.Timestamp.IsZero():
		return errors.New("zero timestamp")
	}
	return nil
}

// normalizeSignal fills the fields strategies commonly leave blank. The
// strategy identity always comes from the registry name so the ledger and
// dedup keys cannot be spoofed by a misbehaving strategy.
func normalizeSignal(strategyName string, candle market.Candle, sig trading.Signal) trading.Signal {
	sig.StrategyID = strategyName
	if sig.Symbol == "" {
		sig.Symbol = candle.Symbol
	}
	if sig.Price == 0 {
		sig.Price = candle.Close
	}
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	return sig
}

func validateSignal(sig trading.Signal) error {
	switch {
	case sig.Symbol == "":
		return errors.New("empty symbol")
	case !sig.Action.IsValid():
		return fmt.Errorf("unknown action %q", sig.Action)
	case sig.Quantity <= 0:
		return errors.New("non-positive quantity")
	case sig.Price <= 0:
		return errors.New("non-positive price")
	}
	return nil
}
