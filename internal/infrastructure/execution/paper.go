package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
)

var (
	ErrBadOrderQuantity = errors.New("order quantity must be positive")
	ErrBadOrderPrice    = errors.New("order price must be positive")
)

const bpsDenominator = 10000

// PaperExecutor fills every order immediately against the order price,
// optionally shifted by a fixed adverse slippage in basis points: buys fill
// up, sells and exits fill down.
type PaperExecutor struct {
	slippageBps int64
	logger      *logrus.Entry
}

func NewPaperExecutor(slippageBps int64, logger *logrus.Logger) *PaperExecutor {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &PaperExecutor{
		slippageBps: slippageBps,
		logger:      logger.WithField("component", "paper_executor"),
	}
}

func (e *PaperExecutor) Execute(ctx context.Context, order trading.Order) (trading.Fill, error) {
	if err := ctx.Err(); err != nil {
		return trading.Fill{}, err
	}
	if order.Quantity <= 0 {
		return trading.Fill{}, ErrBadOrderQuantity
	}
	if order.Price <= 0 {
		return trading.Fill{}, ErrBadOrderPrice
	}

	fill := trading.Fill{
		OrderID:    order.ID,
		StrategyID: order.StrategyID,
		Symbol:     order.Symbol,
		Action:     order.Action,
		Quantity:   order.Quantity,
		Price:      e.fillPrice(order),
		ExecutedAt: time.Now().UTC(),
	}
	e.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"action":   order.Action,
		"quantity": fill.Quantity,
		"price":    fill.Price,
	}).Debug("paper fill")
	return fill, nil
}

func (e *PaperExecutor) fillPrice(order trading.Order) float64 {
	if e.slippageBps == 0 {
		return order.Price
	}
	bps := decimal.NewFromInt(e.slippageBps)
	if order.Action != trading.ActionBuy {
		bps = bps.Neg()
	}
	factor := decimal.NewFromInt(bpsDenominator).Add(bps)
	price := decimal.NewFromFloat(order.Price).Mul(factor).Div(decimal.NewFromInt(bpsDenominator))
	return price.InexactFloat64()
}
