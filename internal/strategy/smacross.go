package strategy

import (
	"fmt"
	"time"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
	trading "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/trading"
)

// SMACross is a long-only moving average crossover. A golden cross (short
// SMA rising through the long SMA) proposes a BUY, a dead cross proposes an
// EXIT. Indicator state lives in a fixed-size ring per symbol, so the hot
// path allocates nothing.
type SMACross struct {
	name      string
	symbols   []string
	timeframe time.Duration
	short     int
	long      int
	quantity  int64

	books map[string]*smaBook
}

func NewSMACross(name string, symbols []string, timeframe time.Duration, short, long int, quantity int64) (*SMACross, error) {
	if name == "" {
		return nil, fmt.Errorf("strategy name is empty")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("strategy %s: no symbols", name)
	}
	if timeframe <= 0 {
		return nil, fmt.Errorf("strategy %s: timeframe must be positive", name)
	}
	if short <= 0 || long <= 0 || short >= long {
		return nil, fmt.Errorf("strategy %s: need 0 < short < long, got short=%d long=%d", name, short, long)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("strategy %s: quantity must be positive", name)
	}
	s := &SMACross{
		name:      name,
		symbols:   append([]string(nil), symbols...),
		timeframe: timeframe,
		short:     short,
		long:      long,
		quantity:  quantity,
		books:     make(map[string]*smaBook, len(symbols)),
	}
	for _, symbol := range symbols {
		s.books[symbol] = &smaBook{prices: make([]float64, long)}
	}
	return s, nil
}

func (s *SMACross) Name() string { return s.name }

func (s *SMACross) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

func (s *SMACross) RequiredTimeframes() []time.Duration {
	return []time.Duration{s.timeframe}
}

// WarmupCandles is long+1: the window must fill and one further candle is
// needed so a cross on the first live candle has a previous SMA pair to
// compare against.
func (s *SMACross) WarmupCandles() int {
	return s.long + 1
}

func (s *SMACross) OnWarmupCandle(candle market.Candle) {
	book := s.bookFor(candle)
	if book == nil {
		return
	}
	shortSMA, longSMA, full := book.push(candle.Close, s.short, s.long)
	if full {
		book.setPrev(shortSMA, longSMA)
	}
}

func (s *SMACross) OnCandleComplete(candle market.Candle) []trading.Signal {
	book := s.bookFor(candle)
	if book == nil {
		return nil
	}
	prevShort, prevLong, hadPrev := book.prevShort, book.prevLong, book.hasPrev
	shortSMA, longSMA, full := book.push(candle.Close, s.short, s.long)
	if !full {
		return nil
	}
	defer book.setPrev(shortSMA, longSMA)
	if !hadPrev {
		return nil
	}

	if !book.inPosition && prevShort <= prevLong && shortSMA > longSMA {
		book.inPosition = true
		return []trading.Signal{{
			Symbol:   candle.Symbol,
			Action:   trading.ActionBuy,
			Quantity: s.quantity,
			Price:    candle.Close,
			Reason:   "sma golden cross",
		}}
	}
	if book.inPosition && prevShort >= prevLong && shortSMA < longSMA {
		book.inPosition = false
		return []trading.Signal{{
			Symbol:   candle.Symbol,
			Action:   trading.ActionExit,
			Quantity: s.quantity,
			Price:    candle.Close,
			Reason:   "sma dead cross",
		}}
	}
	return nil
}

func (s *SMACross) bookFor(candle market.Candle) *smaBook {
	if candle.Timeframe != s.timeframe {
		return nil
	}
	return s.books[candle.Symbol]
}

// smaBook holds per-symbol indicator state: a ring of the last long-period
// closes with a running sum, plus the SMA pair from the previous candle.
type smaBook struct {
	prices []float64
	head   int
	count  int
	sum    float64

	prevShort, prevLong float64
	hasPrev             bool
	inPosition          bool
}

// push absorbs a close price and returns the SMA pair once the long window
// is full.
func (b *smaBook) push(price float64, short, long int) (float64, float64, bool) {
	if b.count == long {
		b.sum -= b.prices[b.head]
	}
	b.prices[b.head] = price
	b.sum += price
	b.head = (b.head + 1) % long
	if b.count < long {
		b.count++
	}
	if b.count < long {
		return 0, 0, false
	}
	return b.shortSMA(short, long), b.sum / float64(long), true
}

// shortSMA walks backwards from the newest element.
func (b *smaBook) shortSMA(short, long int) float64 {
	var sum float64
	idx := b.head
	for i := 0; i < short; i++ {
		idx--
		if idx < 0 {
			idx = long - 1
		}
		sum += b.prices[idx]
	}
	return sum / float64(short)
}

func (b *smaBook) setPrev(shortSMA, longSMA float64) {
	b.prevShort, b.prevLong, b.hasPrev = shortSMA, longSMA, true
}
