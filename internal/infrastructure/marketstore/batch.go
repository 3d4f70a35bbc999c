package marketstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
)

// BatchConfig controls batching thresholds for candle persistence.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// CandleWriter is the write side the batch writer flushes into.
type CandleWriter interface {
	AddCandles(ctx context.Context, candles []market.Candle) error
}

// BatchWriter buffers sealed candles and flushes them to the store once the
// batch fills or the timeout fires, whichever comes first. It satisfies the
// engine's candle sink.
type BatchWriter struct {
	cfg     BatchConfig
	flushFn func(context.Context, []market.Candle) error
	logger  *logrus.Entry

	mu    sync.Mutex
	items []market.Candle
	timer *time.Timer
	ctx   context.Context
}

func NewBatchWriter(cfg BatchConfig, store CandleWriter, logger *logrus.Logger) *BatchWriter {
	return &BatchWriter{
		cfg:     cfg,
		flushFn: store.AddCandles,
		logger:  logger.WithField("component", "batch_writer"),
	}
}

// Run sets the base context for asynchronous flush operations.
func (b *BatchWriter) Run(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	b.ctx = ctx
}

// Stop flushes whatever is buffered using the provided context.
func (b *BatchWriter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.Run(ctx)
	return b.drain(ctx)
}

// Add appends a sealed candle to the buffer. A full buffer is flushed on the
// caller's goroutine; a partial one waits for the timeout.
func (b *BatchWriter) Add(candle market.Candle) error {
	b.mu.Lock()
	ctx := b.ctx
	if ctx == nil {
		b.mu.Unlock()
		return errors.New("batch writer is not running")
	}
	if err := ctx.Err(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.items = append(b.items, candle)
	var batch []market.Candle
	limit := b.cfg.Size
	if limit <= 0 {
		limit = 1
	}
	if len(b.items) >= limit {
		batch = b.takeBatchLocked()
	} else if b.timer == nil && b.cfg.Timeout > 0 {
		b.startTimerLocked()
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.flushWithContext(ctx, batch)
}

func (b *BatchWriter) startTimerLocked() {
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		return
	}
	b.timer = time.AfterFunc(timeout, func() {
		batch := b.takeBatch()
		if len(batch) == 0 {
			return
		}
		if err := b.flushWithCurrentContext(batch); err != nil && b.logger != nil {
			b.logger.WithError(err).Warn("batch flush failed")
		}
	})
}

func (b *BatchWriter) takeBatch() []market.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeBatchLocked()
}

func (b *BatchWriter) takeBatchLocked() []market.Candle {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return nil
	}
	batch := make([]market.Candle, len(b.items))
	copy(batch, b.items)
	b.items = b.items[:0]
	return batch
}

func (b *BatchWriter) flushWithCurrentContext(batch []market.Candle) error {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	return b.flushWithContext(ctx, batch)
}

func (b *BatchWriter) flushWithContext(ctx context.Context, batch []market.Candle) error {
	if len(batch) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if err := b.flushFn(ctx, batch); err != nil {
		return err
	}
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"size":    len(batch),
			"took_ms": time.Since(start).Milliseconds(),
		}).Debug("flushed candle batch")
	}
	return nil
}

func (b *BatchWriter) drain(ctx context.Context) error {
	batch := b.takeBatch()
	if len(batch) == 0 {
		return nil
	}
	return b.flushWithContext(ctx, batch)
}
