package candles

import (
	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
)

// ring is a fixed-capacity candle history. Oldest entries are evicted
// first, so memory stays bounded no matter how long the session runs.
type ring struct {
	buf  []market.Candle
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]market.Candle, capacity)}
}

func (r *ring) push(c market.Candle) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = c
		r.size++
		return
	}
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
}

// last returns up to n most recent candles in ascending time order.
func (r *ring) last(n int) []market.Candle {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]market.Candle, 0, n)
	start := r.size - n
	for i := start; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *ring) len() int {
	return r.size
}
