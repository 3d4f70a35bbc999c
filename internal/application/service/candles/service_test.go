package candles

import (
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
)

func newTestService(t *testing.T, timeframes []time.Duration, maxHistory int) *Service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc, err := NewService(Config{Timeframes: timeframes, MaxHistory: maxHistory}, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func tick(symbol string, price float64, volume int64, ts time.Time) market.Tick {
	return market.Tick{Symbol: symbol, Price: price, Volume: volume, Timestamp: ts}
}

func TestNewServiceValidation(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if _, err := NewService(Config{MaxHistory: 10}, logger); !errors.Is(err, ErrNoTimeframes) {
		t.Errorf("expected ErrNoTimeframes, got %v", err)
	}
	if _, err := NewService(Config{Timeframes: []time.Duration{0}, MaxHistory: 10}, logger); !errors.Is(err, ErrBadTimeframe) {
		t.Errorf("expected ErrBadTimeframe, got %v", err)
	}
	if _, err := NewService(Config{Timeframes: []time.Duration{time.Minute}}, logger); !errors.Is(err, ErrBadCapacity) {
		t.Errorf("expected ErrBadCapacity, got %v", err)
	}
}

func TestIngestBuildsOHLCV(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute}, 10)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	svc.Ingest(tick("SBER", 100, 5, base.Add(5*time.Second)))
	svc.Ingest(tick("SBER", 103, 2, base.Add(20*time.Second)))
	svc.Ingest(tick("SBER", 99, 1, base.Add(40*time.Second)))
	svc.Ingest(tick("SBER", 101, 3, base.Add(59*time.Second)))

	forming, ok := svc.Forming("SBER", time.Minute)
	if !ok {
		t.Fatal("expected a forming candle")
	}
	if forming.Open != 100 || forming.High != 103 || forming.Low != 99 || forming.Close != 101 {
		t.Fatalf("unexpected OHLC: %+v", forming)
	}
	if forming.Volume != 11 {
		t.Fatalf("expected volume 11, got %d", forming.Volume)
	}
	if !forming.StartTime.Equal(base) || !forming.EndTime.Equal(base.Add(time.Minute)) {
		t.Fatalf("window not aligned: start=%v end=%v", forming.StartTime, forming.EndTime)
	}
	if forming.IsClosed {
		t.Fatal("forming candle must not be marked closed")
	}

	// The first tick of the next window seals the previous one.
	sealed := svc.Ingest(tick("SBER", 102, 4, base.Add(time.Minute)))
	if len(sealed) != 1 {
		t.Fatalf("expected 1 sealed candle, got %d", len(sealed))
	}
	closed := sealed[0]
	if !closed.IsClosed {
		t.Fatal("sealed candle must be marked closed")
	}
	if closed.Open != 100 || closed.High != 103 || closed.Low != 99 || closed.Close != 101 || closed.Volume != 11 {
		t.Fatalf("sealed candle lost tick data: %+v", closed)
	}

	next, ok := svc.Forming("SBER", time.Minute)
	if !ok {
		t.Fatal("expected a new forming candle")
	}
	if next.Open != 102 || next.Volume != 4 {
		t.Fatalf("new window must start from the sealing tick: %+v", next)
	}
	if !next.StartTime.Equal(base.Add(time.Minute)) {
		t.Fatalf("new window misaligned: %v", next.StartTime)
	}
}

func TestWindowsAlignToWallClock(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute, 3 * time.Minute, 5 * time.Minute}, 10)
	ts := time.Date(2025, 6, 2, 10, 7, 42, 0, time.UTC)

	svc.Ingest(tick("GAZP", 150, 1, ts))

	want := map[time.Duration]time.Time{
		time.Minute:     time.Date(2025, 6, 2, 10, 7, 0, 0, time.UTC),
		3 * time.Minute: time.Date(2025, 6, 2, 10, 6, 0, 0, time.UTC),
		5 * time.Minute: time.Date(2025, 6, 2, 10, 5, 0, 0, time.UTC),
	}
	for tf, start := range want {
		forming, ok := svc.Forming("GAZP", tf)
		if !ok {
			t.Fatalf("no forming candle for %v", tf)
		}
		if !forming.StartTime.Equal(start) {
			t.Errorf("%v window start = %v, want %v", tf, forming.StartTime, start)
		}
		if !forming.EndTime.Equal(start.Add(tf)) {
			t.Errorf("%v window end = %v, want %v", tf, forming.EndTime, start.Add(tf))
		}
	}
}

func TestGapProducesNoFabricatedCandles(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute}, 10)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	svc.Ingest(tick("SBER", 100, 1, base.Add(10*time.Second)))

	// Next tick lands five windows later. Only the candle that actually
	// received ticks seals; the empty minutes in between never exist.
	sealed := svc.Ingest(tick("SBER", 104, 1, base.Add(5*time.Minute+10*time.Second)))
	if len(sealed) != 1 {
		t.Fatalf("expected exactly 1 sealed candle across the gap, got %d", len(sealed))
	}
	if !sealed[0].StartTime.Equal(base) {
		t.Fatalf("sealed wrong window: %v", sealed[0].StartTime)
	}

	history := svc.History("SBER", time.Minute, 100)
	if len(history) != 1 {
		t.Fatalf("expected history of 1, got %d", len(history))
	}

	forming, ok := svc.Forming("SBER", time.Minute)
	if !ok || !forming.StartTime.Equal(base.Add(5*time.Minute)) {
		t.Fatalf("forming should track the tick's own window, got %+v ok=%v", forming, ok)
	}
}

func TestLateTickDropped(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute}, 10)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	svc.Ingest(tick("SBER", 100, 1, base.Add(70*time.Second)))
	before, _ := svc.Forming("SBER", time.Minute)

	// Tick older than the forming window start must not mutate anything.
	sealed := svc.Ingest(tick("SBER", 1, 99, base.Add(30*time.Second)))
	if len(sealed) != 0 {
		t.Fatalf("late tick must not seal, got %d candles", len(sealed))
	}

	after, ok := svc.Forming("SBER", time.Minute)
	if !ok {
		t.Fatal("forming candle disappeared")
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("late tick mutated forming candle: before=%+v after=%+v", before, after)
	}
	if got := svc.History("SBER", time.Minute, 10); len(got) != 0 {
		t.Fatalf("late tick must not reach history, got %d", len(got))
	}
}

func TestFormingReturnsIsolatedCopy(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute}, 10)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	svc.Ingest(tick("SBER", 100, 1, base))

	snap, ok := svc.Forming("SBER", time.Minute)
	if !ok {
		t.Fatal("expected forming candle")
	}
	snap.High = 9999
	snap.Volume = 9999

	again, _ := svc.Forming("SBER", time.Minute)
	if again.High == 9999 || again.Volume == 9999 {
		t.Fatal("mutating the snapshot leaked into the aggregator")
	}
}

func TestHistoryRingEviction(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute}, 3)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// Seal five 1m candles by walking six windows.
	for i := 0; i <= 5; i++ {
		svc.Ingest(tick("SBER", 100+float64(i), 1, base.Add(time.Duration(i)*time.Minute)))
	}

	history := svc.History("SBER", time.Minute, 100)
	if len(history) != 3 {
		t.Fatalf("expected capacity-bounded history of 3, got %d", len(history))
	}
	for i, c := range history {
		wantStart := base.Add(time.Duration(i+2) * time.Minute)
		if !c.StartTime.Equal(wantStart) {
			t.Errorf("history[%d] start = %v, want %v", i, c.StartTime, wantStart)
		}
		if !c.IsClosed {
			t.Errorf("history[%d] not closed", i)
		}
	}

	if got := svc.History("SBER", time.Minute, 2); len(got) != 2 || !got[1].StartTime.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("limited history wrong: %+v", got)
	}
}

func TestMultiTimeframeTiling(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute, 3 * time.Minute}, 10)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	prices := []float64{100, 103, 99, 101, 105, 104}
	var sealed []market.Candle
	for i, p := range prices {
		ts := base.Add(time.Duration(i*30) * time.Second) // two ticks per minute
		sealed = append(sealed, svc.Ingest(tick("SBER", p, 2, ts))...)
	}
	// Crossing into 10:03 seals the last 1m window and the 3m window.
	sealed = append(sealed, svc.Ingest(tick("SBER", 106, 2, base.Add(3*time.Minute)))...)

	var oneMin, threeMin []market.Candle
	for _, c := range sealed {
		switch c.Timeframe {
		case time.Minute:
			oneMin = append(oneMin, c)
		case 3 * time.Minute:
			threeMin = append(threeMin, c)
		}
	}
	if len(oneMin) != 3 || len(threeMin) != 1 {
		t.Fatalf("expected 3x1m and 1x3m sealed, got %d and %d", len(oneMin), len(threeMin))
	}

	agg := threeMin[0]
	if agg.Open != 100 || agg.Close != 104 || agg.High != 105 || agg.Low != 99 {
		t.Fatalf("3m candle does not aggregate its minutes: %+v", agg)
	}

	var volSum int64
	for i, c := range oneMin {
		wantStart := base.Add(time.Duration(i) * time.Minute)
		if !c.StartTime.Equal(wantStart) {
			t.Errorf("1m[%d] start = %v, want %v", i, c.StartTime, wantStart)
		}
		volSum += c.Volume
	}
	if volSum != agg.Volume {
		t.Fatalf("1m volumes sum to %d, 3m candle has %d", volSum, agg.Volume)
	}
	if oneMin[0].Open != agg.Open || oneMin[2].Close != agg.Close {
		t.Fatal("tiling broken: 3m open/close must match first/last minute")
	}
}

func TestFlushSealsForming(t *testing.T) {
	svc := newTestService(t, []time.Duration{time.Minute}, 10)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	svc.Ingest(tick("SBER", 100, 1, base))
	svc.Ingest(tick("GAZP", 150, 2, base))

	sealed := svc.Flush()
	if len(sealed) != 2 {
		t.Fatalf("expected 2 flushed candles, got %d", len(sealed))
	}
	for _, c := range sealed {
		if !c.IsClosed {
			t.Fatalf("flushed candle not closed: %+v", c)
		}
	}
	if _, ok := svc.Forming("SBER", time.Minute); ok {
		t.Fatal("forming candle must be gone after Flush")
	}
	if got := svc.History("SBER", time.Minute, 10); len(got) != 1 {
		t.Fatalf("flushed candle missing from history, got %d", len(got))
	}
	if again := svc.Flush(); len(again) != 0 {
		t.Fatalf("second Flush must be empty, got %d", len(again))
	}
}

func TestReplayDeterminism(t *testing.T) {
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	var ticks []market.Tick
	prices := []float64{100, 101.5, 99.2, 100.7, 102.3, 101.1, 103.8, 102.2, 104.4, 103.3}
	for i, p := range prices {
		ticks = append(ticks, tick("SBER", p, int64(i+1), base.Add(time.Duration(i*37)*time.Second)))
	}

	run := func() ([]market.Candle, []market.Candle, []market.Candle) {
		svc := newTestService(t, []time.Duration{time.Minute, 3 * time.Minute}, 10)
		var sealed []market.Candle
		for _, tk := range ticks {
			sealed = append(sealed, svc.Ingest(tk)...)
		}
		return sealed, svc.History("SBER", time.Minute, 100), svc.Flush()
	}

	sealedA, histA, flushA := run()
	sealedB, histB, flushB := run()

	if !reflect.DeepEqual(sealedA, sealedB) {
		t.Fatal("sealed candles differ between identical replays")
	}
	if !reflect.DeepEqual(histA, histB) {
		t.Fatal("history differs between identical replays")
	}
	if !reflect.DeepEqual(flushA, flushB) {
		t.Fatal("flush output differs between identical replays")
	}
}
