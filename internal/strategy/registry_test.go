package strategy_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	interfaces "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
	"github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/strategy"
)

func TestDefaultRegistryBuildsSMACross(t *testing.T) {
	registry := strategy.DefaultRegistry()
	built, err := registry.Build(strategy.Config{
		Name:      "sma_fast",
		Kind:      strategy.KindSMACross,
		Symbols:   []string{"SBER"},
		Timeframe: "1m",
		Params:    strategy.Params{ShortPeriod: 20, LongPeriod: 50, Quantity: 10},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built.Name() != "sma_fast" {
		t.Errorf("name = %q", built.Name())
	}
	if built.WarmupCandles() != 51 {
		t.Errorf("warmup candles = %d, want 51", built.WarmupCandles())
	}
	if tfs := built.RequiredTimeframes(); len(tfs) != 1 || tfs[0] != time.Minute {
		t.Errorf("timeframes = %v", tfs)
	}
}

func TestBuildUnknownKindFails(t *testing.T) {
	registry := strategy.DefaultRegistry()
	if _, err := registry.Build(strategy.Config{Name: "x", Kind: "momentum"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestRegisterRejectsDuplicateKind(t *testing.T) {
	registry := strategy.DefaultRegistry()
	ctor := func(strategy.Config) (interfaces.Strategy, error) { return nil, nil }
	if err := registry.Register(strategy.KindSMACross, ctor); err == nil {
		t.Fatal("duplicate kind accepted")
	}
}

func TestBuildAllEnforcesUniqueNames(t *testing.T) {
	registry := strategy.DefaultRegistry()
	cfgs := []strategy.Config{
		{Name: "a", Kind: strategy.KindSMACross, Symbols: []string{"SBER"}, Timeframe: "1m", Params: strategy.Params{ShortPeriod: 3, LongPeriod: 5, Quantity: 1}},
		{Name: "a", Kind: strategy.KindSMACross, Symbols: []string{"GAZP"}, Timeframe: "1m", Params: strategy.Params{ShortPeriod: 3, LongPeriod: 5, Quantity: 1}},
	}
	if _, err := registry.BuildAll(cfgs); err == nil {
		t.Fatal("duplicate names accepted")
	}
}

func TestLoadFileParsesStrategies(t *testing.T) {
	const doc = `
strategies:
  - name: sma_fast
    kind: sma_cross
    symbols: [SBER, GAZP]
    timeframe: 1m
    params:
      short_period: 20
      long_period: 50
      quantity: 10
  - name: sma_slow
    kind: sma_cross
    symbols: [SBER]
    timeframe: 5m
    params:
      short_period: 10
      long_period: 30
      quantity: 5
`
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfgs, err := strategy.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(cfgs))
	}
	if cfgs[0].Name != "sma_fast" || cfgs[0].Params.LongPeriod != 50 {
		t.Errorf("first strategy misparsed: %+v", cfgs[0])
	}
	if len(cfgs[0].Symbols) != 2 {
		t.Errorf("symbols misparsed: %v", cfgs[0].Symbols)
	}

	strategies, err := strategy.DefaultRegistry().BuildAll(cfgs)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(strategies) != 2 {
		t.Fatalf("expected 2 built strategies, got %d", len(strategies))
	}
}

func TestLoadFileRejectsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte("strategies: []\n"), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := strategy.LoadFile(path); err == nil {
		t.Fatal("empty strategies file accepted")
	}
}
