package strategy

import (
	"fmt"
	"time"

	interfaces "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/interfaces"
)

// Constructor builds a strategy from one config entry.
type Constructor func(cfg Config) (interfaces.Strategy, error)

// Registry maps strategy kinds to constructors. Registration is explicit,
// there is no reflection and no global side-effect imports: anything that
// satisfies the strategy capability can be registered.
type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in strategy kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(KindSMACross, buildSMACross)
	return r
}

func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return fmt.Errorf("strategy kind is empty")
	}
	if ctor == nil {
		return fmt.Errorf("strategy kind %q: nil constructor", kind)
	}
	if _, dup := r.constructors[kind]; dup {
		return fmt.Errorf("strategy kind %q already registered", kind)
	}
	r.constructors[kind] = ctor
	return nil
}

func (r *Registry) Build(cfg Config) (interfaces.Strategy, error) {
	ctor, ok := r.constructors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q", cfg.Kind)
	}
	return ctor(cfg)
}

// BuildAll constructs every configured strategy and enforces unique names.
func (r *Registry) BuildAll(cfgs []Config) ([]interfaces.Strategy, error) {
	seen := make(map[string]struct{}, len(cfgs))
	strategies := make([]interfaces.Strategy, 0, len(cfgs))
	for _, cfg := range cfgs {
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate strategy name %q", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		s, err := r.Build(cfg)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}

// KindSMACross names the built-in moving average crossover.
const KindSMACross = "sma_cross"

func buildSMACross(cfg Config) (interfaces.Strategy, error) {
	timeframe, err := time.ParseDuration(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: invalid timeframe %q: %w", cfg.Name, cfg.Timeframe, err)
	}
	return NewSMACross(cfg.Name, cfg.Symbols, timeframe, cfg.Params.ShortPeriod, cfg.Params.LongPeriod, cfg.Params.Quantity)
}
