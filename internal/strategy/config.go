package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one strategy entry in the strategies file.
type Config struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`
	Params    Params   `yaml:"params"`
}

// Params carries the tunables a strategy kind picks from.
type Params struct {
	ShortPeriod int   `yaml:"short_period"`
	LongPeriod  int   `yaml:"long_period"`
	Quantity    int64 `yaml:"quantity"`
}

type configFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadFile reads strategy configs from a YAML file.
func LoadFile(path string) ([]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	return parseConfigs(raw)
}

func parseConfigs(raw []byte) ([]Config, error) {
	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse strategies file: %w", err)
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("strategies file declares no strategies")
	}
	return file.Strategies, nil
}
