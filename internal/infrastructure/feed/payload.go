package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	market "github.com/tushaar82/VELOX-v2-kafka-redis-influx-sub001/internal/domain/entity/market"
)

// TickMessage is the wire envelope for one trade tick on the ticks
// exchange. The producer publishes exactly this shape.
type TickMessage struct {
	Tick *market.Tick `json:"tick"`
}

func decodeTick(body []byte) (market.Tick, error) {
	var msg TickMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return market.Tick{}, fmt.Errorf("decode tick message: %w", err)
	}
	if msg.Tick == nil {
		return market.Tick{}, errors.New("tick payload is nil")
	}
	return *msg.Tick, nil
}
