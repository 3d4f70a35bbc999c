package execution

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how approved orders are executed.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

var (
	ErrUnknownMode = errors.New("unknown execution mode")
	// ErrLiveNotAcknowledged keeps a stray EXECUTION_MODE=live in an env
	// file from trading real money: live must be acknowledged explicitly.
	ErrLiveNotAcknowledged = errors.New("live execution requires EXECUTION_LIVE_ACK=yes")
)

// ParseMode validates the configured execution mode. Empty input means
// paper. Live mode additionally requires the acknowledgement flag.
//
// TODO: wire a live order gateway (broker orders API); until one exists,
// main refuses to start in ModeLive even when acknowledged.
func ParseMode(raw string, liveAck bool) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModePaper:
		return ModePaper, nil
	case ModeLive:
		if !liveAck {
			return "", ErrLiveNotAcknowledged
		}
		return ModeLive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}
