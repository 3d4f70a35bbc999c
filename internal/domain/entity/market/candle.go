package market

import (
	"fmt"
	"time"
)

// Candle is an OHLCV summary of one symbol over one timeframe window.
// A forming candle (IsClosed=false) is mutated in place by ticks inside
// its window; once the window elapses it is sealed and never changes again.
type Candle struct {
	Symbol    string        `json:"symbol"`
	Timeframe time.Duration `json:"timeframe"`
	Open      float64       `json:"open"`
	High      float64       `json:"high"`
	Low       float64       `json:"low"`
	Close     float64       `json:"close"`
	Volume    int64         `json:"volume"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	IsClosed  bool          `json:"is_closed"`
}

// WindowStart aligns ts to the wall-clock grid for the timeframe, so a
// 3-minute window always starts on a second-0 boundary of a 3-minute
// multiple regardless of when the first tick arrived.
func WindowStart(ts time.Time, timeframe time.Duration) time.Time {
	return ts.UTC().Truncate(timeframe)
}

// Contains reports whether ts falls inside the candle's window.
func (c Candle) Contains(ts time.Time) bool {
	u := ts.UTC()
	return !u.Before(c.StartTime) && u.Before(c.EndTime)
}

// TimeframeLabel renders a timeframe the way configs spell it: "1m", "3m", "1h".
func TimeframeLabel(tf time.Duration) string {
	switch {
	case tf >= time.Hour && tf%time.Hour == 0:
		return fmt.Sprintf("%dh", tf/time.Hour)
	case tf >= time.Minute && tf%time.Minute == 0:
		return fmt.Sprintf("%dm", tf/time.Minute)
	default:
		return fmt.Sprintf("%ds", int64(tf/time.Second))
	}
}
