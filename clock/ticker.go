package clock

import "time"

// Ticker is the recurring timer used by the clock. It exists so tests can
// drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a running Ticker with the given period.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func NewRealTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}
