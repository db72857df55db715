package strategy

import "fmt"

// SMACross implements a simple moving average crossover strategy.
// It is a single-position state machine: BUY fires on an upward cross while
// flat, SELL on a downward cross while long. Repeated crosses in the same
// direction never stack positions.
type SMACross struct {
	shortPeriod int
	longPeriod  int

	shortWindow []float64
	longWindow  []float64
	prevShort   float64
	prevLong    float64
	warm        bool // prev SMAs valid
	long        bool // holding a position
}

// NewSMACross creates a crossover strategy with the given window lengths.
func NewSMACross(shortPeriod, longPeriod int) *SMACross {
	return &SMACross{
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		shortWindow: make([]float64, 0, shortPeriod),
		longWindow:  make([]float64, 0, longPeriod),
	}
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("SMA_Cross_%d_%d", s.shortPeriod, s.longPeriod)
}

func (s *SMACross) OnStart() {
	s.shortWindow = s.shortWindow[:0]
	s.longWindow = s.longWindow[:0]
	s.prevShort = 0
	s.prevLong = 0
	s.warm = false
	s.long = false
}

func (s *SMACross) OnBar(bar Bar) Action {
	price := bar.Close
	s.shortWindow = push(s.shortWindow, price, s.shortPeriod)
	s.longWindow = push(s.longWindow, price, s.longPeriod)

	if len(s.longWindow) < s.longPeriod || len(s.shortWindow) < s.shortPeriod {
		return Hold
	}

	shortSMA := mean(s.shortWindow)
	longSMA := mean(s.longWindow)

	signal := Hold
	if s.warm {
		switch {
		case !s.long && shortSMA > longSMA && s.prevShort <= s.prevLong:
			signal = Buy
			s.long = true
		case s.long && shortSMA < longSMA && s.prevShort >= s.prevLong:
			signal = Sell
			s.long = false
		}
	}

	s.prevShort = shortSMA
	s.prevLong = longSMA
	s.warm = true

	return signal
}

// push appends to a fixed-length rolling window, evicting the oldest value.
func push(window []float64, v float64, max int) []float64 {
	window = append(window, v)
	if len(window) > max {
		window = window[1:]
	}
	return window
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
