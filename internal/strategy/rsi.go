package strategy

import "fmt"

// RSI implements a Relative Strength Index overbought/oversold strategy.
// SELL when RSI rises above the overbought threshold, BUY when it falls below
// the oversold threshold, HOLD until the gain/loss window is full.
type RSI struct {
	period     int
	oversold   float64
	overbought float64

	gains     []float64
	losses    []float64
	prevClose float64
	seeded    bool
}

// NewRSI creates an RSI strategy. Typical parameters: period 14, oversold 30,
// overbought 70.
func NewRSI(period int, oversold, overbought float64) *RSI {
	return &RSI{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		gains:      make([]float64, 0, period),
		losses:     make([]float64, 0, period),
	}
}

func (s *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", s.period)
}

func (s *RSI) OnStart() {
	s.gains = s.gains[:0]
	s.losses = s.losses[:0]
	s.prevClose = 0
	s.seeded = false
}

func (s *RSI) OnBar(bar Bar) Action {
	close := bar.Close
	if !s.seeded {
		s.prevClose = close
		s.seeded = true
		return Hold
	}

	change := close - s.prevClose
	s.prevClose = close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	s.gains = push(s.gains, gain, s.period)
	s.losses = push(s.losses, loss, s.period)

	if len(s.gains) < s.period {
		return Hold
	}

	avgGain := mean(s.gains)
	avgLoss := mean(s.losses)

	rsi := 100.0
	if avgLoss != 0 {
		rs := avgGain / avgLoss
		rsi = 100 - (100 / (1 + rs))
	}

	if rsi > s.overbought {
		return Sell
	}
	if rsi < s.oversold {
		return Buy
	}
	return Hold
}
