package strategy

import "fmt"

// Combo combines a trend strategy with a momentum confirmation. It emits
// BUY/SELL only when the trend strategy fires and the confirmation does not
// contradict the direction; everything else is HOLD.
type Combo struct {
	trend   Strategy
	confirm Strategy
}

// NewCombo wraps two strategies into an agreement combinator.
func NewCombo(trend, confirm Strategy) *Combo {
	return &Combo{trend: trend, confirm: confirm}
}

func (s *Combo) Name() string {
	return fmt.Sprintf("Combo_%s_%s", s.trend.Name(), s.confirm.Name())
}

func (s *Combo) OnStart() {
	s.trend.OnStart()
	s.confirm.OnStart()
}

func (s *Combo) OnBar(bar Bar) Action {
	trend := s.trend.OnBar(bar)
	confirm := s.confirm.OnBar(bar)

	switch {
	case trend == Buy && confirm != Sell:
		return Buy
	case trend == Sell && confirm != Buy:
		return Sell
	default:
		return Hold
	}
}
