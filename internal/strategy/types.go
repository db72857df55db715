package strategy

// Action is the closed set of decisions a strategy can emit per bar.
type Action int8

const (
	Hold Action = iota
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Bar is one completed OHLCV aggregation handed to a strategy.
type Bar struct {
	OpenTime int64 // ms epoch of bar open
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Strategy consumes one bar at a time and emits a trading decision.
// Implementations are stateful and owned by exactly one session; they are
// never called concurrently.
type Strategy interface {
	// Name returns the human-readable strategy name.
	Name() string
	// OnStart resets internal buffers before a run.
	OnStart()
	// OnBar processes one completed bar and returns the decision.
	OnBar(bar Bar) Action
}
