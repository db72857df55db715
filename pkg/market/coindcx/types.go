package coindcx

import (
	"encoding/json"
	"strconv"
)

// Candle is one OHLCV aggregation keyed by its open timestamp (ms).
type Candle struct {
	OpenTime int64   `json:"t"`
	Open     float64 `json:"o"`
	High     float64 `json:"h"`
	Low      float64 `json:"l"`
	Close    float64 `json:"c"`
	Volume   float64 `json:"v"`
	Pair     string  `json:"pair,omitempty"`
}

// PriceUpdate is one tick from the current-prices channel.
type PriceUpdate struct {
	Pair  string
	Price float64
}

// MarketDetail describes one tradable market from the markets_details endpoint.
type MarketDetail struct {
	Symbol string `json:"symbol"`
	Pair   string `json:"pair"`
	Status string `json:"status"`
}

// envelope is the outer frame on the websocket; Data carries a JSON string.
type envelope struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// toFloat coerces feed values defensively; unparsable values become zero so a
// malformed field never takes a session down.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return i
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// parseCandlePayload decodes the inner candle JSON with defensive coercion.
func parseCandlePayload(raw []byte) (Candle, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Candle{}, err
	}

	c := Candle{
		OpenTime: toInt64(fields["t"]),
		Open:     toFloat(fields["o"]),
		High:     toFloat(fields["h"]),
		Low:      toFloat(fields["l"]),
		Close:    toFloat(fields["c"]),
		Volume:   toFloat(fields["v"]),
	}
	if pair, ok := fields["pair"].(string); ok {
		c.Pair = pair
	}
	return c, nil
}
