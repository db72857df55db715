package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Known strategy names accepted by New.
const (
	TypeSMACrossover = "sma_crossover"
	TypeRSI          = "rsi"
	TypeSMARSI       = "sma_rsi"
)

// New builds a fresh strategy instance from its registry name and parameters.
// Parameters arrive as loosely-typed JSON; they are validated here so a bad
// start request fails before any session state is created.
func New(name string, params map[string]any) (Strategy, error) {
	switch strings.ToLower(name) {
	case TypeSMACrossover:
		short, long, err := smaParams(params)
		if err != nil {
			return nil, err
		}
		return NewSMACross(short, long), nil

	case TypeRSI:
		period, oversold, overbought, err := rsiParams(params)
		if err != nil {
			return nil, err
		}
		return NewRSI(period, oversold, overbought), nil

	case TypeSMARSI:
		short, long, err := smaParams(params)
		if err != nil {
			return nil, err
		}
		period, oversold, overbought, err := rsiParams(params)
		if err != nil {
			return nil, err
		}
		return NewCombo(NewSMACross(short, long), NewRSI(period, oversold, overbought)), nil

	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}

func smaParams(params map[string]any) (short, long int, err error) {
	short = intParam(params, "short", 5)
	long = intParam(params, "long", 20)
	if short <= 0 || long <= 0 {
		return 0, 0, fmt.Errorf("sma windows must be > 0 (short=%d, long=%d)", short, long)
	}
	if short >= long {
		return 0, 0, fmt.Errorf("sma short window must be smaller than long (short=%d, long=%d)", short, long)
	}
	return short, long, nil
}

func rsiParams(params map[string]any) (period int, oversold, overbought float64, err error) {
	period = intParam(params, "period", 14)
	oversold = floatParam(params, "oversold", 30)
	overbought = floatParam(params, "overbought", 70)
	if period <= 0 {
		return 0, 0, 0, fmt.Errorf("rsi period must be > 0 (period=%d)", period)
	}
	if oversold >= overbought {
		return 0, 0, 0, fmt.Errorf("rsi oversold must be below overbought (%v >= %v)", oversold, overbought)
	}
	return period, oversold, overbought, nil
}

func intParam(params map[string]any, key string, def int) int {
	if f, ok := asFloat(params[key]); ok {
		return int(f)
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if f, ok := asFloat(params[key]); ok {
		return f
	}
	return def
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
