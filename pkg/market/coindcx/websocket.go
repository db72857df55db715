package coindcx

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// StreamClient manages lightweight streaming from the CoinDCX public websocket.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client for the given stream URL.
func NewStreamClient(streamURL string) *StreamClient {
	if streamURL == "" {
		streamURL = "wss://stream.coindcx.com/ws"
	}
	return &StreamClient{
		StreamURL: streamURL,
		dialer:    websocket.DefaultDialer,
	}
}

type joinMessage struct {
	Event       string `json:"event"`
	ChannelName string `json:"channelName"`
}

// SubscribeCandles joins the candlestick channel for pair/timeframe and pushes
// parsed candles into a channel. It returns the channel and a stop function.
// The connection runs until stopped or the read loop fails.
func (c *StreamClient) SubscribeCandles(ctx context.Context, pair, timeframe string) (<-chan Candle, func(), error) {
	channel := fmt.Sprintf("%s_%s", pair, timeframe)

	conn, _, err := c.dialer.DialContext(ctx, c.StreamURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial coindcx ws: %w", err)
	}

	if err := conn.WriteJSON(joinMessage{Event: "join", ChannelName: channel}); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("join channel %s: %w", channel, err)
	}

	out := make(chan Candle, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		// Only the reader closes out, so a send can never race the close.
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if isExpectedClose(err) {
					return
				}
				log.Printf("coindcx ws read error: %v", err)
				return
			}

			var env envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				log.Printf("coindcx ws envelope parse error: %v", err)
				continue
			}
			if env.Event != "candlestick" || env.Data == "" {
				continue
			}

			candle, err := parseCandlePayload([]byte(env.Data))
			if err != nil {
				log.Printf("coindcx ws candle parse error: %v", err)
				continue
			}
			// A gone consumer must not wedge this goroutine on a full buffer.
			select {
			case out <- candle:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// SubscribePrices joins the shared current-prices channel and emits ticks for
// the requested pair only.
func (c *StreamClient) SubscribePrices(ctx context.Context, pair string) (<-chan PriceUpdate, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, c.StreamURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial coindcx ws prices: %w", err)
	}

	if err := conn.WriteJSON(joinMessage{Event: "join", ChannelName: "currentPrices@spot@10s"}); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("join prices channel: %w", err)
	}

	out := make(chan PriceUpdate, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if isExpectedClose(err) {
					return
				}
				log.Printf("coindcx ws price read error: %v", err)
				return
			}

			var env envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				log.Printf("coindcx ws price envelope parse error: %v", err)
				continue
			}
			if env.Event != "currentPrices@spot#update" || env.Data == "" {
				continue
			}

			var payload struct {
				Prices map[string]any `json:"prices"`
			}
			if err := json.Unmarshal([]byte(env.Data), &payload); err != nil {
				log.Printf("coindcx ws price parse error: %v", err)
				continue
			}

			if raw, ok := payload.Prices[pair]; ok {
				select {
				case out <- PriceUpdate{Pair: pair, Price: toFloat(raw)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
