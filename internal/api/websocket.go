package api

import (
	"log"
	"net/http"
	"time"

	"papertrade/internal/push"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// paperWebsocket bridges one subscriber channel onto a websocket connection.
// The writer goroutine is the only place that writes to the socket; client
// requests (ping, status) are answered through the hub so writes never race.
func (s *Server) paperWebsocket(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	ch := s.Registry.AttachSubscriber(userID)
	defer s.Registry.DetachSubscriber(userID, ch)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for n := range ch {
			if err := conn.WriteJSON(n); err != nil {
				log.Printf("ws write error for user %s: %v", userID, err)
				conn.Close()
				return
			}
		}
		// Channel closed: replaced by a newer subscriber or dropped as
		// too slow. Either way this connection is finished.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscriber replaced"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "ping":
			s.Registry.Hub().Publish(userID, push.New("pong", ""))
		case "status":
			st := s.Registry.Status(userID)
			n := push.New("status_response", st.Symbol)
			n["is_running"] = st.Running
			n["has_price"] = st.HasPrice
			n["has_candle"] = st.HasCandle
			n["market_hours"] = st.MarketOpen
			if st.LastUpdate != 0 {
				n["last_update"] = st.LastUpdate
			}
			s.Registry.Hub().Publish(userID, n)
		}
	}

	conn.Close()
	<-writerDone
}
