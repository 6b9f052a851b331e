package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"execution-core/internal/events"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are forwarded to websocket clients; ?topic= narrows the set.
var streamTopics = []events.Event{
	events.EventOrderQueued,
	events.EventOrderRejected,
	events.EventOrderUpdate,
	events.EventOrderFilled,
	events.EventStopParked,
	events.EventRiskBlocked,
	events.EventRiskCleared,
	events.EventPositionChange,
	events.EventCandle,
}

func selectTopics(requested []string) []events.Event {
	if len(requested) == 0 {
		return streamTopics
	}
	want := make(map[string]bool, len(requested))
	for _, t := range requested {
		want[t] = true
	}
	var out []events.Event
	for _, t := range streamTopics {
		if want[string(t)] {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) websocket(c *gin.Context) {
	topics := selectTopics(c.QueryArray("topic"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil || len(topics) == 0 {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"no topics available"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeAll(topics, 256)
	defer unsub()

	// The read loop only services control frames and notices the client leaving.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				log.Debugf("ws write error: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
