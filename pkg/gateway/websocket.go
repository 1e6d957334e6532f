package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/logger"
)

const (
	wsMinHeartbeatSecs = 3
	wsMaxHeartbeatSecs = 120
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Type     string      `json:"type"`
	Inbound  interface{} `json:"inbound,omitempty"`
	Outbound interface{} `json:"outbound,omitempty"`
	Level    string      `json:"level,omitempty"`
	Text     string      `json:"text,omitempty"`
	Dropped  uint64      `json:"dropped,omitempty"`
}

// handleWSEvents streams every bus event (inbound/outbound messages, system
// logs) to a single WebSocket client, with a periodic heartbeat so
// reverse proxies and clients can detect a stalled connection.
func (g *Gateway) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	heartbeatSecs := clampInt(g.cfg.Gateway.WSHeartbeatSeconds, wsMinHeartbeatSecs, wsMaxHeartbeatSecs)
	heartbeat := time.NewTicker(time.Duration(heartbeatSecs) * time.Second)
	defer heartbeat.Stop()

	sub := g.bus.Subscribe()
	defer sub.Close()

	ctx := r.Context()

	if err := writeEnvelope(conn, wsEnvelope{Type: "connected"}); err != nil {
		return
	}

	events := make(chan bus.Event, bus.DefaultCapacity)
	lagged := make(chan uint64, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			e, n, ok := sub.Recv(ctx)
			if !ok {
				return
			}
			if n > 0 {
				select {
				case lagged <- n:
				default:
				}
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-heartbeat.C:
			if err := writeEnvelope(conn, wsEnvelope{Type: "heartbeat"}); err != nil {
				return
			}
		case n := <-lagged:
			if err := writeEnvelope(conn, wsEnvelope{Type: "lagged", Dropped: n}); err != nil {
				return
			}
		case e := <-events:
			if err := writeEnvelope(conn, eventToEnvelope(e)); err != nil {
				return
			}
		}
	}
}

func eventToEnvelope(e bus.Event) wsEnvelope {
	switch e.Kind {
	case bus.EventInboundMessage:
		return wsEnvelope{Type: "inbound_message", Inbound: e.Inbound}
	case bus.EventOutboundMessage:
		return wsEnvelope{Type: "outbound_message", Outbound: e.Outbound}
	case bus.EventSystemLog:
		return wsEnvelope{Type: "system_log", Level: e.LogLevel, Text: e.LogText}
	default:
		return wsEnvelope{Type: "unknown"}
	}
}

func writeEnvelope(conn *websocket.Conn, v wsEnvelope) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
