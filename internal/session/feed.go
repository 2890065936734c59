package session

import (
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedInterval   = 500 * time.Millisecond
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
)

// feedMessage is one frame of the live feed. Type is "status" or "logs".
type feedMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Feed handles GET /api/session/feed. It upgrades to a WebSocket, sends the
// current status and the last DefaultTail lines, then pushes status changes
// and new log lines until the client goes away.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("feed upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg feedMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		return conn.WriteJSON(msg) == nil
	}

	status := h.ctrl.Status()
	lines := h.ctrl.TailLogs(DefaultTail)
	var last uint64
	if len(lines) > 0 {
		last = lines[len(lines)-1].Seq
	}
	if !send(feedMessage{Type: "status", Data: status}) || !send(feedMessage{Type: "logs", Data: lines}) {
		return
	}

	tick := time.NewTicker(feedInterval)
	defer tick.Stop()
	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		case <-tick.C:
			if cur := h.ctrl.Status(); !reflect.DeepEqual(cur, status) {
				status = cur
				if !send(feedMessage{Type: "status", Data: status}) {
					return
				}
			}
			if fresh := h.ctrl.LogsSince(last); len(fresh) > 0 {
				last = fresh[len(fresh)-1].Seq
				if !send(feedMessage{Type: "logs", Data: fresh}) {
					return
				}
			}
		}
	}
}
