package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voyagen/crowdqueue/internal/models"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Participants connect from whatever origin hosts the player.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket pushes a snapshot on connect and again whenever its
// ETag changes. State is re-read every poll interval; the payload is the
// same shape GET /api/snapshot returns. Browsers cannot set headers on
// the upgrade, so ?participant= is accepted as well.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	pid := participant(r)
	if pid == "" {
		pid = r.URL.Query().Get("participant")
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reader: handles pongs and notices the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(s.queue.PollInterval())
	defer poll.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	var lastTag string
	push := func() bool {
		snap, err := s.queue.Snapshot(r.Context(), pid)
		if err != nil {
			s.log.Warn("websocket snapshot failed", zap.Error(err))
			return true
		}
		tag := snapshotETag(snap)
		if tag == lastTag {
			return true
		}
		lastTag = tag
		return s.writeWS(conn, snap)
	}

	if !push() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-poll.C:
			if !push() {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, snap *models.Snapshot) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(snap); err != nil {
		s.log.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}
