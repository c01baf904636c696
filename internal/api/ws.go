package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsQueueSize = 16
)

type wsInbound struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type wsOutbound struct {
	Type    string               `json:"type"`
	Turn    *models.TurnResponse `json:"turn,omitempty"`
	Code    int                  `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	check := s.origin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: check}
}

// wsHandler streams turns for one session. Each inbound {"type":"message"} frame runs one turn
// and is answered with a {"type":"turn"} frame.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.flow.GetSession(r.Context(), id); err != nil {
		writeError(w, "Server.wsHandler", err)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.wsHandler: upgrade failed", "sessionID", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		slog.Warn("Server.wsHandler: set read deadline failed", "sessionID", id, "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsOutbound, wsQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	slog.Info("Server.wsHandler: connected", "sessionID", id)
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Server.wsHandler: read ended", "sessionID", id, "error", err)
			}
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			pushWS(writeCh, wsOutbound{Type: "pong"})
		case "message", "":
			resp, err := s.flow.ProcessMessage(ctx, id, models.MessageRequest{Message: in.Message, MessageID: in.MessageID})
			if err != nil {
				status, msg := statusFor(err)
				slog.Warn("Server.wsHandler: turn failed", "sessionID", id, "status", status, "error", err)
				pushWS(writeCh, wsOutbound{Type: "error", Code: status, Message: msg})
				continue
			}
			pushWS(writeCh, wsOutbound{Type: "turn", Turn: &resp})
		default:
			pushWS(writeCh, wsOutbound{Type: "error", Code: http.StatusBadRequest, Message: "unsupported type: " + in.Type})
		}
	}
}

// pushWS enqueues out, dropping the oldest queued frame when the writer falls behind.
func pushWS(writeCh chan wsOutbound, out wsOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
