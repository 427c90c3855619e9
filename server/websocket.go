package server

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexcodex/mcphost/framework"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: checkLocalOrigin,
}

// wsFrame is the envelope for every websocket message in both directions.
type wsFrame struct {
	Type        string                       `json:"type"`
	Question    string                       `json:"question,omitempty"`
	Servers     []framework.ToolServerConfig `json:"servers,omitempty"`
	Instruction *framework.Instruction       `json:"instruction,omitempty"`
	Error       string                       `json:"error,omitempty"`
	Done        *DoneEvent                   `json:"done,omitempty"`
}

// checkLocalOrigin admits non-browser clients and pages served from the
// loopback interface.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.EqualFold(u.Host, r.Host)
}

// handleWebSocket serves ask frames one at a time on a single connection.
func (s *APIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	ctx := r.Context()

	write := func(frame wsFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	}

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				s.logf("websocket read: %v", err)
			}
			return
		}
		if frame.Type != "ask" {
			if err := write(wsFrame{Type: "error", Error: "unknown frame type " + frame.Type}); err != nil {
				return
			}
			continue
		}
		list, question, err := s.prepare(AskRequest{Question: frame.Question, Servers: frame.Servers})
		if err != nil {
			if err := write(wsFrame{Type: "error", Error: err.Error()}); err != nil {
				return
			}
			continue
		}
		sink := framework.SinkFunc(func(in framework.Instruction) error {
			return write(wsFrame{Type: "instruction", Instruction: &in})
		})
		answer, err := s.Backend.Ask(ctx, list, question, sink)
		if err != nil {
			if writeErr := write(wsFrame{Type: "error", Error: err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		done := doneEvent(answer)
		if err := write(wsFrame{Type: "done", Done: &done}); err != nil {
			return
		}
	}
}
