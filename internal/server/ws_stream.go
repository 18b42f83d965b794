package server

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hedgeworks/hedged/internal/domain"
)

// handleRunWebSocket mirrors the SSE run stream over a websocket. The
// client sends one request message; the server replies with the same event
// sequence the SSE endpoint produces, then closes.
func (s *Server) handleRunWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	var req domain.HedgeFundRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request message")
		return
	}
	if err := req.Validate(); err != nil {
		_ = wsjson.Write(ctx, conn, runEvent{Type: "error", Message: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	emit := func(event runEvent) {
		if err := wsjson.Write(ctx, conn, event); err != nil {
			s.log.Debug().Err(err).Msg("Websocket write failed")
		}
	}
	s.streamRun(ctx, &req, emit)

	conn.Close(websocket.StatusNormalClosure, "run finished")
}
