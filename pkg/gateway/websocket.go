package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dotsetgreg/taskmind/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsError struct {
	Error string `json:"error"`
}

// handleWebSocket serves an interactive chat session: the client sends
// chatRequest frames and receives chatResponse frames, one per turn.
// Validation failures are reported in-band; turn failures close the
// connection so the client never waits on a half-finished turn.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("gateway", "websocket read failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}

		if err := validateUserID(req.UserID); err != nil {
			if err := conn.WriteJSON(wsError{Error: err.Error()}); err != nil {
				return
			}
			continue
		}
		if req.Message == "" {
			if err := conn.WriteJSON(wsError{Error: "message must not be empty"}); err != nil {
				return
			}
			continue
		}

		resp, err := g.runTurn(r.Context(), req.UserID, req.SessionID, req.Message)
		if err != nil {
			logger.ErrorCF("gateway", "websocket turn failed", map[string]interface{}{
				"user_id": req.UserID,
				"error":   err.Error(),
			})
			_ = conn.WriteJSON(wsError{Error: "turn failed"})
			return
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}
