package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"escrowflow/auth"
	"escrowflow/outbox"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64
)

// handleEvents streams relayed domain events for one contract. The caller
// must be a party to it; admins may watch any contract.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil || s.contracts == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	contractID := strings.TrimSpace(r.URL.Query().Get("contract"))
	if contractID == "" {
		writeErrorMessage(w, http.StatusBadRequest, "contract query parameter is required")
		return
	}
	c, err := s.contracts.Get(r.Context(), contractID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, _ := identityFrom(r.Context())
	if !c.IsParty(id.UserID) && id.Role != auth.RoleAdmin {
		writeErrorMessage(w, http.StatusForbidden, "not a party to this contract")
		return
	}
	filter := contractFilter(c.ID)

	// Same-origin only.
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.stream(ctx, conn, filter); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			s.log.Warn("event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, filter func(outbox.Message) bool) error {
	updates, cancel := s.events.Subscribe(wsBuffer, filter)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg outbox.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func contractFilter(contractID string) func(outbox.Message) bool {
	return func(msg outbox.Message) bool {
		var ref struct {
			ContractID string `json:"contract_id"`
		}
		if err := json.Unmarshal(msg.Payload, &ref); err != nil {
			return false
		}
		return ref.ContractID == contractID
	}
}
