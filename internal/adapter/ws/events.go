package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/MedOrch/internal/domain/event"
	"github.com/Strob0t/MedOrch/internal/logger"
)

// BroadcastEvent implements broadcast.Broadcaster. The session is taken
// from ctx.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType event.Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:      string(eventType),
		SessionID: logger.SessionID(ctx),
		Payload:   json.RawMessage(data),
	})
}
