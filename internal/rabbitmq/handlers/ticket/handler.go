package ticket

import (
	"context"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/alimpk/filegate/internal/model"
	"github.com/alimpk/filegate/internal/rabbitmq/queue"
)

type ticketExecutor interface {
	ExecuteTicket(ctx context.Context, t model.DeliveryTicket)
}

// Handler executes delivery tickets surfacing from the delay queue.
type Handler struct {
	service ticketExecutor
}

func NewHandler(svc ticketExecutor) *Handler {
	return &Handler{
		service: svc,
	}
}

// HandleMessage deletes the messages a ticket covers. The delay queue TTL
// normally lands the message right at DeleteAt; a residual wait covers
// redeliveries that arrive early.
func (h *Handler) HandleMessage(ctx context.Context, msg queue.TicketMessage) {
	if wait := time.Until(msg.DeleteAt); wait > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	zlog.Logger.Info().Str("ticket_id", msg.ID.String()).Int64("chat_id", msg.ChatID).
		Msg("executing delivery ticket")

	h.service.ExecuteTicket(ctx, model.DeliveryTicket{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		MessageIDs: msg.MessageIDs,
		DeleteAt:   msg.DeleteAt,
	})
}
