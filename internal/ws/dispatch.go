package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"

	"conversation-service/internal/apperr"
	"conversation-service/internal/messaging"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// dispatch decodes one frame and runs its handler. Failures become an error
// event on the originating connection; the connection stays open.
func (h *Handler) dispatch(ctx context.Context, c *Client, raw []byte) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		h.fail(ctx, c, "", apperr.InvalidArgument("malformed frame"))
		return
	}
	observability.IncWSEvent("in", frame.Event)

	var err error
	switch frame.Event {
	case models.EventJoinConversation:
		var p models.JoinConversationPayload
		if err = h.decode(frame.Data, &p); err == nil {
			err = h.hub.rooms.Join(ctx, c.info.UserID, p.ConversationID, c)
		}
	case models.EventLeaveConversation:
		var p models.LeaveConversationPayload
		if err = h.decode(frame.Data, &p); err == nil {
			h.hub.rooms.Leave(c.info.UserID, p.ConversationID, c)
		}
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err = h.decode(frame.Data, &p); err == nil {
			err = h.sendMessage(ctx, c, p)
		}
	case models.EventTyping:
		var p models.TypingPayload
		if err = h.decode(frame.Data, &p); err == nil {
			err = h.typing(c, p)
		}
	case models.EventMarkAsRead:
		var p models.MarkAsReadPayload
		if err = h.decode(frame.Data, &p); err == nil {
			_, err = h.service.MarkReadAndBroadcast(ctx, c.info.UserID, p.ConversationID)
		}
	default:
		err = apperr.WithDetails(apperr.ErrInvalidArgument, "unknown event", map[string]string{"event": frame.Event})
	}
	if err != nil {
		h.fail(ctx, c, frame.Event, err)
	}
}

func (h *Handler) sendMessage(ctx context.Context, c *Client, p models.SendMessagePayload) error {
	if p.SenderID != "" && p.SenderID != c.info.UserID {
		return apperr.Unauthorized("senderId does not match the connection identity")
	}
	_, err := h.service.SendMessage(ctx, messaging.SendRequest{
		SenderID:       c.info.UserID,
		ConversationID: p.ConversationID,
		Content:        p.Content,
	})
	return err
}

// typing is relayed only from connections that joined the room.
func (h *Handler) typing(c *Client, p models.TypingPayload) error {
	if !h.hub.rooms.IsMember(p.ConversationID, c.ID()) {
		return apperr.Unauthorized("join the conversation before sending typing events")
	}
	h.hub.rooms.BroadcastExcept(p.ConversationID, models.ServerEvent{
		Event: models.EventUserTyping,
		Data: models.UserTyping{
			UserID:         c.info.UserID,
			UserName:       p.UserName,
			IsTyping:       p.IsTyping,
			ConversationID: p.ConversationID,
		},
	}, c.ID())
	return nil
}

func (h *Handler) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return apperr.InvalidArgument("missing payload")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.InvalidArgument("invalid payload")
	}
	if err := h.validate.Struct(dst); err != nil {
		return apperr.WithDetails(apperr.ErrInvalidArgument, "invalid payload", validationDetails(err))
	}
	return nil
}

func (h *Handler) fail(ctx context.Context, c *Client, event string, err error) {
	if apperr.KindOf(err) == apperr.ErrInternal {
		h.log.Error("event handler failed", "conn_id", c.info.ConnID, "user_id", c.info.UserID, "event", event, "error", err)
		h.hub.publishWSError(ctx, c.info, err)
	} else {
		h.log.Warn("event rejected", "conn_id", c.info.ConnID, "user_id", c.info.UserID, "event", event, "kind", apperr.KindOf(err), "error", err)
	}
	c.sendError(err)
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
