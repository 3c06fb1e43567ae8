package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"warmer/internal/model"
	"warmer/internal/sender"
)

// continueConversation stores the inbound message of an active warming
// conversation and answers it after a human-like delay. Failures end the
// attempt without retry.
func (r *Router) continueConversation(ctx context.Context, in *model.Instance, conv *model.Conversation, msg model.InboundMessage, log *zap.Logger) {
	typ := model.TypeText
	if msg.Type == model.TypeAudio || msg.Type == model.TypeImage {
		typ = msg.Type
	}
	if err := r.store.AddMessage(ctx, &model.Message{
		ConversationID: conv.ID,
		Direction:      model.DirectionReceived,
		Type:           typ,
		Content:        msg.Message,
		Delivered:      true,
		ReadByContact:  true,
		SentAt:         r.now(),
	}); err != nil {
		log.Error("store received message", zap.Error(err))
		return
	}

	recent, err := r.store.RecentMessages(ctx, conv.ID, replyContextMessages)
	if err != nil {
		log.Error("load conversation context", zap.Error(err))
		return
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		who := "Contato"
		if m.Direction == model.DirectionSent {
			who = "Eu"
		}
		lines = append(lines, who+": "+m.Content)
	}
	reply := r.replies.GenerateReply(ctx, lines, msg.Message)

	delay := time.Duration(minReplyDelay+r.intn(maxReplyDelay-minReplyDelay+1)) * time.Second
	log.Info("waiting before reply", zap.Duration("delay", delay))
	if err := r.sleep(ctx, delay); err != nil {
		return
	}
	if in.DeviceToken == "" {
		log.Warn("instance has no device token, reply dropped")
		return
	}
	if err := r.transport.SendTurn(ctx, in.DeviceToken, in.Provider, msg.From, reply); err != nil {
		log.Error("send reply", zap.Error(err))
		return
	}

	if err := r.store.AddMessage(ctx, &model.Message{
		ConversationID: conv.ID,
		Direction:      model.DirectionSent,
		Type:           sender.MessageType(reply.Kind),
		Content:        reply.Content,
		Delivered:      true,
		SentAt:         r.now(),
	}); err != nil {
		log.Error("store sent reply", zap.Error(err))
		return
	}
	if err := r.store.IncrementConversationMessages(ctx, conv.ID, 1); err != nil {
		log.Error("update conversation", zap.Error(err))
		return
	}
	log.Info("reply sent", zap.String("preview", preview(reply.Content, 50)))
}
