package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"warmer/internal/ai"
	"warmer/internal/attendance"
	"warmer/internal/model"
	"warmer/internal/storage"
)

// TransferMarker is emitted by the bot when the customer asks for a human.
const TransferMarker = "[TRANSFERIR_ATENDENTE]"

const transferInstruction = "\n\nIMPORTANTE: Se o usuário pedir para falar com um atendente humano, responda normalmente confirmando a transferência e perguntando brevemente o motivo/assunto. Ao final da sua resposta, inclua EXATAMENTE o marcador " + TransferMarker + "."

const subjectLimit = 200

// escalationContext is stored with bot-opened attendances.
type escalationContext struct {
	UserMessage string `json:"userMessage"`
	BotResponse string `json:"botResponse"`
	Timestamp   string `json:"timestamp"`
}

// botReply answers msg with the instance's active bot and opens an
// attendance when the bot asks for a transfer. It reports whether the bot
// replied.
func (r *Router) botReply(ctx context.Context, in *model.Instance, msg model.InboundMessage, log *zap.Logger) bool {
	if _, err := r.store.FindOpenAttendance(ctx, in.ID, msg.From); err == nil {
		log.Info("contact is with a human attendant, bot skipped")
		return false
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Error("lookup open attendance", zap.Error(err))
		return false
	}

	bot, err := r.store.ActiveBotForInstance(ctx, in.ID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("no active bot")
		return false
	}
	if err != nil {
		log.Error("load bot", zap.Error(err))
		return false
	}
	log = log.With(zap.String("bot", bot.Name))
	if msg.IsGroup && !bot.ReplyGroups {
		log.Info("group message ignored by bot")
		return false
	}
	if in.DeviceToken == "" {
		log.Warn("instance has no device token")
		return false
	}
	if r.completer == nil {
		log.Warn("no AI completer configured, bot disabled")
		return false
	}

	if bot.ReplyDelay > 0 {
		if err := r.sleep(ctx, time.Duration(bot.ReplyDelay)*time.Second); err != nil {
			return false
		}
	}
	reply, err := r.completer.Complete(ctx, ai.CompletionRequest{
		SystemPrompt: bot.SystemPrompt + transferInstruction,
		UserText:     msg.Message,
		Model:        bot.Model,
		Temperature:  bot.Temperature,
		MaxTokens:    bot.MaxTokens,
	})
	if err != nil {
		log.Error("bot completion failed", zap.Error(err))
		return false
	}
	transfer := strings.Contains(reply, TransferMarker)
	clean := strings.TrimSpace(strings.ReplaceAll(reply, TransferMarker, ""))
	if clean == "" {
		log.Warn("bot returned an empty reply")
		return false
	}

	if err := r.transport.SendText(ctx, in.DeviceToken, in.Provider, msg.From, clean); err != nil {
		log.Error("send bot reply", zap.Error(err))
		return false
	}
	log.Info("bot reply sent", zap.String("preview", preview(clean, 60)))

	if transfer {
		r.escalate(ctx, in, bot, msg, clean, log)
	}
	return true
}

func (r *Router) escalate(ctx context.Context, in *model.Instance, bot *model.Bot, msg model.InboundMessage, reply string, log *zap.Logger) {
	raw, err := json.Marshal(escalationContext{
		UserMessage: msg.Message,
		BotResponse: reply,
		Timestamp:   r.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Error("encode escalation context", zap.Error(err))
		return
	}
	a, err := r.escalator.Open(ctx, attendance.OpenInput{
		InstanceID: in.ID,
		BotID:      bot.ID,
		Phone:      msg.From,
		Title:      "Solicitação de " + msg.From,
		Subject:    preview(msg.Message, subjectLimit),
		Context:    string(raw),
	})
	if errors.Is(err, attendance.ErrAlreadyOpen) {
		log.Info("attendance already open for contact")
		return
	}
	if err != nil {
		log.Error("open attendance", zap.Error(err))
		return
	}
	log.Info("attendance opened, bot paused for contact", zap.String("attendance", a.ID), zap.String("protocol", a.Protocol))
}
