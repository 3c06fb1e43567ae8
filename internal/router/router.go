// Package router routes canonical inbound messages to the component that
// owns the conversation: an open human attendance, an active warming
// conversation, or the auto-reply bot.
package router

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"warmer/internal/ai"
	"warmer/internal/attendance"
	"warmer/internal/dedup"
	"warmer/internal/model"
	"warmer/internal/storage"
	"warmer/internal/webhook"
)

const (
	activeConversationWindow = 24 * time.Hour
	replyContextMessages     = 5
	minReplyDelay            = 30 // seconds
	maxReplyDelay            = 300
	metricDateFmt            = "2006-01-02"
)

// Transport delivers outbound messages.
type Transport interface {
	SendText(ctx context.Context, deviceToken, provider, to, text string) error
	SendTurn(ctx context.Context, deviceToken, provider, to string, t model.Turn) error
}

// ReplyGenerator continues a warming conversation; it never fails.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, recent []string, last string) model.Turn
}

// Escalator opens human attendances.
type Escalator interface {
	Open(ctx context.Context, in attendance.OpenInput) (*model.Attendance, error)
}

type Options struct {
	// Location decides the calendar day of daily metrics.
	Location *time.Location
}

type Router struct {
	store     *storage.Store
	transport Transport
	replies   ReplyGenerator
	completer ai.Completer
	escalator Escalator
	seen      dedup.Store
	logger    *zap.Logger
	loc       *time.Location

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	intn  func(n int) int

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// New builds a router. completer and seen may be nil: without a completer
// bots never answer, without seen nothing is de-duplicated.
func New(store *storage.Store, transport Transport, replies ReplyGenerator, completer ai.Completer,
	escalator Escalator, seen dedup.Store, logger *zap.Logger, opts Options) *Router {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		store:     store,
		transport: transport,
		replies:   replies,
		completer: completer,
		escalator: escalator,
		seen:      seen,
		logger:    logger.Named("router"),
		loc:       opts.Location,
		now:       time.Now,
		sleep:     sleepCtx,
		intn:      rand.Intn,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// HandleIncomingWebhook classifies a raw webhook and routes it synchronously.
// It never fails: unrecognised payloads and routing errors are logged. The
// routed message is returned, or nil when the payload was ignored.
func (r *Router) HandleIncomingWebhook(ctx context.Context, body []byte, headers http.Header) *model.InboundMessage {
	msg := webhook.Classify(body, headers)
	if msg == nil {
		r.logger.Debug("webhook payload not recognised, ignoring")
		return nil
	}
	r.HandleInbound(ctx, *msg)
	return msg
}

// Submit classifies a raw webhook and routes it in the background, so the
// caller can acknowledge the provider right away.
func (r *Router) Submit(body []byte, headers http.Header) *model.InboundMessage {
	msg := webhook.Classify(body, headers)
	if msg == nil {
		r.logger.Debug("webhook payload not recognised, ignoring")
		return nil
	}
	r.Go(*msg)
	return msg
}

// Go routes msg in the background. Messages arriving after Close are dropped.
func (r *Router) Go(msg model.InboundMessage) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("router closed, dropping message", zap.String("from", msg.From))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		r.HandleInbound(r.ctx, msg)
	}()
}

// Wait blocks until background routing started by Go has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Close cancels background routing, including pending reply delays, and
// waits for it to return.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// HandleInbound routes one canonical message. Precedence is human
// attendance, then active warming conversation, then bot. Only the bot
// path counts the message in the daily received metric.
func (r *Router) HandleInbound(ctx context.Context, msg model.InboundMessage) {
	log := r.logger.With(zap.String("from", msg.From), zap.String("device", msg.DeviceToken), zap.Bool("group", msg.IsGroup))
	if msg.From == "" || msg.Message == "" {
		log.Debug("message without sender or content, ignoring")
		return
	}
	if !r.firstDelivery(ctx, msg, log) {
		return
	}
	log.Info("inbound message", zap.String("preview", preview(msg.Message, 50)))

	in, err := r.findInstance(ctx, msg.DeviceToken, msg.From)
	if err != nil {
		log.Error("resolve instance", zap.Error(err))
		return
	}
	if in == nil {
		log.Warn("no instance for inbound message")
		return
	}
	log = log.With(zap.String("instance", in.ID))

	open, err := r.store.FindOpenAttendance(ctx, in.ID, msg.From)
	switch {
	case err == nil:
		if err := r.store.AddAttendanceMessage(ctx, &model.AttendanceMessage{
			AttendanceID: open.ID,
			Direction:    model.DirectionReceived,
			Content:      msg.Message,
			SentAt:       r.now(),
		}); err != nil {
			log.Error("store attendance message", zap.Error(err))
			return
		}
		log.Info("message added to attendance", zap.String("attendance", open.ID))
		return
	case !errors.Is(err, storage.ErrNotFound):
		log.Error("lookup open attendance", zap.Error(err))
		return
	}

	conv, err := r.store.FindActiveConversation(ctx, in.ID, msg.From, r.now().Add(-activeConversationWindow))
	switch {
	case err == nil:
		r.continueConversation(ctx, in, conv, msg, log.With(zap.String("conversation", conv.ID)))
		return
	case !errors.Is(err, storage.ErrNotFound):
		log.Error("lookup active conversation", zap.Error(err))
		return
	}

	if !r.botReply(ctx, in, msg, log) {
		log.Info("message not part of an active conversation or bot flow")
	}
	date := r.now().In(r.loc).Format(metricDateFmt)
	if err := r.store.AddDailyMetric(ctx, in.ID, date, 0, 1); err != nil {
		log.Error("update metrics", zap.Error(err))
	}
}

// firstDelivery reports whether msg is seen for the first time. Store errors
// let the message through.
func (r *Router) firstDelivery(ctx context.Context, msg model.InboundMessage, log *zap.Logger) bool {
	if r.seen == nil {
		return true
	}
	key := dedup.Key(msg.DeviceToken, msg.From, msg.MessageID)
	if key == "" {
		return true
	}
	first, err := r.seen.First(ctx, key)
	if err != nil {
		log.Warn("dedup check failed", zap.Error(err))
		return true
	}
	if !first {
		log.Debug("duplicate delivery dropped", zap.String("message_id", msg.MessageID))
	}
	return first
}

// findInstance resolves the owning instance: exact device token, then a
// connected instance whose phone contains or is contained in from, then any
// connected instance.
func (r *Router) findInstance(ctx context.Context, deviceToken, from string) (*model.Instance, error) {
	if deviceToken != "" {
		in, err := r.store.FindInstanceByDeviceToken(ctx, deviceToken)
		if err == nil {
			return in, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		r.logger.Warn("device token not registered", zap.String("device", deviceToken))
	}
	connected, err := r.store.ListConnectedInstances(ctx)
	if err != nil {
		return nil, err
	}
	if len(connected) == 0 {
		return nil, nil
	}
	if digits := model.NormalizePhone(from); digits != "" {
		for i := range connected {
			phone := model.NormalizePhone(connected[i].Phone)
			if phone == "" {
				continue
			}
			if strings.Contains(digits, phone) || strings.Contains(phone, digits) {
				return &connected[i], nil
			}
		}
	}
	r.logger.Warn("falling back to first connected instance",
		zap.String("instance", connected[0].ID), zap.Int("connected", len(connected)))
	return &connected[0], nil
}

func preview(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
