package sender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"warmer/internal/model"
)

// Gateway sends through the hosted gateway (whatsapp and baileys providers).
type Gateway interface {
	SendText(ctx context.Context, deviceToken, provider, number, text string) error
}

// Local sends through a locally managed whatsmeow device.
type Local interface {
	SendText(ctx context.Context, instanceID, to, text string) error
}

// SendFunc is the shape of one text delivery.
type SendFunc func(ctx context.Context, deviceToken, provider, to, text string) error

// WithRateLimit waits on lim before calling next.
func WithRateLimit(lim *rate.Limiter, next SendFunc) SendFunc {
	return func(ctx context.Context, deviceToken, provider, to, text string) error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return next(ctx, deviceToken, provider, to, text)
	}
}

// Sender is the message transport. It dispatches by provider and rate limits
// each device independently. There are no retries: a failed send is reported
// to the caller and logged.
type Sender struct {
	gateway   Gateway
	local     Local
	perMinute int
	logger    *zap.Logger

	mu    sync.Mutex
	sends map[string]SendFunc
}

func New(gw Gateway, local Local, perMinute int, logger *zap.Logger) *Sender {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Sender{
		gateway:   gw,
		local:     local,
		perMinute: perMinute,
		logger:    logger.Named("sender"),
		sends:     make(map[string]SendFunc),
	}
}

// SendText delivers text to a recipient through the device identified by deviceToken.
func (s *Sender) SendText(ctx context.Context, deviceToken, provider, to, text string) error {
	if deviceToken == "" {
		return fmt.Errorf("send to %s: missing device token", to)
	}
	err := s.forDevice(deviceToken)(ctx, deviceToken, provider, to, text)
	if err != nil {
		s.logger.Warn("send failed", zap.String("device", deviceToken), zap.String("provider", provider), zap.String("to", to), zap.Error(err))
		return err
	}
	s.logger.Debug("sent", zap.String("device", deviceToken), zap.String("to", to), zap.Int("len", len(text)))
	return nil
}

// SendTurn renders a generated turn for the text-only transport and sends it.
func (s *Sender) SendTurn(ctx context.Context, deviceToken, provider, to string, t model.Turn) error {
	return s.SendText(ctx, deviceToken, provider, to, RenderTurn(t))
}

func (s *Sender) forDevice(deviceToken string) SendFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.sends[deviceToken]; ok {
		return f
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMinute)), 3)
	f := WithRateLimit(lim, s.dispatch)
	s.sends[deviceToken] = f
	return f
}

func (s *Sender) dispatch(ctx context.Context, deviceToken, provider, to, text string) error {
	switch provider {
	case model.ProviderWhatsmeow:
		if s.local == nil {
			return fmt.Errorf("provider %s not available", provider)
		}
		return s.local.SendText(ctx, deviceToken, to, text)
	case model.ProviderWPP, model.ProviderBaileys, "":
		if s.gateway == nil {
			return fmt.Errorf("provider %s not available", provider)
		}
		if provider == "" {
			provider = model.ProviderWPP
		}
		return s.gateway.SendText(ctx, deviceToken, provider, to, text)
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
}
