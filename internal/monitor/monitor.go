// Package monitor polls providers for the connection state of every
// instance and persists changes.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"warmer/internal/model"
	"warmer/internal/storage"
)

const (
	defaultInterval = 30 * time.Second
	pollConcurrency = 8
)

// Gateway reports the connection state of hosted-gateway devices.
type Gateway interface {
	IsConnected(ctx context.Context, deviceToken, provider string) (bool, error)
}

// Local reports the connection state of whatsmeow devices.
type Local interface {
	IsConnected(instanceID string) bool
}

// Update is one persisted status change.
type Update struct {
	InstanceID string `json:"id"`
	Status     string `json:"status"`
	Phone      string `json:"phone"`
}

type Monitor struct {
	store    *storage.Store
	gateway  Gateway
	local    Local
	interval time.Duration
	logger   *zap.Logger
}

// New builds a monitor. local may be nil when no whatsmeow devices are used.
func New(store *storage.Store, gateway Gateway, local Local, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{store: store, gateway: gateway, local: local, interval: interval, logger: logger.Named("monitor")}
}

// Run polls immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("status monitor started", zap.Duration("interval", m.interval))
	m.CheckAll(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("status monitor stopped")
			return nil
		case <-t.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll polls every non-banned instance that has a device and returns
// the status changes it persisted.
func (m *Monitor) CheckAll(ctx context.Context) []Update {
	all, err := m.store.ListInstances(ctx)
	if err != nil {
		m.logger.Error("list instances", zap.Error(err))
		return nil
	}
	var targets []model.Instance
	for _, in := range all {
		if in.DeviceToken == "" || in.Status == model.StatusBanned {
			continue
		}
		targets = append(targets, in)
	}
	if len(targets) == 0 {
		return nil
	}

	results := make([]*Update, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)
	for i := range targets {
		g.Go(func() error {
			results[i] = m.checkOne(gctx, targets[i])
			return nil
		})
	}
	_ = g.Wait()

	var updates []Update
	for _, u := range results {
		if u != nil {
			updates = append(updates, *u)
		}
	}
	if len(updates) > 0 {
		m.logger.Info("instance status changed", zap.Int("count", len(updates)))
	}
	return updates
}

func (m *Monitor) checkOne(ctx context.Context, in model.Instance) *Update {
	log := m.logger.With(zap.String("instance", in.ID), zap.String("name", in.Name), zap.String("provider", in.Provider))
	connected, err := m.probe(ctx, in)
	if err != nil {
		if in.Status != model.StatusConnected {
			return nil
		}
		log.Warn("status check failed, marking disconnected", zap.Error(err))
		return m.persist(ctx, in, model.StatusDisconnected, log)
	}
	status := model.StatusDisconnected
	if connected {
		status = model.StatusConnected
	}
	if status == in.Status {
		return nil
	}
	log.Info("status changed", zap.String("from", in.Status), zap.String("to", status))
	return m.persist(ctx, in, status, log)
}

// probe asks the device's provider for its state. Local devices still
// pairing are left alone.
func (m *Monitor) probe(ctx context.Context, in model.Instance) (bool, error) {
	if in.Provider == model.ProviderWhatsmeow {
		if m.local == nil || in.Status == model.StatusConnecting {
			return in.Status == model.StatusConnected, nil
		}
		return m.local.IsConnected(in.ID), nil
	}
	return m.gateway.IsConnected(ctx, in.DeviceToken, in.Provider)
}

func (m *Monitor) persist(ctx context.Context, in model.Instance, status string, log *zap.Logger) *Update {
	if err := m.store.UpdateInstanceStatus(ctx, in.ID, status); err != nil {
		log.Error("persist status", zap.Error(err))
		return nil
	}
	return &Update{InstanceID: in.ID, Status: status, Phone: in.Phone}
}
