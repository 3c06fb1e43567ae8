package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"warmer/internal/model"
	"warmer/internal/storage"
)

var (
	ErrNotPaired     = errors.New("wa: device not paired")
	ErrAlreadyPaired = errors.New("wa: device already paired")
)

// InboundFunc receives canonical inbound messages from local devices.
type InboundFunc func(ctx context.Context, msg model.InboundMessage)

// Manager owns the whatsmeow clients of instances whose provider is
// "whatsmeow". Clients are keyed by instance id.
type Manager struct {
	Container    *sqlstore.Container
	Store        *storage.Store
	DBLogger     waLog.Logger
	ClientLogger waLog.Logger

	ctx    context.Context
	logger *zap.Logger

	mu            sync.Mutex
	clients       map[string]*whatsmeow.Client
	pairingActive map[string]bool
	onMessage     InboundFunc
}

func NewManager(ctx context.Context, dsn string, st *storage.Store, logger *zap.Logger) (*Manager, error) {
	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, dbLog)
	if err != nil {
		return nil, err
	}
	return &Manager{
		Container:     container,
		Store:         st,
		DBLogger:      dbLog,
		ClientLogger:  waLog.Stdout("WhatsApp", "INFO", true),
		ctx:           ctx,
		logger:        logger.Named("wa"),
		clients:       make(map[string]*whatsmeow.Client),
		pairingActive: make(map[string]bool),
	}, nil
}

// OnMessage registers the inbound message sink. It must be set before ConnectAll.
func (m *Manager) OnMessage(fn InboundFunc) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

func deviceKey(instanceID string) string { return "wa_device:" + instanceID }

// loadDevice restores the paired device of an instance, or returns a fresh one.
func (m *Manager) loadDevice(ctx context.Context, instanceID string) (*store.Device, error) {
	raw, ok, err := m.Store.GetSetting(ctx, deviceKey(instanceID))
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		jid, err := types.ParseJID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse stored device JID: %w", err)
		}
		dev, err := m.Container.GetDevice(ctx, jid)
		if err != nil {
			return nil, err
		}
		if dev != nil {
			return dev, nil
		}
	}
	return m.Container.NewDevice(), nil
}

func (m *Manager) ensureClient(ctx context.Context, instanceID string) (*whatsmeow.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[instanceID]; ok {
		return c, nil
	}
	device, err := m.loadDevice(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	client := whatsmeow.NewClient(device, m.ClientLogger)
	client.AddEventHandler(func(evt interface{}) { m.handleEvent(instanceID, client, evt) })
	m.clients[instanceID] = client
	return client, nil
}

func (m *Manager) handleEvent(instanceID string, client *whatsmeow.Client, evt interface{}) {
	ctx := m.ctx
	switch e := evt.(type) {
	case *events.Connected:
		if client.Store != nil && client.Store.ID != nil {
			_ = m.Store.SetSetting(ctx, deviceKey(instanceID), client.Store.ID.ToNonAD().String())
			if user := client.Store.ID.User; user != "" {
				_ = m.Store.UpdateInstancePhone(ctx, instanceID, user)
			}
		}
		m.setStatus(ctx, instanceID, model.StatusConnected)
	case *events.TemporaryBan:
		m.logger.Warn("temporary ban", zap.String("instance", instanceID), zap.String("ban", e.String()))
		m.setStatus(ctx, instanceID, model.StatusBanned)
	case *events.LoggedOut:
		status := model.StatusDisconnected
		if e.Reason == events.ConnectFailureTempBanned {
			status = model.StatusBanned
		}
		m.setStatus(ctx, instanceID, status)
	case *events.StreamReplaced, *events.Disconnected:
		m.setStatus(ctx, instanceID, model.StatusDisconnected)
	case *events.Message:
		in, ok := toInbound(instanceID, e)
		if !ok {
			return
		}
		m.mu.Lock()
		fn := m.onMessage
		m.mu.Unlock()
		if fn != nil {
			// Handlers may sleep for minutes; keep whatsmeow's event loop free.
			go fn(ctx, in)
		}
	}
}

func (m *Manager) setStatus(ctx context.Context, instanceID, status string) {
	if err := m.Store.UpdateInstanceStatus(ctx, instanceID, status); err != nil {
		m.logger.Error("update status", zap.String("instance", instanceID), zap.String("status", status), zap.Error(err))
		return
	}
	m.logger.Info("status", zap.String("instance", instanceID), zap.String("status", status))
}

// StartPairing connects an unpaired device and returns the first pairing QR
// as a PNG together with its raw code.
func (m *Manager) StartPairing(ctx context.Context, instanceID string) ([]byte, string, error) {
	client, err := m.ensureClient(ctx, instanceID)
	if err != nil {
		return nil, "", err
	}
	if client.Store.ID != nil {
		return nil, "", ErrAlreadyPaired
	}

	// QR channel must be obtained before Connect.
	qrChan, err := client.GetQRChannel(m.ctx)
	if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
		return nil, "", err
	}

	m.mu.Lock()
	if !m.pairingActive[instanceID] {
		m.pairingActive[instanceID] = true
		m.logger.Info("pair:qr start connect", zap.String("instance", instanceID))
		go func() {
			if err := client.Connect(); err != nil {
				m.logger.Error("pair:qr connect", zap.String("instance", instanceID), zap.Error(err))
			}
		}()
	}
	m.mu.Unlock()
	m.setStatus(ctx, instanceID, model.StatusConnecting)

	for {
		select {
		case item, ok := <-qrChan:
			if !ok {
				return nil, "", fmt.Errorf("qr channel closed")
			}
			if item.Event == "code" && item.Code != "" {
				png, err := qrcode.Encode(item.Code, qrcode.Medium, 256)
				if err != nil {
					return nil, "", err
				}
				return png, item.Code, nil
			}
			if item.Event != "code" {
				m.mu.Lock()
				delete(m.pairingActive, instanceID)
				m.mu.Unlock()
				if item.Event == "success" {
					return nil, "", ErrAlreadyPaired
				}
				return nil, "", fmt.Errorf("pairing ended: %s", item.Event)
			}
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// ConnectIfPaired connects a previously paired device.
func (m *Manager) ConnectIfPaired(ctx context.Context, instanceID string) error {
	client, err := m.ensureClient(ctx, instanceID)
	if err != nil {
		return err
	}
	if client.Store.ID == nil {
		return ErrNotPaired
	}
	if client.IsConnected() {
		return nil
	}
	m.logger.Info("connect", zap.String("instance", instanceID))
	return client.Connect()
}

// ConnectAll connects every paired whatsmeow instance. Failures are logged.
func (m *Manager) ConnectAll(ctx context.Context) {
	list, err := m.Store.ListInstances(ctx)
	if err != nil {
		m.logger.Error("list instances", zap.Error(err))
		return
	}
	for _, in := range list {
		if in.Provider != model.ProviderWhatsmeow {
			continue
		}
		if err := m.ConnectIfPaired(ctx, in.ID); err != nil && !errors.Is(err, ErrNotPaired) {
			m.logger.Warn("connect on start", zap.String("instance", in.ID), zap.Error(err))
		}
	}
}

// IsConnected reports whether the instance's device is connected and logged in.
func (m *Manager) IsConnected(instanceID string) bool {
	m.mu.Lock()
	c, ok := m.clients[instanceID]
	m.mu.Unlock()
	return ok && c.IsConnected() && c.IsLoggedIn()
}

// SendText sends a text to a phone number or full JID.
func (m *Manager) SendText(ctx context.Context, instanceID, to, text string) error {
	c, err := m.ensureClient(ctx, instanceID)
	if err != nil {
		return err
	}
	if c.Store == nil || c.Store.ID == nil {
		return fmt.Errorf("instance %s: %w", instanceID, ErrNotPaired)
	}
	jid, err := recipientJID(to)
	if err != nil {
		return err
	}
	_, err = c.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	return err
}

// Close disconnects every client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.Disconnect()
	}
}

func recipientJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(strings.Replace(to, "@c.us", "@"+types.DefaultUserServer, 1))
		if err != nil {
			return types.JID{}, fmt.Errorf("parse JID: %w", err)
		}
		return jid, nil
	}
	digits := model.NormalizePhone(to)
	if digits == "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
