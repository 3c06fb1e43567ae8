// Package attendance manages human-escalation sessions: opening, status
// transitions with customer notifications, and attendant replies.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"warmer/internal/model"
	"warmer/internal/storage"
)

var (
	ErrNotFound          = errors.New("attendance: not found")
	ErrInvalidStatus     = errors.New("attendance: invalid status")
	ErrInvalidTransition = errors.New("attendance: transition not allowed")
	ErrAlreadyOpen       = errors.New("attendance: an open attendance already exists for this contact")
	ErrNoDevice          = errors.New("attendance: instance has no device to send from")
	ErrEmptyMessage      = errors.New("attendance: message content is required")
	ErrInvalidInput      = errors.New("attendance: instance and phone are required")
	ErrSendFailed        = errors.New("attendance: message not delivered")
)

// Settings keys.
const (
	SettingWelcome           = "attendance_welcome_message"
	SettingClosing           = "attendance_closing_message"
	SettingShowAttendantName = "show_attendant_name"
)

const (
	DefaultWelcome = "🟢 *Atendimento Iniciado*\n\nOlá! Seu atendimento foi aceito por *{atendente}*.\n\n*Protocolo:* {protocolo}\n\nEm breve você será atendido. Aguarde! 😊"
	DefaultClosing = "✅ *Atendimento Finalizado*\n\n*Protocolo:* {protocolo}\n\nSeu atendimento foi concluído.\nObrigado pelo contato! 🙏\n\nSe precisar de algo mais, estamos à disposição."

	defaultClosedBy      = "Sistema"
	defaultAttendant     = "um atendente"
	defaultSenderName    = "Atendente"
	protocolAttempts     = 5
	protocolPrefixFormat = "20060102"
)

// Transport delivers a text message to the customer.
type Transport interface {
	SendText(ctx context.Context, deviceToken, provider, to, text string) error
}

type Service struct {
	store     *storage.Store
	transport Transport
	logger    *zap.Logger
	loc       *time.Location

	now  func() time.Time
	intn func(n int) int
}

func New(store *storage.Store, transport Transport, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:     store,
		transport: transport,
		logger:    logger.Named("attendance"),
		loc:       loc,
		now:       time.Now,
		intn:      rand.Intn,
	}
}

// NewProtocol formats a protocol number: ATD-YYYYMMDD-NNNNNN.
func NewProtocol(t time.Time, n int) string {
	return fmt.Sprintf("ATD-%s-%06d", t.Format(protocolPrefixFormat), n%1000000)
}

// OpenInput describes a new attendance.
type OpenInput struct {
	InstanceID  string `json:"instance_id"`
	BotID       string `json:"bot_id,omitempty"`
	Phone       string `json:"phone"`
	ContactName string `json:"contact_name,omitempty"`
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Context     string `json:"context"`
}

// Open creates a waiting attendance. It fails with ErrAlreadyOpen when the
// contact already has an open attendance on the instance. Protocol
// collisions are retried with a fresh number.
func (s *Service) Open(ctx context.Context, in OpenInput) (*model.Attendance, error) {
	phone := model.NormalizePhone(in.Phone)
	if in.InstanceID == "" || phone == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.store.GetInstance(ctx, in.InstanceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("instance %s: %w", in.InstanceID, storage.ErrNotFound)
		}
		return nil, err
	}
	_, err := s.store.FindOpenAttendance(ctx, in.InstanceID, phone)
	if err == nil {
		return nil, ErrAlreadyOpen
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	a := &model.Attendance{
		InstanceID:  in.InstanceID,
		BotID:       in.BotID,
		Phone:       phone,
		ContactName: in.ContactName,
		Title:       in.Title,
		Subject:     in.Subject,
		Context:     in.Context,
		Status:      model.AttendanceWaiting,
	}
	if a.Title == "" {
		a.Title = "Solicitação de " + phone
	}
	for attempt := 1; ; attempt++ {
		a.ID = ""
		a.Protocol = NewProtocol(s.now().In(s.loc), s.intn(1000000))
		err = s.store.CreateAttendance(ctx, a)
		if errors.Is(err, storage.ErrDuplicateProtocol) && attempt < protocolAttempts {
			s.logger.Warn("protocol collision, retrying", zap.String("protocol", a.Protocol), zap.Int("attempt", attempt))
			continue
		}
		break
	}
	if errors.Is(err, storage.ErrOpenAttendanceExists) {
		return nil, ErrAlreadyOpen
	}
	if err != nil {
		return nil, fmt.Errorf("create attendance: %w", err)
	}
	s.logger.Info("attendance opened",
		zap.String("id", a.ID), zap.String("protocol", a.Protocol),
		zap.String("instance", a.InstanceID), zap.String("phone", a.Phone))
	return a, nil
}

func validStatus(status string) bool {
	switch status {
	case model.AttendanceWaiting, model.AttendanceInProgress, model.AttendanceClosed:
		return true
	}
	return false
}

// canTransition allows waiting -> in_progress -> closed, closed -> waiting,
// releasing in_progress back to waiting, and reassigning an in_progress one.
func canTransition(from, to string) bool {
	switch to {
	case model.AttendanceWaiting:
		return true
	case model.AttendanceInProgress:
		return from == model.AttendanceWaiting || from == model.AttendanceInProgress
	case model.AttendanceClosed:
		return from != model.AttendanceClosed
	}
	return false
}

// Transition moves an attendance to status. Entering in_progress records the
// attendant, closing records who closed it and when, and reopening clears
// all of it. The customer is notified on in_progress and closed; a failed
// notification does not undo the change.
func (s *Service) Transition(ctx context.Context, id, status, attendantName, closedBy string) (*model.Attendance, error) {
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(a.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}

	now := s.now()
	a.Status = status
	switch status {
	case model.AttendanceInProgress:
		if name := strings.TrimSpace(attendantName); name != "" {
			a.AttendantName = &name
		}
	case model.AttendanceClosed:
		t := now.UTC()
		a.ClosedAt = &t
		by := strings.TrimSpace(closedBy)
		if by == "" {
			by = defaultClosedBy
		}
		a.ClosedBy = &by
	case model.AttendanceWaiting:
		a.AttendantName, a.ClosedAt, a.ClosedBy = nil, nil, nil
	}
	if err := s.store.SaveAttendanceStatus(ctx, a); err != nil {
		if errors.Is(err, storage.ErrOpenAttendanceExists) {
			return nil, ErrAlreadyOpen
		}
		return nil, fmt.Errorf("save attendance: %w", err)
	}
	s.logger.Info("attendance status changed", zap.String("id", a.ID), zap.String("status", status))

	s.notify(ctx, a, attendantName, now)
	return a, nil
}

func (s *Service) notify(ctx context.Context, a *model.Attendance, attendantName string, at time.Time) {
	var key, fallback string
	switch a.Status {
	case model.AttendanceInProgress:
		key, fallback = SettingWelcome, DefaultWelcome
	case model.AttendanceClosed:
		key, fallback = SettingClosing, DefaultClosing
	default:
		return
	}
	log := s.logger.With(zap.String("id", a.ID), zap.String("status", a.Status))
	in, err := s.store.GetInstance(ctx, a.InstanceID)
	if err != nil || in.DeviceToken == "" {
		log.Warn("notification skipped, instance unavailable", zap.Error(err))
		return
	}
	tpl, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		log.Error("load template", zap.Error(err))
		return
	}
	if !ok || tpl == "" {
		tpl = fallback
	}
	if name := strings.TrimSpace(attendantName); name == "" {
		attendantName = defaultAttendant
	}
	local := at.In(s.loc)
	msg := RenderTemplate(tpl, Variables{
		Attendant: attendantName,
		Protocol:  a.Protocol,
		Customer:  a.ContactName,
		Phone:     a.Phone,
		Date:      local.Format("02/01/2006"),
		Time:      local.Format("15:04"),
		Subject:   a.Subject,
	})
	if err := s.transport.SendText(ctx, in.DeviceToken, in.Provider, a.Phone, msg); err != nil {
		log.Error("status notification failed", zap.Error(err))
		return
	}
	log.Info("status notification sent", zap.String("phone", a.Phone))
}

// SendMessage delivers an attendant reply to the customer and appends it to
// the transcript.
func (s *Service) SendMessage(ctx context.Context, id, content string) (*model.AttendanceMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err := s.store.GetInstance(ctx, a.InstanceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoDevice
	}
	if err != nil {
		return nil, err
	}
	if in.DeviceToken == "" {
		return nil, ErrNoDevice
	}

	show, err := s.showAttendantName(ctx)
	if err != nil {
		return nil, err
	}
	name := defaultSenderName
	if a.AttendantName != nil && *a.AttendantName != "" {
		name = *a.AttendantName
	}
	text := content
	if show {
		text = "*" + name + ":*\n" + content
	}
	if err := s.transport.SendText(ctx, in.DeviceToken, in.Provider, a.Phone, text); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	m := &model.AttendanceMessage{
		AttendanceID: a.ID,
		Direction:    model.DirectionSent,
		Content:      content,
		SentAt:       s.now(),
	}
	if show {
		m.SenderName = name
	}
	if err := s.store.AddAttendanceMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// showAttendantName defaults to true when the setting is absent.
func (s *Service) showAttendantName(ctx context.Context) (bool, error) {
	v, ok, err := s.store.GetSetting(ctx, SettingShowAttendantName)
	if err != nil {
		return false, err
	}
	return !ok || v == "true", nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Attendance, error) {
	a, err := s.store.GetAttendance(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return a, err
}

// List returns attendances, newest first. An empty status lists all.
func (s *Service) List(ctx context.Context, status string) ([]model.Attendance, error) {
	if status != "" && !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListAttendances(ctx, status)
}

func (s *Service) Messages(ctx context.Context, id string) ([]model.AttendanceMessage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAttendanceMessages(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteAttendance(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
