package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"warmer/internal/model"
	"warmer/internal/sender"
	"warmer/internal/storage"
)

var (
	// ErrInvalidState is returned when warming is started on a non-connected instance.
	ErrInvalidState     = errors.New("scheduler: instance must be connected to start warming")
	ErrInstanceNotFound = errors.New("scheduler: instance not found")
)

// Re-arm delays of the warming loop.
const (
	outsideHoursDelay = 30 * time.Minute
	dayDoneDelay      = 60 * time.Minute
	errorDelay        = 5 * time.Minute

	jitterPct     = 0.20
	minTurnDelay  = 10 // seconds
	maxTurnDelay  = 60
	metricDateFmt = "2006-01-02"
)

// Transport sends one generated turn.
type Transport interface {
	SendTurn(ctx context.Context, deviceToken, provider, to string, t model.Turn) error
}

// ConversationGenerator produces a conversation; it never fails.
type ConversationGenerator interface {
	GenerateConversation(ctx context.Context, topic string) model.GeneratedConversation
}

type Options struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// Scheduler runs one self-rescheduling warming loop per instance. Ticks of
// one instance never overlap: a tick re-arms only after it fully completes.
type Scheduler struct {
	store     *storage.Store
	transport Transport
	generator ConversationGenerator
	logger    *zap.Logger

	loc       *time.Location
	startHour int
	endHour   int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	intn  func(n int) int
	rnd   func() float64

	timers timerRegistry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight map[string]bool
	wg       sync.WaitGroup
}

func New(store *storage.Store, transport Transport, generator ConversationGenerator, logger *zap.Logger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.EndHour == 0 {
		opts.StartHour, opts.EndHour = 8, 22
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		transport: transport,
		generator: generator,
		logger:    logger.Named("scheduler"),
		loc:       opts.Location,
		startHour: opts.StartHour,
		endHour:   opts.EndHour,
		now:       time.Now,
		sleep:     sleepCtx,
		intn:      rand.Intn,
		rnd:       rand.Float64,
		timers:    newAfterFuncRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]bool),
	}
}

// StartWarming switches a connected instance to auto_warming, bootstraps its
// schedule and arms its loop. Starting an already armed instance is a no-op.
func (s *Scheduler) StartWarming(ctx context.Context, instanceID string) error {
	in, err := s.store.GetInstance(ctx, instanceID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	if in.Status != model.StatusConnected {
		return fmt.Errorf("%w (status %s)", ErrInvalidState, in.Status)
	}
	if err := s.store.StartInstanceWarming(ctx, instanceID); err != nil {
		return err
	}
	if s.timers.active(instanceID) {
		s.logger.Info("warming already active", zap.String("instance", instanceID))
		return nil
	}
	created, err := s.store.EnsureSchedule(ctx, instanceID, scheduleEntries())
	if err != nil {
		return fmt.Errorf("init schedule: %w", err)
	}
	if created {
		s.logger.Info("schedule created", zap.String("instance", instanceID), zap.Int("days", len(WarmingPlan)))
	}
	s.timers.arm(instanceID, 0, s.tickFunc(instanceID))
	s.logger.Info("warming started", zap.String("instance", instanceID))
	return nil
}

// PauseWarming cancels the pending tick and sets the phase to manual. A tick
// already running completes but does not re-arm.
func (s *Scheduler) PauseWarming(ctx context.Context, instanceID string) error {
	s.timers.cancel(instanceID)
	err := s.store.SetInstancePhase(ctx, instanceID, model.PhaseManual)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	s.logger.Info("warming paused", zap.String("instance", instanceID))
	return nil
}

// IsWarming reports whether a loop is armed for the instance.
func (s *Scheduler) IsWarming(instanceID string) bool {
	return s.timers.active(instanceID)
}

// Stop cancels every loop and waits for running ticks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.timers.stopAll()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) tickFunc(instanceID string) func() {
	return func() { s.tick(instanceID) }
}

// enter marks a tick as running; it fails if the scheduler stopped or a tick
// for the same instance is still running.
func (s *Scheduler) enter(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.inflight[instanceID] {
		return false
	}
	s.inflight[instanceID] = true
	s.wg.Add(1)
	return true
}

func (s *Scheduler) leave(instanceID string) {
	s.mu.Lock()
	delete(s.inflight, instanceID)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Scheduler) rearm(instanceID string, d time.Duration) {
	if s.timers.rearm(instanceID, d, s.tickFunc(instanceID)) {
		s.logger.Debug("next tick", zap.String("instance", instanceID), zap.Duration("in", d))
	}
}

// tick is one iteration of an instance's warming loop. Errors never stop the
// loop; they only pick the re-arm delay.
func (s *Scheduler) tick(instanceID string) {
	if !s.enter(instanceID) {
		return
	}
	defer s.leave(instanceID)
	ctx := s.ctx
	log := s.logger.With(zap.String("instance", instanceID))

	in, err := s.store.GetInstance(ctx, instanceID)
	if errors.Is(err, storage.ErrNotFound) {
		s.timers.cancel(instanceID)
		return
	}
	if err != nil {
		log.Error("load instance", zap.Error(err))
		s.rearm(instanceID, errorDelay)
		return
	}
	if in.Phase != model.PhaseAutoWarming {
		log.Info("warming loop stopped", zap.String("phase", in.Phase))
		s.timers.cancel(instanceID)
		return
	}
	if !s.inBusinessHours() {
		log.Info("outside warming hours, waiting", zap.Int("start", s.startHour), zap.Int("end", s.endHour))
		s.rearm(instanceID, outsideHoursDelay)
		return
	}
	if in.Status != model.StatusConnected {
		log.Warn("instance not connected, backing off", zap.String("status", in.Status))
		s.rearm(instanceID, errorDelay)
		return
	}

	executed, interval, err := s.executeNextConversation(ctx, in)
	switch {
	case err != nil:
		log.Error("warming tick failed", zap.Error(err))
		s.rearm(instanceID, errorDelay)
	case executed:
		s.rearm(instanceID, s.jitter(interval))
	default:
		s.rearm(instanceID, dayDoneDelay)
	}
}

// executeNextConversation runs at most one conversation for the instance's
// current day. It reports whether a conversation ran and the day's interval.
func (s *Scheduler) executeNextConversation(ctx context.Context, in *model.Instance) (bool, int, error) {
	log := s.logger.With(zap.String("instance", in.ID))
	day := in.CurrentDay
	if day < 1 {
		day = 1
	}
	sched, err := s.store.GetSchedule(ctx, in.ID, day)
	if err != nil {
		return false, 0, fmt.Errorf("load day %d schedule: %w", day, err)
	}

	if sched.ConversationsDone >= sched.MaxConversations {
		return false, 0, s.completeDay(ctx, in, sched)
	}

	contacts, err := s.store.ListContacts(ctx, true)
	if err != nil {
		return false, 0, fmt.Errorf("load contacts: %w", err)
	}
	if len(contacts) == 0 {
		log.Warn("no active warming contacts")
		return false, 0, nil
	}
	contact := contacts[s.intn(len(contacts))]

	gen := s.generator.GenerateConversation(ctx, "")
	started := s.now()
	conv := &model.Conversation{
		InstanceID:    in.ID,
		ContactID:     contact.ID,
		Topic:         gen.Topic,
		MessagesCount: len(gen.Turns),
		Status:        model.ConversationInProgress,
		StartedAt:     &started,
		CreatedAt:     started,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return false, 0, fmt.Errorf("create conversation: %w", err)
	}
	log.Info("conversation started", zap.String("topic", gen.Topic), zap.String("contact", contact.Phone), zap.Int("turns", len(gen.Turns)))

	for i, turn := range gen.Turns {
		if turn.Author != model.AuthorMe {
			msg := &model.Message{
				ConversationID: conv.ID,
				Direction:      model.DirectionReceived,
				Type:           sender.MessageType(turn.Kind),
				Content:        turn.Content,
				Delivered:      true,
				ReadByContact:  true,
				SentAt:         s.now(),
			}
			if err := s.store.AddMessage(ctx, msg); err != nil {
				return false, 0, s.failConversation(ctx, conv.ID, i, fmt.Errorf("store simulated turn: %w", err))
			}
			continue
		}

		delay := time.Duration(minTurnDelay+s.intn(maxTurnDelay-minTurnDelay+1)) * time.Second
		if err := s.sleep(ctx, delay); err != nil {
			return false, 0, s.failConversation(ctx, conv.ID, i, err)
		}
		if err := s.transport.SendTurn(ctx, in.DeviceToken, in.Provider, contact.Phone, turn); err != nil {
			return false, 0, s.failConversation(ctx, conv.ID, i, fmt.Errorf("send turn %d: %w", i, err))
		}
		msg := &model.Message{
			ConversationID: conv.ID,
			Direction:      model.DirectionSent,
			Type:           sender.MessageType(turn.Kind),
			Content:        turn.Content,
			Delivered:      true,
			SentAt:         s.now(),
		}
		if err := s.store.AddMessage(ctx, msg); err != nil {
			return false, 0, s.failConversation(ctx, conv.ID, i+1, fmt.Errorf("store sent turn: %w", err))
		}
	}

	turns := len(gen.Turns)
	if err := s.store.FinishConversation(ctx, conv.ID, model.ConversationCompleted, turns); err != nil {
		return false, 0, fmt.Errorf("complete conversation: %w", err)
	}
	if err := s.store.RecordScheduleProgress(ctx, sched.ID, 1, turns); err != nil {
		return false, 0, fmt.Errorf("record progress: %w", err)
	}
	if err := s.store.AddDailyMetric(ctx, in.ID, s.now().In(s.loc).Format(metricDateFmt), turns, 0); err != nil {
		log.Error("update metrics", zap.Error(err))
	}
	log.Info("conversation completed",
		zap.Int("day", sched.DayNumber),
		zap.Int("done", sched.ConversationsDone+1),
		zap.Int("max", sched.MaxConversations))
	return true, sched.MinIntervalMinutes, nil
}

// completeDay marks a full day completed and rolls the instance over to the
// next day, or to the sending phase after the last day.
func (s *Scheduler) completeDay(ctx context.Context, in *model.Instance, sched *model.ScheduleEntry) error {
	if _, err := s.store.CompleteScheduleDay(ctx, sched.ID); err != nil {
		return fmt.Errorf("complete day %d: %w", sched.DayNumber, err)
	}
	log := s.logger.With(zap.String("instance", in.ID), zap.Int("day", sched.DayNumber))
	if sched.DayNumber < model.WarmingDays {
		advanced, err := s.store.AdvanceInstanceDay(ctx, in.ID, sched.DayNumber)
		if err != nil {
			return fmt.Errorf("advance day: %w", err)
		}
		if advanced {
			log.Info("day completed, advancing", zap.Int("next", sched.DayNumber+1))
		}
		return nil
	}
	finished, err := s.store.FinishInstanceWarming(ctx, in.ID, sched.DayNumber)
	if err != nil {
		return fmt.Errorf("finish warming: %w", err)
	}
	if finished {
		log.Info("warming completed, instance ready for sending")
	}
	return nil
}

func (s *Scheduler) failConversation(ctx context.Context, conversationID string, sent int, cause error) error {
	// The tick context may already be cancelled; the status write must still land.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.FinishConversation(wctx, conversationID, model.ConversationFailed, sent); err != nil {
		s.logger.Error("mark conversation failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	return cause
}

func (s *Scheduler) inBusinessHours() bool {
	h := s.now().In(s.loc).Hour()
	return h >= s.startHour && h < s.endHour
}

// jitter spreads an interval of minutes by ±20%.
func (s *Scheduler) jitter(minutes int) time.Duration {
	base := float64(minutes)
	lo, hi := base*(1-jitterPct), base*(1+jitterPct)
	m := lo + s.rnd()*(hi-lo)
	return time.Duration(math.Round(m*float64(time.Minute)/float64(time.Millisecond))) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
