package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"warmer/internal/model"
	"warmer/internal/storage"
)

type fakeTimers struct {
	mu     sync.Mutex
	fns    map[string]func()
	delays map[string][]time.Duration
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{fns: map[string]func(){}, delays: map[string][]time.Duration{}}
}

func (f *fakeTimers) arm(id string, d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns[id] = fn
	f.delays[id] = append(f.delays[id], d)
}

func (f *fakeTimers) rearm(id string, d time.Duration, fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fns[id]; !ok {
		return false
	}
	f.fns[id] = fn
	f.delays[id] = append(f.delays[id], d)
	return true
}

func (f *fakeTimers) cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fns, id)
}

func (f *fakeTimers) active(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.fns[id]
	return ok
}

func (f *fakeTimers) stopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = map[string]func(){}
}

// fire runs the pending tick of id synchronously.
func (f *fakeTimers) fire(t *testing.T, id string) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.fns[id]
	f.mu.Unlock()
	require.True(t, ok, "no timer armed for %s", id)
	fn()
}

func (f *fakeTimers) lastDelay(id string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.delays[id]
	if len(d) == 0 {
		return -1
	}
	return d[len(d)-1]
}

type sent struct {
	device, provider, to string
	turn                 model.Turn
}

type fakeTransport struct {
	sent   []sent
	failAt int // 1-based send index that fails; 0 never
}

func (f *fakeTransport) SendTurn(_ context.Context, deviceToken, provider, to string, t model.Turn) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("gateway timeout")
	}
	f.sent = append(f.sent, sent{deviceToken, provider, to, t})
	return nil
}

type fixedGenerator struct{}

func (fixedGenerator) GenerateConversation(context.Context, string) model.GeneratedConversation {
	return model.GeneratedConversation{Topic: "futebol", Turns: []model.Turn{
		{Author: model.AuthorMe, Kind: model.TypeText, Content: "Viu o jogo?"},
		{Author: model.AuthorContact, Kind: model.TypeText, Content: "Vi sim kk"},
		{Author: model.AuthorMe, Kind: model.TypeAudio, Content: "comentando o gol"},
		{Author: model.AuthorContact, Kind: model.TypeSticker, Content: "macaco rindo"},
		{Author: model.AuthorMe, Kind: model.TypeImage, Content: "print do placar"},
		{Author: model.AuthorContact, Kind: model.TypeText, Content: "Que fase"},
	}}
}

type harness struct {
	s      *Scheduler
	st     *storage.Store
	tr     *fakeTransport
	timers *fakeTimers
	clock  time.Time
	slept  []time.Duration
	inst   *model.Instance
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open("file:" + filepath.Join(t.TempDir(), "sched.db") + "?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{st: st, tr: &fakeTransport{}, timers: newFakeTimers(), clock: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	h.s = New(st, h.tr, fixedGenerator{}, zap.NewNop(), Options{Location: time.UTC, StartHour: 8, EndHour: 22})
	h.s.timers = h.timers
	h.s.now = func() time.Time { return h.clock }
	h.s.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	h.s.rnd = func() float64 { return 0.5 }
	t.Cleanup(h.s.Stop)

	ctx := context.Background()
	h.inst = &model.Instance{Name: "chip 1", Phone: "5511911112222", DeviceToken: "dev-1", Provider: model.ProviderWPP, Status: model.StatusConnected}
	require.NoError(t, st.CreateInstance(ctx, h.inst))
	require.NoError(t, st.CreateContact(ctx, &model.Contact{Phone: "5511933334444", Name: "Bia", Active: true}))
	return h
}

func (h *harness) day(t *testing.T, n int) *model.ScheduleEntry {
	t.Helper()
	e, err := h.st.GetSchedule(context.Background(), h.inst.ID, n)
	require.NoError(t, err)
	return e
}

func (h *harness) instance(t *testing.T) *model.Instance {
	t.Helper()
	in, err := h.st.GetInstance(context.Background(), h.inst.ID)
	require.NoError(t, err)
	return in
}

func TestStartWarming_HappyPathTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.inst.ID

	require.NoError(t, h.s.StartWarming(ctx, id))
	assert.True(t, h.s.IsWarming(id))
	assert.Equal(t, time.Duration(0), h.timers.lastDelay(id))
	in := h.instance(t)
	assert.Equal(t, model.PhaseAutoWarming, in.Phase)
	assert.Equal(t, 1, in.CurrentDay)

	h.timers.fire(t, id)

	day1 := h.day(t, 1)
	assert.Equal(t, 1, day1.ConversationsDone)
	assert.Equal(t, 6, day1.MessagesDone)
	assert.Equal(t, model.ScheduleInProgress, day1.Status)

	metric, err := h.st.GetDailyMetric(ctx, id, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, 6, metric.MessagesSent)
	assert.Zero(t, metric.MessagesReceived)

	require.Len(t, h.tr.sent, 3)
	assert.Equal(t, "dev-1", h.tr.sent[0].device)
	assert.Equal(t, model.ProviderWPP, h.tr.sent[0].provider)
	assert.Equal(t, "5511933334444", h.tr.sent[0].to)
	assert.Equal(t, model.TypeAudio, h.tr.sent[1].turn.Kind)

	require.Len(t, h.slept, 3)
	for _, d := range h.slept {
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}

	// 60 minutes with the midpoint of the ±20% band.
	assert.Equal(t, 60*time.Minute, h.timers.lastDelay(id))

	convs, err := h.st.ListConversations(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, model.ConversationCompleted, convs[0].Status)
	assert.Equal(t, "futebol", convs[0].Topic)
	msgs, err := h.st.RecentMessages(ctx, convs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.Equal(t, model.DirectionSent, msgs[0].Direction)
	assert.Equal(t, model.DirectionReceived, msgs[1].Direction)
	assert.Equal(t, model.TypeSticker, msgs[3].Type)
}

func TestStartWarming_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.s.StartWarming(ctx, "missing"), ErrInstanceNotFound)

	require.NoError(t, h.st.UpdateInstanceStatus(ctx, h.inst.ID, model.StatusDisconnected))
	err := h.s.StartWarming(ctx, h.inst.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.False(t, h.s.IsWarming(h.inst.ID))
	assert.Equal(t, model.PhaseManual, h.instance(t).Phase)
}

func TestStartWarming_ReentrantAndIdempotentBootstrap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.inst.ID

	require.NoError(t, h.s.StartWarming(ctx, id))
	require.NoError(t, h.s.StartWarming(ctx, id))
	assert.Len(t, h.timers.delays[id], 1, "second start must not arm again")

	require.NoError(t, h.s.PauseWarming(ctx, id))
	require.NoError(t, h.s.StartWarming(ctx, id))

	rows, err := h.st.ListSchedule(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 8)
	assert.Equal(t, 10, rows[0].MaxConversations)
	assert.Equal(t, 80, rows[7].MaxConversations)
	assert.Equal(t, 6, rows[7].MinIntervalMinutes)
}

func TestTick_DayRollover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.inst.ID
	require.NoError(t, h.s.StartWarming(ctx, id))
	require.NoError(t, h.st.RecordScheduleProgress(ctx, h.day(t, 1).ID, 10, 60))

	h.timers.fire(t, id)

	assert.Empty(t, h.tr.sent)
	assert.Equal(t, model.ScheduleCompleted, h.day(t, 1).Status)
	assert.Equal(t, 10, h.day(t, 1).ConversationsDone)
	assert.Equal(t, 2, h.instance(t).CurrentDay)
	assert.Equal(t, 60*time.Minute, h.timers.lastDelay(id))

	// The next tick works on day 2 and never rolls day 1 again.
	h.timers.fire(t, id)
	assert.Equal(t, 1, h.day(t, 2).ConversationsDone)
	assert.Equal(t, 2, h.instance(t).CurrentDay)
	assert.Equal(t, 30*time.Minute, h.timers.lastDelay(id))
}

func TestTick_LastDayFlipsToSending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.inst.ID
	require.NoError(t, h.s.StartWarming(ctx, id))
	for d := 1; d < 8; d++ {
		ok, err := h.st.AdvanceInstanceDay(ctx, id, d)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, h.st.RecordScheduleProgress(ctx, h.day(t, 8).ID, 80, 480))

	h.timers.fire(t, id)
	in := h.instance(t)
	assert.Equal(t, model.PhaseSending, in.Phase)
	assert.Equal(t, 8, in.CurrentDay)
	assert.Equal(t, model.ScheduleCompleted, h.day(t, 8).Status)

	// The loop ends once the phase left auto_warming.
	h.timers.fire(t, id)
	assert.False(t, h.s.IsWarming(id))
	assert.Empty(t, h.tr.sent)
}

func TestTick_OutsideBusinessHours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock = time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	require.NoError(t, h.s.StartWarming(ctx, h.inst.ID))

	h.timers.fire(t, h.inst.ID)
	assert.Equal(t, 30*time.Minute, h.timers.lastDelay(h.inst.ID))
	assert.Empty(t, h.tr.sent)
	assert.Zero(t, h.day(t, 1).ConversationsDone)

	h.clock = time.Date(2025, 3, 11, 7, 59, 0, 0, time.UTC)
	h.timers.fire(t, h.inst.ID)
	assert.Equal(t, 30*time.Minute, h.timers.lastDelay(h.inst.ID))

	h.clock = time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)
	h.timers.fire(t, h.inst.ID)
	assert.Equal(t, 1, h.day(t, 1).ConversationsDone)
}

func TestPauseWarming(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.inst.ID

	require.NoError(t, h.s.PauseWarming(ctx, id), "pausing an idle instance is allowed")
	require.NoError(t, h.s.StartWarming(ctx, id))

	h.timers.mu.Lock()
	pending := h.timers.fns[id]
	h.timers.mu.Unlock()

	require.NoError(t, h.s.PauseWarming(ctx, id))
	require.NoError(t, h.s.PauseWarming(ctx, id))
	assert.False(t, h.s.IsWarming(id))
	assert.Equal(t, model.PhaseManual, h.instance(t).Phase)

	// A tick that was already due sees the manual phase and does not re-arm.
	pending()
	assert.False(t, h.s.IsWarming(id))
	assert.Empty(t, h.tr.sent)

	assert.ErrorIs(t, h.s.PauseWarming(ctx, "missing"), ErrInstanceNotFound)
}

func TestTick_TransportFailureBacksOff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.inst.ID
	h.tr.failAt = 2
	require.NoError(t, h.s.StartWarming(ctx, id))

	h.timers.fire(t, id)

	assert.Equal(t, 5*time.Minute, h.timers.lastDelay(id))
	assert.Len(t, h.tr.sent, 1)
	assert.Zero(t, h.day(t, 1).ConversationsDone)
	convs, err := h.st.ListConversations(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, model.ConversationFailed, convs[0].Status)
	metric, err := h.st.GetDailyMetric(ctx, id, "2025-03-10")
	require.NoError(t, err)
	assert.Zero(t, metric.MessagesSent)
	assert.True(t, h.s.IsWarming(id))
}

func TestTick_NoContacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.st.DB.Exec(`UPDATE warming_contacts SET active=0`)
	require.NoError(t, err)
	require.NoError(t, h.s.StartWarming(ctx, h.inst.ID))

	h.timers.fire(t, h.inst.ID)
	assert.Equal(t, 60*time.Minute, h.timers.lastDelay(h.inst.ID))
	assert.Empty(t, h.tr.sent)
}

func TestTick_DisconnectedInstanceBacksOff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.s.StartWarming(ctx, h.inst.ID))
	require.NoError(t, h.st.UpdateInstanceStatus(ctx, h.inst.ID, model.StatusDisconnected))

	h.timers.fire(t, h.inst.ID)
	assert.Equal(t, 5*time.Minute, h.timers.lastDelay(h.inst.ID))
	assert.Empty(t, h.tr.sent)
}

func TestJitterBand(t *testing.T) {
	h := newHarness(t)
	h.s.rnd = func() float64 { return 0 }
	assert.Equal(t, 48*time.Minute, h.s.jitter(60))
	h.s.rnd = func() float64 { return 0.999999 }
	d := h.s.jitter(60)
	assert.Greater(t, d, 71*time.Minute)
	assert.LessOrEqual(t, d, 72*time.Minute)
	h.s.rnd = func() float64 { return 0.5 }
	assert.Equal(t, 6*time.Minute, h.s.jitter(6))
}

func TestStopWithRealTimers(t *testing.T) {
	st, err := storage.Open("file:" + filepath.Join(t.TempDir(), "stop.db") + "?_foreign_keys=on")
	require.NoError(t, err)
	defer st.Close()
	s := New(st, &fakeTransport{}, fixedGenerator{}, zap.NewNop(), Options{Location: time.UTC})
	ctx := context.Background()
	in := &model.Instance{Name: "x", DeviceToken: "d", Status: model.StatusConnected}
	require.NoError(t, st.CreateInstance(ctx, in))

	s.now = func() time.Time { return time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC) }
	require.NoError(t, s.StartWarming(ctx, in.ID))
	assert.True(t, s.IsWarming(in.ID))
	s.Stop()
	assert.False(t, s.IsWarming(in.ID))
}
