package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warmer/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open("file:" + filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedInstance(t *testing.T, st *Store, status string) *model.Instance {
	t.Helper()
	in := &model.Instance{Name: "line", Phone: "5511999990000", DeviceToken: "tok-1", Status: status}
	require.NoError(t, st.CreateInstance(context.Background(), in))
	return in
}

func eightDays() []model.ScheduleEntry {
	days := make([]model.ScheduleEntry, 0, 8)
	for d := 1; d <= 8; d++ {
		days = append(days, model.ScheduleEntry{DayNumber: d, MaxConversations: d * 10, MinIntervalMinutes: 60})
	}
	return days
}

func TestEnsureScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)

	created, err := st.EnsureSchedule(ctx, in.ID, eightDays())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.EnsureSchedule(ctx, in.ID, eightDays())
	require.NoError(t, err)
	assert.False(t, created)

	rows, err := st.ListSchedule(ctx, in.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 8)
}

func TestRecordScheduleProgressCapsAtMax(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)
	_, err := st.EnsureSchedule(ctx, in.ID, eightDays())
	require.NoError(t, err)

	day1, err := st.GetSchedule(ctx, in.ID, 1)
	require.NoError(t, err)
	require.NoError(t, st.RecordScheduleProgress(ctx, day1.ID, 9, 54))
	require.NoError(t, st.RecordScheduleProgress(ctx, day1.ID, 5, 6))

	day1, err = st.GetSchedule(ctx, in.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, day1.ConversationsDone)
	assert.Equal(t, 60, day1.MessagesDone)
	assert.Equal(t, model.ScheduleInProgress, day1.Status)

	changed, err := st.CompleteScheduleDay(ctx, day1.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = st.CompleteScheduleDay(ctx, day1.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdvanceInstanceDayOnce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)
	require.NoError(t, st.StartInstanceWarming(ctx, in.ID))

	ok, err := st.AdvanceInstanceDay(ctx, in.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.AdvanceInstanceDay(ctx, in.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentDay)
	assert.Equal(t, model.PhaseAutoWarming, got.Phase)
}

func TestOpenAttendanceUniqueness(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)

	first := &model.Attendance{Protocol: "ATD-20250101-000001", InstanceID: in.ID, Phone: "5511988887777"}
	require.NoError(t, st.CreateAttendance(ctx, first))

	dupProto := &model.Attendance{Protocol: "ATD-20250101-000001", InstanceID: in.ID, Phone: "5511900000000"}
	assert.ErrorIs(t, st.CreateAttendance(ctx, dupProto), ErrDuplicateProtocol)

	second := &model.Attendance{Protocol: "ATD-20250101-000002", InstanceID: in.ID, Phone: "5511988887777"}
	assert.ErrorIs(t, st.CreateAttendance(ctx, second), ErrOpenAttendanceExists)

	closedAt := time.Now()
	by := "Atendente"
	first.Status = model.AttendanceClosed
	first.ClosedAt = &closedAt
	first.ClosedBy = &by
	require.NoError(t, st.SaveAttendanceStatus(ctx, first))

	require.NoError(t, st.CreateAttendance(ctx, second))
	open, err := st.FindOpenAttendance(ctx, in.ID, "5511988887777")
	require.NoError(t, err)
	assert.Equal(t, second.ID, open.ID)
}

func TestFindActiveConversationWindow(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)
	c := &model.Contact{Phone: "5511977776666", Name: "Ana", Active: true}
	require.NoError(t, st.CreateContact(ctx, c))

	old := &model.Conversation{InstanceID: in.ID, ContactID: c.ID, Status: model.ConversationInProgress, CreatedAt: time.Now().Add(-30 * time.Hour)}
	require.NoError(t, st.CreateConversation(ctx, old))

	_, err := st.FindActiveConversation(ctx, in.ID, c.Phone, time.Now().Add(-24*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	fresh := &model.Conversation{InstanceID: in.ID, ContactID: c.ID, Status: model.ConversationPending}
	require.NoError(t, st.CreateConversation(ctx, fresh))
	got, err := st.FindActiveConversation(ctx, in.ID, c.Phone, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)
	c := &model.Contact{Phone: "5511977776666", Active: true}
	require.NoError(t, st.CreateContact(ctx, c))
	conv := &model.Conversation{InstanceID: in.ID, ContactID: c.ID}
	require.NoError(t, st.CreateConversation(ctx, conv))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		require.NoError(t, st.AddMessage(ctx, &model.Message{
			ConversationID: conv.ID, Direction: model.DirectionSent, Content: string(rune('a' + i)), SentAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	msgs, err := st.RecentMessages(ctx, conv.ID, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "g", msgs[4].Content)
}

func TestDailyMetricsAreAdditive(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)

	require.NoError(t, st.AddDailyMetric(ctx, in.ID, "2025-01-01", 6, 0))
	require.NoError(t, st.AddDailyMetric(ctx, in.ID, "2025-01-01", 0, 1))
	require.NoError(t, st.AddDailyMetric(ctx, in.ID, "2025-01-01", 4, 0))

	m, err := st.GetDailyMetric(ctx, in.ID, "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 10, m.MessagesSent)
	assert.Equal(t, 1, m.MessagesReceived)

	empty, err := st.GetDailyMetric(ctx, in.ID, "2025-01-02")
	require.NoError(t, err)
	assert.Zero(t, empty.MessagesSent)
}

func TestActiveBotPrefersInstanceBinding(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)

	_, err := st.ActiveBotForInstance(ctx, in.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	def := &model.Bot{Name: "default", Active: true}
	require.NoError(t, st.CreateBot(ctx, def))
	got, err := st.ActiveBotForInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	bound := &model.Bot{Name: "bound", InstanceID: in.ID, Active: true}
	require.NoError(t, st.CreateBot(ctx, bound))
	got, err = st.ActiveBotForInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, bound.ID, got.ID)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, ok, err := st.GetSetting(ctx, "show_attendant_name")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetSetting(ctx, "show_attendant_name", "false"))
	require.NoError(t, st.SetSetting(ctx, "show_attendant_name", "true"))
	v, ok, err := st.GetSetting(ctx, "show_attendant_name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestToggleAndDeleteBot(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	b := &model.Bot{Name: "suporte", SystemPrompt: "p", Active: true}
	require.NoError(t, st.CreateBot(ctx, b))

	active, err := st.ToggleBot(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, active)
	_, err = st.ActiveBotForInstance(ctx, "any")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err = st.ToggleBot(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, active)

	b.Name = "vendas"
	b.Temperature = 0.2
	require.NoError(t, st.UpdateBot(ctx, b))
	got, err := st.GetBot(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "vendas", got.Name)
	assert.InDelta(t, 0.2, got.Temperature, 0.001)

	require.NoError(t, st.DeleteBot(ctx, b.ID))
	_, err = st.ToggleBot(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteBot(ctx, b.ID), ErrNotFound)
}

func TestUpdateContactLeavesWarmingPool(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	c := &model.Contact{Phone: "5511988887777", Name: "Ana", Active: true}
	require.NoError(t, st.CreateContact(ctx, c))

	c.Active = false
	require.NoError(t, st.UpdateContact(ctx, c))
	pool, err := st.ListContacts(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, pool)

	got, err := st.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "Ana", got.Name)

	require.NoError(t, st.DeleteContact(ctx, c.ID))
	_, err = st.GetContact(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttendants(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.CreateAttendant(ctx, &model.Attendant{Name: "Bruno", Sector: "vendas", Active: true}))
	off := &model.Attendant{Name: "Ana", Sector: "suporte", Email: "ana@example.com"}
	require.NoError(t, st.CreateAttendant(ctx, off))

	all, err := st.ListAttendants(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ana", all[0].Name)
	assert.Equal(t, "ana@example.com", all[0].Email)

	yes := true
	active, err := st.ListAttendants(ctx, &yes)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Bruno", active[0].Name)

	off.Active = true
	off.Email = ""
	require.NoError(t, st.UpdateAttendant(ctx, off))
	got, err := st.GetAttendant(ctx, off.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Empty(t, got.Email)

	require.NoError(t, st.DeleteAttendant(ctx, off.ID))
	assert.ErrorIs(t, st.DeleteAttendant(ctx, off.ID), ErrNotFound)
}

func TestInstanceUpdateAndCounts(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	in := seedInstance(t, st, model.StatusConnected)
	seedInstance(t, st, model.StatusDisconnected)
	require.NoError(t, st.StartInstanceWarming(ctx, in.ID))

	in.Name = "vendas"
	in.DeviceToken = ""
	require.NoError(t, st.UpdateInstance(ctx, in))
	got, err := st.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "vendas", got.Name)
	assert.Empty(t, got.DeviceToken)
	assert.Equal(t, model.PhaseAutoWarming, got.Phase)

	total, connected, warming, err := st.CountInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, warming)
}

func TestListMetricsForDate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	a := seedInstance(t, st, model.StatusConnected)
	b := seedInstance(t, st, model.StatusConnected)
	require.NoError(t, st.AddDailyMetric(ctx, a.ID, "2026-02-18", 3, 1))
	require.NoError(t, st.AddDailyMetric(ctx, b.ID, "2026-02-18", 2, 0))
	require.NoError(t, st.AddDailyMetric(ctx, a.ID, "2026-02-17", 9, 9))

	list, err := st.ListMetricsForDate(ctx, "2026-02-18")
	require.NoError(t, err)
	require.Len(t, list, 2)
	sent := 0
	for _, m := range list {
		sent += m.MessagesSent
	}
	assert.Equal(t, 5, sent)
}
