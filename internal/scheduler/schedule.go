package scheduler

import "warmer/internal/model"

// DayPlan is the pacing of one warming day.
type DayPlan struct {
	Day                int
	MaxConversations   int
	MinIntervalMinutes int
}

// WarmingPlan is the 8-day escalation: conversations per day grow while the
// minimum interval between them shrinks.
var WarmingPlan = []DayPlan{
	{Day: 1, MaxConversations: 10, MinIntervalMinutes: 60},
	{Day: 2, MaxConversations: 20, MinIntervalMinutes: 30},
	{Day: 3, MaxConversations: 30, MinIntervalMinutes: 20},
	{Day: 4, MaxConversations: 40, MinIntervalMinutes: 15},
	{Day: 5, MaxConversations: 50, MinIntervalMinutes: 10},
	{Day: 6, MaxConversations: 60, MinIntervalMinutes: 8},
	{Day: 7, MaxConversations: 70, MinIntervalMinutes: 7},
	{Day: 8, MaxConversations: 80, MinIntervalMinutes: 6},
}

func scheduleEntries() []model.ScheduleEntry {
	out := make([]model.ScheduleEntry, 0, len(WarmingPlan))
	for _, p := range WarmingPlan {
		out = append(out, model.ScheduleEntry{
			DayNumber:          p.Day,
			MaxConversations:   p.MaxConversations,
			MinIntervalMinutes: p.MinIntervalMinutes,
		})
	}
	return out
}
