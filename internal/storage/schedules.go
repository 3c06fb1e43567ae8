package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"warmer/internal/model"
)

const scheduleCols = `id,instance_id,day_number,max_conversations,min_interval_minutes,conversations_done,messages_done,status,created_at,updated_at`

// EnsureSchedule inserts rows for an instance only if it has none yet. It
// reports whether rows were created.
func (s *Store) EnsureSchedule(ctx context.Context, instanceID string, days []model.ScheduleEntry) (bool, error) {
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM warming_schedules WHERE instance_id=?`, instanceID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO warming_schedules
			(id,instance_id,day_number,max_conversations,min_interval_minutes,conversations_done,messages_done,status,created_at,updated_at)
			VALUES (?,?,?,?,?,0,0,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		t := now()
		for _, d := range days {
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), instanceID, d.DayNumber, d.MaxConversations, d.MinIntervalMinutes,
				model.SchedulePending, t, t); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	return created, err
}

func scanSchedule(row scanner) (*model.ScheduleEntry, error) {
	var e model.ScheduleEntry
	if err := row.Scan(&e.ID, &e.InstanceID, &e.DayNumber, &e.MaxConversations, &e.MinIntervalMinutes,
		&e.ConversationsDone, &e.MessagesDone, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetSchedule returns the schedule row of one day.
func (s *Store) GetSchedule(ctx context.Context, instanceID string, day int) (*model.ScheduleEntry, error) {
	e, err := scanSchedule(s.DB.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM warming_schedules WHERE instance_id=? AND day_number=?`, instanceID, day))
	return e, notFound(err)
}

// ListSchedule returns all day rows of an instance ordered by day.
func (s *Store) ListSchedule(ctx context.Context, instanceID string) ([]model.ScheduleEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+scheduleCols+` FROM warming_schedules WHERE instance_id=? ORDER BY day_number`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.ScheduleEntry
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// CompleteScheduleDay marks a day completed; it reports false if it already was.
func (s *Store) CompleteScheduleDay(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE warming_schedules SET status=?, updated_at=? WHERE id=? AND status<>?`,
		model.ScheduleCompleted, now(), id, model.ScheduleCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecordScheduleProgress adds to the done counters of a day. conversations_done
// is capped at max_conversations.
func (s *Store) RecordScheduleProgress(ctx context.Context, id string, conversations, messages int) error {
	return s.execOne(ctx, `UPDATE warming_schedules SET
			conversations_done = MIN(max_conversations, conversations_done + ?),
			messages_done = messages_done + ?,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			updated_at = ?
		WHERE id=?`,
		conversations, messages, model.SchedulePending, model.ScheduleInProgress, now(), id)
}
