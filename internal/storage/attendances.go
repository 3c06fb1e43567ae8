package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"warmer/internal/model"
)

const attendanceCols = `id,protocol,instance_id,COALESCE(bot_id,''),phone,contact_name,title,subject,context,status,attendant_name,closed_at,closed_by,created_at,updated_at`

// CreateAttendance inserts an attendance. Unique violations are reported as
// ErrDuplicateProtocol or ErrOpenAttendanceExists.
func (s *Store) CreateAttendance(ctx context.Context, a *model.Attendance) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AttendanceWaiting
	}
	t := now()
	a.CreatedAt, a.UpdatedAt = t, t
	_, err := s.DB.ExecContext(ctx, `INSERT INTO attendances
		(id,protocol,instance_id,bot_id,phone,contact_name,title,subject,context,status,attendant_name,closed_at,closed_by,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,NULL,NULL,?,?)`,
		a.ID, a.Protocol, a.InstanceID, nullIfEmpty(a.BotID), a.Phone, a.ContactName, a.Title, a.Subject, a.Context, a.Status,
		a.AttendantName, t, t)
	return mapAttendanceErr(err)
}

func mapAttendanceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, "attendances.protocol"):
		return ErrDuplicateProtocol
	case isUniqueViolation(err, "attendances.instance_id"):
		return ErrOpenAttendanceExists
	}
	return err
}

func scanAttendance(row scanner) (*model.Attendance, error) {
	var a model.Attendance
	var attendant, closedBy sql.NullString
	var closedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.Protocol, &a.InstanceID, &a.BotID, &a.Phone, &a.ContactName, &a.Title, &a.Subject, &a.Context,
		&a.Status, &attendant, &closedAt, &closedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AttendantName = nullStringPtr(attendant)
	a.ClosedAt = nullTimePtr(closedAt)
	a.ClosedBy = nullStringPtr(closedBy)
	return &a, nil
}

func (s *Store) GetAttendance(ctx context.Context, id string) (*model.Attendance, error) {
	a, err := scanAttendance(s.DB.QueryRowContext(ctx, `SELECT `+attendanceCols+` FROM attendances WHERE id=?`, id))
	return a, notFound(err)
}

// FindOpenAttendance returns the waiting/in_progress attendance of (instance, phone).
func (s *Store) FindOpenAttendance(ctx context.Context, instanceID, phone string) (*model.Attendance, error) {
	a, err := scanAttendance(s.DB.QueryRowContext(ctx, `SELECT `+attendanceCols+` FROM attendances
		WHERE instance_id=? AND phone=? AND status IN (?,?) LIMIT 1`,
		instanceID, phone, model.AttendanceWaiting, model.AttendanceInProgress))
	return a, notFound(err)
}

// ListAttendances returns attendances, newest first, optionally filtered by status.
func (s *Store) ListAttendances(ctx context.Context, status string) ([]model.Attendance, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+attendanceCols+` FROM attendances WHERE status=? ORDER BY created_at DESC`, status)
	} else {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+attendanceCols+` FROM attendances ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// SaveAttendanceStatus persists status, attendant and close metadata of a.
func (s *Store) SaveAttendanceStatus(ctx context.Context, a *model.Attendance) error {
	a.UpdatedAt = now()
	var closedAt any
	if a.ClosedAt != nil {
		closedAt = a.ClosedAt.UTC()
	}
	err := s.execOne(ctx, `UPDATE attendances SET status=?, attendant_name=?, closed_at=?, closed_by=?, updated_at=? WHERE id=?`,
		a.Status, a.AttendantName, closedAt, a.ClosedBy, a.UpdatedAt, a.ID)
	return mapAttendanceErr(err)
}

func (s *Store) DeleteAttendance(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM attendances WHERE id=?`, id)
}

// AddAttendanceMessage appends a transcript entry.
func (s *Store) AddAttendanceMessage(ctx context.Context, m *model.AttendanceMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = now()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO attendance_messages (id,attendance_id,direction,content,sender_name,sent_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.AttendanceID, m.Direction, m.Content, m.SenderName, m.SentAt.UTC())
	return err
}

// ListAttendanceMessages returns the transcript of an attendance, oldest first.
func (s *Store) ListAttendanceMessages(ctx context.Context, attendanceID string) ([]model.AttendanceMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,attendance_id,direction,content,sender_name,sent_at
		FROM attendance_messages WHERE attendance_id=? ORDER BY sent_at ASC, rowid ASC`, attendanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.AttendanceMessage
	for rows.Next() {
		var m model.AttendanceMessage
		if err := rows.Scan(&m.ID, &m.AttendanceID, &m.Direction, &m.Content, &m.SenderName, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
