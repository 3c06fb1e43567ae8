package storage

import (
	"context"

	"github.com/google/uuid"

	"warmer/internal/model"
)

const instanceCols = `id,name,phone,COALESCE(device_token,''),provider,status,phase,current_day,created_at,updated_at`

// CreateInstance inserts a new instance, filling ID, defaults and timestamps.
func (s *Store) CreateInstance(ctx context.Context, in *model.Instance) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Provider == "" {
		in.Provider = model.ProviderWPP
	}
	if in.Status == "" {
		in.Status = model.StatusDisconnected
	}
	if in.Phase == "" {
		in.Phase = model.PhaseManual
	}
	t := now()
	in.CreatedAt, in.UpdatedAt = t, t
	_, err := s.DB.ExecContext(ctx, `INSERT INTO instances (id,name,phone,device_token,provider,status,phase,current_day,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.Name, in.Phone, nullIfEmpty(in.DeviceToken), in.Provider, in.Status, in.Phase, in.CurrentDay, t, t)
	return err
}

func scanInstance(row scanner) (*model.Instance, error) {
	var in model.Instance
	if err := row.Scan(&in.ID, &in.Name, &in.Phone, &in.DeviceToken, &in.Provider, &in.Status, &in.Phase, &in.CurrentDay, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	in, err := scanInstance(s.DB.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE id=?`, id))
	return in, notFound(err)
}

// FindInstanceByDeviceToken returns the instance registered with the exact device token.
func (s *Store) FindInstanceByDeviceToken(ctx context.Context, token string) (*model.Instance, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	in, err := scanInstance(s.DB.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM instances WHERE device_token=? LIMIT 1`, token))
	return in, notFound(err)
}

// ListInstances returns all instances ordered by created_at desc.
func (s *Store) ListInstances(ctx context.Context) ([]model.Instance, error) {
	return s.queryInstances(ctx, `SELECT `+instanceCols+` FROM instances ORDER BY created_at DESC`)
}

// ListConnectedInstances returns connected instances, oldest first.
func (s *Store) ListConnectedInstances(ctx context.Context) ([]model.Instance, error) {
	return s.queryInstances(ctx, `SELECT `+instanceCols+` FROM instances WHERE status=? ORDER BY created_at ASC`, model.StatusConnected)
}

func (s *Store) queryInstances(ctx context.Context, q string, args ...any) ([]model.Instance, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *in)
	}
	return list, rows.Err()
}

// UpdateInstance rewrites the operator-editable fields of an instance.
func (s *Store) UpdateInstance(ctx context.Context, in *model.Instance) error {
	in.UpdatedAt = now()
	return s.execOne(ctx, `UPDATE instances SET name=?, phone=?, device_token=?, provider=?, updated_at=? WHERE id=?`,
		in.Name, in.Phone, nullIfEmpty(in.DeviceToken), in.Provider, in.UpdatedAt, in.ID)
}

// CountInstances returns the total, connected and auto_warming instance counts.
func (s *Store) CountInstances(ctx context.Context) (total, connected, warming int, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
			COALESCE(SUM(CASE WHEN phase=? THEN 1 ELSE 0 END),0)
		FROM instances`, model.StatusConnected, model.PhaseAutoWarming).Scan(&total, &connected, &warming)
	return total, connected, warming, err
}

func (s *Store) UpdateInstanceStatus(ctx context.Context, id, status string) error {
	return s.execOne(ctx, `UPDATE instances SET status=?, updated_at=? WHERE id=?`, status, now(), id)
}

// UpdateInstancePhone records the phone reported by the device after pairing.
func (s *Store) UpdateInstancePhone(ctx context.Context, id, phone string) error {
	return s.execOne(ctx, `UPDATE instances SET phone=?, updated_at=? WHERE id=?`, phone, now(), id)
}

func (s *Store) SetInstancePhase(ctx context.Context, id, phase string) error {
	return s.execOne(ctx, `UPDATE instances SET phase=?, updated_at=? WHERE id=?`, phase, now(), id)
}

// StartInstanceWarming sets the phase to auto_warming and moves a fresh instance to day 1.
func (s *Store) StartInstanceWarming(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE instances
		SET phase=?, current_day=CASE WHEN current_day < 1 THEN 1 ELSE current_day END, updated_at=?
		WHERE id=?`, model.PhaseAutoWarming, now(), id)
}

// AdvanceInstanceDay moves the instance from fromDay to fromDay+1. It reports
// false when the instance was no longer on fromDay, so a day rolls over once.
func (s *Store) AdvanceInstanceDay(ctx context.Context, id string, fromDay int) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE instances SET current_day=?, updated_at=? WHERE id=? AND current_day=?`,
		fromDay+1, now(), id, fromDay)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinishInstanceWarming flips an auto_warming instance on its last day to the sending phase.
func (s *Store) FinishInstanceWarming(ctx context.Context, id string, lastDay int) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE instances SET phase=?, updated_at=? WHERE id=? AND current_day=? AND phase=?`,
		model.PhaseSending, now(), id, lastDay, model.PhaseAutoWarming)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM instances WHERE id=?`, id)
}

// execOne executes a statement that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

