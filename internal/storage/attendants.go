package storage

import (
	"context"

	"github.com/google/uuid"

	"warmer/internal/model"
)

const attendantCols = `id,name,sector,COALESCE(email,''),active,created_at,updated_at`

func (s *Store) CreateAttendant(ctx context.Context, a *model.Attendant) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	t := now()
	a.CreatedAt, a.UpdatedAt = t, t
	_, err := s.DB.ExecContext(ctx, `INSERT INTO attendants (id,name,sector,email,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Sector, nullIfEmpty(a.Email), btoi(a.Active), t, t)
	return err
}

func scanAttendant(row scanner) (*model.Attendant, error) {
	var a model.Attendant
	var active int
	if err := row.Scan(&a.ID, &a.Name, &a.Sector, &a.Email, &active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Active = active == 1
	return &a, nil
}

func (s *Store) GetAttendant(ctx context.Context, id string) (*model.Attendant, error) {
	a, err := scanAttendant(s.DB.QueryRowContext(ctx, `SELECT `+attendantCols+` FROM attendants WHERE id=?`, id))
	return a, notFound(err)
}

// ListAttendants returns attendants by name. A non-nil active filters on the flag.
func (s *Store) ListAttendants(ctx context.Context, active *bool) ([]model.Attendant, error) {
	q := `SELECT ` + attendantCols + ` FROM attendants`
	var args []any
	if active != nil {
		q += ` WHERE active=?`
		args = append(args, btoi(*active))
	}
	rows, err := s.DB.QueryContext(ctx, q+` ORDER BY name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Attendant
	for rows.Next() {
		a, err := scanAttendant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

func (s *Store) UpdateAttendant(ctx context.Context, a *model.Attendant) error {
	a.UpdatedAt = now()
	return s.execOne(ctx, `UPDATE attendants SET name=?, sector=?, email=?, active=?, updated_at=? WHERE id=?`,
		a.Name, a.Sector, nullIfEmpty(a.Email), btoi(a.Active), a.UpdatedAt, a.ID)
}

func (s *Store) DeleteAttendant(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM attendants WHERE id=?`, id)
}
