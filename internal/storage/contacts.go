package storage

import (
	"context"

	"github.com/google/uuid"

	"warmer/internal/model"
)

const contactCols = `id,phone,name,is_bot,category,active,created_at`

// CreateContact adds a warming contact.
func (s *Store) CreateContact(ctx context.Context, c *model.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO warming_contacts (`+contactCols+`) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Phone, c.Name, btoi(c.IsBot), c.Category, btoi(c.Active), c.CreatedAt)
	return err
}

func scanContact(row scanner) (*model.Contact, error) {
	var c model.Contact
	var isBot, active int
	if err := row.Scan(&c.ID, &c.Phone, &c.Name, &isBot, &c.Category, &active, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.IsBot = isBot == 1
	c.Active = active == 1
	return &c, nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	c, err := scanContact(s.DB.QueryRowContext(ctx, `SELECT `+contactCols+` FROM warming_contacts WHERE id=?`, id))
	return c, notFound(err)
}

// ListContacts returns contacts; activeOnly restricts to the warming pool.
func (s *Store) ListContacts(ctx context.Context, activeOnly bool) ([]model.Contact, error) {
	q := `SELECT ` + contactCols + ` FROM warming_contacts`
	if activeOnly {
		q += ` WHERE active=1`
	}
	rows, err := s.DB.QueryContext(ctx, q+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// UpdateContact rewrites the editable fields of a contact.
func (s *Store) UpdateContact(ctx context.Context, c *model.Contact) error {
	return s.execOne(ctx, `UPDATE warming_contacts SET phone=?, name=?, is_bot=?, category=?, active=? WHERE id=?`,
		c.Phone, c.Name, btoi(c.IsBot), c.Category, btoi(c.Active), c.ID)
}

// DeleteContact removes a contact together with its conversations.
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM warming_contacts WHERE id=?`, id)
}
