package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"warmer/internal/model"
)

const botCols = `id,name,COALESCE(instance_id,''),system_prompt,model,temperature,max_tokens,active,reply_delay,context_messages,reply_groups,created_at`

func (s *Store) CreateBot(ctx context.Context, b *model.Bot) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = now()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO bots (`+botColsInsert+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Name, nullIfEmpty(b.InstanceID), b.SystemPrompt, b.Model, b.Temperature, b.MaxTokens, btoi(b.Active),
		b.ReplyDelay, b.ContextMessages, btoi(b.ReplyGroups), b.CreatedAt)
	return err
}

const botColsInsert = `id,name,instance_id,system_prompt,model,temperature,max_tokens,active,reply_delay,context_messages,reply_groups,created_at`

func scanBot(row scanner) (*model.Bot, error) {
	var b model.Bot
	var active, groups int
	if err := row.Scan(&b.ID, &b.Name, &b.InstanceID, &b.SystemPrompt, &b.Model, &b.Temperature, &b.MaxTokens, &active,
		&b.ReplyDelay, &b.ContextMessages, &groups, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Active = active == 1
	b.ReplyGroups = groups == 1
	return &b, nil
}

func (s *Store) ListBots(ctx context.Context) ([]model.Bot, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+botCols+` FROM bots ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// ActiveBotForInstance resolves the active bot bound to the instance, falling
// back to the active unbound default bot.
func (s *Store) ActiveBotForInstance(ctx context.Context, instanceID string) (*model.Bot, error) {
	b, err := scanBot(s.DB.QueryRowContext(ctx, `SELECT `+botCols+` FROM bots WHERE active=1 AND instance_id=? ORDER BY created_at LIMIT 1`, instanceID))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	b, err = scanBot(s.DB.QueryRowContext(ctx, `SELECT `+botCols+` FROM bots WHERE active=1 AND instance_id IS NULL ORDER BY created_at LIMIT 1`))
	return b, notFound(err)
}

func (s *Store) GetBot(ctx context.Context, id string) (*model.Bot, error) {
	b, err := scanBot(s.DB.QueryRowContext(ctx, `SELECT `+botCols+` FROM bots WHERE id=?`, id))
	return b, notFound(err)
}

// UpdateBot rewrites every editable field of a bot.
func (s *Store) UpdateBot(ctx context.Context, b *model.Bot) error {
	return s.execOne(ctx, `UPDATE bots SET name=?, instance_id=?, system_prompt=?, model=?, temperature=?, max_tokens=?,
		active=?, reply_delay=?, context_messages=?, reply_groups=? WHERE id=?`,
		b.Name, nullIfEmpty(b.InstanceID), b.SystemPrompt, b.Model, b.Temperature, b.MaxTokens,
		btoi(b.Active), b.ReplyDelay, b.ContextMessages, btoi(b.ReplyGroups), b.ID)
}

// ToggleBot flips the active flag and returns the new value.
func (s *Store) ToggleBot(ctx context.Context, id string) (bool, error) {
	var active int
	err := s.DB.QueryRowContext(ctx, `UPDATE bots SET active = 1 - active WHERE id=? RETURNING active`, id).Scan(&active)
	if err != nil {
		return false, notFound(err)
	}
	return active == 1, nil
}

func (s *Store) DeleteBot(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM bots WHERE id=?`, id)
}
