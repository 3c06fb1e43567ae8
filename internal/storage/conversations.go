package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"warmer/internal/model"
)

// CreateConversation inserts a conversation row.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.ConversationPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	var started any
	if c.StartedAt != nil {
		started = c.StartedAt.UTC()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO conversations (id,instance_id,contact_id,topic,messages_count,status,started_at,created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.InstanceID, c.ContactID, c.Topic, c.MessagesCount, c.Status, started, c.CreatedAt.UTC())
	return err
}

// FinishConversation sets a terminal status and the completion time.
func (s *Store) FinishConversation(ctx context.Context, id, status string, messages int) error {
	return s.execOne(ctx, `UPDATE conversations SET status=?, messages_count=?, completed_at=? WHERE id=?`,
		status, messages, now(), id)
}

// IncrementConversationMessages adds n to the conversation's message count.
func (s *Store) IncrementConversationMessages(ctx context.Context, id string, n int) error {
	return s.execOne(ctx, `UPDATE conversations SET messages_count = messages_count + ? WHERE id=?`, n, id)
}

const conversationCols = `c.id,c.instance_id,c.contact_id,c.topic,c.messages_count,c.status,c.started_at,c.completed_at,c.created_at`

func scanConversation(row scanner) (*model.Conversation, error) {
	var c model.Conversation
	var started, completed sql.NullTime
	if err := row.Scan(&c.ID, &c.InstanceID, &c.ContactID, &c.Topic, &c.MessagesCount, &c.Status, &started, &completed, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.StartedAt = nullTimePtr(started)
	c.CompletedAt = nullTimePtr(completed)
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := scanConversation(s.DB.QueryRowContext(ctx, `SELECT `+conversationCols+` FROM conversations c WHERE c.id=?`, id))
	return c, notFound(err)
}

// FindActiveConversation returns the newest pending/in_progress conversation of
// the instance created after since whose contact phone is phone.
func (s *Store) FindActiveConversation(ctx context.Context, instanceID, phone string, since time.Time) (*model.Conversation, error) {
	c, err := scanConversation(s.DB.QueryRowContext(ctx, `SELECT `+conversationCols+`
		FROM conversations c
		JOIN warming_contacts wc ON wc.id = c.contact_id
		WHERE c.instance_id=? AND c.status IN (?,?) AND c.created_at >= ? AND wc.phone=?
		ORDER BY c.created_at DESC LIMIT 1`,
		instanceID, model.ConversationPending, model.ConversationInProgress, since.UTC(), phone))
	return c, notFound(err)
}

// ListConversations returns the most recent conversations of an instance.
func (s *Store) ListConversations(ctx context.Context, instanceID string, limit int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+conversationCols+` FROM conversations c WHERE c.instance_id=? ORDER BY c.created_at DESC LIMIT ?`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// AddMessage appends a message to a conversation.
func (s *Store) AddMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = model.TypeText
	}
	if m.SentAt.IsZero() {
		m.SentAt = now()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO messages (id,conversation_id,direction,type,content,delivered,read_by_contact,sent_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.Direction, m.Type, m.Content, btoi(m.Delivered), btoi(m.ReadByContact), m.SentAt.UTC())
	return err
}

// RecentMessages returns the last limit messages of a conversation, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,conversation_id,direction,type,content,delivered,read_by_contact,sent_at FROM (
			SELECT *, rowid AS rid FROM messages WHERE conversation_id=? ORDER BY sent_at DESC, rowid DESC LIMIT ?
		) ORDER BY sent_at ASC, rid ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Message
	for rows.Next() {
		var m model.Message
		var delivered, read int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Type, &m.Content, &delivered, &read, &m.SentAt); err != nil {
			return nil, err
		}
		m.Delivered = delivered == 1
		m.ReadByContact = read == 1
		list = append(list, m)
	}
	return list, rows.Err()
}
