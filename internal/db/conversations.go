package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/kurosaki/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateConversation inserts a conversation owned by userID. An empty title
// falls back to models.DefaultTitle.
func (d *Database) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = models.DefaultTitle
	}
	now := d.timestamp()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
        INSERT INTO conversations (id, user_id, title, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, d.rebind(query), conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	d.logger.Debug("created conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID))
	return conv, nil
}

func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
        SELECT id, user_id, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`

	var conv models.Conversation
	err := d.db.QueryRowContext(ctx, d.rebind(query), id).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	normalizeConversation(&conv)
	return &conv, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (d *Database) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `
        SELECT id, user_id, title, created_at, updated_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY updated_at DESC, id DESC`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), userID)
	if err != nil {
		return []models.Conversation{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return []models.Conversation{}, fmt.Errorf("scan conversation: %w", err)
		}
		normalizeConversation(&conv)
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return []models.Conversation{}, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

func (d *Database) RenameConversation(ctx context.Context, id, title string) error {
	res, err := d.db.ExecContext(ctx, d.rebind("UPDATE conversations SET title = ? WHERE id = ?"), title, id)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return expectRow(res)
}

// DeleteConversation removes the conversation and its messages in one transaction.
func (d *Database) DeleteConversation(ctx context.Context, id string) error {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.rebind("DELETE FROM messages WHERE conversation_id = ?"), id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, d.rebind("DELETE FROM conversations WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return expectRow(res)
	})
	if err != nil {
		return err
	}

	d.logger.Debug("deleted conversation", zap.String("conversation_id", id))
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeConversation(c *models.Conversation) {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}
