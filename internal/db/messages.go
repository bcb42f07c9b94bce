package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/kurosaki/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppendMessage stores a message and advances the parent conversation's
// updated_at to the message's created_at. Both writes share a transaction.
// The assigned timestamp is strictly later than the previous updated_at,
// even when the clock has not moved.
func (d *Database) AppendMessage(ctx context.Context, convID string, role models.Role, content string) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	msg := &models.Message{
		ID:      uuid.NewString(),
		ConvID:  convID,
		Role:    role,
		Content: content,
	}

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var updatedAt time.Time
		err := tx.QueryRowContext(ctx, d.rebind("SELECT updated_at FROM conversations WHERE id = ?"), convID).Scan(&updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read conversation: %w", err)
		}

		ts := d.timestamp()
		if !ts.After(updatedAt) {
			ts = updatedAt.UTC().Add(time.Microsecond)
		}
		msg.CreatedAt = ts

		query := `
            INSERT INTO messages (id, conversation_id, role, content, created_at)
            VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, d.rebind(query), msg.ID, msg.ConvID, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind("UPDATE conversations SET updated_at = ? WHERE id = ?"), ts, convID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("appended message",
		zap.String("conversation_id", convID),
		zap.String("message_id", msg.ID),
		zap.String("role", string(role)))
	return msg, nil
}

// ListMessages returns the conversation's messages oldest first. Unknown
// conversations yield an empty slice.
func (d *Database) ListMessages(ctx context.Context, convID string) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), convID)
	if err != nil {
		return []models.Message{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg  models.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.ConvID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return []models.Message{}, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return []models.Message{}, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
