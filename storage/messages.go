package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"smsrelay/models"
)

const messageColumns = `id, conversation_id, type, data, mime_type, timestamp,
	read, seen, message_from, color, sent_device, sim_phone_number`

// InsertMessage stores a new message. An existing id yields ErrDuplicate.
func (s *Store) InsertMessage(m models.Message) error {
	if m.ID == 0 {
		return errors.New("message id is required")
	}
	if m.ConversationID == 0 {
		return errors.New("conversation id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid message type %d", m.Type)
	}
	if m.MimeType == "" {
		m.MimeType = models.MimeTextPlain
	}
	if m.Timestamp == 0 {
		m.Timestamp = nowUnixMilli()
	}

	_, err := s.q.Exec(
		`INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.ConversationID,
		int(m.Type),
		m.Data,
		m.MimeType,
		m.Timestamp,
		boolInt(m.Read),
		boolInt(m.Seen),
		m.From,
		nullInt64FromInt(m.Color),
		m.SentDevice,
		m.SimPhoneNumber,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert message %d: %w", m.ID, err)
	}
	return nil
}

// InsertMessages stores a page of messages, skipping ids already present.
func (s *Store) InsertMessages(messages []models.Message) (int, error) {
	inserted := 0
	for _, m := range messages {
		err := s.InsertMessage(m)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// GetMessage returns one message by id.
func (s *Store) GetMessage(id int64) (*models.Message, error) {
	row := s.q.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return &m, nil
}

// MessageExists reports whether a message id is stored.
func (s *Store) MessageExists(id int64) (bool, error) {
	var n int
	if err := s.q.QueryRow(`SELECT COUNT(1) FROM messages WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check message %d: %w", id, err)
	}
	return n > 0, nil
}

// UpdateMessageType moves a message to another lifecycle state.
func (s *Store) UpdateMessageType(id int64, messageType models.MessageType) error {
	if !messageType.Valid() {
		return fmt.Errorf("invalid message type %d", messageType)
	}
	result, err := s.q.Exec(`UPDATE messages SET type = ? WHERE id = ?`, int(messageType), id)
	if err != nil {
		return fmt.Errorf("update message type %d: %w", id, err)
	}
	return requireAffected(result)
}

// UpdateMessage reconciles the mutable metadata of a message.
func (s *Store) UpdateMessage(id int64, messageType models.MessageType, timestamp int64, read, seen bool) error {
	if !messageType.Valid() {
		return fmt.Errorf("invalid message type %d", messageType)
	}
	result, err := s.q.Exec(
		`UPDATE messages SET type = ?, timestamp = ?, read = ?, seen = ? WHERE id = ?`,
		int(messageType),
		timestamp,
		boolInt(read),
		boolInt(seen),
		id,
	)
	if err != nil {
		return fmt.Errorf("update message %d: %w", id, err)
	}
	return requireAffected(result)
}

// UpdateMessageData replaces the payload reference of a message, typically after a
// media download.
func (s *Store) UpdateMessageData(id int64, data, mimeType string) error {
	result, err := s.q.Exec(`UPDATE messages SET data = ?, mime_type = ? WHERE id = ?`, data, mimeType, id)
	if err != nil {
		return fmt.Errorf("update message data %d: %w", id, err)
	}
	return requireAffected(result)
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(id int64) error {
	result, err := s.q.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return requireAffected(result)
}

// DeleteMessagesBefore removes every message older than timestamp.
func (s *Store) DeleteMessagesBefore(timestamp int64) (int64, error) {
	result, err := s.q.Exec(`DELETE FROM messages WHERE timestamp < ?`, timestamp)
	if err != nil {
		return 0, fmt.Errorf("delete messages before %d: %w", timestamp, err)
	}
	return result.RowsAffected()
}

// DeleteConversationMessagesBefore removes messages of one conversation older than timestamp.
func (s *Store) DeleteConversationMessagesBefore(conversationID, timestamp int64) (int64, error) {
	result, err := s.q.Exec(
		`DELETE FROM messages WHERE conversation_id = ? AND timestamp < ?`,
		conversationID,
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("delete conversation %d messages before %d: %w", conversationID, timestamp, err)
	}
	return result.RowsAffected()
}

// LatestMessage returns the newest message of a conversation.
func (s *Store) LatestMessage(conversationID int64) (*models.Message, error) {
	row := s.q.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		conversationID,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest message of conversation %d: %w", conversationID, err)
	}
	return &m, nil
}

// ListConversationMessages returns the messages of a conversation, oldest first.
func (s *Store) ListConversationMessages(conversationID int64, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryMessages(
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`,
		conversationID,
		limit,
		offset,
	)
}

// EachMessage streams every stored message, newest first, until fn returns an error.
func (s *Store) EachMessage(fn func(models.Message) error) error {
	rows, err := s.q.Query(`SELECT ` + messageColumns + ` FROM messages ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	return nil
}

// ListMediaMessages returns the newest non-text messages.
func (s *Store) ListMediaMessages(limit int) ([]models.Message, error) {
	return s.queryMessages(
		`SELECT `+messageColumns+` FROM messages WHERE mime_type != ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		models.MimeTextPlain,
		limit,
	)
}

// ListPendingMediaDownloads returns the newest media messages still holding the
// download placeholder.
func (s *Store) ListPendingMediaDownloads(limit int) ([]models.Message, error) {
	return s.queryMessages(
		`SELECT `+messageColumns+` FROM messages WHERE mime_type != ? AND data LIKE 'firebase %'
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		models.MimeTextPlain,
		limit,
	)
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages() (int, error) {
	return s.count("messages")
}

func (s *Store) queryMessages(query string, args ...any) ([]models.Message, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row scanner) (models.Message, error) {
	var m models.Message
	var messageType, read, seen int
	var color sql.NullInt64
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&messageType,
		&m.Data,
		&m.MimeType,
		&m.Timestamp,
		&read,
		&seen,
		&m.From,
		&color,
		&m.SentDevice,
		&m.SimPhoneNumber,
	)
	if err != nil {
		return models.Message{}, err
	}
	m.Type = models.MessageType(messageType)
	m.Read = read == 1
	m.Seen = seen == 1
	m.Color = intPtrFromNullInt64(color)
	return m, nil
}
