package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"smsrelay/models"
)

const conversationColumns = `id, title, phone_numbers, snippet, ringtone, id_matcher, image_uri,
	color, color_dark, color_light, color_accent, led_color,
	pinned, read, mute, archived, private_notifications, folder_id, timestamp`

// InsertConversation stores a new conversation. An existing id yields ErrDuplicate.
func (s *Store) InsertConversation(c models.Conversation) error {
	if c.ID == 0 {
		return errors.New("conversation id is required")
	}
	if c.Timestamp == 0 {
		c.Timestamp = nowUnixMilli()
	}
	c.PhoneNumbers = models.NormalizePhoneNumbers(c.PhoneNumbers)

	_, err := s.q.Exec(
		`INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Title,
		c.PhoneNumbers,
		c.Snippet,
		c.Ringtone,
		c.IDMatcher,
		c.ImageURI,
		c.Colors.Color,
		c.Colors.ColorDark,
		c.Colors.ColorLight,
		c.Colors.ColorAccent,
		c.Colors.LedColor,
		boolInt(c.Pinned),
		boolInt(c.Read),
		boolInt(c.Mute),
		boolInt(c.Archived),
		boolInt(c.Private),
		nullInt64(c.FolderID),
		c.Timestamp,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert conversation %d: %w", c.ID, err)
	}
	return nil
}

// InsertConversations stores a page of conversations, skipping ids already present.
func (s *Store) InsertConversations(conversations []models.Conversation) (int, error) {
	inserted := 0
	for _, c := range conversations {
		err := s.InsertConversation(c)
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

// UpdateConversation overwrites the mutable settings of a conversation.
func (s *Store) UpdateConversation(c models.Conversation) error {
	result, err := s.q.Exec(
		`UPDATE conversations SET
			title = ?, ringtone = ?, image_uri = ?,
			color = ?, color_dark = ?, color_light = ?, color_accent = ?, led_color = ?,
			pinned = ?, read = ?, mute = ?, archived = ?, private_notifications = ?,
			timestamp = CASE WHEN ? > 0 THEN ? ELSE timestamp END
		WHERE id = ?`,
		c.Title,
		c.Ringtone,
		c.ImageURI,
		c.Colors.Color,
		c.Colors.ColorDark,
		c.Colors.ColorLight,
		c.Colors.ColorAccent,
		c.Colors.LedColor,
		boolInt(c.Pinned),
		boolInt(c.Read),
		boolInt(c.Mute),
		boolInt(c.Archived),
		boolInt(c.Private),
		c.Timestamp,
		c.Timestamp,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation %d: %w", c.ID, err)
	}
	return requireAffected(result)
}

// UpdateConversationSnippet refreshes the preview of a conversation after a new message.
func (s *Store) UpdateConversationSnippet(id int64, snippet string, timestamp int64, read bool) error {
	result, err := s.q.Exec(
		`UPDATE conversations SET snippet = ?, timestamp = ?, read = ?, archived = 0 WHERE id = ?`,
		snippet,
		timestamp,
		boolInt(read),
		id,
	)
	if err != nil {
		return fmt.Errorf("update conversation snippet %d: %w", id, err)
	}
	return requireAffected(result)
}

// UpdateConversationTitle renames a conversation.
func (s *Store) UpdateConversationTitle(id int64, title string) error {
	result, err := s.q.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("update conversation title %d: %w", id, err)
	}
	return requireAffected(result)
}

// SetConversationRead marks a conversation and its messages read (and seen).
func (s *Store) SetConversationRead(id int64) error {
	result, err := s.q.Exec(`UPDATE conversations SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark conversation read %d: %w", id, err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if _, err := s.q.Exec(`UPDATE messages SET read = 1, seen = 1 WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("mark conversation messages read %d: %w", id, err)
	}
	return nil
}

// SetConversationSeen marks every message of a conversation seen.
func (s *Store) SetConversationSeen(id int64) error {
	if _, err := s.q.Exec(`UPDATE messages SET seen = 1 WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("mark conversation seen %d: %w", id, err)
	}
	return nil
}

// SetAllSeen marks every message seen.
func (s *Store) SetAllSeen() error {
	if _, err := s.q.Exec(`UPDATE messages SET seen = 1 WHERE seen = 0`); err != nil {
		return fmt.Errorf("mark all messages seen: %w", err)
	}
	return nil
}

// SetConversationArchived archives or unarchives a conversation.
func (s *Store) SetConversationArchived(id int64, archived bool) error {
	result, err := s.q.Exec(`UPDATE conversations SET archived = ? WHERE id = ?`, boolInt(archived), id)
	if err != nil {
		return fmt.Errorf("set conversation archived %d: %w", id, err)
	}
	return requireAffected(result)
}

// SetConversationFolder moves a conversation into a folder; nil removes it from any folder.
func (s *Store) SetConversationFolder(id int64, folderID *int64) error {
	result, err := s.q.Exec(`UPDATE conversations SET folder_id = ? WHERE id = ?`, nullInt64(folderID), id)
	if err != nil {
		return fmt.Errorf("set conversation folder %d: %w", id, err)
	}
	return requireAffected(result)
}

// DeleteConversation removes a conversation with its messages and drafts.
func (s *Store) DeleteConversation(id int64) error {
	return s.InTx(func(tx *Store) error {
		if _, err := tx.q.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("delete conversation messages %d: %w", id, err)
		}
		if _, err := tx.q.Exec(`DELETE FROM drafts WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("delete conversation drafts %d: %w", id, err)
		}
		result, err := tx.q.Exec(`DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete conversation %d: %w", id, err)
		}
		return requireAffected(result)
	})
}

// GetConversation returns one conversation by id.
func (s *Store) GetConversation(id int64) (*models.Conversation, error) {
	row := s.q.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return &c, nil
}

// FindConversationByPhoneNumbers returns the conversation whose normalized participant
// list equals phoneNumbers.
func (s *Store) FindConversationByPhoneNumbers(phoneNumbers string) (*models.Conversation, error) {
	normalized := models.NormalizePhoneNumbers(phoneNumbers)
	if normalized == "" {
		return nil, ErrNotFound
	}
	row := s.q.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE phone_numbers = ? ORDER BY timestamp DESC LIMIT 1`,
		normalized,
	)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find conversation %q: %w", normalized, err)
	}
	return &c, nil
}

// ListConversations returns every conversation, newest first.
func (s *Store) ListConversations() ([]models.Conversation, error) {
	rows, err := s.q.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

// CountConversations returns the number of stored conversations.
func (s *Store) CountConversations() (int, error) {
	return s.count("conversations")
}

func (s *Store) count(table string) (int, error) {
	var n int
	if err := s.q.QueryRow("SELECT COUNT(1) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func scanConversation(row scanner) (models.Conversation, error) {
	var c models.Conversation
	var pinned, read, mute, archived, private int
	var folderID sql.NullInt64
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.PhoneNumbers,
		&c.Snippet,
		&c.Ringtone,
		&c.IDMatcher,
		&c.ImageURI,
		&c.Colors.Color,
		&c.Colors.ColorDark,
		&c.Colors.ColorLight,
		&c.Colors.ColorAccent,
		&c.Colors.LedColor,
		&pinned,
		&read,
		&mute,
		&archived,
		&private,
		&folderID,
		&c.Timestamp,
	)
	if err != nil {
		return models.Conversation{}, err
	}
	c.Pinned = pinned == 1
	c.Read = read == 1
	c.Mute = mute == 1
	c.Archived = archived == 1
	c.Private = private == 1
	c.FolderID = int64Ptr(folderID)
	return c, nil
}
