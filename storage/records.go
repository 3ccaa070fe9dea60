package storage

import (
	"errors"
	"fmt"

	"smsrelay/models"
)

func (s *Store) insertRow(entity string, id int64, query string, args ...any) error {
	if id == 0 {
		return fmt.Errorf("%s id is required", entity)
	}
	if _, err := s.q.Exec(query, args...); err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert %s %d: %w", entity, id, err)
	}
	return nil
}

func (s *Store) execAffecting(action string, id int64, query string, args ...any) error {
	result, err := s.q.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", action, id, err)
	}
	return requireAffected(result)
}

// InsertDraft stores a compose draft.
func (s *Store) InsertDraft(d models.Draft) error {
	if d.MimeType == "" {
		d.MimeType = models.MimeTextPlain
	}
	return s.insertRow("draft", d.ID,
		`INSERT INTO drafts (id, conversation_id, data, mime_type) VALUES (?, ?, ?, ?)`,
		d.ID, d.ConversationID, d.Data, d.MimeType,
	)
}

// DeleteDrafts removes every draft of a conversation.
func (s *Store) DeleteDrafts(conversationID int64) error {
	if _, err := s.q.Exec(`DELETE FROM drafts WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete drafts of conversation %d: %w", conversationID, err)
	}
	return nil
}

// ReplaceDrafts swaps the drafts of a conversation for drafts.
func (s *Store) ReplaceDrafts(conversationID int64, drafts []models.Draft) error {
	return s.InTx(func(tx *Store) error {
		if err := tx.DeleteDrafts(conversationID); err != nil {
			return err
		}
		for _, d := range drafts {
			d.ConversationID = conversationID
			if err := tx.InsertDraft(d); err != nil && !errors.Is(err, ErrDuplicate) {
				return err
			}
		}
		return nil
	})
}

// ListDrafts returns every draft.
func (s *Store) ListDrafts() ([]models.Draft, error) {
	rows, err := s.q.Query(`SELECT id, conversation_id, data, mime_type FROM drafts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	drafts := make([]models.Draft, 0)
	for rows.Next() {
		var d models.Draft
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Data, &d.MimeType); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// InsertBlacklist stores a blocked number or phrase.
func (s *Store) InsertBlacklist(b models.Blacklist) error {
	if b.PhoneNumber == "" && b.Phrase == "" {
		return errors.New("phone_number or phrase is required")
	}
	return s.insertRow("blacklist", b.ID,
		`INSERT INTO blacklists (id, phone_number, phrase) VALUES (?, ?, ?)`,
		b.ID, b.PhoneNumber, b.Phrase,
	)
}

// DeleteBlacklist removes one blacklist entry.
func (s *Store) DeleteBlacklist(id int64) error {
	return s.execAffecting("delete blacklist", id, `DELETE FROM blacklists WHERE id = ?`, id)
}

// ListBlacklists returns every blacklist entry.
func (s *Store) ListBlacklists() ([]models.Blacklist, error) {
	rows, err := s.q.Query(`SELECT id, phone_number, phrase FROM blacklists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list blacklists: %w", err)
	}
	defer rows.Close()

	blacklists := make([]models.Blacklist, 0)
	for rows.Next() {
		var b models.Blacklist
		if err := rows.Scan(&b.ID, &b.PhoneNumber, &b.Phrase); err != nil {
			return nil, fmt.Errorf("scan blacklist: %w", err)
		}
		blacklists = append(blacklists, b)
	}
	return blacklists, rows.Err()
}

// InsertScheduledMessage stores a message to be sent later by the primary device.
func (s *Store) InsertScheduledMessage(m models.ScheduledMessage) error {
	if m.MimeType == "" {
		m.MimeType = models.MimeTextPlain
	}
	return s.insertRow("scheduled message", m.ID,
		`INSERT INTO scheduled_messages (id, recipients, data, mime_type, timestamp, title, repeat_interval)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.To, m.Data, m.MimeType, m.Timestamp, m.Title, m.Repeat,
	)
}

// UpdateScheduledMessage overwrites a scheduled message.
func (s *Store) UpdateScheduledMessage(m models.ScheduledMessage) error {
	if m.MimeType == "" {
		m.MimeType = models.MimeTextPlain
	}
	return s.execAffecting("update scheduled message", m.ID,
		`UPDATE scheduled_messages SET recipients = ?, data = ?, mime_type = ?, timestamp = ?, title = ?, repeat_interval = ?
		WHERE id = ?`,
		m.To, m.Data, m.MimeType, m.Timestamp, m.Title, m.Repeat, m.ID,
	)
}

// DeleteScheduledMessage removes a scheduled message.
func (s *Store) DeleteScheduledMessage(id int64) error {
	return s.execAffecting("delete scheduled message", id, `DELETE FROM scheduled_messages WHERE id = ?`, id)
}

// ListScheduledMessages returns scheduled messages in send order.
func (s *Store) ListScheduledMessages() ([]models.ScheduledMessage, error) {
	rows, err := s.q.Query(
		`SELECT id, recipients, data, mime_type, timestamp, title, repeat_interval
		FROM scheduled_messages ORDER BY timestamp ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list scheduled messages: %w", err)
	}
	defer rows.Close()

	scheduled := make([]models.ScheduledMessage, 0)
	for rows.Next() {
		var m models.ScheduledMessage
		if err := rows.Scan(&m.ID, &m.To, &m.Data, &m.MimeType, &m.Timestamp, &m.Title, &m.Repeat); err != nil {
			return nil, fmt.Errorf("scan scheduled message: %w", err)
		}
		scheduled = append(scheduled, m)
	}
	return scheduled, rows.Err()
}

// InsertTemplate stores a canned reply.
func (s *Store) InsertTemplate(t models.Template) error {
	return s.insertRow("template", t.ID, `INSERT INTO templates (id, text) VALUES (?, ?)`, t.ID, t.Text)
}

// UpdateTemplate replaces the text of a template.
func (s *Store) UpdateTemplate(t models.Template) error {
	return s.execAffecting("update template", t.ID, `UPDATE templates SET text = ? WHERE id = ?`, t.Text, t.ID)
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(id int64) error {
	return s.execAffecting("delete template", id, `DELETE FROM templates WHERE id = ?`, id)
}

// ListTemplates returns every template.
func (s *Store) ListTemplates() ([]models.Template, error) {
	rows, err := s.q.Query(`SELECT id, text FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]models.Template, 0)
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.Text); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// InsertFolder stores a conversation folder.
func (s *Store) InsertFolder(f models.Folder) error {
	if f.Name == "" {
		return errors.New("folder name is required")
	}
	return s.insertRow("folder", f.ID,
		`INSERT INTO folders (id, name, color, color_dark, color_light, color_accent) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Colors.Color, f.Colors.ColorDark, f.Colors.ColorLight, f.Colors.ColorAccent,
	)
}

// UpdateFolder renames and recolors a folder.
func (s *Store) UpdateFolder(f models.Folder) error {
	return s.execAffecting("update folder", f.ID,
		`UPDATE folders SET name = ?, color = ?, color_dark = ?, color_light = ?, color_accent = ? WHERE id = ?`,
		f.Name, f.Colors.Color, f.Colors.ColorDark, f.Colors.ColorLight, f.Colors.ColorAccent, f.ID,
	)
}

// DeleteFolder removes a folder and releases the conversations filed under it.
func (s *Store) DeleteFolder(id int64) error {
	return s.InTx(func(tx *Store) error {
		if _, err := tx.q.Exec(`UPDATE conversations SET folder_id = NULL WHERE folder_id = ?`, id); err != nil {
			return fmt.Errorf("release folder %d conversations: %w", id, err)
		}
		return tx.execAffecting("delete folder", id, `DELETE FROM folders WHERE id = ?`, id)
	})
}

// ListFolders returns every folder.
func (s *Store) ListFolders() ([]models.Folder, error) {
	rows, err := s.q.Query(`SELECT id, name, color, color_dark, color_light, color_accent FROM folders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	folders := make([]models.Folder, 0)
	for rows.Next() {
		var f models.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Colors.Color, &f.Colors.ColorDark, &f.Colors.ColorLight, &f.Colors.ColorAccent); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// InsertAutoReply stores an auto reply rule.
func (s *Store) InsertAutoReply(r models.AutoReply) error {
	if r.Type == "" {
		return errors.New("auto reply type is required")
	}
	return s.insertRow("auto reply", r.ID,
		`INSERT INTO auto_replies (id, reply_type, pattern, response) VALUES (?, ?, ?, ?)`,
		r.ID, r.Type, r.Pattern, r.Response,
	)
}

// UpdateAutoReply overwrites an auto reply rule.
func (s *Store) UpdateAutoReply(r models.AutoReply) error {
	return s.execAffecting("update auto reply", r.ID,
		`UPDATE auto_replies SET reply_type = ?, pattern = ?, response = ? WHERE id = ?`,
		r.Type, r.Pattern, r.Response, r.ID,
	)
}

// DeleteAutoReply removes an auto reply rule.
func (s *Store) DeleteAutoReply(id int64) error {
	return s.execAffecting("delete auto reply", id, `DELETE FROM auto_replies WHERE id = ?`, id)
}

// ListAutoReplies returns every auto reply rule.
func (s *Store) ListAutoReplies() ([]models.AutoReply, error) {
	rows, err := s.q.Query(`SELECT id, reply_type, pattern, response FROM auto_replies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list auto replies: %w", err)
	}
	defer rows.Close()

	replies := make([]models.AutoReply, 0)
	for rows.Next() {
		var r models.AutoReply
		if err := rows.Scan(&r.ID, &r.Type, &r.Pattern, &r.Response); err != nil {
			return nil, fmt.Errorf("scan auto reply: %w", err)
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}
