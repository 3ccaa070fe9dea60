package mirror

import (
	"context"

	"smsrelay/crypto"
	"smsrelay/models"
	"smsrelay/relay"
)

// Messages.

func (m *Mirror) UpdateMessage(id int64, messageType models.MessageType, timestamp int64, read, seen bool) {
	update := relay.MessageUpdate{MessageType: int(messageType), Timestamp: timestamp, Read: read, Seen: seen}
	m.fire("update_message", func(ctx context.Context) relay.Status {
		return m.client.UpdateMessage(ctx, id, update)
	})
}

func (m *Mirror) UpdateMessageType(id int64, messageType models.MessageType) {
	m.fire("update_message_type", func(ctx context.Context) relay.Status {
		return m.client.UpdateMessageType(ctx, id, int(messageType))
	})
}

func (m *Mirror) DeleteMessage(id int64) {
	m.fireRemove(relay.Messages, id)
}

func (m *Mirror) CleanupMessages(timestamp int64) {
	m.fire("cleanup_messages", func(ctx context.Context) relay.Status {
		return m.client.CleanupMessages(ctx, timestamp)
	})
}

func (m *Mirror) CleanupConversationMessages(conversationID, timestamp int64) {
	m.fire("cleanup_conversation_messages", func(ctx context.Context) relay.Status {
		return m.client.CleanupConversationMessages(ctx, conversationID, timestamp)
	})
}

// Conversations.

func (m *Mirror) UpdateConversation(c models.Conversation) {
	fireUpdate(m, relay.Conversations, c.ID, c, relay.EncodeConversation)
}

// UpdateConversationSnippet pushes the preview shown in conversation lists.
func (m *Mirror) UpdateConversationSnippet(c models.Conversation) {
	snippet := relay.ConversationSnippet{Read: c.Read, Timestamp: c.Timestamp, Archive: c.Archived}
	ok := m.sealed("update_conversation_snippet", func(codec *crypto.Codec) error {
		var err error
		snippet.Snippet, err = sealString(codec, c.Snippet)
		return err
	})
	if !ok {
		return
	}
	m.fire("update_conversation_snippet", func(ctx context.Context) relay.Status {
		return m.client.UpdateConversationSnippet(ctx, c.ID, snippet)
	})
}

func (m *Mirror) UpdateConversationTitle(id int64, title string) {
	var sealed *string
	ok := m.sealed("update_conversation_title", func(codec *crypto.Codec) error {
		var err error
		sealed, err = sealString(codec, title)
		return err
	})
	if !ok {
		return
	}
	m.fire("update_conversation_title", func(ctx context.Context) relay.Status {
		return m.client.UpdateConversationTitle(ctx, id, sealed)
	})
}

// ReadConversation tells other devices the conversation was read here.
func (m *Mirror) ReadConversation(id int64) {
	deviceID := m.keys.DeviceID()
	m.fire("read_conversation", func(ctx context.Context) relay.Status {
		return m.client.ReadConversation(ctx, id, deviceID)
	})
}

func (m *Mirror) SeenConversation(id int64) {
	m.fire("seen_conversation", func(ctx context.Context) relay.Status {
		return m.client.SeenConversation(ctx, id)
	})
}

func (m *Mirror) SeenAllConversations() {
	m.fire("seen_conversations", m.client.SeenAllConversations)
}

func (m *Mirror) ArchiveConversation(id int64, archive bool) {
	m.fire("archive_conversation", func(ctx context.Context) relay.Status {
		return m.client.ArchiveConversation(ctx, id, archive)
	})
}

// SetConversationFolder files a conversation, or unfiles it when folderID is nil.
func (m *Mirror) SetConversationFolder(id int64, folderID *int64) {
	if folderID == nil {
		m.fire("remove_conversation_from_folder", func(ctx context.Context) relay.Status {
			return m.client.RemoveConversationFromFolder(ctx, id)
		})
		return
	}
	folder := *folderID
	m.fire("add_conversation_to_folder", func(ctx context.Context) relay.Status {
		return m.client.AddConversationToFolder(ctx, id, folder)
	})
}

func (m *Mirror) DeleteConversation(id int64) {
	m.fireRemove(relay.Conversations, id)
}

// Contacts.

func (m *Mirror) AddContact(c models.Contact) {
	fireAdd(m, relay.Contacts, c, relay.EncodeContact)
}

func (m *Mirror) UpdateContact(c models.Contact) {
	update := relay.ContactUpdate{
		Color:       c.Colors.Color,
		ColorDark:   c.Colors.ColorDark,
		ColorLight:  c.Colors.ColorLight,
		ColorAccent: c.Colors.ColorAccent,
	}
	ok := m.sealed("update_contact", func(codec *crypto.Codec) error {
		var err error
		if update.PhoneNumber, err = sealString(codec, c.PhoneNumber); err != nil {
			return err
		}
		update.Name, err = sealString(codec, c.Name)
		return err
	})
	if !ok {
		return
	}
	m.fire("update_contact", func(ctx context.Context) relay.Status {
		return m.client.UpdateContact(ctx, update)
	})
}

func (m *Mirror) RemoveContactsByPhone(phoneNumbers []string) {
	sealed := make([]string, 0, len(phoneNumbers))
	ok := m.sealed("remove_contacts", func(codec *crypto.Codec) error {
		for _, number := range phoneNumbers {
			enc, err := sealString(codec, number)
			if err != nil {
				return err
			}
			sealed = append(sealed, *enc)
		}
		return nil
	})
	if !ok {
		return
	}
	m.fire("remove_contacts", func(ctx context.Context) relay.Status {
		return m.client.RemoveContactsByPhone(ctx, sealed)
	})
}

func (m *Mirror) DeleteContact(id int64) {
	m.fireRemove(relay.Contacts, id)
}

// Drafts.

func (m *Mirror) AddDraft(d models.Draft) {
	fireAdd(m, relay.Drafts, d, relay.EncodeDraft)
}

func (m *Mirror) ReplaceDrafts(conversationID int64, drafts []models.Draft) {
	bodies := make([]relay.DraftBody, 0, len(drafts))
	ok := m.sealed("replace_drafts", func(codec *crypto.Codec) error {
		for _, d := range drafts {
			body, err := relay.EncodeDraft(codec, d)
			if err != nil {
				return err
			}
			bodies = append(bodies, body)
		}
		return nil
	})
	if !ok {
		return
	}
	m.fire("replace_drafts", func(ctx context.Context) relay.Status {
		return m.client.ReplaceDrafts(ctx, conversationID, bodies)
	})
}

func (m *Mirror) RemoveDrafts(conversationID int64) {
	deviceID := m.keys.DeviceID()
	m.fire("remove_drafts", func(ctx context.Context) relay.Status {
		return m.client.RemoveDrafts(ctx, conversationID, deviceID)
	})
}

// Smaller records.

func (m *Mirror) AddBlacklist(b models.Blacklist) {
	fireAdd(m, relay.Blacklists, b, relay.EncodeBlacklist)
}

func (m *Mirror) DeleteBlacklist(id int64) {
	m.fireRemove(relay.Blacklists, id)
}

func (m *Mirror) AddScheduledMessage(s models.ScheduledMessage) {
	fireAdd(m, relay.ScheduledMessages, s, relay.EncodeScheduledMessage)
}

func (m *Mirror) UpdateScheduledMessage(s models.ScheduledMessage) {
	fireUpdate(m, relay.ScheduledMessages, s.ID, s, relay.EncodeScheduledMessage)
}

func (m *Mirror) DeleteScheduledMessage(id int64) {
	m.fireRemove(relay.ScheduledMessages, id)
}

func (m *Mirror) AddTemplate(t models.Template) {
	fireAdd(m, relay.Templates, t, relay.EncodeTemplate)
}

func (m *Mirror) UpdateTemplate(t models.Template) {
	fireUpdate(m, relay.Templates, t.ID, t, relay.EncodeTemplate)
}

func (m *Mirror) DeleteTemplate(id int64) {
	m.fireRemove(relay.Templates, id)
}

func (m *Mirror) AddFolder(f models.Folder) {
	fireAdd(m, relay.Folders, f, relay.EncodeFolder)
}

func (m *Mirror) UpdateFolder(f models.Folder) {
	fireUpdate(m, relay.Folders, f.ID, f, relay.EncodeFolder)
}

func (m *Mirror) DeleteFolder(id int64) {
	m.fireRemove(relay.Folders, id)
}

func (m *Mirror) AddAutoReply(r models.AutoReply) {
	fireAdd(m, relay.AutoReplies, r, relay.EncodeAutoReply)
}

func (m *Mirror) UpdateAutoReply(r models.AutoReply) {
	fireUpdate(m, relay.AutoReplies, r.ID, r, relay.EncodeAutoReply)
}

func (m *Mirror) DeleteAutoReply(id int64) {
	m.fireRemove(relay.AutoReplies, id)
}

// Account.

func (m *Mirror) DismissNotification(conversationID int64) {
	deviceID := m.keys.DeviceID()
	m.fire("dismissed_notification", func(ctx context.Context) relay.Status {
		return m.client.DismissNotification(ctx, conversationID, deviceID)
	})
}

func (m *Mirror) UpdateSetting(s models.Setting) {
	m.fire("update_setting", func(ctx context.Context) relay.Status {
		return m.client.UpdateSetting(ctx, s.Key, s.Type, s.Value)
	})
}

// ForwardToPhone asks the primary device to send text to a recipient list.
func (m *Mirror) ForwardToPhone(to, text, mimeType string) {
	var sealedTo, sealedText *string
	ok := m.sealed("forward_to_phone", func(codec *crypto.Codec) error {
		var err error
		if sealedTo, err = sealString(codec, to); err != nil {
			return err
		}
		sealedText, err = sealString(codec, text)
		return err
	})
	if !ok {
		return
	}
	deviceID := m.keys.DeviceID()
	m.fire("forward_to_phone", func(ctx context.Context) relay.Status {
		return m.client.ForwardToPhone(ctx, sealedTo, sealedText, mimeType, deviceID)
	})
}

func sealString(codec *crypto.Codec, plaintext string) (*string, error) {
	return codec.Encrypt(&plaintext)
}
