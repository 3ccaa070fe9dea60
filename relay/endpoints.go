package relay

import (
	"context"
	"net/url"
	"strconv"
)

func values(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// MessageUpdate carries the reconcilable metadata of a message.
type MessageUpdate struct {
	MessageType int   `json:"type"`
	Timestamp   int64 `json:"timestamp"`
	Read        bool  `json:"read"`
	Seen        bool  `json:"seen"`
}

// UpdateMessage reconciles type, timestamp and read state.
func (c *Client) UpdateMessage(ctx context.Context, id int64, update MessageUpdate) Status {
	return c.Update(ctx, Messages, id, update)
}

// UpdateMessageType moves a message to another lifecycle state.
func (c *Client) UpdateMessageType(ctx context.Context, id int64, messageType int) Status {
	return c.Mutate(ctx, Messages, "update_type", id, values("message_type", strconv.Itoa(messageType)), nil)
}

// CleanupMessages removes every message older than timestamp.
func (c *Client) CleanupMessages(ctx context.Context, timestamp int64) Status {
	return c.Mutate(ctx, Messages, "cleanup", 0, values("timestamp", itoa(timestamp)), nil)
}

// CleanupConversationMessages removes one conversation's messages older than timestamp.
func (c *Client) CleanupConversationMessages(ctx context.Context, conversationID, timestamp int64) Status {
	return c.Mutate(ctx, Messages, "cleanup_conversation", 0, values(
		"conversation_id", itoa(conversationID),
		"timestamp", itoa(timestamp),
	), nil)
}

// ConversationSnippet is the encrypted preview pushed after a new message.
type ConversationSnippet struct {
	Read      bool    `json:"read"`
	Timestamp int64   `json:"timestamp"`
	Snippet   *string `json:"snippet"`
	Archive   bool    `json:"archive"`
}

// UpdateConversationSnippet refreshes a conversation preview.
func (c *Client) UpdateConversationSnippet(ctx context.Context, id int64, snippet ConversationSnippet) Status {
	return c.Mutate(ctx, Conversations, "update_snippet", id, nil, snippet)
}

// UpdateConversationTitle renames a conversation. title must already be encrypted.
func (c *Client) UpdateConversationTitle(ctx context.Context, id int64, title *string) Status {
	query := url.Values{}
	if title != nil {
		query.Set("title", *title)
	}
	return c.Mutate(ctx, Conversations, "update_title", id, query, nil)
}

// ReadConversation marks a conversation read on every device.
func (c *Client) ReadConversation(ctx context.Context, id, deviceID int64) Status {
	return c.Mutate(ctx, Conversations, "read", id, values("device_id", itoa(deviceID)), nil)
}

// SeenConversation marks a conversation's messages seen.
func (c *Client) SeenConversation(ctx context.Context, id int64) Status {
	return c.Mutate(ctx, Conversations, "seen", id, nil, nil)
}

// SeenAllConversations marks every message seen.
func (c *Client) SeenAllConversations(ctx context.Context) Status {
	return c.Mutate(ctx, Conversations, "seen", 0, nil, nil)
}

// ArchiveConversation archives or unarchives a conversation.
func (c *Client) ArchiveConversation(ctx context.Context, id int64, archive bool) Status {
	action := "unarchive"
	if archive {
		action = "archive"
	}
	return c.Mutate(ctx, Conversations, action, id, nil, nil)
}

// AddConversationToFolder files a conversation.
func (c *Client) AddConversationToFolder(ctx context.Context, id, folderID int64) Status {
	return c.Mutate(ctx, Conversations, "add_to_folder", id, values("folder_id", itoa(folderID)), nil)
}

// RemoveConversationFromFolder unfiles a conversation.
func (c *Client) RemoveConversationFromFolder(ctx context.Context, id int64) Status {
	return c.Mutate(ctx, Conversations, "remove_from_folder", id, nil, nil)
}

// ContactUpdate carries the encrypted name and colors of a contact.
type ContactUpdate struct {
	PhoneNumber *string `json:"phone_number"`
	Name        *string `json:"name"`
	Color       int     `json:"color"`
	ColorDark   int     `json:"color_dark"`
	ColorLight  int     `json:"color_light"`
	ColorAccent int     `json:"color_accent"`
}

// UpdateContact updates a contact addressed by its encrypted phone number.
func (c *Client) UpdateContact(ctx context.Context, update ContactUpdate) Status {
	return c.Mutate(ctx, Contacts, "update_mobile", 0, nil, update)
}

// RemoveContactsByPhone removes contacts by encrypted phone numbers.
func (c *Client) RemoveContactsByPhone(ctx context.Context, phoneNumbers []string) Status {
	return c.Mutate(ctx, Contacts, "remove_ids", 0, nil, map[string]any{"phone_numbers": phoneNumbers})
}

// RemoveDrafts deletes the drafts of a conversation.
func (c *Client) RemoveDrafts(ctx context.Context, conversationID, deviceID int64) Status {
	return c.Mutate(ctx, Drafts, "remove", conversationID, values("device_id", itoa(deviceID)), nil)
}

// ReplaceDrafts swaps the drafts of a conversation.
func (c *Client) ReplaceDrafts(ctx context.Context, conversationID int64, drafts []DraftBody) Status {
	return c.Mutate(ctx, Drafts, "replace", conversationID, nil, map[string]any{"drafts": drafts})
}

// DismissNotification clears a conversation notification on other devices.
func (c *Client) DismissNotification(ctx context.Context, conversationID, deviceID int64) Status {
	return c.Mutate(ctx, Accounts, "dismissed_notification", 0, values(
		"id", itoa(conversationID),
		"device_id", itoa(deviceID),
	), nil)
}

// UpdateSetting publishes one preference value.
func (c *Client) UpdateSetting(ctx context.Context, key, valueType, value string) Status {
	return c.Mutate(ctx, Accounts, "update_setting", 0, values(
		"pref", key,
		"type", valueType,
		"value", value,
	), nil)
}

// ForwardToPhone asks the primary device to send a message. to and data must already
// be encrypted.
func (c *Client) ForwardToPhone(ctx context.Context, to, data *string, mimeType string, sentDevice int64) Status {
	body := map[string]any{
		"to":          to,
		"message":     data,
		"mime_type":   mimeType,
		"sent_device": sentDevice,
	}
	return c.Mutate(ctx, Messages, "forward_to_phone", 0, nil, body)
}
