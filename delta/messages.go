package delta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"smsrelay/events"
	"smsrelay/models"
	"smsrelay/relay"
	"smsrelay/storage"
)

// addMessage inserts a pushed message. A message this device already holds is
// skipped; a sending message from another device is dispatched when this device is
// the primary.
func (p *Processor) addMessage(ctx context.Context, m models.Message) error {
	store := p.cfg.Store
	entry := p.log.WithFields(log.Fields{"message_id": m.ID, "conversation_id": m.ConversationID})

	exists, err := store.MessageExists(m.ID)
	if err != nil {
		return err
	}
	if exists {
		return errSkip
	}

	conversation, err := p.conversation(ctx, m.ConversationID)
	if err != nil {
		return fmt.Errorf("conversation for message %d: %w", m.ID, err)
	}

	self := p.cfg.Session.DeviceID()
	send := m.Type == models.MessageTypeSending &&
		m.SentDevice != self &&
		p.cfg.Session.Primary() &&
		p.cfg.Sender != nil

	if m.Type == models.MessageTypeSending {
		m.Timestamp = p.correctClock(m.Timestamp)
	}

	mediaReady := true
	if m.NeedsMediaDownload() && p.cfg.Media != nil {
		downloaded, err := p.downloadMedia(ctx, m)
		if err != nil {
			mediaReady = false
			entry.WithError(err).Warn("media download failed, keeping placeholder")
		} else {
			m = downloaded
		}
	}
	if send && m.NeedsMediaDownload() {
		mediaReady = false
	}

	if send && !mediaReady {
		m.Type = models.MessageTypeError
		send = false
		p.cfg.Publisher.UpdateMessageType(m.ID, models.MessageTypeError)
	}

	if err := store.InsertMessage(m); err != nil {
		return err
	}
	p.messageChanged(events.Added, m.ConversationID, m.ID, m.Type)
	p.applySnippet(conversation, m)

	if send {
		p.sendPending(ctx, conversation, m)
	}
	return nil
}

func (p *Processor) downloadMedia(ctx context.Context, m models.Message) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.MediaDeadline)
	defer cancel()
	return p.cfg.Media.Download(ctx, m)
}

// correctClock replaces a timestamp that is stale by more than ClockSkew or lies in
// the future.
func (p *Processor) correctClock(timestamp int64) int64 {
	now := p.cfg.now()
	if timestamp > now.UnixMilli() || timestamp < now.Add(-ClockSkew).UnixMilli() {
		return now.UnixMilli()
	}
	return timestamp
}

// sendPending dispatches a message over the carrier and records the outcome on every
// device.
func (p *Processor) sendPending(ctx context.Context, c models.Conversation, m models.Message) {
	result := models.MessageTypeSent
	if err := p.cfg.Sender.Send(ctx, splitRecipients(c.PhoneNumbers), m); err != nil {
		result = models.MessageTypeError
		p.log.WithError(err).WithField("message_id", m.ID).Warn("carrier send failed")
	}
	if err := p.cfg.Store.UpdateMessageType(m.ID, result); err != nil {
		p.log.WithError(err).WithField("message_id", m.ID).Error("record send result")
		return
	}
	p.cfg.Publisher.UpdateMessageType(m.ID, result)
	p.messageChanged(events.Updated, m.ConversationID, m.ID, result)
}

// conversation returns the local conversation, fetching it from the relay when this
// device has not seen it yet.
func (p *Processor) conversation(ctx context.Context, id int64) (models.Conversation, error) {
	c, err := p.cfg.Store.GetConversation(id)
	if err == nil {
		return *c, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Conversation{}, err
	}

	body, status := p.cfg.Fetcher.GetConversation(ctx, id)
	if !status.OK() {
		if status == relay.StatusNotFound {
			return models.Conversation{}, storage.ErrNotFound
		}
		return models.Conversation{}, fmt.Errorf("fetch conversation: %s", status)
	}
	codec, err := p.cfg.Session.Codec()
	if err != nil {
		return models.Conversation{}, err
	}
	fetched, err := relay.DecodeConversation(codec, body)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := p.cfg.Store.InsertConversation(fetched); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return models.Conversation{}, err
	}
	p.remember(fetched)
	p.conversationChanged(events.Added, fetched.ID)
	return fetched, nil
}

// applySnippet moves the conversation preview to m when m is not older than it.
// Received messages leave the conversation unread unless already marked read.
func (p *Processor) applySnippet(c models.Conversation, m models.Message) {
	if m.Timestamp < c.Timestamp {
		return
	}
	snippet := models.SnippetFor(m)
	read := m.Read || m.Type != models.MessageTypeReceived
	if err := p.cfg.Store.UpdateConversationSnippet(c.ID, snippet, m.Timestamp, read); err != nil {
		p.log.WithError(err).WithField("conversation_id", c.ID).Warn("update snippet")
		return
	}
	p.cfg.Events.ConversationChanged(events.ConversationEvent{
		Change:         events.Updated,
		ConversationID: c.ID,
		Snippet:        snippet,
		Title:          c.Title,
		Read:           read,
		Timestamp:      m.Timestamp,
	})
}

func (p *Processor) updateMessage(id int64, change func(*models.Message)) error {
	m, err := p.cfg.Store.GetMessage(id)
	if err != nil {
		return err
	}
	change(m)
	if err := p.cfg.Store.UpdateMessage(m.ID, m.Type, m.Timestamp, m.Read, m.Seen); err != nil {
		return err
	}
	p.messageChanged(events.Updated, m.ConversationID, m.ID, m.Type)
	p.conversationChanged(events.Updated, m.ConversationID)
	return nil
}

// removeMessage deletes a message and points the conversation preview at the newest
// remaining one.
func (p *Processor) removeMessage(id int64) error {
	store := p.cfg.Store
	m, err := store.GetMessage(id)
	if err != nil {
		return err
	}
	if err := store.DeleteMessage(id); err != nil {
		return err
	}
	p.messageChanged(events.Removed, m.ConversationID, m.ID, m.Type)

	latest, err := store.LatestMessage(m.ConversationID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p.conversationChanged(events.Updated, m.ConversationID)
		return nil
	case err != nil:
		return err
	}
	c, err := store.GetConversation(m.ConversationID)
	if err != nil {
		p.conversationChanged(events.Updated, m.ConversationID)
		return nil
	}
	if err := store.UpdateConversationSnippet(c.ID, models.SnippetFor(*latest), latest.Timestamp, c.Read); err != nil {
		return err
	}
	p.conversationChanged(events.Updated, c.ID)
	return nil
}

// forwardToPhone sends a message composed on another device from this device's SIM.
// Only the primary device acts on it.
func (p *Processor) forwardToPhone(ctx context.Context, o ForwardToPhone) error {
	if !p.cfg.Session.Primary() {
		return errSkip
	}
	if p.cfg.Sender == nil {
		return errors.New("no carrier sender configured")
	}
	if o.MimeType != models.MimeTextPlain {
		return fmt.Errorf("%w: forward of %s", errSkip, o.MimeType)
	}

	recipients := models.NormalizePhoneNumbers(o.To)
	if recipients == "" {
		return fmt.Errorf("%w: no usable recipients", ErrMalformed)
	}
	c, err := p.conversationFor(ctx, recipients)
	if err != nil {
		return err
	}

	now := p.cfg.now().UnixMilli()
	m := models.Message{
		ID:             storage.GenerateID(),
		ConversationID: c.ID,
		Type:           models.MessageTypeSent,
		Data:           o.Text,
		MimeType:       o.MimeType,
		Timestamp:      now,
		Read:           true,
		Seen:           true,
		SentDevice:     o.SentDevice,
	}
	if err := p.cfg.Sender.Send(ctx, splitRecipients(recipients), m); err != nil {
		m.Type = models.MessageTypeError
		p.log.WithError(err).WithField("conversation_id", c.ID).Warn("carrier send failed")
	}
	if err := p.cfg.Store.InsertMessage(m); err != nil {
		return err
	}
	p.messageChanged(events.Added, c.ID, m.ID, m.Type)
	p.cfg.Publisher.AddMessage(ctx, m)

	c.Snippet = models.SnippetFor(m)
	c.Timestamp = m.Timestamp
	c.Read = true
	c.Archived = false
	if err := p.cfg.Store.UpdateConversationSnippet(c.ID, c.Snippet, c.Timestamp, true); err != nil {
		return err
	}
	p.cfg.Publisher.UpdateConversationSnippet(c)
	p.conversationChanged(events.Updated, c.ID)
	return nil
}

// conversationFor finds the conversation with exactly these normalized recipients,
// creating and publishing a new one when none exists.
func (p *Processor) conversationFor(ctx context.Context, recipients string) (models.Conversation, error) {
	if id, ok := p.recipients.Get(recipients); ok {
		c, err := p.cfg.Store.GetConversation(id)
		if err == nil {
			return *c, nil
		}
		p.recipients.Remove(recipients)
	}

	found, err := p.cfg.Store.FindConversationByPhoneNumbers(recipients)
	if err == nil {
		p.recipients.Add(recipients, found.ID)
		return *found, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Conversation{}, err
	}

	c := models.Conversation{
		ID:           storage.GenerateID(),
		Title:        recipients,
		PhoneNumbers: recipients,
		Read:         true,
		Timestamp:    p.cfg.now().UnixMilli(),
	}
	if err := p.cfg.Store.InsertConversation(c); err != nil {
		return models.Conversation{}, err
	}
	p.recipients.Add(recipients, c.ID)
	p.cfg.Publisher.AddConversation(ctx, c)
	p.conversationChanged(events.Added, c.ID)
	return c, nil
}

func splitRecipients(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if number := strings.TrimSpace(part); number != "" {
			out = append(out, number)
		}
	}
	return out
}
