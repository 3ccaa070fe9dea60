package relay

import (
	"fmt"

	"smsrelay/crypto"
	"smsrelay/models"
)

// DecryptErrorText replaces a message body that could not be decrypted.
const DecryptErrorText = "Error decrypting message"

func seal(codec *crypto.Codec, plaintext string) (*string, error) {
	return codec.Encrypt(&plaintext)
}

func sealAll(codec *crypto.Codec, fields map[**string]string) error {
	for dst, plaintext := range fields {
		sealed, err := seal(codec, plaintext)
		if err != nil {
			return err
		}
		*dst = sealed
	}
	return nil
}

func open(codec *crypto.Codec, ciphertext *string) (string, error) {
	plaintext, err := codec.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	if plaintext == nil {
		return "", nil
	}
	return *plaintext, nil
}

func openAll(codec *crypto.Codec, fields map[*string]*string) error {
	for dst, ciphertext := range fields {
		plaintext, err := open(codec, ciphertext)
		if err != nil {
			return err
		}
		*dst = plaintext
	}
	return nil
}

// EncodeMessage builds the encrypted wire form of a message.
func EncodeMessage(codec *crypto.Codec, m models.Message) (MessageBody, error) {
	body := MessageBody{
		DeviceID:             m.ID,
		DeviceConversationID: m.ConversationID,
		MessageType:          int(m.Type),
		Timestamp:            m.Timestamp,
		Read:                 m.Read,
		Seen:                 m.Seen,
		Color:                m.Color,
		SentDevice:           m.SentDevice,
	}
	mimeType := m.MimeType
	if mimeType == "" {
		mimeType = models.MimeTextPlain
	}
	err := sealAll(codec, map[**string]string{
		&body.Data:        m.Data,
		&body.MimeType:    mimeType,
		&body.MessageFrom: m.From,
	})
	if err != nil {
		return MessageBody{}, fmt.Errorf("encrypt message %d: %w", m.ID, err)
	}
	if m.SimPhoneNumber != "" {
		if body.SimStamp, err = seal(codec, m.SimPhoneNumber); err != nil {
			return MessageBody{}, fmt.Errorf("encrypt message %d: %w", m.ID, err)
		}
	}
	return body, nil
}

// DecodeMessage decrypts a wire message. A body that cannot be decrypted is replaced
// with DecryptErrorText as plain text; the message itself is kept.
func DecodeMessage(codec *crypto.Codec, body MessageBody) models.Message {
	m := models.Message{
		ID:             body.DeviceID,
		ConversationID: body.DeviceConversationID,
		Type:           models.MessageType(body.MessageType),
		Timestamp:      body.Timestamp,
		Read:           body.Read,
		Seen:           body.Seen,
		Color:          body.Color,
		SentDevice:     body.SentDevice,
	}

	data, dataErr := open(codec, body.Data)
	mimeType, mimeErr := open(codec, body.MimeType)
	if dataErr != nil || mimeErr != nil {
		m.Data = DecryptErrorText
		m.MimeType = models.MimeTextPlain
	} else {
		m.Data = data
		m.MimeType = mimeType
		if m.MimeType == "" {
			m.MimeType = models.MimeTextPlain
		}
	}
	if from, err := open(codec, body.MessageFrom); err == nil {
		m.From = from
	}
	if sim, err := open(codec, body.SimStamp); err == nil {
		m.SimPhoneNumber = sim
	}
	if !m.Type.Valid() {
		m.Type = models.MessageTypeReceived
	}
	return m
}

// EncodeConversation builds the encrypted wire form of a conversation.
func EncodeConversation(codec *crypto.Codec, c models.Conversation) (ConversationBody, error) {
	body := ConversationBody{
		DeviceID:             c.ID,
		FolderID:             c.FolderID,
		Color:                c.Colors.Color,
		ColorDark:            c.Colors.ColorDark,
		ColorLight:           c.Colors.ColorLight,
		ColorAccent:          c.Colors.ColorAccent,
		LedColor:             c.Colors.LedColor,
		Pinned:               c.Pinned,
		Read:                 c.Read,
		Timestamp:            c.Timestamp,
		Mute:                 c.Mute,
		Archive:              c.Archived,
		PrivateNotifications: c.Private,
	}
	err := sealAll(codec, map[**string]string{
		&body.Title:        c.Title,
		&body.PhoneNumbers: c.PhoneNumbers,
		&body.Snippet:      c.Snippet,
		&body.Ringtone:     c.Ringtone,
		&body.ImageURI:     c.ImageURI,
		&body.IDMatcher:    c.IDMatcher,
	})
	if err != nil {
		return ConversationBody{}, fmt.Errorf("encrypt conversation %d: %w", c.ID, err)
	}
	return body, nil
}

// DecodeConversation decrypts a wire conversation.
func DecodeConversation(codec *crypto.Codec, body ConversationBody) (models.Conversation, error) {
	c := models.Conversation{
		ID:       body.DeviceID,
		FolderID: body.FolderID,
		Colors: models.ColorSet{
			Color:       body.Color,
			ColorDark:   body.ColorDark,
			ColorLight:  body.ColorLight,
			ColorAccent: body.ColorAccent,
			LedColor:    body.LedColor,
		},
		Pinned:    body.Pinned,
		Read:      body.Read,
		Timestamp: body.Timestamp,
		Mute:      body.Mute,
		Archived:  body.Archive,
		Private:   body.PrivateNotifications,
	}
	err := openAll(codec, map[*string]*string{
		&c.Title:        body.Title,
		&c.PhoneNumbers: body.PhoneNumbers,
		&c.Snippet:      body.Snippet,
		&c.Ringtone:     body.Ringtone,
		&c.ImageURI:     body.ImageURI,
		&c.IDMatcher:    body.IDMatcher,
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("decrypt conversation %d: %w", body.DeviceID, err)
	}
	return c, nil
}

// EncodeContact builds the encrypted wire form of a contact.
func EncodeContact(codec *crypto.Codec, c models.Contact) (ContactBody, error) {
	body := ContactBody{
		DeviceID:    c.ID,
		ContactType: c.Type,
		Color:       c.Colors.Color,
		ColorDark:   c.Colors.ColorDark,
		ColorLight:  c.Colors.ColorLight,
		ColorAccent: c.Colors.ColorAccent,
	}
	err := sealAll(codec, map[**string]string{
		&body.PhoneNumber: c.PhoneNumber,
		&body.IDMatcher:   c.IDMatcher,
		&body.Name:        c.Name,
	})
	if err != nil {
		return ContactBody{}, fmt.Errorf("encrypt contact %d: %w", c.ID, err)
	}
	return body, nil
}

// DecodeContact decrypts a wire contact.
func DecodeContact(codec *crypto.Codec, body ContactBody) (models.Contact, error) {
	c := models.Contact{
		ID:   body.DeviceID,
		Type: body.ContactType,
		Colors: models.ColorSet{
			Color:       body.Color,
			ColorDark:   body.ColorDark,
			ColorLight:  body.ColorLight,
			ColorAccent: body.ColorAccent,
		},
	}
	err := openAll(codec, map[*string]*string{
		&c.PhoneNumber: body.PhoneNumber,
		&c.IDMatcher:   body.IDMatcher,
		&c.Name:        body.Name,
	})
	if err != nil {
		return models.Contact{}, fmt.Errorf("decrypt contact %d: %w", body.DeviceID, err)
	}
	return c, nil
}

// EncodeDraft builds the encrypted wire form of a draft.
func EncodeDraft(codec *crypto.Codec, d models.Draft) (DraftBody, error) {
	body := DraftBody{DeviceID: d.ID, DeviceConversationID: d.ConversationID}
	err := sealAll(codec, map[**string]string{
		&body.Data:     d.Data,
		&body.MimeType: d.MimeType,
	})
	if err != nil {
		return DraftBody{}, fmt.Errorf("encrypt draft %d: %w", d.ID, err)
	}
	return body, nil
}

// DecodeDraft decrypts a wire draft.
func DecodeDraft(codec *crypto.Codec, body DraftBody) (models.Draft, error) {
	d := models.Draft{ID: body.DeviceID, ConversationID: body.DeviceConversationID}
	err := openAll(codec, map[*string]*string{
		&d.Data:     body.Data,
		&d.MimeType: body.MimeType,
	})
	if err != nil {
		return models.Draft{}, fmt.Errorf("decrypt draft %d: %w", body.DeviceID, err)
	}
	return d, nil
}

// EncodeBlacklist builds the encrypted wire form of a blacklist entry.
func EncodeBlacklist(codec *crypto.Codec, b models.Blacklist) (BlacklistBody, error) {
	body := BlacklistBody{DeviceID: b.ID}
	err := sealAll(codec, map[**string]string{
		&body.PhoneNumber: b.PhoneNumber,
		&body.Phrase:      b.Phrase,
	})
	if err != nil {
		return BlacklistBody{}, fmt.Errorf("encrypt blacklist %d: %w", b.ID, err)
	}
	return body, nil
}

// DecodeBlacklist decrypts a wire blacklist entry.
func DecodeBlacklist(codec *crypto.Codec, body BlacklistBody) (models.Blacklist, error) {
	b := models.Blacklist{ID: body.DeviceID}
	err := openAll(codec, map[*string]*string{
		&b.PhoneNumber: body.PhoneNumber,
		&b.Phrase:      body.Phrase,
	})
	if err != nil {
		return models.Blacklist{}, fmt.Errorf("decrypt blacklist %d: %w", body.DeviceID, err)
	}
	return b, nil
}

// EncodeScheduledMessage builds the encrypted wire form of a scheduled message.
func EncodeScheduledMessage(codec *crypto.Codec, m models.ScheduledMessage) (ScheduledMessageBody, error) {
	body := ScheduledMessageBody{DeviceID: m.ID, Timestamp: m.Timestamp, Repeat: m.Repeat}
	err := sealAll(codec, map[**string]string{
		&body.To:       m.To,
		&body.Data:     m.Data,
		&body.MimeType: m.MimeType,
		&body.Title:    m.Title,
	})
	if err != nil {
		return ScheduledMessageBody{}, fmt.Errorf("encrypt scheduled message %d: %w", m.ID, err)
	}
	return body, nil
}

// DecodeScheduledMessage decrypts a wire scheduled message.
func DecodeScheduledMessage(codec *crypto.Codec, body ScheduledMessageBody) (models.ScheduledMessage, error) {
	m := models.ScheduledMessage{ID: body.DeviceID, Timestamp: body.Timestamp, Repeat: body.Repeat}
	err := openAll(codec, map[*string]*string{
		&m.To:       body.To,
		&m.Data:     body.Data,
		&m.MimeType: body.MimeType,
		&m.Title:    body.Title,
	})
	if err != nil {
		return models.ScheduledMessage{}, fmt.Errorf("decrypt scheduled message %d: %w", body.DeviceID, err)
	}
	return m, nil
}

// EncodeTemplate builds the encrypted wire form of a template.
func EncodeTemplate(codec *crypto.Codec, t models.Template) (TemplateBody, error) {
	text, err := seal(codec, t.Text)
	if err != nil {
		return TemplateBody{}, fmt.Errorf("encrypt template %d: %w", t.ID, err)
	}
	return TemplateBody{DeviceID: t.ID, Text: text}, nil
}

// DecodeTemplate decrypts a wire template.
func DecodeTemplate(codec *crypto.Codec, body TemplateBody) (models.Template, error) {
	text, err := open(codec, body.Text)
	if err != nil {
		return models.Template{}, fmt.Errorf("decrypt template %d: %w", body.DeviceID, err)
	}
	return models.Template{ID: body.DeviceID, Text: text}, nil
}

// EncodeFolder builds the encrypted wire form of a folder.
func EncodeFolder(codec *crypto.Codec, f models.Folder) (FolderBody, error) {
	name, err := seal(codec, f.Name)
	if err != nil {
		return FolderBody{}, fmt.Errorf("encrypt folder %d: %w", f.ID, err)
	}
	return FolderBody{
		DeviceID:    f.ID,
		Name:        name,
		Color:       f.Colors.Color,
		ColorDark:   f.Colors.ColorDark,
		ColorLight:  f.Colors.ColorLight,
		ColorAccent: f.Colors.ColorAccent,
	}, nil
}

// DecodeFolder decrypts a wire folder.
func DecodeFolder(codec *crypto.Codec, body FolderBody) (models.Folder, error) {
	name, err := open(codec, body.Name)
	if err != nil {
		return models.Folder{}, fmt.Errorf("decrypt folder %d: %w", body.DeviceID, err)
	}
	return models.Folder{
		ID:   body.DeviceID,
		Name: name,
		Colors: models.ColorSet{
			Color:       body.Color,
			ColorDark:   body.ColorDark,
			ColorLight:  body.ColorLight,
			ColorAccent: body.ColorAccent,
		},
	}, nil
}

// EncodeAutoReply builds the encrypted wire form of an auto reply.
func EncodeAutoReply(codec *crypto.Codec, r models.AutoReply) (AutoReplyBody, error) {
	body := AutoReplyBody{DeviceID: r.ID, ReplyType: r.Type}
	err := sealAll(codec, map[**string]string{
		&body.Pattern:  r.Pattern,
		&body.Response: r.Response,
	})
	if err != nil {
		return AutoReplyBody{}, fmt.Errorf("encrypt auto reply %d: %w", r.ID, err)
	}
	return body, nil
}

// DecodeAutoReply decrypts a wire auto reply.
func DecodeAutoReply(codec *crypto.Codec, body AutoReplyBody) (models.AutoReply, error) {
	r := models.AutoReply{ID: body.DeviceID, Type: body.ReplyType}
	err := openAll(codec, map[*string]*string{
		&r.Pattern:  body.Pattern,
		&r.Response: body.Response,
	})
	if err != nil {
		return models.AutoReply{}, fmt.Errorf("decrypt auto reply %d: %w", body.DeviceID, err)
	}
	return r, nil
}
