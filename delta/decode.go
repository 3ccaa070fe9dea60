package delta

import (
	"encoding/json"
	"errors"
	"fmt"

	"smsrelay/crypto"
	"smsrelay/models"
	"smsrelay/relay"
)

var (
	// ErrMalformed means a frame payload is missing a required field or is not valid JSON.
	ErrMalformed = errors.New("delta: malformed payload")
	// ErrUnknownOperation means the relay sent an operation name this build does not know.
	ErrUnknownOperation = errors.New("delta: unknown operation")
)

type decoder func(data json.RawMessage, codec *crypto.Codec) (Operation, error)

type idPayload struct {
	ID int64 `json:"id"`
}

type devicePayload struct {
	ID       int64 `json:"id"`
	DeviceID int64 `json:"device_id"`
}

type messageTypePayload struct {
	ID          int64 `json:"id"`
	MessageType int   `json:"message_type"`
}

type messageUpdatePayload struct {
	ID int64 `json:"id"`
	relay.MessageUpdate
}

type timestampPayload struct {
	ConversationID int64 `json:"conversation_id"`
	Timestamp      int64 `json:"timestamp"`
}

type snippetPayload struct {
	ID int64 `json:"id"`
	relay.ConversationSnippet
}

type titlePayload struct {
	ID    int64   `json:"id"`
	Title *string `json:"title"`
}

type archivePayload struct {
	ID      int64 `json:"id"`
	Archive bool  `json:"archive"`
}

type folderPayload struct {
	ID       int64 `json:"id"`
	FolderID int64 `json:"folder_id"`
}

type phonePayload struct {
	PhoneNumber *string `json:"phone_number"`
}

type accountPayload struct {
	RealName    *string `json:"real_name"`
	PhoneNumber *string `json:"phone_number"`
}

type settingPayload struct {
	Pref  string `json:"pref"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type subscriptionPayload struct {
	Type       int   `json:"type"`
	Expiration int64 `json:"expiration"`
}

type primaryPayload struct {
	DeviceID int64 `json:"device_id"`
}

type featureFlagPayload struct {
	ID      string `json:"id"`
	Value   bool   `json:"value"`
	Rollout int    `json:"rollout"`
}

type forwardPayload struct {
	To         *string `json:"to"`
	Message    *string `json:"message"`
	MimeType   string  `json:"mime_type"`
	SentDevice int64   `json:"sent_device"`
}

var decoders = map[string]decoder{
	OpRemovedAccount: func(json.RawMessage, *crypto.Codec) (Operation, error) { return RemovedAccount{}, nil },
	OpUpdatedAccount: decodeUpdatedAccount,
	OpCleanedAccount: func(json.RawMessage, *crypto.Codec) (Operation, error) { return CleanedAccount{}, nil },

	OpAddedMessage: decodeAddedMessage,
	OpUpdateMessageType: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[messageTypePayload](data, func(p messageTypePayload) int64 { return p.ID }, "message_type")
		if err != nil {
			return nil, err
		}
		t := models.MessageType(p.MessageType)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: message type %d", ErrMalformed, p.MessageType)
		}
		return UpdateMessageType{ID: p.ID, Type: t}, nil
	},
	OpUpdatedMessage: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[messageUpdatePayload](data, func(p messageUpdatePayload) int64 { return p.ID },
			"type", "timestamp", "read", "seen")
		if err != nil {
			return nil, err
		}
		t := models.MessageType(p.MessageType)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: message type %d", ErrMalformed, p.MessageType)
		}
		return UpdatedMessage{ID: p.ID, Type: t, Timestamp: p.Timestamp, Read: p.Read, Seen: p.Seen}, nil
	},
	OpRemovedMessage: removeByID(func(id int64) Operation { return RemovedMessage{ID: id} }),
	OpCleanupMessages: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parse[timestampPayload](data)
		if err != nil {
			return nil, err
		}
		if p.Timestamp <= 0 {
			return nil, fmt.Errorf("%w: missing timestamp", ErrMalformed)
		}
		return CleanupMessages{Timestamp: p.Timestamp}, nil
	},
	OpCleanupConversationMessages: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[timestampPayload](data, func(p timestampPayload) int64 { return p.ConversationID }, "timestamp")
		if err != nil {
			return nil, err
		}
		return CleanupConversationMessages{ConversationID: p.ConversationID, Timestamp: p.Timestamp}, nil
	},

	OpAddedContact: record(relay.DecodeContact, func(b relay.ContactBody) int64 { return b.DeviceID },
		func(c models.Contact) Operation { return AddedContact{Contact: c} }),
	OpUpdatedContact: func(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
		p, err := parse[relay.ContactUpdate](data, "phone_number", "name")
		if err != nil {
			return nil, err
		}
		phone, err := decrypt(codec, p.PhoneNumber)
		if err != nil {
			return nil, err
		}
		name, err := decrypt(codec, p.Name)
		if err != nil {
			return nil, err
		}
		if phone == "" {
			return nil, fmt.Errorf("%w: missing phone number", ErrMalformed)
		}
		return UpdatedContact{
			PhoneNumber: phone,
			ContactName: name,
			Colors: models.ColorSet{
				Color:       p.Color,
				ColorDark:   p.ColorDark,
				ColorLight:  p.ColorLight,
				ColorAccent: p.ColorAccent,
			},
		}, nil
	},
	OpRemovedContact: func(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
		p, err := parse[phonePayload](data)
		if err != nil {
			return nil, err
		}
		phone, err := decrypt(codec, p.PhoneNumber)
		if err != nil {
			return nil, err
		}
		if phone == "" {
			return nil, fmt.Errorf("%w: missing phone number", ErrMalformed)
		}
		return RemovedContact{PhoneNumber: phone}, nil
	},
	OpRemovedContactByID: removeByID(func(id int64) Operation { return RemovedContactByID{ID: id} }),

	OpAddedConversation: record(relay.DecodeConversation, func(b relay.ConversationBody) int64 { return b.DeviceID },
		func(c models.Conversation) Operation { return AddedConversation{Conversation: c} }),
	OpUpdateConversationSnippet: func(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
		p, err := parseID[snippetPayload](data, func(p snippetPayload) int64 { return p.ID }, "snippet", "timestamp")
		if err != nil {
			return nil, err
		}
		snippet, err := decrypt(codec, p.Snippet)
		if err != nil {
			return nil, err
		}
		return UpdateConversationSnippet{ID: p.ID, Snippet: snippet, Timestamp: p.Timestamp, Read: p.Read, Archive: p.Archive}, nil
	},
	OpUpdateConversationTitle: func(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
		p, err := parseID[titlePayload](data, func(p titlePayload) int64 { return p.ID }, "title")
		if err != nil {
			return nil, err
		}
		title, err := decrypt(codec, p.Title)
		if err != nil {
			return nil, err
		}
		return UpdateConversationTitle{ID: p.ID, Title: title}, nil
	},
	OpUpdatedConversation: record(relay.DecodeConversation, func(b relay.ConversationBody) int64 { return b.DeviceID },
		func(c models.Conversation) Operation { return UpdatedConversation{Conversation: c} }),
	OpRemovedConversation: removeByID(func(id int64) Operation { return RemovedConversation{ID: id} }),
	OpReadConversation: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[devicePayload](data, func(p devicePayload) int64 { return p.ID })
		if err != nil {
			return nil, err
		}
		return ReadConversation{ID: p.ID, DeviceID: p.DeviceID}, nil
	},
	OpSeenConversation: removeByID(func(id int64) Operation { return SeenConversation{ID: id} }),
	OpArchiveConversation: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[archivePayload](data, func(p archivePayload) int64 { return p.ID }, "archive")
		if err != nil {
			return nil, err
		}
		return ArchiveConversation{ID: p.ID, Archive: p.Archive}, nil
	},
	OpSeenConversations: func(json.RawMessage, *crypto.Codec) (Operation, error) { return SeenConversations{}, nil },

	OpAddedDraft: record(relay.DecodeDraft, func(b relay.DraftBody) int64 { return b.DeviceConversationID },
		func(d models.Draft) Operation { return AddedDraft{Draft: d} }),
	OpReplacedDrafts: record(relay.DecodeDraft, func(b relay.DraftBody) int64 { return b.DeviceConversationID },
		func(d models.Draft) Operation { return ReplacedDrafts{Draft: d} }),
	OpRemovedDrafts: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[devicePayload](data, func(p devicePayload) int64 { return p.ID })
		if err != nil {
			return nil, err
		}
		return RemovedDrafts{ConversationID: p.ID, DeviceID: p.DeviceID}, nil
	},

	OpAddedBlacklist: record(relay.DecodeBlacklist, func(b relay.BlacklistBody) int64 { return b.DeviceID },
		func(b models.Blacklist) Operation { return AddedBlacklist{Blacklist: b} }),
	OpRemovedBlacklist: removeByID(func(id int64) Operation { return RemovedBlacklist{ID: id} }),

	OpAddedScheduledMessage: record(relay.DecodeScheduledMessage, func(b relay.ScheduledMessageBody) int64 { return b.DeviceID },
		func(m models.ScheduledMessage) Operation { return AddedScheduledMessage{ScheduledMessage: m} }),
	OpUpdatedScheduledMessage: record(relay.DecodeScheduledMessage, func(b relay.ScheduledMessageBody) int64 { return b.DeviceID },
		func(m models.ScheduledMessage) Operation { return UpdatedScheduledMessage{ScheduledMessage: m} }),
	OpRemovedScheduledMessage: removeByID(func(id int64) Operation { return RemovedScheduledMessage{ID: id} }),

	OpAddedTemplate: record(relay.DecodeTemplate, func(b relay.TemplateBody) int64 { return b.DeviceID },
		func(t models.Template) Operation { return AddedTemplate{Template: t} }),
	OpUpdatedTemplate: record(relay.DecodeTemplate, func(b relay.TemplateBody) int64 { return b.DeviceID },
		func(t models.Template) Operation { return UpdatedTemplate{Template: t} }),
	OpRemovedTemplate: removeByID(func(id int64) Operation { return RemovedTemplate{ID: id} }),

	OpAddedAutoReply: record(relay.DecodeAutoReply, func(b relay.AutoReplyBody) int64 { return b.DeviceID },
		func(r models.AutoReply) Operation { return AddedAutoReply{AutoReply: r} }),
	OpUpdatedAutoReply: record(relay.DecodeAutoReply, func(b relay.AutoReplyBody) int64 { return b.DeviceID },
		func(r models.AutoReply) Operation { return UpdatedAutoReply{AutoReply: r} }),
	OpRemovedAutoReply: removeByID(func(id int64) Operation { return RemovedAutoReply{ID: id} }),

	OpAddedFolder: record(relay.DecodeFolder, func(b relay.FolderBody) int64 { return b.DeviceID },
		func(f models.Folder) Operation { return AddedFolder{Folder: f} }),
	OpAddConversationToFolder: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[folderPayload](data, func(p folderPayload) int64 { return p.ID })
		if err != nil {
			return nil, err
		}
		if p.FolderID <= 0 {
			return nil, fmt.Errorf("%w: missing folder id", ErrMalformed)
		}
		return AddConversationToFolder{ConversationID: p.ID, FolderID: p.FolderID}, nil
	},
	OpRemoveConversationFromFolder: removeByID(func(id int64) Operation { return RemoveConversationFromFolder{ConversationID: id} }),
	OpUpdatedFolder: record(relay.DecodeFolder, func(b relay.FolderBody) int64 { return b.DeviceID },
		func(f models.Folder) Operation { return UpdatedFolder{Folder: f} }),
	OpRemovedFolder: removeByID(func(id int64) Operation { return RemovedFolder{ID: id} }),

	OpUpdateSetting: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parse[settingPayload](data, "pref", "value")
		if err != nil {
			return nil, err
		}
		if p.Pref == "" {
			return nil, fmt.Errorf("%w: missing pref", ErrMalformed)
		}
		return UpdateSetting{Setting: models.Setting{Key: p.Pref, Type: p.Type, Value: p.Value}}, nil
	},
	OpDismissedNotification: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[devicePayload](data, func(p devicePayload) int64 { return p.ID })
		if err != nil {
			return nil, err
		}
		return DismissedNotification{ConversationID: p.ID, DeviceID: p.DeviceID}, nil
	},
	OpUpdateSubscription: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parse[subscriptionPayload](data, "type")
		if err != nil {
			return nil, err
		}
		return UpdateSubscription{Type: p.Type, Expiration: p.Expiration}, nil
	},
	OpUpdatePrimaryDevice: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[primaryPayload](data, func(p primaryPayload) int64 { return p.DeviceID })
		if err != nil {
			return nil, err
		}
		return UpdatePrimaryDevice{DeviceID: p.DeviceID}, nil
	},
	OpFeatureFlag: func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parse[featureFlagPayload](data, "id", "value")
		if err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: missing flag id", ErrMalformed)
		}
		return FeatureFlag{Identifier: p.ID, Value: p.Value, Rollout: p.Rollout}, nil
	},
	OpForwardToPhone: decodeForwardToPhone,
}

// Decode turns one relay frame into a typed operation, decrypting its fields.
func Decode(frame relay.Frame, codec *crypto.Codec) (Operation, error) {
	decode, ok := decoders[frame.Operation]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, frame.Operation)
	}
	data, err := frame.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decode(data, codec)
}

// parse decodes data into T. Every name in required must be present and non-null,
// so an absent field is never applied as its zero value.
func parse[T any](data json.RawMessage, required ...string) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(required) == 0 {
		return v, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, name := range required {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			return v, fmt.Errorf("%w: missing %s", ErrMalformed, name)
		}
	}
	return v, nil
}

func parseID[T any](data json.RawMessage, id func(T) int64, required ...string) (T, error) {
	v, err := parse[T](data, required...)
	if err != nil {
		return v, err
	}
	if id(v) <= 0 {
		return v, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	return v, nil
}

func removeByID(build func(id int64) Operation) decoder {
	return func(data json.RawMessage, _ *crypto.Codec) (Operation, error) {
		p, err := parseID[idPayload](data, func(p idPayload) int64 { return p.ID })
		if err != nil {
			return nil, err
		}
		return build(p.ID), nil
	}
}

// record decodes a whole encrypted record in its wire form.
func record[B, T any](decode func(*crypto.Codec, B) (T, error), id func(B) int64, build func(T) Operation) decoder {
	return func(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
		body, err := parseID[B](data, id)
		if err != nil {
			return nil, err
		}
		item, err := decode(codec, body)
		if err != nil {
			return nil, err
		}
		return build(item), nil
	}
}

func decrypt(codec *crypto.Codec, ciphertext *string) (string, error) {
	plaintext, err := codec.Decrypt(ciphertext)
	if err != nil || plaintext == nil {
		return "", err
	}
	return *plaintext, nil
}

func decodeAddedMessage(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
	body, err := parseID[relay.MessageBody](data, func(b relay.MessageBody) int64 { return b.DeviceID })
	if err != nil {
		return nil, err
	}
	if body.DeviceConversationID <= 0 {
		return nil, fmt.Errorf("%w: missing conversation id", ErrMalformed)
	}
	return AddedMessage{Message: relay.DecodeMessage(codec, body)}, nil
}

func decodeUpdatedAccount(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
	p, err := parse[accountPayload](data)
	if err != nil {
		return nil, err
	}
	name, err := decrypt(codec, p.RealName)
	if err != nil {
		return nil, err
	}
	phone, err := decrypt(codec, p.PhoneNumber)
	if err != nil {
		return nil, err
	}
	return UpdatedAccount{RealName: name, PhoneNumber: phone}, nil
}

func decodeForwardToPhone(data json.RawMessage, codec *crypto.Codec) (Operation, error) {
	p, err := parse[forwardPayload](data, "to", "message")
	if err != nil {
		return nil, err
	}
	to, err := decrypt(codec, p.To)
	if err != nil {
		return nil, err
	}
	text, err := decrypt(codec, p.Message)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return nil, fmt.Errorf("%w: missing recipients", ErrMalformed)
	}
	mimeType := p.MimeType
	if mimeType == "" {
		mimeType = models.MimeTextPlain
	}
	return ForwardToPhone{To: to, Text: text, MimeType: mimeType, SentDevice: p.SentDevice}, nil
}
