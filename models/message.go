package models

import "strings"

// MessageType is the lifecycle state of a message.
//
//	(none) -> sending -> {sent | error}
//	(none) -> received
type MessageType int

const (
	MessageTypeReceived  MessageType = 0
	MessageTypeSent      MessageType = 1
	MessageTypeSending   MessageType = 2
	MessageTypeError     MessageType = 3
	MessageTypeDelivered MessageType = 4
	MessageTypeInfo      MessageType = 5
	MessageTypeMedia     MessageType = 6
)

const (
	// MimeTextPlain marks a message whose Data is the message text.
	MimeTextPlain = "text/plain"
	// MediaPlaceholder is carried in Data until the media blob is downloaded.
	MediaPlaceholder = "firebase -1"

	mediaPlaceholderPrefix = "firebase "
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t >= MessageTypeReceived && t <= MessageTypeMedia
}

// Outgoing reports whether the type belongs to the local sender's side of a conversation.
func (t MessageType) Outgoing() bool {
	switch t {
	case MessageTypeSent, MessageTypeSending, MessageTypeError, MessageTypeDelivered:
		return true
	default:
		return false
	}
}

// Message is one SMS/MMS record. Data is text for text/plain, otherwise a local media
// reference or MediaPlaceholder.
type Message struct {
	ID             int64
	ConversationID int64
	Type           MessageType
	Data           string
	MimeType       string
	Timestamp      int64
	Read           bool
	Seen           bool
	From           string
	Color          *int
	SentDevice     int64
	SimPhoneNumber string
}

// IsText reports whether Data holds message text.
func (m Message) IsText() bool {
	return m.MimeType == "" || m.MimeType == MimeTextPlain
}

// NeedsMediaDownload reports whether the media blob has not been fetched yet.
func (m Message) NeedsMediaDownload() bool {
	return !m.IsText() && IsMediaPlaceholder(m.Data)
}

// IsMediaPlaceholder reports whether data is a not-yet-downloaded media marker.
func IsMediaPlaceholder(data string) bool {
	return strings.HasPrefix(data, mediaPlaceholderPrefix)
}
