package models

// Contact is an address-book entry mirrored to the relay.
type Contact struct {
	ID          int64
	PhoneNumber string
	IDMatcher   string
	Name        string
	Type        int
	Colors      ColorSet
}

// Draft is unsent compose text or media for a conversation.
type Draft struct {
	ID             int64
	ConversationID int64
	Data           string
	MimeType       string
}

// Blacklist blocks a phone number or a phrase.
type Blacklist struct {
	ID          int64
	PhoneNumber string
	Phrase      string
}

// ScheduledMessage is sent by the primary device at Timestamp.
type ScheduledMessage struct {
	ID        int64
	To        string
	Data      string
	MimeType  string
	Timestamp int64
	Title     string
	Repeat    int
}

// Template is a canned reply.
type Template struct {
	ID   int64
	Text string
}

// Folder groups conversations.
type Folder struct {
	ID     int64
	Name   string
	Colors ColorSet
}

// AutoReply answers messages matching Pattern with Response.
type AutoReply struct {
	ID       int64
	Type     string
	Pattern  string
	Response string
}

// Setting is one synchronized preference value.
type Setting struct {
	Key   string
	Type  string
	Value string
}

// RetryKind names a relay mutation kept in the outbox.
type RetryKind string

const (
	RetryAddMessage      RetryKind = "add_message"
	RetryAddConversation RetryKind = "add_conversation"
)

// RetryableRequest references an entity whose relay add must be replayed.
type RetryableRequest struct {
	ID             int64
	Kind           RetryKind
	EntityID       int64
	ErrorTimestamp int64
}
