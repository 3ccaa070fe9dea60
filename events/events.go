package events

import (
	"sync/atomic"

	"smsrelay/models"
)

// DefaultBuffer is the per-channel queue depth.
const DefaultBuffer = 256

// Change names the kind of structural change.
type Change string

const (
	Added   Change = "added"
	Updated Change = "updated"
	Removed Change = "removed"
)

// MessageEvent patches the active message list of one conversation. A zero
// ConversationID means every conversation changed.
type MessageEvent struct {
	Change         Change
	ConversationID int64
	MessageID      int64
	Type           models.MessageType
}

// ConversationEvent patches the conversation list. A zero ConversationID asks the
// view to reload.
type ConversationEvent struct {
	Change         Change
	ConversationID int64
	Snippet        string
	Title          string
	Read           bool
	Timestamp      int64
}

// Bus carries the two local update channels. Emits never block the sync engine; when a
// listener falls behind, events are dropped and counted.
type Bus struct {
	messages      chan MessageEvent
	conversations chan ConversationEvent
	dropped       atomic.Int64
}

// NewBus creates a bus with buffer slots per channel.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		messages:      make(chan MessageEvent, buffer),
		conversations: make(chan ConversationEvent, buffer),
	}
}

// Messages returns the message-list-changed channel.
func (b *Bus) Messages() <-chan MessageEvent {
	return b.messages
}

// Conversations returns the conversation-list-changed channel.
func (b *Bus) Conversations() <-chan ConversationEvent {
	return b.conversations
}

// Dropped returns how many events were discarded because a channel was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) MessageChanged(event MessageEvent) {
	if b == nil {
		return
	}
	select {
	case b.messages <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) ConversationChanged(event ConversationEvent) {
	if b == nil {
		return
	}
	select {
	case b.conversations <- event:
	default:
		b.dropped.Add(1)
	}
}
