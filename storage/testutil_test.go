package storage

import (
	"testing"

	"smsrelay/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testConversation(id int64, phoneNumbers string) models.Conversation {
	return models.Conversation{
		ID:           id,
		Title:        "Conversation " + phoneNumbers,
		PhoneNumbers: phoneNumbers,
		Read:         true,
		Timestamp:    nowUnixMilli(),
	}
}

func testMessage(id, conversationID int64, text string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		Type:           models.MessageTypeReceived,
		Data:           text,
		MimeType:       models.MimeTextPlain,
		Timestamp:      nowUnixMilli(),
		SentDevice:     -1,
	}
}

func mustInsertConversation(t *testing.T, store *Store, id int64, phoneNumbers string) {
	t.Helper()

	if err := store.InsertConversation(testConversation(id, phoneNumbers)); err != nil {
		t.Fatalf("insert conversation %d: %v", id, err)
	}
}

func mustInsertMessage(t *testing.T, store *Store, m models.Message) {
	t.Helper()

	if err := store.InsertMessage(m); err != nil {
		t.Fatalf("insert message %d: %v", m.ID, err)
	}
}
