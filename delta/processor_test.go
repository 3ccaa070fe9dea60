package delta

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"smsrelay/crypto"
	"smsrelay/events"
	"smsrelay/models"
	"smsrelay/relay"
	"smsrelay/storage"
)

const selfDevice = 7

var fixedNow = time.UnixMilli(1_700_000_000_000)

type fakeSession struct {
	codec       *crypto.Codec
	primary     bool
	invalidated error
}

func (s *fakeSession) Codec() (*crypto.Codec, error) { return s.codec, nil }
func (s *fakeSession) DeviceID() int64               { return selfDevice }
func (s *fakeSession) Primary() bool                 { return s.primary }
func (s *fakeSession) Invalidate(reason error)       { s.invalidated = reason }

func (s *fakeSession) SetPrimary(primary bool) error {
	s.primary = primary
	return nil
}

type fakePublisher struct {
	messages      []models.Message
	conversations []models.Conversation
	types         map[int64]models.MessageType
	snippets      []models.Conversation
}

func (f *fakePublisher) AddMessage(_ context.Context, m models.Message) relay.Status {
	f.messages = append(f.messages, m)
	return relay.StatusOK
}

func (f *fakePublisher) AddConversation(_ context.Context, c models.Conversation) relay.Status {
	f.conversations = append(f.conversations, c)
	return relay.StatusOK
}

func (f *fakePublisher) UpdateMessageType(id int64, messageType models.MessageType) {
	f.types[id] = messageType
}

func (f *fakePublisher) UpdateConversationSnippet(c models.Conversation) {
	f.snippets = append(f.snippets, c)
}

type fakeFetcher struct {
	bodies map[int64]relay.ConversationBody
	calls  int
}

func (f *fakeFetcher) GetConversation(_ context.Context, id int64) (relay.ConversationBody, relay.Status) {
	f.calls++
	body, ok := f.bodies[id]
	if !ok {
		return relay.ConversationBody{}, relay.StatusNotFound
	}
	return body, relay.StatusOK
}

type sentCall struct {
	recipients []string
	message    models.Message
}

type fakeSender struct {
	calls []sentCall
	err   error
}

func (f *fakeSender) Send(_ context.Context, recipients []string, m models.Message) error {
	f.calls = append(f.calls, sentCall{recipients: recipients, message: m})
	return f.err
}

type fakeMedia struct {
	ref   string
	err   error
	block bool
	calls int
}

func (f *fakeMedia) Download(ctx context.Context, m models.Message) (models.Message, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return m, ctx.Err()
	}
	if f.err != nil {
		return m, f.err
	}
	m.Data = f.ref
	return m, nil
}

type fixture struct {
	processor *Processor
	store     *storage.Store
	session   *fakeSession
	publisher *fakePublisher
	fetcher   *fakeFetcher
	sender    *fakeSender
	media     *fakeMedia
	bus       *events.Bus
	codec     *crypto.Codec
}

func newFixture(t *testing.T, primary bool) *fixture {
	t.Helper()

	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "delta.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	codec, err := crypto.NewCodecFromCredentials("acct", "hash", "salt")
	if err != nil {
		t.Fatalf("NewCodecFromCredentials failed: %v", err)
	}

	f := &fixture{
		store:     store,
		session:   &fakeSession{codec: codec, primary: primary},
		publisher: &fakePublisher{types: make(map[int64]models.MessageType)},
		fetcher:   &fakeFetcher{bodies: make(map[int64]relay.ConversationBody)},
		sender:    &fakeSender{},
		media:     &fakeMedia{ref: "file:///media/1.jpg"},
		bus:       events.NewBus(128),
		codec:     codec,
	}
	f.processor, err = NewProcessor(Config{
		Store:     store,
		Session:   f.session,
		Publisher: f.publisher,
		Fetcher:   f.fetcher,
		Sender:    f.sender,
		Media:     f.media,
		Events:    f.bus,
		now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	return f
}

func (f *fixture) conversation(t *testing.T, id int64, phoneNumbers string) {
	t.Helper()
	err := f.store.InsertConversation(models.Conversation{
		ID:           id,
		Title:        "Conversation",
		PhoneNumbers: phoneNumbers,
		Read:         true,
		Timestamp:    1000,
	})
	if err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}
}

func (f *fixture) apply(t *testing.T, op Operation) {
	t.Helper()
	if err := f.processor.Apply(context.Background(), op); err != nil {
		t.Fatalf("Apply(%s) failed: %v", op.Name(), err)
	}
}

func (f *fixture) message(t *testing.T, id int64) models.Message {
	t.Helper()
	m, err := f.store.GetMessage(id)
	if err != nil {
		t.Fatalf("GetMessage(%d) failed: %v", id, err)
	}
	return *m
}

func drainConversationEvents(bus *events.Bus) []events.ConversationEvent {
	var out []events.ConversationEvent
	for {
		select {
		case e := <-bus.Conversations():
			out = append(out, e)
		default:
			return out
		}
	}
}

func drainMessageEvents(bus *events.Bus) []events.MessageEvent {
	var out []events.MessageEvent
	for {
		select {
		case e := <-bus.Messages():
			out = append(out, e)
		default:
			return out
		}
	}
}

func textMessage(id, conversationID int64, messageType models.MessageType, sentDevice int64) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		Type:           messageType,
		Data:           "hello",
		MimeType:       models.MimeTextPlain,
		Timestamp:      fixedNow.UnixMilli() - 1000,
		SentDevice:     sentDevice,
	}
}

func TestAddedMessageIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	op := AddedMessage{Message: textMessage(10, 1, models.MessageTypeReceived, 9)}
	f.apply(t, op)
	f.apply(t, op)

	count, err := f.store.CountMessages()
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one message row, got %d", count)
	}
	if got := len(drainMessageEvents(f.bus)); got != 1 {
		t.Fatalf("expected one message event, got %d", got)
	}
}

func TestReceivedMessageMarksConversationUnread(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeReceived, 9)})

	c, err := f.store.GetConversation(1)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if c.Read {
		t.Fatal("expected conversation to be unread after a received message")
	}
	if c.Snippet != "hello" {
		t.Fatalf("unexpected snippet %q", c.Snippet)
	}
	select {
	case e := <-f.bus.Conversations():
		if e.ConversationID != 1 || e.Snippet != "hello" || e.Read {
			t.Fatalf("unexpected conversation event: %+v", e)
		}
	default:
		t.Fatal("expected a conversation event")
	}
}

func TestPrimarySendsMessageFromOtherDevice(t *testing.T) {
	f := newFixture(t, true)
	f.conversation(t, 1, "+15550100, +15550101")

	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeSending, 9)})

	if len(f.sender.calls) != 1 {
		t.Fatalf("expected one carrier send, got %d", len(f.sender.calls))
	}
	call := f.sender.calls[0]
	if len(call.recipients) != 2 || call.recipients[0] != "+15550100" || call.recipients[1] != "+15550101" {
		t.Fatalf("unexpected recipients: %v", call.recipients)
	}
	if got := f.message(t, 10).Type; got != models.MessageTypeSent {
		t.Fatalf("expected stored type sent, got %d", got)
	}
	if got := f.publisher.types[10]; got != models.MessageTypeSent {
		t.Fatalf("expected sent type mirrored, got %d", got)
	}
}

func TestOwnSendingMessageIsNotResent(t *testing.T) {
	f := newFixture(t, true)
	f.conversation(t, 1, "+15550100")

	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeSending, selfDevice)})

	if len(f.sender.calls) != 0 {
		t.Fatalf("expected no carrier send for own message, got %d", len(f.sender.calls))
	}
}

func TestSecondaryDoesNotSend(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeSending, 9)})

	if len(f.sender.calls) != 0 {
		t.Fatalf("expected secondary device not to send, got %d", len(f.sender.calls))
	}
	if got := f.message(t, 10).Type; got != models.MessageTypeSending {
		t.Fatalf("expected message to stay sending, got %d", got)
	}
}

func TestFailedSendMarksError(t *testing.T) {
	f := newFixture(t, true)
	f.conversation(t, 1, "+15550100")
	f.sender.err = errors.New("radio off")

	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeSending, 9)})

	if got := f.message(t, 10).Type; got != models.MessageTypeError {
		t.Fatalf("expected stored type error, got %d", got)
	}
	if got := f.publisher.types[10]; got != models.MessageTypeError {
		t.Fatalf("expected error type mirrored, got %d", got)
	}
}

func TestSendingTimestampIsCorrected(t *testing.T) {
	now := fixedNow.UnixMilli()
	cases := []struct {
		name      string
		timestamp int64
		want      int64
	}{
		{name: "stale", timestamp: now - (10 * time.Minute).Milliseconds(), want: now},
		{name: "future", timestamp: now + 1000, want: now},
		{name: "recent", timestamp: now - (time.Minute).Milliseconds(), want: now - (time.Minute).Milliseconds()},
	}

	for i, tc := range cases {
		i, tc := i, tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.conversation(t, 1, "+15550100")

			m := textMessage(int64(20+i), 1, models.MessageTypeSending, 9)
			m.Timestamp = tc.timestamp
			f.apply(t, AddedMessage{Message: m})

			if got := f.message(t, m.ID).Timestamp; got != tc.want {
				t.Fatalf("expected timestamp %d, got %d", tc.want, got)
			}
		})
	}
}

func TestMediaIsDownloadedBeforeSend(t *testing.T) {
	f := newFixture(t, true)
	f.conversation(t, 1, "+15550100")

	m := textMessage(10, 1, models.MessageTypeSending, 9)
	m.MimeType = "image/jpeg"
	m.Data = models.MediaPlaceholder
	f.apply(t, AddedMessage{Message: m})

	if f.media.calls != 1 {
		t.Fatalf("expected one media download, got %d", f.media.calls)
	}
	if len(f.sender.calls) != 1 {
		t.Fatalf("expected one carrier send, got %d", len(f.sender.calls))
	}
	if got := f.sender.calls[0].message.Data; got != f.media.ref {
		t.Fatalf("expected send with downloaded media, got %q", got)
	}
	c, err := f.store.GetConversation(1)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if c.Snippet != "Image" {
		t.Fatalf("unexpected snippet %q", c.Snippet)
	}
}

func TestMediaFailureBlocksSend(t *testing.T) {
	f := newFixture(t, true)
	f.conversation(t, 1, "+15550100")
	f.media.err = errors.New("blob missing")

	m := textMessage(10, 1, models.MessageTypeSending, 9)
	m.MimeType = "image/jpeg"
	m.Data = models.MediaPlaceholder
	f.apply(t, AddedMessage{Message: m})

	if len(f.sender.calls) != 0 {
		t.Fatalf("expected no send without media, got %d", len(f.sender.calls))
	}
	stored := f.message(t, 10)
	if stored.Type != models.MessageTypeError {
		t.Fatalf("expected error type, got %d", stored.Type)
	}
	if stored.Data != models.MediaPlaceholder {
		t.Fatalf("expected placeholder to be kept, got %q", stored.Data)
	}
}

func TestMissingConversationIsFetched(t *testing.T) {
	f := newFixture(t, false)

	body, err := relay.EncodeConversation(f.codec, models.Conversation{
		ID:           5,
		Title:        "Remote",
		PhoneNumbers: "+15550199",
		Timestamp:    1000,
	})
	if err != nil {
		t.Fatalf("EncodeConversation failed: %v", err)
	}
	f.fetcher.bodies[5] = body

	f.apply(t, AddedMessage{Message: textMessage(10, 5, models.MessageTypeReceived, 9)})

	c, err := f.store.GetConversation(5)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if c.Title != "Remote" {
		t.Fatalf("unexpected fetched title %q", c.Title)
	}
	if f.fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", f.fetcher.calls)
	}
}

func TestMessageForUnknownConversationIsSkipped(t *testing.T) {
	f := newFixture(t, false)

	f.apply(t, AddedMessage{Message: textMessage(10, 5, models.MessageTypeReceived, 9)})

	if exists, _ := f.store.MessageExists(10); exists {
		t.Fatal("expected message without conversation to be skipped")
	}
}

func TestRemovedMessageRefreshesSnippet(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	first := textMessage(10, 1, models.MessageTypeReceived, 9)
	first.Data = "first"
	second := textMessage(11, 1, models.MessageTypeReceived, 9)
	second.Data = "second"
	second.Timestamp = first.Timestamp + 10
	f.apply(t, AddedMessage{Message: first})
	f.apply(t, AddedMessage{Message: second})

	f.apply(t, RemovedMessage{ID: 11})

	c, err := f.store.GetConversation(1)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if c.Snippet != "first" {
		t.Fatalf("expected snippet to fall back to first, got %q", c.Snippet)
	}
}

func TestForwardToPhoneSendsOnce(t *testing.T) {
	f := newFixture(t, true)

	op := ForwardToPhone{To: "+1 555 0101, +1 (555) 0100", Text: "on my way", MimeType: models.MimeTextPlain, SentDevice: 9}
	f.apply(t, op)

	if len(f.sender.calls) != 1 {
		t.Fatalf("expected exactly one carrier send, got %d", len(f.sender.calls))
	}
	call := f.sender.calls[0]
	if call.message.Data != "on my way" {
		t.Fatalf("unexpected sent text %q", call.message.Data)
	}
	if len(call.recipients) != 2 || call.recipients[0] != "+15550100" || call.recipients[1] != "+15550101" {
		t.Fatalf("unexpected recipients: %v", call.recipients)
	}

	c, err := f.store.FindConversationByPhoneNumbers("+15550100, +15550101")
	if err != nil {
		t.Fatalf("FindConversationByPhoneNumbers failed: %v", err)
	}
	latest, err := f.store.LatestMessage(c.ID)
	if err != nil {
		t.Fatalf("LatestMessage failed: %v", err)
	}
	if latest.Type != models.MessageTypeSent || latest.Data != "on my way" {
		t.Fatalf("unexpected stored message: %+v", latest)
	}
	count, err := f.store.CountMessages()
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one message, got %d", count)
	}
	if len(f.publisher.conversations) != 1 || len(f.publisher.messages) != 1 {
		t.Fatalf("expected new conversation and message mirrored, got %d and %d",
			len(f.publisher.conversations), len(f.publisher.messages))
	}

	f.apply(t, op)
	conversations, err := f.store.CountConversations()
	if err != nil {
		t.Fatalf("CountConversations failed: %v", err)
	}
	if conversations != 1 {
		t.Fatalf("expected second forward to reuse the conversation, got %d", conversations)
	}
}

func TestForwardToPhoneIgnoredOnSecondary(t *testing.T) {
	f := newFixture(t, false)

	f.apply(t, ForwardToPhone{To: "+15550100", Text: "hi", MimeType: models.MimeTextPlain})

	if len(f.sender.calls) != 0 {
		t.Fatalf("expected no send on a secondary device, got %d", len(f.sender.calls))
	}
}

func TestOwnReadConversationIsSkipped(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")
	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeReceived, 9)})

	f.apply(t, ReadConversation{ID: 1, DeviceID: selfDevice})
	c, _ := f.store.GetConversation(1)
	if c.Read {
		t.Fatal("expected own read delta to be ignored")
	}

	f.apply(t, ReadConversation{ID: 1, DeviceID: 9})
	c, _ = f.store.GetConversation(1)
	if !c.Read {
		t.Fatal("expected read delta from another device to apply")
	}
}

func TestUpdatePrimaryDevice(t *testing.T) {
	f := newFixture(t, false)

	f.apply(t, UpdatePrimaryDevice{DeviceID: selfDevice})
	if !f.session.primary {
		t.Fatal("expected device to become primary")
	}
	f.apply(t, UpdatePrimaryDevice{DeviceID: 9})
	if f.session.primary {
		t.Fatal("expected device to stop being primary")
	}
}

func TestRemovedAccountWipesAndInvalidates(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	f.apply(t, RemovedAccount{})

	count, err := f.store.CountConversations()
	if err != nil {
		t.Fatalf("CountConversations failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected wiped store, got %d conversations", count)
	}
	if !errors.Is(f.session.invalidated, ErrAccountRemoved) {
		t.Fatalf("expected session invalidation, got %v", f.session.invalidated)
	}
}

func TestHandleFrameDecodesEncryptedMessage(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	body, err := relay.EncodeMessage(f.codec, textMessage(10, 1, models.MessageTypeReceived, 9))
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	content, err := json.Marshal(string(raw))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	f.processor.HandleFrame(context.Background(), relay.Frame{Operation: OpAddedMessage, Content: content})
	f.processor.HandleFrame(context.Background(), relay.Frame{Operation: OpAddedMessage, Content: json.RawMessage(`{"device_id":0}`)})
	f.processor.HandleFrame(context.Background(), relay.Frame{Operation: "made_up", Content: json.RawMessage(`{}`)})

	if got := f.message(t, 10).Data; got != "hello" {
		t.Fatalf("expected decrypted text, got %q", got)
	}
	count, err := f.store.CountMessages()
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected malformed frames to be dropped, got %d messages", count)
	}
}

func TestRunAppliesFramesInOrder(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")

	frames := make(chan relay.Frame, 2)
	frames <- relay.Frame{Operation: OpArchiveConversation, Content: json.RawMessage(`{"id":1,"archive":true}`)}
	frames <- relay.Frame{Operation: OpArchiveConversation, Content: json.RawMessage(`{"id":1,"archive":false}`)}
	close(frames)

	f.processor.Run(context.Background(), frames)

	c, err := f.store.GetConversation(1)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if c.Archived {
		t.Fatal("expected the later unarchive to win")
	}
}

func TestSlowMediaIsAbandonedAtDeadline(t *testing.T) {
	for _, tc := range []struct {
		name     string
		primary  bool
		wantType models.MessageType
	}{
		{name: "secondary keeps placeholder", primary: false, wantType: models.MessageTypeSending},
		{name: "primary marks error", primary: true, wantType: models.MessageTypeError},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.primary)
			f.conversation(t, 1, "+15550100")
			f.media.block = true
			f.processor.cfg.MediaDeadline = 20 * time.Millisecond

			m := textMessage(10, 1, models.MessageTypeSending, 9)
			m.MimeType = "image/jpeg"
			m.Data = models.MediaPlaceholder

			done := make(chan error, 1)
			go func() {
				done <- f.processor.Apply(context.Background(), AddedMessage{Message: m})
			}()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Apply failed: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("media download was not cut off by the deadline")
			}

			stored := f.message(t, 10)
			if stored.Data != models.MediaPlaceholder {
				t.Fatalf("expected placeholder to be kept, got %q", stored.Data)
			}
			if stored.Type != tc.wantType {
				t.Fatalf("expected type %d, got %d", tc.wantType, stored.Type)
			}
			if len(f.sender.calls) != 0 {
				t.Fatalf("expected no send, got %d", len(f.sender.calls))
			}
		})
	}
}

func TestIncompleteUpdateFramesAreDropped(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")
	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeSent, selfDevice)})
	before := f.message(t, 10)

	ctx := context.Background()
	f.processor.HandleFrame(ctx, relay.Frame{Operation: OpUpdateMessageType, Content: json.RawMessage(`{"id":10}`)})
	f.processor.HandleFrame(ctx, relay.Frame{Operation: OpUpdatedMessage, Content: json.RawMessage(`{"id":10}`)})
	f.processor.HandleFrame(ctx, relay.Frame{Operation: OpUpdateConversationTitle, Content: json.RawMessage(`{"id":1}`)})

	after := f.message(t, 10)
	if after.Type != before.Type || after.Timestamp != before.Timestamp {
		t.Fatalf("message changed by incomplete updates: before %+v, after %+v", before, after)
	}
	c, err := f.store.GetConversation(1)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if c.Title != "Conversation" {
		t.Fatalf("expected title to survive, got %q", c.Title)
	}
}

func TestMessageChangesNotifyConversationList(t *testing.T) {
	f := newFixture(t, false)
	f.conversation(t, 1, "+15550100")
	f.apply(t, AddedMessage{Message: textMessage(10, 1, models.MessageTypeReceived, 9)})
	drainMessageEvents(f.bus)
	drainConversationEvents(f.bus)

	f.apply(t, UpdateMessageType{ID: 10, Type: models.MessageTypeError})
	if got := drainConversationEvents(f.bus); len(got) != 1 || got[0].ConversationID != 1 {
		t.Fatalf("expected one conversation event after update, got %+v", got)
	}

	f.apply(t, RemovedMessage{ID: 10})
	if got := drainMessageEvents(f.bus); len(got) != 2 {
		t.Fatalf("expected update and remove message events, got %+v", got)
	}
	if got := drainConversationEvents(f.bus); len(got) != 1 || got[0].ConversationID != 1 {
		t.Fatalf("expected one conversation event after removing the last message, got %+v", got)
	}
}

func TestUpdatedContactRenames(t *testing.T) {
	f := newFixture(t, false)
	err := f.store.InsertContact(models.Contact{ID: 3, PhoneNumber: "+15550100", Name: "Ann"})
	if err != nil {
		t.Fatalf("InsertContact failed: %v", err)
	}

	phone, name := "+15550100", "Ann Lee"
	sealedPhone, err := f.codec.Encrypt(&phone)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	sealedName, err := f.codec.Encrypt(&name)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	content, err := json.Marshal(relay.ContactUpdate{PhoneNumber: sealedPhone, Name: sealedName, Color: 5})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	f.processor.HandleFrame(context.Background(), relay.Frame{Operation: OpUpdatedContact, Content: content})
	f.processor.HandleFrame(context.Background(), relay.Frame{
		Operation: OpUpdatedContact,
		Content:   json.RawMessage(`{"phone_number":` + string(mustJSON(t, sealedPhone)) + `}`),
	})

	contacts, err := f.store.ListContacts()
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Name != "Ann Lee" || contacts[0].Colors.Color != 5 {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return raw
}
