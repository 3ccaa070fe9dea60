package bulk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"smsrelay/crypto"
	"smsrelay/media"
	"smsrelay/models"
	"smsrelay/relay"
	"smsrelay/storage"
)

type testAccount struct {
	codec *crypto.Codec
}

func (a testAccount) Codec() (*crypto.Codec, error) { return a.codec, nil }
func (a testAccount) AccountID() string             { return "acct" }
func (a testAccount) Active() bool                  { return true }

type pageFunc func(limit, offset int) (int, string)

// fakeRelay serves list pages per entity, records adds and stores blobs.
type fakeRelay struct {
	mu        sync.Mutex
	lists     map[string]pageFunc
	listCalls map[string]int
	addCalls  map[string][]int
	addStatus func(entity string, call int) int
	blobs     map[string][]byte
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		lists:     make(map[string]pageFunc),
		listCalls: make(map[string]int),
		addCalls:  make(map[string][]int),
		blobs:     make(map[string][]byte),
	}
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	switch {
	case strings.HasPrefix(path, "media/"):
		if r.Method == http.MethodPut {
			f.blobs[path], _ = io.ReadAll(r.Body)
			return
		}
		blob, ok := f.blobs[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(blob)
	case strings.HasSuffix(path, "/add"):
		entity := strings.TrimSuffix(path, "/add")
		var body map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		var items []json.RawMessage
		_ = json.Unmarshal(body[entity], &items)
		f.addCalls[entity] = append(f.addCalls[entity], len(items))
		if f.addStatus != nil {
			w.WriteHeader(f.addStatus(entity, len(f.addCalls[entity])))
		}
	default:
		f.listCalls[path]++
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		page, ok := f.lists[path]
		if !ok {
			_, _ = io.WriteString(w, "[]")
			return
		}
		status, body := page(limit, offset)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeRelay) listCount(entity relay.Entity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[string(entity)]
}

type fixture struct {
	relay    *fakeRelay
	client   *relay.Client
	store    *storage.Store
	codec    *crypto.Codec
	keys     testAccount
	transfer *media.Transfer
	files    *media.FileStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	codec, err := crypto.NewCodecFromCredentials("acct", "hash", "salt")
	if err != nil {
		t.Fatalf("NewCodecFromCredentials failed: %v", err)
	}
	keys := testAccount{codec: codec}

	fake := newFakeRelay()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := relay.NewClient(relay.Config{BaseURL: server.URL, Account: keys, RequestRate: 10000})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	files, err := media.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	transfer, err := media.NewTransfer(media.Config{Blobs: client, Keys: keys, Files: files, Attempts: 1})
	if err != nil {
		t.Fatalf("NewTransfer failed: %v", err)
	}

	return &fixture{relay: fake, client: client, store: store, codec: codec, keys: keys, transfer: transfer, files: files}
}

func (f *fixture) downloader(t *testing.T, cfg DownloaderConfig) (*Downloader, *int) {
	t.Helper()

	sleeps := new(int)
	cfg.Client = f.client
	cfg.Store = f.store
	cfg.Keys = f.keys
	cfg.sleep = func(context.Context, time.Duration) error {
		*sleeps++
		return nil
	}
	d, err := NewDownloader(cfg)
	if err != nil {
		t.Fatalf("NewDownloader failed: %v", err)
	}
	return d, sleeps
}

func (f *fixture) messagesJSON(t *testing.T, firstID int64, n int, mimeType, data string) string {
	t.Helper()

	bodies := make([]relay.MessageBody, 0, n)
	for i := 0; i < n; i++ {
		body, err := relay.EncodeMessage(f.codec, models.Message{
			ID:             firstID + int64(i),
			ConversationID: 1,
			Type:           models.MessageTypeReceived,
			Data:           data,
			MimeType:       mimeType,
			Timestamp:      int64(i + 1),
		})
		if err != nil {
			t.Fatalf("EncodeMessage failed: %v", err)
		}
		bodies = append(bodies, body)
	}
	raw, err := json.Marshal(bodies)
	if err != nil {
		t.Fatalf("marshal messages failed: %v", err)
	}
	return string(raw)
}

func (f *fixture) conversationsJSON(t *testing.T, ids ...int64) string {
	t.Helper()

	bodies := make([]relay.ConversationBody, 0, len(ids))
	for _, id := range ids {
		body, err := relay.EncodeConversation(f.codec, models.Conversation{ID: id, Title: "Chat", PhoneNumbers: "5551234", Timestamp: 1})
		if err != nil {
			t.Fatalf("EncodeConversation failed: %v", err)
		}
		bodies = append(bodies, body)
	}
	raw, err := json.Marshal(bodies)
	if err != nil {
		t.Fatalf("marshal conversations failed: %v", err)
	}
	return string(raw)
}

func TestDownloadStopsAfterShortPage(t *testing.T) {
	f := newFixture(t)
	conversations := f.conversationsJSON(t, 1)
	f.relay.lists["conversations"] = func(int, int) (int, string) { return http.StatusOK, conversations }

	const pageSize, fullPages = 3, 2
	pages := make(map[int]string)
	for i := 0; i < fullPages; i++ {
		pages[i*pageSize] = f.messagesJSON(t, int64(i*pageSize+1), pageSize, models.MimeTextPlain, "hello")
	}
	f.relay.lists["messages"] = func(_, offset int) (int, string) {
		page, ok := pages[offset]
		if !ok {
			return http.StatusOK, "[]"
		}
		return http.StatusOK, page
	}

	d, _ := f.downloader(t, DownloaderConfig{MessagePageSize: pageSize})
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := f.relay.listCount(relay.Messages); got != fullPages+1 {
		t.Fatalf("expected %d message list calls, got %d", fullPages+1, got)
	}
	if report.Entities[relay.Messages].Records != pageSize*fullPages {
		t.Fatalf("unexpected report %+v", report.Entities[relay.Messages])
	}
}

func TestDownloadTenThousandMessages(t *testing.T) {
	f := newFixture(t)
	conversations := f.conversationsJSON(t, 1)
	f.relay.lists["conversations"] = func(int, int) (int, string) { return http.StatusOK, conversations }

	pages := make(map[int]string)
	pages[0] = f.messagesJSON(t, 1, DefaultMessagePageSize, models.MimeTextPlain, "x")
	pages[DefaultMessagePageSize] = f.messagesJSON(t, 20001, DefaultMessagePageSize, models.MimeTextPlain, "y")
	pages[2*DefaultMessagePageSize] = f.messagesJSON(t, 30001, 3, models.MimeTextPlain, "z")
	f.relay.lists["messages"] = func(_, offset int) (int, string) {
		page, ok := pages[offset]
		if !ok {
			return http.StatusOK, "[]"
		}
		return http.StatusOK, page
	}

	d, _ := f.downloader(t, DownloaderConfig{})
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := f.relay.listCount(relay.Messages); got != 3 {
		t.Fatalf("expected 3 message list calls, got %d", got)
	}
	count, err := f.store.CountMessages()
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 10003 {
		t.Fatalf("expected 10003 messages, got %d", count)
	}
}

func TestDownloadFailureKeepsPreviousData(t *testing.T) {
	f := newFixture(t)
	if err := f.store.InsertConversation(models.Conversation{ID: 77, Title: "Old", Timestamp: 1}); err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}
	if err := f.store.InsertMessage(models.Message{ID: 78, ConversationID: 77, Data: "old", Timestamp: 1}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	conversations := f.conversationsJSON(t, 1, 2)
	f.relay.lists["conversations"] = func(int, int) (int, string) { return http.StatusOK, conversations }
	messages := f.messagesJSON(t, 1, 2, models.MimeTextPlain, "new")
	f.relay.lists["messages"] = func(int, int) (int, string) { return http.StatusOK, messages }
	f.relay.lists["contacts"] = func(int, int) (int, string) { return http.StatusBadRequest, "" }

	d, _ := f.downloader(t, DownloaderConfig{})
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatalf("expected download to fail")
	}

	if _, err := f.store.GetMessage(78); err != nil {
		t.Fatalf("previous message must survive a failed download: %v", err)
	}
	if _, err := f.store.GetConversation(1); err == nil {
		t.Fatalf("downloaded conversation must be rolled back")
	}
	count, err := f.store.CountConversations()
	if err != nil {
		t.Fatalf("CountConversations failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the single previous conversation, got %d", count)
	}
}

func TestDownloadRetriesEmptyPagesThenRedoesMessages(t *testing.T) {
	f := newFixture(t)
	conversations := f.conversationsJSON(t, 1)
	f.relay.lists["conversations"] = func(int, int) (int, string) { return http.StatusOK, conversations }
	f.relay.lists["messages"] = func(int, int) (int, string) { return http.StatusOK, "null" }

	d, sleeps := f.downloader(t, DownloaderConfig{})
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.MessagesRetried {
		t.Fatalf("expected the message download to be repeated")
	}
	if got := f.relay.listCount(relay.Messages); got != 2*DefaultEmptyPageRetries {
		t.Fatalf("expected %d message list calls, got %d", 2*DefaultEmptyPageRetries, got)
	}
	if *sleeps != 2*(DefaultEmptyPageRetries-1) {
		t.Fatalf("expected %d sleeps, got %d", 2*(DefaultEmptyPageRetries-1), *sleeps)
	}
}

func TestDownloadRecoversAfterNullPages(t *testing.T) {
	f := newFixture(t)
	conversations := f.conversationsJSON(t, 1)
	f.relay.lists["conversations"] = func(int, int) (int, string) { return http.StatusOK, conversations }

	calls := 0
	messages := f.messagesJSON(t, 1, 4, models.MimeTextPlain, "hi")
	f.relay.lists["messages"] = func(int, int) (int, string) {
		calls++
		if calls <= 2 {
			return http.StatusOK, "null"
		}
		return http.StatusOK, messages
	}

	d, _ := f.downloader(t, DownloaderConfig{})
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.MessagesRetried || report.Entities[relay.Messages].Records != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
	if calls != 3 {
		t.Fatalf("expected 3 message list calls, got %d", calls)
	}
}

func TestDownloadFetchesMediaAfterCommit(t *testing.T) {
	f := newFixture(t)
	conversations := f.conversationsJSON(t, 1)
	f.relay.lists["conversations"] = func(int, int) (int, string) { return http.StatusOK, conversations }
	messages := f.messagesJSON(t, 100, 2, "image/png", models.MediaPlaceholder)
	f.relay.lists["messages"] = func(int, int) (int, string) { return http.StatusOK, messages }

	blob, err := f.codec.EncryptBlob([]byte("png"))
	if err != nil {
		t.Fatalf("EncryptBlob failed: %v", err)
	}
	f.relay.blobs["media/acct/100"] = blob

	d, _ := f.downloader(t, DownloaderConfig{Media: f.transfer})
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Media.Total != 2 || report.Media.Completed != 1 || report.Media.Failed != 1 {
		t.Fatalf("unexpected media report %+v", report.Media)
	}

	got, err := f.store.GetMessage(100)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	data, err := f.files.Load(got.Data)
	if err != nil || string(data) != "png" {
		t.Fatalf("media not stored locally: %q %v", data, err)
	}
	missing, err := f.store.GetMessage(101)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if missing.Data != models.MediaPlaceholder {
		t.Fatalf("missing blob must keep the placeholder, got %q", missing.Data)
	}
}

func TestDownloadRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	d, _ := f.downloader(t, DownloaderConfig{})
	d.running.Store(true)
	if _, err := d.Run(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func seedMessages(t *testing.T, store *storage.Store, n int) {
	t.Helper()

	if err := store.InsertConversation(models.Conversation{ID: 1, Title: "Chat", Timestamp: 1}); err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}
	for i := 1; i <= n; i++ {
		msg := models.Message{ID: int64(i), ConversationID: 1, Data: "m", MimeType: models.MimeTextPlain, Timestamp: int64(i)}
		if err := store.InsertMessage(msg); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}
}

func newTestUploader(t *testing.T, f *fixture) *Uploader {
	t.Helper()

	u, err := NewUploader(UploaderConfig{Client: f.client, Store: f.store, Keys: f.keys, Media: f.transfer})
	if err != nil {
		t.Fatalf("NewUploader failed: %v", err)
	}
	return u
}

func TestUploadPagesMessages(t *testing.T) {
	f := newFixture(t)
	seedMessages(t, f.store, 650)

	report, err := newTestUploader(t, f).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	pages := f.relay.addCalls["messages"]
	if len(pages) != 3 || pages[0] != 300 || pages[1] != 300 || pages[2] != 50 {
		t.Fatalf("unexpected message pages %v", pages)
	}
	if rep := report.Entities[relay.Messages]; rep.Records != 650 || rep.Failed != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(f.relay.addCalls["conversations"]) != 1 {
		t.Fatalf("expected one conversation page, got %v", f.relay.addCalls["conversations"])
	}
}

func TestUploadDoesNotRetryFailedPages(t *testing.T) {
	f := newFixture(t)
	seedMessages(t, f.store, 650)
	f.relay.addStatus = func(entity string, call int) int {
		if entity == "messages" && call == 2 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}

	report, err := newTestUploader(t, f).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(f.relay.addCalls["messages"]) != 3 {
		t.Fatalf("failed page must not be retried, got %v", f.relay.addCalls["messages"])
	}
	if rep := report.Entities[relay.Messages]; rep.Records != 350 || rep.Failed != 1 || rep.Pages != 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestUploadSendsMediaSeparately(t *testing.T) {
	f := newFixture(t)
	if err := f.store.InsertConversation(models.Conversation{ID: 1, Title: "Chat", Timestamp: 1}); err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}
	ref, err := f.files.Save(9, "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	msg := models.Message{ID: 9, ConversationID: 1, Type: models.MessageTypeMedia, Data: ref, MimeType: "image/png", Timestamp: 1}
	if err := f.store.InsertMessage(msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	report, err := newTestUploader(t, f).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Media.Completed != 1 {
		t.Fatalf("unexpected media report %+v", report.Media)
	}
	blob, ok := f.relay.blobs["media/acct/9"]
	if !ok {
		t.Fatalf("blob was not uploaded")
	}
	plain, err := f.codec.DecryptBlob(blob)
	if err != nil || string(plain) != "png" {
		t.Fatalf("unexpected blob %q %v", plain, err)
	}
}
