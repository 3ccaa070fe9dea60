package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

type fakeAccount struct {
	id       string
	inactive bool
}

func (a fakeAccount) AccountID() string { return a.id }
func (a fakeAccount) Active() bool      { return !a.inactive }

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:     server.URL,
		Account:     fakeAccount{id: "acct"},
		RequestRate: 1000,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestStatusFromHTTP(t *testing.T) {
	cases := map[int]Status{
		200: StatusOK,
		204: StatusOK,
		302: StatusOK,
		400: StatusPermanent,
		401: StatusPermanent,
		404: StatusNotFound,
		410: StatusNotFound,
		408: StatusTransient,
		429: StatusTransient,
		500: StatusTransient,
		503: StatusTransient,
	}
	for code, want := range cases {
		if got := statusFromHTTP(code); got != want {
			t.Fatalf("statusFromHTTP(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestListDistinguishesNullFromEmpty(t *testing.T) {
	var body atomic.Value
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("account_id") != "acct" || q.Get("limit") != "5000" || q.Get("offset") != "10" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, body.Load().(string))
	}))

	body.Store(`[{"device_id": 1}, {"device_id": 2}]`)
	items, status := List[MessageBody](context.Background(), client, Messages, 5000, 10)
	if status != StatusOK || len(items) != 2 || items[1].DeviceID != 2 {
		t.Fatalf("unexpected page %+v status %s", items, status)
	}

	body.Store(`[]`)
	items, status = List[MessageBody](context.Background(), client, Messages, 5000, 10)
	if status != StatusOK || items == nil || len(items) != 0 {
		t.Fatalf("empty array must be an ok empty page, got %+v status %s", items, status)
	}

	body.Store(`null`)
	items, status = List[MessageBody](context.Background(), client, Messages, 5000, 10)
	if status != StatusTransient || items != nil {
		t.Fatalf("null body must be transient, got %+v status %s", items, status)
	}
}

func TestAddPostsWrappedBody(t *testing.T) {
	var got map[string]json.RawMessage
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/conversations/add" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing request id")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	status := Add(context.Background(), client, Conversations, []ConversationBody{{DeviceID: 7}})
	if status != StatusOK {
		t.Fatalf("Add failed: %s", status)
	}
	if string(got["account_id"]) != `"acct"` {
		t.Fatalf("unexpected account id %s", got["account_id"])
	}
	var sent []ConversationBody
	if err := json.Unmarshal(got["conversations"], &sent); err != nil || len(sent) != 1 || sent[0].DeviceID != 7 {
		t.Fatalf("unexpected conversations payload %s (err %v)", got["conversations"], err)
	}
}

func TestMutateAndTransportFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/messages/update_type/5":
			if r.URL.Query().Get("message_type") != "1" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
		case "/api/v1/messages/remove/6":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	if status := client.UpdateMessageType(context.Background(), 5, 1); status != StatusOK {
		t.Fatalf("UpdateMessageType status %s", status)
	}
	if status := client.Remove(context.Background(), Messages, 6); status != StatusNotFound {
		t.Fatalf("Remove status %s, want not_found", status)
	}

	dead, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", Account: fakeAccount{id: "acct"}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if status := dead.Remove(context.Background(), Messages, 6); status != StatusTransient {
		t.Fatalf("transport failure must be transient, got %s", status)
	}
}

func TestInactiveAccountMakesNoRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Account: fakeAccount{id: "acct", inactive: true}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if status := client.SeenAllConversations(context.Background()); status != StatusPermanent {
		t.Fatalf("expected permanent status, got %s", status)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("no request may reach the relay without a key")
	}
}

func TestGetConversation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/conversations/3":
			_, _ = io.WriteString(w, `{"device_id": 3, "pinned": true}`)
		default:
			_, _ = io.WriteString(w, `null`)
		}
	}))

	body, status := client.GetConversation(context.Background(), 3)
	if status != StatusOK || body.DeviceID != 3 || !body.Pinned {
		t.Fatalf("unexpected conversation %+v status %s", body, status)
	}
	if _, status := client.GetConversation(context.Background(), 4); status != StatusNotFound {
		t.Fatalf("null conversation must be not_found, got %s", status)
	}
}

func TestBlobSizeLimit(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/media/acct/") {
			t.Errorf("unexpected blob path %q", r.URL.Path)
		}
		switch {
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/1"):
			_, _ = w.Write([]byte("small"))
		case strings.HasSuffix(r.URL.Path, "/2"):
			_, _ = w.Write(make([]byte, MaxBlobSize+1))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx := context.Background()
	if status := client.PutBlob(ctx, 1, []byte("x")); status != StatusOK {
		t.Fatalf("PutBlob status %s", status)
	}
	if status := client.PutBlob(ctx, 1, make([]byte, MaxBlobSize+1)); status != StatusPermanent {
		t.Fatalf("oversized put must be refused, got %s", status)
	}
	if blob, status := client.GetBlob(ctx, 1); status != StatusOK || string(blob) != "small" {
		t.Fatalf("GetBlob = %q, %s", blob, status)
	}
	if _, status := client.GetBlob(ctx, 2); status != StatusPermanent {
		t.Fatalf("oversized blob must be refused, got %s", status)
	}
	if _, status := client.GetBlob(ctx, 3); status != StatusNotFound {
		t.Fatalf("missing blob must be not_found, got %s", status)
	}
}

func newTestRetrier() *Retrier {
	r := NewRetrier(context.Background(), DefaultRetryAttempts)
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func TestRetrierStopsAfterFourAttempts(t *testing.T) {
	r := newTestRetrier()

	attempts := 0
	status := r.Do(context.Background(), "always-failing", func(context.Context) Status {
		attempts++
		return StatusTransient
	})
	if status != StatusTransient {
		t.Fatalf("unexpected final status %s", status)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
}

func TestRetrierStopsOnSuccessOrPermanent(t *testing.T) {
	r := newTestRetrier()

	attempts := 0
	status := r.Do(context.Background(), "flaky", func(context.Context) Status {
		attempts++
		if attempts < 3 {
			return StatusTransient
		}
		return StatusOK
	})
	if status != StatusOK || attempts != 3 {
		t.Fatalf("expected success on third attempt, got %s after %d", status, attempts)
	}

	attempts = 0
	status = r.Do(context.Background(), "rejected", func(context.Context) Status {
		attempts++
		return StatusPermanent
	})
	if status != StatusPermanent || attempts != 1 {
		t.Fatalf("permanent failure must not retry, got %s after %d", status, attempts)
	}
}

func TestRetrierGoRunsInBackground(t *testing.T) {
	r := newTestRetrier()

	var attempts int32
	r.Go("background", func(context.Context) Status {
		atomic.AddInt32(&attempts, 1)
		return StatusTransient
	})
	r.Wait()
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Fatalf("expected 4 background attempts, got %d", got)
	}
}
