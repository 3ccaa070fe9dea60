package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFrameData(t *testing.T) {
	cases := map[string]string{
		`"{\"id\": 1}"`: `{"id": 1}`,
		`{"id": 1}`:     `{"id": 1}`,
		`null`:          `{}`,
		`""`:            `{}`,
	}
	for content, want := range cases {
		data, err := Frame{Operation: "x", Content: []byte(content)}.Data()
		if err != nil {
			t.Fatalf("Data(%s) failed: %v", content, err)
		}
		if string(data) != want {
			t.Fatalf("Data(%s) = %s, want %s", content, data, want)
		}
	}
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stream" || r.URL.Query().Get("account_id") != "acct" {
			t.Errorf("unexpected stream request %s", r.URL.String())
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range []string{
			`{"operation": "removed_message", "content": "{\"id\": 1}"}`,
			`not json`,
			`{"operation": "read_conversation", "content": {"id": 2}}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Account: fakeAccount{id: "acct"}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames := make(chan Frame, 4)
	done := make(chan error, 1)
	go func() { done <- client.Stream().Run(ctx, frames) }()

	first := <-frames
	second := <-frames
	if first.Operation != "removed_message" || second.Operation != "read_conversation" {
		t.Fatalf("unexpected frame order: %s, %s", first.Operation, second.Operation)
	}

	cancel()
	if err := <-done; err == nil {
		t.Fatalf("Run must return the context error")
	}
}
