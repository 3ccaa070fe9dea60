package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"smsrelay/logging"
)

const (
	streamPath         = "stream"
	streamReadLimit    = 8 << 20
	streamPongWait     = 90 * time.Second
	streamPingInterval = 30 * time.Second
)

// Frame is one pushed change notification.
type Frame struct {
	Operation string          `json:"operation"`
	Content   json.RawMessage `json:"content"`
}

// Data returns the frame payload as a JSON object. The relay sends content either as
// an object or as a string holding JSON.
func (f Frame) Data() (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(f.Content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("decode frame content: %w", err)
	}
	if strings.TrimSpace(inner) == "" {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(inner), nil
}

// Stream is the websocket push channel. Frames are delivered on one channel in the
// order the relay sent them.
type Stream struct {
	client     *Client
	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff
	log        *log.Entry
}

// Stream returns the push channel bound to this client's relay and account.
func (c *Client) Stream() *Stream {
	return &Stream{
		client: c,
		dialer: websocket.DefaultDialer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
		log: logging.For("relay.stream"),
	}
}

func (s *Stream) url() string {
	u := s.client.BaseURL()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + apiPrefix + streamPath
	u.RawQuery = url.Values{"account_id": {s.client.account.AccountID()}}.Encode()
	return u.String()
}

// Run connects and forwards frames to out until ctx is cancelled, reconnecting with
// exponential backoff whenever the connection drops.
func (s *Stream) Run(ctx context.Context, out chan<- Frame) error {
	policy := backoff.WithContext(s.newBackOff(), ctx)
	for {
		connected, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		s.log.WithError(err).WithField("retry_in", wait.String()).Warn("stream disconnected")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Stream) session(ctx context.Context, out chan<- Frame) (bool, error) {
	if !s.client.account.Active() {
		return false, errors.New("session inactive")
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url(), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()
	s.log.Info("stream connected")

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.WithError(err).Warn("dropping malformed stream frame")
			continue
		}
		if frame.Operation == "" {
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
