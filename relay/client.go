package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"smsrelay/logging"
	"smsrelay/metrics"
)

const (
	// DefaultTimeout bounds one relay request.
	DefaultTimeout = 30 * time.Second
	// DefaultRequestRate caps relay requests per second.
	DefaultRequestRate = 20

	apiPrefix = "/api/v1/"
)

// Account is the part of the session the client needs on every call.
type Account interface {
	AccountID() string
	Active() bool
}

// Config controls relay client behavior.
type Config struct {
	BaseURL     string
	Account     Account
	HTTPClient  *http.Client
	RequestRate float64
	Metrics     *metrics.Metrics
}

func (c Config) withDefaults() Config {
	out := c
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if out.RequestRate <= 0 {
		out.RequestRate = DefaultRequestRate
	}
	return out
}

// Client performs typed REST calls against the relay. Every call blocks until the
// response arrives and reports a Status; transport failures become StatusTransient.
type Client struct {
	base    *url.URL
	account Account
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *log.Entry
}

// NewClient validates config and builds a client.
func NewClient(config Config) (*Client, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("relay base URL is required")
	}
	if cfg.Account == nil {
		return nil, errors.New("relay account is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported relay URL scheme %q", base.Scheme)
	}

	return &Client{
		base:    base,
		account: cfg.Account,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestRate), int(cfg.RequestRate)+1),
		metrics: cfg.Metrics,
		log:     logging.For("relay"),
	}, nil
}

// BaseURL returns the relay endpoint.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + apiPrefix + strings.TrimPrefix(path, "/")
	if query == nil {
		query = url.Values{}
	}
	query.Set("account_id", c.account.AccountID())
	u.RawQuery = query.Encode()
	return u.String()
}

type response struct {
	status Status
	body   []byte
}

// do sends one request. body may be nil, []byte (sent raw) or any JSON value.
func (c *Client) do(ctx context.Context, entity, operation, method, path string, query url.Values, body any, maxBody int64) response {
	res := c.send(ctx, method, path, query, body, maxBody)
	c.metrics.RelayRequest(entity, operation, res.status.String())
	if !res.status.OK() {
		c.log.WithFields(log.Fields{
			"entity":    entity,
			"operation": operation,
			"status":    res.status.String(),
		}).Debug("relay call failed")
	}
	return res
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, maxBody int64) response {
	if !c.account.Active() {
		return response{status: StatusPermanent}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return response{status: StatusTransient}
	}

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			c.log.WithError(err).Error("encode relay request")
			return response{status: StatusPermanent}
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return response{status: StatusPermanent}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return response{status: StatusTransient}
	}
	defer resp.Body.Close()

	status := statusFromHTTP(resp.StatusCode)
	if !status.OK() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return response{status: status}
	}

	limited := io.LimitReader(resp.Body, maxBody+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return response{status: StatusTransient}
	}
	if int64(len(payload)) > maxBody {
		return response{status: StatusPermanent}
	}
	return response{status: StatusOK, body: payload}
}

const maxJSONBody = 256 << 20

// List fetches one page of an entity collection. A JSON array (possibly empty) is
// StatusOK; a null body is reported as StatusTransient with no items, because the
// relay answers null when it could not serve the page.
func List[T any](ctx context.Context, c *Client, entity Entity, limit, offset int) ([]T, Status) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	res := c.do(ctx, string(entity), "list", http.MethodGet, string(entity), query, nil, maxJSONBody)
	if !res.status.OK() {
		return nil, res.status
	}

	var items []T
	if err := json.Unmarshal(res.body, &items); err != nil {
		c.log.WithError(err).WithField("entity", entity).Warn("decode relay list page")
		return nil, StatusTransient
	}
	if items == nil {
		return nil, StatusTransient
	}
	return items, StatusOK
}

// Add uploads one or more records in a single request.
func Add[T any](ctx context.Context, c *Client, entity Entity, items []T) Status {
	if len(items) == 0 {
		return StatusOK
	}
	body := map[string]any{
		"account_id":    c.account.AccountID(),
		string(entity): items,
	}
	return c.do(ctx, string(entity), "add", http.MethodPost, string(entity)+"/add", nil, body, maxJSONBody).status
}

// Mutate posts an entity action such as update, remove or read. id <= 0 omits the id
// path segment.
func (c *Client) Mutate(ctx context.Context, entity Entity, action string, id int64, query url.Values, body any) Status {
	path := string(entity) + "/" + action
	if id > 0 {
		path += "/" + strconv.FormatInt(id, 10)
	}
	return c.do(ctx, string(entity), action, http.MethodPost, path, query, body, maxJSONBody).status
}

// Remove deletes one record by id.
func (c *Client) Remove(ctx context.Context, entity Entity, id int64) Status {
	return c.Mutate(ctx, entity, "remove", id, nil, nil)
}

// Update replaces the mutable fields of one record.
func (c *Client) Update(ctx context.Context, entity Entity, id int64, body any) Status {
	return c.Mutate(ctx, entity, "update", id, nil, body)
}

// GetConversation fetches a single conversation.
func (c *Client) GetConversation(ctx context.Context, id int64) (ConversationBody, Status) {
	path := string(Conversations) + "/" + strconv.FormatInt(id, 10)
	res := c.do(ctx, string(Conversations), "get", http.MethodGet, path, nil, nil, maxJSONBody)
	if !res.status.OK() {
		return ConversationBody{}, res.status
	}
	if bytes.Equal(bytes.TrimSpace(res.body), []byte("null")) {
		return ConversationBody{}, StatusNotFound
	}
	var body ConversationBody
	if err := json.Unmarshal(res.body, &body); err != nil {
		return ConversationBody{}, StatusPermanent
	}
	return body, StatusOK
}
