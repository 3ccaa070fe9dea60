package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"smsrelay/crypto"
	"smsrelay/logging"
	"smsrelay/metrics"
	"smsrelay/models"
	"smsrelay/relay"
)

// DefaultFetchAttempts bounds how often one blob download is tried.
const DefaultFetchAttempts = 4

var (
	// ErrNotFound means the relay has no blob for the message; retrying cannot help.
	ErrNotFound = errors.New("media: blob does not exist")
	// ErrUnavailable means the blob could not be transferred after every attempt.
	ErrUnavailable = errors.New("media: blob transfer failed")
)

// BlobStore is the relay's media surface.
type BlobStore interface {
	PutBlob(ctx context.Context, messageID int64, blob []byte) relay.Status
	GetBlob(ctx context.Context, messageID int64) ([]byte, relay.Status)
}

// Keys supplies the account codec.
type Keys interface {
	Codec() (*crypto.Codec, error)
}

// Config controls media transfers.
type Config struct {
	Blobs   BlobStore
	Keys    Keys
	Files   *FileStore
	Metrics *metrics.Metrics
	// BytesPerSecond paces transfers; zero disables pacing.
	BytesPerSecond int
	Attempts       int

	newBackOff func() backoff.BackOff
}

func (c Config) withDefaults() Config {
	out := c
	if out.Attempts <= 0 {
		out.Attempts = DefaultFetchAttempts
	}
	if out.newBackOff == nil {
		out.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		}
	}
	return out
}

// Transfer moves encrypted media between the relay blob store and local files.
type Transfer struct {
	cfg     Config
	limiter *rate.Limiter
	log     *log.Entry
}

// NewTransfer validates config and builds a Transfer.
func NewTransfer(config Config) (*Transfer, error) {
	cfg := config.withDefaults()
	if cfg.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("key source is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("file store is required")
	}

	t := &Transfer{cfg: cfg, log: logging.For("media")}
	if cfg.BytesPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), relay.MaxBlobSize+64)
	}
	return t, nil
}

func (t *Transfer) pace(ctx context.Context, n int) error {
	if t.limiter == nil || n <= 0 {
		return nil
	}
	return t.limiter.WaitN(ctx, min(n, relay.MaxBlobSize+64))
}

// Download fetches, decrypts and stores the blob of a media message and returns the
// message with Data pointing at the local file. A missing blob fails immediately with
// ErrNotFound; other failures are retried up to the attempt budget.
func (t *Transfer) Download(ctx context.Context, m models.Message) (models.Message, error) {
	codec, err := t.cfg.Keys.Codec()
	if err != nil {
		return m, err
	}

	var blob []byte
	op := func() error {
		data, status := t.cfg.Blobs.GetBlob(ctx, m.ID)
		switch {
		case status.OK():
			blob = data
			return nil
		case status == relay.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case status.Retryable():
			return ErrUnavailable
		default:
			return backoff.Permanent(ErrUnavailable)
		}
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(t.cfg.newBackOff(), uint64(t.cfg.Attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		t.cfg.Metrics.MediaTransfer("download", "failed", 0)
		if errors.Is(err, ErrNotFound) {
			return m, ErrNotFound
		}
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		return m, ErrUnavailable
	}

	if err := t.pace(ctx, len(blob)); err != nil {
		return m, err
	}
	plain, err := codec.DecryptBlob(blob)
	if err != nil {
		t.cfg.Metrics.MediaTransfer("download", "failed", 0)
		return m, fmt.Errorf("decrypt media %d: %w", m.ID, err)
	}
	ref, err := t.cfg.Files.Save(m.ID, m.MimeType, plain)
	if err != nil {
		return m, err
	}

	t.cfg.Metrics.MediaTransfer("download", "ok", int64(len(plain)))
	t.log.WithFields(log.Fields{
		"message_id": m.ID,
		"size":       humanize.Bytes(uint64(len(plain))),
	}).Debug("media downloaded")

	m.Data = ref
	return m, nil
}

// Upload encrypts the local file of a media message and stores it in the relay blob
// store in a single attempt.
func (t *Transfer) Upload(ctx context.Context, m models.Message) error {
	codec, err := t.cfg.Keys.Codec()
	if err != nil {
		return err
	}
	plain, err := t.cfg.Files.Load(m.Data)
	if err != nil {
		return err
	}
	blob, err := codec.EncryptBlob(plain)
	if err != nil {
		return fmt.Errorf("encrypt media %d: %w", m.ID, err)
	}
	if len(blob) > relay.MaxBlobSize {
		t.cfg.Metrics.MediaTransfer("upload", "too_large", 0)
		return fmt.Errorf("media %d is %s, above the %s limit", m.ID,
			humanize.Bytes(uint64(len(blob))), humanize.Bytes(relay.MaxBlobSize))
	}
	if err := t.pace(ctx, len(blob)); err != nil {
		return err
	}

	status := t.cfg.Blobs.PutBlob(ctx, m.ID, blob)
	if !status.OK() {
		t.cfg.Metrics.MediaTransfer("upload", "failed", 0)
		return fmt.Errorf("%w: put media %d: %s", ErrUnavailable, m.ID, status)
	}
	t.cfg.Metrics.MediaTransfer("upload", "ok", int64(len(blob)))
	t.log.WithFields(log.Fields{
		"message_id": m.ID,
		"size":       humanize.Bytes(uint64(len(blob))),
	}).Debug("media uploaded")
	return nil
}
