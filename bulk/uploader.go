package bulk

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"smsrelay/crypto"
	"smsrelay/logging"
	"smsrelay/media"
	"smsrelay/metrics"
	"smsrelay/models"
	"smsrelay/relay"
	"smsrelay/storage"
)

const (
	// DefaultUploadPageSize bounds the records sent in one add call.
	DefaultUploadPageSize = 300
	// DefaultUploadMediaLimit caps the blobs pushed in one run.
	DefaultUploadMediaLimit = 20
	// DefaultUploadMediaDeadline ends the blob phase regardless of remaining items.
	DefaultUploadMediaDeadline = 2 * time.Minute
)

// UploaderConfig controls a bulk upload.
type UploaderConfig struct {
	Client  *relay.Client
	Store   *storage.Store
	Keys    Keys
	Media   *media.Transfer
	Metrics *metrics.Metrics

	PageSize      int
	MediaLimit    int
	MediaDeadline time.Duration
}

func (c UploaderConfig) withDefaults() UploaderConfig {
	out := c
	if out.PageSize <= 0 {
		out.PageSize = DefaultUploadPageSize
	}
	if out.MediaLimit <= 0 {
		out.MediaLimit = DefaultUploadMediaLimit
	}
	if out.MediaDeadline <= 0 {
		out.MediaDeadline = DefaultUploadMediaDeadline
	}
	return out
}

// UploadReport summarizes one bulk upload.
type UploadReport struct {
	Entities map[relay.Entity]EntityReport
	Media    media.Report
}

// Uploader pushes the whole local store to the relay once. Failed pages are logged and
// not retried.
type Uploader struct {
	cfg     UploaderConfig
	running atomic.Bool
	log     *log.Entry
}

// NewUploader validates config and builds an Uploader.
func NewUploader(config UploaderConfig) (*Uploader, error) {
	cfg := config.withDefaults()
	if cfg.Client == nil {
		return nil, errors.New("relay client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("session keys are required")
	}
	return &Uploader{cfg: cfg, log: logging.For("bulk.upload")}, nil
}

// Running reports whether an upload is in progress.
func (u *Uploader) Running() bool {
	return u.running.Load()
}

// Run uploads every entity type, then up to MediaLimit media blobs.
func (u *Uploader) Run(ctx context.Context) (UploadReport, error) {
	if !u.running.CompareAndSwap(false, true) {
		return UploadReport{}, ErrAlreadyRunning
	}
	defer u.running.Store(false)

	codec, err := u.cfg.Keys.Codec()
	if err != nil {
		return UploadReport{}, err
	}

	report := UploadReport{Entities: make(map[relay.Entity]EntityReport)}
	started := time.Now()

	conversations, err := u.cfg.Store.ListConversations()
	if err != nil {
		return report, err
	}
	report.Entities[relay.Conversations] = uploadAll(ctx, u, relay.Conversations, conversations, codec, relay.EncodeConversation)

	pending, rep, err := u.uploadMessages(ctx, codec)
	if err != nil {
		return report, err
	}
	report.Entities[relay.Messages] = rep

	contacts, err := u.cfg.Store.ListContacts()
	if err != nil {
		return report, err
	}
	report.Entities[relay.Contacts] = uploadAll(ctx, u, relay.Contacts, contacts, codec, relay.EncodeContact)

	if err := u.uploadRecords(ctx, codec, report.Entities); err != nil {
		return report, err
	}

	if u.cfg.Media != nil && len(pending) > 0 {
		report.Media = u.uploadMedia(ctx, pending)
	}

	u.log.WithFields(log.Fields{
		"elapsed":       time.Since(started).Round(time.Millisecond).String(),
		"messages":      report.Entities[relay.Messages].Records,
		"conversations": report.Entities[relay.Conversations].Records,
		"media":         report.Media.Completed,
	}).Info("bulk upload finished")
	return report, nil
}

func (u *Uploader) uploadMessages(ctx context.Context, codec *crypto.Codec) ([]models.Message, EntityReport, error) {
	var (
		bodies []relay.MessageBody
		blobs  []models.Message
		rep    EntityReport
	)
	err := u.cfg.Store.EachMessage(func(m models.Message) error {
		wire := m
		if !m.IsText() && !models.IsMediaPlaceholder(m.Data) {
			if len(blobs) < u.cfg.MediaLimit && media.IsLocalRef(m.Data) {
				blobs = append(blobs, m)
			}
			wire.Data = models.MediaPlaceholder
		}
		body, err := relay.EncodeMessage(codec, wire)
		if err != nil {
			rep.Skipped++
			return nil
		}
		bodies = append(bodies, body)
		return nil
	})
	if err != nil {
		return nil, rep, err
	}

	sent := uploadPages(ctx, u, relay.Messages, bodies)
	sent.Skipped = rep.Skipped
	return blobs, sent, nil
}

func (u *Uploader) uploadRecords(ctx context.Context, codec *crypto.Codec, out map[relay.Entity]EntityReport) error {
	drafts, err := u.cfg.Store.ListDrafts()
	if err != nil {
		return err
	}
	out[relay.Drafts] = uploadAll(ctx, u, relay.Drafts, drafts, codec, relay.EncodeDraft)

	blacklists, err := u.cfg.Store.ListBlacklists()
	if err != nil {
		return err
	}
	out[relay.Blacklists] = uploadAll(ctx, u, relay.Blacklists, blacklists, codec, relay.EncodeBlacklist)

	scheduled, err := u.cfg.Store.ListScheduledMessages()
	if err != nil {
		return err
	}
	out[relay.ScheduledMessages] = uploadAll(ctx, u, relay.ScheduledMessages, scheduled, codec, relay.EncodeScheduledMessage)

	templates, err := u.cfg.Store.ListTemplates()
	if err != nil {
		return err
	}
	out[relay.Templates] = uploadAll(ctx, u, relay.Templates, templates, codec, relay.EncodeTemplate)

	folders, err := u.cfg.Store.ListFolders()
	if err != nil {
		return err
	}
	out[relay.Folders] = uploadAll(ctx, u, relay.Folders, folders, codec, relay.EncodeFolder)

	replies, err := u.cfg.Store.ListAutoReplies()
	if err != nil {
		return err
	}
	out[relay.AutoReplies] = uploadAll(ctx, u, relay.AutoReplies, replies, codec, relay.EncodeAutoReply)
	return nil
}

// uploadAll encodes records and sends them in pages. Records that fail to encode are
// left out.
func uploadAll[T, B any](ctx context.Context, u *Uploader, entity relay.Entity, items []T, codec *crypto.Codec, encode func(*crypto.Codec, T) (B, error)) EntityReport {
	bodies := make([]B, 0, len(items))
	skipped := 0
	for _, item := range items {
		body, err := encode(codec, item)
		if err != nil {
			skipped++
			continue
		}
		bodies = append(bodies, body)
	}
	rep := uploadPages(ctx, u, entity, bodies)
	rep.Skipped = skipped
	return rep
}

func uploadPages[B any](ctx context.Context, u *Uploader, entity relay.Entity, bodies []B) EntityReport {
	var rep EntityReport
	for start := 0; start < len(bodies); start += u.cfg.PageSize {
		end := min(start+u.cfg.PageSize, len(bodies))
		rep.Pages++
		if status := relay.Add(ctx, u.cfg.Client, entity, bodies[start:end]); !status.OK() {
			rep.Failed++
			continue
		}
		rep.Records += end - start
	}

	u.cfg.Metrics.BulkRecords("upload", string(entity), rep.Records)
	entry := u.log.WithFields(log.Fields{
		"entity":  entity,
		"records": rep.Records,
		"pages":   rep.Pages,
	})
	if rep.Failed > 0 {
		entry.WithField("failed_pages", rep.Failed).Error("bulk upload incomplete")
	} else {
		entry.Debug("entity uploaded")
	}
	return rep
}

func (u *Uploader) uploadMedia(ctx context.Context, messages []models.Message) media.Report {
	tasks := make([]media.Task, 0, len(messages))
	for _, m := range messages {
		m := m
		tasks = append(tasks, func(ctx context.Context) error {
			return u.cfg.Media.Upload(ctx, m)
		})
	}

	report := media.RunPool(ctx, 1, u.cfg.MediaDeadline, tasks)
	entry := u.log.WithFields(log.Fields{
		"total":     report.Total,
		"completed": report.Completed,
		"failed":    report.Failed,
	})
	if report.TimedOut {
		entry.Warn("media upload stopped by watchdog")
	} else {
		entry.Info("media upload finished")
	}
	return report
}
