package bulk

import (
	"context"
	"errors"
	"fmt"
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
	DefaultMessagePageSize      = 5000
	DefaultConversationPageSize = 500
	DefaultContactPageSize      = 1000
	DefaultRecordPageSize       = 1000

	// DefaultEmptyPageRetries is how many consecutive empty answers end an entity type.
	DefaultEmptyPageRetries = 5
	// DefaultEmptyPageDelay separates empty-page retries.
	DefaultEmptyPageDelay = 2 * time.Second

	DefaultDownloadMediaLimit    = 400
	DefaultDownloadMediaDeadline = 5 * time.Minute
	DefaultDownloadMediaWorkers  = 4
)

// DownloaderConfig controls a bulk download.
type DownloaderConfig struct {
	Client  *relay.Client
	Store   *storage.Store
	Keys    Keys
	Media   *media.Transfer
	Metrics *metrics.Metrics

	MessagePageSize      int
	ConversationPageSize int
	ContactPageSize      int
	RecordPageSize       int
	EmptyPageRetries     int
	EmptyPageDelay       time.Duration

	MediaLimit    int
	MediaDeadline time.Duration
	MediaWorkers  int

	sleep func(ctx context.Context, d time.Duration) error
}

func (c DownloaderConfig) withDefaults() DownloaderConfig {
	out := c
	if out.MessagePageSize <= 0 {
		out.MessagePageSize = DefaultMessagePageSize
	}
	if out.ConversationPageSize <= 0 {
		out.ConversationPageSize = DefaultConversationPageSize
	}
	if out.ContactPageSize <= 0 {
		out.ContactPageSize = DefaultContactPageSize
	}
	if out.RecordPageSize <= 0 {
		out.RecordPageSize = DefaultRecordPageSize
	}
	if out.EmptyPageRetries <= 0 {
		out.EmptyPageRetries = DefaultEmptyPageRetries
	}
	if out.EmptyPageDelay <= 0 {
		out.EmptyPageDelay = DefaultEmptyPageDelay
	}
	if out.MediaLimit <= 0 {
		out.MediaLimit = DefaultDownloadMediaLimit
	}
	if out.MediaDeadline <= 0 {
		out.MediaDeadline = DefaultDownloadMediaDeadline
	}
	if out.MediaWorkers <= 0 {
		out.MediaWorkers = DefaultDownloadMediaWorkers
	}
	if out.sleep == nil {
		out.sleep = sleepContext
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DownloadReport summarizes one bulk download.
type DownloadReport struct {
	Entities map[relay.Entity]EntityReport
	// MessagesRetried is set when the message download was repeated because
	// conversations arrived without any messages.
	MessagesRetried bool
	Media           media.Report
}

// Downloader replaces the local store with the relay's state. Structured data is
// written in one transaction; media follows after commit.
type Downloader struct {
	cfg     DownloaderConfig
	running atomic.Bool
	log     *log.Entry
}

// NewDownloader validates config and builds a Downloader.
func NewDownloader(config DownloaderConfig) (*Downloader, error) {
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
	return &Downloader{cfg: cfg, log: logging.For("bulk.download")}, nil
}

// Running reports whether a download is in progress.
func (d *Downloader) Running() bool {
	return d.running.Load()
}

// Run wipes the synced tables and downloads every entity type. Any failure rolls the
// store back to its previous contents.
func (d *Downloader) Run(ctx context.Context) (DownloadReport, error) {
	if !d.running.CompareAndSwap(false, true) {
		return DownloadReport{}, ErrAlreadyRunning
	}
	defer d.running.Store(false)

	codec, err := d.cfg.Keys.Codec()
	if err != nil {
		return DownloadReport{}, err
	}

	report := DownloadReport{Entities: make(map[relay.Entity]EntityReport)}
	started := time.Now()

	err = d.cfg.Store.InTx(func(tx *storage.Store) error {
		if err := tx.WipeSyncedData(); err != nil {
			return err
		}
		return d.downloadAll(ctx, tx, codec, &report)
	})
	if err != nil {
		d.log.WithError(err).Error("bulk download rolled back")
		return report, err
	}
	for entity, rep := range report.Entities {
		d.cfg.Metrics.BulkRecords("download", string(entity), rep.Records)
	}

	if d.cfg.Media != nil {
		report.Media = d.downloadMedia(ctx)
	}

	d.log.WithFields(log.Fields{
		"elapsed":       time.Since(started).Round(time.Millisecond).String(),
		"messages":      report.Entities[relay.Messages].Records,
		"conversations": report.Entities[relay.Conversations].Records,
		"media":         report.Media.Completed,
	}).Info("bulk download finished")
	return report, nil
}

func (d *Downloader) downloadAll(ctx context.Context, tx *storage.Store, codec *crypto.Codec, report *DownloadReport) error {
	size := d.cfg.RecordPageSize
	messages := func() (EntityReport, error) {
		return fetchAll(ctx, d, relay.Messages, d.cfg.MessagePageSize, func(page []relay.MessageBody) (int, int, error) {
			items := make([]models.Message, 0, len(page))
			skipped := 0
			for _, body := range page {
				m := relay.DecodeMessage(codec, body)
				if m.ID == 0 || m.ConversationID == 0 {
					skipped++
					continue
				}
				items = append(items, m)
			}
			n, err := tx.InsertMessages(items)
			return n, skipped, err
		})
	}

	steps := []struct {
		entity relay.Entity
		fetch  func() (EntityReport, error)
	}{
		{relay.Conversations, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.Conversations, d.cfg.ConversationPageSize, insertPage(codec, relay.DecodeConversation, tx.InsertConversations))
		}},
		{relay.Messages, messages},
		{relay.Contacts, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.Contacts, d.cfg.ContactPageSize, insertPage(codec, relay.DecodeContact, tx.InsertContacts))
		}},
		{relay.Drafts, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.Drafts, size, insertEach(codec, relay.DecodeDraft, tx.InsertDraft))
		}},
		{relay.Blacklists, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.Blacklists, size, insertEach(codec, relay.DecodeBlacklist, tx.InsertBlacklist))
		}},
		{relay.ScheduledMessages, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.ScheduledMessages, size, insertEach(codec, relay.DecodeScheduledMessage, tx.InsertScheduledMessage))
		}},
		{relay.Templates, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.Templates, size, insertEach(codec, relay.DecodeTemplate, tx.InsertTemplate))
		}},
		{relay.Folders, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.Folders, size, insertEach(codec, relay.DecodeFolder, tx.InsertFolder))
		}},
		{relay.AutoReplies, func() (EntityReport, error) {
			return fetchAll(ctx, d, relay.AutoReplies, size, insertEach(codec, relay.DecodeAutoReply, tx.InsertAutoReply))
		}},
	}

	for _, step := range steps {
		rep, err := step.fetch()
		report.Entities[step.entity] = rep
		if err != nil {
			return err
		}
		if step.entity == relay.Messages && rep.Records == 0 && report.Entities[relay.Conversations].Records > 0 {
			d.log.Warn("conversations arrived without messages, downloading messages again")
			report.MessagesRetried = true
			rep, err = messages()
			report.Entities[relay.Messages] = rep
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchAll pages through one entity type. The offset advances by the number of records
// received and paging continues while pages come back full. A null page or a
// transient failure counts as empty; after EmptyPageRetries consecutive empty answers
// the type is considered exhausted. A permanent failure aborts the download.
func fetchAll[B any](ctx context.Context, d *Downloader, entity relay.Entity, pageSize int, store func(page []B) (inserted, skipped int, err error)) (EntityReport, error) {
	var rep EntityReport
	offset, empty := 0, 0
	entry := d.log.WithField("entity", entity)

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		page, status := relay.List[B](ctx, d.cfg.Client, entity, pageSize, offset)
		rep.Pages++
		switch status {
		case relay.StatusOK:
		case relay.StatusNotFound:
			entry.Debug("relay has no collection")
			return rep, nil
		case relay.StatusTransient:
			empty++
			if empty >= d.cfg.EmptyPageRetries {
				entry.WithField("attempts", empty).Warn("giving up on empty pages")
				return rep, nil
			}
			entry.WithField("attempt", empty).Debug("empty page, retrying")
			if err := d.cfg.sleep(ctx, d.cfg.EmptyPageDelay); err != nil {
				return rep, err
			}
			continue
		default:
			rep.Failed++
			return rep, fmt.Errorf("list %s at offset %d: %s", entity, offset, status)
		}

		empty = 0
		if len(page) > 0 {
			inserted, skipped, err := store(page)
			if err != nil {
				return rep, fmt.Errorf("store %s page: %w", entity, err)
			}
			rep.Records += inserted
			rep.Skipped += skipped
			offset += len(page)
		}
		if len(page) < pageSize {
			entry.WithFields(log.Fields{"records": rep.Records, "pages": rep.Pages}).Debug("entity downloaded")
			return rep, nil
		}
	}
}

// decodeAll decrypts a page; records that fail to decrypt are skipped.
func decodeAll[B, T any](codec *crypto.Codec, page []B, decode func(*crypto.Codec, B) (T, error)) ([]T, int) {
	items := make([]T, 0, len(page))
	skipped := 0
	for _, body := range page {
		item, err := decode(codec, body)
		if err != nil {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

func insertPage[B, T any](codec *crypto.Codec, decode func(*crypto.Codec, B) (T, error), insert func([]T) (int, error)) func([]B) (int, int, error) {
	return func(page []B) (int, int, error) {
		items, skipped := decodeAll(codec, page, decode)
		inserted, err := insert(items)
		return inserted, skipped, err
	}
}

func insertEach[B, T any](codec *crypto.Codec, decode func(*crypto.Codec, B) (T, error), insert func(T) error) func([]B) (int, int, error) {
	return func(page []B) (int, int, error) {
		items, skipped := decodeAll(codec, page, decode)
		inserted := 0
		for _, item := range items {
			err := insert(item)
			if errors.Is(err, storage.ErrDuplicate) {
				continue
			}
			if err != nil {
				return inserted, skipped, err
			}
			inserted++
		}
		return inserted, skipped, nil
	}
}

func (d *Downloader) downloadMedia(ctx context.Context) media.Report {
	pending, err := d.cfg.Store.ListPendingMediaDownloads(d.cfg.MediaLimit)
	if err != nil {
		d.log.WithError(err).Error("list pending media")
		return media.Report{}
	}
	if len(pending) == 0 {
		return media.Report{}
	}

	var missing atomic.Int64
	tasks := make([]media.Task, 0, len(pending))
	for _, m := range pending {
		m := m
		tasks = append(tasks, func(ctx context.Context) error {
			got, err := d.cfg.Media.Download(ctx, m)
			if errors.Is(err, media.ErrNotFound) {
				missing.Add(1)
				return err
			}
			if err != nil {
				return err
			}
			return d.cfg.Store.UpdateMessageData(got.ID, got.Data, got.MimeType)
		})
	}

	report := media.RunPool(ctx, d.cfg.MediaWorkers, d.cfg.MediaDeadline, tasks)
	entry := d.log.WithFields(log.Fields{
		"total":     report.Total,
		"completed": report.Completed,
		"failed":    report.Failed,
		"missing":   missing.Load(),
	})
	if report.TimedOut {
		entry.Warn("media download stopped by watchdog")
	} else {
		entry.Info("media download finished")
	}
	return report
}
