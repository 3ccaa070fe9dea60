package delta

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"smsrelay/crypto"
	"smsrelay/events"
	"smsrelay/logging"
	"smsrelay/metrics"
	"smsrelay/models"
	"smsrelay/relay"
	"smsrelay/storage"
)

const (
	// DefaultCacheSize bounds the recipient to conversation lookup cache.
	DefaultCacheSize = 512
	// ClockSkew is how far a sending message's timestamp may trail local time before it
	// is replaced with now.
	ClockSkew = 5 * time.Minute
	// DefaultMediaDeadline bounds the blob fetch for one pushed media message.
	DefaultMediaDeadline = time.Minute
)

// ErrAccountRemoved is the invalidation reason after a removed_account delta.
var ErrAccountRemoved = errors.New("delta: account removed on another device")

// errSkip marks an operation that was deliberately not applied.
var errSkip = errors.New("skipped")

// Session is the account state the processor reads and updates.
type Session interface {
	Codec() (*crypto.Codec, error)
	DeviceID() int64
	Primary() bool
	SetPrimary(primary bool) error
	Invalidate(reason error)
}

// Sender dispatches a message over the carrier network.
type Sender interface {
	Send(ctx context.Context, recipients []string, m models.Message) error
}

// Publisher mirrors changes the processor makes on behalf of other devices.
type Publisher interface {
	AddMessage(ctx context.Context, m models.Message) relay.Status
	AddConversation(ctx context.Context, c models.Conversation) relay.Status
	UpdateMessageType(id int64, messageType models.MessageType)
	UpdateConversationSnippet(c models.Conversation)
}

// ConversationFetcher loads a single conversation from the relay.
type ConversationFetcher interface {
	GetConversation(ctx context.Context, id int64) (relay.ConversationBody, relay.Status)
}

// MediaFetcher downloads the blob behind a media placeholder.
type MediaFetcher interface {
	Download(ctx context.Context, m models.Message) (models.Message, error)
}

// Config wires the processor to its collaborators. Sender and Media are optional:
// without a Sender the device never dispatches carrier messages, without Media
// placeholders stay in place until the next bulk download.
type Config struct {
	Store     *storage.Store
	Session   Session
	Publisher Publisher
	Fetcher   ConversationFetcher
	Sender    Sender
	Media     MediaFetcher
	Events    *events.Bus
	Metrics   *metrics.Metrics
	CacheSize int

	// MediaDeadline caps the media download of a single pushed message.
	MediaDeadline time.Duration

	now func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.CacheSize <= 0 {
		out.CacheSize = DefaultCacheSize
	}
	if out.MediaDeadline <= 0 {
		out.MediaDeadline = DefaultMediaDeadline
	}
	if out.now == nil {
		out.now = time.Now
	}
	return out
}

// Processor applies pushed operations to the local store, one at a time, in arrival
// order.
type Processor struct {
	cfg        Config
	recipients *lru.Cache[string, int64]
	log        *log.Entry
}

// NewProcessor validates config and builds a Processor.
func NewProcessor(config Config) (*Processor, error) {
	cfg := config.withDefaults()
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("conversation fetcher is required")
	}
	recipients, err := lru.New[string, int64](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("recipient cache: %w", err)
	}
	return &Processor{
		cfg:        cfg,
		recipients: recipients,
		log:        logging.For("delta"),
	}, nil
}

// Run decodes and applies frames until ctx is done or frames is closed.
func (p *Processor) Run(ctx context.Context, frames <-chan relay.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.HandleFrame(ctx, frame)
		}
	}
}

// HandleFrame decodes one frame and applies it. Frames that cannot be decoded are
// logged and dropped.
func (p *Processor) HandleFrame(ctx context.Context, frame relay.Frame) {
	entry := p.log.WithField("operation", frame.Operation)

	codec, err := p.cfg.Session.Codec()
	if err != nil {
		p.cfg.Metrics.Delta(frame.Operation, "failed")
		entry.WithError(err).Warn("no key, dropping delta")
		return
	}
	op, err := Decode(frame, codec)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownOperation):
			p.cfg.Metrics.Delta("unknown", "unsupported")
			entry.Warn("unsupported delta operation")
		default:
			p.cfg.Metrics.Delta(frame.Operation, "malformed")
			entry.WithError(err).Warn("dropping malformed delta")
		}
		return
	}
	_ = p.Apply(ctx, op)
}

// Apply runs one decoded operation and records the outcome. Skipped operations return
// nil.
func (p *Processor) Apply(ctx context.Context, op Operation) error {
	err := p.handle(ctx, op)
	entry := p.log.WithField("operation", op.Name())
	switch {
	case err == nil:
		p.cfg.Metrics.Delta(op.Name(), "applied")
		entry.Debug("delta applied")
		return nil
	case errors.Is(err, errSkip), errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrDuplicate):
		p.cfg.Metrics.Delta(op.Name(), "skipped")
		entry.WithField("reason", err.Error()).Debug("delta skipped")
		return nil
	default:
		p.cfg.Metrics.Delta(op.Name(), "failed")
		entry.WithError(err).Error("apply delta")
		return err
	}
}

func (p *Processor) handle(ctx context.Context, op Operation) error {
	store := p.cfg.Store

	switch o := op.(type) {
	case RemovedAccount:
		if err := store.WipeSyncedData(); err != nil {
			return err
		}
		p.cfg.Session.Invalidate(ErrAccountRemoved)
		p.recipients.Purge()
		p.conversationChanged(events.Removed, 0)
		return nil
	case UpdatedAccount:
		if err := store.PutSetting(models.Setting{Key: SettingAccountName, Value: o.RealName}); err != nil {
			return err
		}
		return store.PutSetting(models.Setting{Key: SettingAccountPhone, Value: o.PhoneNumber})
	case CleanedAccount:
		if err := store.WipeSyncedData(); err != nil {
			return err
		}
		p.recipients.Purge()
		p.conversationChanged(events.Removed, 0)
		return nil

	case AddedMessage:
		return p.addMessage(ctx, o.Message)
	case UpdateMessageType:
		return p.updateMessage(o.ID, func(m *models.Message) { m.Type = o.Type })
	case UpdatedMessage:
		return p.updateMessage(o.ID, func(m *models.Message) {
			m.Type, m.Timestamp, m.Read, m.Seen = o.Type, o.Timestamp, o.Read, o.Seen
		})
	case RemovedMessage:
		return p.removeMessage(o.ID)
	case CleanupMessages:
		if _, err := store.DeleteMessagesBefore(o.Timestamp); err != nil {
			return err
		}
		p.messageChanged(events.Removed, 0, 0, 0)
		return nil
	case CleanupConversationMessages:
		if _, err := store.DeleteConversationMessagesBefore(o.ConversationID, o.Timestamp); err != nil {
			return err
		}
		p.messageChanged(events.Removed, o.ConversationID, 0, 0)
		return nil

	case AddedContact:
		return store.InsertContact(o.Contact)
	case UpdatedContact:
		return store.UpdateContactByPhone(o.PhoneNumber, o.ContactName, o.Colors)
	case RemovedContact:
		_, err := store.DeleteContactsByPhone([]string{o.PhoneNumber})
		return err
	case RemovedContactByID:
		return store.DeleteContact(o.ID)

	case AddedConversation:
		if err := store.InsertConversation(o.Conversation); err != nil {
			return err
		}
		p.remember(o.Conversation)
		p.conversationChanged(events.Added, o.Conversation.ID)
		return nil
	case UpdateConversationSnippet:
		if err := store.UpdateConversationSnippet(o.ID, o.Snippet, o.Timestamp, o.Read); err != nil {
			return err
		}
		if o.Archive {
			if err := store.SetConversationArchived(o.ID, true); err != nil {
				return err
			}
		}
		p.cfg.Events.ConversationChanged(events.ConversationEvent{
			Change:         events.Updated,
			ConversationID: o.ID,
			Snippet:        o.Snippet,
			Read:           o.Read,
			Timestamp:      o.Timestamp,
		})
		return nil
	case UpdateConversationTitle:
		if err := store.UpdateConversationTitle(o.ID, o.Title); err != nil {
			return err
		}
		p.conversationChanged(events.Updated, o.ID)
		return nil
	case UpdatedConversation:
		if err := store.UpdateConversation(o.Conversation); err != nil {
			return err
		}
		p.remember(o.Conversation)
		p.conversationChanged(events.Updated, o.Conversation.ID)
		return nil
	case RemovedConversation:
		if c, err := store.GetConversation(o.ID); err == nil {
			p.recipients.Remove(c.PhoneNumbers)
		}
		if err := store.DeleteConversation(o.ID); err != nil {
			return err
		}
		p.conversationChanged(events.Removed, o.ID)
		return nil
	case ReadConversation:
		if o.DeviceID == p.cfg.Session.DeviceID() {
			return errSkip
		}
		if err := store.SetConversationRead(o.ID); err != nil {
			return err
		}
		p.conversationChanged(events.Updated, o.ID)
		return nil
	case SeenConversation:
		if err := store.SetConversationSeen(o.ID); err != nil {
			return err
		}
		p.messageChanged(events.Updated, o.ID, 0, 0)
		return nil
	case ArchiveConversation:
		if err := store.SetConversationArchived(o.ID, o.Archive); err != nil {
			return err
		}
		p.conversationChanged(events.Updated, o.ID)
		return nil
	case SeenConversations:
		if err := store.SetAllSeen(); err != nil {
			return err
		}
		p.messageChanged(events.Updated, 0, 0, 0)
		return nil

	case AddedDraft:
		return store.InsertDraft(o.Draft)
	case ReplacedDrafts:
		return store.ReplaceDrafts(o.Draft.ConversationID, []models.Draft{o.Draft})
	case RemovedDrafts:
		if o.DeviceID == p.cfg.Session.DeviceID() {
			return errSkip
		}
		return store.DeleteDrafts(o.ConversationID)

	case AddedBlacklist:
		return store.InsertBlacklist(o.Blacklist)
	case RemovedBlacklist:
		return store.DeleteBlacklist(o.ID)

	case AddedScheduledMessage:
		return store.InsertScheduledMessage(o.ScheduledMessage)
	case UpdatedScheduledMessage:
		return store.UpdateScheduledMessage(o.ScheduledMessage)
	case RemovedScheduledMessage:
		return store.DeleteScheduledMessage(o.ID)

	case AddedTemplate:
		return store.InsertTemplate(o.Template)
	case UpdatedTemplate:
		return store.UpdateTemplate(o.Template)
	case RemovedTemplate:
		return store.DeleteTemplate(o.ID)

	case AddedAutoReply:
		return store.InsertAutoReply(o.AutoReply)
	case UpdatedAutoReply:
		return store.UpdateAutoReply(o.AutoReply)
	case RemovedAutoReply:
		return store.DeleteAutoReply(o.ID)

	case AddedFolder:
		return store.InsertFolder(o.Folder)
	case AddConversationToFolder:
		folderID := o.FolderID
		if err := store.SetConversationFolder(o.ConversationID, &folderID); err != nil {
			return err
		}
		p.conversationChanged(events.Updated, o.ConversationID)
		return nil
	case RemoveConversationFromFolder:
		if err := store.SetConversationFolder(o.ConversationID, nil); err != nil {
			return err
		}
		p.conversationChanged(events.Updated, o.ConversationID)
		return nil
	case UpdatedFolder:
		return store.UpdateFolder(o.Folder)
	case RemovedFolder:
		if err := store.DeleteFolder(o.ID); err != nil {
			return err
		}
		p.conversationChanged(events.Updated, 0)
		return nil

	case UpdateSetting:
		return store.PutSetting(o.Setting)
	case DismissedNotification:
		if o.DeviceID == p.cfg.Session.DeviceID() {
			return errSkip
		}
		if err := store.SetConversationSeen(o.ConversationID); err != nil {
			return err
		}
		p.messageChanged(events.Updated, o.ConversationID, 0, 0)
		return nil
	case UpdateSubscription:
		return p.putSettings(
			models.Setting{Key: SettingSubscriptionType, Type: "int", Value: fmt.Sprint(o.Type)},
			models.Setting{Key: SettingSubscriptionExpiration, Type: "long", Value: fmt.Sprint(o.Expiration)},
		)
	case UpdatePrimaryDevice:
		primary := o.DeviceID == p.cfg.Session.DeviceID()
		if err := p.cfg.Session.SetPrimary(primary); err != nil {
			return err
		}
		p.log.WithField("primary", primary).Info("primary device changed")
		return nil
	case FeatureFlag:
		return p.putSettings(
			models.Setting{Key: SettingFeatureFlagPrefix + o.Identifier, Type: "boolean", Value: fmt.Sprint(o.Value)},
			models.Setting{Key: SettingFeatureFlagPrefix + o.Identifier + ".rollout", Type: "int", Value: fmt.Sprint(o.Rollout)},
		)
	case ForwardToPhone:
		return p.forwardToPhone(ctx, o)
	}
	return fmt.Errorf("%w: %T", ErrUnknownOperation, op)
}

// Setting keys written by account-wide operations.
const (
	SettingAccountName            = "account.real_name"
	SettingAccountPhone           = "account.phone_number"
	SettingSubscriptionType       = "subscription.type"
	SettingSubscriptionExpiration = "subscription.expiration"
	SettingFeatureFlagPrefix      = "feature_flag."
)

func (p *Processor) putSettings(settings ...models.Setting) error {
	for _, s := range settings {
		if err := p.cfg.Store.PutSetting(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) remember(c models.Conversation) {
	if key := models.NormalizePhoneNumbers(c.PhoneNumbers); key != "" {
		p.recipients.Add(key, c.ID)
	}
}

func (p *Processor) messageChanged(change events.Change, conversationID, messageID int64, messageType models.MessageType) {
	p.cfg.Events.MessageChanged(events.MessageEvent{
		Change:         change,
		ConversationID: conversationID,
		MessageID:      messageID,
		Type:           messageType,
	})
}

// conversationChanged emits the stored state of a conversation. An id of 0, or one
// that no longer exists, emits a bare event.
func (p *Processor) conversationChanged(change events.Change, id int64) {
	event := events.ConversationEvent{Change: change, ConversationID: id}
	if id != 0 && change != events.Removed {
		if c, err := p.cfg.Store.GetConversation(id); err == nil {
			event.Snippet = c.Snippet
			event.Title = c.Title
			event.Read = c.Read
			event.Timestamp = c.Timestamp
		}
	}
	p.cfg.Events.ConversationChanged(event)
}
