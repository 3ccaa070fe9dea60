package mirror

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"smsrelay/crypto"
	"smsrelay/logging"
	"smsrelay/media"
	"smsrelay/models"
	"smsrelay/outbox"
	"smsrelay/relay"
)

// Keys is the part of the session the mirror needs.
type Keys interface {
	Codec() (*crypto.Codec, error)
	DeviceID() int64
}

// Config wires the mirror to the relay.
type Config struct {
	Client  *relay.Client
	Keys    Keys
	Outbox  *outbox.Outbox
	Retrier *relay.Retrier
	// Media uploads blobs of new media messages. Nil skips blob uploads.
	Media *media.Transfer
}

// Mirror publishes local edits to the relay. Message and conversation adds are
// synchronous and fall back to the outbox; every other mutation runs in the
// background through the retrier.
type Mirror struct {
	client  *relay.Client
	keys    Keys
	outbox  *outbox.Outbox
	retrier *relay.Retrier
	media   *media.Transfer
	log     *log.Entry
}

// New validates config and builds a Mirror.
func New(cfg Config) (*Mirror, error) {
	if cfg.Client == nil {
		return nil, errors.New("relay client is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("session keys are required")
	}
	if cfg.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if cfg.Retrier == nil {
		return nil, errors.New("retrier is required")
	}
	return &Mirror{
		client:  cfg.Client,
		keys:    cfg.Keys,
		outbox:  cfg.Outbox,
		retrier: cfg.Retrier,
		media:   cfg.Media,
		log:     logging.For("mirror"),
	}, nil
}

// Wait blocks until background mutations have finished.
func (m *Mirror) Wait() {
	m.retrier.Wait()
}

// rejected queues a failed add only when repeating it may succeed. An add the relay
// refused outright is logged and dropped.
func (m *Mirror) rejected(kind models.RetryKind, id int64, status relay.Status) {
	if status.Retryable() {
		m.enqueue(kind, id, status)
		return
	}
	m.log.WithFields(log.Fields{
		"kind":      kind,
		"entity_id": id,
		"status":    status.String(),
	}).Warn("relay rejected add, not retrying")
}

func (m *Mirror) enqueue(kind models.RetryKind, id int64, status relay.Status) {
	if err := m.outbox.Enqueue(kind, id); err != nil {
		m.log.WithError(err).WithFields(log.Fields{"kind": kind, "entity_id": id}).Error("queue failed add")
		return
	}
	m.log.WithFields(log.Fields{
		"kind":      kind,
		"entity_id": id,
		"status":    status.String(),
	}).Info("relay add failed, queued for retry")
}

// AddMessage publishes a new message. A media message travels with the placeholder
// payload and its blob is uploaded separately once the add succeeds.
func (m *Mirror) AddMessage(ctx context.Context, msg models.Message) relay.Status {
	codec, err := m.keys.Codec()
	if err != nil {
		m.enqueue(models.RetryAddMessage, msg.ID, relay.StatusPermanent)
		return relay.StatusPermanent
	}

	wire := msg
	upload := !msg.IsText() && media.IsLocalRef(msg.Data)
	if upload {
		wire.Data = models.MediaPlaceholder
	}
	body, err := relay.EncodeMessage(codec, wire)
	if err != nil {
		m.log.WithError(err).WithField("message_id", msg.ID).Error("encode message")
		return relay.StatusPermanent
	}

	status := relay.Add(ctx, m.client, relay.Messages, []relay.MessageBody{body})
	if !status.OK() {
		m.rejected(models.RetryAddMessage, msg.ID, status)
		return status
	}
	if upload && m.media != nil {
		m.uploadBlob(msg)
	}
	return status
}

func (m *Mirror) uploadBlob(msg models.Message) {
	m.retrier.Go("upload_media", func(ctx context.Context) relay.Status {
		err := m.media.Upload(ctx, msg)
		switch {
		case err == nil:
			return relay.StatusOK
		case errors.Is(err, media.ErrUnavailable):
			return relay.StatusTransient
		default:
			m.log.WithError(err).WithField("message_id", msg.ID).Warn("media upload skipped")
			return relay.StatusPermanent
		}
	})
}

// AddConversation publishes a new conversation.
func (m *Mirror) AddConversation(ctx context.Context, c models.Conversation) relay.Status {
	codec, err := m.keys.Codec()
	if err != nil {
		m.enqueue(models.RetryAddConversation, c.ID, relay.StatusPermanent)
		return relay.StatusPermanent
	}
	body, err := relay.EncodeConversation(codec, c)
	if err != nil {
		m.log.WithError(err).WithField("conversation_id", c.ID).Error("encode conversation")
		return relay.StatusPermanent
	}

	status := relay.Add(ctx, m.client, relay.Conversations, []relay.ConversationBody{body})
	if !status.OK() {
		m.rejected(models.RetryAddConversation, c.ID, status)
	}
	return status
}

// fire runs a mutation in the background with retries.
func (m *Mirror) fire(name string, call relay.Call) {
	m.retrier.Go(name, call)
}

// sealed encrypts fields before a background mutation. It returns false when the key
// is unavailable or encryption fails; the mutation is then dropped.
func (m *Mirror) sealed(name string, encode func(codec *crypto.Codec) error) bool {
	codec, err := m.keys.Codec()
	if err == nil {
		err = encode(codec)
	}
	if err != nil {
		m.log.WithError(err).WithField("call", name).Warn("mutation not published")
		return false
	}
	return true
}

// fireAdd encrypts one record and publishes it in the background.
func fireAdd[T, B any](m *Mirror, entity relay.Entity, item T, encode func(*crypto.Codec, T) (B, error)) {
	name := "add_" + string(entity)
	var body B
	ok := m.sealed(name, func(codec *crypto.Codec) error {
		var err error
		body, err = encode(codec, item)
		return err
	})
	if !ok {
		return
	}
	m.fire(name, func(ctx context.Context) relay.Status {
		return relay.Add(ctx, m.client, entity, []B{body})
	})
}

// fireUpdate encrypts one record and replaces it in the background.
func fireUpdate[T, B any](m *Mirror, entity relay.Entity, id int64, item T, encode func(*crypto.Codec, T) (B, error)) {
	name := "update_" + string(entity)
	var body B
	ok := m.sealed(name, func(codec *crypto.Codec) error {
		var err error
		body, err = encode(codec, item)
		return err
	})
	if !ok {
		return
	}
	m.fire(name, func(ctx context.Context) relay.Status {
		return m.client.Update(ctx, entity, id, body)
	})
}

func (m *Mirror) fireRemove(entity relay.Entity, id int64) {
	m.fire("remove_"+string(entity), func(ctx context.Context) relay.Status {
		return m.client.Remove(ctx, entity, id)
	})
}
