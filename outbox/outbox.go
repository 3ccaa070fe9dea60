package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"smsrelay/logging"
	"smsrelay/metrics"
	"smsrelay/models"
	"smsrelay/relay"
	"smsrelay/storage"
)

// DefaultInterval is how often the queue is drained when nothing kicks it sooner.
const DefaultInterval = 5 * time.Minute

// Queue is the durable table behind the outbox.
type Queue interface {
	EnqueueRetryable(kind models.RetryKind, entityID int64) error
	DrainRetryables() ([]models.RetryableRequest, error)
	CountRetryables() (int, error)
}

// Entities re-reads queued entities at replay time.
type Entities interface {
	GetMessage(id int64) (*models.Message, error)
	GetConversation(id int64) (*models.Conversation, error)
}

// Publisher re-issues an add through the live mutation path.
type Publisher interface {
	AddMessage(ctx context.Context, m models.Message) relay.Status
	AddConversation(ctx context.Context, c models.Conversation) relay.Status
}

// Outbox is the retryable request queue for relay adds that failed.
type Outbox struct {
	queue   Queue
	metrics *metrics.Metrics
	log     *log.Entry
}

// New wraps a durable queue.
func New(queue Queue, m *metrics.Metrics) *Outbox {
	return &Outbox{queue: queue, metrics: m, log: logging.For("outbox")}
}

// Enqueue records a failed add. Re-enqueueing the same entity keeps one row.
func (o *Outbox) Enqueue(kind models.RetryKind, entityID int64) error {
	if err := o.queue.EnqueueRetryable(kind, entityID); err != nil {
		return err
	}
	o.log.WithFields(log.Fields{"kind": kind, "entity_id": entityID}).Debug("queued for retry")
	return nil
}

// DrainAll returns every queued request and removes them in the same transaction.
func (o *Outbox) DrainAll() ([]models.RetryableRequest, error) {
	return o.queue.DrainRetryables()
}

// Depth returns the number of queued requests.
func (o *Outbox) Depth() int {
	n, err := o.queue.CountRetryables()
	if err != nil {
		return 0
	}
	return n
}

// ReplayResult summarizes one drain.
type ReplayResult struct {
	Replayed int
	Skipped  int
	Failed   int
}

// Config wires the periodic drain.
type Config struct {
	Outbox    *Outbox
	Entities  Entities
	Publisher Publisher
	Interval  time.Duration
	// Online reports whether the relay is plausibly reachable; nil means always.
	Online func(ctx context.Context) bool
}

// Runner drains the outbox periodically and on Kick.
type Runner struct {
	cfg Config
	log *log.Entry

	kick chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewRunner validates config and builds a Runner.
func NewRunner(config Config) (*Runner, error) {
	cfg := config
	if cfg.Outbox == nil || cfg.Entities == nil || cfg.Publisher == nil {
		return nil, errors.New("outbox, entities and publisher are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Runner{
		cfg:  cfg,
		log:  logging.For("outbox"),
		kick: make(chan struct{}, 1),
	}, nil
}

// Start begins the background drain loop.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(context.Background())
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop ends the loop and waits for an in-flight drain.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// Kick requests an immediate drain, typically after connectivity returns.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-r.kick:
		case <-r.ctx.Done():
			return
		}
		if r.cfg.Online != nil && !r.cfg.Online(r.ctx) {
			r.log.Debug("relay unreachable, skipping drain")
			continue
		}
		r.DrainOnce(r.ctx)
	}
}

// DrainOnce replays every queued request. Each entity is read fresh from the store;
// one that no longer exists is skipped and one that cannot be read is requeued. A
// replay that fails again lands back in the queue through the publisher.
func (r *Runner) DrainOnce(ctx context.Context) ReplayResult {
	var result ReplayResult

	requests, err := r.cfg.Outbox.DrainAll()
	if err != nil {
		r.log.WithError(err).Error("drain outbox")
		return result
	}
	r.cfg.Outbox.metrics.OutboxDepth(len(requests))

	for _, req := range requests {
		status, found := r.replay(ctx, req)
		outcome := "ok"
		switch {
		case !found:
			result.Skipped++
			outcome = "skipped"
		case status.OK():
			result.Replayed++
		default:
			result.Failed++
			outcome = status.String()
		}
		r.cfg.Outbox.metrics.OutboxReplay(string(req.Kind), outcome)
	}

	if len(requests) > 0 {
		r.log.WithFields(log.Fields{
			"replayed": result.Replayed,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		}).Info("outbox drained")
	}
	return result
}

func (r *Runner) replay(ctx context.Context, req models.RetryableRequest) (relay.Status, bool) {
	switch req.Kind {
	case models.RetryAddMessage:
		m, err := r.cfg.Entities.GetMessage(req.EntityID)
		if err != nil {
			return r.lookupFailed(req, err)
		}
		return r.cfg.Publisher.AddMessage(ctx, *m), true
	case models.RetryAddConversation:
		c, err := r.cfg.Entities.GetConversation(req.EntityID)
		if err != nil {
			return r.lookupFailed(req, err)
		}
		return r.cfg.Publisher.AddConversation(ctx, *c), true
	default:
		r.log.WithField("kind", req.Kind).Warn("unknown retry kind")
		return relay.StatusPermanent, false
	}
}

// lookupFailed drops a request whose entity was deleted locally and puts any other
// failed reload back in the queue for the next drain.
func (r *Runner) lookupFailed(req models.RetryableRequest, err error) (relay.Status, bool) {
	entry := r.log.WithFields(log.Fields{"kind": req.Kind, "entity_id": req.EntityID})
	if errors.Is(err, storage.ErrNotFound) {
		entry.Debug("queued entity deleted locally, dropping")
		return relay.StatusOK, false
	}
	entry.WithError(err).Warn("reload queued entity, requeueing")
	if err := r.cfg.Outbox.Enqueue(req.Kind, req.EntityID); err != nil {
		entry.WithError(err).Error("requeue failed")
	}
	return relay.StatusTransient, true
}
