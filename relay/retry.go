package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"smsrelay/logging"
)

// DefaultRetryAttempts is the total number of tries a mutation gets, first call included.
const DefaultRetryAttempts = 4

// Call is one relay mutation.
type Call func(ctx context.Context) Status

var errRetry = errors.New("relay: transient failure")

// Retrier wraps fire-and-forget mutations. A call that fails transiently is repeated
// with exponential backoff until the attempt budget runs out; then it is dropped with
// a log line.
type Retrier struct {
	ctx        context.Context
	attempts   int
	newBackOff func() backoff.BackOff
	log        *log.Entry
	wg         sync.WaitGroup
}

// NewRetrier binds background retries to ctx; cancelling it abandons pending retries.
func NewRetrier(ctx context.Context, attempts int) *Retrier {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &Retrier{
		ctx:      ctx,
		attempts: attempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
		log: logging.For("relay.retry"),
	}
}

// Do runs call synchronously and returns the final status.
func (r *Retrier) Do(ctx context.Context, name string, call Call) Status {
	final := StatusTransient
	attempt := 0
	op := func() error {
		attempt++
		final = call(ctx)
		switch {
		case final.OK():
			return nil
		case final.Retryable():
			r.log.WithFields(log.Fields{"call": name, "attempt": attempt}).Debug("relay call failed, retrying")
			return errRetry
		default:
			return backoff.Permanent(errRetry)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		r.log.WithFields(log.Fields{
			"call":     name,
			"attempts": attempt,
			"status":   final.String(),
		}).Warn("relay call abandoned")
	}
	return final
}

// Go runs call in the background.
func (r *Retrier) Go(name string, call Call) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Do(r.ctx, name, call)
	}()
}

// Wait blocks until every background call has finished.
func (r *Retrier) Wait() {
	r.wg.Wait()
}
