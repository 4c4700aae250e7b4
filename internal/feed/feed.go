// Package feed is the change notification stream for session data. Each
// session has one channel; a message on it means "something changed" and
// nothing more. The payload is deliberately opaque: consumers react with a
// full refetch, so delivery granularity and ordering richness never matter.
package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const pulseBuffer = 16

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Feed struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Feed {
	return &Feed{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

func (f *Feed) channel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:changes", f.prefix, sessionID)
}

// Publish signals that something about the session's data changed. The kind
// of change is intentionally not part of the contract.
func (f *Feed) Publish(ctx context.Context, sessionID string) error {
	if err := f.redis.Publish(ctx, f.channel(sessionID), "changed").Err(); err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}

	return nil
}

// Subscribe opens a notification stream scoped to one session. The returned
// subscription must be closed on every exit path of the owning view.
func (f *Feed) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	ps := f.redis.Subscribe(ctx, f.channel(sessionID))

	// Force the SUBSCRIBE round trip so a dead broker fails here, not later.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("feed: subscribe session=%s: %w", sessionID, err)
	}

	s := &Subscription{
		pubsub: ps,
		c:      make(chan struct{}, pulseBuffer),
		done:   make(chan struct{}),
	}

	go s.forward()

	return s, nil
}

// Subscription yields one pulse per delivered notification, in arrival order.
type Subscription struct {
	pubsub *redis.PubSub
	c      chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) forward() {
	defer close(s.c)

	for range s.pubsub.Channel() {
		select {
		case s.c <- struct{}{}:
		case <-s.done:
			return
		}
	}
}

// C yields pulses; it is closed when the subscription ends.
func (s *Subscription) C() <-chan struct{} {
	return s.c
}

// Close unsubscribes. Idempotent; no pulse is delivered after Close returns.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})

	return err
}
