// Package pubsub fans controller events out to in-process consumers such
// as the event exporter.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

// Topics published by the controller.
const (
	TopicTopologyChanged = "topology.changed"
	TopicLinkUtilization = "link.utilization"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 100

var ErrShutdown = errors.New("pubsub shut down")

// PubSub delivers messages to topic subscribers without blocking the
// publisher: a subscriber whose queue is full misses the message.
type PubSub struct {
	logger  logging.Logger
	buffer  int
	dropped atomic.Uint64

	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}

	shutdown   chan struct{}
	shutdownMu sync.Mutex
	isShutdown bool
}

// Subscription is one consumer of a topic.
type Subscription struct {
	topic     string
	channel   chan any
	ps        *PubSub
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPubSub creates a bus; buffer <= 0 selects DefaultBuffer.
func NewPubSub(buffer int, logger logging.Logger) *PubSub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PubSub{
		logger:      logger.With(logging.Component("pubsub")),
		buffer:      buffer,
		subscribers: make(map[string]map[*Subscription]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// Subscribe registers a consumer of topic until ctx ends or Unsubscribe.
func (ps *PubSub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps.shutdownMu.Lock()
	down := ps.isShutdown
	ps.shutdownMu.Unlock()
	if down {
		return nil, ErrShutdown
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:   topic,
		channel: make(chan any, ps.buffer),
		ps:      ps,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription]struct{})
	}
	ps.subscribers[topic][sub] = struct{}{}
	ps.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
			// Shutdown closes the channel.
			cancel()
		}
	}()

	return sub, nil
}

// Publish sends message to every subscriber of topic.
func (ps *PubSub) Publish(topic string, message any) {
	ps.shutdownMu.Lock()
	down := ps.isShutdown
	ps.shutdownMu.Unlock()
	if down {
		return
	}

	// Channels are closed under the write lock, so sending under the read
	// lock never hits a closed channel. Sends do not block.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for sub := range ps.subscribers[topic] {
		select {
		case sub.channel <- message:
		default:
			ps.dropped.Add(1)
			ps.logger.Warn("subscriber queue full, message dropped", logging.String("topic", topic))
		}
	}
}

// SubscriberCount returns the number of subscribers of topic.
func (ps *PubSub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Dropped counts messages lost to full subscriber queues.
func (ps *PubSub) Dropped() uint64 { return ps.dropped.Load() }

// Shutdown closes every subscription. Later publishes are ignored.
func (ps *PubSub) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	close(ps.shutdown)

	ps.mu.Lock()
	for topic, subs := range ps.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	ps.mu.Unlock()
}

// Channel returns the subscription's message channel. It is closed when
// the subscription ends.
func (s *Subscription) Channel() <-chan any {
	return s.channel
}

func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	if subs := s.ps.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.ps.subscribers, s.topic)
		}
	}
	s.ps.mu.Unlock()

	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
