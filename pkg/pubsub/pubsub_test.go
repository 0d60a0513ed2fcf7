package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, sub *Subscription) any {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message on %s", sub.Topic())
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	ps := NewPubSub(0, nil)
	defer ps.Shutdown()

	sub1, err := ps.Subscribe(context.Background(), TopicTopologyChanged)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	sub2, _ := ps.Subscribe(context.Background(), TopicTopologyChanged)

	ps.Publish(TopicTopologyChanged, "v1")

	for _, sub := range []*Subscription{sub1, sub2} {
		if msg := receive(t, sub); msg != "v1" {
			t.Errorf("Expected v1, got %v", msg)
		}
	}
}

func TestTopicIsolation(t *testing.T) {
	ps := NewPubSub(0, nil)
	defer ps.Shutdown()

	topo, _ := ps.Subscribe(context.Background(), TopicTopologyChanged)
	util, _ := ps.Subscribe(context.Background(), TopicLinkUtilization)

	ps.Publish(TopicLinkUtilization, 0.5)

	if msg := receive(t, util); msg != 0.5 {
		t.Errorf("Expected 0.5, got %v", msg)
	}
	select {
	case msg := <-topo.Channel():
		t.Errorf("topology subscriber received %v", msg)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	ps := NewPubSub(0, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "t")
	if n := ps.SubscriberCount("t"); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if n := ps.SubscriberCount("t"); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
	ps.Publish("t", "lost")
	if _, ok := <-sub.Channel(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestContextCancellation(t *testing.T) {
	ps := NewPubSub(0, nil)
	defer ps.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := ps.Subscribe(ctx, "t")
	cancel()

	select {
	case _, ok := <-sub.Channel():
		if ok {
			t.Error("unexpected message")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscription channel did not close on context cancellation")
	}
}

func TestFullQueueDrops(t *testing.T) {
	ps := NewPubSub(2, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "t")
	for i := 0; i < 5; i++ {
		ps.Publish("t", i)
	}

	if got := ps.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	for want := 0; want < 2; want++ {
		if msg := receive(t, sub); msg != want {
			t.Errorf("Expected %d, got %v", want, msg)
		}
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	ps := NewPubSub(0, nil)
	defer ps.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, _ := ps.Subscribe(context.Background(), "t")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ps.Publish("t", j)
			}
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
	}
	wg.Wait()
}

func TestShutdown(t *testing.T) {
	ps := NewPubSub(0, nil)

	sub, _ := ps.Subscribe(context.Background(), "t")
	ps.Shutdown()
	ps.Shutdown()

	select {
	case _, ok := <-sub.Channel():
		if ok {
			t.Error("unexpected message")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscription channel did not close on shutdown")
	}

	if _, err := ps.Subscribe(context.Background(), "t"); err != ErrShutdown {
		t.Errorf("Subscribe after Shutdown = %v, want ErrShutdown", err)
	}
	ps.Publish("t", "ignored")
}
