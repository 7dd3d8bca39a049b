package feed

import (
	"testing"
	"time"

	"advisorchat/internal/models"
)

func testMessage(id, key string) models.Message {
	return models.Message{
		ID:              id,
		ConversationKey: key,
		Role:            models.RoleVisitor,
		Body:            "body",
		CreatedAt:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func expectEvent(t *testing.T, sub *Subscription, id string) {
	t.Helper()
	select {
	case msg := <-sub.Events():
		if msg.ID != id {
			t.Fatalf("expected message %s, got %s", id, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive message %s", id)
	}
}

func expectStatus(t *testing.T, sub *Subscription, want Status) {
	t.Helper()
	select {
	case status := <-sub.Status():
		if status != want {
			t.Fatalf("expected status %s, got %s", want, status)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive status %s", want)
	}
}

func TestSubscribeEmitsSubscribedStatus(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Filter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	expectStatus(t, sub, StatusSubscribed)
}

func TestBroadcastStatusReachesExistingSubscribers(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Filter{ConversationKey: "conv-a"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	expectStatus(t, sub, StatusSubscribed)

	// A transport reconnect degrades and then re-announces the
	// subscription so listeners run their gap-closing re-fetch.
	hub.BroadcastStatus(StatusError)
	hub.BroadcastStatus(StatusSubscribed)
	expectStatus(t, sub, StatusError)
	expectStatus(t, sub, StatusSubscribed)
}

func TestNarrowFilterDeliversOnlyMatchingKey(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Filter{ConversationKey: "conv-a"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	hub.Broadcast(testMessage("other", "conv-b"))
	hub.Broadcast(testMessage("mine", "conv-a"))
	expectEvent(t, sub, "mine")

	select {
	case msg := <-sub.Events():
		t.Fatalf("unexpected extra message %s", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadFilterDeliversEverything(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Filter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	hub.Broadcast(testMessage("a", "conv-a"))
	hub.Broadcast(testMessage("b", "conv-b"))
	expectEvent(t, sub, "a")
	expectEvent(t, sub, "b")
}

func TestSlowSubscriberIsSkippedNotBlocked(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Filter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*2; i++ {
			hub.Broadcast(testMessage("m", "conv-a"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a slow subscriber")
	}
}

func TestCloseEndsDelivery(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Filter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	expectStatus(t, sub, StatusSubscribed)
	sub.Close()
	sub.Close() // idempotent

	expectStatus(t, sub, StatusClosed)
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("events channel still open after close")
	}

	// Broadcasting after close must not panic or deliver.
	hub.Broadcast(testMessage("late", "conv-a"))
}
