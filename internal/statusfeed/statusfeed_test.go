package statusfeed_test

import (
	"testing"
	"time"

	"bandaid/internal/statusfeed"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := statusfeed.NewHub()
	defer hub.Close()

	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish("initialized")

	for _, sub := range []*statusfeed.Subscription{a, b} {
		select {
		case got := <-sub.Updates():
			if got != "initialized" {
				t.Fatalf("got %q", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for update")
		}
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := statusfeed.NewHub()
	defer hub.Close()

	sub := hub.Subscribe()
	statuses := []string{"initialized", "Searching catalog", "Playlist created"}
	for _, s := range statuses {
		hub.Publish(s)
	}
	for _, want := range statuses {
		got := <-sub.Updates()
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	hub := statusfeed.NewHub()
	defer hub.Close()

	_ = hub.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Publish("update")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := statusfeed.NewHub()
	defer hub.Close()

	sub := hub.Subscribe()
	sub.Cancel()
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("expected closed channel after cancel")
	}
	if hub.SubscriberCount() != 0 {
		t.Fatal("expected subscriber to be removed")
	}
	sub.Cancel() // second cancel is a no-op
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	hub := statusfeed.NewHub()
	sub := hub.Subscribe()
	hub.Close()
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("expected closed channel after hub close")
	}
	late := hub.Subscribe()
	if _, ok := <-late.Updates(); ok {
		t.Fatal("expected closed channel for post-close subscribe")
	}
	hub.Publish("ignored")
}
