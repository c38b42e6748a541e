package sse

import (
	"testing"

	"github.com/google/uuid"
)

func TestPublishReachesOnlyTopicSubscribers(t *testing.T) {
	s := New(nil)
	a, stopA := s.Subscribe(uuid.New(), []string{OrderTopic("1")})
	defer stopA()
	b, stopB := s.Subscribe(uuid.New(), []string{OrderTopic("2")})
	defer stopB()

	if n := s.Publish(OrderTopic("1"), Event{Type: EventOrderStatus}); n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}
	select {
	case ev := <-a:
		if ev.Topic != OrderTopic("1") {
			t.Fatalf("unexpected topic %q", ev.Topic)
		}
	default:
		t.Fatalf("expected event for subscriber a")
	}
	select {
	case ev := <-b:
		t.Fatalf("unexpected event for subscriber b: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := New(nil)
	_, stop := s.Subscribe(uuid.New(), []string{TopicAdmin})
	defer stop()

	for i := 0; i < clientBuffer; i++ {
		s.Publish(TopicAdmin, Event{Type: EventAlertFired})
	}
	if n := s.Publish(TopicAdmin, Event{Type: EventAlertFired}); n != 0 {
		t.Fatalf("expected full buffer to drop, got %d recipients", n)
	}
}

func TestUnsubscribeAndCloseAreIdempotent(t *testing.T) {
	s := New(nil)
	ch, stop := s.Subscribe(uuid.New(), []string{TopicAdmin, OrderTopic("1")})
	if s.Subscribers(TopicAdmin) != 1 || s.Subscribers(OrderTopic("1")) != 1 {
		t.Fatalf("expected one subscriber per topic")
	}

	s.Close()
	stop()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if s.Subscribers(TopicAdmin) != 0 {
		t.Fatalf("expected no subscribers after close")
	}

	late, _ := s.Subscribe(uuid.New(), []string{TopicAdmin})
	if _, ok := <-late; ok {
		t.Fatalf("expected subscribe after close to return a closed channel")
	}
}

func TestParseTopics(t *testing.T) {
	got := ParseTopics(" order:1, ,admin,order:1 ")
	if len(got) != 2 || got[0] != "order:1" || got[1] != "admin" {
		t.Fatalf("unexpected topics %v", got)
	}
}
