package pubsub

import (
	"testing"
	"time"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("status")
	b.Publish("status", "hello")

	select {
	case ev := <-sub.C():
		if ev.Data != "hello" || ev.Topic != "status" {
			t.Fatalf("ev = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublish_OtherTopicsNotDelivered(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("status")
	b.Publish("alerts", "x")

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_DropsOldestOnFullBuffer(t *testing.T) {
	b := New(2)
	sub := b.Subscribe("t")
	b.Publish("t", 1)
	b.Publish("t", 2)
	b.Publish("t", 3) // should drop "1"

	first := <-sub.C()
	second := <-sub.C()
	if first.Data != 2 || second.Data != 3 {
		t.Fatalf("got %v, %v; want 2, 3", first.Data, second.Data)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", sub.Dropped())
	}
}

func TestUnsubscribe_StopsFutureDelivery(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("t")
	b.Unsubscribe(sub)
	if b.SubscriberCount("t") != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount("t"))
	}
	b.Publish("t", "x") // must not panic or block
}

func TestPruneStale_RemovesMissedHeartbeats(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("t")
	sub.lastHeartbeat = time.Now().Add(-time.Hour)

	stale := b.PruneStale(time.Minute)
	if len(stale) != 1 || stale[0] != sub {
		t.Fatalf("PruneStale returned %v, want [sub]", stale)
	}
	if b.SubscriberCount("t") != 0 {
		t.Fatal("stale subscriber still registered")
	}
}

func TestMultipleSubscribers_AllReceive(t *testing.T) {
	b := New(4)
	a := b.Subscribe("t")
	c := b.Subscribe("t")
	b.Publish("t", "x")

	for _, s := range []*Subscriber{a, c} {
		select {
		case ev := <-s.C():
			if ev.Data != "x" {
				t.Fatalf("got %v", ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed publish")
		}
	}
}
