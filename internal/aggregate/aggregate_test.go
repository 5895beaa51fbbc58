package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/worterbuch/internal/pubsub"
	"github.com/adred-codev/worterbuch/internal/workerpool"
	"github.com/rs/zerolog"
)

func TestFirstEventForwardedImmediately(t *testing.T) {
	pool := workerpool.NewWorkerPool(2, 16, zerolog.Nop(), "test")
	pool.Start(context.Background())
	defer pool.Stop()

	in := make(chan pubsub.Event, 8)
	out := make(chan pubsub.Event, 8)
	agg := New(50*time.Millisecond, in, out, pool)
	go agg.Run()

	in <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: "a", Value: "1"}}}

	select {
	case ev := <-out:
		if len(ev.KeyValuePairs) != 1 || ev.KeyValuePairs[0].Key != "a" {
			t.Fatalf("unexpected first event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for immediate first event")
	}
	close(in)
}

func TestCoalescesWithinWindowLastWriteWins(t *testing.T) {
	pool := workerpool.NewWorkerPool(2, 16, zerolog.Nop(), "test")
	pool.Start(context.Background())
	defer pool.Stop()

	in := make(chan pubsub.Event, 8)
	out := make(chan pubsub.Event, 8)
	agg := New(100*time.Millisecond, in, out, pool)
	go agg.Run()

	in <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: "a", Value: "1"}}}
	<-out // immediate first event

	in <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: "a", Value: "2"}}}
	in <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: "b", Value: "1"}}}
	in <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: "a", Value: "3"}}}

	select {
	case ev := <-out:
		if len(ev.KeyValuePairs) != 2 {
			t.Fatalf("expected 2 coalesced pairs, got %d: %+v", len(ev.KeyValuePairs), ev)
		}
		byKey := map[string]string{}
		for _, kv := range ev.KeyValuePairs {
			byKey[kv.Key] = kv.Value
		}
		if byKey["a"] != "3" || byKey["b"] != "1" {
			t.Fatalf("unexpected coalesced values: %v", byKey)
		}
		if ev.KeyValuePairs[0].Key != "a" {
			t.Fatalf("expected first-arrival order, got %+v", ev.KeyValuePairs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced flush")
	}
	close(in)
}

func TestNoFlushWhenWindowEmpty(t *testing.T) {
	pool := workerpool.NewWorkerPool(2, 16, zerolog.Nop(), "test")
	pool.Start(context.Background())
	defer pool.Stop()

	in := make(chan pubsub.Event, 8)
	out := make(chan pubsub.Event, 8)
	agg := New(30*time.Millisecond, in, out, pool)
	go agg.Run()

	in <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: "a", Value: "1"}}}
	<-out

	time.Sleep(150 * time.Millisecond)
	select {
	case ev := <-out:
		t.Fatalf("expected no flush when no events arrived, got %+v", ev)
	default:
	}
	close(in)
}
