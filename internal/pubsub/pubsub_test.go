package pubsub

import (
	"testing"

	"github.com/adred-codev/worterbuch/internal/keys"
)

func mustKey(t *testing.T, s string) keys.Key {
	t.Helper()
	k, err := keys.ParseKey(s, keys.DefaultChars)
	if err != nil {
		t.Fatalf("ParseKey(%q): %v", s, err)
	}
	return k
}

func TestMatchLiteralAndWildcard(t *testing.T) {
	tree := NewTree(keys.DefaultChars)
	litSub, _ := tree.Add("c1", "a/b", false)
	wildSub, _ := tree.Add("c2", "a/?", false)
	multiSub, _ := tree.Add("c3", "a/#", false)

	matched := tree.Match(mustKey(t, "a/b"))
	ids := map[uint64]bool{}
	for _, s := range matched {
		ids[s.ID] = true
	}
	if !ids[litSub.ID] || !ids[wildSub.ID] || !ids[multiSub.ID] {
		t.Fatalf("expected all three subscribers to match a/b, got %d matches", len(matched))
	}

	matched2 := tree.Match(mustKey(t, "a/b/c"))
	ids2 := map[uint64]bool{}
	for _, s := range matched2 {
		ids2[s.ID] = true
	}
	if ids2[litSub.ID] || ids2[wildSub.ID] {
		t.Fatal("literal and single-wildcard subscribers must not match a/b/c")
	}
	if !ids2[multiSub.ID] {
		t.Fatal("multi-wildcard subscriber must match a/b/c")
	}
}

func TestSubscriberAppearsOnce(t *testing.T) {
	tree := NewTree(keys.DefaultChars)
	sub, _ := tree.Add("c1", "a/#", false)
	matched := tree.Match(mustKey(t, "a/b/c/d"))
	count := 0
	for _, s := range matched {
		if s.ID == sub.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected subscriber to appear exactly once, got %d", count)
	}
}

func TestRemove(t *testing.T) {
	tree := NewTree(keys.DefaultChars)
	sub, _ := tree.Add("c1", "a/b", false)
	tree.Remove(sub.ID)
	matched := tree.Match(mustKey(t, "a/b"))
	if len(matched) != 0 {
		t.Fatalf("expected no matches after removal, got %d", len(matched))
	}
}

func TestRemoveByClient(t *testing.T) {
	tree := NewTree(keys.DefaultChars)
	tree.Add("c1", "a/b", false)
	tree.Add("c1", "a/c", false)
	tree.Add("c2", "a/d", false)

	removed := tree.RemoveByClient("c1")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %d", len(removed))
	}
	matched := tree.Match(mustKey(t, "a/d"))
	if len(matched) != 1 {
		t.Fatalf("expected c2's subscriber to remain, got %d matches", len(matched))
	}
}

func TestUniqueSuppression(t *testing.T) {
	tree := NewTree(keys.DefaultChars)
	sub, _ := tree.Add("c1", "a/b", true)

	tree.Notify("a/b", "1", false, mustKey(t, "a/b"))
	tree.Notify("a/b", "1", false, mustKey(t, "a/b"))
	tree.Notify("a/b", "2", false, mustKey(t, "a/b"))

	if len(sub.Sink) != 2 {
		t.Fatalf("expected 2 events (duplicate suppressed), got %d", len(sub.Sink))
	}
}

func TestDeleteAlwaysNotifies(t *testing.T) {
	tree := NewTree(keys.DefaultChars)
	sub, _ := tree.Add("c1", "a/b", true)
	tree.Notify("a/b", "1", false, mustKey(t, "a/b"))
	tree.Notify("a/b", "", true, mustKey(t, "a/b"))

	if len(sub.Sink) != 2 {
		t.Fatalf("expected set event + delete event, got %d", len(sub.Sink))
	}
	<-sub.Sink
	ev := <-sub.Sink
	if len(ev.Deleted) != 1 || ev.Deleted[0] != "a/b" {
		t.Fatalf("expected Deleted event, got %+v", ev)
	}
}

func TestLsIndexNotify(t *testing.T) {
	idx := NewLsIndex()
	sub := idx.Add("c1", "a")
	idx.Notify("a", []string{"c", "b"})

	children := <-sub.Sink
	if len(children) != 2 || children[0] != "b" || children[1] != "c" {
		t.Fatalf("expected sorted children, got %v", children)
	}
}

func TestLsIndexRemoveByClient(t *testing.T) {
	idx := NewLsIndex()
	idx.Add("c1", "a")
	idx.Add("c2", "a")

	removed := idx.RemoveByClient("c1")
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed, got %d", len(removed))
	}
	idx.Notify("a", []string{"x"})
	remaining := idx.byParent["a"]
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining ls-subscriber, got %d", len(remaining))
	}
}
