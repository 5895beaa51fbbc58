package store

import (
	"sort"
	"testing"

	"github.com/adred-codev/worterbuch/internal/keys"
)

func TestGetSetDelete(t *testing.T) {
	s := New(keys.DefaultChars)

	if _, err := s.Get("k"); err == nil {
		t.Fatal("expected NoSuchValue on empty store")
	}

	if _, had, err := s.Set("k", "1"); err != nil || had {
		t.Fatalf("unexpected: had=%v err=%v", had, err)
	}
	kv, err := s.Get("k")
	if err != nil || kv.Value != "1" {
		t.Fatalf("unexpected get result: %+v err=%v", kv, err)
	}

	prev, had, err := s.Set("k", "2")
	if err != nil || !had || prev != "1" {
		t.Fatalf("unexpected overwrite: prev=%q had=%v err=%v", prev, had, err)
	}

	removed, err := s.Delete("k")
	if err != nil || removed.Value != "2" {
		t.Fatalf("unexpected delete: %+v err=%v", removed, err)
	}
	if _, err := s.Get("k"); err == nil {
		t.Fatal("expected NoSuchValue after delete")
	}
	if _, err := s.Delete("k"); err == nil {
		t.Fatal("expected NoSuchValue on second delete")
	}
}

func TestSysKeyReadOnly(t *testing.T) {
	s := New(keys.DefaultChars)
	if _, _, err := s.Set("$SYS/version", "x"); err == nil {
		t.Fatal("expected ReadOnlyKeyError on $SYS write")
	}
	if _, err := s.Delete("$SYS/version"); err == nil {
		t.Fatal("expected ReadOnlyKeyError on $SYS delete")
	}
}

func TestPGet(t *testing.T) {
	s := New(keys.DefaultChars)
	s.Set("a/b", "1")
	s.Set("a/c", "2")
	s.Set("a/b/c", "3")

	pairs, err := s.PGet("a/?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := map[string]string{}
	for _, p := range pairs {
		got[p.Key] = p.Value
	}
	want := map[string]string{"a/b": "1", "a/c": "2"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %q: got %q want %q", k, got[k], v)
		}
	}

	all, err := s.PGet("a/#")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 results under a/#, got %d err=%v", len(all), err)
	}
}

func TestPDelete(t *testing.T) {
	s := New(keys.DefaultChars)
	s.Set("a/b", "1")
	s.Set("a/c", "2")

	removed, err := s.PDelete("a/?")
	if err != nil || len(removed) != 2 {
		t.Fatalf("unexpected pdelete: %v err=%v", removed, err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store after pdelete, got len=%d", s.Len())
	}
}

func TestLs(t *testing.T) {
	s := New(keys.DefaultChars)
	s.Set("a/b", "1")
	s.Set("a/c", "2")
	s.Set("x", "3")

	root, err := s.Ls("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(root)
	if len(root) != 2 || root[0] != "a" || root[1] != "x" {
		t.Fatalf("unexpected root children: %v", root)
	}

	children, err := s.Ls("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 2 || children[0] != "b" || children[1] != "c" {
		t.Fatalf("unexpected children: %v", children)
	}

	if _, err := s.Ls("nonexistent"); err == nil {
		t.Fatal("expected NoSuchValue for unknown parent")
	}
}

func TestLsEmptyNotError(t *testing.T) {
	s := New(keys.DefaultChars)
	s.Set("a/b", "1")
	s.Delete("a/b")
	s.Set("a", "1")

	children, err := s.Ls("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected empty child list, got %v", children)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := New(keys.DefaultChars)
	s.Set("a/b", "1")
	s.Set("a/c", "2")
	s.Set("a", "parent-value")
	s.Set("x", "3")

	data := s.Export()

	s2 := New(keys.DefaultChars)
	s2.Import(data)

	if s2.Len() != s.Len() {
		t.Fatalf("count mismatch: got %d want %d", s2.Len(), s.Len())
	}
	for _, key := range []string{"a/b", "a/c", "a", "x"} {
		orig, _ := s.Get(key)
		restored, err := s2.Get(key)
		if err != nil || restored.Value != orig.Value {
			t.Errorf("key %q: got %+v err=%v, want %+v", key, restored, err, orig)
		}
	}
}
