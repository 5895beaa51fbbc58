// Package pubsub implements the subscriber trie (C3) and the ls-subscriber
// index (C4). Like internal/store, both are owned exclusively by the broker
// actor; nothing here is safe for concurrent use on its own.
package pubsub

import (
	"sort"

	"github.com/adred-codev/worterbuch/internal/keys"
)

// Event is what a forwarder drains off a Subscriber's Sink.
type Event struct {
	// KeyValuePairs carries a set/publish notification. Deleted carries a
	// deletion notification. Exactly one is populated per Event.
	KeyValuePairs []KeyValue
	Deleted       []string
}

// KeyValue mirrors store.KeyValue without importing internal/store, keeping
// the subscriber trie independent of the store's package; the broker
// converts between the two at the call site.
type KeyValue struct {
	Key   string
	Value string
}

// Subscriber is one registered (p)subscribe. Sink is buffered to 1024
// events; the actor never blocks enqueuing onto it, and an event that finds
// Sink full is dropped (it's the session's job to keep it drained). Sink is
// never closed; a subscriber leaves via Remove or RemoveByClient.
type Subscriber struct {
	ID        uint64
	ClientID  string
	Pattern   keys.Pattern
	PatternStr string
	Unique    bool
	Sink      chan Event

	closed bool
	// seen holds the last observed value per key, for Unique suppression.
	seen map[string]string
}

func newSubscriber(id uint64, clientID string, pattern keys.Pattern, patternStr string, unique bool) *Subscriber {
	return &Subscriber{
		ID:         id,
		ClientID:   clientID,
		Pattern:    pattern,
		PatternStr: patternStr,
		Unique:     unique,
		Sink:       make(chan Event, 1024),
		seen:       make(map[string]string),
	}
}

// send enqueues an event without blocking: it does nothing once the
// subscriber has been removed, and a full channel (a runaway consumer) drops
// the event rather than blocking the single-writer actor.
func (s *Subscriber) send(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.Sink <- ev:
	default:
	}
}

type trieNode struct {
	literal map[string]*trieNode
	wild    *trieNode
	multi   *trieNode
	here    []*Subscriber
}

func newTrieNode() *trieNode {
	return &trieNode{literal: make(map[string]*trieNode)}
}

// Tree is the subscriber trie (C3).
type Tree struct {
	chars keys.Chars
	root  *trieNode
	byID  map[uint64]*Subscriber
	nextID uint64
}

// NewTree creates an empty subscriber trie.
func NewTree(chars keys.Chars) *Tree {
	return &Tree{chars: chars, root: newTrieNode(), byID: make(map[uint64]*Subscriber)}
}

// Add registers a new subscriber for pattern and returns it.
func (t *Tree) Add(clientID, patternStr string, unique bool) (*Subscriber, error) {
	p, err := keys.ParsePattern(patternStr, t.chars)
	if err != nil {
		return nil, err
	}
	t.nextID++
	sub := newSubscriber(t.nextID, clientID, p, patternStr, unique)
	n := t.root
	for _, seg := range p {
		switch seg.Kind {
		case keys.Wildcard:
			if n.wild == nil {
				n.wild = newTrieNode()
			}
			n = n.wild
		case keys.MultiWildcard:
			if n.multi == nil {
				n.multi = newTrieNode()
			}
			n = n.multi
		default:
			child, ok := n.literal[seg.Value]
			if !ok {
				child = newTrieNode()
				n.literal[seg.Value] = child
			}
			n = child
		}
	}
	n.here = append(n.here, sub)
	t.byID[sub.ID] = sub
	return sub, nil
}

// Remove drops subscription_id from the trie and clears its uniqueness
// memory. It is safe to call more than once.
func (t *Tree) Remove(id uint64) {
	sub, ok := t.byID[id]
	if !ok {
		return
	}
	sub.closed = true
	sub.seen = nil
	delete(t.byID, id)

	n := t.root
	path := []*trieNode{n}
	for _, seg := range sub.Pattern {
		switch seg.Kind {
		case keys.Wildcard:
			n = n.wild
		case keys.MultiWildcard:
			n = n.multi
		default:
			n = n.literal[seg.Value]
		}
		if n == nil {
			return
		}
		path = append(path, n)
	}
	last := path[len(path)-1]
	for i, s := range last.here {
		if s.ID == id {
			last.here = append(last.here[:i], last.here[i+1:]...)
			break
		}
	}
}

// RemoveByClient removes every subscriber registered by clientID, used on
// session disconnect. Returns the removed subscribers.
func (t *Tree) RemoveByClient(clientID string) []*Subscriber {
	var removed []*Subscriber
	for id, sub := range t.byID {
		if sub.ClientID == clientID {
			removed = append(removed, sub)
			t.Remove(id)
		}
	}
	return removed
}

// Match walks the trie with three concurrent descents at every step —
// literal child, `?` child, and `#` child (recording subtree matches) — and
// returns the set of subscribers whose pattern matches key. Each subscriber
// lives at exactly one node, so it appears at most once in the result.
func (t *Tree) Match(key keys.Key) []*Subscriber {
	var out []*Subscriber
	t.match(t.root, key, &out)
	return out
}

func (t *Tree) match(n *trieNode, key keys.Key, out *[]*Subscriber) {
	if n == nil {
		return
	}
	if n.multi != nil && len(key) > 0 {
		*out = append(*out, n.multi.here...)
	}
	if len(key) == 0 {
		*out = append(*out, n.here...)
		return
	}
	if child, ok := n.literal[key[0]]; ok {
		t.match(child, key[1:], out)
	}
	if n.wild != nil {
		t.match(n.wild, key[1:], out)
	}
}

// Notify computes the matching set for key and enqueues ev (after
// per-subscriber Unique suppression) on each. value is used for the
// uniqueness-memory comparison; pass isDelete=true to bypass it (deletions
// always notify).
func (t *Tree) Notify(key, value string, isDelete bool, k keys.Key) {
	matched := t.Match(k)
	for _, sub := range matched {
		if !isDelete && sub.Unique {
			if last, ok := sub.seen[key]; ok && last == value {
				continue
			}
			sub.seen[key] = value
		}
		if isDelete {
			delete(sub.seen, key)
			sub.send(Event{Deleted: []string{key}})
		} else {
			sub.send(Event{KeyValuePairs: []KeyValue{{Key: key, Value: value}}})
		}
	}
}

// LsIndex is the ls-subscriber index (C4), keyed by parent path.
type LsIndex struct {
	byParent map[string][]*LsSubscriber
	byID     map[uint64]*LsSubscriber
	nextID   uint64
}

// LsSubscriber is one registered subscribe-ls.
type LsSubscriber struct {
	ID       uint64
	ClientID string
	Parent   string
	Sink     chan []string
	closed   bool
}

func (s *LsSubscriber) send(children []string) {
	if s.closed {
		return
	}
	select {
	case s.Sink <- children:
	default:
	}
}

// NewLsIndex creates an empty ls-subscriber index.
func NewLsIndex() *LsIndex {
	return &LsIndex{byParent: make(map[string][]*LsSubscriber), byID: make(map[uint64]*LsSubscriber)}
}

// Add registers a new ls-subscriber for parent.
func (idx *LsIndex) Add(clientID, parent string) *LsSubscriber {
	idx.nextID++
	sub := &LsSubscriber{ID: idx.nextID, ClientID: clientID, Parent: parent, Sink: make(chan []string, 64)}
	idx.byParent[parent] = append(idx.byParent[parent], sub)
	idx.byID[sub.ID] = sub
	return sub
}

// Remove drops subscription_id.
func (idx *LsIndex) Remove(id uint64) {
	sub, ok := idx.byID[id]
	if !ok {
		return
	}
	sub.closed = true
	delete(idx.byID, id)
	list := idx.byParent[sub.Parent]
	for i, s := range list {
		if s.ID == id {
			idx.byParent[sub.Parent] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// RemoveByClient removes every ls-subscriber registered by clientID.
func (idx *LsIndex) RemoveByClient(clientID string) []*LsSubscriber {
	var removed []*LsSubscriber
	for id, sub := range idx.byID {
		if sub.ClientID == clientID {
			removed = append(removed, sub)
			idx.Remove(id)
		}
	}
	return removed
}

// Notify enqueues the sorted children list on every ls-subscriber whose
// parent matches. Callers are responsible for only invoking this when the
// child set actually changed.
func (idx *LsIndex) Notify(parent string, children []string) {
	sorted := append([]string{}, children...)
	sort.Strings(sorted)
	for _, sub := range idx.byParent[parent] {
		sub.send(sorted)
	}
}
