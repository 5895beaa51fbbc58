// Package broker implements the Wörterbuch actor (C5): a single logical
// task owning the store trie, subscriber trie, and ls-subscriber index. All
// state-changing operations are serialized behind a bounded request channel;
// every request carries its own reply channel so callers never share state
// with the actor goroutine directly.
package broker

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/adred-codev/worterbuch/internal/pubsub"
	"github.com/adred-codev/worterbuch/internal/store"
	"github.com/adred-codev/worterbuch/internal/wberr"
	"github.com/rs/zerolog"
)

// ErrShutdown is returned to callers whose request could not be delivered
// because the actor has stopped accepting new work.
var ErrShutdown = errors.New("broker: shutting down")

// Request is the envelope every actor operation is wrapped in. Exactly one
// of the typed fields should be non-nil; Reply is always set.
type Request struct {
	Get                      *GetRequest
	Set                      *SetRequest
	Publish                  *PublishRequest
	Delete                   *DeleteRequest
	PGet                     *PGetRequest
	PDelete                  *PDeleteRequest
	Ls                       *LsRequest
	Subscribe                *SubscribeRequest
	PSubscribe               *PSubscribeRequest
	SubscribeLs              *SubscribeLsRequest
	Unsubscribe              *UnsubscribeRequest
	UnsubscribeLs            *UnsubscribeLsRequest
	Connected                *ConnectedRequest
	Disconnected             *DisconnectedRequest
	Export                   *ExportRequest
	Len                      *LenRequest
	Config                   *ConfigRequest
	SupportedProtocolVersion *ProtocolVersionRequest
	SysSet                   *SysSetRequest

	Reply chan Reply
}

// Reply is the actor's answer to one Request.
type Reply struct {
	KeyValue      store.KeyValue
	KeyValuePairs []store.KeyValue
	Children      []string
	Subscriber    *pubsub.Subscriber
	LsSubscriber  *pubsub.LsSubscriber
	Count         int
	Config        ConfigSnapshot
	Version       ProtocolVersion
	Data          map[string]any
	Err           error
}

type GetRequest struct{ Key string }
type SetRequest struct{ Key, Value string }
type PublishRequest struct{ Key, Value string }
type DeleteRequest struct{ Key string }
type PGetRequest struct{ Pattern string }
type PDeleteRequest struct{ Pattern string }
type LsRequest struct{ Parent string }
type SubscribeRequest struct {
	ClientID, Key string
	Unique        bool
	LiveOnly      bool
}
type PSubscribeRequest struct {
	ClientID, Pattern string
	Unique            bool
	LiveOnly          bool
}
type SubscribeLsRequest struct{ ClientID, Parent string }
type UnsubscribeRequest struct{ SubscriptionID uint64 }
type UnsubscribeLsRequest struct{ SubscriptionID uint64 }
type ConnectedRequest struct{ ClientID string }
type DisconnectedRequest struct {
	ClientID   string
	GraveGoods []string
	LastWill   []store.KeyValue
}
type ExportRequest struct{ Path string }
type LenRequest struct{}
type ConfigRequest struct{}
type ProtocolVersionRequest struct{}

// SysSetRequest writes a $SYS/ key. Only internal/sysvars sends these; no
// client-facing handler constructs one.
type SysSetRequest struct{ Key, Value string }

// ConfigSnapshot is returned by a Config request.
type ConfigSnapshot struct {
	Chars keys.Chars
}

// ProtocolVersion is a (major, minor) pair as advertised in HSHK.
type ProtocolVersion struct{ Major, Minor uint16 }

// SupportedVersions is the set of protocol versions this broker advertises.
var SupportedVersions = []ProtocolVersion{{Major: 1, Minor: 0}}

// Broker owns the store and subscription indices and runs as a single
// goroutine reading off In.
type Broker struct {
	In     chan *Request
	log    zerolog.Logger
	chars  keys.Chars
	store  *store.Store
	subs   *pubsub.Tree
	lsSubs *pubsub.LsIndex
	start  time.Time
}

// New creates a Broker with the given inbound queue bound. Call Run in its
// own goroutine to start serving.
func New(chars keys.Chars, bufferSize int, log zerolog.Logger) *Broker {
	return &Broker{
		In:     make(chan *Request, bufferSize),
		log:    log,
		chars:  chars,
		store:  store.New(chars),
		subs:   pubsub.NewTree(chars),
		lsSubs: pubsub.NewLsIndex(),
		start:  time.Time{},
	}
}

// LoadSnapshot imports a previously-persisted trie directly into the store,
// overwriting its contents. Only safe before Run starts serving — it
// bypasses the request channel entirely, for the one-time startup load
// where there is no concurrent access to race against yet.
func (b *Broker) LoadSnapshot(data map[string]any) {
	b.store.Import(data)
}

// Run serves requests off In until ctx is cancelled or In is closed,
// draining any already-enqueued requests before exiting.
func (b *Broker) Run(ctx context.Context) {
	b.start = time.Now()
	for {
		select {
		case req, ok := <-b.In:
			if !ok {
				return
			}
			b.handle(req)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Broker) drain() {
	for {
		select {
		case req, ok := <-b.In:
			if !ok {
				return
			}
			req.Reply <- Reply{Err: ErrShutdown}
		default:
			return
		}
	}
}

// Send delivers req to the actor and blocks for its reply, or returns
// ErrShutdown if ctx is cancelled first (the actor also answers requests it
// drains during shutdown with ErrShutdown). in must not be closed: a send on
// a closed channel panics.
func Send(ctx context.Context, in chan<- *Request, req *Request) Reply {
	req.Reply = make(chan Reply, 1)
	select {
	case in <- req:
	case <-ctx.Done():
		return Reply{Err: ErrShutdown}
	}
	select {
	case rep := <-req.Reply:
		return rep
	case <-ctx.Done():
		return Reply{Err: ErrShutdown}
	}
}

func (b *Broker) handle(req *Request) {
	switch {
	case req.Get != nil:
		req.Reply <- b.handleGet(req.Get)
	case req.Set != nil:
		req.Reply <- b.handleSet(req.Set)
	case req.Publish != nil:
		req.Reply <- b.handlePublish(req.Publish)
	case req.Delete != nil:
		req.Reply <- b.handleDelete(req.Delete)
	case req.PGet != nil:
		req.Reply <- b.handlePGet(req.PGet)
	case req.PDelete != nil:
		req.Reply <- b.handlePDelete(req.PDelete)
	case req.Ls != nil:
		req.Reply <- b.handleLs(req.Ls)
	case req.Subscribe != nil:
		req.Reply <- b.handleSubscribe(req.Subscribe)
	case req.PSubscribe != nil:
		req.Reply <- b.handlePSubscribe(req.PSubscribe)
	case req.SubscribeLs != nil:
		req.Reply <- b.handleSubscribeLs(req.SubscribeLs)
	case req.Unsubscribe != nil:
		b.subs.Remove(req.Unsubscribe.SubscriptionID)
		req.Reply <- Reply{}
	case req.UnsubscribeLs != nil:
		b.lsSubs.Remove(req.UnsubscribeLs.SubscriptionID)
		req.Reply <- Reply{}
	case req.Connected != nil:
		req.Reply <- Reply{}
	case req.Disconnected != nil:
		req.Reply <- b.handleDisconnected(req.Disconnected)
	case req.Export != nil:
		req.Reply <- Reply{Data: b.store.Export()}
	case req.Len != nil:
		req.Reply <- Reply{Count: b.store.Len()}
	case req.Config != nil:
		req.Reply <- Reply{Config: ConfigSnapshot{Chars: b.chars}}
	case req.SupportedProtocolVersion != nil:
		req.Reply <- Reply{Version: SupportedVersions[0]}
	case req.SysSet != nil:
		req.Reply <- b.handleSysSet(req.SysSet)
	default:
		req.Reply <- Reply{Err: errors.New("broker: empty request")}
	}
}

func (b *Broker) handleGet(r *GetRequest) Reply {
	kv, err := b.store.Get(r.Key)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	return Reply{KeyValue: kv}
}

func (b *Broker) handleSet(r *SetRequest) Reply {
	k, err := keys.ParseKey(r.Key, b.chars)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	parentChanged, parent := b.willChangeChildren(k)
	_, _, err = b.store.Set(r.Key, r.Value)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	b.subs.Notify(r.Key, r.Value, false, k)
	if parentChanged {
		b.notifyLs(parent)
	}
	return Reply{KeyValue: store.KeyValue{Key: r.Key, Value: r.Value}}
}

// handleSysSet writes a $SYS/ key, bypassing the read-only check handleSet
// enforces for client requests, and notifies subscribers the same way a
// normal set would.
func (b *Broker) handleSysSet(r *SysSetRequest) Reply {
	k, err := keys.ParseKey(r.Key, b.chars)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	parentChanged, parent := b.willChangeChildren(k)
	if _, _, err := b.store.SetSys(r.Key, r.Value); err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	b.subs.Notify(r.Key, r.Value, false, k)
	if parentChanged {
		b.notifyLs(parent)
	}
	return Reply{KeyValue: store.KeyValue{Key: r.Key, Value: r.Value}}
}

func (b *Broker) handlePublish(r *PublishRequest) Reply {
	k, err := keys.ParseKey(r.Key, b.chars)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	b.subs.Notify(r.Key, r.Value, false, k)
	return Reply{KeyValue: store.KeyValue{Key: r.Key, Value: r.Value}}
}

func (b *Broker) handleDelete(r *DeleteRequest) Reply {
	k, err := keys.ParseKey(r.Key, b.chars)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	parentChanged, parent := b.willChangeChildrenOnDelete(k)
	kv, err := b.store.Delete(r.Key)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	b.subs.Notify(r.Key, "", true, k)
	if parentChanged {
		b.notifyLs(parent)
	}
	return Reply{KeyValue: kv}
}

func (b *Broker) handlePGet(r *PGetRequest) Reply {
	pairs, err := b.store.PGet(r.Pattern)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Pattern)}
	}
	return Reply{KeyValuePairs: pairs}
}

func (b *Broker) handlePDelete(r *PDeleteRequest) Reply {
	pairs, err := b.store.PGet(r.Pattern)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Pattern)}
	}
	touchedParents := map[string]bool{}
	removed := make([]store.KeyValue, 0, len(pairs))
	for _, kv := range pairs {
		k, err := keys.ParseKey(kv.Key, b.chars)
		if err != nil {
			continue
		}
		changed, parent := b.willChangeChildrenOnDelete(k)
		r, err := b.store.Delete(kv.Key)
		if err != nil {
			continue
		}
		removed = append(removed, r)
		b.subs.Notify(kv.Key, "", true, k)
		if changed {
			touchedParents[parent] = true
		}
	}
	for parent := range touchedParents {
		b.notifyLs(parent)
	}
	return Reply{KeyValuePairs: removed}
}

func (b *Broker) handleLs(r *LsRequest) Reply {
	children, err := b.store.Ls(r.Parent)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Parent)}
	}
	return Reply{Children: children}
}

func (b *Broker) handleSubscribe(r *SubscribeRequest) Reply {
	sub, err := b.subs.Add(r.ClientID, r.Key, r.Unique)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Key)}
	}
	if !r.LiveOnly {
		if kv, err := b.store.Get(r.Key); err == nil {
			sub.Sink <- pubsub.Event{KeyValuePairs: []pubsub.KeyValue{{Key: kv.Key, Value: kv.Value}}}
		}
	}
	return Reply{Subscriber: sub}
}

func (b *Broker) handlePSubscribe(r *PSubscribeRequest) Reply {
	sub, err := b.subs.Add(r.ClientID, r.Pattern, r.Unique)
	if err != nil {
		return Reply{Err: wrapStoreErr(err, r.Pattern)}
	}
	if !r.LiveOnly {
		if pairs, err := b.store.PGet(r.Pattern); err == nil && len(pairs) > 0 {
			converted := make([]pubsub.KeyValue, len(pairs))
			for i, kv := range pairs {
				converted[i] = pubsub.KeyValue{Key: kv.Key, Value: kv.Value}
			}
			sub.Sink <- pubsub.Event{KeyValuePairs: converted}
		}
	}
	return Reply{Subscriber: sub}
}

func (b *Broker) handleSubscribeLs(r *SubscribeLsRequest) Reply {
	sub := b.lsSubs.Add(r.ClientID, r.Parent)
	children, err := b.store.Ls(r.Parent)
	if err != nil {
		children = nil
	}
	sorted := append([]string{}, children...)
	sort.Strings(sorted)
	sub.Sink <- sorted
	return Reply{LsSubscriber: sub}
}

// handleDisconnected removes all subscribers/ls-subscribers for the client,
// then applies grave goods (deletes, each producing a Deleted event) and
// last will (sets, each producing a normal event) strictly afterward, per
// spec §4.6/§12.
func (b *Broker) handleDisconnected(r *DisconnectedRequest) Reply {
	b.subs.RemoveByClient(r.ClientID)
	b.lsSubs.RemoveByClient(r.ClientID)

	for _, key := range r.GraveGoods {
		b.handleDelete(&DeleteRequest{Key: key})
	}
	for _, kv := range r.LastWill {
		b.handleSet(&SetRequest{Key: kv.Key, Value: kv.Value})
	}
	return Reply{}
}

// willChangeChildren reports whether setting k would add a new immediate
// child under its parent (whether or not the parent node exists yet), and
// returns that parent's path. Used to
// decide whether an Ls-index notification is owed (overwrites don't fire
// one).
func (b *Broker) willChangeChildren(k keys.Key) (bool, string) {
	if len(k) < 1 {
		return false, ""
	}
	parent := k[:len(k)-1]
	parentStr := parent.Join(b.chars)
	leaf := k[len(k)-1]
	existing, _ := b.store.Ls(parentStr)
	for _, name := range existing {
		if name == leaf {
			return false, parentStr
		}
	}
	return true, parentStr
}

func (b *Broker) willChangeChildrenOnDelete(k keys.Key) (bool, string) {
	if len(k) < 1 {
		return false, ""
	}
	parentStr := k[:len(k)-1].Join(b.chars)
	// A node that still has children survives the delete, so its parent's
	// child set is unchanged.
	if children, err := b.store.Ls(k.Join(b.chars)); err == nil && len(children) > 0 {
		return false, parentStr
	}
	return true, parentStr
}

func (b *Broker) notifyLs(parent string) {
	children, err := b.store.Ls(parent)
	if err != nil {
		children = nil
	}
	b.lsSubs.Notify(parent, children)
}

func wrapStoreErr(err error, key string) error {
	var illegalWildcard *keys.IllegalWildcardError
	var illegalMulti *keys.IllegalMultiWildcardError
	var badPosition *keys.MultiWildcardPositionError
	var noSuchValue *store.NoSuchValueError
	var readOnly *store.ReadOnlyKeyError

	switch {
	case errors.As(err, &illegalWildcard):
		return wberr.New(wberr.IllegalWildcard, key)
	case errors.As(err, &illegalMulti):
		return wberr.New(wberr.IllegalMultiWildcard, key)
	case errors.As(err, &badPosition):
		return wberr.New(wberr.MultiWildcardAtIllegalPosition, key)
	case errors.As(err, &noSuchValue):
		return wberr.New(wberr.NoSuchValue, key)
	case errors.As(err, &readOnly):
		return wberr.New(wberr.ReadOnlyKey, key)
	default:
		return wberr.New(wberr.Other, key)
	}
}
