// Package session implements the per-connection state machine (C6):
// Opening -> AwaitingAuth -> Ready -> Closing, the 1Hz keepalive ticker,
// per-subscription forwarder tasks, and unsubscribe-on-disconnect. It is
// transport-agnostic — internal/tcptransport and internal/wstransport each
// supply a Transport that frames wire.ClientMessage/wire.ServerMessage over
// their own wire format, grounded on ws/server.go's readPump/writePump/
// disconnectClient trio generalized from one WebSocket framing to both.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/adred-codev/worterbuch/internal/aggregate"
	"github.com/adred-codev/worterbuch/internal/auth"
	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/adred-codev/worterbuch/internal/metrics"
	"github.com/adred-codev/worterbuch/internal/pubsub"
	"github.com/adred-codev/worterbuch/internal/store"
	"github.com/adred-codev/worterbuch/internal/wberr"
	"github.com/adred-codev/worterbuch/internal/wblog"
	"github.com/adred-codev/worterbuch/internal/wire"
	"github.com/adred-codev/worterbuch/internal/workerpool"
	"github.com/rs/zerolog"
)

// State is one stage of the per-connection lifecycle.
type State int

const (
	Opening State = iota
	AwaitingAuth
	Ready
	Closing
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case AwaitingAuth:
		return "awaiting_auth"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Transport is the per-connection byte-framing boundary a session drives.
// ReadMessage must return an error (wrapping io.EOF on clean close) when
// the peer disconnects; WriteMessage must be safe to call from the
// session's single writer goroutine only.
type Transport interface {
	ReadMessage() (wire.ClientMessage, error)
	WriteMessage(msg wire.ServerMessage) error
	Close() error
	RemoteAddr() string
}

// Config carries the per-session knobs sourced from the process Config.
type Config struct {
	ClientID            string
	Version             string
	ProtocolVersion     [2]uint16
	AuthenticationRequired bool
	KeepaliveTimeout    time.Duration
	EgressBufferSize    int
	Chars               keys.Chars
	TransportLabel      string // "tcp" or "ws", for metrics
}

// Session owns one connection's lifecycle, translating decoded wire
// messages into broker requests and broker/subscription events back into
// wire messages.
type Session struct {
	cfg       Config
	transport Transport
	brokerIn  chan *broker.Request
	authMgr   *auth.Manager
	log       zerolog.Logger

	mu               sync.Mutex
	state            State
	claims           *auth.Claims
	graveGoods       []string
	lastWill         []store.KeyValue
	lastRx           time.Time
	lastTx           time.Time
	disconnectReason string

	egress chan wire.ServerMessage

	subsMu        sync.Mutex
	subForwarders map[uint64]context.CancelFunc
	fwdWG         sync.WaitGroup

	aggPool *workerpool.WorkerPool
}

// New creates a Session bound to transport and brokerIn. authMgr may be nil
// iff cfg.AuthenticationRequired is false. aggPool may be nil, in which case
// a PSubscribe requesting an aggregation window is served unaggregated
// rather than refused.
func New(cfg Config, transport Transport, brokerIn chan *broker.Request, authMgr *auth.Manager, aggPool *workerpool.WorkerPool, log zerolog.Logger) *Session {
	return &Session{
		cfg:           cfg,
		transport:     transport,
		brokerIn:      brokerIn,
		authMgr:       authMgr,
		aggPool:       aggPool,
		log:           log,
		state:         Opening,
		egress:        make(chan wire.ServerMessage, cfg.EgressBufferSize),
		subForwarders: make(map[uint64]context.CancelFunc),
	}
}

// Run drives the session until the peer disconnects, a codec error occurs,
// the keepalive timeout fires, or ctx is cancelled. It always returns after
// fully tearing down subscriptions and notifying the broker.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	s.lastRx, s.lastTx = now, now
	s.disconnectReason = "client_disconnect"
	s.mu.Unlock()

	metrics.ConnectionsTotal.WithLabelValues(s.cfg.TransportLabel).Inc()
	metrics.ConnectionsActive.WithLabelValues(s.cfg.TransportLabel).Inc()
	defer metrics.ConnectionsActive.WithLabelValues(s.cfg.TransportLabel).Dec()
	connectedAt := time.Now()

	broker.Send(ctx, s.brokerIn, &broker.Request{Connected: &broker.ConnectedRequest{ClientID: s.cfg.ClientID}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writeLoop(ctx) }()
	go func() { defer wg.Done(); s.keepaliveLoop(ctx, cancel) }()
	// Closing the transport unblocks readLoop once ctx is cancelled.
	go func() {
		<-ctx.Done()
		s.transport.Close()
	}()

	s.setState(AwaitingAuth)
	s.send(wire.Welcome{
		ClientID:               s.cfg.ClientID,
		Version:                s.cfg.Version,
		AuthenticationRequired: s.cfg.AuthenticationRequired,
		ProtocolVersion:        s.cfg.ProtocolVersion,
	})
	if !s.cfg.AuthenticationRequired {
		s.setState(Ready)
		s.send(wire.Authenticated{})
	}

	s.readLoop(ctx)

	cancel()
	s.fwdWG.Wait()
	wg.Wait()
	s.teardown()

	s.mu.Lock()
	reason := s.disconnectReason
	s.mu.Unlock()
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()
	metrics.ConnectionDuration.WithLabelValues(reason).Observe(time.Since(connectedAt).Seconds())
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// send enqueues msg for the writer goroutine, dropping it (with a log) if
// the egress queue is full — a slow client is handled by the keepalive
// timeout, not by blocking the whole session here.
func (s *Session) send(msg wire.ServerMessage) {
	select {
	case s.egress <- msg:
	default:
		s.log.Warn().Str("client_id", s.cfg.ClientID).Msg("session: egress queue full, dropping frame")
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	defer wblog.RecoverPanic(s.log, "session.writeLoop", map[string]any{"client_id": s.cfg.ClientID})
	for {
		select {
		case msg, ok := <-s.egress:
			if !ok {
				return
			}
			if err := s.transport.WriteMessage(msg); err != nil {
				s.log.Debug().Err(err).Str("client_id", s.cfg.ClientID).Msg("session: write error")
				return
			}
			s.mu.Lock()
			s.lastTx = time.Now()
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// keepaliveLoop runs the 1Hz ticker from spec.md §4.6: emit a Keepalive
// frame when the egress side has been silent for >=1s, warn at 2s of
// ingress silence, and close the connection at keepalive_timeout.
func (s *Session) keepaliveLoop(ctx context.Context, cancel context.CancelFunc) {
	defer wblog.RecoverPanic(s.log, "session.keepaliveLoop", map[string]any{"client_id": s.cfg.ClientID})
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	warned := false
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			sinceTx := time.Since(s.lastTx)
			sinceRx := time.Since(s.lastRx)
			s.mu.Unlock()

			if sinceTx >= time.Second {
				s.send(wire.Keepalive{})
			}
			if sinceRx >= 2*time.Second && !warned {
				warned = true
				s.log.Warn().Str("client_id", s.cfg.ClientID).Dur("inactive", sinceRx).Msg("session: client inactive")
			}
			if sinceRx >= s.cfg.KeepaliveTimeout {
				s.log.Warn().Str("client_id", s.cfg.ClientID).Msg("session: keepalive timeout, closing")
				s.mu.Lock()
				s.disconnectReason = "keepalive_timeout"
				s.mu.Unlock()
				s.transport.Close()
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		msg, err := s.transport.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if errors.Is(err, io.EOF) {
				s.disconnectReason = "eof"
			} else {
				s.disconnectReason = "codec_error"
				s.log.Debug().Err(err).Str("client_id", s.cfg.ClientID).Msg("session: read error")
			}
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.lastRx = time.Now()
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, msg)
	}
}

func (s *Session) dispatch(ctx context.Context, msg wire.ClientMessage) {
	if s.getState() == AwaitingAuth {
		if authReq, ok := msg.(wire.AuthenticationRequest); ok {
			s.handleAuthenticationRequest(authReq)
			return
		}
		if s.cfg.AuthenticationRequired {
			s.sendErr(0, wberr.AuthenticationRequired, "")
			return
		}
	}

	switch m := msg.(type) {
	case wire.Get:
		s.handleGet(ctx, m)
	case wire.Set:
		s.handleSet(ctx, m)
	case wire.Publish:
		s.handlePublish(ctx, m)
	case wire.Delete:
		s.handleDelete(ctx, m)
	case wire.PGet:
		s.handlePGet(ctx, m)
	case wire.PDelete:
		s.handlePDelete(ctx, m)
	case wire.Ls:
		s.handleLs(ctx, m)
	case wire.Subscribe:
		s.handleSubscribe(ctx, m)
	case wire.PSubscribe:
		s.handlePSubscribe(ctx, m)
	case wire.SubscribeLs:
		s.handleSubscribeLs(ctx, m)
	case wire.Unsubscribe:
		s.handleUnsubscribe(ctx, m)
	case wire.UnsubscribeLs:
		s.handleUnsubscribeLs(ctx, m)
	case wire.Keepalive:
		// ingress keepalive: lastRx already refreshed above, nothing else to do.
	case wire.AuthenticationRequest:
		s.handleAuthenticationRequest(m)
	default:
		s.log.Warn().Str("client_id", s.cfg.ClientID).Msg("session: unhandled message type")
	}
}

// handleAuthenticationRequest verifies the token (if auth is required),
// records grave-goods/last-will for later disconnect handling, and
// transitions AwaitingAuth -> Ready. Per spec.md's supplemented feature,
// grave goods/last will may also be registered here when auth is disabled,
// in which case the session is already Ready and the token is not checked.
func (s *Session) handleAuthenticationRequest(m wire.AuthenticationRequest) {
	if s.cfg.AuthenticationRequired {
		claims, err := s.authMgr.Verify(m.Token)
		if err != nil {
			s.sendErr(m.TID, wberr.AuthenticationRequired, "")
			return
		}
		s.mu.Lock()
		s.claims = claims
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.graveGoods = m.GraveGoods
	lastWill := make([]store.KeyValue, len(m.LastWill))
	for i, kv := range m.LastWill {
		lastWill[i] = store.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	s.lastWill = lastWill
	s.mu.Unlock()

	s.setState(Ready)
	s.send(wire.Authenticated{})
}

func (s *Session) authorize(privilege auth.Privilege, keyOrPattern string) error {
	if !s.cfg.AuthenticationRequired {
		return nil
	}
	s.mu.Lock()
	claims := s.claims
	s.mu.Unlock()
	return auth.Authorize(claims, privilege, keyOrPattern, s.cfg.Chars)
}

func (s *Session) sendErr(tid wire.TransactionID, code wberr.Code, key string) {
	s.send(wire.Err{TID: tid, Code: uint8(code), Metadata: key})
}

func (s *Session) sendReplyErr(tid wire.TransactionID, err error) {
	var we *wberr.WorterbuchError
	if errors.As(err, &we) {
		s.sendErr(tid, we.Code, we.Key)
		return
	}
	s.sendErr(tid, wberr.Other, "")
}

func (s *Session) handleGet(ctx context.Context, m wire.Get) {
	if err := s.authorize(auth.Read, m.Key); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{Get: &broker.GetRequest{Key: m.Key}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	kv := wire.KeyValue{Key: rep.KeyValue.Key, Value: rep.KeyValue.Value}
	s.send(wire.State{TID: m.TID, KeyValue: &kv})
}

func (s *Session) handleSet(ctx context.Context, m wire.Set) {
	if err := s.authorize(auth.Write, m.Key); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{Set: &broker.SetRequest{Key: m.Key, Value: m.Value}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	s.send(wire.Ack{TID: m.TID})
}

func (s *Session) handlePublish(ctx context.Context, m wire.Publish) {
	if err := s.authorize(auth.Write, m.Key); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{Publish: &broker.PublishRequest{Key: m.Key, Value: m.Value}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	s.send(wire.Ack{TID: m.TID})
}

func (s *Session) handleDelete(ctx context.Context, m wire.Delete) {
	if err := s.authorize(auth.Delete, m.Key); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{Delete: &broker.DeleteRequest{Key: m.Key}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	kv := wire.KeyValue{Key: rep.KeyValue.Key, Value: rep.KeyValue.Value}
	s.send(wire.State{TID: m.TID, KeyValue: &kv})
}

func (s *Session) handlePGet(ctx context.Context, m wire.PGet) {
	if err := s.authorize(auth.Read, m.Pattern); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{PGet: &broker.PGetRequest{Pattern: m.Pattern}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	s.send(wire.PState{TID: m.TID, Pattern: m.Pattern, KeyValuePairs: toWireKVs(rep.KeyValuePairs)})
}

func (s *Session) handlePDelete(ctx context.Context, m wire.PDelete) {
	if err := s.authorize(auth.Delete, m.Pattern); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{PDelete: &broker.PDeleteRequest{Pattern: m.Pattern}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	keysOut := make([]string, len(rep.KeyValuePairs))
	for i, kv := range rep.KeyValuePairs {
		keysOut[i] = kv.Key
	}
	s.send(wire.PState{TID: m.TID, Pattern: m.Pattern, Deleted: keysOut})
}

func (s *Session) handleLs(ctx context.Context, m wire.Ls) {
	if err := s.authorize(auth.Read, m.Parent+string(s.cfg.Chars.Separator)+string(s.cfg.Chars.Wildcard)); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{Ls: &broker.LsRequest{Parent: m.Parent}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	s.send(wire.LsState{TID: m.TID, Children: rep.Children})
}

func toWireKVs(in []store.KeyValue) []wire.KeyValue {
	out := make([]wire.KeyValue, len(in))
	for i, kv := range in {
		out[i] = wire.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	return out
}

func (s *Session) handleSubscribe(ctx context.Context, m wire.Subscribe) {
	if err := s.authorize(auth.Read, m.Key); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{Subscribe: &broker.SubscribeRequest{
		ClientID: s.cfg.ClientID, Key: m.Key, Unique: m.Unique, LiveOnly: m.LiveOnly,
	}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	sub := rep.Subscriber
	metrics.SubscriptionsActive.WithLabelValues("subscribe").Inc()
	s.send(wire.Ack{TID: m.TID})

	s.startForwarder(ctx, sub.ID, sub.Sink, 0, "subscribe", func(ev pubsub.Event) {
		for _, key := range ev.Deleted {
			k := key
			s.send(wire.State{TID: m.TID, Deleted: &k})
		}
		for _, kv := range ev.KeyValuePairs {
			w := wire.KeyValue{Key: kv.Key, Value: kv.Value}
			s.send(wire.State{TID: m.TID, KeyValue: &w})
		}
	})
}

func (s *Session) handlePSubscribe(ctx context.Context, m wire.PSubscribe) {
	if err := s.authorize(auth.Read, m.Pattern); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{PSubscribe: &broker.PSubscribeRequest{
		ClientID: s.cfg.ClientID, Pattern: m.Pattern, Unique: m.Unique, LiveOnly: m.LiveOnly,
	}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	sub := rep.Subscriber
	metrics.SubscriptionsActive.WithLabelValues("psubscribe").Inc()
	s.send(wire.Ack{TID: m.TID})

	window := time.Duration(m.Aggregate) * time.Millisecond
	s.startForwarder(ctx, sub.ID, sub.Sink, window, "psubscribe", func(ev pubsub.Event) {
		s.send(wire.PState{TID: m.TID, Pattern: m.Pattern, KeyValuePairs: pubsubToWireKVs(ev.KeyValuePairs), Deleted: ev.Deleted})
	})
}

func pubsubToWireKVs(in []pubsub.KeyValue) []wire.KeyValue {
	out := make([]wire.KeyValue, len(in))
	for i, kv := range in {
		out[i] = wire.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	return out
}

func (s *Session) handleSubscribeLs(ctx context.Context, m wire.SubscribeLs) {
	if err := s.authorize(auth.Read, m.Parent+string(s.cfg.Chars.Separator)+string(s.cfg.Chars.Wildcard)); err != nil {
		s.sendReplyErr(m.TID, err)
		return
	}
	rep := broker.Send(ctx, s.brokerIn, &broker.Request{SubscribeLs: &broker.SubscribeLsRequest{
		ClientID: s.cfg.ClientID, Parent: m.Parent,
	}})
	if rep.Err != nil {
		s.sendReplyErr(m.TID, rep.Err)
		return
	}
	sub := rep.LsSubscriber
	metrics.SubscriptionsActive.WithLabelValues("subscribe_ls").Inc()
	s.send(wire.Ack{TID: m.TID})

	fctx, cancel := context.WithCancel(ctx)
	s.subsMu.Lock()
	s.subForwarders[sub.ID] = cancel
	s.subsMu.Unlock()

	s.fwdWG.Add(1)
	go func() {
		defer s.fwdWG.Done()
		defer wblog.RecoverPanic(s.log, "session.lsForwarder", map[string]any{"client_id": s.cfg.ClientID, "subscription_id": sub.ID})
		defer func() {
			broker.Send(context.Background(), s.brokerIn, &broker.Request{UnsubscribeLs: &broker.UnsubscribeLsRequest{SubscriptionID: sub.ID}})
			s.subsMu.Lock()
			delete(s.subForwarders, sub.ID)
			s.subsMu.Unlock()
			metrics.SubscriptionsActive.WithLabelValues("subscribe_ls").Dec()
		}()
		for {
			select {
			case children, ok := <-sub.Sink:
				if !ok {
					return
				}
				s.send(wire.LsState{TID: m.TID, Children: children})
			case <-fctx.Done():
				return
			}
		}
	}()
}

// startForwarder runs the per-subscription forwarder task from spec.md
// §4.6: drain sink (optionally through an aggregate.Aggregator when window
// is non-zero), call emit per event, and unsubscribe from the actor on
// exit. Fair interleaving between subscriptions comes from each forwarder
// running as its own goroutine, all funneling through the single egress
// channel the writer goroutine drains.
func (s *Session) startForwarder(ctx context.Context, subID uint64, sink chan pubsub.Event, window time.Duration, kind string, emit func(pubsub.Event)) {
	fctx, cancel := context.WithCancel(ctx)
	s.subsMu.Lock()
	s.subForwarders[subID] = cancel
	s.subsMu.Unlock()

	var in <-chan pubsub.Event = sink
	var aggDone chan struct{}
	if window > 0 && s.aggPool != nil {
		aggIn := make(chan pubsub.Event, 64)
		aggOut := make(chan pubsub.Event, 64)
		agg := aggregate.New(window, aggIn, aggOut, s.aggPool)
		aggDone = make(chan struct{})
		go func() {
			defer close(aggIn)
			defer wblog.RecoverPanic(s.log, "session.aggregateFeed", map[string]any{"client_id": s.cfg.ClientID, "subscription_id": subID})
			for {
				select {
				case ev, ok := <-sink:
					if !ok {
						return
					}
					aggIn <- ev
				case <-fctx.Done():
					return
				}
			}
		}()
		go func() {
			defer close(aggDone)
			defer wblog.RecoverPanic(s.log, "session.aggregateRun", map[string]any{"client_id": s.cfg.ClientID, "subscription_id": subID})
			agg.Run()
		}()
		in = aggOut
	}

	s.fwdWG.Add(1)
	go func() {
		defer s.fwdWG.Done()
		defer wblog.RecoverPanic(s.log, "session.forwarder", map[string]any{"client_id": s.cfg.ClientID, "subscription_id": subID})
		defer func() {
			broker.Send(context.Background(), s.brokerIn, &broker.Request{Unsubscribe: &broker.UnsubscribeRequest{SubscriptionID: subID}})
			s.subsMu.Lock()
			delete(s.subForwarders, subID)
			s.subsMu.Unlock()
			metrics.SubscriptionsActive.WithLabelValues(kind).Dec()
			if aggDone != nil {
				<-aggDone
			}
		}()
		for {
			select {
			case ev, ok := <-in:
				if !ok {
					return
				}
				emit(ev)
			case <-fctx.Done():
				return
			}
		}
	}()
}

func (s *Session) handleUnsubscribe(ctx context.Context, m wire.Unsubscribe) {
	s.subsMu.Lock()
	cancel, ok := s.subForwarders[m.SubscriptionID]
	s.subsMu.Unlock()
	if ok {
		cancel()
	}
	s.send(wire.Ack{TID: m.TID})
}

func (s *Session) handleUnsubscribeLs(ctx context.Context, m wire.UnsubscribeLs) {
	s.subsMu.Lock()
	cancel, ok := s.subForwarders[m.SubscriptionID]
	s.subsMu.Unlock()
	if ok {
		cancel()
	}
	s.send(wire.Ack{TID: m.TID})
}

// teardown runs once, after the read loop has exited and every forwarder
// and the write/keepalive loops have stopped: it tells the actor the
// client is gone (triggering subscriber cleanup, grave goods, and last
// will per spec.md §4.6/§12) and releases the transport.
func (s *Session) teardown() {
	s.setState(Closing)
	s.mu.Lock()
	graveGoods := s.graveGoods
	lastWill := s.lastWill
	s.mu.Unlock()

	broker.Send(context.Background(), s.brokerIn, &broker.Request{Disconnected: &broker.DisconnectedRequest{
		ClientID:   s.cfg.ClientID,
		GraveGoods: graveGoods,
		LastWill:   lastWill,
	}})
	close(s.egress)
	s.transport.Close()
}
