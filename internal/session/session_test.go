package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/adred-codev/worterbuch/internal/wire"
	"github.com/rs/zerolog"
)

type fakeTransport struct {
	in     chan wire.ClientMessage
	out    chan wire.ServerMessage
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan wire.ClientMessage, 16),
		out:    make(chan wire.ServerMessage, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (wire.ClientMessage, error) {
	select {
	case m, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteMessage(msg wire.ServerMessage) error {
	select {
	case f.out <- msg:
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "fake" }

func newTestBroker(t *testing.T) (*broker.Broker, chan *broker.Request, func()) {
	t.Helper()
	b := broker.New(keys.DefaultChars, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	return b, b.In, cancel
}

func newTestSession(t *testing.T, brokerIn chan *broker.Request, authRequired bool) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	cfg := Config{
		ClientID:               "client-1",
		Version:                "test",
		ProtocolVersion:        [2]uint16{1, 0},
		AuthenticationRequired: authRequired,
		KeepaliveTimeout:       5 * time.Second,
		EgressBufferSize:       32,
		Chars:                  keys.DefaultChars,
		TransportLabel:         "test",
	}
	return New(cfg, tr, brokerIn, nil, nil, zerolog.Nop()), tr
}

func drainWelcome(t *testing.T, tr *fakeTransport) wire.Welcome {
	t.Helper()
	select {
	case msg := <-tr.out:
		w, ok := msg.(wire.Welcome)
		if !ok {
			t.Fatalf("expected Welcome, got %T", msg)
		}
		return w
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Welcome")
		return wire.Welcome{}
	}
}

func expectMessage(t *testing.T, tr *fakeTransport) wire.ServerMessage {
	t.Helper()
	select {
	case msg := <-tr.out:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server message")
		return nil
	}
}

func TestWelcomeAndAuthenticatedWhenAuthNotRequired(t *testing.T) {
	_, brokerIn, cancel := newTestBroker(t)
	defer cancel()
	sess, tr := newTestSession(t, brokerIn, false)

	ctx, sessCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	w := drainWelcome(t, tr)
	if w.AuthenticationRequired {
		t.Fatal("expected AuthenticationRequired=false")
	}
	if _, ok := expectMessage(t, tr).(wire.Authenticated); !ok {
		t.Fatal("expected Authenticated frame")
	}

	tr.Close()
	sessCancel()
	<-done
}

func TestSetThenGetRoundTrip(t *testing.T) {
	_, brokerIn, cancel := newTestBroker(t)
	defer cancel()
	sess, tr := newTestSession(t, brokerIn, false)

	ctx, sessCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()
	defer func() {
		tr.Close()
		sessCancel()
		<-done
	}()

	drainWelcome(t, tr)
	expectMessage(t, tr) // Authenticated

	tr.in <- wire.Set{TID: 1, Key: "a/b", Value: "42"}
	ack, ok := expectMessage(t, tr).(wire.Ack)
	if !ok || ack.TID != 1 {
		t.Fatalf("expected Ack{TID:1}, got %+v", ack)
	}

	tr.in <- wire.Get{TID: 2, Key: "a/b"}
	state, ok := expectMessage(t, tr).(wire.State)
	if !ok || state.KeyValue == nil || state.KeyValue.Value != "42" {
		t.Fatalf("expected State with value 42, got %+v", state)
	}
}

func TestSubscribeReceivesStateOnSet(t *testing.T) {
	_, brokerIn, cancel := newTestBroker(t)
	defer cancel()
	sess, tr := newTestSession(t, brokerIn, false)

	ctx, sessCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()
	defer func() {
		tr.Close()
		sessCancel()
		<-done
	}()

	drainWelcome(t, tr)
	expectMessage(t, tr) // Authenticated

	tr.in <- wire.Subscribe{TID: 5, Key: "x/y", LiveOnly: true}
	ack, ok := expectMessage(t, tr).(wire.Ack)
	if !ok || ack.TID != 5 {
		t.Fatalf("expected subscribe Ack, got %+v", ack)
	}

	tr.in <- wire.Set{TID: 6, Key: "x/y", Value: "hello"}

	// The Set's Ack and the subscription's pushed State arrive on
	// independent goroutines (the session's request handler and the
	// subscription forwarder), so their relative order isn't guaranteed.
	var sawAck, sawPush bool
	for i := 0; i < 2; i++ {
		switch msg := expectMessage(t, tr).(type) {
		case wire.Ack:
			if msg.TID != 6 {
				t.Fatalf("expected Ack{TID:6}, got %+v", msg)
			}
			sawAck = true
		case wire.State:
			if msg.KeyValue == nil || msg.KeyValue.Value != "hello" {
				t.Fatalf("expected pushed State with value hello, got %+v", msg)
			}
			sawPush = true
		default:
			t.Fatalf("unexpected message type %T", msg)
		}
	}
	if !sawAck || !sawPush {
		t.Fatalf("expected both Ack and pushed State, got ack=%v push=%v", sawAck, sawPush)
	}
}

func TestKeepaliveTimeoutClosesSession(t *testing.T) {
	_, brokerIn, cancel := newTestBroker(t)
	defer cancel()
	tr := newFakeTransport()
	cfg := Config{
		ClientID:               "client-timeout",
		AuthenticationRequired: false,
		KeepaliveTimeout:       200 * time.Millisecond,
		EgressBufferSize:       8,
		Chars:                  keys.DefaultChars,
		TransportLabel:         "test",
	}
	sess := New(cfg, tr, brokerIn, nil, nil, zerolog.Nop())

	done := make(chan struct{})
	go func() { sess.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected session to close after keepalive timeout")
	}
}
