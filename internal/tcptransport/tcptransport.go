// Package tcptransport implements the binary-framed TCP listener: one
// accept loop per configured address, one session per connection. Grounded
// on ws/server.go's Start/handleWebSocket accept-loop shape, generalized
// from HTTP upgrade to a plain TCP listener.
package tcptransport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/worterbuch/internal/auth"
	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/session"
	"github.com/adred-codev/worterbuch/internal/wire"
	"github.com/adred-codev/worterbuch/internal/wire/binary"
	"github.com/adred-codev/worterbuch/internal/workerpool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Transport adapts a net.Conn to session.Transport using the binary codec.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn, reader: bufio.NewReader(conn)}
}

func (t *Transport) ReadMessage() (wire.ClientMessage, error) {
	return binary.DecodeClient(t.reader)
}

func (t *Transport) WriteMessage(msg wire.ServerMessage) error {
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return binary.EncodeServer(t.conn, msg)
}

func (t *Transport) Close() error       { return t.conn.Close() }
func (t *Transport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// Listener accepts binary-framed TCP connections and spawns a session per
// connection.
type Listener struct {
	Addr            string
	BrokerIn        chan *broker.Request
	SessionConfig   func(clientID, remoteAddr string) session.Config
	AuthMgr         *auth.Manager
	AggPool         *workerpool.WorkerPool
	Log             zerolog.Logger
	ConnRateLimiter *rate.Limiter

	nextClientID uint64
	conns        sync.WaitGroup
}

// Run accepts connections until ctx is cancelled. It does not return until
// every session spawned from an accepted connection has also returned, so a
// caller can safely tear down shared resources (such as an event-aggregator
// pool) once Run returns.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.Addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.Log.Info().Str("addr", l.Addr).Msg("tcptransport: listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.conns.Wait()
				return nil
			}
			l.Log.Warn().Err(err).Msg("tcptransport: accept error")
			continue
		}
		if l.ConnRateLimiter != nil && !l.ConnRateLimiter.Allow() {
			conn.Close()
			continue
		}
		l.conns.Add(1)
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer l.conns.Done()

	n := atomic.AddUint64(&l.nextClientID, 1)
	clientID := formatClientID(n)

	tr := newTransport(conn)
	cfg := l.SessionConfig(clientID, conn.RemoteAddr().String())

	sess := session.New(cfg, tr, l.BrokerIn, l.AuthMgr, l.AggPool, l.Log)
	sess.Run(ctx)
}

func formatClientID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "tcp-0"
	}
	buf := make([]byte, 0, 20)
	for n > 0 {
		buf = append([]byte{hex[n%16]}, buf...)
		n /= 16
	}
	return "tcp-" + string(buf)
}
