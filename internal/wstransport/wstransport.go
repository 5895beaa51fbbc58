// Package wstransport implements the JSON/WebSocket listener: an
// http.Handler that upgrades each request in place and spawns a session per
// connection. Grounded on ws/server.go's handleWebSocket (ws.UpgradeHTTP,
// one goroutine per connection) generalized from the binary codec to JSON.
package wstransport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/worterbuch/internal/auth"
	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/session"
	"github.com/adred-codev/worterbuch/internal/wire"
	wsjson "github.com/adred-codev/worterbuch/internal/wire/json"
	"github.com/adred-codev/worterbuch/internal/workerpool"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// Transport adapts a gobwas/ws connection to session.Transport, one JSON
// text frame per message in either direction.
type Transport struct {
	conn net.Conn
}

func newTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

func (t *Transport) ReadMessage() (wire.ClientMessage, error) {
	for {
		data, op, err := wsutil.ReadClientData(t.conn)
		if err != nil {
			return nil, err
		}
		switch op {
		case ws.OpText:
			return wsjson.DecodeClient(data)
		case ws.OpClose:
			return nil, errClosed
		case ws.OpPing, ws.OpPong:
			continue
		}
	}
}

var errClosed = clientClosedError{}

type clientClosedError struct{}

func (clientClosedError) Error() string { return "wstransport: client sent close frame" }

// Unwrap reports a close frame as a clean close (io.EOF).
func (clientClosedError) Unwrap() error { return io.EOF }

func (t *Transport) WriteMessage(msg wire.ServerMessage) error {
	data, err := wsjson.EncodeServer(msg)
	if err != nil {
		return err
	}
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wsutil.WriteServerMessage(t.conn, ws.OpText, data)
}

func (t *Transport) Close() error       { return t.conn.Close() }
func (t *Transport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// Handler upgrades incoming HTTP requests to WebSocket connections and runs
// one session per connection.
type Handler struct {
	BrokerIn      chan *broker.Request
	SessionConfig func(clientID, remoteAddr string) session.Config
	AuthMgr       *auth.Manager
	AggPool       *workerpool.WorkerPool
	Log           zerolog.Logger

	// Ctx governs session lifetime. It must outlive individual requests —
	// http.Request.Context() is cancelled the moment ServeHTTP returns,
	// which happens immediately after a successful upgrade, so it cannot be
	// used here.
	Ctx context.Context

	nextClientID uint64
	conns        sync.WaitGroup
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.Log.Debug().Err(err).Msg("wstransport: upgrade failed")
		return
	}

	n := atomic.AddUint64(&h.nextClientID, 1)
	clientID := formatClientID(n)

	tr := newTransport(conn)
	cfg := h.SessionConfig(clientID, r.RemoteAddr)
	sess := session.New(cfg, tr, h.BrokerIn, h.AuthMgr, h.AggPool, h.Log)

	h.conns.Add(1)
	go func() {
		defer h.conns.Done()
		sess.Run(h.Ctx)
	}()
}

// Run starts an HTTP server serving h at addr until ctx is cancelled. It
// does not return until every session spawned from an upgraded connection
// has also returned, so a caller can safely tear down shared resources
// (such as an event-aggregator pool) once Run returns.
func Run(ctx context.Context, addr string, h *Handler) error {
	h.Ctx = ctx
	mux := http.NewServeMux()
	mux.Handle("/", h)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.conns.Wait()
		return err
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func formatClientID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "ws-0"
	}
	buf := make([]byte, 0, 20)
	for n > 0 {
		buf = append([]byte{hex[n%16]}, buf...)
		n /= 16
	}
	return "ws-" + string(buf)
}
