package tcptransport

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/adred-codev/worterbuch/internal/wire"
)

func TestFormatClientID(t *testing.T) {
	cases := map[uint64]string{0: "tcp-0", 1: "tcp-1", 16: "tcp-10", 255: "tcp-ff"}
	for n, want := range cases {
		if got := formatClientID(n); got != want {
			t.Errorf("formatClientID(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTransportRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	tr := newTransport(serverConn)

	go func() {
		w := bufio.NewWriter(clientConn)
		// Encode a Get frame by hand using the client-side path: reuse the
		// binary package's own encoder indirectly isn't exported for client
		// messages, so just write what DecodeClient expects for typeGet.
		w.WriteByte(0x00)
		writeUint64Test(w, 7)
		writeUint16Test(w, 3)
		w.WriteString("a/b")
		w.Flush()
	}()

	msg, err := tr.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	get, ok := msg.(wire.Get)
	if !ok || get.Key != "a/b" || get.TID != 7 {
		t.Fatalf("unexpected decoded message: %+v", msg)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Read the whole ACK frame (type byte + 8-byte tid): net.Pipe is
		// synchronous, so an unread tail would block WriteMessage.
		var frame [9]byte
		_, err := io.ReadFull(clientConn, frame[:])
		b := frame[0]
		if err != nil || b != 0x81 { // ACK
			t.Errorf("expected ACK byte, got %v err=%v", b, err)
		}
	}()
	if err := tr.WriteMessage(wire.Ack{TID: 7}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	<-done
}

func writeUint64Test(w *bufio.Writer, v uint64) {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	w.Write(buf[:])
}

func writeUint16Test(w *bufio.Writer, v uint16) {
	w.WriteByte(byte(v >> 8))
	w.WriteByte(byte(v))
}
