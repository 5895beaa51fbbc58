package binary

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/adred-codev/worterbuch/internal/wire"
)

func TestDecodeClientGet(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(typeGet)
	writeUint64(&buf, 42)
	writeUint16(&buf, 3)
	buf.WriteString("abc")

	msg, err := DecodeClient(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	get, ok := msg.(wire.Get)
	if !ok || get.TID != 42 || get.Key != "abc" {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeClientSet(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(typeSet)
	writeUint64(&buf, 7)
	writeUint16(&buf, 1)
	writeUint32(&buf, 2)
	buf.WriteString("k")
	buf.WriteString("42")

	msg, err := DecodeClient(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set, ok := msg.(wire.Set)
	if !ok || set.Key != "k" || set.Value != "42" {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeClientSub(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(typeSub)
	writeUint64(&buf, 1)
	writeUint16(&buf, 1)
	buf.WriteString("x")
	buf.WriteByte(1)

	msg, err := DecodeClient(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, ok := msg.(wire.Subscribe)
	if !ok || !sub.Unique {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestEncodeServerStateOpcode(t *testing.T) {
	var buf bytes.Buffer
	kv := wire.KeyValue{Key: "a/b", Value: "7"}
	msg := wire.State{TID: 9, KeyValue: &kv}
	if err := EncodeServer(&buf, msg); err != nil {
		t.Fatalf("encode error: %v", err)
	}

	if buf.Bytes()[0] != typeSta {
		t.Fatalf("expected STA opcode, got 0x%02x", buf.Bytes()[0])
	}
}

func TestEncodeServerPStateOpcode(t *testing.T) {
	var buf bytes.Buffer
	msg := wire.PState{
		TID:           1,
		Pattern:       "a/?",
		KeyValuePairs: []wire.KeyValue{{Key: "a/b", Value: "1"}, {Key: "a/c", Value: "2"}},
	}
	if err := EncodeServer(&buf, msg); err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if buf.Bytes()[0] != typePSta {
		t.Fatalf("expected PSTA opcode, got 0x%02x", buf.Bytes()[0])
	}
}

func TestEncodeServerErr(t *testing.T) {
	var buf bytes.Buffer
	msg := wire.Err{TID: 3, Code: 0x05, Metadata: "k"}
	if err := EncodeServer(&buf, msg); err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if buf.Bytes()[0] != typeErr {
		t.Fatalf("expected ERR opcode, got 0x%02x", buf.Bytes()[0])
	}
}

func TestEncodeServerHandshake(t *testing.T) {
	var buf bytes.Buffer
	msg := wire.Handshake{
		SupportedVersions: [][2]uint16{{1, 0}},
		Separator:         '/',
		Wildcard:          '?',
		MultiWildcard:     '#',
	}
	if err := EncodeServer(&buf, msg); err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b := buf.Bytes()
	if b[0] != typeHshk || b[1] != 1 {
		t.Fatalf("unexpected handshake header: %v", b[:2])
	}
}

func TestEncodeServerKeepaliveUsesSentinelAck(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeServer(&buf, wire.Keepalive{}); err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b := buf.Bytes()
	if b[0] != typeAck {
		t.Fatalf("expected ACK opcode for keepalive, got 0x%02x", b[0])
	}
	if tid, _ := readUint64(bytes.NewReader(b[1:])); tid != 0 {
		t.Fatalf("expected sentinel tid 0, got %d", tid)
	}
}
