package json

import (
	stdjson "encoding/json"
	"testing"

	"github.com/adred-codev/worterbuch/internal/wire"
)

func TestDecodeClientGet(t *testing.T) {
	msg, err := DecodeClient([]byte(`{"get":{"transactionId":1,"key":"a/b"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	get, ok := msg.(wire.Get)
	if !ok || get.TID != 1 || get.Key != "a/b" {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeClientPSubscribe(t *testing.T) {
	msg, err := DecodeClient([]byte(`{"pSubscribe":{"transactionId":2,"requestPattern":"a/#","unique":true,"aggregateEvents":500}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps, ok := msg.(wire.PSubscribe)
	if !ok || !ps.Unique || ps.Aggregate != 500 {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestEncodeDecodeStateRoundTrip(t *testing.T) {
	kv := wire.KeyValue{Key: "a/b", Value: "1"}
	out, err := EncodeServer(wire.State{TID: 5, KeyValue: &kv})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	var env envelope
	if err := unmarshalEnvelope(out, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.State == nil || env.State.KeyValue == nil || env.State.KeyValue.Key != "a/b" {
		t.Fatalf("unexpected round trip: %s", out)
	}
}

func TestEncodeErr(t *testing.T) {
	out, err := EncodeServer(wire.Err{TID: 1, Code: 0x05, Metadata: "k"})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	var env envelope
	if err := unmarshalEnvelope(out, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Err == nil || env.Err.ErrorCode != 0x05 {
		t.Fatalf("unexpected err encoding: %s", out)
	}
}

func unmarshalEnvelope(data []byte, env *envelope) error {
	return stdjson.Unmarshal(data, env)
}
