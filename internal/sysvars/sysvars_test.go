package sysvars

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/rs/zerolog"
)

func newTestBroker(t *testing.T) (chan *broker.Request, func()) {
	t.Helper()
	b := broker.New(keys.DefaultChars, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	return b.In, cancel
}

func get(t *testing.T, in chan *broker.Request, key string) string {
	t.Helper()
	rep := broker.Send(context.Background(), in, &broker.Request{Get: &broker.GetRequest{Key: key}})
	if rep.Err != nil {
		t.Fatalf("get %q: %v", key, rep.Err)
	}
	return rep.KeyValue.Value
}

func TestRunWritesStaticKeysImmediately(t *testing.T) {
	in, cancel := newTestBroker(t)
	defer cancel()

	p := New(Config{
		Version:         "1.2.3",
		License:         "MIT",
		RefreshInterval: time.Hour,
		BrokerIn:        in,
		Log:             zerolog.Nop(),
	})

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()
	defer func() { stop(); <-done }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if get(t, in, "$SYS/version") == "1.2.3" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := get(t, in, "$SYS/version"); got != "1.2.3" {
		t.Fatalf("$SYS/version = %q, want 1.2.3", got)
	}
	if got := get(t, in, "$SYS/license"); got != "MIT" {
		t.Fatalf("$SYS/license = %q, want MIT", got)
	}
	if got := get(t, in, "$SYS/supportedProtocolVersion"); got != "1.0" {
		t.Fatalf("$SYS/supportedProtocolVersion = %q, want 1.0", got)
	}
	if got := get(t, in, "$SYS/store/values/count"); got == "" {
		t.Fatal("$SYS/store/values/count was never set")
	}
}

func TestSysSetBypassesReadOnlyCheck(t *testing.T) {
	in, cancel := newTestBroker(t)
	defer cancel()

	rep := broker.Send(context.Background(), in, &broker.Request{Set: &broker.SetRequest{Key: "$SYS/uptime", Value: "0"}})
	if rep.Err == nil {
		t.Fatal("expected client-style Set against $SYS/ to fail")
	}

	rep = broker.Send(context.Background(), in, &broker.Request{SysSet: &broker.SysSetRequest{Key: "$SYS/uptime", Value: "42"}})
	if rep.Err != nil {
		t.Fatalf("SysSet failed: %v", rep.Err)
	}
	if got := get(t, in, "$SYS/uptime"); got != "42" {
		t.Fatalf("$SYS/uptime = %q, want 42", got)
	}
}
