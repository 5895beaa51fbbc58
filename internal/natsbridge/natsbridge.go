// Package natsbridge implements the optional external publish ingestion
// path: NATS messages on a configured subject become broker Publish
// requests (never Set — an external feed should not be able to mutate the
// store directly, only notify live subscribers), exercising spec.md's
// publish-vs-set distinction from an outside producer.
package natsbridge

import (
	"context"
	"strings"
	"time"

	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config configures a Bridge.
type Config struct {
	// URL is the NATS server to connect to. An empty URL disables the
	// bridge entirely — Run becomes a no-op.
	URL string
	// Subject may use NATS wildcards (`*`, `>`); each token becomes one
	// key segment, joined with Chars.Separator, under KeyPrefix.
	Subject   string
	KeyPrefix string
	Chars     keys.Chars
	BrokerIn  chan *broker.Request
	Log       zerolog.Logger
}

// Bridge subscribes to Config.Subject and republishes every message as a
// key/value pair under KeyPrefix.
type Bridge struct {
	cfg  Config
	conn *nats.Conn
	sub  *nats.Subscription
}

// New creates a disconnected Bridge. Call Run to connect and subscribe.
func New(cfg Config) *Bridge {
	return &Bridge{cfg: cfg}
}

// Run connects, subscribes, and blocks forwarding messages until ctx is
// cancelled. If Config.URL is empty, Run returns immediately (nil) without
// connecting — the bridge is an optional feature.
func (b *Bridge) Run(ctx context.Context) error {
	if b.cfg.URL == "" {
		return nil
	}

	conn, err := nats.Connect(b.cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ConnectHandler(func(c *nats.Conn) {
			b.cfg.Log.Info().Str("url", c.ConnectedUrl()).Msg("natsbridge: connected")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				b.cfg.Log.Warn().Err(err).Msg("natsbridge: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.cfg.Log.Info().Str("url", c.ConnectedUrl()).Msg("natsbridge: reconnected")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			b.cfg.Log.Warn().Err(err).Msg("natsbridge: error")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn
	defer conn.Close()

	sub, err := conn.Subscribe(b.cfg.Subject, func(msg *nats.Msg) {
		b.forward(ctx, msg)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	defer sub.Unsubscribe()

	b.cfg.Log.Info().Str("subject", b.cfg.Subject).Msg("natsbridge: subscribed")
	<-ctx.Done()
	return nil
}

func (b *Bridge) forward(ctx context.Context, msg *nats.Msg) {
	key := b.keyFor(msg.Subject)
	rep := broker.Send(ctx, b.cfg.BrokerIn, &broker.Request{
		Publish: &broker.PublishRequest{Key: key, Value: string(msg.Data)},
	})
	if rep.Err != nil {
		b.cfg.Log.Warn().Err(rep.Err).Str("subject", msg.Subject).Str("key", key).Msg("natsbridge: publish failed")
	}
}

// keyFor maps a concrete NATS subject (dot-separated) to a store key, under
// KeyPrefix and using Chars.Separator instead of NATS's ".".
func (b *Bridge) keyFor(subject string) string {
	segs := strings.Split(subject, ".")
	sep := string(b.cfg.Chars.Separator)
	key := strings.Join(segs, sep)
	if b.cfg.KeyPrefix == "" {
		return key
	}
	return b.cfg.KeyPrefix + sep + key
}
