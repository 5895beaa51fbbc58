package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/adred-codev/worterbuch/internal/auth"
	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/keys"
	"github.com/adred-codev/worterbuch/internal/metrics"
	"github.com/adred-codev/worterbuch/internal/natsbridge"
	"github.com/adred-codev/worterbuch/internal/persistence"
	"github.com/adred-codev/worterbuch/internal/session"
	"github.com/adred-codev/worterbuch/internal/sysvars"
	"github.com/adred-codev/worterbuch/internal/tcptransport"
	"github.com/adred-codev/worterbuch/internal/wblog"
	"github.com/adred-codev/worterbuch/internal/workerpool"
	"github.com/adred-codev/worterbuch/internal/wstransport"
	"golang.org/x/time/rate"

	_ "go.uber.org/automaxprocs"
)

// brokerExporter adapts a *broker.Broker to persistence.Exporter. Export
// goes through the actor's request channel (safe at any time); Import is
// only ever called once, before the actor's Run goroutine starts.
type brokerExporter struct{ b *broker.Broker }

func (e *brokerExporter) Export() map[string]any {
	rep := broker.Send(context.Background(), e.b.In, &broker.Request{Export: &broker.ExportRequest{}})
	return rep.Data
}

func (e *brokerExporter) Import(data map[string]any) {
	e.b.LoadSnapshot(data)
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides WB_LOG_LEVEL)")
	flag.Parse()

	startupLog := wblog.New(wblog.Config{Level: wblog.LevelInfo, Format: wblog.FormatPretty})

	cfg, err := LoadConfig(&startupLog)
	if err != nil {
		startupLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := wblog.New(wblog.Config{Level: wblog.Level(cfg.LogLevel), Format: wblog.Format(cfg.LogFormat)})
	cfg.Print()
	cfg.LogConfig(log)

	chars := keys.Chars{
		Separator:     cfg.Separator[0],
		Wildcard:      cfg.Wildcard[0],
		MultiWildcard: cfg.MultiWildcard[0],
	}

	b := broker.New(chars, cfg.ChannelBufferSize, log)

	snapshotPath := filepath.Join(cfg.DataDir, "worterbuch.json")
	if cfg.UsePersistence {
		if err := persistence.EnsureDir(snapshotPath); err != nil {
			log.Fatal().Err(err).Msg("failed to create data directory")
		}
	}
	if err := persistence.LoadInto(snapshotPath, cfg.UsePersistence, &brokerExporter{b: b}); err != nil {
		log.Fatal().Err(err).Msg("failed to load persisted snapshot")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx)

	aggPool := workerpool.NewWorkerPool(cfg.AggregatorWorkers, cfg.AggregatorQueueLen, log, "aggregate")
	aggPool.Start(ctx)
	defer aggPool.Stop()

	var authMgr *auth.Manager
	if cfg.AuthRequired {
		authMgr = auth.NewManager(cfg.JWTSecret)
	}

	sessionConfig := func(clientID, remoteAddr, transportLabel string, protocolVersion [2]uint16) session.Config {
		return session.Config{
			ClientID:               clientID,
			Version:                cfg.Version,
			ProtocolVersion:        protocolVersion,
			AuthenticationRequired: cfg.AuthRequired,
			KeepaliveTimeout:       cfg.KeepaliveTimeout,
			EgressBufferSize:       cfg.ChannelBufferSize,
			Chars:                  chars,
			TransportLabel:         transportLabel,
		}
	}

	var wg sync.WaitGroup

	tcpListener := &tcptransport.Listener{
		Addr: cfg.TCPAddr,
		SessionConfig: func(clientID, remoteAddr string) session.Config {
			return sessionConfig(clientID, remoteAddr, "tcp", [2]uint16{1, 0})
		},
		BrokerIn:        b.In,
		AuthMgr:         authMgr,
		AggPool:         aggPool,
		Log:             log,
		ConnRateLimiter: rate.NewLimiter(rate.Limit(cfg.ConnRateLimit), cfg.ConnRateBurst),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer wblog.RecoverPanic(log, "main.tcpListener", nil)
		if err := tcpListener.Run(ctx); err != nil {
			log.Error().Err(err).Msg("tcp listener stopped")
		}
	}()

	wsHandler := &wstransport.Handler{
		SessionConfig: func(clientID, remoteAddr string) session.Config {
			return sessionConfig(clientID, remoteAddr, "ws", [2]uint16{1, 0})
		},
		BrokerIn: b.In,
		AuthMgr:  authMgr,
		AggPool:  aggPool,
		Log:      log,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer wblog.RecoverPanic(log, "main.wsListener", nil)
		if err := wstransport.Run(ctx, cfg.WSAddr, wsHandler); err != nil {
			log.Error().Err(err).Msg("websocket listener stopped")
		}
	}()

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer wblog.RecoverPanic(log, "main.metricsServer", nil)
		if err := metricsServer.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sv := sysvars.New(sysvars.Config{
		Version:         cfg.Version,
		License:         cfg.License,
		RefreshInterval: cfg.SysvarsInterval,
		BrokerIn:        b.In,
		Log:             log,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer wblog.RecoverPanic(log, "main.sysvars", nil)
		sv.Run(ctx)
	}()

	if cfg.UsePersistence {
		runner := &persistence.Runner{
			Path:     snapshotPath,
			Interval: cfg.PersistenceInterval,
			Store:    &brokerExporter{b: b},
			Log:      log,
		}
		done := make(chan struct{})
		go func() { <-ctx.Done(); close(done) }()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer wblog.RecoverPanic(log, "main.persistence", nil)
			runner.Run(done)
		}()
	}

	if cfg.NATSURL != "" {
		bridge := natsbridge.New(natsbridge.Config{
			URL:       cfg.NATSURL,
			Subject:   cfg.NATSPublishSubject,
			KeyPrefix: cfg.NATSKeyPrefix,
			Chars:     chars,
			BrokerIn:  b.In,
			Log:       log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer wblog.RecoverPanic(log, "main.natsbridge", nil)
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("nats bridge stopped")
			}
		}()
	}

	log.Info().Str("tcp_addr", cfg.TCPAddr).Str("ws_addr", cfg.WSAddr).Msg("worterbuch listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	if cfg.UsePersistence {
		if err := persistence.Save(snapshotPath, (&brokerExporter{b: b}).Export()); err != nil {
			log.Error().Err(err).Msg("final snapshot save failed")
		}
	}

	cancel()

	shutdownDone := make(chan struct{})
	go func() { wg.Wait(); close(shutdownDone) }()
	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out waiting for listeners to stop")
	}
}
