// Package sysvars feeds the read-only $SYS/ key subtree: server identity,
// uptime, store size, and (beyond spec.md's original set) process resource
// usage, so operators can `get`/`subscribe` them like any other key.
package sysvars

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/adred-codev/worterbuch/internal/broker"
	"github.com/adred-codev/worterbuch/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	keyVersion            = "$SYS/version"
	keyLicense            = "$SYS/license"
	keyUptime             = "$SYS/uptime"
	keyValuesCount        = "$SYS/store/values/count"
	keySupportedProtocol  = "$SYS/supportedProtocolVersion"
	keyProcessCPUPercent  = "$SYS/process/cpu_percent"
	keyProcessMemoryMB    = "$SYS/process/memory_mb"
	keyProcessMemoryLimit = "$SYS/process/memory_limit"
)

// Config configures a Provider.
type Config struct {
	Version         string
	License         string
	RefreshInterval time.Duration
	BrokerIn        chan *broker.Request
	Log             zerolog.Logger
}

// Provider periodically writes $SYS/ values into the store via the broker's
// SysSet request, the one path that bypasses the client-facing read-only
// check in internal/store.
type Provider struct {
	cfg      Config
	start    time.Time
	cpuPct   float64
	memLimit int64
	hasLimit bool
}

// New creates a Provider. Call Run in its own goroutine.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, start: time.Now()}
}

// Run writes the static keys once, then refreshes the dynamic ones every
// RefreshInterval until ctx is cancelled.
func (p *Provider) Run(ctx context.Context) {
	if limit, err := memoryLimit(); err != nil {
		p.cfg.Log.Warn().Err(err).Msg("sysvars: memory limit detection failed")
	} else if limit > 0 {
		p.memLimit, p.hasLimit = limit, true
	}

	p.set(ctx, keyVersion, p.cfg.Version)
	p.set(ctx, keyLicense, p.cfg.License)
	p.set(ctx, keySupportedProtocol, supportedProtocolString())

	p.refresh(ctx)

	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Provider) refresh(ctx context.Context) {
	p.set(ctx, keyUptime, strconv.FormatInt(int64(time.Since(p.start).Seconds()), 10))

	rep := broker.Send(ctx, p.cfg.BrokerIn, &broker.Request{Len: &broker.LenRequest{}})
	if rep.Err == nil {
		p.set(ctx, keyValuesCount, strconv.Itoa(rep.Count))
		metrics.StoreSize.Set(float64(rep.Count))
	}

	metrics.BrokerQueueDepth.Set(float64(len(p.cfg.BrokerIn)))
	metrics.BrokerQueueCapacity.Set(float64(cap(p.cfg.BrokerIn)))

	p.updateCPUPercent()
	p.set(ctx, keyProcessCPUPercent, strconv.FormatFloat(p.cpuPct, 'f', 2, 64))
	metrics.CPUUsagePercent.Set(p.cpuPct)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memMB := float64(mem.Sys) / 1024 / 1024
	p.set(ctx, keyProcessMemoryMB, strconv.FormatFloat(memMB, 'f', 2, 64))
	metrics.MemoryUsageBytes.Set(float64(mem.Sys))

	if p.hasLimit {
		p.set(ctx, keyProcessMemoryLimit, strconv.FormatInt(p.memLimit, 10))
		metrics.MemoryLimitBytes.Set(float64(p.memLimit))
	}
}

// updateCPUPercent samples system-wide CPU usage with an exponential moving
// average, the same smoothing the connection pool's metrics poller uses.
func (p *Provider) updateCPUPercent() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	const alpha = 0.3
	if p.cpuPct == 0 {
		p.cpuPct = percents[0]
	} else {
		p.cpuPct = alpha*percents[0] + (1-alpha)*p.cpuPct
	}
}

func (p *Provider) set(ctx context.Context, key, value string) {
	rep := broker.Send(ctx, p.cfg.BrokerIn, &broker.Request{SysSet: &broker.SysSetRequest{Key: key, Value: value}})
	if rep.Err != nil {
		p.cfg.Log.Warn().Err(rep.Err).Str("key", key).Msg("sysvars: write failed")
	}
}

func supportedProtocolString() string {
	v := broker.SupportedVersions[0]
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}
