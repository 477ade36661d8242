package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// QueueSnapshotProvider is satisfied by dispatch.TaskQueue and
// dispatch.Semaphore through their Length() and Workers() methods, a plain
// length/workers pair so one poller can track both uniformly.
type QueueSnapshotProvider interface {
	Length() int
	Workers() int
}

// PoolSnapshotProvider is satisfied by dispatch.ResourcePool's Total() and
// Idle() methods.
type PoolSnapshotProvider interface {
	Total() int
	Idle() int
}

// SnapshotPoller periodically exports queue/pool stats snapshots into
// Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	queuesMu sync.RWMutex
	queues   map[string]QueueSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	queueLength  *prom.GaugeVec
	queueWorkers *prom.GaugeVec

	poolTotal *prom.GaugeVec
	poolIdle  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queueLength := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dispatch",
		Name:      "queue_length_snapshot",
		Help:      "Polled priority wait-queue length.",
	}, []string{"owner"})
	queueWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dispatch",
		Name:      "queue_workers_snapshot",
		Help:      "Polled live worker count.",
	}, []string{"owner"})
	poolTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dispatch",
		Name:      "pool_total_snapshot",
		Help:      "Polled total (active + idle) resource count.",
	}, []string{"pool"})
	poolIdle := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dispatch",
		Name:      "pool_idle_snapshot",
		Help:      "Polled idle (free-list) resource count.",
	}, []string{"pool"})

	var err error
	if queueLength, err = registerCollector(reg, queueLength); err != nil {
		return nil, err
	}
	if queueWorkers, err = registerCollector(reg, queueWorkers); err != nil {
		return nil, err
	}
	if poolTotal, err = registerCollector(reg, poolTotal); err != nil {
		return nil, err
	}
	if poolIdle, err = registerCollector(reg, poolIdle); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:     interval,
		queues:       make(map[string]QueueSnapshotProvider),
		pools:        make(map[string]PoolSnapshotProvider),
		queueLength:  queueLength,
		queueWorkers: queueWorkers,
		poolTotal:    poolTotal,
		poolIdle:     poolIdle,
	}, nil
}

// AddQueue adds or replaces a queue snapshot provider by name.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	p.queues[name] = provider
	p.queuesMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.queuesMu.RLock()
	for name, provider := range p.queues {
		p.queueLength.WithLabelValues(name).Set(float64(provider.Length()))
		p.queueWorkers.WithLabelValues(name).Set(float64(provider.Workers()))
	}
	p.queuesMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		p.poolTotal.WithLabelValues(name).Set(float64(provider.Total()))
		p.poolIdle.WithLabelValues(name).Set(float64(provider.Idle()))
	}
	p.poolsMu.RUnlock()
}
