package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"nodewatch/models"
	"nodewatch/utils"
)

// ErrIdentityUnresolved aborts a cycle when no seed has ever reported the
// network identity. Persisting with a zero identity would wipe the node list.
var ErrIdentityUnresolved = errors.New("network identity has never been resolved")

type MonitorState string

const (
	StateIdle       MonitorState = "idle"
	StateResolving  MonitorState = "resolving"
	StateCrawling   MonitorState = "crawling"
	StateEnriching  MonitorState = "enriching"
	StatePersisting MonitorState = "persisting"
	StateSleeping   MonitorState = "sleeping"
)

type MonitorOptions struct {
	SeedURLs               []string
	Interval               time.Duration
	RestartDelay           time.Duration
	KeepStaleFor           time.Duration
	FailureNotifyThreshold int
}

// MonitorStatus is a point-in-time view of the scheduler for the API.
type MonitorStatus struct {
	State               MonitorState           `json:"state"`
	Running             bool                   `json:"running"`
	Identity            models.NetworkIdentity `json:"identity"`
	LastCycleAt         *time.Time             `json:"lastCycleAt,omitempty"`
	LastSuccessAt       *time.Time             `json:"lastSuccessAt,omitempty"`
	LastError           string                 `json:"lastError,omitempty"`
	ConsecutiveFailures int                    `json:"consecutiveFailures"`
	TrackedNodes        int                    `json:"trackedNodes"`
	WorkingNodes        int                    `json:"workingNodes"`
}

// NodeMonitor runs the resolve, crawl, enrich, persist, sleep cycle until stopped.
type NodeMonitor struct {
	opts     MonitorOptions
	resolver *IdentityResolver
	crawler  *PeerCrawler
	enricher *NodeEnricher
	store    *Store
	series   *TimeSeries
	caches   *ReadCaches
	metrics  *Metrics
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	status  MonitorStatus
	working []*models.Node
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewNodeMonitor(
	opts MonitorOptions,
	resolver *IdentityResolver,
	crawler *PeerCrawler,
	enricher *NodeEnricher,
	store *Store,
	series *TimeSeries,
	caches *ReadCaches,
	metrics *Metrics,
	notifier Notifier,
	logger *zap.Logger,
) *NodeMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if caches == nil {
		caches = NewReadCaches(nil, 0, logger)
	}
	return &NodeMonitor{
		opts:     opts,
		resolver: resolver,
		crawler:  crawler,
		enricher: enricher,
		store:    store,
		series:   series,
		caches:   caches,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		status:   MonitorStatus{State: StateIdle},
	}
}

// Start launches the cycle loop in the background. Calling Start on a running
// monitor is a no-op.
func (m *NodeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.Running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.status.Running = true
	done := m.done
	m.mu.Unlock()

	m.logger.Info("node monitor started",
		zap.Strings("seeds", m.opts.SeedURLs),
		zap.Duration("interval", m.opts.Interval),
	)

	go func() {
		defer close(done)
		m.run(ctx)
	}()
}

// Stop signals the loop, waits for it to exit and clears in-memory state.
func (m *NodeMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.cancel = nil
	m.done = nil
	m.working = nil
	m.status.Running = false
	m.status.State = StateIdle
	m.mu.Unlock()

	m.logger.Info("node monitor stopped")
}

func (m *NodeMonitor) run(ctx context.Context) {
	failures := 0

	for ctx.Err() == nil {
		started := m.now()
		err := m.runCycleSafe(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := m.opts.Interval
		if err != nil {
			failures++
			wait = m.opts.RestartDelay
			m.metrics.CycleFailed(m.now().Sub(started))
			m.logger.Error("monitor cycle failed, restarting",
				zap.Int("consecutive_failures", failures),
				zap.Duration("restart_in", wait),
				zap.Error(err),
			)
			if m.notifier != nil && m.opts.FailureNotifyThreshold > 0 && failures%m.opts.FailureNotifyThreshold == 0 {
				m.notifier.NotifyCycleFailures(failures, err)
			}
		} else {
			failures = 0
		}

		m.mu.Lock()
		m.status.ConsecutiveFailures = failures
		m.mu.Unlock()

		m.setState(StateSleeping)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycleSafe turns a panic anywhere in the cycle into an error.
func (m *NodeMonitor) runCycleSafe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in monitor cycle", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
		if err != nil {
			m.mu.Lock()
			m.working = nil
			m.status.LastError = err.Error()
			m.mu.Unlock()
		}
	}()
	return m.RunCycle(ctx)
}

// RunCycle performs one full cycle.
func (m *NodeMonitor) RunCycle(ctx context.Context) error {
	started := m.now()

	m.mu.Lock()
	m.working = nil
	m.status.LastCycleAt = &started
	m.mu.Unlock()

	// Resolving
	m.setState(StateResolving)
	identity := m.resolver.Resolve(ctx, m.opts.SeedURLs)
	if identity.IsZero() {
		return ErrIdentityUnresolved
	}
	m.mu.Lock()
	m.status.Identity = identity
	m.mu.Unlock()

	if !m.series.Initialized() {
		if err := m.series.Init(ctx); err != nil {
			return err
		}
	}

	// Crawling
	m.setState(StateCrawling)
	previous, err := m.store.GetNodes(ctx)
	if err != nil {
		return fmt.Errorf("load previous nodes: %w", err)
	}
	hostDetails, err := m.store.GetHostDetails(ctx)
	if err != nil {
		m.logger.Warn("could not load host details, geolocating from scratch", zap.Error(err))
	}
	m.enricher.Hosts().Reset(hostDetails)

	nodes := m.crawler.Discover(ctx, m.opts.SeedURLs, previous, identity)
	m.setWorking(nodes)

	// Enriching
	m.setState(StateEnriching)
	nodes = m.enricher.EnrichAll(ctx, nodes, identity)
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.now()
	before := len(nodes)
	nodes = utils.ApplyStaleness(nodes, m.opts.KeepStaleFor, now)
	m.setWorking(nodes)

	stats := BuildNodesStats(nodes, now)
	heights := BuildNodeHeightStats(nodes, now)

	// Persisting
	m.setState(StatePersisting)
	if err := m.store.ReplaceNodes(ctx, nodes); err != nil {
		return fmt.Errorf("persist nodes: %w", err)
	}
	if err := m.store.ReplaceNodesStats(ctx, stats); err != nil {
		return fmt.Errorf("persist nodes stats: %w", err)
	}
	if err := m.store.ReplaceNodeHeightStats(ctx, heights); err != nil {
		return fmt.Errorf("persist node height stats: %w", err)
	}

	hosts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		hosts = append(hosts, n.Host)
	}
	if err := m.store.ReplaceHostDetails(ctx, m.enricher.Hosts().Retain(hosts)); err != nil {
		m.logger.Warn("could not persist host details", zap.Error(err))
	}

	if err := m.series.Push(ctx, NodeCountPoint(stats, now)); err != nil {
		return fmt.Errorf("push node count: %w", err)
	}

	// Readers keep the previous slice until this swap.
	m.caches.Nodes.Set(CacheKeyNodeList, nodes)
	m.caches.Stats.Set(CacheKeyNodesStats, stats)
	m.caches.Heights.Set(CacheKeyHeightStats, heights)

	finished := m.now()
	m.metrics.CycleSucceeded(finished.Sub(started), finished)
	m.metrics.SetTrackedNodes(stats.NodeTypes)

	m.mu.Lock()
	m.status.LastSuccessAt = &finished
	m.status.LastError = ""
	m.status.TrackedNodes = len(nodes)
	m.working = nil
	m.mu.Unlock()

	m.logger.Info("monitor cycle complete",
		zap.Int("nodes", len(nodes)),
		zap.Int("evicted_stale", before-len(nodes)),
		zap.Int("available", stats.Available),
		zap.Duration("took", finished.Sub(started)),
	)
	return nil
}

func (m *NodeMonitor) setState(s MonitorState) {
	m.mu.Lock()
	m.status.State = s
	m.mu.Unlock()
}

func (m *NodeMonitor) setWorking(nodes []*models.Node) {
	m.mu.Lock()
	m.working = nodes
	m.mu.Unlock()
}

func (m *NodeMonitor) State() MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.State
}

// Status returns a copy of the scheduler status.
func (m *NodeMonitor) Status() MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.WorkingNodes = len(m.working)
	return s
}

// Caches exposes the read caches the API serves from.
func (m *NodeMonitor) Caches() *ReadCaches {
	return m.caches
}

// Series exposes the node-count time series.
func (m *NodeMonitor) Series() *TimeSeries {
	return m.series
}
