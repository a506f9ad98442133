package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nodewatch/models"
	"nodewatch/utils"
)

// APIProber fetches the REST endpoints of an Api node.
type APIProber interface {
	LocateNodeInfo(ctx context.Context, host string) (*models.NodeInfoResponse, string, error)
	FallbackBaseURL(host string) string
	GetChainInfo(ctx context.Context, baseURL string) (*models.ChainInfoResponse, error)
	GetServerInfo(ctx context.Context, baseURL string) (*models.ServerInfoResponse, error)
	GetNodeHealth(ctx context.Context, baseURL string) (*models.NodeHealthResponse, error)
	ProbeWebSocket(ctx context.Context, baseURL string) *models.WebSocketStatus
}

// PeerProber checks the peer port of a node.
type PeerProber interface {
	Probe(ctx context.Context, host string, port int) bool
}

// HostLocator resolves a host to its geolocation record.
type HostLocator interface {
	Lookup(ctx context.Context, host string) (*models.HostDetail, error)
}

// RewardSource reports reward-program standing for a node main public key.
type RewardSource interface {
	GetRewardPrograms(ctx context.Context, nodePublicKey string) ([]models.RewardProgram, error)
}

type EnricherOptions struct {
	ChunkSize       int
	ChunkDelay      time.Duration
	DefaultPeerPort int
	Versions        *utils.VersionConfig
}

// NodeEnricher attaches liveness, geolocation and reward data to crawled nodes.
type NodeEnricher struct {
	api     APIProber
	peer    PeerProber
	geo     HostLocator
	rewards RewardSource
	hosts   *HostDetailIndex
	opts    EnricherOptions
	now     func() time.Time
	logger  *zap.Logger
}

func NewNodeEnricher(api APIProber, peer PeerProber, geo HostLocator, rewards RewardSource, hosts *HostDetailIndex, opts EnricherOptions, logger *zap.Logger) *NodeEnricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1
	}
	if hosts == nil {
		hosts = NewHostDetailIndex()
	}
	return &NodeEnricher{
		api:     api,
		peer:    peer,
		geo:     geo,
		rewards: rewards,
		hosts:   hosts,
		opts:    opts,
		now:     time.Now,
		logger:  logger,
	}
}

// Hosts exposes the host detail memo so the monitor can load and persist it.
func (e *NodeEnricher) Hosts() *HostDetailIndex {
	return e.hosts
}

// EnrichAll enriches nodes chunk by chunk with a pause between chunks.
// Rejected nodes are left out of the result.
func (e *NodeEnricher) EnrichAll(ctx context.Context, nodes []*models.Node, identity models.NetworkIdentity) []*models.Node {
	enriched := make([]*models.Node, 0, len(nodes))
	chunks := utils.Chunk(nodes, e.opts.ChunkSize)

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}

		results := make([]*models.Node, len(chunk))
		var g errgroup.Group
		for j, n := range chunk {
			j, n := j, n
			g.Go(func() error {
				if out, ok := e.Enrich(ctx, n, identity); ok {
					results[j] = out
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, n := range results {
			if n != nil {
				enriched = append(enriched, n)
			}
		}

		if i < len(chunks)-1 && e.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.opts.ChunkDelay):
			}
		}
	}

	e.logger.Info("enrichment finished",
		zap.Int("input", len(nodes)),
		zap.Int("kept", len(enriched)),
		zap.Int("rejected", len(nodes)-len(enriched)),
	)
	return enriched
}

// Enrich probes a single node. It returns false when the node must be
// dropped: either it is not part of the network, or as an Api node its own
// node info contradicts the crawled copy. Failed probes only leave fields empty.
func (e *NodeEnricher) Enrich(ctx context.Context, node *models.Node, identity models.NetworkIdentity) (*models.Node, bool) {
	if !identity.Matches(node) {
		return nil, false
	}

	out := node.Clone()
	out.PeerStatus = nil
	out.APIStatus = nil
	out.RewardPrograms = []models.RewardProgram{}
	out.HostDetail = e.hostDetail(ctx, out.Host)
	if v := utils.FormatNodeVersion(out.Version); v != "" {
		out.VersionStatus, _ = utils.CheckVersionStatus(v, e.opts.Versions)
	}

	var (
		wg       sync.WaitGroup
		rejected bool
	)

	if out.Roles.Has(models.RolePeer) && e.peer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port := out.Port
			if port == 0 {
				port = e.opts.DefaultPeerPort
			}
			out.PeerStatus = &models.PeerStatus{
				IsAvailable:     e.peer.Probe(ctx, out.Host, port),
				LastStatusCheck: e.now(),
			}
		}()
	}

	if out.Roles.Has(models.RoleAPI) && e.api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.APIStatus, rejected = e.apiStatus(ctx, out, identity)
		}()
	}

	wg.Wait()

	if rejected {
		e.logger.Info("rejecting node with inconsistent node info",
			zap.String("public_key", node.PublicKey),
			zap.String("host", node.Host),
		)
		return nil, false
	}

	if out.APIStatus != nil && out.APIStatus.NodePublicKey != "" && e.rewards != nil {
		programs, err := e.rewards.GetRewardPrograms(ctx, out.APIStatus.NodePublicKey)
		if err != nil {
			e.logger.Debug("reward lookup failed", zap.String("host", out.Host), zap.Error(err))
		} else {
			out.RewardPrograms = programs
		}
	}

	return out, true
}

func (e *NodeEnricher) hostDetail(ctx context.Context, host string) *models.HostDetail {
	if detail, ok := e.hosts.Get(host); ok {
		return detail
	}
	if e.geo == nil {
		return nil
	}

	detail, err := e.geo.Lookup(ctx, host)
	if err != nil {
		e.logger.Debug("host lookup failed", zap.String("host", host), zap.Error(err))
		return nil
	}
	detail.Host = host
	e.hosts.Put(detail)
	return detail
}

// apiStatus re-reads node info from the node itself and then gathers the
// remaining status endpoints concurrently.
func (e *NodeEnricher) apiStatus(ctx context.Context, node *models.Node, identity models.NetworkIdentity) (*models.APIStatus, bool) {
	info, baseURL, err := e.api.LocateNodeInfo(ctx, node.Host)
	if err == nil {
		if info.PublicKey != node.PublicKey ||
			info.NetworkIdentifier != node.NetworkIdentifier ||
			info.NetworkGenerationHashSeed != node.NetworkGenerationHashSeed ||
			info.NetworkIdentifier != identity.NetworkIdentifier ||
			info.NetworkGenerationHashSeed != identity.GenerationHashSeed {
			return nil, true
		}
	} else {
		baseURL = e.api.FallbackBaseURL(node.Host)
	}

	var (
		wg     sync.WaitGroup
		chain  *models.ChainInfoResponse
		server *models.ServerInfoResponse
		health *models.NodeHealthResponse
		ws     *models.WebSocketStatus
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		chain, _ = e.api.GetChainInfo(ctx, baseURL)
	}()
	go func() {
		defer wg.Done()
		server, _ = e.api.GetServerInfo(ctx, baseURL)
	}()
	go func() {
		defer wg.Done()
		health, _ = e.api.GetNodeHealth(ctx, baseURL)
	}()
	go func() {
		defer wg.Done()
		ws = e.api.ProbeWebSocket(ctx, baseURL)
	}()
	wg.Wait()

	status := &models.APIStatus{
		RestGatewayURL:  baseURL,
		IsHTTPSEnabled:  err == nil && strings.HasPrefix(baseURL, "https://"),
		WebSocket:       ws,
		LastStatusCheck: e.now(),
	}
	if info != nil {
		status.NodePublicKey = info.NodePublicKey
	}
	if chain != nil {
		status.ChainHeight = uint64(chain.Height)
		status.Finalization = &models.Finalization{
			Height: uint64(chain.LatestFinalizedBlock.Height),
			Epoch:  chain.LatestFinalizedBlock.FinalizationEpoch,
			Point:  chain.LatestFinalizedBlock.FinalizationPoint,
			Hash:   chain.LatestFinalizedBlock.Hash,
		}
	}
	if server != nil {
		status.RestVersion = server.ServerInfo.RestVersion
	}
	if health != nil {
		s := health.Status
		status.NodeStatus = &s
	}
	status.IsAvailable = info != nil || chain != nil || server != nil || health != nil

	return status, false
}

// HostDetailIndex memoizes geolocation by host across a cycle. It is loaded
// from the persisted collection at the start of every cycle.
type HostDetailIndex struct {
	mu      sync.RWMutex
	details map[string]*models.HostDetail
}

func NewHostDetailIndex() *HostDetailIndex {
	return &HostDetailIndex{details: make(map[string]*models.HostDetail)}
}

func (h *HostDetailIndex) Get(host string) (*models.HostDetail, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.details[host]
	if !ok {
		return nil, false
	}
	c := *d
	return &c, true
}

func (h *HostDetailIndex) Put(d *models.HostDetail) {
	if d == nil || d.Host == "" {
		return
	}
	c := *d
	h.mu.Lock()
	h.details[d.Host] = &c
	h.mu.Unlock()
}

// Reset replaces the memo contents.
func (h *HostDetailIndex) Reset(details []models.HostDetail) {
	next := make(map[string]*models.HostDetail, len(details))
	for i := range details {
		d := details[i]
		if d.Host != "" {
			next[d.Host] = &d
		}
	}
	h.mu.Lock()
	h.details = next
	h.mu.Unlock()
}

// Retain returns the records for the given hosts only, dropping hosts no
// tracked node uses any more.
func (h *HostDetailIndex) Retain(hosts []string) []models.HostDetail {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(hosts))
	out := make([]models.HostDetail, 0, len(hosts))
	for _, host := range hosts {
		if seen[host] {
			continue
		}
		seen[host] = true
		if d, ok := h.details[host]; ok {
			out = append(out, *d)
		}
	}
	return out
}
