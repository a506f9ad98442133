package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nodewatch/models"
	"nodewatch/utils"
)

// PeerSource lists the peers a node knows about.
type PeerSource interface {
	GetPeers(ctx context.Context, baseURL string) ([]models.Node, error)
	GetHostPeers(ctx context.Context, host string) ([]models.Node, error)
}

// PeerCrawler discovers nodes by walking peer lists, one round per cycle.
type PeerCrawler struct {
	source    PeerSource
	chunkSize int
	now       func() time.Time
	logger    *zap.Logger
}

func NewPeerCrawler(source PeerSource, chunkSize int, logger *zap.Logger) *PeerCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &PeerCrawler{
		source:    source,
		chunkSize: chunkSize,
		now:       time.Now,
		logger:    logger,
	}
}

// Discover seeds the working set from the previously persisted nodes and the
// seed peer lists, then asks every known Api node for its peers. Api nodes are
// processed in chunks: chunks run one after another, members of a chunk run
// concurrently and are merged once the whole chunk has returned.
func (pc *PeerCrawler) Discover(ctx context.Context, seedURLs []string, previous []*models.Node, identity models.NetworkIdentity) []*models.Node {
	set := newNodeSet(identity, pc.now())

	for _, n := range previous {
		set.merge(n)
	}
	fromPrevious := set.len()

	for _, seed := range seedURLs {
		peers, err := pc.source.GetPeers(ctx, seed)
		if err != nil {
			pc.logger.Warn("seed peer list unavailable", zap.String("seed", seed), zap.Error(err))
			continue
		}
		set.mergeAll(peers)
	}

	frontier := set.withRole(models.RoleAPI)
	for i, chunk := range utils.Chunk(frontier, pc.chunkSize) {
		if ctx.Err() != nil {
			break
		}

		results := make([][]models.Node, len(chunk))
		var g errgroup.Group
		for j, n := range chunk {
			j, host := j, n.Host
			g.Go(func() error {
				peers, err := pc.source.GetHostPeers(ctx, host)
				if err != nil {
					pc.logger.Debug("peer list unavailable", zap.String("host", host), zap.Error(err))
					return nil
				}
				results[j] = peers
				return nil
			})
		}
		_ = g.Wait()

		for _, peers := range results {
			set.mergeAll(peers)
		}

		pc.logger.Debug("crawled chunk",
			zap.Int("chunk", i+1),
			zap.Int("size", len(chunk)),
			zap.Int("known", set.len()),
		)
	}

	nodes := set.list()
	pc.logger.Info("crawl finished",
		zap.Int("previous", fromPrevious),
		zap.Int("api_frontier", len(frontier)),
		zap.Int("discovered", len(nodes)),
		zap.Int("rejected_identity", set.rejected),
	)
	return nodes
}

// nodeSet is the crawl's working set keyed by public key. Insertion order is
// kept so results are stable across runs with the same inputs.
type nodeSet struct {
	identity models.NetworkIdentity
	now      time.Time
	byKey    map[string]*models.Node
	order    []string
	rejected int
}

func newNodeSet(identity models.NetworkIdentity, now time.Time) *nodeSet {
	return &nodeSet{
		identity: identity,
		now:      now,
		byKey:    make(map[string]*models.Node),
	}
}

func (s *nodeSet) merge(observed *models.Node) {
	if observed == nil || observed.PublicKey == "" {
		return
	}
	if !s.identity.Matches(observed) {
		s.rejected++
		return
	}

	existing, ok := s.byKey[observed.PublicKey]
	if !ok {
		s.order = append(s.order, observed.PublicKey)
	}
	s.byKey[observed.PublicKey] = utils.MergeObserved(existing, observed, s.now)
}

func (s *nodeSet) mergeAll(nodes []models.Node) {
	for i := range nodes {
		s.merge(&nodes[i])
	}
}

func (s *nodeSet) withRole(role models.Role) []*models.Node {
	out := make([]*models.Node, 0, len(s.order))
	for _, key := range s.order {
		if n := s.byKey[key]; n.Roles.Has(role) {
			out = append(out, n)
		}
	}
	return out
}

func (s *nodeSet) list() []*models.Node {
	out := make([]*models.Node, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}

func (s *nodeSet) len() int {
	return len(s.order)
}
