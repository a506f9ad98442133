package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"nodewatch/models"
)

// NodeInfoSource fetches /node/info from a seed URL.
type NodeInfoSource interface {
	GetNodeInfo(ctx context.Context, baseURL string) (*models.NodeInfoResponse, error)
}

// IdentityResolver determines which network the monitor is tracking by
// asking the seed nodes who they are.
type IdentityResolver struct {
	source NodeInfoSource
	logger *zap.Logger

	mu   sync.RWMutex
	last models.NetworkIdentity
}

func NewIdentityResolver(source NodeInfoSource, logger *zap.Logger) *IdentityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{source: source, logger: logger}
}

// Resolve walks the seeds in order and returns the identity reported by the
// first one that answers. When none answers, the previously resolved identity
// is returned (zero value if there never was one).
func (r *IdentityResolver) Resolve(ctx context.Context, seedURLs []string) models.NetworkIdentity {
	for _, seed := range seedURLs {
		info, err := r.source.GetNodeInfo(ctx, seed)
		if err != nil {
			r.logger.Debug("seed did not answer node info", zap.String("seed", seed), zap.Error(err))
			continue
		}
		if info.NetworkGenerationHashSeed == "" {
			r.logger.Debug("seed returned node info without generation hash seed", zap.String("seed", seed))
			continue
		}

		identity := models.NetworkIdentity{
			NetworkIdentifier:  info.NetworkIdentifier,
			GenerationHashSeed: info.NetworkGenerationHashSeed,
		}

		r.mu.Lock()
		r.last = identity
		r.mu.Unlock()

		return identity
	}

	last := r.Last()
	r.logger.Warn("no seed answered node info, keeping previous network identity",
		zap.Int("seeds", len(seedURLs)),
		zap.Bool("resolved_before", !last.IsZero()),
	)
	return last
}

// Last returns the most recently resolved identity.
func (r *IdentityResolver) Last() models.NetworkIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
