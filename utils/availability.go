package utils

import (
	"time"

	"nodewatch/models"
)

// IsAvailable derives the liveness verdict from the signals each role has.
//
//	Api + Peer  -> api OR peer
//	Api only    -> api
//	Peer only   -> peer
//	neither     -> true (no liveness signal is defined, e.g. voting-only)
func IsAvailable(n *models.Node) bool {
	if n == nil {
		return false
	}

	api := n.APIStatus != nil && n.APIStatus.IsAvailable
	peer := n.PeerStatus != nil && n.PeerStatus.IsAvailable

	hasAPI := n.Roles.Has(models.RoleAPI)
	hasPeer := n.Roles.Has(models.RolePeer)

	switch {
	case hasAPI && hasPeer:
		return api || peer
	case hasAPI:
		return api
	case hasPeer:
		return peer
	default:
		return true
	}
}

// MergeObserved folds a fresh observation of a node into the entry already
// held for the same public key. The observation wins for every field except
// lastAvailable, which is kept from the existing entry. When neither side has
// one and the merged node is unavailable, it is stamped with now so its grace
// period starts immediately.
func MergeObserved(existing, observed *models.Node, now time.Time) *models.Node {
	merged := observed.Clone()

	if existing != nil && existing.LastAvailable != nil {
		t := *existing.LastAvailable
		merged.LastAvailable = &t
		return merged
	}

	if merged.LastAvailable == nil && !IsAvailable(merged) {
		stamp := now
		merged.LastAvailable = &stamp
	}
	return merged
}

// ApplyStaleness refreshes lastAvailable on available nodes and evicts nodes
// that have been unavailable for longer than keepStaleFor. Nodes are updated
// in place; the returned slice holds only the survivors.
func ApplyStaleness(nodes []*models.Node, keepStaleFor time.Duration, now time.Time) []*models.Node {
	kept := make([]*models.Node, 0, len(nodes))

	for _, n := range nodes {
		if n == nil {
			continue
		}

		if IsAvailable(n) {
			stamp := now
			n.LastAvailable = &stamp
			kept = append(kept, n)
			continue
		}

		if n.LastAvailable == nil {
			stamp := now
			n.LastAvailable = &stamp
			kept = append(kept, n)
			continue
		}

		if now.Sub(*n.LastAvailable) > keepStaleFor {
			continue
		}
		kept = append(kept, n)
	}

	return kept
}
