package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"nodewatch/models"
)

// ErrReplaceVerification means the collection did not hold the expected
// number of documents after a replace. The previous contents were restored.
var ErrReplaceVerification = errors.New("collection replace verification failed")

// DocumentCollection is the slice of a document store the monitor needs.
type DocumentCollection interface {
	Name() string
	FindAll(ctx context.Context) ([]bson.Raw, error)
	DeleteAll(ctx context.Context) (int64, error)
	InsertMany(ctx context.Context, docs []interface{}) error
	Count(ctx context.Context) (int64, error)
}

// CollectionProvider hands out collections by name.
type CollectionProvider interface {
	Collection(name string) DocumentCollection
}

// Store persists the monitor's bulk state. Every write goes through Replace.
type Store struct {
	nodes       DocumentCollection
	nodesStats  DocumentCollection
	heightStats DocumentCollection
	hostDetails DocumentCollection
	metrics     *Metrics
	logger      *zap.Logger
}

func NewStore(db CollectionProvider, metrics *Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		nodes:       db.Collection(CollectionNodes),
		nodesStats:  db.Collection(CollectionNodesStats),
		heightStats: db.Collection(CollectionNodeHeightStats),
		hostDetails: db.Collection(CollectionHostDetails),
		metrics:     metrics,
		logger:      logger,
	}
}

// Replace swaps the contents of coll for docs. The store has no multi-document
// transactions, so the swap is verified by counting afterwards; on a failed
// insert or a count mismatch the previous documents are put back and an error
// is returned. A failed delete is returned as is, with nothing changed.
func (s *Store) Replace(ctx context.Context, coll DocumentCollection, docs []interface{}) error {
	name := coll.Name()

	previous, err := coll.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("read %s before replace: %w", name, err)
	}

	if _, err := coll.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}

	var failure error
	if len(docs) > 0 {
		if err := coll.InsertMany(ctx, docs); err != nil {
			failure = fmt.Errorf("insert into %s: %w", name, err)
		}
	}

	if failure == nil {
		count, err := coll.Count(ctx)
		switch {
		case err != nil:
			failure = fmt.Errorf("count %s after replace: %w", name, err)
		case count != int64(len(docs)):
			failure = fmt.Errorf("%w: %s holds %d documents, expected %d",
				ErrReplaceVerification, name, count, len(docs))
		}
	}

	if failure == nil {
		return nil
	}

	s.metrics.ReplaceFailed(name)
	s.logger.Error("collection replace failed, restoring previous contents",
		zap.String("collection", name),
		zap.Int("previous", len(previous)),
		zap.Error(failure),
	)

	if err := restore(ctx, coll, previous); err != nil {
		return multierr.Append(failure, fmt.Errorf("restore %s: %w", name, err))
	}
	return failure
}

func restore(ctx context.Context, coll DocumentCollection, previous []bson.Raw) error {
	if _, err := coll.DeleteAll(ctx); err != nil {
		return err
	}
	if len(previous) == 0 {
		return nil
	}
	docs := make([]interface{}, len(previous))
	for i, raw := range previous {
		docs[i] = raw
	}
	return coll.InsertMany(ctx, docs)
}

// ============================================
// Typed accessors
// ============================================

func (s *Store) GetNodes(ctx context.Context) ([]*models.Node, error) {
	nodes, err := findAll[models.Node](ctx, s.nodes)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Node, len(nodes))
	for i := range nodes {
		out[i] = &nodes[i]
	}
	return out, nil
}

func (s *Store) ReplaceNodes(ctx context.Context, nodes []*models.Node) error {
	docs := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		docs = append(docs, n)
	}
	return s.Replace(ctx, s.nodes, docs)
}

func (s *Store) GetNodesStats(ctx context.Context) (*models.NodesStats, error) {
	return findOne[models.NodesStats](ctx, s.nodesStats)
}

func (s *Store) ReplaceNodesStats(ctx context.Context, stats *models.NodesStats) error {
	return s.Replace(ctx, s.nodesStats, []interface{}{stats})
}

func (s *Store) GetNodeHeightStats(ctx context.Context) (*models.NodeHeightStats, error) {
	return findOne[models.NodeHeightStats](ctx, s.heightStats)
}

func (s *Store) ReplaceNodeHeightStats(ctx context.Context, stats *models.NodeHeightStats) error {
	return s.Replace(ctx, s.heightStats, []interface{}{stats})
}

func (s *Store) GetHostDetails(ctx context.Context) ([]models.HostDetail, error) {
	return findAll[models.HostDetail](ctx, s.hostDetails)
}

func (s *Store) ReplaceHostDetails(ctx context.Context, details []models.HostDetail) error {
	docs := make([]interface{}, 0, len(details))
	for i := range details {
		docs = append(docs, &details[i])
	}
	return s.Replace(ctx, s.hostDetails, docs)
}

func findAll[T any](ctx context.Context, coll DocumentCollection) ([]T, error) {
	raws, err := coll.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", coll.Name(), err)
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := bson.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", coll.Name(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// findOne reads a singleton collection. A missing document is (nil, nil).
func findOne[T any](ctx context.Context, coll DocumentCollection) (*T, error) {
	items, err := findAll[T](ctx, coll)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}
