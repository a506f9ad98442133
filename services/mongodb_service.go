package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"nodewatch/config"
)

const (
	CollectionNodes           = "nodes"
	CollectionNodesStats      = "nodesstats"
	CollectionNodeHeightStats = "nodeheightstats"
	CollectionHostDetails     = "hostdetails"
	CollectionNodeCountSeries = "nodecountseries"
	CollectionNodeCountDay    = "nodecountseriesdays"
)

type MongoDBService struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func NewMongoDBService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*MongoDBService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.MongoDB.URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	service := &MongoDBService{
		client: client,
		db:     client.Database(cfg.MongoDB.Database),
		logger: logger,
	}

	if err := service.createIndexes(ctx); err != nil {
		logger.Warn("failed to create indexes", zap.Error(err))
	}

	logger.Info("MongoDB connected", zap.String("database", cfg.MongoDB.Database))
	return service, nil
}

func (m *MongoDBService) createIndexes(ctx context.Context) error {
	_, err := m.db.Collection(CollectionNodes).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "publicKey", Value: 1}},
		Options: options.Index().SetName("public_key").SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = m.db.Collection(CollectionHostDetails).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "host", Value: 1}},
		Options: options.Index().SetName("host").SetUnique(true),
	})
	if err != nil {
		return err
	}

	for _, name := range []string{CollectionNodeCountSeries, CollectionNodeCountDay} {
		_, err = m.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "date", Value: 1}},
			Options: options.Index().SetName("date_asc"),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Collection implements CollectionProvider.
func (m *MongoDBService) Collection(name string) DocumentCollection {
	return &mongoCollection{coll: m.db.Collection(name)}
}

func (m *MongoDBService) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoDBService) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) FindAll(ctx context.Context) ([]bson.Raw, error) {
	cursor, err := c.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		// cursor.Current is reused by the next call to Next
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	return docs, cursor.Err()
}

func (c *mongoCollection) DeleteAll(ctx context.Context) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []interface{}) error {
	_, err := c.coll.InsertMany(ctx, docs)
	return err
}

func (c *mongoCollection) Count(ctx context.Context) (int64, error) {
	return c.coll.CountDocuments(ctx, bson.D{})
}
