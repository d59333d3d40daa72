package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoHistory stores sync runs as documents.
type MongoHistory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoHistory connects to uri and indexes the collection by kind and start time.
func NewMongoHistory(uri, database, collection string) (*MongoHistory, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "kind", Value: 1}, {Key: "started_at", Value: -1}},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &MongoHistory{client: client, collection: coll}, nil
}

// Record appends a finished run.
func (r *MongoHistory) Record(ctx context.Context, run model.SyncRun) error {
	if _, err := r.collection.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// Recent returns the newest runs first.
func (r *MongoHistory) Recent(ctx context.Context, kind model.SyncKind, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	filter := bson.M{}
	if kind != "" {
		filter["kind"] = kind
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []model.SyncRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode sync runs: %w", err)
	}
	return runs, nil
}

// LastSuccess returns the newest successful run of kind.
func (r *MongoHistory) LastSuccess(ctx context.Context, kind model.SyncKind) (*model.SyncRun, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}})

	var run model.SyncRun
	err := r.collection.FindOne(ctx, bson.M{"kind": kind, "success": true}, opts).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync run: %w", err)
	}
	return &run, nil
}

// Prune deletes runs older than retention.
func (r *MongoHistory) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := r.collection.DeleteMany(ctx, bson.M{"started_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync runs: %w", err)
	}
	return result.DeletedCount, nil
}

// Close disconnects the client.
func (r *MongoHistory) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ HistoryRepository = (*MongoHistory)(nil)
