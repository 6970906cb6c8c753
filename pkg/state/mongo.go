package state

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Document  string    `bson:"document"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoBackend stores the document in one MongoDB document keyed by id.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	id         string
	logger     *zap.Logger
}

// NewMongoBackend connects to uri and verifies the connection.
func NewMongoBackend(ctx context.Context, uri, database, collection, id string, logger *zap.Logger) (*MongoBackend, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb state backend requires a dsn")
	}
	if database == "" {
		database = "tap_tilroy"
	}
	if collection == "" {
		collection = "state"
	}
	if id == "" {
		id = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB state store",
		zap.String("database", database),
		zap.String("collection", collection))

	return &MongoBackend{
		client:     client,
		collection: client.Database(database).Collection(collection),
		id:         id,
		logger:     logger,
	}, nil
}

func (b *MongoBackend) Load(ctx context.Context) ([]byte, error) {
	var doc mongoDocument
	err := b.collection.FindOne(ctx, bson.M{"_id": b.id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find state document: %w", err)
	}
	return []byte(doc.Document), nil
}

func (b *MongoBackend) Save(ctx context.Context, data []byte) error {
	doc := mongoDocument{ID: b.id, Document: string(data), UpdatedAt: time.Now().UTC()}
	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": b.id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace state document: %w", err)
	}
	return nil
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}

func (b *MongoBackend) Name() string { return "mongodb" }
