package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// KVCollection is the collection Mongo storage writes into.
const KVCollection = "kv"

type kvDocument struct {
	ID        string    `bson:"_id"`
	Namespace string    `bson:"namespace"`
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Mongo is a Storage backed by a single MongoDB collection. Documents are keyed by
// "namespace/key".
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo dials uri, verifies the connection and returns a [Mongo] storage on dbName.
// Commands are traced through otelmongo.
func ConnectMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	log.Debug().Str("db", dbName).Msg("storage: mongo connected")

	return NewMongo(client, client.Database(dbName)), nil
}

// NewMongo wraps an already connected client. Close disconnects client.
func NewMongo(client *mongo.Client, db *mongo.Database) *Mongo {
	return &Mongo{
		client:     client,
		collection: db.Collection(KVCollection),
	}
}

func mongoID(namespace, key string) string {
	return namespace + "/" + key
}

// Get implements Storage.
func (m *Mongo) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var doc kvDocument

	err := m.collection.FindOne(ctx, bson.M{"_id": mongoID(namespace, key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s from MongoDB: %w", namespace, key, err)
	}

	return doc.Value, true, nil
}

// Put implements Storage. The document is replaced wholesale.
func (m *Mongo) Put(ctx context.Context, namespace, key string, value []byte) error {
	id := mongoID(namespace, key)
	doc := kvDocument{
		ID:        id,
		Namespace: namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write %s/%s to MongoDB: %w", namespace, key, err)
	}

	return nil
}

// Delete implements Storage.
func (m *Mongo) Delete(ctx context.Context, namespace, key string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": mongoID(namespace, key)}); err != nil {
		return fmt.Errorf("failed to delete %s/%s from MongoDB: %w", namespace, key, err)
	}

	return nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}

var _ Storage = (*Mongo)(nil)
