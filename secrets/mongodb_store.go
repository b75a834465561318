package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const secretCollection = "protectionSecrets"

type secretDocument struct {
	Name      string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MongoDBStore implements interfaces.SecretStore backed by MongoDB. The
// unique _id index makes SetSecretIfAbsent a true compare-and-set: a second
// concurrent insert for the same name fails with a duplicate key error
// instead of overwriting.
type MongoDBStore struct {
	db *mongo.Database
}

// NewMongoDBStore creates a new MongoDB secret store
func NewMongoDBStore(db *mongo.Database) interfaces.SecretStore {
	return &MongoDBStore{db: db}
}

// GetSecret returns the named secret, or types.ErrNotFound when absent
func (s *MongoDBStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	var doc secretDocument
	err := s.db.Collection(secretCollection).FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return doc.Value, nil
}

// SetSecretIfAbsent inserts the secret; a duplicate key error means another
// caller won the race, which is reported as created=false, not an error.
func (s *MongoDBStore) SetSecretIfAbsent(ctx context.Context, name string, value []byte) (bool, error) {
	doc := secretDocument{
		Name:      name,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Collection(secretCollection).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Debug().
				Str("secret", name).
				Msg("Secret already present, concurrent creation lost race")
			return false, nil
		}
		return false, fmt.Errorf("failed to store secret: %w", err)
	}
	return true, nil
}
