package store

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
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const tenantKeysCollection = "tenantKeys"

// MongoDBStore implements interfaces.KeyStore backed by MongoDB. Tenant id is
// the document _id, so CreateTenantKeys is a plain insert and the unique
// index arbitrates concurrent first use.
type MongoDBStore struct {
	db *mongo.Database
}

// NewMongoDBStore creates a new MongoDB key store
func NewMongoDBStore(db *mongo.Database) interfaces.KeyStore {
	return &MongoDBStore{db: db}
}

// GetTenantKeys retrieves the key history for a tenant, or types.ErrNotFound
func (s *MongoDBStore) GetTenantKeys(ctx context.Context, tenantID string) (*types.TenantKeyInfo, error) {
	var info types.TenantKeyInfo
	err := s.db.Collection(tenantKeysCollection).FindOne(ctx, bson.M{"_id": tenantID}).Decode(&info)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant keys: %w", err)
	}
	return &info, nil
}

// CreateTenantKeys inserts a brand-new key history. A duplicate key error
// means a concurrent caller created one first and is reported as
// created=false, not an error.
func (s *MongoDBStore) CreateTenantKeys(ctx context.Context, info *types.TenantKeyInfo) (bool, error) {
	now := time.Now().UTC()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.UpdatedAt = now

	_, err := s.db.Collection(tenantKeysCollection).InsertOne(ctx, info)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Debug().
				Str("tenantId", info.TenantID).
				Msg("Tenant key history already present, concurrent creation lost race")
			return false, nil
		}
		return false, fmt.Errorf("failed to create tenant keys: %w", err)
	}
	return true, nil
}

// UpdateTenantKeys replaces an existing key history (rotation). The filter
// pins the UpdateVersion the caller read, so two engine instances rotating
// the same tenant cannot overwrite each other's minted versions; the loser
// sees types.ErrConflict and must re-read.
func (s *MongoDBStore) UpdateTenantKeys(ctx context.Context, info *types.TenantKeyInfo) error {
	expected := info.UpdateVersion
	info.UpdateVersion = expected + 1
	info.UpdatedAt = time.Now().UTC()

	result, err := s.db.Collection(tenantKeysCollection).ReplaceOne(ctx,
		bson.M{"_id": info.TenantID, "updateVersion": expected}, info)
	if err != nil {
		info.UpdateVersion = expected
		return fmt.Errorf("failed to update tenant keys: %w", err)
	}
	if result.MatchedCount == 0 {
		info.UpdateVersion = expected
		count, err := s.db.Collection(tenantKeysCollection).CountDocuments(ctx, bson.M{"_id": info.TenantID})
		if err != nil {
			return fmt.Errorf("failed to verify tenant keys after update miss: %w", err)
		}
		if count == 0 {
			return types.ErrNotFound
		}
		return types.ErrConflict
	}
	return nil
}

// ListTenantIDs lists all tenants with key material
func (s *MongoDBStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	cursor, err := s.db.Collection(tenantKeysCollection).Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		TenantID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tenant ids: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.TenantID)
	}
	return ids, nil
}
