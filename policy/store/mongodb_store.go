package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const policyCollection = "tenantPolicies"

// MongoDBStore implements interfaces.PolicyStore backed by MongoDB
type MongoDBStore struct {
	db *mongo.Database
}

// NewMongoDBStore creates a new MongoDB policy store
func NewMongoDBStore(db *mongo.Database) interfaces.PolicyStore {
	return &MongoDBStore{db: db}
}

// GetEffective returns the policy version in force for the tenant at the
// given instant. With overlapping effective ranges the highest version wins.
func (s *MongoDBStore) GetEffective(ctx context.Context, tenantID string, at time.Time) (*types.TenantSecurityPolicy, error) {
	filter := bson.M{
		"tenantId":      tenantID,
		"effectiveFrom": bson.M{"$lte": at},
		"$or": []bson.M{
			{"effectiveTo": bson.M{"$exists": false}},
			{"effectiveTo": nil},
			{"effectiveTo": bson.M{"$gt": at}},
		},
	}

	var policy types.TenantSecurityPolicy
	err := s.db.Collection(policyCollection).FindOne(ctx, filter,
		options.FindOne().SetSort(bson.M{"version": -1})).Decode(&policy)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get effective policy: %w", err)
	}
	return &policy, nil
}

// Store persists a new policy version
func (s *MongoDBStore) Store(ctx context.Context, policy *types.TenantSecurityPolicy) error {
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	if _, err := s.db.Collection(policyCollection).InsertOne(ctx, policy); err != nil {
		return fmt.Errorf("failed to store policy: %w", err)
	}
	return nil
}

// Update replaces a stored policy version (closing EffectiveTo)
func (s *MongoDBStore) Update(ctx context.Context, policy *types.TenantSecurityPolicy) error {
	policy.UpdatedAt = time.Now().UTC()

	result, err := s.db.Collection(policyCollection).ReplaceOne(ctx, bson.M{"_id": policy.ID}, policy)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if result.MatchedCount == 0 {
		return types.ErrNotFound
	}
	return nil
}

// ListVersions lists all policy versions for a tenant, newest first
func (s *MongoDBStore) ListVersions(ctx context.Context, tenantID string) ([]*types.TenantSecurityPolicy, error) {
	cursor, err := s.db.Collection(policyCollection).Find(ctx, bson.M{"tenantId": tenantID},
		options.Find().SetSort(bson.M{"version": -1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list policy versions: %w", err)
	}
	defer cursor.Close(ctx)

	var policies []*types.TenantSecurityPolicy
	if err := cursor.All(ctx, &policies); err != nil {
		return nil, fmt.Errorf("failed to decode policy versions: %w", err)
	}
	return policies, nil
}
