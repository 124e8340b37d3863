package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/daylog-io/authd/domain"
)

const PrincipalsCollection = "principals"

// PrincipalRepositoryMongo implements domain.PrincipalRepository.
type PrincipalRepositoryMongo struct {
	collection *mongo.Collection
}

// NewPrincipalRepository creates the repository and ensures its indexes.
func NewPrincipalRepository(ctx context.Context, db *mongo.Database) (domain.PrincipalRepository, error) {
	repo := &PrincipalRepositoryMongo{collection: db.Collection(PrincipalsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure %s indexes: %w", PrincipalsCollection, err)
	}
	return repo, nil
}

func (r *PrincipalRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "handle", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Partial filter keeps email-less federated accounts from
			// colliding on the empty string.
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$gt": ""}}),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return err
	}
	log.Info().Msgf("Indexes for %s collection ensured.", PrincipalsCollection)
	return nil
}

func (r *PrincipalRepositoryMongo) Create(ctx context.Context, p *domain.Principal) error {
	if p.ID == "" {
		p.ID = NewObjectID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

func (r *PrincipalRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *PrincipalRepositoryMongo) GetByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"handle": handle})
}

func (r *PrincipalRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*domain.Principal, error) {
	var p domain.Principal
	err := r.collection.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	return &p, nil
}

func (r *PrincipalRepositoryMongo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"last_login_at": at.UTC(),
		"updated_at":    time.Now().UTC(),
	}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
