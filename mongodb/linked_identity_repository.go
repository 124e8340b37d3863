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

const LinkedIdentitiesCollection = "linked_identities"

// LinkedIdentityRepositoryMongo implements domain.LinkedIdentityRepository.
type LinkedIdentityRepositoryMongo struct {
	collection *mongo.Collection
}

// NewLinkedIdentityRepository creates the repository and ensures its
// indexes. The unique (provider, external_subject_id) index is what backs
// the duplicate-key race resolution on first federated login.
func NewLinkedIdentityRepository(ctx context.Context, db *mongo.Database) (domain.LinkedIdentityRepository, error) {
	repo := &LinkedIdentityRepositoryMongo{collection: db.Collection(LinkedIdentitiesCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure %s indexes: %w", LinkedIdentitiesCollection, err)
	}
	return repo, nil
}

func (r *LinkedIdentityRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One local binding per external identity, globally.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "external_subject_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// To find all linked identities of one principal.
			Keys:    bson.D{{Key: "principal_id", Value: 1}},
			Options: options.Index(),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return err
	}
	log.Info().Msgf("Indexes for %s collection ensured.", LinkedIdentitiesCollection)
	return nil
}

func (r *LinkedIdentityRepositoryMongo) Create(ctx context.Context, li *domain.LinkedIdentity) error {
	if li.ID == "" {
		li.ID = NewObjectID()
	}
	now := time.Now().UTC()
	li.CreatedAt = now
	li.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, li); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert linked identity: %w", err)
	}
	return nil
}

func (r *LinkedIdentityRepositoryMongo) GetByProviderSubject(ctx context.Context, provider, externalSubjectID string) (*domain.LinkedIdentity, error) {
	var li domain.LinkedIdentity
	filter := bson.M{"provider": provider, "external_subject_id": externalSubjectID}
	err := r.collection.FindOne(ctx, filter).Decode(&li)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find linked identity: %w", err)
	}
	return &li, nil
}

func (r *LinkedIdentityRepositoryMongo) UpdateEmail(ctx context.Context, id, email string) error {
	update := bson.M{"$set": bson.M{
		"external_email": email,
		"updated_at":     time.Now().UTC(),
	}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update linked identity email: %w", err)
	}
	if res.MatchedCount == 0 {
		log.Warn().Str("id", id).Msg("Linked identity vanished during email refresh")
		return domain.ErrNotFound
	}
	return nil
}
