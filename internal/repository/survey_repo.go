package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"surveyrun/internal/model"
)

// SurveyRepo loads and stores survey definitions. GetByID returns nil, nil for
// an unknown id.
type SurveyRepo interface {
	GetByID(ctx context.Context, id string) (*model.Survey, error)
	List(ctx context.Context) ([]*model.Survey, error)
	Upsert(ctx context.Context, survey *model.Survey) error
}

type surveyRepo struct {
	collection *mongo.Collection
}

// NewSurveyRepo creates a MongoDB-backed survey repository
func NewSurveyRepo(db *mongo.Database) SurveyRepo {
	return &surveyRepo{
		collection: db.Collection("surveys"),
	}
}

func (r *surveyRepo) GetByID(ctx context.Context, id string) (*model.Survey, error) {
	var survey model.Survey
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&survey)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find survey %s", id)
	}
	return &survey, nil
}

func (r *surveyRepo) List(ctx context.Context) ([]*model.Survey, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find surveys")
	}
	defer cursor.Close(ctx)

	var surveys []*model.Survey
	if err := cursor.All(ctx, &surveys); err != nil {
		return nil, errors.Wrap(err, "decode surveys")
	}
	return surveys, nil
}

func (r *surveyRepo) Upsert(ctx context.Context, survey *model.Survey) error {
	if err := survey.Validate(); err != nil {
		return err
	}
	survey.UpdatedAt = time.Now()

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": survey.ID}, survey, opts)
	return errors.Wrapf(err, "upsert survey %s", survey.ID)
}
