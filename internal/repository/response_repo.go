package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"surveyrun/internal/model"
)

// ErrResponseNotFound is returned by writes addressing an unknown response document
var ErrResponseNotFound = errors.New("response not found")

// ResponseRepository persists the answer document of each run
type ResponseRepository interface {
	Create(ctx context.Context, surveyID, userID string, initial map[string]any) (string, error)
	// AddAnswer sets answers and unsets keysToDelete in one write. A key present
	// in both is only set.
	AddAnswer(ctx context.Context, id string, answers map[string]any, keysToDelete []string) error
	DeleteAnswers(ctx context.Context, id string, keys []string) error
	GetByID(ctx context.Context, id string) (*model.Response, error)
	ListBySurvey(ctx context.Context, surveyID string) ([]*model.Response, error)
	MarkFinished(ctx context.Context, id string) error
	// PurgeAbandoned removes unfinished responses untouched since before
	PurgeAbandoned(ctx context.Context, before time.Time) (int64, error)
}

type responseRepository struct {
	collection *mongo.Collection
}

// NewResponseRepository creates a MongoDB-backed response repository
func NewResponseRepository(db *mongo.Database) ResponseRepository {
	return &responseRepository{
		collection: db.Collection("responses"),
	}
}

func newResponse(surveyID, userID string, initial map[string]any, now time.Time) *model.Response {
	if userID == "" {
		userID = model.AnonymousUser
	}
	answers := make(map[string]any, len(initial))
	for k, v := range initial {
		answers[k] = v
	}
	return &model.Response{
		SurveyID:  surveyID,
		UserID:    userID,
		Answers:   answers,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *responseRepository) Create(ctx context.Context, surveyID, userID string, initial map[string]any) (string, error) {
	resp := newResponse(surveyID, userID, initial, time.Now())
	resp.ID = primitive.NewObjectID().Hex()

	if _, err := r.collection.InsertOne(ctx, resp); err != nil {
		return "", errors.Wrap(err, "insert response")
	}
	return resp.ID, nil
}

// answerUpdate builds the $set/$unset document of AddAnswer
func answerUpdate(answers map[string]any, keysToDelete []string, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	for k, v := range answers {
		set["answers."+k] = v
	}
	unset := bson.M{}
	for _, k := range keysToDelete {
		if _, ok := answers[k]; ok {
			continue
		}
		unset["answers."+k] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func (r *responseRepository) update(ctx context.Context, id string, update bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Wrapf(err, "update response %s", id)
	}
	if res.MatchedCount == 0 {
		return errors.Wrap(ErrResponseNotFound, id)
	}
	return nil
}

func (r *responseRepository) AddAnswer(ctx context.Context, id string, answers map[string]any, keysToDelete []string) error {
	return r.update(ctx, id, answerUpdate(answers, keysToDelete, time.Now()))
}

func (r *responseRepository) DeleteAnswers(ctx context.Context, id string, keys []string) error {
	return r.update(ctx, id, answerUpdate(nil, keys, time.Now()))
}

func (r *responseRepository) GetByID(ctx context.Context, id string) (*model.Response, error) {
	var resp model.Response
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&resp)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find response %s", id)
	}
	return &resp, nil
}

func (r *responseRepository) ListBySurvey(ctx context.Context, surveyID string) ([]*model.Response, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"surveyId": surveyID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find responses")
	}
	defer cursor.Close(ctx)

	var responses []*model.Response
	if err := cursor.All(ctx, &responses); err != nil {
		return nil, errors.Wrap(err, "decode responses")
	}
	return responses, nil
}

func (r *responseRepository) MarkFinished(ctx context.Context, id string) error {
	now := time.Now()
	return r.update(ctx, id, bson.M{"$set": bson.M{
		"finished":   true,
		"finishedAt": now,
		"updatedAt":  now,
	}})
}

func (r *responseRepository) PurgeAbandoned(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{
		"finished":  false,
		"updatedAt": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, errors.Wrap(err, "purge abandoned responses")
	}
	return res.DeletedCount, nil
}
