package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/utils"
)

type CallRepository interface {
	Create(ctx context.Context, c *models.Call) error
	GetByCallID(ctx context.Context, callID string) (*models.Call, error)
	List(ctx context.Context, limit int64) ([]models.Call, error)
	Update(ctx context.Context, callID string, upd models.CallUpdate) (*models.Call, error)
	SetTranscript(ctx context.Context, callID string, transcript []models.TranscriptLine) error
	SetStatus(ctx context.Context, callID, status string) error
	SetAnalysis(ctx context.Context, callID string, analysis models.Analysis) error
	End(ctx context.Context, callID string, endedAt time.Time, durationSeconds int64) error
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type callRepo struct {
	col *mongo.Collection
}

func NewCallRepo(db *mongo.Database) CallRepository {
	return &callRepo{col: db.Collection("calls")}
}

func (r *callRepo) Create(ctx context.Context, c *models.Call) error {
	now := time.Now().UTC()
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	c.UpdatedAt = now
	if c.Transcript == nil {
		c.Transcript = []models.TranscriptLine{}
	}
	_, err := r.col.InsertOne(ctx, c)
	return err
}

func (r *callRepo) GetByCallID(ctx context.Context, callID string) (*models.Call, error) {
	var c models.Call
	err := r.col.FindOne(ctx, bson.M{"call_id": callID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &c, err
}

func (r *callRepo) List(ctx context.Context, limit int64) ([]models.Call, error) {
	if limit <= 0 {
		limit = 100
	}

	cur, err := r.col.Find(ctx,
		bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Call
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *callRepo) Update(ctx context.Context, callID string, upd models.CallUpdate) (*models.Call, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.Transcript != nil {
		set["transcript"] = upd.Transcript
	}
	if upd.Analysis != nil {
		set["analysis"] = upd.Analysis
	}
	if upd.DispatchedAmbulance != nil {
		set["dispatched_ambulance"] = *upd.DispatchedAmbulance
	}
	if upd.Notes != nil {
		set["notes"] = *upd.Notes
	}
	if upd.DurationSeconds != nil {
		set["duration_seconds"] = *upd.DurationSeconds
	}

	var c models.Call
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &c, err
}

func (r *callRepo) SetTranscript(ctx context.Context, callID string, transcript []models.TranscriptLine) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": bson.M{
			"transcript": transcript,
			"updated_at": time.Now().UTC(),
		}},
	)
	return err
}

func (r *callRepo) SetStatus(ctx context.Context, callID, status string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}},
	)
	return err
}

func (r *callRepo) SetAnalysis(ctx context.Context, callID string, analysis models.Analysis) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": bson.M{
			"analysis":   analysis,
			"updated_at": time.Now().UTC(),
		}},
	)
	return err
}

func (r *callRepo) End(ctx context.Context, callID string, endedAt time.Time, durationSeconds int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": bson.M{
			"status":           models.CallStatusProcessing,
			"ended_at":         endedAt.UTC(),
			"duration_seconds": durationSeconds,
			"updated_at":       time.Now().UTC(),
		}},
	)
	return err
}

func (r *callRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{
		"status":    models.CallStatusResolved,
		"timestamp": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
