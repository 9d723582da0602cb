package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDatabase returns the application database, honoring MONGO_DB.
func MongoDatabase() *mongo.Database {
	name := os.Getenv("MONGO_DB")
	if name == "" {
		name = "callscribe"
	}
	return MongoClient.Database(name)
}

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	calls := MongoDatabase().Collection("calls")
	_, err := calls.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "call_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_call_id").
				SetUnique(true),
		},
		// Dashboard list and cleanup both scan by status + age.
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_status_ts"),
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_ts"),
		},
	})
	return err
}
