package database

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates every index the repositories rely on. Failures are
// returned per collection so startup can log and continue.
func EnsureIndexes(db *mongo.Database) map[string]error {
	failures := map[string]error{}
	for name, models := range indexModels() {
		if err := ensureCollectionIndexes(db, name, models); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func indexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		productsCollection: {
			{
				Keys: bson.D{{Key: "barcode", Value: 1}},
				Options: options.Index().
					SetName("barcode_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{
						"barcode": bson.M{"$type": "string"},
					}),
			},
		},
		usersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("email_unique").SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "phone", Value: 1}},
				Options: options.Index().
					SetName("phone_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{
						"phone": bson.M{"$type": "string", "$gt": ""},
					}),
			},
			{
				Keys:    bson.D{{Key: "role", Value: 1}},
				Options: options.Index().SetName("role_index"),
			},
		},
		ordersCollection: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
				Options: options.Index().SetName("userId_createdAt_index"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}},
				Options: options.Index().SetName("status_index"),
			},
		},
		cartsCollection: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}},
				Options: options.Index().SetName("userId_unique").SetUnique(true),
			},
		},
		refreshTokensCollection: {
			{
				Keys:    bson.D{{Key: "tokenHash", Value: 1}},
				Options: options.Index().SetName("tokenHash_index"),
			},
			{
				Keys:    bson.D{{Key: "expiresAt", Value: 1}},
				Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0),
			},
		},
	}
}

func ensureCollectionIndexes(db *mongo.Database, collection string, models []mongo.IndexModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Printf("EnsureIndexes: creating %d index(es) on %s", len(models), collection)
	names, err := db.Collection(collection).Indexes().CreateMany(ctx, models)
	if err != nil {
		log.Printf("EnsureIndexes: %s index error: %v", collection, err)
		return err
	}
	log.Printf("EnsureIndexes: %s indexes ready: %v", collection, names)
	return nil
}
