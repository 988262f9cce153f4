package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"matdist/common/constants"
	"matdist/common/logger"
)

// ConnectMongo устанавливает подключение к MongoDB и возвращает клиента и базу данных.
func ConnectMongo(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(dbName)
	createIndex(ctx, db, constants.SessionsColl, "sessionId")
	createIndex(ctx, db, constants.SessionsColl, "createdAt")
	logger.Log("MongoDB", "connection established")
	return client, db, nil
}

func createIndex(ctx context.Context, db *mongo.Database, collName, field string) {
	index := mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
	}
	if _, err := db.Collection(collName).Indexes().CreateOne(ctx, index); err != nil {
		logger.LogError("MongoDB", fmt.Sprintf("create index on %s.%s", collName, field), err)
	}
}
