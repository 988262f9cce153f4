package ledger

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"matdist/common/constants"
)

// Mongo хранит по одному документу на сессию в коллекции sessions.
type Mongo struct {
	coll *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{coll: db.Collection(constants.SessionsColl)}
}

func (m *Mongo) Begin(ctx context.Context, doc SessionDoc) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ContextTimeout)
	defer cancel()
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert session %s: %w", doc.SessionID, err)
	}
	return nil
}

func (m *Mongo) Published(ctx context.Context, sessionID string, jobID, attempt int) error {
	return m.updateChunk(ctx, sessionID, jobID, bson.M{
		"chunks.$.status":   ChunkPublished,
		"chunks.$.attempts": attempt,
	}, nil)
}

func (m *Mongo) Reassigned(ctx context.Context, sessionID string, jobID, attempt int) error {
	return m.updateChunk(ctx, sessionID, jobID, bson.M{
		"chunks.$.status":   ChunkReassigned,
		"chunks.$.attempts": attempt,
	}, nil)
}

func (m *Mongo) Completed(ctx context.Context, sessionID string, jobID int, workerID string) error {
	return m.updateChunk(ctx, sessionID, jobID, bson.M{
		"chunks.$.status":   ChunkComplete,
		"chunks.$.workerId": workerID,
	}, bson.M{"completedCount": 1})
}

func (m *Mongo) Finish(ctx context.Context, sessionID, status string, elapsed time.Duration, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ContextTimeout)
	defer cancel()

	set := bson.M{
		"status":     status,
		"elapsedMs":  elapsed.Milliseconds(),
		"finishedAt": time.Now(),
	}
	if cause != nil {
		set["error"] = cause.Error()
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"sessionId": sessionID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// Get читает документ сессии.
func (m *Mongo) Get(ctx context.Context, sessionID string) (SessionDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ContextTimeout)
	defer cancel()
	var doc SessionDoc
	if err := m.coll.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&doc); err != nil {
		return SessionDoc{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return doc, nil
}

func (m *Mongo) updateChunk(ctx context.Context, sessionID string, jobID int, set, inc bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ContextTimeout)
	defer cancel()

	set["chunks.$.updatedAt"] = time.Now()
	update := bson.M{"$set": set}
	if inc != nil {
		update["$inc"] = inc
	}
	filter := bson.M{"sessionId": sessionID, "chunks.jobId": jobID}
	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update chunk %d of session %s: %w", jobID, sessionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("chunk %d not found in session %s", jobID, sessionID)
	}
	return nil
}
