package taskqueue

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of a MongoDB collection. Several
// workers may share it; FindOneAndDelete hands each task to exactly one.
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

// NewMongoQueue creates a Mongo-backed queue and its due-order index.
// dbName defaults to "flowstate", collName to "action_tasks".
func NewMongoQueue(ctx context.Context, client *mongo.Client, dbName, collName string) (*MongoQueue, error) {
	if dbName == "" {
		dbName = "flowstate"
	}
	if collName == "" {
		collName = "action_tasks"
	}
	q := &MongoQueue{
		coll:         client.Database(dbName).Collection(collName),
		pollInterval: 100 * time.Millisecond,
	}
	_, err := q.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "not_before", Value: 1}, {Key: "enqueued_at", Value: 1}},
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoTaskDoc struct {
	ID         string    `bson:"_id"`
	InstanceID string    `bson:"instance_id"`
	ActionID   string    `bson:"action_id"`
	EnqueuedAt time.Time `bson:"enqueued_at"`
	NotBefore  time.Time `bson:"not_before"`
	Attempts   int       `bson:"attempts"`
}

func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	t = normalize(t, time.Now().UTC())
	_, err := q.coll.InsertOne(ctx, mongoTaskDoc{
		ID:         t.ID,
		InstanceID: t.InstanceID,
		ActionID:   t.ActionID,
		EnqueuedAt: t.EnqueuedAt.UTC(),
		NotBefore:  t.NotBefore.UTC(),
		Attempts:   t.Attempts,
	})
	return err
}

// Dequeue polls until a due task is available or ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		<-tmr.C
	}
	defer tmr.Stop()

	for {
		var doc mongoTaskDoc
		err := q.coll.FindOneAndDelete(
			ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UTC()}},
			options.FindOneAndDelete().SetSort(bson.D{{Key: "not_before", Value: 1}, {Key: "enqueued_at", Value: 1}}),
		).Decode(&doc)
		if err == nil {
			return &Task{
				ID:         doc.ID,
				InstanceID: doc.InstanceID,
				ActionID:   doc.ActionID,
				EnqueuedAt: doc.EnqueuedAt,
				NotBefore:  doc.NotBefore,
				Attempts:   doc.Attempts,
			}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

func (q *MongoQueue) Len(ctx context.Context) (int, error) {
	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
