package taskqueue

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/flowstate/internal/testutil"
)

func TestMongoQueue(t *testing.T) {
	uri := testutil.MongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	runQueueContract(t, func(t *testing.T) Queue {
		ctx := context.Background()
		coll := client.Database("flowstate_test").Collection("action_tasks_test")
		if err := coll.Drop(ctx); err != nil {
			t.Fatalf("drop failed: %v", err)
		}
		q, err := NewMongoQueue(ctx, client, "flowstate_test", "action_tasks_test")
		if err != nil {
			t.Fatalf("NewMongoQueue failed: %v", err)
		}
		q.pollInterval = 10 * time.Millisecond
		return q
	})
}
