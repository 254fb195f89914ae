package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newMongoStore connects to MONGODB_TEST_URI and gives each test its own
// database, dropped on cleanup.
func newMongoStore(t *testing.T) Store {
	t.Helper()

	uri := os.Getenv("MONGODB_TEST_URI")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("Failed to ping MongoDB: %v", err)
	}

	name := "mooveit_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	store := NewMongoStore(client, name)
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Database(name).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return store
}

func TestMongoStore(t *testing.T) {
	if os.Getenv("MONGODB_TEST_URI") == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	runStoreContract(t, newMongoStore)

	t.Run("GivenDeleteInProgress_WhenReserving_ThenConditionFails", func(t *testing.T) {
		ctx := context.Background()
		store := newMongoStore(t).(*MongoStore)
		ride := seedRide(t, store, 7, 3)

		if _, err := store.db.Collection(ridesCol).UpdateOne(ctx,
			bson.M{"_id": ride.ID}, bson.M{"$set": bson.M{"deleting": true}}); err != nil {
			t.Fatalf("Failed to flag ride: %v", err)
		}
		if _, err := store.ReserveSeats(ctx, ride.ID, 1); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed, got %v", err)
		}
	})
}
