package usage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const summariesCollection = "usage_summaries"

// MongoDBStore implements Store for MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

type summaryDoc struct {
	Provider         string     `bson:"_id"`
	TotalTokens      int64      `bson:"total_tokens"`
	PromptTokens     int64      `bson:"prompt_tokens"`
	CompletionTokens int64      `bson:"completion_tokens"`
	Cost             float64    `bson:"cost"`
	Requests         int64      `bson:"requests"`
	LastResetAt      *time.Time `bson:"last_reset_at,omitempty"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

// NewMongoDBStore creates a MongoDB usage store. Documents are keyed by provider.
func NewMongoDBStore(_ context.Context, database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{collection: database.Collection(summariesCollection)}, nil
}

// Save upserts summaries with an unordered bulk write.
func (s *MongoDBStore) Save(ctx context.Context, summaries []Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(summaries))
	for _, sm := range summaries {
		doc := summaryDoc{
			Provider:         sm.Provider,
			TotalTokens:      sm.TotalTokens,
			PromptTokens:     sm.PromptTokens,
			CompletionTokens: sm.CompletionTokens,
			Cost:             sm.Cost,
			Requests:         sm.Requests,
			UpdatedAt:        now,
		}
		if !sm.LastResetAt.IsZero() {
			t := sm.LastResetAt.UTC()
			doc.LastResetAt = &t
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: sm.Provider}}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to save usage summaries: %w", err)
	}
	return nil
}

// Load reads every summary.
func (s *MongoDBStore) Load(ctx context.Context) ([]Summary, error) {
	cur, err := s.collection.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summaries: %w", err)
	}
	defer cur.Close(ctx)

	var docs []summaryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode usage summaries: %w", err)
	}

	out := make([]Summary, 0, len(docs))
	for _, d := range docs {
		sm := Summary{
			Provider:         d.Provider,
			TotalTokens:      d.TotalTokens,
			PromptTokens:     d.PromptTokens,
			CompletionTokens: d.CompletionTokens,
			Cost:             d.Cost,
			Requests:         d.Requests,
		}
		if d.LastResetAt != nil {
			sm.LastResetAt = d.LastResetAt.UTC()
		}
		out = append(out, sm)
	}
	return out, nil
}

// Close is a no-op for MongoDB as the client is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
