package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

type timelineDocument struct {
	OrderID  string    `bson:"orderId"`
	Type     string    `bson:"type"`
	Reason   string    `bson:"reason,omitempty"`
	ActorID  string    `bson:"actorId,omitempty"`
	Occurred time.Time `bson:"occurred"`
}

type timelineRepository struct {
	events *mongo.Collection
}

// NewTimelineRepository создаёт MongoDB-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{events: store.db.Collection(collectionTimeline)}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	_, err := r.events.InsertOne(ctx, timelineDocument{
		OrderID:  event.OrderID,
		Type:     event.Type,
		Reason:   event.Reason,
		ActorID:  event.ActorID,
		Occurred: event.Occurred,
	})
	if err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cursor, err := r.events.Find(ctx, bson.M{"orderId": orderID},
		options.Find().SetSort(bson.D{{Key: "occurred", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []timelineDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode timeline events: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, domain.TimelineEvent{
			OrderID:  doc.OrderID,
			Type:     doc.Type,
			Reason:   doc.Reason,
			ActorID:  doc.ActorID,
			Occurred: doc.Occurred.UTC(),
		})
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
