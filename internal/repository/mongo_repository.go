package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type cartItemDocument struct {
	ID                  string `bson:"_id"`
	UserID              string `bson:"user_id"`
	domain.CartLineItem `bson:",inline"`
	CreatedAt           time.Time `bson:"created_at"`
	UpdatedAt           time.Time `bson:"updated_at"`
}

type MongoRepository struct {
	collection *mongo.Collection
	newID      func() (string, error)
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(cartItemsCollection),
		newID:      newRecordID,
	}
}

// newRecordID returns a UUIDv7; its string form sorts by creation time, which gives
// the mapping a stable insertion order.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) ([]domain.RawRecord, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]domain.RawRecord, 0)
	for cursor.Next(ctx) {
		var doc cartItemDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cart item: %w", err)
		}
		records = append(records, domain.RawRecord{Key: doc.ID, Value: doc.CartLineItem})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart: %w", err)
	}
	return records, nil
}

func (m *MongoRepository) AddItem(ctx context.Context, userID string, item domain.CartLineItem) (string, error) {
	id, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("failed to generate record id: %w", err)
	}
	now := time.Now()
	item.RecordID = ""
	doc := cartItemDocument{
		ID:           id,
		UserID:       userID,
		CartLineItem: item,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to add item: %w", err)
	}
	return id, nil
}

func (m *MongoRepository) UpdateItemQuantity(ctx context.Context, userID, recordID string, quantity int) error {
	filter := bson.M{"_id": recordID, "user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"quantity":   quantity,
			"updated_at": time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *MongoRepository) RemoveItem(ctx context.Context, userID, recordID string) error {
	filter := bson.M{"_id": recordID, "user_id": userID}

	result, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

// DeleteCart removes every record under userID. Clearing an empty cart is not an error.
func (m *MongoRepository) DeleteCart(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID}

	if _, err := m.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
