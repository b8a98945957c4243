package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	cartItems *mongo.Collection
	purchases *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		cartItems: db.Collection("cart_items"),
		purchases: db.Collection("purchase_history"),
	}
}

func (m *MongoRepository) ListCartRows(ctx context.Context, userID string) ([]domain.CartRow, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := m.cartItems.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart rows: %w", err)
	}
	defer cursor.Close(ctx)

	rows := make([]domain.CartRow, 0)
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode cart rows: %w", err)
	}
	return rows, nil
}

func (m *MongoRepository) InsertCartRow(ctx context.Context, userID, productID string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}

	row := domain.CartRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := m.cartItems.InsertOne(ctx, row); err != nil {
		return "", fmt.Errorf("failed to insert cart row: %w", err)
	}
	return row.ID, nil
}

func (m *MongoRepository) UpdateCartRowQuantity(ctx context.Context, userID, rowID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	filter := bson.M{"_id": rowID, "user_id": userID}
	update := bson.M{"$set": bson.M{"quantity": quantity}}

	result, err := m.cartItems.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart row quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCartRow(ctx context.Context, userID, rowID string) error {
	filter := bson.M{"_id": rowID, "user_id": userID}

	result, err := m.cartItems.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete cart row: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrRowNotFound
	}
	return nil
}

// DeleteAllCartRows succeeds when the user has no rows.
func (m *MongoRepository) DeleteAllCartRows(ctx context.Context, userID string) error {
	if _, err := m.cartItems.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart rows: %w", err)
	}
	return nil
}

func (m *MongoRepository) InsertPurchaseRecord(ctx context.Context, record domain.PurchaseRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, err := m.purchases.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePurchase
		}
		return fmt.Errorf("failed to insert purchase record: %w", err)
	}
	return nil
}

func (m *MongoRepository) ListPurchaseRecords(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "purchase_date", Value: -1}})

	cursor, err := m.purchases.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]domain.PurchaseRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode purchase records: %w", err)
	}
	return records, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	cartIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}},
	}
	if _, err := m.cartItems.Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	purchaseIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "purchase_date", Value: -1}}},
	}
	if _, err := m.purchases.Indexes().CreateMany(ctx, purchaseIndexes); err != nil {
		return fmt.Errorf("failed to create purchase indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	err := m.cartItems.Database().Client().Disconnect(ctx)
	if err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}
