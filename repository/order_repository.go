package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BinodLamichhane31/kix-sub000/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderRepository defines the interface for order data access. The Order
// document is the single point of mutual exclusion per order: every
// state-changing write goes through ConditionalUpdate, which only applies
// when the persisted document still matches the expected precondition.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDAndUserID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error)
	FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	// ConditionalUpdate atomically applies set to the order only if the
	// persisted document still matches cond. Returns whether it applied.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, cond bson.M, set bson.M) (bool, error)
	// RecordVerifyAttempt bumps the verification attempt counter and stamps
	// the attempt time.
	RecordVerifyAttempt(ctx context.Context, id uuid.UUID) error
	// WithTransaction runs fn inside a Mongo session transaction when the
	// deployment supports it; otherwise it runs fn directly and correctness
	// rests on the conditional-commit + idempotent side-effect discipline.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// MongoOrderRepository implements OrderRepository on the orders collection
type MongoOrderRepository struct {
	collection      *mongo.Collection
	client          *mongo.Client
	useTransactions bool
}

func NewMongoOrderRepository(db *mongo.Database, useTransactions bool) *MongoOrderRepository {
	return &MongoOrderRepository{
		collection:      db.Collection("orders"),
		client:          db.Client(),
		useTransactions: useTransactions,
	}
}

func (r *MongoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	_, err := r.collection.InsertOne(ctx, order)
	return err
}

func (r *MongoOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *MongoOrderRepository) FindByIDAndUserID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *MongoOrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	var order models.Order
	err := r.collection.FindOne(ctx, bson.M{"payment.transaction_id": transactionID}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *MongoOrderRepository) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	return r.findPage(ctx, bson.M{"user_id": userID}, page, limit)
}

func (r *MongoOrderRepository) FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	return r.findPage(ctx, bson.M{}, page, limit)
}

func (r *MongoOrderRepository) findPage(ctx context.Context, filter bson.M, page, limit int) ([]models.Order, int64, error) {
	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var orders []models.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *MongoOrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"order_number": orderNumber})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MongoOrderRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, cond bson.M, set bson.M) (bool, error) {
	filter := bson.M{"_id": id}
	for k, v := range cond {
		filter[k] = v
	}
	set["updated_at"] = time.Now().UTC()

	res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	// MatchedCount, not ModifiedCount: a no-op set on an already-matching
	// document still counts as applied.
	return res.MatchedCount > 0, nil
}

func (r *MongoOrderRepository) RecordVerifyAttempt(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"payment.verify_attempts": 1},
		"$set": bson.M{"payment.last_attempt_at": now, "updated_at": now},
	})
	return err
}

func (r *MongoOrderRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.useTransactions {
		return fn(ctx)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
