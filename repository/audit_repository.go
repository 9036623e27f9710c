package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BinodLamichhane31/kix-sub000/models"
)

// Audit entries are retained for two years, then reaped by the TTL monitor.
const auditRetention = 2 * 365 * 24 * time.Hour

// AuditRepository is the append-only store for audit log entries.
type AuditRepository interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID, page, limit int) ([]models.AuditLogEntry, int64, error)
}

type MongoAuditRepository struct {
	collection *mongo.Collection
}

func NewMongoAuditRepository(db *mongo.Database) *MongoAuditRepository {
	return &MongoAuditRepository{collection: db.Collection("audit_logs")}
}

// EnsureIndexes creates the retention TTL index and the order lookup index.
func (r *MongoAuditRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(auditRetention.Seconds())),
		},
		{
			Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	return err
}

func (r *MongoAuditRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, entry)
	return err
}

func (r *MongoAuditRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID, page, limit int) ([]models.AuditLogEntry, int64, error) {
	filter := bson.M{"order_id": orderID}

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

	var entries []models.AuditLogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
