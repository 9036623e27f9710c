// Package audit appends immutable records of every sensitive order
// operation. Recording is best-effort: a failed audit write is logged and
// must never fail or delay the operation it describes.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BinodLamichhane31/kix-sub000/models"
	"github.com/BinodLamichhane31/kix-sub000/repository"
)

// Recorder accepts audit entries. Implementations must not return errors to
// callers for a failed write.
type Recorder interface {
	Record(entry *models.AuditLogEntry)
}

type MongoRecorder struct {
	repo    repository.AuditRepository
	logger  *zap.Logger
	timeout time.Duration
	// sync forces in-line writes; used by tests for determinism.
	sync bool
}

func NewMongoRecorder(repo repository.AuditRepository, logger *zap.Logger) *MongoRecorder {
	return &MongoRecorder{
		repo:    repo,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// NewSyncRecorder returns a recorder that writes in-line instead of in a
// background goroutine. Errors are still swallowed.
func NewSyncRecorder(repo repository.AuditRepository, logger *zap.Logger) *MongoRecorder {
	r := NewMongoRecorder(repo, logger)
	r.sync = true
	return r
}

// Record appends the entry on a detached context so that the write survives
// the request ending and its failure cannot propagate to the caller.
func (r *MongoRecorder) Record(entry *models.AuditLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if r.sync {
		r.write(entry)
		return
	}
	go r.write(entry)
}

func (r *MongoRecorder) write(entry *models.AuditLogEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Audit recorder panicked", zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Insert(ctx, entry); err != nil {
		r.logger.Error("Failed to write audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("order_id", entry.OrderID.String()),
			zap.Error(err),
		)
	}
}
