package spool

import (
	"sync"

	"github.com/actionsum/focusbeat/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// maxDeliveryErrors bounds the delivery_errors table.
const maxDeliveryErrors = 100

// Repository is a bounded FIFO of pending heartbeats plus a log of delivery
// failures.
type Repository struct {
	db       *DB
	maxItems int

	mu      sync.Mutex
	dropped int64
}

// NewRepository creates a repository holding at most maxItems heartbeats
func NewRepository(db *DB, maxItems int) *Repository {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Repository{db: db, maxItems: maxItems}
}

// Enqueue appends a heartbeat. When the spool is full the oldest entries are
// discarded; the number discarded by this call is returned.
func (r *Repository) Enqueue(hb *models.PendingHeartbeat) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(hb).Error; err != nil {
			return errors.Wrap(err, "failed to insert pending heartbeat")
		}

		var count int64
		if err := tx.Model(&models.PendingHeartbeat{}).Count(&count).Error; err != nil {
			return errors.Wrap(err, "failed to count pending heartbeats")
		}
		if count <= int64(r.maxItems) {
			return nil
		}

		result := tx.Exec(
			"DELETE FROM pending_heartbeats WHERE id IN (SELECT id FROM pending_heartbeats ORDER BY id ASC LIMIT ?)",
			count-int64(r.maxItems),
		)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to drop oldest heartbeats")
		}
		dropped = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.dropped += dropped
	return dropped, nil
}

// Oldest returns the head of the queue, or nil when the spool is empty
func (r *Repository) Oldest() (*models.PendingHeartbeat, error) {
	var hb models.PendingHeartbeat
	result := r.db.Order("id ASC").Limit(1).Find(&hb)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to read oldest heartbeat")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &hb, nil
}

// Remove deletes a delivered heartbeat
func (r *Repository) Remove(id uint) error {
	result := r.db.Delete(&models.PendingHeartbeat{}, id)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to remove heartbeat")
	}
	return nil
}

// MarkAttempt increments the attempt counter of a heartbeat
func (r *Repository) MarkAttempt(id uint) error {
	result := r.db.Model(&models.PendingHeartbeat{}).Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update heartbeat attempts")
	}
	return nil
}

// Len returns the number of pending heartbeats
func (r *Repository) Len() (int64, error) {
	var count int64
	if err := r.db.Model(&models.PendingHeartbeat{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count pending heartbeats")
	}
	return count, nil
}

// Dropped returns how many heartbeats this repository discarded for space
func (r *Repository) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// RecordError inserts a delivery error, keeping only the most recent ones
func (r *Repository) RecordError(deliveryErr *models.DeliveryError) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(deliveryErr).Error; err != nil {
			return errors.Wrap(err, "failed to insert delivery error")
		}
		result := tx.Exec(
			"DELETE FROM delivery_errors WHERE id NOT IN (SELECT id FROM delivery_errors ORDER BY id DESC LIMIT ?)",
			maxDeliveryErrors,
		)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to prune delivery errors")
		}
		return nil
	})
}

// LastError returns the most recent delivery error, or nil if there is none
func (r *Repository) LastError() (*models.DeliveryError, error) {
	var deliveryErr models.DeliveryError
	result := r.db.Order("id DESC").Limit(1).Find(&deliveryErr)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to get last delivery error")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &deliveryErr, nil
}
