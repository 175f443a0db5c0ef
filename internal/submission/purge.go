package submission

import (
	"context"

	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Stale lists the test submissions eligible for purge: unpublished, not
// being published and untouched for longer than the purge window.
func (m *Manager) Stale(ctx context.Context) ([]models.Submission, error) {
	cutoff := m.clock().Add(-m.purgeAfter)
	var subs []models.Submission
	err := m.db.WithContext(ctx).
		Where("test_submission = ? AND publish_status = ? AND publishing = ? AND updated_at < ?",
			true, models.PublishStatusUnpublished, false, cutoff).
		Order("updated_at").
		Find(&subs).Error
	return subs, err
}

// Purge deletes every stale test submission with its jobs, staged rows,
// flex fields, findings, history and stored files. It returns the number of
// submissions removed.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	subs, err := m.Stale(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := m.purge(ctx, sub.ID); err != nil {
			log.Error("failed to purge submission", "submission_id", sub.ID, "error", err)
			continue
		}
		purged++
		metrics.SubmissionsPurgedTotal.Inc()
		m.publish(event.TypeSubmissionPurged, sub.ID, uuid.Nil, nil)
	}

	if purged > 0 {
		log.Info("purged stale test submissions", "count", purged, "candidates", len(subs))
	}
	return purged, nil
}

func (m *Manager) purge(ctx context.Context, id uuid.UUID) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := staging.New(tx).DeleteSubmission(ctx, id); err != nil {
			return err
		}
		jobs := tx.Model(&models.Job{}).Select("id").Where("submission_id = ?", id)
		if err := tx.Where("job_id IN (?)", jobs).Delete(&models.JobDependency{}).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{&models.Job{}, &models.PublishHistory{}} {
			if err := tx.Where("submission_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ? AND publishing = ?", id, false).Delete(&models.Submission{}).Error
	})
	if err != nil {
		return err
	}
	return m.files.DeletePrefix(ctx, storage.SubmissionPrefix(id))
}
