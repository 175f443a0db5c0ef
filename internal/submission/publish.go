package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/pkg/jsonmap"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	uniquenessLabel         = "FABS2.2.1"
	uniquenessOriginalLabel = "2.2.1"
	uniquenessMessage       = "The combination of FAIN, AwardModificationAmendmentNumber, URI, AssistanceListingNumber and AwardingSubTierAgencyCode matches an active published record."

	keyBatchSize = 500
)

var uniquenessFields = []string{
	"fain", "award_modification_amendme", "uri", "cfda_number", "awarding_sub_tier_agency_c",
}

// PublishSubmission locks the submission, promotes and derives FABS rows
// or records DABS row counts, and marks the submission published.
func (m *Manager) PublishSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var kind string
	err := m.withLock(ctx, id, func() error {
		sub, err := getSubmission(m.db.WithContext(ctx), id)
		if err != nil {
			return err
		}
		kind = "dabs"
		if sub.IsFABS {
			kind = "fabs"
		}
		return m.publishLocked(ctx, sub)
	})
	if kind == "" {
		return nil, err
	}

	status := "published"
	var violation *UniquenessViolation
	switch {
	case errors.As(err, &violation):
		status = "uniqueness_violation"
	case errors.Is(err, ErrNotPublishable), errors.Is(err, ErrAlreadyPublished):
		status = "rejected"
	case err != nil:
		status = "failed"
	}
	metrics.PublicationsTotal.WithLabelValues(kind, status).Inc()
	if err != nil {
		log.Warn("publication rejected", "submission_id", id, "kind", kind, "error", err)
		return nil, err
	}

	sub, err := getSubmission(m.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	log.Info("published submission", "submission_id", id, "kind", kind)
	m.publish(event.TypeSubmissionPublished, id, uuid.Nil, sub)
	return sub, nil
}

func (m *Manager) publishLocked(ctx context.Context, sub *models.Submission) error {
	switch {
	case sub.IsFABS && sub.PublishStatus != models.PublishStatusUnpublished:
		return ErrAlreadyPublished
	case !sub.IsFABS && sub.PublishStatus == models.PublishStatusPublished:
		return ErrAlreadyPublished
	}

	if err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return m.propagate(tx, sub.ID)
	}); err != nil {
		return err
	}
	current, err := getSubmission(m.db.WithContext(ctx), sub.ID)
	if err != nil {
		return err
	}
	if !current.Publishable {
		return ErrNotPublishable
	}

	if sub.IsFABS {
		if err := m.checkUniqueness(ctx, sub); err != nil {
			return err
		}
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts, err := m.rowCounts(ctx, tx, sub)
		if err != nil {
			return err
		}
		if sub.IsFABS {
			if err := m.promote(ctx, tx, sub); err != nil {
				return err
			}
		}

		now := m.clock()
		if err := tx.Create(&models.PublishHistory{
			ID:            uuid.New(),
			SubmissionID:  sub.ID,
			Action:        "publish",
			FileRowCounts: counts,
			CreatedAt:     now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Submission{}).Where("id = ?", sub.ID).Updates(map[string]interface{}{
			"publish_status": models.PublishStatusPublished,
			"published_at":   now,
			"updated_at":     now,
		}).Error
	})
}

// UnpublishSubmission reverts a published DABS submission to unpublished.
// FABS publications are permanent.
func (m *Manager) UnpublishSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	err := m.withLock(ctx, id, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return m.unpublishTx(tx, id)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info("unpublished submission", "submission_id", id)
	m.publish(event.TypeSubmissionUnpublished, id, uuid.Nil, nil)
	return m.GetSubmission(ctx, id)
}

func (m *Manager) unpublishTx(tx *gorm.DB, id uuid.UUID) error {
	sub, err := getSubmission(tx, id)
	if err != nil {
		return err
	}
	if sub.IsFABS {
		return fmt.Errorf("%w: assistance submissions cannot be unpublished", ErrUnsupported)
	}
	if sub.PublishStatus == models.PublishStatusUnpublished {
		return fmt.Errorf("%w: submission is not published", ErrInvalidTransition)
	}

	now := m.clock()
	if err := tx.Create(&models.PublishHistory{
		ID:           uuid.New(),
		SubmissionID: id,
		Action:       "unpublish",
		CreatedAt:    now,
	}).Error; err != nil {
		return err
	}
	return tx.Model(&models.Submission{}).Where("id = ?", id).Updates(map[string]interface{}{
		"publish_status": models.PublishStatusUnpublished,
		"updated_at":     now,
	}).Error
}

// withLock runs fn holding the submission's publishing flag. The flag is
// released before withLock returns.
func (m *Manager) withLock(ctx context.Context, id uuid.UUID, fn func() error) error {
	if err := m.lock(ctx, id); err != nil {
		return err
	}
	defer m.unlock(id)
	return fn()
}

// lock takes the submission's publishing flag.
func (m *Manager) lock(ctx context.Context, id uuid.UUID) error {
	result := m.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND publishing = ?", id, false).
		Update("publishing", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := getSubmission(m.db.WithContext(ctx), id); err != nil {
		return err
	}
	return ErrPublishInProgress
}

func (m *Manager) unlock(id uuid.UUID) {
	if err := m.db.Model(&models.Submission{}).Where("id = ?", id).Update("publishing", false).Error; err != nil {
		log.Error("failed to release publication lock", "submission_id", id, "error", err)
	}
}

func (m *Manager) rowCounts(ctx context.Context, tx *gorm.DB, sub *models.Submission) (datatypes.JSONMap, error) {
	types := models.DABSFileTypes
	if sub.IsFABS {
		types = []models.FileType{models.FileTypeFABS}
	}
	store := staging.New(tx)
	counts := map[string]int64{}
	for _, ft := range types {
		if !ft.Staged() {
			continue
		}
		n, err := store.CountRows(ctx, sub.ID, ft)
		if err != nil {
			return nil, err
		}
		counts[ft.Letter()] = n
	}
	return jsonmap.FromCounts(counts), nil
}

// checkUniqueness fails when a new staged row repeats the key of an active
// published row. The collisions are recorded on the FABS validation job so
// the submission is no longer publishable.
func (m *Manager) checkUniqueness(ctx context.Context, sub *models.Submission) error {
	rows, err := m.store.FABSRows(ctx, sub.ID)
	if err != nil {
		return err
	}

	seen := map[string]struct{}{}
	var keys []string
	for _, r := range rows {
		if cdi := r.CDI(); cdi == "C" || cdi == "D" {
			continue
		}
		if _, ok := seen[r.AFAGeneratedUnique]; !ok {
			seen[r.AFAGeneratedUnique] = struct{}{}
			keys = append(keys, r.AFAGeneratedUnique)
		}
	}

	published, err := activeKeys(m.db.WithContext(ctx), sub.ID, keys)
	if err != nil {
		return err
	}
	if len(published) == 0 {
		return nil
	}

	var colliding []string
	first, occurrences := 0, 0
	for _, r := range rows {
		if cdi := r.CDI(); cdi == "C" || cdi == "D" {
			continue
		}
		if _, ok := published[r.AFAGeneratedUnique]; !ok {
			continue
		}
		occurrences++
		if first == 0 || r.RowNumber < first {
			first = r.RowNumber
		}
	}
	for _, k := range keys {
		if _, ok := published[k]; ok {
			colliding = append(colliding, k)
		}
	}

	var job models.Job
	if err := m.db.WithContext(ctx).
		Where("submission_id = ? AND file_type = ? AND job_type = ? AND superseded_at IS NULL",
			sub.ID, models.FileTypeFABS, models.JobTypeCSVRecordValidation).
		First(&job).Error; err != nil {
		return err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := staging.New(tx)
		if err := tx.Where("job_id = ? AND rule_label = ?", job.ID, uniquenessLabel).
			Delete(&models.ErrorMetadata{}).Error; err != nil {
			return err
		}
		if err := store.InsertFindings(ctx, []models.ErrorMetadata{{
			ID:                uuid.New(),
			JobID:             job.ID,
			SubmissionID:      sub.ID,
			FileType:          models.FileTypeFABS,
			FieldNames:        models.JoinFields(uniquenessFields),
			RuleLabel:         uniquenessLabel,
			OriginalRuleLabel: uniquenessOriginalLabel,
			Severity:          models.SeverityFatal,
			ErrorType:         models.ErrorTypeUniqueness,
			Message:           uniquenessMessage,
			Occurrences:       occurrences,
			FirstRow:          first,
			CreatedAt:         m.clock(),
		}}); err != nil {
			return err
		}
		if err := tx.Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"number_of_errors": gorm.Expr("number_of_errors + ?", occurrences),
			"updated_at":       m.clock(),
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Submission{}).Where("id = ?", sub.ID).Update("publishable", false).Error
	})
	if err != nil {
		return err
	}

	log.Warn("staged rows collide with published records", "submission_id", sub.ID, "keys", len(colliding), "rows", occurrences)
	return &UniquenessViolation{Keys: colliding}
}

func activeKeys(db *gorm.DB, submissionID uuid.UUID, keys []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for start := 0; start < len(keys); start += keyBatchSize {
		end := start + keyBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		var found []string
		if err := db.Model(&models.PublishedFABS{}).
			Where("is_active = ? AND submission_id <> ? AND afa_generated_unique IN ?", true, submissionID, keys[start:end]).
			Distinct().
			Pluck("afa_generated_unique", &found).Error; err != nil {
			return nil, err
		}
		for _, k := range found {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

// promote copies the staged FABS rows to published_fabs and derives them.
// Rows with CDI C or D deactivate the active rows they replace; D rows are
// kept inactive.
func (m *Manager) promote(ctx context.Context, tx *gorm.DB, sub *models.Submission) error {
	rows, err := staging.New(tx).FABSRows(ctx, sub.ID)
	if err != nil {
		return err
	}

	now := m.clock()
	var replaced []string
	published := make([]models.PublishedFABS, 0, len(rows))
	for _, r := range rows {
		if cdi := r.CDI(); cdi == "C" || cdi == "D" {
			replaced = append(replaced, r.AFAGeneratedUnique)
		}
		published = append(published, models.PublishedFABS{
			SubmissionID:       sub.ID,
			RowNumber:          r.RowNumber,
			FABSFields:         r.FABSFields,
			AFAGeneratedUnique: r.AFAGeneratedUnique,
			UniqueAwardKey:     models.UniqueAwardKey(r.FABSFields),
			CreatedAt:          now,
		})
	}

	var deactivated []uint
	for start := 0; start < len(replaced); start += keyBatchSize {
		end := start + keyBatchSize
		if end > len(replaced) {
			end = len(replaced)
		}
		var ids []uint
		if err := tx.Model(&models.PublishedFABS{}).
			Where("is_active = ? AND afa_generated_unique IN ?", true, replaced[start:end]).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		if err := tx.Model(&models.PublishedFABS{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"is_active": false, "modified_at": now}).Error; err != nil {
			return err
		}
		deactivated = append(deactivated, ids...)
	}
	if len(published) > 0 {
		if err := tx.CreateInBatches(published, keyBatchSize).Error; err != nil {
			return err
		}
	}

	if m.pipeline == nil {
		return fmt.Errorf("no derivation pipeline configured")
	}
	n, err := m.pipeline.Run(ctx, tx, m.ref, sub.ID, deactivated...)
	if err != nil {
		return fmt.Errorf("derive: %w", err)
	}
	log.Info("promoted assistance rows", "submission_id", sub.ID, "rows", n, "replaced", len(replaced))
	return nil
}
