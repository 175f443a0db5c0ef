package submission

import (
	"errors"
	"time"

	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// crossPairs are the DABS file pairs with cross-file rules. A cross job is
// created once both of its files have a current validation job.
var crossPairs = [][2]models.FileType{
	{models.FileTypeAppropriations, models.FileTypeProgramActivity},
	{models.FileTypeProgramActivity, models.FileTypeAwardFinancial},
	{models.FileTypeAwardFinancial, models.FileTypeAwardProcurement},
	{models.FileTypeAwardFinancial, models.FileTypeAward},
}

// attach supersedes the current jobs of a file type and creates its upload
// job, its validation job and the cross jobs that now have both sides.
func (m *Manager) attach(tx *gorm.DB, sub *models.Submission, ft models.FileType, originalFilename string) (*models.Job, error) {
	now := m.clock()

	current := tx.Model(&models.Job{}).
		Where("submission_id = ? AND superseded_at IS NULL", sub.ID).
		Where("(file_type = ? OR (file_type = ? AND (source_file_type = ? OR target_file_type = ?)))",
			ft, models.FileTypeCross, ft, ft).
		Session(&gorm.Session{})
	if err := current.
		Where("status NOT IN ?", []models.JobStatus{models.JobStatusFinished, models.JobStatusFailed, models.JobStatusInvalid}).
		Updates(map[string]interface{}{
			"status":           models.JobStatusInvalid,
			"error_message":    "superseded by a new upload",
			"claimed_by":       "",
			"claim_expires_at": nil,
			"completed_at":     now,
			"updated_at":       now,
		}).Error; err != nil {
		return nil, err
	}
	superseded := current.Updates(map[string]interface{}{"superseded_at": now, "updated_at": now})
	if superseded.Error != nil {
		return nil, superseded.Error
	}
	if superseded.RowsAffected > 0 {
		log.Debug("superseded jobs", "submission_id", sub.ID, "file_type", ft, "jobs", superseded.RowsAffected)
	}

	upload := newJob(sub.ID, ft, models.JobTypeUpload, models.JobStatusReady, now)
	upload.OriginalFilename = originalFilename
	if err := tx.Create(upload).Error; err != nil {
		return nil, err
	}
	if !ft.Staged() {
		return upload, nil
	}

	validation := newJob(sub.ID, ft, models.JobTypeCSVRecordValidation, models.JobStatusWaiting, now)
	validation.OriginalFilename = originalFilename
	if err := tx.Create(validation).Error; err != nil {
		return nil, err
	}
	if err := depend(tx, validation.ID, upload.ID); err != nil {
		return nil, err
	}

	for _, pair := range crossPairs {
		var other models.FileType
		switch ft {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}

		var peer models.Job
		err := tx.Where("submission_id = ? AND file_type = ? AND job_type = ? AND superseded_at IS NULL",
			sub.ID, other, models.JobTypeCSVRecordValidation).
			Order("created_at DESC").
			Limit(1).
			Find(&peer).Error
		if err != nil {
			return nil, err
		}
		if peer.ID == uuid.Nil {
			continue
		}

		cross := newJob(sub.ID, models.FileTypeCross, models.JobTypeCrossFileValidation, models.JobStatusWaiting, now)
		cross.SourceFileType = pair[0]
		cross.TargetFileType = pair[1]
		if err := tx.Create(cross).Error; err != nil {
			return nil, err
		}
		for _, prereq := range []uuid.UUID{validation.ID, peer.ID} {
			if err := depend(tx, cross.ID, prereq); err != nil {
				return nil, err
			}
		}
	}

	return upload, nil
}

func newJob(submissionID uuid.UUID, ft models.FileType, jt models.JobType, status models.JobStatus, now time.Time) *models.Job {
	return &models.Job{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		FileType:     ft,
		JobType:      jt,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func depend(tx *gorm.DB, jobID, prerequisiteID uuid.UUID) error {
	return tx.Create(&models.JobDependency{JobID: jobID, PrerequisiteID: prerequisiteID}).Error
}

// propagate readies waiting jobs whose prerequisites have all finished and
// recomputes whether the submission can be published.
func (m *Manager) propagate(tx *gorm.DB, submissionID uuid.UUID) error {
	var jobs []models.Job
	if err := tx.Where("submission_id = ? AND superseded_at IS NULL", submissionID).Find(&jobs).Error; err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Model(&models.Submission{}).Where("id = ?", submissionID).Update("publishable", false).Error
	}

	ids := make([]uuid.UUID, len(jobs))
	status := make(map[uuid.UUID]models.JobStatus, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
		status[j.ID] = j.Status
	}

	var deps []models.JobDependency
	if err := tx.Where("job_id IN ?", ids).Find(&deps).Error; err != nil {
		return err
	}
	prereqs := make(map[uuid.UUID][]uuid.UUID)
	for _, d := range deps {
		prereqs[d.JobID] = append(prereqs[d.JobID], d.PrerequisiteID)
	}

	for i := range jobs {
		job := &jobs[i]
		if job.Status != models.JobStatusWaiting || !satisfied(prereqs[job.ID], status) {
			continue
		}
		if err := transition(tx, job.ID, models.JobStatusWaiting, models.JobStatusReady, nil); err != nil {
			if errors.Is(err, ErrJobLocked) {
				continue
			}
			return err
		}
		job.Status = models.JobStatusReady
		status[job.ID] = models.JobStatusReady
		log.Debug("job ready", "job_id", job.ID, "submission_id", submissionID, "job_type", job.JobType)
		m.publish(event.TypeJobReady, submissionID, job.ID, nil)
	}

	publishable := true
	for _, j := range jobs {
		if j.Status != models.JobStatusFinished || (j.JobType.Validation() && j.NumberOfErrors > 0) {
			publishable = false
			break
		}
	}
	return tx.Model(&models.Submission{}).Where("id = ?", submissionID).Update("publishable", publishable).Error
}

// satisfied reports whether every prerequisite has finished. A prerequisite
// no longer among the current jobs was superseded and blocks the job.
func satisfied(prereqs []uuid.UUID, status map[uuid.UUID]models.JobStatus) bool {
	for _, id := range prereqs {
		if s, ok := status[id]; !ok || s != models.JobStatusFinished {
			return false
		}
	}
	return true
}
