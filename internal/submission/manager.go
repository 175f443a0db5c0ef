// Package submission owns the lifecycle of submissions and their job graph:
// creating the jobs a file needs, moving jobs between states, publishing and
// purging.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fedspend/broker/internal/derive"
	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobLocked          = errors.New("job is locked by another operation")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrNotPublishable     = errors.New("submission is not publishable")
	ErrAlreadyPublished   = errors.New("submission is already published")
	ErrPublishInProgress  = errors.New("submission publication already in progress")
	ErrUnsupported        = errors.New("operation not supported for this submission")
)

// UniquenessViolation is returned by PublishSubmission when staged FABS rows
// collide with active published rows.
type UniquenessViolation struct {
	Keys []string
}

func (e *UniquenessViolation) Error() string {
	return fmt.Sprintf("%d staged rows collide with published records", len(e.Keys))
}

const defaultPurgeAfter = 4380 * time.Hour

type Manager struct {
	db         *gorm.DB
	store      *staging.Store
	files      storage.FileStore
	bus        event.Bus
	pipeline   *derive.Pipeline
	ref        *reference.Snapshot
	purgeAfter time.Duration
	now        func() time.Time
}

type Option func(*Manager)

func WithBus(bus event.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithDerivation sets the pipeline and reference snapshot FABS
// publication derives with.
func WithDerivation(p *derive.Pipeline, ref *reference.Snapshot) Option {
	return func(m *Manager) {
		m.pipeline = p
		m.ref = ref
	}
}

func WithPurgeAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.purgeAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(db *gorm.DB, files storage.FileStore, opts ...Option) *Manager {
	if db == nil {
		panic("submission manager requires database")
	}
	if files == nil {
		panic("submission manager requires file store")
	}
	m := &Manager{
		db:         db,
		store:      staging.New(db),
		files:      files,
		bus:        event.Nop(),
		purgeAfter: defaultPurgeAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

func (m *Manager) publish(t event.Type, submissionID, jobID uuid.UUID, payload any) {
	e := event.Event{Type: t, SubmissionID: submissionID, JobID: jobID, Timestamp: m.clock()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	m.bus.Publish(e)
}

// CreateRequest describes a new submission.
type CreateRequest struct {
	CGACCode     string
	FRECCode     string
	FiscalYear   int
	FiscalPeriod int
	Quarter      bool
	FABS         bool
	Test         bool
}

// CreateSubmission persists a submission with the jobs its initial files
// need: A, B and C for DABS, the assistance file for FABS.
func (m *Manager) CreateSubmission(ctx context.Context, req CreateRequest) (*models.Submission, error) {
	if strings.TrimSpace(req.CGACCode) == "" && strings.TrimSpace(req.FRECCode) == "" {
		return nil, fmt.Errorf("submission requires a CGAC or FREC code")
	}
	if !req.FABS && (req.FiscalYear <= 0 || req.FiscalPeriod < 1 || req.FiscalPeriod > 12) {
		return nil, fmt.Errorf("invalid reporting period %d/%d", req.FiscalYear, req.FiscalPeriod)
	}

	now := m.clock()
	sub := &models.Submission{
		ID:                    uuid.New(),
		CGACCode:              strings.TrimSpace(req.CGACCode),
		FRECCode:              strings.TrimSpace(req.FRECCode),
		ReportingFiscalYear:   req.FiscalYear,
		ReportingFiscalPeriod: req.FiscalPeriod,
		IsQuarterFormat:       req.Quarter,
		IsFABS:                req.FABS,
		TestSubmission:        req.Test,
		PublishStatus:         models.PublishStatusUnpublished,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	initial := []models.FileType{models.FileTypeAppropriations, models.FileTypeProgramActivity, models.FileTypeAwardFinancial}
	if req.FABS {
		initial = []models.FileType{models.FileTypeFABS}
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		for _, ft := range initial {
			if _, err := m.attach(tx, sub, ft, ""); err != nil {
				return err
			}
		}
		return m.propagate(tx, sub.ID)
	})
	if err != nil {
		return nil, err
	}

	log.Info("created submission", "submission_id", sub.ID, "kind", sub.Kind(), "test", sub.TestSubmission)
	m.publish(event.TypeSubmissionCreated, sub.ID, uuid.Nil, sub)
	return sub, nil
}

// GetSubmission loads a submission.
func (m *Manager) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	return getSubmission(m.db.WithContext(ctx), id)
}

func getSubmission(tx *gorm.DB, id uuid.UUID) (*models.Submission, error) {
	var sub models.Submission
	err := tx.First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetJob loads a job.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return getJob(m.db.WithContext(ctx), id)
}

func getJob(tx *gorm.DB, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := tx.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// AttachFile starts (or restarts) a file of the submission and returns its
// upload job. Jobs of an earlier attachment of the same file type, and the
// cross jobs built on it, are superseded.
func (m *Manager) AttachFile(ctx context.Context, submissionID uuid.UUID, ft models.FileType, originalFilename string) (*models.Job, error) {
	var upload *models.Job
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := getSubmission(tx, submissionID)
		if err != nil {
			return err
		}
		if sub.IsFABS != (ft == models.FileTypeFABS) || ft == models.FileTypeCross {
			return fmt.Errorf("%w: %s file on %s submission", ErrUnsupported, ft, sub.Kind())
		}
		if sub.Publishing {
			return ErrPublishInProgress
		}
		if sub.IsFABS && sub.PublishStatus != models.PublishStatusUnpublished {
			return ErrAlreadyPublished
		}

		upload, err = m.attach(tx, sub, ft, originalFilename)
		if err != nil {
			return err
		}
		return m.propagate(tx, sub.ID)
	})
	if err != nil {
		return nil, err
	}

	log.Info("attached file", "submission_id", submissionID, "file_type", ft, "upload_job_id", upload.ID)
	m.publish(event.TypeFileAttached, submissionID, upload.ID, map[string]string{"file_type": string(ft)})
	return upload, nil
}

// UploadFileContent stores the content of an attached file and completes its
// upload job, which readies the file's validation.
func (m *Manager) UploadFileContent(ctx context.Context, uploadJobID uuid.UUID, originalFilename string, r io.Reader, size int64) (*models.Job, error) {
	job, err := getJob(m.db.WithContext(ctx), uploadJobID)
	if err != nil {
		return nil, err
	}
	if job.JobType != models.JobTypeUpload {
		return nil, fmt.Errorf("%w: job %s is a %s job", ErrInvalidTransition, job.ID, job.JobType)
	}
	if job.SupersededAt != nil {
		return nil, fmt.Errorf("%w: upload job %s was superseded", ErrInvalidTransition, job.ID)
	}
	if strings.TrimSpace(originalFilename) == "" {
		originalFilename = job.OriginalFilename
	}
	if strings.TrimSpace(originalFilename) == "" {
		originalFilename = string(job.FileType) + ".csv"
	}

	// Taking the job to running is the upload lock.
	if err := m.move(ctx, job, models.JobStatusReady, models.JobStatusRunning, nil); err != nil {
		return nil, err
	}

	key := storage.UploadKey(job.SubmissionID, job.ID, originalFilename)
	if err := m.finishUpload(ctx, job, key, originalFilename, r, size); err != nil {
		// The run is over even when ctx is done.
		if rerr := m.move(context.Background(), job, models.JobStatusRunning, models.JobStatusReady, nil); rerr != nil {
			log.Error("failed to release upload lock", "job_id", job.ID, "error", rerr)
		}
		return nil, err
	}

	log.Info("uploaded file", "submission_id", job.SubmissionID, "job_id", job.ID, "file_type", job.FileType, "key", key)
	m.publish(event.TypeJobFinished, job.SubmissionID, job.ID, nil)
	return getJob(m.db.WithContext(ctx), job.ID)
}

// finishUpload stores the content and completes the running upload job.
func (m *Manager) finishUpload(ctx context.Context, job *models.Job, key, originalFilename string, r io.Reader, size int64) error {
	if err := m.files.Put(ctx, key, r, size); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := m.clock()
		file := map[string]interface{}{
			"filename":          key,
			"original_filename": originalFilename,
			"updated_at":        now,
		}
		if err := tx.Model(&models.Job{}).
			Where("submission_id = ? AND file_type = ? AND superseded_at IS NULL", job.SubmissionID, job.FileType).
			Updates(file).Error; err != nil {
			return err
		}
		if err := transition(tx, job.ID, models.JobStatusRunning, models.JobStatusFinished, map[string]interface{}{
			"completed_at": now,
		}); err != nil {
			return err
		}

		sub, err := getSubmission(tx, job.SubmissionID)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{"updated_at": now}
		if !sub.IsFABS && sub.PublishStatus == models.PublishStatusPublished {
			updates["publish_status"] = models.PublishStatusUpdated
		}
		if err := tx.Model(&models.Submission{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}
		return m.propagate(tx, job.SubmissionID)
	})
}

// ListJobs returns the current jobs of a submission in creation order.
// Superseded jobs are hidden.
func (m *Manager) ListJobs(ctx context.Context, submissionID uuid.UUID) ([]models.Job, error) {
	if _, err := getSubmission(m.db.WithContext(ctx), submissionID); err != nil {
		return nil, err
	}
	var jobs []models.Job
	err := m.db.WithContext(ctx).
		Where("submission_id = ? AND superseded_at IS NULL", submissionID).
		Order("created_at, file_type, job_type").
		Find(&jobs).Error
	return jobs, err
}

// CancelJob invalidates a job that has not reached a terminal status. A
// running validation notices at its next checkpoint and discards its output.
func (m *Manager) CancelJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.Transition(ctx, jobID, models.JobStatusInvalid, "canceled")
	if err != nil {
		return nil, err
	}
	log.Info("canceled job", "job_id", jobID, "submission_id", job.SubmissionID)
	return job, nil
}

// Transition moves a job to a new status and re-evaluates the readiness of
// the submission's other jobs.
func (m *Manager) Transition(ctx context.Context, jobID uuid.UUID, to models.JobStatus, message string) (*models.Job, error) {
	var job *models.Job
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = getJob(tx, jobID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		now := m.clock()
		switch to {
		case models.JobStatusRunning:
			updates["started_at"] = now
		case models.JobStatusReady:
			updates["claimed_by"] = ""
			updates["claim_expires_at"] = nil
		default:
			updates["completed_at"] = now
			updates["claimed_by"] = ""
			updates["claim_expires_at"] = nil
		}
		if message != "" {
			updates["error_message"] = message
		}
		if err := transition(tx, job.ID, job.Status, to, updates); err != nil {
			return err
		}
		return m.propagate(tx, job.SubmissionID)
	})
	if err != nil {
		return nil, err
	}

	m.publish(jobEvent(to), job.SubmissionID, job.ID, nil)
	return getJob(m.db.WithContext(ctx), jobID)
}

func jobEvent(status models.JobStatus) event.Type {
	switch status {
	case models.JobStatusReady:
		return event.TypeJobReady
	case models.JobStatusRunning:
		return event.TypeJobStarted
	case models.JobStatusFinished:
		return event.TypeJobFinished
	case models.JobStatusFailed:
		return event.TypeJobFailed
	}
	return event.TypeJobInvalid
}

func (m *Manager) move(ctx context.Context, job *models.Job, from, to models.JobStatus, updates map[string]interface{}) error {
	return transition(m.db.WithContext(ctx), job.ID, from, to, updates)
}

// transition is a compare-and-set of a job's status.
func transition(tx *gorm.DB, jobID uuid.UUID, from, to models.JobStatus, updates map[string]interface{}) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	values := map[string]interface{}{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	result := tx.Model(&models.Job{}).Where("id = ? AND status = ?", jobID, from).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobLocked
	}
	return nil
}
