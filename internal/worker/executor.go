package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fedspend/broker/internal/engine"
	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/internal/submission"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts        = 3
	defaultLeaseRenewInterval = 1 * time.Second
	minLeaseRenewInterval     = 1 * time.Second
)

// Validator runs one validation job.
type Validator interface {
	ValidateJob(ctx context.Context, jobID uuid.UUID) (*engine.Result, error)
}

// Transitioner moves jobs between statuses, propagating readiness.
type Transitioner interface {
	Transition(ctx context.Context, jobID uuid.UUID, to models.JobStatus, message string) (*models.Job, error)
}

type validationExecutor struct {
	db          *gorm.DB
	validator   Validator
	jobs        Transitioner
	nodeID      string
	leaseTTL    time.Duration
	maxAttempts int
}

// NewValidationExecutor returns the executor run for each claimed job.
// Structural errors end the job invalid; infrastructural errors return it
// to ready until maxAttempts claims have been made, then fail it.
func NewValidationExecutor(db *gorm.DB, validator Validator, jobs Transitioner, nodeID string, leaseTTL time.Duration, maxAttempts int) JobExecutor {
	if db == nil || validator == nil || jobs == nil {
		panic("validation executor requires database, validator and job transitioner")
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	return (&validationExecutor{
		db:          db,
		validator:   validator,
		jobs:        jobs,
		nodeID:      nodeID,
		leaseTTL:    leaseTTL,
		maxAttempts: maxAttempts,
	}).Execute
}

func (e *validationExecutor) Execute(ctx context.Context, job *models.Job) {
	if job == nil {
		return
	}

	active := metrics.JobsActive.WithLabelValues(e.nodeID)
	active.Inc()
	defer active.Dec()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.keepLease(runCtx, job)

	res, err := e.validator.ValidateJob(runCtx, job.ID)
	to, message := e.outcome(ctx, job, err)
	if to == "" {
		return
	}

	if to == models.JobStatusReady || to == models.JobStatusFailed {
		e.dropOutput(job)
	}
	// The run is over even when the worker is shutting down.
	if _, terr := e.jobs.Transition(context.Background(), job.ID, to, message); terr != nil {
		if errors.Is(terr, submission.ErrJobLocked) || errors.Is(terr, submission.ErrInvalidTransition) {
			log.Info("job changed while it ran; dropping outcome", "job_id", job.ID, "status", to)
			return
		}
		log.Error("failed to persist job outcome", "job_id", job.ID, "status", to, "error", terr)
		return
	}

	fields := []interface{}{"job_id", job.ID, "submission_id", job.SubmissionID, "file_type", job.FileType, "status", to}
	if res != nil {
		fields = append(fields, "rows", res.Rows, "errors", res.Errors, "warnings", res.Warnings)
	}
	if message != "" {
		fields = append(fields, "reason", message)
	}
	log.Info("job done", fields...)
}

// outcome maps a validation result to the job's next status. An empty
// status leaves the job as it is.
func (e *validationExecutor) outcome(ctx context.Context, job *models.Job, err error) (models.JobStatus, string) {
	var structural *engine.StructuralError
	switch {
	case err == nil:
		return models.JobStatusFinished, ""
	case errors.As(err, &structural):
		return models.JobStatusInvalid, structural.Error()
	case errors.Is(err, engine.ErrCanceled):
		log.Info("validation canceled", "job_id", job.ID)
		return "", ""
	case errors.Is(err, engine.ErrNotValidation):
		return models.JobStatusFailed, err.Error()
	case ctx.Err() != nil:
		log.Info("validation interrupted by shutdown", "job_id", job.ID)
		return models.JobStatusReady, "interrupted"
	case job.ClaimAttempt < e.maxAttempts:
		log.Warn("validation attempt failed; retrying", "job_id", job.ID, "attempt", job.ClaimAttempt, "error", err)
		return models.JobStatusReady, fmt.Sprintf("attempt %d failed: %v", job.ClaimAttempt, err)
	default:
		log.Error("validation failed", "job_id", job.ID, "attempts", job.ClaimAttempt, "error", err)
		return models.JobStatusFailed, err.Error()
	}
}

// dropOutput discards what a failed attempt wrote, unless the job has been
// claimed again meanwhile.
func (e *validationExecutor) dropOutput(job *models.Job) {
	var current models.Job
	if err := e.db.First(&current, "id = ?", job.ID).Error; err != nil {
		log.Error("failed to load job", "job_id", job.ID, "error", err)
		return
	}
	if current.ClaimedBy != job.ClaimedBy || current.Status != models.JobStatusRunning {
		return
	}
	if err := staging.New(e.db).ClearJob(context.Background(), job); err != nil {
		log.Error("failed to drop output of failed attempt", "job_id", job.ID, "error", err)
	}
}

// keepLease extends the job's lease until ctx is done.
func (e *validationExecutor) keepLease(ctx context.Context, job *models.Job) {
	if e.leaseTTL <= 0 || strings.TrimSpace(job.ClaimedBy) == "" {
		return
	}

	ticker := time.NewTicker(leaseRenewInterval(e.leaseTTL))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.renewLease(ctx, job); err != nil && ctx.Err() == nil {
				log.Error("failed to renew job lease", "job_id", job.ID, "error", err)
			}
		}
	}
}

func (e *validationExecutor) renewLease(ctx context.Context, job *models.Job) error {
	nextExpiry := time.Now().UTC().Add(e.leaseTTL)
	return e.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND claimed_by = ?", job.ID, models.JobStatusRunning, job.ClaimedBy).
		Update("claim_expires_at", nextExpiry).Error
}

func leaseRenewInterval(leaseTTL time.Duration) time.Duration {
	if leaseTTL <= 0 {
		return defaultLeaseRenewInterval
	}

	interval := leaseTTL / 2
	if interval < minLeaseRenewInterval {
		return minLeaseRenewInterval
	}
	return interval
}
