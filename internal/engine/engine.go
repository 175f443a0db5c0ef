// Package engine runs validation jobs: it streams an uploaded file through
// its schema and row rules in chunks, stages the parsed rows, evaluates
// set rules over the staging tables and persists aggregated findings and
// CSV reports.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/report"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrCanceled is returned when a job was invalidated or superseded while
	// it ran. Partial output has been discarded.
	ErrCanceled = errors.New("validation job canceled")
	// ErrNotValidation is returned for jobs the engine does not run.
	ErrNotValidation = errors.New("job is not a validation job")
)

// StructuralError reports a file whose header row cannot be used. No
// findings are persisted for it, only a header error report.
type StructuralError struct {
	Missing    []string
	Duplicated []string
	Empty      bool
}

func (e *StructuralError) Error() string {
	var parts []string
	if e.Empty {
		parts = append(parts, "file is empty")
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing headers: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Duplicated) > 0 {
		parts = append(parts, "duplicated headers: "+strings.Join(e.Duplicated, ", "))
	}
	return "structural error: " + strings.Join(parts, "; ")
}

// Problems renders the error as header error report rows.
func (e *StructuralError) Problems() []report.HeaderProblem {
	var out []report.HeaderProblem
	if e.Empty {
		out = append(out, report.HeaderProblem{Type: report.EmptyFile})
	}
	for _, h := range e.Missing {
		out = append(out, report.HeaderProblem{Type: report.MissingHeader, Header: h})
	}
	for _, h := range e.Duplicated {
		out = append(out, report.HeaderProblem{Type: report.DuplicatedHeader, Header: h})
	}
	return out
}

type Config struct {
	// ChunkSize is the number of rows read, evaluated and staged together.
	ChunkSize int
	// Parallelism bounds how many goroutines evaluate one chunk.
	Parallelism int
}

const defaultChunkSize = 10000

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.ChunkSize > 0 {
			e.cfg.ChunkSize = cfg.ChunkSize
		}
		if cfg.Parallelism > 0 {
			e.cfg.Parallelism = cfg.Parallelism
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

type Engine struct {
	db    *gorm.DB
	store *staging.Store
	files storage.FileStore
	rules *rule.Catalogue
	env   *rule.Env
	cfg   Config
	now   func() time.Time
}

func New(db *gorm.DB, files storage.FileStore, rules *rule.Catalogue, ref *reference.Snapshot, opts ...Option) *Engine {
	if db == nil {
		panic("engine requires database")
	}
	if files == nil {
		panic("engine requires file store")
	}
	if rules == nil {
		panic("engine requires rule catalogue")
	}
	if ref == nil {
		ref = reference.FromRecords(reference.Records{})
	}

	e := &Engine{
		db:    db,
		store: staging.New(db),
		files: files,
		rules: rules,
		env:   &rule.Env{Ref: ref},
		cfg:   Config{ChunkSize: defaultChunkSize, Parallelism: 1},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarises a finished validation job.
type Result struct {
	JobID      uuid.UUID
	Rows       int
	ValidRows  int
	Errors     int
	Warnings   int
	FileStatus models.FileStatus
	Reports    []string
}

// ValidateJob runs one validation job to completion. Rule findings never
// fail the job; a *StructuralError, ErrCanceled or an infrastructural error
// does.
func (e *Engine) ValidateJob(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	job, err := e.job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var res *Result
	switch job.JobType {
	case models.JobTypeCSVRecordValidation:
		res, err = e.validateFile(ctx, job)
	case models.JobTypeCrossFileValidation:
		res, err = e.validateCross(ctx, job)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotValidation, job.JobType)
	}

	status := "finished"
	var structural *StructuralError
	switch {
	case errors.As(err, &structural):
		status = "header_error"
	case errors.Is(err, ErrCanceled):
		status = "canceled"
	case err != nil:
		status = "failed"
	}
	metrics.ValidationJobsTotal.WithLabelValues(string(job.FileType), status).Inc()
	metrics.ValidationDurationSeconds.WithLabelValues(string(job.FileType), status).Observe(time.Since(start).Seconds())

	if err != nil {
		if structural != nil {
			log.Warn("file failed structural checks", "job_id", job.ID, "file_type", job.FileType, "error", err)
		}
		return res, err
	}

	metrics.FindingsTotal.WithLabelValues(string(job.FileType), string(models.SeverityFatal)).Add(float64(res.Errors))
	metrics.FindingsTotal.WithLabelValues(string(job.FileType), string(models.SeverityWarning)).Add(float64(res.Warnings))
	log.Info(
		"validation job finished",
		"job_id", job.ID,
		"file_type", job.FileType,
		"rows", res.Rows,
		"errors", res.Errors,
		"warnings", res.Warnings,
	)
	return res, nil
}

func (e *Engine) job(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := e.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// checkpoint is called at chunk boundaries. It fails when the context is
// done or when the job has been invalidated or superseded meanwhile.
func (e *Engine) checkpoint(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := e.job(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status == models.JobStatusInvalid || current.SupersededAt != nil {
		return ErrCanceled
	}
	return nil
}

// discard drops partial output of a canceled run.
func (e *Engine) discard(job *models.Job) {
	if err := e.store.ClearJob(context.Background(), job); err != nil {
		log.Error("failed to discard partial validation output", "job_id", job.ID, "error", err)
	}
}

// finish writes the reports and, in one transaction, the findings and job
// counters.
func (e *Engine) finish(ctx context.Context, job *models.Job, agg *aggregator, res *Result, cross bool) (*Result, error) {
	sid := job.SubmissionID.String()
	write := report.WriteSingle
	errName := report.Name(sid, string(job.FileType), false)
	warnName := report.Name(sid, string(job.FileType), true)
	if cross {
		write = report.WriteCross
		errName = report.CrossName(sid, string(job.SourceFileType), string(job.TargetFileType), false)
		warnName = report.CrossName(sid, string(job.SourceFileType), string(job.TargetFileType), true)
	}

	for _, out := range []struct {
		name  string
		lines []report.Line
	}{
		{errName, agg.errors},
		{warnName, agg.warnings},
	} {
		var buf bytes.Buffer
		if err := write(&buf, out.lines); err != nil {
			return nil, err
		}
		key := storage.ReportKey(job.SubmissionID, out.name)
		if err := e.files.Put(ctx, key, &buf, int64(buf.Len())); err != nil {
			return nil, fmt.Errorf("write report %s: %w", out.name, err)
		}
		res.Reports = append(res.Reports, key)
	}

	res.Errors, res.Warnings = agg.totals()
	if !cross {
		res.ValidRows = res.Rows - len(agg.fatalRows)
	}

	findings := agg.findings(job, e.now())
	err := e.store.Tx(ctx, func(tx *staging.Store) error {
		if err := tx.InsertFindings(ctx, findings); err != nil {
			return err
		}
		return tx.DB().Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"number_of_rows":       res.Rows,
			"number_of_rows_valid": res.ValidRows,
			"number_of_errors":     res.Errors,
			"number_of_warnings":   res.Warnings,
			"file_status":          res.FileStatus,
			"updated_at":           e.now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// stamp records a header error outcome on the job.
func (e *Engine) stamp(ctx context.Context, job *models.Job, rows int) error {
	return e.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"number_of_rows":       rows,
		"number_of_rows_valid": 0,
		"number_of_errors":     0,
		"number_of_warnings":   0,
		"file_status":          models.FileStatusHeaderError,
		"updated_at":           e.now(),
	}).Error
}
