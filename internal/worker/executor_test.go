package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fedspend/broker/internal/engine"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/internal/submission"
	"github.com/fedspend/broker/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type validatorFunc func(ctx context.Context, jobID uuid.UUID) (*engine.Result, error)

func (f validatorFunc) ValidateJob(ctx context.Context, jobID uuid.UUID) (*engine.Result, error) {
	return f(ctx, jobID)
}

type executorHarness struct {
	db      *gorm.DB
	files   storage.FileStore
	manager *submission.Manager
	sub     *models.Submission
}

func newExecutorHarness(t *testing.T) *executorHarness {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	manager := submission.New(db, files)
	sub, err := manager.CreateSubmission(context.Background(), submission.CreateRequest{
		CGACCode:     testutil.AgencyCGAC,
		FiscalYear:   2024,
		FiscalPeriod: 6,
	})
	require.NoError(t, err)

	return &executorHarness{db: db, files: files, manager: manager, sub: sub}
}

// claimA uploads content as file A and claims its validation job.
func (h *executorHarness) claimA(t *testing.T, content string) *models.Job {
	t.Helper()

	jobs, err := h.manager.ListJobs(context.Background(), h.sub.ID)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.FileType == models.FileTypeAppropriations && j.JobType == models.JobTypeUpload {
			_, err := h.manager.UploadFileContent(context.Background(), j.ID, "a.csv", strings.NewReader(content), int64(len(content)))
			require.NoError(t, err)
		}
	}

	claimed, err := NewClaimer("node-a", h.db, time.Minute).ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, models.FileTypeAppropriations, claimed.FileType)
	return claimed
}

func (h *executorHarness) reload(t *testing.T, id uuid.UUID) models.Job {
	t.Helper()
	var job models.Job
	require.NoError(t, h.db.First(&job, "id = ?", id).Error)
	return job
}

func (h *executorHarness) execute(job *models.Job, maxAttempts int, v validatorFunc) {
	NewValidationExecutor(h.db, v, h.manager, "node-a", time.Minute, maxAttempts)(context.Background(), job)
}

func TestExecutorFinishesSuccessfulJob(t *testing.T) {
	h := newExecutorHarness(t)
	job := h.claimA(t, "x")

	h.execute(job, 3, func(_ context.Context, id uuid.UUID) (*engine.Result, error) {
		return &engine.Result{JobID: id, Rows: 1, ValidRows: 1}, nil
	})

	got := h.reload(t, job.ID)
	assert.Equal(t, models.JobStatusFinished, got.Status)
	assert.Empty(t, got.ClaimedBy)
	assert.NotNil(t, got.CompletedAt)
}

func TestExecutorInvalidatesStructuralFailure(t *testing.T) {
	h := newExecutorHarness(t)
	job := h.claimA(t, "x")

	h.execute(job, 3, func(context.Context, uuid.UUID) (*engine.Result, error) {
		return nil, &engine.StructuralError{Missing: []string{"AgencyIdentifier"}}
	})

	got := h.reload(t, job.ID)
	assert.Equal(t, models.JobStatusInvalid, got.Status)
	assert.Contains(t, got.ErrorMessage, "AgencyIdentifier")
}

func TestExecutorRetriesThenFails(t *testing.T) {
	h := newExecutorHarness(t)
	job := h.claimA(t, "x")
	boom := func(context.Context, uuid.UUID) (*engine.Result, error) {
		return nil, errors.New("connection reset")
	}

	h.execute(job, 2, boom)
	got := h.reload(t, job.ID)
	assert.Equal(t, models.JobStatusReady, got.Status)
	assert.Contains(t, got.ErrorMessage, "attempt 1 failed")

	again, err := NewClaimer("node-b", h.db, time.Minute).ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, 2, again.ClaimAttempt)

	h.execute(again, 2, boom)
	got = h.reload(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "connection reset", got.ErrorMessage)
}

func TestExecutorLeavesCanceledJob(t *testing.T) {
	h := newExecutorHarness(t)
	job := h.claimA(t, "x")

	h.execute(job, 3, func(ctx context.Context, id uuid.UUID) (*engine.Result, error) {
		_, err := h.manager.CancelJob(ctx, id)
		require.NoError(t, err)
		return nil, engine.ErrCanceled
	})

	got := h.reload(t, job.ID)
	assert.Equal(t, models.JobStatusInvalid, got.Status)
	assert.Equal(t, "canceled", got.ErrorMessage)
}

func TestExecutorRunsEngine(t *testing.T) {
	h := newExecutorHarness(t)
	testutil.SeedReference(t, h.db)

	ref, err := reference.Load(context.Background(), h.db)
	require.NoError(t, err)
	rules, err := rule.Default()
	require.NoError(t, err)
	eng := engine.New(h.db, h.files, rules, ref)

	job := h.claimA(t, testutil.File(models.FileTypeAppropriations, map[string]string{
		"agency_identifier":      testutil.TASAgency,
		"availability_type_code": "X",
		"main_account_code":      testutil.TASMainAccount,
		"sub_account_code":       testutil.TASSubAccount,
	}))
	NewValidationExecutor(h.db, eng, h.manager, "node-a", time.Minute, 3)(context.Background(), job)

	got := h.reload(t, job.ID)
	assert.Equal(t, models.JobStatusFinished, got.Status)
	assert.Equal(t, 1, got.NumberOfRows)
	assert.Equal(t, models.FileStatusComplete, got.FileStatus)
	testutil.AssertCount(t, h.db, &models.Appropriation{}, 1)
}

func TestLeaseRenewInterval(t *testing.T) {
	assert.Equal(t, defaultLeaseRenewInterval, leaseRenewInterval(0))
	assert.Equal(t, minLeaseRenewInterval, leaseRenewInterval(time.Second))
	assert.Equal(t, 30*time.Second, leaseRenewInterval(time.Minute))
}
