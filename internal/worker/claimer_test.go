package worker

import (
	"context"
	"testing"
	"time"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClaimerClaimNextClaimsOldestReadyJob(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	now := time.Now().UTC()
	sub := uuid.New()
	waiting := seedJob(t, db, seedJobInput{
		submissionID: sub,
		fileType:     models.FileTypeAppropriations,
		status:       models.JobStatusWaiting,
		createdAt:    now.Add(-3 * time.Minute),
	})
	readyOlder := seedJob(t, db, seedJobInput{
		submissionID: sub,
		fileType:     models.FileTypeProgramActivity,
		status:       models.JobStatusReady,
		createdAt:    now.Add(-2 * time.Minute),
	})
	_ = seedJob(t, db, seedJobInput{
		submissionID: sub,
		fileType:     models.FileTypeAwardFinancial,
		status:       models.JobStatusReady,
		createdAt:    now.Add(-1 * time.Minute),
	})

	claimer := NewClaimer("node-a", db, 2*time.Minute)
	claimed, err := claimer.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, readyOlder.ID, claimed.ID)
	require.Equal(t, "node-a", claimed.ClaimedBy)
	require.Equal(t, 1, claimed.ClaimAttempt)
	require.Equal(t, models.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.ClaimExpiresAt)
	require.True(t, claimed.ClaimExpiresAt.After(now))
	require.NotNil(t, claimed.StartedAt)

	var persistedWaiting models.Job
	require.NoError(t, db.First(&persistedWaiting, "id = ?", waiting.ID).Error)
	require.Equal(t, models.JobStatusWaiting, persistedWaiting.Status)
}

func TestClaimerSkipsFileWithRunningJob(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	now := time.Now().UTC()
	sub := uuid.New()
	_ = seedJob(t, db, seedJobInput{
		submissionID: sub,
		fileType:     models.FileTypeFABS,
		jobType:      models.JobTypeUpload,
		status:       models.JobStatusRunning,
		createdAt:    now.Add(-3 * time.Minute),
	})
	_ = seedJob(t, db, seedJobInput{
		submissionID: sub,
		fileType:     models.FileTypeFABS,
		status:       models.JobStatusReady,
		createdAt:    now.Add(-2 * time.Minute),
	})
	other := seedJob(t, db, seedJobInput{
		submissionID: uuid.New(),
		fileType:     models.FileTypeFABS,
		status:       models.JobStatusReady,
		createdAt:    now.Add(-1 * time.Minute),
	})

	claimer := NewClaimer("node-a", db, time.Minute)
	claimed, err := claimer.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, other.ID, claimed.ID)

	claimed, err = claimer.ClaimNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestClaimerIgnoresUploadAndSupersededJobs(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	now := time.Now().UTC()
	_ = seedJob(t, db, seedJobInput{
		submissionID: uuid.New(),
		fileType:     models.FileTypeAppropriations,
		jobType:      models.JobTypeUpload,
		status:       models.JobStatusReady,
	})
	_ = seedJob(t, db, seedJobInput{
		submissionID: uuid.New(),
		fileType:     models.FileTypeAppropriations,
		status:       models.JobStatusReady,
		supersededAt: &now,
	})

	claimed, err := NewClaimer("node-a", db, time.Minute).ClaimNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestClaimerHonorsFileTypes(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	now := time.Now().UTC()
	_ = seedJob(t, db, seedJobInput{
		submissionID: uuid.New(),
		fileType:     models.FileTypeFABS,
		status:       models.JobStatusReady,
		createdAt:    now.Add(-2 * time.Minute),
	})
	cross := seedJob(t, db, seedJobInput{
		submissionID: uuid.New(),
		fileType:     models.FileTypeCross,
		jobType:      models.JobTypeCrossFileValidation,
		status:       models.JobStatusReady,
		createdAt:    now.Add(-1 * time.Minute),
	})

	claimer := NewClaimer("node-a", db, time.Minute, WithFileTypes(models.FileTypeCross))
	claimed, err := claimer.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, cross.ID, claimed.ID)
}

func TestClaimerClaimNextReturnsNilWhenNothingReady(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	_ = seedJob(t, db, seedJobInput{
		submissionID: uuid.New(),
		fileType:     models.FileTypeAppropriations,
		status:       models.JobStatusRunning,
	})

	claimer := NewClaimer("node-a", db, time.Minute)
	claimed, err := claimer.ClaimNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestClaimerReclaimExpiredResetsStaleRunningJobs(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	now := time.Now().UTC()
	expired := seedJob(t, db, seedJobInput{
		submissionID:   uuid.New(),
		fileType:       models.FileTypeAppropriations,
		status:         models.JobStatusRunning,
		claimedBy:      "node-old",
		claimExpiresAt: ptrTime(now.Add(-time.Minute)),
		claimAttempt:   2,
	})
	live := seedJob(t, db, seedJobInput{
		submissionID:   uuid.New(),
		fileType:       models.FileTypeAppropriations,
		status:         models.JobStatusRunning,
		claimedBy:      "node-live",
		claimExpiresAt: ptrTime(now.Add(2 * time.Minute)),
		claimAttempt:   1,
	})
	require.NoError(t, db.Create(&models.ErrorMetadata{
		ID:           uuid.New(),
		JobID:        expired.ID,
		SubmissionID: expired.SubmissionID,
		FileType:     expired.FileType,
		RuleLabel:    "A1",
		Severity:     models.SeverityFatal,
		ErrorType:    models.ErrorTypeRule,
		Occurrences:  1,
		FirstRow:     2,
		CreatedAt:    now,
	}).Error)

	claimer := NewClaimer("node-a", db, time.Minute)
	require.NoError(t, claimer.ReclaimExpired(context.Background()))

	var stale models.Job
	require.NoError(t, db.First(&stale, "id = ?", expired.ID).Error)
	require.Equal(t, models.JobStatusReady, stale.Status)
	require.Equal(t, "", stale.ClaimedBy)
	require.Nil(t, stale.ClaimExpiresAt)
	require.Equal(t, 2, stale.ClaimAttempt)
	testutil.AssertCount(t, db, &models.ErrorMetadata{}, 0)

	var running models.Job
	require.NoError(t, db.First(&running, "id = ?", live.ID).Error)
	require.Equal(t, models.JobStatusRunning, running.Status)
	require.Equal(t, "node-live", running.ClaimedBy)

	claimed, err := claimer.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, expired.ID, claimed.ID)
	require.Equal(t, 3, claimed.ClaimAttempt)
}

func TestParseFileTypes(t *testing.T) {
	require.Equal(t,
		[]models.FileType{models.FileTypeFABS, models.FileTypeAppropriations, models.FileTypeAward},
		ParseFileTypes("fabs, A,,D2,bogus"),
	)
	require.Empty(t, ParseFileTypes(""))
}

type seedJobInput struct {
	submissionID   uuid.UUID
	fileType       models.FileType
	jobType        models.JobType
	status         models.JobStatus
	claimedBy      string
	claimExpiresAt *time.Time
	claimAttempt   int
	supersededAt   *time.Time
	createdAt      time.Time
}

func seedJob(t *testing.T, db *gorm.DB, in seedJobInput) *models.Job {
	t.Helper()

	if in.createdAt.IsZero() {
		in.createdAt = time.Now().UTC()
	}
	if in.jobType == "" {
		in.jobType = models.JobTypeCSVRecordValidation
	}

	record := &models.Job{
		ID:             uuid.New(),
		SubmissionID:   in.submissionID,
		FileType:       in.fileType,
		JobType:        in.jobType,
		Status:         in.status,
		ClaimedBy:      in.claimedBy,
		ClaimExpiresAt: in.claimExpiresAt,
		ClaimAttempt:   in.claimAttempt,
		SupersededAt:   in.supersededAt,
		CreatedAt:      in.createdAt,
		UpdatedAt:      in.createdAt,
	}

	require.NoError(t, db.Create(record).Error)
	return record
}

func ptrTime(v time.Time) *time.Time {
	return &v
}
