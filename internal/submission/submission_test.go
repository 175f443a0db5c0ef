package submission

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fedspend/broker/internal/derive"
	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/internal/testutil"
	"github.com/fedspend/broker/pkg/jsonmap"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	db    *gorm.DB
	files storage.FileStore
	bus   event.Bus
	m     *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })
	testutil.SeedReference(t, db)

	ref, err := reference.Load(context.Background(), db)
	require.NoError(t, err)
	pipeline, err := derive.Default(derive.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	bus := event.New()
	return &harness{
		db:    db,
		files: files,
		bus:   bus,
		m: New(db, files,
			WithBus(bus),
			WithDerivation(pipeline, ref),
			WithClock(func() time.Time { return clock }),
		),
	}
}

func (h *harness) create(t *testing.T, fabs bool) *models.Submission {
	t.Helper()
	sub, err := h.m.CreateSubmission(context.Background(), CreateRequest{
		CGACCode:     testutil.AgencyCGAC,
		FiscalYear:   2024,
		FiscalPeriod: 6,
		FABS:         fabs,
	})
	require.NoError(t, err)
	return sub
}

func (h *harness) jobs(t *testing.T, sub *models.Submission) []models.Job {
	t.Helper()
	jobs, err := h.m.ListJobs(context.Background(), sub.ID)
	require.NoError(t, err)
	return jobs
}

func (h *harness) job(t *testing.T, sub *models.Submission, ft models.FileType, jt models.JobType) models.Job {
	t.Helper()
	for _, j := range h.jobs(t, sub) {
		if j.FileType == ft && j.JobType == jt {
			return j
		}
	}
	t.Fatalf("no %s %s job", ft, jt)
	return models.Job{}
}

func (h *harness) cross(t *testing.T, sub *models.Submission, source, target models.FileType) models.Job {
	t.Helper()
	for _, j := range h.jobs(t, sub) {
		if j.JobType == models.JobTypeCrossFileValidation && j.SourceFileType == source && j.TargetFileType == target {
			return j
		}
	}
	t.Fatalf("no %s/%s cross job", source, target)
	return models.Job{}
}

func (h *harness) upload(t *testing.T, jobID uuid.UUID) *models.Job {
	t.Helper()
	job, err := h.m.UploadFileContent(context.Background(), jobID, "file.csv", strings.NewReader("header\n"), 7)
	require.NoError(t, err)
	return job
}

func (h *harness) run(t *testing.T, jobID uuid.UUID) {
	t.Helper()
	_, err := h.m.Transition(context.Background(), jobID, models.JobStatusRunning, "")
	require.NoError(t, err)
	_, err = h.m.Transition(context.Background(), jobID, models.JobStatusFinished, "")
	require.NoError(t, err)
}

// complete drives every current job of the submission to finished.
func (h *harness) complete(t *testing.T, sub *models.Submission) {
	t.Helper()
	for pass := 0; pass < 5; pass++ {
		done := true
		for _, j := range h.jobs(t, sub) {
			if j.Status == models.JobStatusFinished {
				continue
			}
			done = false
			if j.Status != models.JobStatusReady {
				continue
			}
			if j.JobType == models.JobTypeUpload {
				h.upload(t, j.ID)
			} else {
				h.run(t, j.ID)
			}
		}
		if done {
			return
		}
	}
	t.Fatalf("jobs of submission %s did not finish", sub.ID)
}

func (h *harness) reload(t *testing.T, sub *models.Submission) *models.Submission {
	t.Helper()
	got, err := h.m.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	return got
}

func fabsFields(fain string, cdi string) models.FABSFields {
	rt := 2
	obligation := 1000.0
	return models.FABSFields{
		ActionDate:                "2015-05-01",
		ActionType:                "A",
		AssistanceType:            "02",
		AwardModificationAmendme:  "0",
		UEI:                       testutil.RegisteredUEI,
		AwardingOfficeCode:        testutil.AwardingOffice,
		AwardingSubTierAgencyCode: testutil.SubTier,
		BusinessTypes:             "A",
		CFDANumber:                testutil.CFDA,
		CorrectionDeleteIndicator: cdi,
		FAIN:                      fain,
		FederalActionObligation:   &obligation,
		FundingOfficeCode:         testutil.FundingOffice,
		FundingSubTierAgencyCode:  testutil.SubTier,
		LegalEntityCountryCode:    "USA",
		LegalEntityZip5:           "12345",
		LegalEntityZipLast4:       "0001",
		PlaceOfPerformanceCode:    "NY*****",
		PlaceOfPerformanceCountry: "USA",
		RecordType:                &rt,
	}
}

// stage writes validated FABS rows for the submission's validation job.
func (h *harness) stage(t *testing.T, sub *models.Submission, rows ...models.FABSFields) {
	t.Helper()
	job := h.job(t, sub, models.FileTypeFABS, models.JobTypeCSVRecordValidation)
	for i, f := range rows {
		require.NoError(t, h.db.Create(&models.FABS{
			StagedRow:          models.StagedRow{SubmissionID: sub.ID, JobID: job.ID, RowNumber: i + 2},
			FABSFields:         f,
			AFAGeneratedUnique: f.Key(),
		}).Error)
	}
}

func (h *harness) published(t *testing.T, f models.FABSFields) *models.PublishedFABS {
	t.Helper()
	other := testutil.NewSubmission(t, h.db, true)
	row := &models.PublishedFABS{
		SubmissionID:       other.ID,
		RowNumber:          2,
		FABSFields:         f,
		AFAGeneratedUnique: f.Key(),
		UniqueAwardKey:     models.UniqueAwardKey(f),
		IsActive:           true,
		CreatedAt:          clock.Add(-time.Hour),
	}
	require.NoError(t, h.db.Create(row).Error)
	return row
}

func TestCreateDABSSubmissionBuildsJobGraph(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	jobs := h.jobs(t, sub)
	require.Len(t, jobs, 8)

	counts := map[models.JobType]int{}
	for _, j := range jobs {
		counts[j.JobType]++
		switch j.JobType {
		case models.JobTypeUpload:
			assert.Equal(t, models.JobStatusReady, j.Status)
		default:
			assert.Equal(t, models.JobStatusWaiting, j.Status)
		}
	}
	assert.Equal(t, 3, counts[models.JobTypeUpload])
	assert.Equal(t, 3, counts[models.JobTypeCSVRecordValidation])
	assert.Equal(t, 2, counts[models.JobTypeCrossFileValidation])

	h.cross(t, sub, models.FileTypeAppropriations, models.FileTypeProgramActivity)
	h.cross(t, sub, models.FileTypeProgramActivity, models.FileTypeAwardFinancial)
	testutil.AssertCount(t, h.db, &models.JobDependency{}, 7)
	assert.False(t, h.reload(t, sub).Publishable)
}

func TestCreateFABSSubmission(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, true)

	jobs := h.jobs(t, sub)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, models.FileTypeFABS, j.FileType)
	}
}

func TestCreateSubmissionValidatesRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.m.CreateSubmission(context.Background(), CreateRequest{FiscalYear: 2024, FiscalPeriod: 3})
	require.Error(t, err)
	_, err = h.m.CreateSubmission(context.Background(), CreateRequest{CGACCode: "012", FiscalYear: 2024, FiscalPeriod: 13})
	require.Error(t, err)
}

func TestUploadReadiesValidation(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	upload := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeUpload)
	done := h.upload(t, upload.ID)
	assert.Equal(t, models.JobStatusFinished, done.Status)
	assert.NotNil(t, done.CompletedAt)

	validation := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation)
	assert.Equal(t, models.JobStatusReady, validation.Status)
	assert.Equal(t, storage.UploadKey(sub.ID, upload.ID, "file.csv"), validation.Filename)
	assert.Equal(t, "file.csv", validation.OriginalFilename)

	rc, err := h.files.Get(context.Background(), validation.Filename)
	require.NoError(t, err)
	rc.Close()

	other := h.job(t, sub, models.FileTypeProgramActivity, models.JobTypeCSVRecordValidation)
	assert.Equal(t, models.JobStatusWaiting, other.Status)
}

func TestUploadIsLockedWhileRunning(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	upload := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeUpload)
	_, err := h.m.Transition(context.Background(), upload.ID, models.JobStatusRunning, "")
	require.NoError(t, err)

	_, err = h.m.UploadFileContent(context.Background(), upload.ID, "a.csv", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrJobLocked)
}

// cancelingStore cancels the upload's context once the content is stored,
// so the completing transaction cannot run.
type cancelingStore struct {
	storage.FileStore
	cancel context.CancelFunc
}

func (s cancelingStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	defer s.cancel()
	return s.FileStore.Put(ctx, key, r, size)
}

func TestUploadReleasesLockWhenCompletionFails(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)
	upload := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeUpload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New(h.db, cancelingStore{FileStore: h.files, cancel: cancel})
	_, err := m.UploadFileContent(ctx, upload.ID, "a.csv", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, context.Canceled)

	released := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeUpload)
	assert.Equal(t, models.JobStatusReady, released.Status)

	done := h.upload(t, upload.ID)
	assert.Equal(t, models.JobStatusFinished, done.Status)
}

func TestUploadRejectsValidationJob(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	validation := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation)
	_, err := h.m.UploadFileContent(context.Background(), validation.ID, "a.csv", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCrossJobWaitsForBothFiles(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	for _, ft := range []models.FileType{models.FileTypeAppropriations, models.FileTypeProgramActivity} {
		h.upload(t, h.job(t, sub, ft, models.JobTypeUpload).ID)
	}

	h.run(t, h.job(t, sub, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation).ID)
	assert.Equal(t, models.JobStatusWaiting, h.cross(t, sub, models.FileTypeAppropriations, models.FileTypeProgramActivity).Status)

	h.run(t, h.job(t, sub, models.FileTypeProgramActivity, models.JobTypeCSVRecordValidation).ID)
	assert.Equal(t, models.JobStatusReady, h.cross(t, sub, models.FileTypeAppropriations, models.FileTypeProgramActivity).Status)
	assert.Equal(t, models.JobStatusWaiting, h.cross(t, sub, models.FileTypeProgramActivity, models.FileTypeAwardFinancial).Status)
}

func TestAttachFileSupersedesPreviousJobs(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	oldUpload := h.job(t, sub, models.FileTypeProgramActivity, models.JobTypeUpload)
	oldCross := h.cross(t, sub, models.FileTypeAppropriations, models.FileTypeProgramActivity)

	upload, err := h.m.AttachFile(context.Background(), sub.ID, models.FileTypeProgramActivity, "b.csv")
	require.NoError(t, err)
	assert.Equal(t, "b.csv", upload.OriginalFilename)

	jobs := h.jobs(t, sub)
	require.Len(t, jobs, 8)
	for _, j := range jobs {
		assert.NotEqual(t, oldUpload.ID, j.ID)
		assert.NotEqual(t, oldCross.ID, j.ID)
	}

	var old models.Job
	require.NoError(t, h.db.First(&old, "id = ?", oldCross.ID).Error)
	assert.Equal(t, models.JobStatusInvalid, old.Status)
	assert.NotNil(t, old.SupersededAt)

	assert.NotEqual(t, oldCross.ID, h.cross(t, sub, models.FileTypeAppropriations, models.FileTypeProgramActivity).ID)
	testutil.AssertCount(t, h.db, &models.Job{}, 12)
}

func TestAttachProcurementAddsCrossJob(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	_, err := h.m.AttachFile(context.Background(), sub.ID, models.FileTypeAwardProcurement, "d1.csv")
	require.NoError(t, err)

	require.Len(t, h.jobs(t, sub), 11)
	cross := h.cross(t, sub, models.FileTypeAwardFinancial, models.FileTypeAwardProcurement)
	assert.Equal(t, models.JobStatusWaiting, cross.Status)
}

func TestAttachExecutiveCompensationIsUploadOnly(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	upload, err := h.m.AttachFile(context.Background(), sub.ID, models.FileTypeExecutiveCompensation, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeUpload, upload.JobType)
	require.Len(t, h.jobs(t, sub), 9)
}

func TestAttachRejectsOtherFamily(t *testing.T) {
	h := newHarness(t)
	dabs := h.create(t, false)
	fabs := h.create(t, true)

	_, err := h.m.AttachFile(context.Background(), dabs.ID, models.FileTypeFABS, "")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = h.m.AttachFile(context.Background(), fabs.ID, models.FileTypeAppropriations, "")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = h.m.AttachFile(context.Background(), uuid.New(), models.FileTypeAppropriations, "")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	validation := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation)
	_, err := h.m.Transition(context.Background(), validation.ID, models.JobStatusRunning, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.m.Transition(context.Background(), uuid.New(), models.JobStatusReady, "")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelJob(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	validation := h.job(t, sub, models.FileTypeAppropriations, models.JobTypeCSVRecordValidation)
	job, err := h.m.CancelJob(context.Background(), validation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInvalid, job.Status)
	assert.Equal(t, "canceled", job.ErrorMessage)

	_, err = h.m.CancelJob(context.Background(), validation.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReattachClearsPublishable(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)
	h.complete(t, sub)
	require.True(t, h.reload(t, sub).Publishable)

	_, err := h.m.AttachFile(context.Background(), sub.ID, models.FileTypeAppropriations, "")
	require.NoError(t, err)
	assert.False(t, h.reload(t, sub).Publishable)
}

func TestPublishRequiresPublishable(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrNotPublishable)
	assert.False(t, h.reload(t, sub).Publishing)
}

func TestFatalFindingsBlockPublication(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)
	h.complete(t, sub)

	validation := h.job(t, sub, models.FileTypeAwardFinancial, models.JobTypeCSVRecordValidation)
	require.NoError(t, h.db.Model(&models.Job{}).Where("id = ?", validation.ID).Update("number_of_errors", 3).Error)

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrNotPublishable)
}

func TestPublishInProgressIsRejected(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)
	require.NoError(t, h.db.Model(&models.Submission{}).Where("id = ?", sub.ID).Update("publishing", true).Error)

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrPublishInProgress)

	_, err = h.m.PublishSubmission(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestDABSPublishLifecycle(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, false)
	h.complete(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.bus.Subscribe(ctx, event.Filter{SubmissionID: sub.ID, Types: []event.Type{event.TypeSubmissionPublished}})
	require.NoError(t, err)

	published, err := h.m.PublishSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublishStatusPublished, published.PublishStatus)
	assert.False(t, published.Publishing)
	require.NotNil(t, published.PublishedAt)

	select {
	case e := <-events:
		assert.Equal(t, event.TypeSubmissionPublished, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no publication event")
	}

	var history []models.PublishHistory
	require.NoError(t, h.db.Where("submission_id = ?", sub.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, "publish", history[0].Action)
	counts, err := jsonmap.ToCounts(history[0].FileRowCounts)
	require.NoError(t, err)
	for _, letter := range []string{"A", "B", "C", "D1", "D2"} {
		assert.Contains(t, counts, letter)
	}

	_, err = h.m.PublishSubmission(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrAlreadyPublished)

	upload, err := h.m.AttachFile(context.Background(), sub.ID, models.FileTypeAppropriations, "")
	require.NoError(t, err)
	h.upload(t, upload.ID)
	assert.Equal(t, models.PublishStatusUpdated, h.reload(t, sub).PublishStatus)

	unpublished, err := h.m.UnpublishSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublishStatusUnpublished, unpublished.PublishStatus)
	assert.False(t, unpublished.Publishing)

	_, err = h.m.UnpublishSubmission(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	testutil.AssertCount(t, h.db, &models.PublishHistory{}, 2)
}

func TestFABSPublishPromotesAndDerives(t *testing.T) {
	h := newHarness(t)
	sub := h.create(t, true)
	h.complete(t, sub)
	h.stage(t, sub, fabsFields("F1", ""), fabsFields("F2", ""))

	published, err := h.m.PublishSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublishStatusPublished, published.PublishStatus)

	var rows []models.PublishedFABS
	require.NoError(t, h.db.Where("submission_id = ?", sub.ID).Order("row_number").Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.True(t, r.IsActive)
		assert.Equal(t, testutil.AgencyCGAC, r.AwardingAgencyCode)
		assert.Equal(t, "State-wide", r.PlaceOfPerformanceScope)
		require.NotNil(t, r.ModifiedAt)
		assert.True(t, clock.Equal(*r.ModifiedAt))
	}
	assert.Equal(t, "ASST_NON_F1_ABCD", rows[0].UniqueAwardKey)

	_, err = h.m.UnpublishSubmission(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = h.m.AttachFile(context.Background(), sub.ID, models.FileTypeFABS, "")
	assert.ErrorIs(t, err, ErrAlreadyPublished)
}

func TestFABSPublishRejectsPublishedKey(t *testing.T) {
	h := newHarness(t)
	h.published(t, fabsFields("F1", ""))

	sub := h.create(t, true)
	h.complete(t, sub)
	lower := fabsFields("f1", "")
	h.stage(t, sub, fabsFields("F9", ""), lower)

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	var violation *UniquenessViolation
	require.True(t, errors.As(err, &violation))
	assert.Len(t, violation.Keys, 1)

	job := h.job(t, sub, models.FileTypeFABS, models.JobTypeCSVRecordValidation)
	var findings []models.ErrorMetadata
	require.NoError(t, h.db.Where("job_id = ?", job.ID).Find(&findings).Error)
	require.Len(t, findings, 1)
	assert.Equal(t, "FABS2.2.1", findings[0].RuleLabel)
	assert.Equal(t, "2.2.1", findings[0].OriginalRuleLabel)
	assert.Equal(t, models.SeverityFatal, findings[0].Severity)
	assert.Equal(t, 3, findings[0].FirstRow)
	assert.Equal(t, 1, findings[0].Occurrences)
	assert.Equal(t, 1, job.NumberOfErrors)

	got := h.reload(t, sub)
	assert.False(t, got.Publishable)
	assert.Equal(t, models.PublishStatusUnpublished, got.PublishStatus)
	testutil.AssertCount(t, h.db, &models.PublishedFABS{}, 1)
}

func TestFABSCorrectionReplacesActiveRow(t *testing.T) {
	h := newHarness(t)
	old := h.published(t, fabsFields("F1", ""))

	sub := h.create(t, true)
	h.complete(t, sub)
	h.stage(t, sub, fabsFields("F1", "C"))

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	require.NoError(t, err)

	var prior models.PublishedFABS
	require.NoError(t, h.db.First(&prior, old.ID).Error)
	assert.False(t, prior.IsActive)

	var active []models.PublishedFABS
	require.NoError(t, h.db.Where("afa_generated_unique = ? AND is_active = ?", old.AFAGeneratedUnique, true).Find(&active).Error)
	require.Len(t, active, 1)
	assert.Equal(t, sub.ID, active[0].SubmissionID)
}

func TestFABSCorrectionInheritsOfficesOfReplacedRow(t *testing.T) {
	h := newHarness(t)
	h.published(t, fabsFields("F1", ""))

	correction := fabsFields("F1", "C")
	correction.AwardingOfficeCode = ""
	correction.FundingOfficeCode = ""
	sub := h.create(t, true)
	h.complete(t, sub)
	h.stage(t, sub, correction)

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	require.NoError(t, err)

	var got models.PublishedFABS
	require.NoError(t, h.db.Where("submission_id = ?", sub.ID).First(&got).Error)
	assert.True(t, got.IsActive)
	assert.Equal(t, testutil.AwardingOffice, got.AwardingOfficeCode)
	assert.Equal(t, testutil.FundingOffice, got.FundingOfficeCode)
	assert.Equal(t, "Awarding Office", got.AwardingOfficeName)
}

func TestFABSDeleteDeactivatesWithoutReplacement(t *testing.T) {
	h := newHarness(t)
	old := h.published(t, fabsFields("F1", ""))

	sub := h.create(t, true)
	h.complete(t, sub)
	h.stage(t, sub, fabsFields("F1", "D"))

	_, err := h.m.PublishSubmission(context.Background(), sub.ID)
	require.NoError(t, err)

	var rows []models.PublishedFABS
	require.NoError(t, h.db.Where("afa_generated_unique = ?", old.AFAGeneratedUnique).Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.False(t, r.IsActive)
	}
}

func TestPurgeRemovesStaleTestSubmissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	create := func(test bool, age time.Duration) *models.Submission {
		sub, err := h.m.CreateSubmission(ctx, CreateRequest{CGACCode: "012", FABS: true, Test: test})
		require.NoError(t, err)
		require.NoError(t, h.db.Model(&models.Submission{}).Where("id = ?", sub.ID).Update("updated_at", clock.Add(-age)).Error)
		return sub
	}
	stale := create(true, 5000*time.Hour)
	create(true, time.Hour)
	create(false, 5000*time.Hour)

	key := storage.ReportKey(stale.ID, "report.csv")
	require.NoError(t, h.files.Put(ctx, key, strings.NewReader("x"), 1))
	h.stage(t, stale, fabsFields("F1", ""))

	n, err := h.m.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.m.GetSubmission(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
	testutil.AssertCount(t, h.db, &models.Submission{}, 2)
	testutil.AssertCount(t, h.db, &models.Job{}, 4)
	testutil.AssertCount(t, h.db, &models.JobDependency{}, 2)
	testutil.AssertCount(t, h.db, &models.FABS{}, 0)

	_, err = h.files.Get(ctx, key)
	assert.Error(t, err)

	n, err = h.m.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
