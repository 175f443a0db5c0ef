package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"testing"
	"time"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/report"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/internal/schema"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	db     *gorm.DB
	files  storage.FileStore
	engine *Engine
	store  *staging.Store
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })
	testutil.SeedReference(t, db)

	ref, err := reference.Load(context.Background(), db)
	require.NoError(t, err)
	rules, err := rule.Default()
	require.NoError(t, err)
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	return &harness{
		db:     db,
		files:  files,
		engine: New(db, files, rules, ref, WithConfig(cfg)),
		store:  staging.New(db),
	}
}

func (h *harness) validate(t *testing.T, job *models.Job) *Result {
	t.Helper()
	res, err := h.engine.ValidateJob(context.Background(), job.ID)
	require.NoError(t, err)
	return res
}

func (h *harness) findings(t *testing.T, job *models.Job, label string) []models.ErrorMetadata {
	t.Helper()
	all, err := h.store.Findings(context.Background(), job.ID)
	require.NoError(t, err)
	var out []models.ErrorMetadata
	for _, f := range all {
		if f.RuleLabel == label {
			out = append(out, f)
		}
	}
	return out
}

func (h *harness) report(t *testing.T, key string) [][]string {
	t.Helper()
	rc, err := h.files.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func tasRow(values map[string]string) map[string]string {
	row := map[string]string{
		"agency_identifier":      testutil.TASAgency,
		"availability_type_code": "X",
		"main_account_code":      testutil.TASMainAccount,
		"sub_account_code":       testutil.TASSubAccount,
	}
	for k, v := range values {
		row[k] = v
	}
	return row
}

// stageAB validates one A row and the given B rows, returning the cross job.
func stageAB(t *testing.T, h *harness, a map[string]string, b ...map[string]string) *models.Job {
	t.Helper()
	sub := testutil.NewSubmission(t, h.db, false)

	bRows := make([]map[string]string, len(b))
	for i, row := range b {
		bRows[i] = tasRow(row)
	}
	aJob := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations,
		testutil.File(models.FileTypeAppropriations, tasRow(a)))
	bJob := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeProgramActivity,
		testutil.File(models.FileTypeProgramActivity, bRows...))
	h.validate(t, aJob)
	h.validate(t, bJob)

	return testutil.NewCrossJob(t, h.db, sub, models.FileTypeAppropriations, models.FileTypeProgramActivity)
}

func TestA18GrossOutlayMatch(t *testing.T) {
	h := newHarness(t, Config{})

	cross := stageAB(t, h,
		map[string]string{"gross_outlay_amount_by_tas_cpe": "10.0"},
		map[string]string{"gross_outlay_amount_by_pro_cpe": "6.0"},
		map[string]string{"gross_outlay_amount_by_pro_cpe": "4.0"},
	)
	h.validate(t, cross)
	assert.Empty(t, h.findings(t, cross, "A18"))
}

func TestA18GrossOutlayDifference(t *testing.T) {
	h := newHarness(t, Config{})

	cross := stageAB(t, h,
		map[string]string{"gross_outlay_amount_by_tas_cpe": "10.5"},
		map[string]string{"gross_outlay_amount_by_pro_cpe": "6.0"},
		map[string]string{"gross_outlay_amount_by_pro_cpe": "4.0"},
	)
	res := h.validate(t, cross)

	found := h.findings(t, cross, "A18")
	require.Len(t, found, 1)
	assert.Equal(t, models.SeverityWarning, found[0].Severity)
	assert.Equal(t, 1, found[0].Occurrences)
	assert.Equal(t, 2, found[0].FirstRow)
	assert.Equal(t, models.FileTypeAppropriations, found[0].FileType)
	assert.Equal(t, models.FileTypeProgramActivity, found[0].TargetFileType)
	assert.Equal(t, "gross_outlay_amount_by_pro_cpe", found[0].TargetFieldNames)

	var warnings [][]string
	for _, key := range res.Reports {
		records := h.report(t, key)
		require.Equal(t, report.CrossFileHeader, records[0])
		for _, line := range records[1:] {
			if line[11] == "A18" {
				warnings = append(warnings, line)
			}
		}
	}
	require.Len(t, warnings, 1)
	assert.Equal(t, "A", warnings[0][1])
	assert.Equal(t, "B", warnings[0][3])
	assert.Equal(t, "gross_outlay_amount_by_tas_cpe: 10.5", warnings[0][6])
	assert.Equal(t, "gross_outlay_amount_by_pro_cpe: 10", warnings[0][7])
	assert.Equal(t, "0.5", warnings[0][8])
	assert.Equal(t, "2", warnings[0][10])
}

func TestSetRuleReportsSubmittedText(t *testing.T) {
	h := newHarness(t, Config{})

	cross := stageAB(t, h,
		map[string]string{"gross_outlay_amount_by_tas_cpe": "1,000.50"},
		map[string]string{"gross_outlay_amount_by_pro_cpe": "6.0"},
	)
	res := h.validate(t, cross)
	require.Len(t, h.findings(t, cross, "A18"), 1)

	var provided []string
	for _, key := range res.Reports {
		for _, line := range h.report(t, key)[1:] {
			if line[11] == "A18" {
				provided = append(provided, line[6])
			}
		}
	}
	assert.Equal(t, []string{"gross_outlay_amount_by_tas_cpe: 1,000.50"}, provided)
}

// stageCD2 validates the given C and D2 rows, returning the cross job.
func stageCD2(t *testing.T, h *harness, c []map[string]string, d2 []map[string]string) *models.Job {
	t.Helper()
	sub := testutil.NewSubmission(t, h.db, false)

	cRows := make([]map[string]string, len(c))
	for i, row := range c {
		cRows[i] = tasRow(row)
	}
	cJob := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAwardFinancial,
		testutil.File(models.FileTypeAwardFinancial, cRows...))
	dJob := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAward,
		testutil.File(models.FileTypeAward, d2...))
	h.validate(t, cJob)
	h.validate(t, dJob)

	return testutil.NewCrossJob(t, h.db, sub, models.FileTypeAwardFinancial, models.FileTypeAward)
}

func TestAwardIdentifiersMatchByURIWhenFAINBlank(t *testing.T) {
	h := newHarness(t, Config{})

	cross := stageCD2(t, h,
		[]map[string]string{
			{"fain": "F1"},
			{"uri": "u1"},
			{"uri": "U9"},
		},
		[]map[string]string{
			{"fain": "f1", "federal_action_obligation": "5"},
			{"uri": "U1", "federal_action_obligation": "5"},
			{"uri": "U7", "federal_action_obligation": "5"},
			{"uri": "U8", "federal_action_obligation": "0"},
		},
	)
	h.validate(t, cross)

	c8 := h.findings(t, cross, "C8")
	require.Len(t, c8, 1)
	assert.Equal(t, 1, c8[0].Occurrences)
	assert.Equal(t, 4, c8[0].FirstRow)
	assert.Equal(t, models.FileTypeAwardFinancial, c8[0].FileType)

	c9 := h.findings(t, cross, "C9")
	require.Len(t, c9, 1)
	assert.Equal(t, 1, c9[0].Occurrences)
	assert.Equal(t, 4, c9[0].FirstRow)
	assert.Equal(t, models.FileTypeAward, c9[0].FileType)
}

func TestA19SignFlipIgnoresOtherAdjustments(t *testing.T) {
	h := newHarness(t, Config{})

	cross := stageAB(t, h,
		map[string]string{"obligations_incurred_total_cpe": "-8.0"},
		map[string]string{"obligations_incurred_by_pr_cpe": "3.0", "prior_year_adjustment": "X"},
		map[string]string{"obligations_incurred_by_pr_cpe": "5.0", "prior_year_adjustment": "X"},
		map[string]string{"obligations_incurred_by_pr_cpe": "2.0", "prior_year_adjustment": "B"},
	)
	h.validate(t, cross)
	assert.Empty(t, h.findings(t, cross, "A19"))
}

func TestFABSUniquenessAgainstPublished(t *testing.T) {
	h := newHarness(t, Config{})

	published := testutil.NewSubmission(t, h.db, true)
	key := models.UniqueKey("F1", "0", "U1", testutil.CFDA, testutil.SubTier)
	require.NoError(t, h.db.Create(&models.PublishedFABS{
		SubmissionID:       published.ID,
		RowNumber:          2,
		AFAGeneratedUnique: key,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}).Error)

	cases := []struct {
		name string
		cdi  string
		want int
	}{
		{"new record", "", 1},
		{"correction", "C", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := testutil.NewSubmission(t, h.db, true)
			job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeFABS, testutil.FABSFile(map[string]string{
				"fain":                       "f1",
				"uri":                        "U1",
				"correction_delete_indicatr": tc.cdi,
			}))
			h.validate(t, job)

			found := h.findings(t, job, "FABS2.2.1")
			require.Len(t, found, tc.want)
			if tc.want > 0 {
				assert.Equal(t, "2.2.1", found[0].OriginalRuleLabel)
				assert.Equal(t, models.SeverityFatal, found[0].Severity)
			}
		})
	}
}

func TestUEIRequiredAfter2010(t *testing.T) {
	h := newHarness(t, Config{})

	cases := []struct {
		name          string
		businessTypes string
		want          int
	}{
		{"organisation", "ABC", 1},
		{"individual", "ABP", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := testutil.NewSubmission(t, h.db, true)
			job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeFABS, testutil.FABSFile(map[string]string{
				"action_date":    "2015-05-01",
				"record_type":    "2",
				"business_types": tc.businessTypes,
				"uei":            "",
			}))
			h.validate(t, job)
			assert.Len(t, h.findings(t, job, "FABS31.2.1"), tc.want)
		})
	}
}

func TestHeaderErrorReport(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, false)

	var header []string
	for _, f := range schema.MustFor(models.FileTypeAppropriations).Fields {
		if f.Name == "agency_identifier" {
			continue
		}
		header = append(header, f.Header)
	}
	header = append(header, "AllocationTransferAgencyIdentifier")
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations, testutil.CSV(header))

	res, err := h.engine.ValidateJob(context.Background(), job.ID)
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, []string{"AgencyIdentifier"}, structural.Missing)
	assert.Equal(t, []string{"AllocationTransferAgencyIdentifier"}, structural.Duplicated)
	require.NotNil(t, res)
	assert.Equal(t, models.FileStatusHeaderError, res.FileStatus)

	require.Len(t, res.Reports, 1)
	assert.Equal(t, [][]string{
		report.HeaderErrorHeader,
		{report.MissingHeader, "AgencyIdentifier"},
		{report.DuplicatedHeader, "AllocationTransferAgencyIdentifier"},
	}, h.report(t, res.Reports[0]))

	testutil.AssertCount(t, h.db, &models.ErrorMetadata{}, 0)

	var stored models.Job
	require.NoError(t, h.db.First(&stored, "id = ?", job.ID).Error)
	assert.Equal(t, models.FileStatusHeaderError, stored.FileStatus)
}

func TestEmptyAppropriationsIsStructural(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, false)
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations,
		testutil.File(models.FileTypeAppropriations))

	_, err := h.engine.ValidateJob(context.Background(), job.ID)
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.True(t, structural.Empty)
}

func TestFirstRowAndOccurrencesAcrossChunks(t *testing.T) {
	h := newHarness(t, Config{ChunkSize: 2, Parallelism: 3})
	sub := testutil.NewSubmission(t, h.db, false)

	rows := []map[string]string{
		tasRow(nil),
		tasRow(map[string]string{"main_account_code": ""}),
		tasRow(nil),
		tasRow(map[string]string{"main_account_code": ""}),
		tasRow(map[string]string{"main_account_code": ""}),
	}
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations,
		testutil.File(models.FileTypeAppropriations, rows...))
	res := h.validate(t, job)

	required := h.findings(t, job, models.ErrorTypeRequired.Label())
	require.Len(t, required, 1)
	assert.Equal(t, "main_account_code", required[0].FieldNames)
	assert.Equal(t, 3, required[0].Occurrences)
	assert.Equal(t, 3, required[0].FirstRow)

	assert.Equal(t, 5, res.Rows)
	assert.LessOrEqual(t, res.ValidRows, 2)
	n, err := h.store.CountRows(context.Background(), sub.ID, models.FileTypeAppropriations)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestTypeErrorRowsAreNotStaged(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, false)

	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations,
		testutil.File(models.FileTypeAppropriations,
			tasRow(map[string]string{"total_budgetary_resources_cpe": "1,000.50", "status_of_budgetary_resour_cpe": "1000.50"}),
			tasRow(map[string]string{"total_budgetary_resources_cpe": "lots"}),
		))
	h.validate(t, job)

	typeErrors := h.findings(t, job, models.ErrorTypeType.Label())
	require.Len(t, typeErrors, 1)
	assert.Equal(t, 3, typeErrors[0].FirstRow)

	n, err := h.store.CountRows(context.Background(), sub.ID, models.FileTypeAppropriations)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, h.findings(t, job, "A6"))
}

func TestDeleteIndicatorSkipsRules(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, true)

	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeFABS, testutil.FABSFile(
		map[string]string{"fain": "F1", "action_type": "Z", "correction_delete_indicatr": "D", "assistance_type": ""},
		map[string]string{"fain": "F2", "action_type": "Z"},
	))
	h.validate(t, job)

	invalid := h.findings(t, job, "FABS3.1")
	require.Len(t, invalid, 1)
	assert.Equal(t, 3, invalid[0].FirstRow)
	assert.Equal(t, 1, invalid[0].Occurrences)

	for _, f := range h.findings(t, job, models.ErrorTypeRequired.Label()) {
		assert.NotEqual(t, "assistance_type", f.FieldNames)
	}
}

func TestValidateTwiceIsStable(t *testing.T) {
	h := newHarness(t, Config{ChunkSize: 1})
	sub := testutil.NewSubmission(t, h.db, true)
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeFABS, testutil.FABSFile(
		map[string]string{"fain": "F1", "action_type": "Z"},
		map[string]string{"fain": "F1", "action_date": "19990930"},
		map[string]string{"fain": "F3", "uei": ""},
	))

	type key struct {
		label, fields, message string
		firstRow, occurrences  int
	}
	collect := func() map[key]bool {
		h.validate(t, job)
		all, err := h.store.Findings(context.Background(), job.ID)
		require.NoError(t, err)
		out := map[key]bool{}
		for _, f := range all {
			out[key{f.RuleLabel, f.FieldNames, f.Message, f.FirstRow, f.Occurrences}] = true
		}
		return out
	}

	first := collect()
	require.NotEmpty(t, first)
	assert.Equal(t, first, collect())
}

func TestActionDateBoundary(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, true)
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeFABS, testutil.FABSFile(
		map[string]string{"fain": "F1", "action_date": "19991001"},
		map[string]string{"fain": "F2", "action_date": "19990930"},
	))
	h.validate(t, job)

	found := h.findings(t, job, "FABS4.2")
	require.Len(t, found, 1)
	assert.Equal(t, 3, found[0].FirstRow)
}

func TestCanceledJobDiscardsOutput(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, false)
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations,
		testutil.File(models.FileTypeAppropriations, tasRow(nil)))
	require.NoError(t, h.db.Model(job).Update("status", models.JobStatusInvalid).Error)

	_, err := h.engine.ValidateJob(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrCanceled)
	testutil.AssertCount(t, h.db, &models.Appropriation{}, 0)
	testutil.AssertCount(t, h.db, &models.ErrorMetadata{}, 0)
}

func TestUploadJobIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, false)
	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations, "")
	require.NoError(t, h.db.Model(job).Update("job_type", models.JobTypeUpload).Error)

	_, err := h.engine.ValidateJob(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrNotValidation)
}

func TestFlexColumnsReachReports(t *testing.T) {
	h := newHarness(t, Config{})
	sub := testutil.NewSubmission(t, h.db, false)

	sch := schema.MustFor(models.FileTypeAppropriations)
	header := append(sch.Headers(), "flex_note")
	values := tasRow(map[string]string{"main_account_code": ""})
	row := make([]string, 0, len(header))
	for _, f := range sch.Fields {
		row = append(row, values[f.Name])
	}
	row = append(row, "check me")

	job := testutil.NewValidationJob(t, h.db, h.files, sub, models.FileTypeAppropriations, testutil.CSV(header, row))
	res := h.validate(t, job)

	errors := h.report(t, res.Reports[0])
	require.Greater(t, len(errors), 1)
	assert.Equal(t, report.SingleFileHeader, errors[0])
	assert.Equal(t, "flex_note: check me", errors[1][6])
	testutil.AssertCount(t, h.db, &models.FlexField{}, 1)
}
