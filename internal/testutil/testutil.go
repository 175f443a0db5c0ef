// Package testutil carries the database harness and reference fixtures
// shared by package tests.
package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/schema"
	"github.com/fedspend/broker/internal/storage"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	return db
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, db *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}

// CSV renders a comma separated file from a header row and data rows.
func CSV(header []string, rows ...[]string) string {
	var b strings.Builder
	write := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				b.WriteByte(',')
			}
			if strings.ContainsAny(c, ",\"\n") {
				c = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
			}
			b.WriteString(c)
		}
		b.WriteByte('\n')
	}
	write(header)
	for _, r := range rows {
		write(r)
	}
	return b.String()
}

// Row renders one data row in header order from a field/value map keyed by
// header.
func Row(header []string, values map[string]string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = values[h]
	}
	return out
}

// Fixture identifiers seeded by SeedReference.
const (
	SubTier           = "ABCD"
	AgencyCGAC        = "012"
	AwardingOffice    = "AB1234"
	FundingOffice     = "FN5678"
	CFDA              = "10.001"
	RegisteredUEI     = "ABCDEFGHJKLM"
	ParentUEI         = "PARENTUEI123"
	UnregisteredUEI   = "FRGNPRTNR123"
	TASAgency         = "012"
	TASMainAccount    = "1234"
	TASSubAccount     = "000"
	ObjectClassCode   = "1110"
	ProgramActivityPA = "0001"
)

// SeedReference loads a small consistent reference data set.
func SeedReference(tb testing.TB, db *gorm.DB) {
	tb.Helper()

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	officer := 250000.0

	records := []interface{}{
		&[]models.State{{Code: "NY", Name: "New York"}, {Code: "VA", Name: "Virginia"}},
		&[]models.CountyCode{
			{StateCode: "NY", CountyNumber: "001", CountyName: "Albany"},
			{StateCode: "VA", CountyNumber: "059", CountyName: "Fairfax"},
		},
		&[]models.Zip{
			{Zip5: "12345", ZipLast4: "0001", StateCode: "NY", CountyNumber: "001", CongressionalDistrict: "01"},
			{Zip5: "12345", ZipLast4: "0002", StateCode: "NY", CountyNumber: "001", CongressionalDistrict: "02"},
			{Zip5: "22030", ZipLast4: "1234", StateCode: "VA", CountyNumber: "059", CongressionalDistrict: "11"},
		},
		&[]models.ZipCity{{Zip5: "12345", CityName: "Schenectady"}, {Zip5: "22030", CityName: "Fairfax"}},
		&[]models.CityCode{
			{StateCode: "NY", CityCode: "65508", FeatureName: "Schenectady", CountyNumber: "001", CountyName: "Albany"},
			{StateCode: "VA", CityCode: "26496", FeatureName: "Fairfax", CountyNumber: "059", CountyName: "Fairfax"},
		},
		&[]models.CountryCode{{Code: "USA", Name: "United States"}, {Code: "CAN", Name: "Canada"}},
		&[]models.CFDAProgram{{ProgramNumber: CFDA, ProgramTitle: "Agricultural Research Basic and Applied Research", PublishedDate: &start}},
		&[]models.Office{
			{Code: AwardingOffice, Name: "Awarding Office", SubTierCode: SubTier, AgencyCode: AgencyCGAC, FinancialAssistanceAwards: true, EffectiveStartDate: &start},
			{Code: FundingOffice, Name: "Funding Office", SubTierCode: SubTier, AgencyCode: AgencyCGAC, FinancialAssistanceFunding: true, EffectiveStartDate: &start},
		},
		&[]models.CGAC{{Code: AgencyCGAC, AgencyName: "Department of Agriculture"}},
		&[]models.SubTierAgency{{Code: SubTier, Name: "Agricultural Research Service", CGACCode: AgencyCGAC}},
		&[]models.SAMRecipient{{
			UEI:                      RegisteredUEI,
			LegalBusinessName:        "Acme Research",
			UltimateParentUEI:        ParentUEI,
			UltimateParentLegalName:  "Acme Holdings",
			BusinessTypes:            "A",
			HighCompOfficer1FullName: "Pat Smith",
			HighCompOfficer1Amount:   &officer,
		}},
		&[]models.SAMRecipientUnregistered{{UEI: UnregisteredUEI, LegalBusinessName: "Foreign Partner"}},
		&[]models.TASLookup{{TAS: models.TAS{
			AgencyIdentifier:     TASAgency,
			AvailabilityTypeCode: "X",
			MainAccountCode:      TASMainAccount,
			SubAccountCode:       TASSubAccount,
			DisplayTAS:           models.DisplayTAS("", TASAgency, "", "", "X", TASMainAccount, TASSubAccount),
		}}},
		&[]models.ObjectClass{{Code: ObjectClassCode, Name: "Full-time permanent"}},
		&[]models.ProgramActivity{{AgencyIdentifier: TASAgency, MainAccountCode: TASMainAccount, ProgramActivityCode: ProgramActivityPA, ProgramActivityName: "Research"}},
	}

	for _, r := range records {
		if err := db.Create(r).Error; err != nil {
			tb.Fatalf("seed reference: %v", err)
		}
	}
}

// NewSubmission persists an unpublished submission.
func NewSubmission(tb testing.TB, db *gorm.DB, fabs bool) *models.Submission {
	tb.Helper()

	now := time.Now().UTC()
	sub := &models.Submission{
		ID:                    uuid.New(),
		CGACCode:              AgencyCGAC,
		ReportingFiscalYear:   2024,
		ReportingFiscalPeriod: 6,
		IsFABS:                fabs,
		PublishStatus:         models.PublishStatusUnpublished,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := db.Create(sub).Error; err != nil {
		tb.Fatalf("create submission: %v", err)
	}
	return sub
}

// NewValidationJob stores content as an uploaded file and persists a
// running csv_record_validation job pointing at it.
func NewValidationJob(tb testing.TB, db *gorm.DB, files storage.FileStore, sub *models.Submission, ft models.FileType, content string) *models.Job {
	tb.Helper()

	now := time.Now().UTC()
	job := &models.Job{
		ID:               uuid.New(),
		SubmissionID:     sub.ID,
		FileType:         ft,
		JobType:          models.JobTypeCSVRecordValidation,
		Status:           models.JobStatusRunning,
		OriginalFilename: string(ft) + ".csv",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	job.Filename = storage.UploadKey(sub.ID, job.ID, job.OriginalFilename)
	if err := files.Put(context.Background(), job.Filename, strings.NewReader(content), int64(len(content))); err != nil {
		tb.Fatalf("put upload: %v", err)
	}
	if err := db.Create(job).Error; err != nil {
		tb.Fatalf("create job: %v", err)
	}
	return job
}

// NewCrossJob persists a running cross_file_validation job over a pair.
func NewCrossJob(tb testing.TB, db *gorm.DB, sub *models.Submission, source, target models.FileType) *models.Job {
	tb.Helper()

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		SubmissionID:   sub.ID,
		FileType:       models.FileTypeCross,
		SourceFileType: source,
		TargetFileType: target,
		JobType:        models.JobTypeCrossFileValidation,
		Status:         models.JobStatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.Create(job).Error; err != nil {
		tb.Fatalf("create cross job: %v", err)
	}
	return job
}

// FABSDefaults is a FABS row consistent with the SeedReference data, keyed
// by field name.
func FABSDefaults() map[string]string {
	return map[string]string{
		"action_date":                "20150501",
		"action_type":                "A",
		"assistance_type":            "02",
		"award_description":          "Research grant",
		"award_modification_amendme": "0",
		"awardee_or_recipient_legal": "Acme Research",
		"uei":                        RegisteredUEI,
		"awarding_office_code":       AwardingOffice,
		"awarding_sub_tier_agency_c": SubTier,
		"business_funds_indicator":   "REC",
		"business_types":             "A",
		"cfda_number":                CFDA,
		"fain":                       "F1",
		"federal_action_obligation":  "1000",
		"funding_office_code":        FundingOffice,
		"funding_sub_tier_agency_co": SubTier,
		"legal_entity_address_line1": "1 Main St",
		"legal_entity_congressional": "01",
		"legal_entity_country_code":  "USA",
		"legal_entity_zip5":          "12345",
		"legal_entity_zip_last4":     "0001",
		"period_of_performance_star": "20150501",
		"period_of_performance_curr": "20160501",
		"place_of_performance_code":  "NY*****",
		"place_of_performance_congr": "01",
		"place_of_perform_country_c": "USA",
		"place_of_performance_zip4a": "123450001",
		"record_type":                "2",
	}
}

// File renders an upload of a file type with long headers in schema
// order. Each row is keyed by field name; absent fields are blank.
func File(ft models.FileType, rows ...map[string]string) string {
	sch := schema.MustFor(ft)
	out := make([][]string, len(rows))
	for i, values := range rows {
		row := make([]string, len(sch.Fields))
		for j, f := range sch.Fields {
			row[j] = values[f.Name]
		}
		out[i] = row
	}
	return CSV(sch.Headers(), out...)
}

// FABSFile renders a FABS upload. Each row starts from FABSDefaults; an
// override of "" blanks the field.
func FABSFile(overrides ...map[string]string) string {
	rows := make([]map[string]string, len(overrides))
	for i, o := range overrides {
		values := FABSDefaults()
		for k, v := range o {
			values[k] = v
		}
		rows[i] = values
	}
	return File(models.FileTypeFABS, rows...)
}
