package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PublishStatus string

const (
	PublishStatusUnpublished PublishStatus = "unpublished"
	PublishStatusPublished   PublishStatus = "published"
	PublishStatusUpdated     PublishStatus = "updated"
)

// Submission is one agency reporting package, either a DABS quarter/period
// or a FABS assistance upload.
type Submission struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	CGACCode              string        `gorm:"type:text;index" json:"cgac_code,omitempty"`
	FRECCode              string        `gorm:"type:text;index" json:"frec_code,omitempty"`
	ReportingFiscalYear   int           `json:"reporting_fiscal_year,omitempty"`
	ReportingFiscalPeriod int           `json:"reporting_fiscal_period,omitempty"`
	ReportingStartDate    *time.Time    `json:"reporting_start_date,omitempty"`
	ReportingEndDate      *time.Time    `json:"reporting_end_date,omitempty"`
	IsQuarterFormat       bool          `gorm:"not null;default:false" json:"is_quarter_format"`
	IsFABS                bool          `gorm:"index;not null;default:false" json:"is_fabs"`
	PublishStatus         PublishStatus `gorm:"type:text;index;not null;default:'unpublished'" json:"publish_status"`
	Publishable           bool          `gorm:"not null;default:false" json:"publishable"`
	Publishing            bool          `gorm:"not null;default:false" json:"-"`
	TestSubmission        bool          `gorm:"index;not null;default:false" json:"test_submission"`
	PublishedAt           *time.Time    `json:"published_at,omitempty"`
	CreatedAt             time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"index;not null" json:"updated_at"`
}

// AgencyCode returns the owning agency identifier, CGAC or FREC.
func (s *Submission) AgencyCode() string {
	if strings.TrimSpace(s.FRECCode) != "" {
		return s.FRECCode
	}
	return s.CGACCode
}

// Kind reports "assistance" for FABS submissions and "non-assistance"
// otherwise.
func (s *Submission) Kind() string {
	if s.IsFABS {
		return "assistance"
	}
	return "non-assistance"
}

// PublishHistory records each publication state change of a submission.
type PublishHistory struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID  uuid.UUID         `gorm:"type:uuid;index;not null" json:"submission_id"`
	Action        string            `gorm:"type:text;not null" json:"action"`
	FileRowCounts datatypes.JSONMap `gorm:"type:json" json:"file_row_counts,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (PublishHistory) TableName() string {
	return "publish_history"
}
