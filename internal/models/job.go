package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileType identifies the kind of file a job works on.
type FileType string

const (
	FileTypeAppropriations        FileType = "appropriations"
	FileTypeProgramActivity       FileType = "program_activity"
	FileTypeAwardFinancial        FileType = "award_financial"
	FileTypeAwardProcurement      FileType = "award_procurement"
	FileTypeAward                 FileType = "award"
	FileTypeExecutiveCompensation FileType = "executive_compensation"
	FileTypeSubAward              FileType = "sub_award"
	FileTypeFABS                  FileType = "fabs"
	FileTypeCross                 FileType = "cross"
)

var fileLetters = map[FileType]string{
	FileTypeAppropriations:        "A",
	FileTypeProgramActivity:       "B",
	FileTypeAwardFinancial:        "C",
	FileTypeAwardProcurement:      "D1",
	FileTypeAward:                 "D2",
	FileTypeExecutiveCompensation: "E",
	FileTypeSubAward:              "F",
	FileTypeFABS:                  "FABS",
	FileTypeCross:                 "cross",
}

// Letter returns the short designation used in reports, e.g. "A" or "D2".
func (f FileType) Letter() string {
	if l, ok := fileLetters[f]; ok {
		return l
	}
	return string(f)
}

// Staged reports whether rows of this file type are loaded into a staging
// table. E and F are generated downstream and only tracked.
func (f FileType) Staged() bool {
	switch f {
	case FileTypeAppropriations, FileTypeProgramActivity, FileTypeAwardFinancial,
		FileTypeAwardProcurement, FileTypeAward, FileTypeFABS:
		return true
	}
	return false
}

// ParseFileType accepts either the long name or the letter form.
func ParseFileType(s string) (FileType, error) {
	s = strings.TrimSpace(s)
	for ft, letter := range fileLetters {
		if strings.EqualFold(s, string(ft)) || strings.EqualFold(s, letter) {
			return ft, nil
		}
	}
	return "", fmt.Errorf("unknown file type %q", s)
}

// DABSFileTypes are the file types a DABS submission carries, in upload order.
var DABSFileTypes = []FileType{
	FileTypeAppropriations,
	FileTypeProgramActivity,
	FileTypeAwardFinancial,
	FileTypeAwardProcurement,
	FileTypeAward,
	FileTypeExecutiveCompensation,
	FileTypeSubAward,
}

type JobType string

const (
	JobTypeUpload              JobType = "upload"
	JobTypeCSVRecordValidation JobType = "csv_record_validation"
	JobTypeExternalValidation  JobType = "external_validation"
	JobTypeCrossFileValidation JobType = "cross_file_validation"
)

// Validation reports whether the job type is run by the rule engine.
func (t JobType) Validation() bool {
	return t == JobTypeCSVRecordValidation || t == JobTypeCrossFileValidation
}

type JobStatus string

const (
	JobStatusWaiting  JobStatus = "waiting"
	JobStatusReady    JobStatus = "ready"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusInvalid  JobStatus = "invalid"
	JobStatusFailed   JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusWaiting: {JobStatusReady, JobStatusInvalid},
	JobStatusReady:   {JobStatusRunning, JobStatusWaiting, JobStatusInvalid},
	JobStatusRunning: {JobStatusFinished, JobStatusFailed, JobStatusReady, JobStatusInvalid},
}

// CanTransition reports whether a job may move from one status to another.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return len(jobTransitions[s]) == 0
}

type FileStatus string

const (
	FileStatusNone        FileStatus = ""
	FileStatusComplete    FileStatus = "complete"
	FileStatusHeaderError FileStatus = "header_error"
	FileStatusIncomplete  FileStatus = "incomplete"
)

type Job struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID      uuid.UUID  `gorm:"type:uuid;index;not null" json:"submission_id"`
	FileType          FileType   `gorm:"type:text;index;not null" json:"file_type"`
	SourceFileType    FileType   `gorm:"type:text" json:"source_file_type,omitempty"`
	TargetFileType    FileType   `gorm:"type:text" json:"target_file_type,omitempty"`
	JobType           JobType    `gorm:"type:text;index;not null" json:"job_type"`
	Status            JobStatus  `gorm:"type:text;index;not null" json:"status"`
	FileStatus        FileStatus `gorm:"type:text" json:"file_status,omitempty"`
	Filename          string     `gorm:"type:text" json:"filename,omitempty"`
	OriginalFilename  string     `gorm:"type:text" json:"original_filename,omitempty"`
	NumberOfRows      int        `gorm:"not null;default:0" json:"number_of_rows"`
	NumberOfRowsValid int        `gorm:"not null;default:0" json:"number_of_rows_valid"`
	NumberOfErrors    int        `gorm:"not null;default:0" json:"number_of_errors"`
	NumberOfWarnings  int        `gorm:"not null;default:0" json:"number_of_warnings"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message,omitempty"`
	ClaimedBy         string     `gorm:"type:text;index" json:"claimed_by,omitempty"`
	ClaimExpiresAt    *time.Time `gorm:"index" json:"claim_expires_at,omitempty"`
	ClaimAttempt      int        `gorm:"not null;default:0" json:"claim_attempt"`
	SupersededAt      *time.Time `gorm:"index" json:"superseded_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

// JobDependency is a directed edge from a job to one of its prerequisites.
type JobDependency struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	JobID          uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	PrerequisiteID uuid.UUID `gorm:"type:uuid;index;not null" json:"prerequisite_id"`
}
