package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// ErrorType classifies what produced a finding.
type ErrorType string

const (
	ErrorTypeRead       ErrorType = "read_error"
	ErrorTypeType       ErrorType = "type_error"
	ErrorTypeLength     ErrorType = "length_error"
	ErrorTypeRequired   ErrorType = "required_error"
	ErrorTypeRule       ErrorType = "rule_failed"
	ErrorTypeUniqueness ErrorType = "uniqueness_violation"
)

// Label returns the rule label reported for findings that are not produced
// by a catalogue rule.
func (e ErrorType) Label() string {
	switch e {
	case ErrorTypeRead:
		return "ReadError"
	case ErrorTypeType:
		return "TypeError"
	case ErrorTypeLength:
		return "LengthError"
	case ErrorTypeRequired:
		return "RequiredError"
	}
	return ""
}

// FlexField is a user supplied flex_* column value carried alongside a row.
type FlexField struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uuid.UUID `gorm:"type:uuid;index;not null" json:"submission_id"`
	JobID        uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	FileType     FileType  `gorm:"type:text;not null" json:"file_type"`
	RowNumber    int       `gorm:"index;not null" json:"row_number"`
	Header       string    `gorm:"type:text;not null" json:"header"`
	Value        string    `gorm:"type:text" json:"value"`
}

// ErrorMetadata is one aggregated finding of a validation job.
type ErrorMetadata struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID             uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	SubmissionID      uuid.UUID `gorm:"type:uuid;index;not null" json:"submission_id"`
	FileType          FileType  `gorm:"type:text;not null" json:"file_type"`
	TargetFileType    FileType  `gorm:"type:text" json:"target_file_type,omitempty"`
	FieldNames        string    `gorm:"type:text" json:"field_names"`
	TargetFieldNames  string    `gorm:"type:text" json:"target_field_names,omitempty"`
	RuleLabel         string    `gorm:"type:text;index" json:"rule_label"`
	OriginalRuleLabel string    `gorm:"type:text" json:"original_rule_label,omitempty"`
	Severity          Severity  `gorm:"type:text;index;not null" json:"severity"`
	ErrorType         ErrorType `gorm:"type:text;not null" json:"error_type"`
	Message           string    `gorm:"type:text" json:"message"`
	Occurrences       int       `gorm:"not null" json:"occurrences"`
	FirstRow          int       `gorm:"not null" json:"first_row"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
}

// Fields splits the stored field list.
func (e ErrorMetadata) Fields() []string {
	return splitFields(e.FieldNames)
}

// JoinFields renders a field list the way it is stored.
func JoinFields(fields []string) string {
	return strings.Join(fields, ", ")
}

func splitFields(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
