package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/report"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/internal/schema"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	rowNumberColumn  = "row_number"
	rawValuesColumn  = "raw_values"
	differenceColumn = "difference"
	targetPrefix     = "target_"
)

// setRow is one offending row returned by a rule query.
type setRow struct {
	number int
	values map[string]string
}

// query runs a rule's set query with the submission bound as
// @submission_id. Every column is rendered as text.
func (e *Engine) query(ctx context.Context, r *rule.Rule, submissionID uuid.UUID) ([]setRow, error) {
	rows, err := e.db.WithContext(ctx).Raw(r.Query, sql.Named("submission_id", submissionID)).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []setRow
	for rows.Next() {
		cells := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		sr := setRow{values: make(map[string]string, len(columns))}
		for i, c := range columns {
			c = strings.ToLower(c)
			sr.values[c] = text(cells[i])
		}
		n, err := strconv.Atoi(sr.values[rowNumberColumn])
		if err != nil {
			return nil, fmt.Errorf("query returned row_number %q", sr.values[rowNumberColumn])
		}
		sr.number = n
		out = append(out, sr)
	}
	return out, rows.Err()
}

// runSetRule evaluates a file or cross rule and adds its findings. The
// staged source rows are consulted for the CDI precondition, the unique ID
// and the flex cells.
func (e *Engine) runSetRule(ctx context.Context, job *models.Job, r *rule.Rule, agg *aggregator) error {
	found, err := e.query(ctx, r, job.SubmissionID)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}

	numbers := make([]int, len(found))
	for i, f := range found {
		numbers[i] = f.number
	}
	staged, err := e.store.Rows(ctx, job.SubmissionID, r.File, numbers)
	if err != nil {
		return err
	}
	flex, err := e.store.Flex(ctx, job.SubmissionID, r.File, numbers)
	if err != nil {
		return err
	}

	parts := r.UniqueID
	if len(parts) == 0 {
		parts = schema.MustFor(r.File).UniqueID
	}
	label, original := r.Labels()
	message := r.Render()
	fields := models.JoinFields(r.Fields)
	targetFields := models.JoinFields(r.TargetFields)
	cross := r.Cross()

	for _, f := range found {
		row := staged[f.number]
		if !r.Applies(text(row[cdiField])) {
			continue
		}
		raw := stagedRaw(row[rawValuesColumn])
		provided := func(field string) string {
			if v, ok := raw[field]; ok {
				return v
			}
			return f.values[field]
		}
		line := report.Line{
			UniqueID:      uniqueID(parts, func(field string) string { return text(row[field]) }),
			FieldName:     fields,
			Message:       message,
			ValueProvided: report.Join(pairs(r.Fields, provided)),
			Expected:      r.Expected,
			Difference:    f.values[differenceColumn],
			FlexField:     flexText(flex[f.number]),
			Row:           f.number,
			RuleLabel:     label,
		}
		if cross {
			line.SourceFile = r.File.Letter()
			line.TargetFile = r.TargetFile.Letter()
			line.TargetFieldName = targetFields
			line.TargetValue = report.Join(pairs(r.TargetFields, func(field string) string {
				return f.values[targetPrefix+field]
			}))
		}

		o := occurrence{
			key: groupKey{
				label:      label,
				severity:   r.Severity,
				errorType:  models.ErrorTypeRule,
				fields:     fields,
				message:    message,
				sourceFile: r.File,
			},
			originalLabel: original,
			line:          line,
		}
		if cross {
			o.key.targetFile = r.TargetFile
			o.targetFields = targetFields
		}
		agg.add(o)
	}
	return nil
}

// validateCross runs the cross rules of a file pair over both staged tables.
func (e *Engine) validateCross(ctx context.Context, job *models.Job) (*Result, error) {
	if !job.SourceFileType.Staged() || !job.TargetFileType.Staged() {
		return nil, fmt.Errorf("%w: cross job %s has no staged pair", ErrNotValidation, job.ID)
	}
	if err := e.store.ClearJob(ctx, job); err != nil {
		return nil, err
	}

	agg := newAggregator()
	for _, r := range e.rules.Cross(job.SourceFileType, job.TargetFileType) {
		if err := e.checkpoint(ctx, job); err != nil {
			e.discard(job)
			return nil, err
		}
		if err := e.runSetRule(ctx, job, r, agg); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Label, err)
		}
	}

	res := &Result{JobID: job.ID, FileStatus: models.FileStatusComplete}
	return e.finish(ctx, job, agg, res, true)
}

// stagedRaw decodes the raw_values column of a staged row.
func stagedRaw(v interface{}) map[string]string {
	var m datatypes.JSONMap
	switch t := v.(type) {
	case nil:
		return nil
	case datatypes.JSONMap:
		m = t
	case map[string]interface{}:
		m = t
	default:
		if err := m.Scan(t); err != nil {
			return nil
		}
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = text(val)
	}
	return out
}

// text renders a database or parsed value the way reports show it.
func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
