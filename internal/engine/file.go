package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fedspend/broker/internal/ingest"
	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/report"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/internal/schema"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/pkg/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// fileRun is the per-job state shared by the chunk evaluators. Everything
// in it is read-only once the run starts.
type fileRun struct {
	job      *models.Job
	schema   *schema.Schema
	columns  []schema.Column
	rowRules []*rule.Rule
	env      *rule.Env
}

func (e *Engine) validateFile(ctx context.Context, job *models.Job) (*Result, error) {
	if !job.FileType.Staged() {
		return nil, fmt.Errorf("%w: file type %s is not validated", ErrNotValidation, job.FileType)
	}
	sch, err := schema.For(job.FileType)
	if err != nil {
		return nil, err
	}

	r, err := e.files.Get(ctx, job.Filename)
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", job.Filename, err)
	}
	defer r.Close()

	src, err := ingest.Open(job.OriginalFilename, r)
	if errors.Is(err, ingest.ErrEmpty) {
		return e.structural(ctx, job, &StructuralError{Empty: true}, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", job.Filename, err)
	}
	defer src.Close()

	resolution := sch.Resolve(src.Header())
	if !resolution.OK() {
		return e.structural(ctx, job, &StructuralError{
			Missing:    resolution.Missing,
			Duplicated: resolution.Duplicated,
		}, 0)
	}
	if len(resolution.Dropped) > 0 {
		log.Warn("dropping unknown headers", "job_id", job.ID, "headers", resolution.Dropped)
	}

	first, err := src.Next()
	if errors.Is(err, io.EOF) {
		if job.FileType == models.FileTypeAppropriations || job.FileType == models.FileTypeProgramActivity {
			return e.structural(ctx, job, &StructuralError{Empty: true}, 0)
		}
	} else if err != nil {
		return nil, err
	}

	if err := e.store.ClearFile(ctx, job.SubmissionID, job.FileType); err != nil {
		return nil, err
	}
	if err := e.store.ClearJob(ctx, job); err != nil {
		return nil, err
	}

	run := &fileRun{
		job:      job,
		schema:   sch,
		columns:  resolution.Columns,
		rowRules: e.rules.For(job.FileType, rule.ScopeRow),
		env:      e.env,
	}

	agg := newAggregator()
	res := &Result{JobID: job.ID, FileStatus: models.FileStatusComplete}
	chunk := make([]ingest.Record, 0, e.cfg.ChunkSize)
	pending := err == nil
	for eof := !pending; !eof; {
		chunk = chunk[:0]
		if pending {
			chunk = append(chunk, first)
			pending = false
		}
		for len(chunk) < e.cfg.ChunkSize {
			rec, err := src.Next()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return nil, err
			}
			chunk = append(chunk, rec)
		}
		if len(chunk) == 0 {
			break
		}

		if err := e.checkpoint(ctx, job); err != nil {
			e.discard(job)
			return nil, err
		}
		readErrors, err := e.processChunk(ctx, run, chunk, agg)
		if err != nil {
			return nil, err
		}
		if readErrors > 0 {
			res.FileStatus = models.FileStatusIncomplete
		}
		res.Rows += len(chunk)
		metrics.RowsProcessedTotal.WithLabelValues(string(job.FileType)).Add(float64(len(chunk)))
	}

	if err := e.checkpoint(ctx, job); err != nil {
		e.discard(job)
		return nil, err
	}
	for _, rl := range e.rules.For(job.FileType, rule.ScopeFile) {
		if err := e.runSetRule(ctx, job, rl, agg); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rl.Label, err)
		}
	}

	return e.finish(ctx, job, agg, res, false)
}

// structural records a header error outcome: a header error report, the
// file's staged rows cleared and no findings.
func (e *Engine) structural(ctx context.Context, job *models.Job, serr *StructuralError, rows int) (*Result, error) {
	var buf bytes.Buffer
	if err := report.WriteHeaderErrors(&buf, serr.Problems()); err != nil {
		return nil, err
	}
	key := storage.ReportKey(job.SubmissionID, report.Name(job.SubmissionID.String(), string(job.FileType), false))
	if err := e.files.Put(ctx, key, &buf, int64(buf.Len())); err != nil {
		return nil, fmt.Errorf("write header report: %w", err)
	}
	if err := e.store.ClearFile(ctx, job.SubmissionID, job.FileType); err != nil {
		return nil, err
	}
	if err := e.store.ClearJob(ctx, job); err != nil {
		return nil, err
	}
	if err := e.stamp(ctx, job, rows); err != nil {
		return nil, err
	}
	return &Result{
		JobID:      job.ID,
		Rows:       rows,
		FileStatus: models.FileStatusHeaderError,
		Reports:    []string{key},
	}, serr
}

// evaluated is the pure outcome of one record.
type evaluated struct {
	staged      map[string]interface{}
	flex        []models.FlexField
	occurrences []occurrence
	readError   bool
}

// processChunk evaluates a chunk across up to Parallelism goroutines, then
// stages the accepted rows in one transaction and merges the findings.
func (e *Engine) processChunk(ctx context.Context, run *fileRun, chunk []ingest.Record, agg *aggregator) (int, error) {
	out := make([]evaluated, len(chunk))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	span := (len(chunk) + e.cfg.Parallelism - 1) / e.cfg.Parallelism
	for lo := 0; lo < len(chunk); lo += span {
		lo, hi := lo, min(lo+span, len(chunk))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				out[i] = run.evaluate(chunk[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var (
		rows       []map[string]interface{}
		flex       []models.FlexField
		readErrors int
	)
	for _, ev := range out {
		if ev.staged != nil {
			rows = append(rows, ev.staged)
		}
		flex = append(flex, ev.flex...)
		if ev.readError {
			readErrors++
		}
		agg.merge(ev.occurrences)
	}

	err := e.store.Tx(ctx, func(tx *staging.Store) error {
		if err := tx.InsertRows(ctx, run.job.FileType, rows); err != nil {
			return err
		}
		return tx.InsertFlex(ctx, flex)
	})
	return readErrors, err
}

// evaluate parses one record and runs the row rules over it. It touches no
// shared mutable state.
func (r *fileRun) evaluate(rec ingest.Record) evaluated {
	file := r.job.FileType
	if rec.Err != nil {
		return evaluated{
			readError: true,
			occurrences: []occurrence{{
				key: groupKey{
					label:      models.ErrorTypeRead.Label(),
					severity:   models.SeverityFatal,
					errorType:  models.ErrorTypeRead,
					message:    readErrorMessage,
					sourceFile: file,
				},
				line: report.Line{
					Message:   readErrorMessage,
					Row:       rec.RowNumber,
					RuleLabel: models.ErrorTypeRead.Label(),
				},
			}},
		}
	}

	raw := make(map[string]string, len(r.columns))
	var flex []models.FlexField
	for _, col := range r.columns {
		var v string
		if col.Index < len(rec.Values) {
			v = rec.Values[col.Index]
		}
		if col.Flex {
			flex = append(flex, models.FlexField{
				SubmissionID: r.job.SubmissionID,
				JobID:        r.job.ID,
				FileType:     file,
				RowNumber:    rec.RowNumber,
				Header:       col.Header,
				Value:        v,
			})
			continue
		}
		raw[col.Field] = v
	}

	row, problems := r.schema.Parse(raw)
	cdi := rule.Text(row, cdiField)
	uid := uniqueID(r.schema.UniqueID, func(f string) string { return rule.Text(row, f) })
	flexCell := flexText(flex)

	ev := evaluated{flex: flex}
	typeError := false
	for _, p := range problems {
		if p.Type == models.ErrorTypeRequired && isDelete(cdi) {
			continue
		}
		if p.Type == models.ErrorTypeType {
			typeError = true
		}
		f, _ := r.schema.Field(p.Field)
		message, expected := problemText(p.Type, f)
		ev.occurrences = append(ev.occurrences, occurrence{
			key: groupKey{
				label:      p.Type.Label(),
				severity:   models.SeverityFatal,
				errorType:  p.Type,
				fields:     p.Field,
				message:    message,
				sourceFile: file,
			},
			line: report.Line{
				UniqueID:      uid,
				FieldName:     p.Field,
				Message:       message,
				ValueProvided: report.Join([]report.Pair{{Name: p.Field, Value: row.Raw[p.Field]}}),
				Expected:      expected,
				FlexField:     flexCell,
				Row:           rec.RowNumber,
				RuleLabel:     p.Type.Label(),
			},
		})
	}
	if typeError {
		return ev
	}

	for _, rl := range r.rowRules {
		if !rl.Applies(cdi) || rl.Eval(r.env, row) {
			continue
		}
		label, original := rl.Labels()
		message := rl.Render()
		fields := models.JoinFields(rl.Fields)
		lineUID := uid
		if len(rl.UniqueID) > 0 {
			lineUID = uniqueID(rl.UniqueID, func(f string) string { return rule.Text(row, f) })
		}
		ev.occurrences = append(ev.occurrences, occurrence{
			key: groupKey{
				label:      label,
				severity:   rl.Severity,
				errorType:  models.ErrorTypeRule,
				fields:     fields,
				message:    message,
				sourceFile: file,
			},
			originalLabel: original,
			line: report.Line{
				UniqueID:      lineUID,
				FieldName:     fields,
				Message:       message,
				ValueProvided: report.Join(pairs(rl.Fields, func(f string) string { return row.Raw[f] })),
				Expected:      rl.Expected,
				FlexField:     flexCell,
				Row:           rec.RowNumber,
				RuleLabel:     label,
			},
		})
	}

	staged := make(map[string]interface{}, len(row.Values)+4)
	for k, v := range row.Values {
		staged[k] = v
	}
	staged["submission_id"] = r.job.SubmissionID
	staged["job_id"] = r.job.ID
	staged["row_number"] = rec.RowNumber
	staged[rawValuesColumn] = rawValues(row)
	if file == models.FileTypeFABS {
		staged["afa_generated_unique"] = models.UniqueKey(
			row.String("fain"),
			row.String("award_modification_amendme"),
			row.String("uri"),
			row.String("cfda_number"),
			row.String("awarding_sub_tier_agency_c"),
		)
	}
	ev.staged = staged
	return ev
}

const (
	cdiField = "correction_delete_indicatr"

	readErrorMessage     = "Could not parse this record correctly."
	typeErrorMessage     = "The value provided was of the wrong type. Note that all type errors in a line must be fixed before the rest of the validation logic is applied to that line."
	lengthErrorMessage   = "Value was longer than maximum length for this field."
	requiredErrorMessage = "This field is required for all submissions but was not provided in this row."
)

func problemText(t models.ErrorType, f schema.Field) (message, expected string) {
	switch t {
	case models.ErrorTypeType:
		return typeErrorMessage, "This field must be a " + string(f.Type)
	case models.ErrorTypeLength:
		return lengthErrorMessage, "Max length: " + strconv.Itoa(f.Length)
	case models.ErrorTypeRequired:
		return requiredErrorMessage, "(not blank)"
	}
	return string(t), ""
}

// rawValues collects the submitted text of cells whose typed value would
// not render back to it. Nil when every cell round-trips.
func rawValues(row schema.Row) interface{} {
	var out datatypes.JSONMap
	for field, raw := range row.Raw {
		if raw == "" || raw == text(row.Values[field]) {
			continue
		}
		if out == nil {
			out = datatypes.JSONMap{}
		}
		out[field] = raw
	}
	if out == nil {
		return nil
	}
	return out
}

func isDelete(cdi string) bool {
	return strings.EqualFold(cdi, "D")
}

func pairs(fields []string, value func(string) string) []report.Pair {
	out := make([]report.Pair, len(fields))
	for i, f := range fields {
		out[i] = report.Pair{Name: f, Value: value(f)}
	}
	return out
}

func uniqueID(parts []schema.UniqueIDPart, value func(string) string) string {
	out := make([]report.Pair, len(parts))
	for i, p := range parts {
		out[i] = report.Pair{Name: p.Label, Value: value(p.Field)}
	}
	return report.JoinPresent(out)
}

func flexText(flex []models.FlexField) string {
	out := make([]report.Pair, len(flex))
	for i, f := range flex {
		out[i] = report.Pair{Name: f.Header, Value: f.Value}
	}
	return report.Join(out)
}
