package engine

import (
	"sort"
	"time"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/report"
	"github.com/google/uuid"
)

// groupKey is the identity findings aggregate under.
type groupKey struct {
	label      string
	severity   models.Severity
	errorType  models.ErrorType
	fields     string
	message    string
	sourceFile models.FileType
	targetFile models.FileType
}

type group struct {
	originalLabel string
	targetFields  string
	occurrences   int
	firstRow      int
}

// occurrence is a single finding on one row before aggregation.
type occurrence struct {
	key           groupKey
	originalLabel string
	targetFields  string
	line          report.Line
}

// aggregator accumulates occurrences commutatively: the outcome does not
// depend on the order chunks are merged in.
type aggregator struct {
	groups    map[groupKey]*group
	errors    []report.Line
	warnings  []report.Line
	fatalRows map[int]struct{}
}

func newAggregator() *aggregator {
	return &aggregator{
		groups:    map[groupKey]*group{},
		fatalRows: map[int]struct{}{},
	}
}

func (a *aggregator) add(o occurrence) {
	g, ok := a.groups[o.key]
	if !ok {
		g = &group{originalLabel: o.originalLabel, targetFields: o.targetFields, firstRow: o.line.Row}
		a.groups[o.key] = g
	}
	g.occurrences++
	if o.line.Row > 0 && (g.firstRow <= 0 || o.line.Row < g.firstRow) {
		g.firstRow = o.line.Row
	}

	if o.key.severity == models.SeverityFatal {
		a.errors = append(a.errors, o.line)
		if o.line.Row > 0 {
			a.fatalRows[o.line.Row] = struct{}{}
		}
		return
	}
	a.warnings = append(a.warnings, o.line)
}

func (a *aggregator) merge(occurrences []occurrence) {
	for _, o := range occurrences {
		a.add(o)
	}
}

// totals returns the fatal and warning occurrence counts.
func (a *aggregator) totals() (errors, warnings int) {
	for k, g := range a.groups {
		if k.severity == models.SeverityFatal {
			errors += g.occurrences
		} else {
			warnings += g.occurrences
		}
	}
	return errors, warnings
}

// findings renders the groups as error metadata, ordered by first row.
func (a *aggregator) findings(job *models.Job, now time.Time) []models.ErrorMetadata {
	out := make([]models.ErrorMetadata, 0, len(a.groups))
	for k, g := range a.groups {
		out = append(out, models.ErrorMetadata{
			ID:                uuid.New(),
			JobID:             job.ID,
			SubmissionID:      job.SubmissionID,
			FileType:          k.sourceFile,
			TargetFileType:    k.targetFile,
			FieldNames:        k.fields,
			TargetFieldNames:  g.targetFields,
			RuleLabel:         k.label,
			OriginalRuleLabel: g.originalLabel,
			Severity:          k.severity,
			ErrorType:         k.errorType,
			Message:           k.message,
			Occurrences:       g.occurrences,
			FirstRow:          g.firstRow,
			CreatedAt:         now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstRow != out[j].FirstRow {
			return out[i].FirstRow < out[j].FirstRow
		}
		if out[i].RuleLabel != out[j].RuleLabel {
			return out[i].RuleLabel < out[j].RuleLabel
		}
		return out[i].FieldNames < out[j].FieldNames
	})
	return out
}
