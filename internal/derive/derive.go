// Package derive enriches published assistance rows. The pipeline is an
// ordered list of named passes; each declares the columns it reads and
// writes so that Check can prove no pass reads a column a later pass fills.
package derive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pass is one derivation step.
type Pass struct {
	Name   string
	Reads  []string
	Writes []string
	// Tolerates lists read columns a later pass may write. The pass must
	// only use such a column when the later pass would leave it unchanged.
	Tolerates []string
	// RecordTypes limits the pass to rows of these record types. Empty
	// means every row.
	RecordTypes []int
	Apply       func(c *Context, row *models.PublishedFABS)
}

func (p Pass) applies(row *models.PublishedFABS) bool {
	if len(p.RecordTypes) == 0 {
		return true
	}
	rt := row.RecordTypeValue()
	for _, want := range p.RecordTypes {
		if rt == want {
			return true
		}
	}
	return false
}

// overlaps reports whether two passes can touch the same row.
func (p Pass) overlaps(q Pass) bool {
	if len(p.RecordTypes) == 0 || len(q.RecordTypes) == 0 {
		return true
	}
	for _, a := range p.RecordTypes {
		for _, b := range q.RecordTypes {
			if a == b {
				return true
			}
		}
	}
	return false
}

// Check validates pass ordering: names are unique, and a pass never reads a
// column written by a later pass that can touch the same rows, unless the
// read is tolerated.
func Check(passes []Pass) error {
	names := make(map[string]int, len(passes))
	for i, p := range passes {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("passes[%d].name is required", i)
		}
		if _, exists := names[p.Name]; exists {
			return fmt.Errorf("duplicate pass name %q", p.Name)
		}
		names[p.Name] = i
		if p.Apply == nil {
			return fmt.Errorf("pass %q has no apply function", p.Name)
		}
	}

	for i, p := range passes {
		tolerated := set(p.Tolerates)
		for _, later := range passes[i+1:] {
			if !p.overlaps(later) {
				continue
			}
			writes := set(later.Writes)
			for _, col := range p.Reads {
				if _, ok := writes[col]; ok {
					if _, ok := tolerated[col]; !ok {
						return fmt.Errorf("pass %q reads %s before pass %q writes it", p.Name, col, later.Name)
					}
				}
			}
		}
	}
	return nil
}

func set(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// Context carries what a pass may consult besides the row.
type Context struct {
	Ref    *reference.Snapshot
	Labels *Labels
	Now    time.Time

	ctx   context.Context
	prior PriorOffices
	cache map[string]officePair
	err   error
}

// PriorOffices finds the office codes of the earliest active published
// record of an award.
type PriorOffices interface {
	PriorOffices(ctx context.Context, aggregate bool, id, subTier string) (awarding, funding string, err error)
}

type officePair struct {
	awarding string
	funding  string
}

func (c *Context) priorOffices(aggregate bool, id, subTier string) officePair {
	if c.prior == nil || c.err != nil || id == "" {
		return officePair{}
	}
	k := models.UniqueKey(fmt.Sprint(aggregate), id, subTier)
	if v, ok := c.cache[k]; ok {
		return v
	}
	awarding, funding, err := c.prior.PriorOffices(c.ctx, aggregate, id, subTier)
	if err != nil {
		c.err = err
		return officePair{}
	}
	v := officePair{awarding: awarding, funding: funding}
	c.cache[k] = v
	return v
}

// Pipeline runs passes in order.
type Pipeline struct {
	passes []Pass
	labels *Labels
	now    func() time.Time
}

type Option func(*Pipeline)

// WithClock sets the time stamped as modified_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New checks the passes and builds a pipeline.
func New(passes []Pass, labels *Labels, opts ...Option) (*Pipeline, error) {
	if err := Check(passes); err != nil {
		return nil, err
	}
	p := &Pipeline{passes: passes, labels: labels, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Default builds the pipeline of every publication pass with the embedded
// label tables.
func Default(opts ...Option) (*Pipeline, error) {
	labels, err := DefaultLabels()
	if err != nil {
		return nil, err
	}
	return New(Passes(), labels, opts...)
}

// Passes returns the pipeline's passes.
func (p *Pipeline) Passes() []Pass {
	return p.passes
}

// Apply runs every pass over rows in memory. Rows with CDI D are left as
// they are.
func (p *Pipeline) Apply(ctx context.Context, ref *reference.Snapshot, prior PriorOffices, rows []models.PublishedFABS) error {
	c := &Context{
		Ref:    ref,
		Labels: p.labels,
		Now:    p.now().UTC(),
		ctx:    ctx,
		prior:  prior,
		cache:  map[string]officePair{},
	}
	for _, pass := range p.passes {
		start := time.Now()
		for i := range rows {
			row := &rows[i]
			if row.CDI() == "D" || !pass.applies(row) {
				continue
			}
			pass.Apply(c, row)
		}
		if c.err != nil {
			return fmt.Errorf("pass %s: %w", pass.Name, c.err)
		}
		metrics.DerivationPassDurationSeconds.WithLabelValues(pass.Name).Observe(time.Since(start).Seconds())
	}
	return nil
}

// Run derives the published rows of a submission and saves them through db,
// normally the publication transaction. replaced names the published rows
// this publication deactivated; they still count as award history.
func (p *Pipeline) Run(ctx context.Context, db *gorm.DB, ref *reference.Snapshot, submissionID uuid.UUID, replaced ...uint) (int, error) {
	tx := db.WithContext(ctx)

	var rows []models.PublishedFABS
	if err := tx.Where("submission_id = ?", submissionID).Order("row_number").Find(&rows).Error; err != nil {
		return 0, err
	}
	if err := p.Apply(ctx, ref, NewHistory(tx, submissionID, replaced...), rows); err != nil {
		return 0, err
	}
	for i := range rows {
		if err := tx.Save(&rows[i]).Error; err != nil {
			return 0, err
		}
	}

	log.Info("derived published rows", "submission_id", submissionID, "rows", len(rows), "passes", len(p.passes))
	return len(rows), nil
}

// History answers PriorOffices from published_fabs, ignoring the rows of
// the submission being published. Rows it replaced are still consulted.
type History struct {
	db           *gorm.DB
	submissionID uuid.UUID
	replaced     []uint
}

func NewHistory(db *gorm.DB, submissionID uuid.UUID, replaced ...uint) *History {
	return &History{db: db, submissionID: submissionID, replaced: replaced}
}

func (h *History) PriorOffices(ctx context.Context, aggregate bool, id, subTier string) (string, string, error) {
	column := "fain"
	if aggregate {
		column = "uri"
	}

	q := h.db.WithContext(ctx).
		Select("awarding_office_code", "funding_office_code").
		Where("submission_id <> ?", h.submissionID)
	if len(h.replaced) > 0 {
		q = q.Where("(is_active = ? OR id IN ?)", true, h.replaced)
	} else {
		q = q.Where("is_active = ?", true)
	}

	var found []models.PublishedFABS
	err := q.
		Where("UPPER("+column+") = ? AND UPPER(awarding_sub_tier_agency_c) = ?",
			strings.ToUpper(strings.TrimSpace(id)), strings.ToUpper(strings.TrimSpace(subTier))).
		Order("action_date, award_modification_amendme, id").
		Find(&found).Error
	if err != nil {
		return "", "", err
	}

	var awarding, funding string
	for _, f := range found {
		if awarding == "" {
			awarding = strings.TrimSpace(f.AwardingOfficeCode)
		}
		if funding == "" {
			funding = strings.TrimSpace(f.FundingOfficeCode)
		}
	}
	return awarding, funding, nil
}
