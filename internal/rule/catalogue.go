package rule

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/schema"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed rules/*.yaml
var embedded embed.FS

// ErrDuplicateLabel is returned when two catalogue entries share a label.
var ErrDuplicateLabel = errors.New("duplicate rule label")

// Catalogue is the validated, indexed set of rules.
type Catalogue struct {
	rules   []*Rule
	byLabel map[string]*Rule
}

// Default loads the embedded catalogue.
func Default() (*Catalogue, error) {
	return Load(nil)
}

// Load reads the embedded catalogue plus every file matched by the
// doublestar patterns.
func Load(patterns []string) (*Catalogue, error) {
	sets, err := embeddedSets()
	if err != nil {
		return nil, err
	}

	files, err := Match(patterns)
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(name, data)
		if err != nil {
			return nil, err
		}
		sets = append(sets, parsed...)
	}

	return New(sets...)
}

// Match expands doublestar patterns into a sorted, de-duplicated file list.
func Match(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule path %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func embeddedSets() ([]*RuleSet, error) {
	entries, err := embedded.ReadDir("rules")
	if err != nil {
		return nil, err
	}
	var sets []*RuleSet
	for _, entry := range entries {
		name := path.Join("rules", entry.Name())
		data, err := embedded.ReadFile(name)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(name, data)
		if err != nil {
			return nil, err
		}
		sets = append(sets, parsed...)
	}
	return sets, nil
}

// Parse decodes, validates and compiles every RuleSet document in data.
func Parse(name string, data []byte) ([]*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sets []*RuleSet
	for {
		var set RuleSet
		err := dec.Decode(&set)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := set.compile(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sets = append(sets, &set)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s: no rule sets", name)
	}
	return sets, nil
}

// New indexes rule sets, rejecting duplicate labels.
func New(sets ...*RuleSet) (*Catalogue, error) {
	c := &Catalogue{byLabel: map[string]*Rule{}}
	for _, set := range sets {
		for _, r := range set.Rules {
			if _, dup := c.byLabel[r.Label]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateLabel, r.Label)
			}
			c.byLabel[r.Label] = r
			c.rules = append(c.rules, r)
		}
	}
	return c, nil
}

// Rules returns every rule in load order.
func (c *Catalogue) Rules() []*Rule {
	return c.rules
}

func (c *Catalogue) Get(label string) (*Rule, bool) {
	r, ok := c.byLabel[label]
	return r, ok
}

// For returns the rules of one scope attributed to a file type.
func (c *Catalogue) For(ft models.FileType, scope Scope) []*Rule {
	var out []*Rule
	for _, r := range c.rules {
		if r.File == ft && r.Scope == scope {
			out = append(out, r)
		}
	}
	return out
}

// Cross returns the cross rules of the pair, in either direction.
func (c *Catalogue) Cross(a, b models.FileType) []*Rule {
	var out []*Rule
	for _, r := range c.rules {
		if r.Pairs(a, b) {
			out = append(out, r)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("filetype", fileTypeValidator)
	_ = v.RegisterValidation("predicate", predicateValidator)
	v.RegisterStructValidation(ruleValidator, Rule{})
	return v
}

func fileTypeValidator(fl validator.FieldLevel) bool {
	ft := models.FileType(fl.Field().String())
	return ft.Staged()
}

func predicateValidator(fl validator.FieldLevel) bool {
	_, ok := checks[fl.Field().String()]
	return ok
}

func ruleValidator(sl validator.StructLevel) {
	r := sl.Current().Interface().(Rule)
	switch r.Scope {
	case ScopeRow:
		if r.Predicate == nil {
			sl.ReportError(r.Predicate, "Predicate", "predicate", "required_for_row", "")
		}
		if r.Query != "" {
			sl.ReportError(r.Query, "Query", "query", "excluded_for_row", "")
		}
	case ScopeFile, ScopeCross:
		if r.Query == "" {
			sl.ReportError(r.Query, "Query", "query", "required_for_set", "")
		}
		if r.Predicate != nil {
			sl.ReportError(r.Predicate, "Predicate", "predicate", "excluded_for_set", "")
		}
	}
	if r.Scope == ScopeCross && (r.TargetFile == "" || r.TargetFile == r.File) {
		sl.ReportError(r.TargetFile, "TargetFile", "target_file", "distinct_target", "")
	}
}

func (s *RuleSet) compile() error {
	for _, r := range s.Rules {
		if r != nil && r.File == "" {
			r.File = s.File
		}
	}
	if err := validate.Struct(s); err != nil {
		return err
	}

	for _, r := range s.Rules {
		if err := r.compile(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Label, err)
		}
	}
	return nil
}

func (r *Rule) compile() error {
	src := schema.MustFor(r.File)
	for _, f := range r.Fields {
		if _, ok := src.Field(f); !ok {
			return fmt.Errorf("unknown %s field %q", r.File, f)
		}
	}
	if r.Cross() {
		target := schema.MustFor(r.TargetFile)
		for _, f := range r.TargetFields {
			if _, ok := target.Field(f); !ok {
				return fmt.Errorf("unknown %s field %q", r.TargetFile, f)
			}
		}
	}

	p := r.Predicate
	if p == nil {
		return nil
	}
	if p.Field == "" {
		p.Field = r.Fields[0]
	}
	p.fields = r.Fields
	for _, f := range append([]string{p.Field}, conditionFields(p.When)...) {
		if _, ok := src.Field(f); !ok {
			return fmt.Errorf("unknown %s field %q", r.File, f)
		}
	}
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
		p.re = re
	}
	return nil
}

func conditionFields(conds []Condition) []string {
	out := make([]string, len(conds))
	for i, c := range conds {
		out[i] = c.Field
	}
	return out
}
