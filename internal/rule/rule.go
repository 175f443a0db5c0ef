// Package rule holds the validation rule catalogue. Rules are data: a row
// rule names a Go predicate with arguments and guard conditions, a file or
// cross rule carries a parameterised SQL query over the staging tables.
package rule

import (
	"regexp"
	"strings"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/schema"
)

type Scope string

const (
	ScopeRow   Scope = "row"
	ScopeFile  Scope = "file"
	ScopeCross Scope = "cross"
)

// RuleSet is one catalogue document.
type RuleSet struct {
	APIVersion string          `yaml:"apiVersion" validate:"required,eq=v1"`
	Kind       string          `yaml:"kind" validate:"required,eq=RuleSet"`
	File       models.FileType `yaml:"file" validate:"required,filetype"`
	Rules      []*Rule         `yaml:"rules" validate:"required,min=1,dive,required"`
}

// Rule is one catalogue entry.
type Rule struct {
	Label           string                `yaml:"label" validate:"required"`
	OriginalLabel   string                `yaml:"original_label"`
	Severity        models.Severity       `yaml:"severity" validate:"required,oneof=fatal warning"`
	Scope           Scope                 `yaml:"scope" validate:"required,oneof=row file cross"`
	File            models.FileType       `yaml:"file" validate:"omitempty,filetype"`
	TargetFile      models.FileType       `yaml:"target_file" validate:"omitempty,filetype"`
	Fields          []string              `yaml:"fields" validate:"required,min=1,dive,required"`
	TargetFields    []string              `yaml:"target_fields" validate:"dive,required"`
	Message         string                `yaml:"message" validate:"required"`
	Expected        string                `yaml:"expected"`
	UniqueID        []schema.UniqueIDPart `yaml:"unique_id" validate:"dive"`
	SkipCorrections bool                  `yaml:"skip_corrections"`
	Predicate       *Predicate            `yaml:"predicate" validate:"omitempty"`
	Query           string                `yaml:"query"`
}

// Predicate names a registered check and its arguments. Field defaults to
// the first rule field.
type Predicate struct {
	Kind    string            `yaml:"kind" validate:"required,predicate"`
	Field   string            `yaml:"field"`
	Values  []string          `yaml:"values"`
	Pattern string            `yaml:"pattern"`
	Min     string            `yaml:"min"`
	Max     string            `yaml:"max"`
	Args    map[string]string `yaml:"args"`
	When    []Condition       `yaml:"when" validate:"dive"`

	fields []string
	re     *regexp.Regexp
}

// Arg returns a named argument, or def when unset.
func (p *Predicate) Arg(name, def string) string {
	if v, ok := p.Args[name]; ok && v != "" {
		return v
	}
	return def
}

// Cross reports whether the rule pairs two files.
func (r *Rule) Cross() bool {
	return r.Scope == ScopeCross
}

// Pairs reports whether the rule belongs to the cross job over a and b.
func (r *Rule) Pairs(a, b models.FileType) bool {
	return r.Cross() && ((r.File == a && r.TargetFile == b) || (r.File == b && r.TargetFile == a))
}

// Applies reports whether the rule runs on a row with the given CDI.
func (r *Rule) Applies(cdi string) bool {
	switch strings.ToUpper(strings.TrimSpace(cdi)) {
	case "D":
		return false
	case "C":
		return !r.SkipCorrections
	}
	return true
}

// Render fills {min}, {max} and {arg} placeholders of the message.
func (r *Rule) Render() string {
	if r.Predicate == nil || !strings.Contains(r.Message, "{") {
		return r.Message
	}
	pairs := []string{"{min}", r.Predicate.Min, "{max}", r.Predicate.Max}
	for k, v := range r.Predicate.Args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(r.Message)
}

// Labels returns the label and original label a finding is reported under.
func (r *Rule) Labels() (string, string) {
	if r.OriginalLabel == "" {
		return r.Label, r.Label
	}
	return r.Label, r.OriginalLabel
}
