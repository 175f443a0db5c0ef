package derive

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed labels.yaml
var defaultLabels []byte

// Labels maps submitted codes to the descriptions published with them.
type Labels struct {
	ActionType         map[string]string   `yaml:"action_type"`
	AssistanceType     map[string]string   `yaml:"assistance_type"`
	CorrectionDelete   map[string]string   `yaml:"correction_delete"`
	RecordType         map[string]string   `yaml:"record_type"`
	BusinessFunds      map[string]string   `yaml:"business_funds"`
	BusinessTypes      map[string]string   `yaml:"business_types"`
	BusinessCategories map[string][]string `yaml:"business_categories"`
}

// DefaultLabels decodes the embedded label tables.
func DefaultLabels() (*Labels, error) {
	return ParseLabels(defaultLabels)
}

// ParseLabels decodes label tables. Codes are upper-cased.
func ParseLabels(data []byte) (*Labels, error) {
	var l Labels
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	for _, m := range []*map[string]string{
		&l.ActionType, &l.AssistanceType, &l.CorrectionDelete,
		&l.RecordType, &l.BusinessFunds, &l.BusinessTypes,
	} {
		*m = upperKeys(*m)
	}
	categories := make(map[string][]string, len(l.BusinessCategories))
	for k, v := range l.BusinessCategories {
		categories[strings.ToUpper(k)] = v
	}
	l.BusinessCategories = categories
	return &l, nil
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

func lookup(m map[string]string, code string) string {
	return m[strings.ToUpper(strings.TrimSpace(code))]
}

// BusinessTypesDescription joins the description of every known code with
// ";", in input order.
func (l *Labels) BusinessTypesDescription(codes string) string {
	var out []string
	for _, c := range strings.ToUpper(strings.TrimSpace(codes)) {
		if d, ok := l.BusinessTypes[string(c)]; ok {
			out = append(out, d)
		}
	}
	return strings.Join(out, ";")
}

// Categories returns the sorted distinct business categories of the codes.
func (l *Labels) Categories(codes string) []string {
	seen := map[string]struct{}{}
	for _, c := range strings.ToUpper(strings.TrimSpace(codes)) {
		for _, cat := range l.BusinessCategories[string(c)] {
			seen[cat] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}
