package rule

import (
	"strconv"
	"strings"

	"github.com/fedspend/broker/internal/schema"
)

// Condition guards a predicate: the predicate is only evaluated on rows
// where every condition holds.
type Condition struct {
	Field  string   `yaml:"field" validate:"required"`
	Op     string   `yaml:"op" validate:"required,oneof=eq ne in not_in blank present gte lte contains not_contains"`
	Value  string   `yaml:"value"`
	Values []string `yaml:"values"`
}

// Holds evaluates the condition against a parsed row. Text comparisons are
// case-insensitive; gte and lte compare numerically when both sides are
// numbers and lexically otherwise, which orders YYYY-MM-DD dates.
func (c Condition) Holds(row schema.Row) bool {
	v := Text(row, c.Field)
	switch c.Op {
	case "eq":
		return strings.EqualFold(v, c.Value)
	case "ne":
		return !strings.EqualFold(v, c.Value)
	case "in":
		return containsFold(c.Values, v)
	case "not_in":
		return !containsFold(c.Values, v)
	case "blank":
		return v == ""
	case "present":
		return v != ""
	case "gte":
		return v != "" && compare(v, c.Value) >= 0
	case "lte":
		return v != "" && compare(v, c.Value) <= 0
	case "contains":
		return strings.Contains(strings.ToUpper(v), strings.ToUpper(c.Value))
	case "not_contains":
		return !strings.Contains(strings.ToUpper(v), strings.ToUpper(c.Value))
	}
	return false
}

func holdAll(conds []Condition, row schema.Row) bool {
	for _, c := range conds {
		if !c.Holds(row) {
			return false
		}
	}
	return true
}

// Text renders a parsed value as trimmed text, "" when absent.
func Text(row schema.Row, field string) string {
	switch v := row.Values[field].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func compare(a, b string) int {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}
