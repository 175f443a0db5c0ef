package schema

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fedspend/broker/internal/models"
)

// DateLayout is the normalised form of every parsed date.
const DateLayout = "2006-01-02"

var dateLayouts = []string{"20060102", DateLayout, "01/02/2006", "1/2/2006"}

// Problem is a field level defect found while parsing a row.
type Problem struct {
	Field string
	Type  models.ErrorType
	Value string
}

// Row is a parsed record: typed values keyed by field name plus the trimmed
// raw input for reporting.
type Row struct {
	Values map[string]interface{}
	Raw    map[string]string
}

// String returns a text value, or "" when absent.
func (r Row) String(field string) string {
	if s, ok := r.Values[field].(string); ok {
		return s
	}
	return ""
}

// Parse converts raw cell text into typed values. Blank strings stay "",
// blank numerics and booleans are nil. A field with a type or length
// problem keeps its raw text out of Values.
func (s *Schema) Parse(raw map[string]string) (Row, []Problem) {
	row := Row{
		Values: make(map[string]interface{}, len(s.Fields)),
		Raw:    make(map[string]string, len(s.Fields)),
	}
	var problems []Problem

	for _, f := range s.Fields {
		text := strings.TrimSpace(raw[f.Name])
		row.Raw[f.Name] = text

		if text == "" {
			if f.Type == TypeString || f.Type == TypeDate {
				row.Values[f.Name] = ""
			} else {
				row.Values[f.Name] = nil
			}
			if f.Required {
				problems = append(problems, Problem{Field: f.Name, Type: models.ErrorTypeRequired})
			}
			continue
		}

		value, ok := convert(f.Type, text)
		if !ok {
			problems = append(problems, Problem{Field: f.Name, Type: models.ErrorTypeType, Value: text})
			row.Values[f.Name] = nil
			continue
		}
		if f.Type == TypeString && f.Length > 0 && utf8.RuneCountInString(text) > f.Length {
			problems = append(problems, Problem{Field: f.Name, Type: models.ErrorTypeLength, Value: text})
		}
		row.Values[f.Name] = value
	}

	if s.HasTAS() {
		row.Values["display_tas"] = models.DisplayTASFromValues(row.Values)
	}
	return row, problems
}

func convert(t FieldType, text string) (interface{}, bool) {
	switch t {
	case TypeString:
		return text, true
	case TypeDecimal:
		v, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64)
		return v, err == nil
	case TypeInt:
		v, err := strconv.Atoi(strings.ReplaceAll(text, ",", ""))
		return v, err == nil
	case TypeBoolean:
		switch strings.ToLower(text) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
		return nil, false
	case TypeDate:
		d, ok := ParseDate(text)
		if !ok {
			return nil, false
		}
		return d.Format(DateLayout), true
	}
	return nil, false
}

// ParseDate accepts YYYYMMDD, YYYY-MM-DD and MM/DD/YYYY.
func ParseDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, text); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
