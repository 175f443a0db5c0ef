package schema

import (
	"strings"

	"github.com/thoas/go-funk"
)

const flexPrefix = "flex_"

// Column is one resolved header position.
type Column struct {
	Index  int
	Header string
	// Field is the declared field name, empty for flex columns.
	Field string
	Flex  bool
}

// Resolution is the outcome of matching a header row against a schema.
type Resolution struct {
	Columns    []Column
	Missing    []string
	Duplicated []string
	Dropped    []string
}

// OK reports whether the header row is structurally acceptable.
func (r *Resolution) OK() bool {
	return len(r.Missing) == 0 && len(r.Duplicated) == 0
}

// Resolve maps raw headers, in the long, short or alias form, to declared
// fields. Unknown flex_ headers are kept; other unknown headers are dropped.
func (s *Schema) Resolve(headers []string) *Resolution {
	res := &Resolution{}
	var seen []string

	for i, raw := range headers {
		key := normaliseHeader(raw)
		if key == "" {
			continue
		}
		header := strings.TrimSpace(raw)

		if idx, ok := s.byHeader[key]; ok {
			name := s.Fields[idx].Name
			if funk.ContainsString(seen, name) {
				res.Duplicated = append(res.Duplicated, header)
				continue
			}
			seen = append(seen, name)
			res.Columns = append(res.Columns, Column{Index: i, Header: header, Field: name})
			continue
		}

		if strings.HasPrefix(key, flexPrefix) {
			res.Columns = append(res.Columns, Column{Index: i, Header: header, Flex: true})
			continue
		}
		res.Dropped = append(res.Dropped, header)
	}

	missing := funk.FilterString(s.Names(), func(name string) bool {
		return !funk.ContainsString(seen, name)
	})
	for _, name := range missing {
		f, _ := s.Field(name)
		res.Missing = append(res.Missing, f.Header)
	}
	res.Duplicated = funk.UniqString(res.Duplicated)

	return res
}
