// Package schema declares the typed column layout of every uploaded file
// type and resolves raw headers and cell values against it.
package schema

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/fedspend/broker/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed files/*.yaml
var files embed.FS

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// Field is one declared column.
type Field struct {
	Name     string    `yaml:"name"`
	Header   string    `yaml:"header"`
	Aliases  []string  `yaml:"aliases"`
	Type     FieldType `yaml:"type"`
	Length   int       `yaml:"length"`
	Required bool      `yaml:"required"`
}

// UniqueIDPart is one labelled component of the Unique ID report column.
type UniqueIDPart struct {
	Label string `yaml:"label"`
	Field string `yaml:"field"`
}

// Schema is the declared layout of one file type.
type Schema struct {
	FileType models.FileType `yaml:"file"`
	UniqueID []UniqueIDPart  `yaml:"unique_id"`
	Fields   []Field         `yaml:"fields"`

	byName   map[string]int
	byHeader map[string]int
}

var (
	loadOnce sync.Once
	loaded   map[models.FileType]*Schema
	loadErr  error
)

// For returns the schema of a staged file type.
func For(ft models.FileType) (*Schema, error) {
	loadOnce.Do(func() {
		loaded, loadErr = loadAll()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	s, ok := loaded[ft]
	if !ok {
		return nil, fmt.Errorf("no schema for file type %q", ft)
	}
	return s, nil
}

// MustFor is For that panics; for use with file types known to be staged.
func MustFor(ft models.FileType) *Schema {
	s, err := For(ft)
	if err != nil {
		panic(err)
	}
	return s
}

func loadAll() (map[models.FileType]*Schema, error) {
	entries, err := files.ReadDir("files")
	if err != nil {
		return nil, err
	}

	out := make(map[models.FileType]*Schema, len(entries))
	for _, entry := range entries {
		data, err := files.ReadFile("files/" + entry.Name())
		if err != nil {
			return nil, err
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", entry.Name(), err)
		}
		out[s.FileType] = s
	}
	return out, nil
}

// Parse decodes and indexes a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.FileType == "" {
		return nil, fmt.Errorf("file is required")
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) index() error {
	s.byName = make(map[string]int, len(s.Fields))
	s.byHeader = make(map[string]int, len(s.Fields)*3)

	for i, f := range s.Fields {
		switch f.Type {
		case TypeString, TypeInt, TypeDecimal, TypeBoolean, TypeDate:
		default:
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if _, dup := s.byName[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		s.byName[f.Name] = i

		for _, h := range append([]string{f.Name, f.Header}, f.Aliases...) {
			key := normaliseHeader(h)
			if key == "" {
				continue
			}
			if j, taken := s.byHeader[key]; taken && j != i {
				return fmt.Errorf("header %q maps to %q and %q", h, s.Fields[j].Name, f.Name)
			}
			s.byHeader[key] = i
		}
	}
	return nil
}

// Field looks up a declared field by short name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Names returns the declared field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Headers returns the long header of every field in order.
func (s *Schema) Headers() []string {
	headers := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		headers[i] = f.Header
	}
	return headers
}

// HasTAS reports whether the file carries treasury account symbols.
func (s *Schema) HasTAS() bool {
	_, ok := s.byName["agency_identifier"]
	return ok
}

func normaliseHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.Trim(strings.TrimSpace(h), `"`)
	return strings.ToLower(strings.TrimSpace(h))
}
