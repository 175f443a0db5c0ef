// Package ingest turns uploaded tabular files into a stream of raw records.
package ingest

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrEmpty is returned when a file carries no header row.
var ErrEmpty = errors.New("file is empty")

// Record is one data row. RowNumber counts the header as row 1, so the
// first data row is 2. Err is set when the row could not be read; the
// stream continues past it.
type Record struct {
	RowNumber int
	Values    []string
	Err       error
}

// Source is a forward-only row stream.
type Source interface {
	Header() []string
	// Next returns io.EOF after the last record.
	Next() (Record, error)
	Close() error
}

// Open picks a reader by file extension. Spreadsheets (.xlsx) are read from
// the first sheet; everything else is delimited text.
func Open(name string, r io.Reader) (Source, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return NewXLSX(r)
	}
	return NewDelimited(r)
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
