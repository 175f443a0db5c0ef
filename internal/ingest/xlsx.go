package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type spreadsheet struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	row    int
}

// NewXLSX reads the first sheet of a workbook. Trailing empty cells that
// excelize trims are padded back to the header width.
func NewXLSX(r io.Reader) (Source, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, ErrEmpty
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	s := &spreadsheet{file: f, rows: rows}
	for rows.Next() {
		s.row++
		header, err := rows.Columns()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if !blank(header) {
			s.header = header
			return s, nil
		}
	}
	s.Close()
	return nil, ErrEmpty
}

func (s *spreadsheet) Header() []string {
	return s.header
}

func (s *spreadsheet) Next() (Record, error) {
	for s.rows.Next() {
		s.row++
		values, err := s.rows.Columns()
		if err != nil {
			return Record{RowNumber: s.row, Err: err}, nil
		}
		if blank(values) {
			continue
		}
		if len(values) > len(s.header) {
			return Record{
				RowNumber: s.row,
				Values:    values,
				Err:       fmt.Errorf("row has %d fields, header has %d", len(values), len(s.header)),
			}, nil
		}
		for len(values) < len(s.header) {
			values = append(values, "")
		}
		return Record{RowNumber: s.row, Values: values}, nil
	}
	if err := s.rows.Error(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

func (s *spreadsheet) Close() error {
	if s.rows != nil {
		s.rows.Close()
	}
	return s.file.Close()
}
