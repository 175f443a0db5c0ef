package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type delimited struct {
	reader *csv.Reader
	header []string
	row    int
}

// NewDelimited reads comma or pipe separated text. The delimiter is the one
// found on the header line; pipe wins when both appear.
func NewDelimited(r io.Reader) (Source, error) {
	br := bufio.NewReader(r)
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if strings.TrimSpace(first) == "" {
		return nil, ErrEmpty
	}

	reader := csv.NewReader(io.MultiReader(strings.NewReader(first), br))
	reader.Comma = DetectDelimiter(first)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return &delimited{reader: reader, header: header, row: 1}, nil
}

// DetectDelimiter returns '|' when the header line contains a pipe and ','
// otherwise.
func DetectDelimiter(headerLine string) rune {
	if strings.Contains(headerLine, "|") {
		return '|'
	}
	return ','
}

func (d *delimited) Header() []string {
	return d.header
}

func (d *delimited) Next() (Record, error) {
	for {
		values, err := d.reader.Read()
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		d.row++

		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return Record{RowNumber: d.row, Values: values, Err: perr}, nil
		}
		if err != nil {
			return Record{}, err
		}
		if blank(values) {
			continue
		}
		if len(values) != len(d.header) {
			return Record{
				RowNumber: d.row,
				Values:    values,
				Err:       fmt.Errorf("row has %d fields, header has %d", len(values), len(d.header)),
			}, nil
		}
		return Record{RowNumber: d.row, Values: values}, nil
	}
}

func (d *delimited) Close() error {
	return nil
}
