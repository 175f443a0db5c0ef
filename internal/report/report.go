// Package report renders validation findings as CSV files.
package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Header layouts.
var (
	SingleFileHeader = []string{
		"Unique ID", "Field Name", "Rule Message", "Value Provided", "Expected Value",
		"Difference", "Flex Field", "Row Number", "Rule Label",
	}
	CrossFileHeader = []string{
		"Unique ID", "Source File", "Source Field Name", "Target File", "Target Field Name",
		"Rule Message", "Source Value Provided", "Target Value Provided", "Difference",
		"Source Flex Field", "Source Row Number", "Rule Label",
	}
	HeaderErrorHeader = []string{"Error type", "Header name"}
)

// Line is one finding occurrence. Cross lines also carry the files and the
// target side.
type Line struct {
	UniqueID        string
	SourceFile      string
	FieldName       string
	TargetFile      string
	TargetFieldName string
	Message         string
	ValueProvided   string
	TargetValue     string
	Expected        string
	Difference      string
	FlexField       string
	Row             int
	RuleLabel       string
}

// HeaderProblem is one row of a header error report.
type HeaderProblem struct {
	Type   string
	Header string
}

const (
	MissingHeader    = "Missing header"
	DuplicatedHeader = "Duplicated header"
	EmptyFile        = "Empty file"
)

// Sort orders lines by row number, then rule label.
func Sort(lines []Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Row != lines[j].Row {
			return lines[i].Row < lines[j].Row
		}
		return lines[i].RuleLabel < lines[j].RuleLabel
	})
}

// WriteSingle writes a single-file report. Lines are sorted first.
func WriteSingle(w io.Writer, lines []Line) error {
	Sort(lines)
	cw := csv.NewWriter(w)
	if err := cw.Write(SingleFileHeader); err != nil {
		return err
	}
	for _, l := range lines {
		err := cw.Write([]string{
			l.UniqueID, l.FieldName, l.Message, l.ValueProvided, l.Expected,
			l.Difference, l.FlexField, rowNumber(l.Row), l.RuleLabel,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCross writes a cross-file report. Lines are sorted first.
func WriteCross(w io.Writer, lines []Line) error {
	Sort(lines)
	cw := csv.NewWriter(w)
	if err := cw.Write(CrossFileHeader); err != nil {
		return err
	}
	for _, l := range lines {
		err := cw.Write([]string{
			l.UniqueID, l.SourceFile, l.FieldName, l.TargetFile, l.TargetFieldName,
			l.Message, l.ValueProvided, l.TargetValue, l.Difference,
			l.FlexField, rowNumber(l.Row), l.RuleLabel,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHeaderErrors writes a header error report.
func WriteHeaderErrors(w io.Writer, problems []HeaderProblem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(HeaderErrorHeader); err != nil {
		return err
	}
	for _, p := range problems {
		if err := cw.Write([]string{p.Type, p.Header}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Pair is a labelled value rendered into a report cell.
type Pair struct {
	Name  string
	Value string
}

// Join renders pairs as "name1: value1, name2: value2".
func Join(pairs []Pair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.Name + ": " + p.Value
	}
	return strings.Join(parts, ", ")
}

// JoinPresent is Join over the pairs with a non-blank value, separated by
// "; ". It renders unique IDs.
func JoinPresent(pairs []Pair) string {
	var parts []string
	for _, p := range pairs {
		if strings.TrimSpace(p.Value) != "" {
			parts = append(parts, p.Name+": "+p.Value)
		}
	}
	return strings.Join(parts, "; ")
}

// Name builds the object name of a report.
func Name(submissionID, file string, warning bool) string {
	kind := "error"
	if warning {
		kind = "warning"
	}
	return "submission_" + submissionID + "_" + file + "_" + kind + "_report.csv"
}

// CrossName builds the object name of a cross-file report.
func CrossName(submissionID, source, target string, warning bool) string {
	return Name(submissionID, "cross_"+source+"_"+target, warning)
}

func rowNumber(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
