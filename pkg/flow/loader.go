package flow

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SchemaError reports that a dataset violates the input contract. One error
// describes the whole dataset: the first offending location plus a total count.
type SchemaError struct {
	Row        int    // 1-based data row, 0 for the header
	Column     string // offending column, empty for row-shape problems
	Value      string
	Reason     string
	Violations int
}

func (e *SchemaError) Error() string {
	loc := "header"
	if e.Row > 0 {
		loc = fmt.Sprintf("row %d", e.Row)
	}
	if e.Column != "" {
		loc += fmt.Sprintf(" column %q", e.Column)
	}
	msg := fmt.Sprintf("schema violation at %s: %s", loc, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %q)", e.Value)
	}
	if e.Violations > 1 {
		msg += fmt.Sprintf("; %d violations in total", e.Violations)
	}
	return msg
}

// LoadStats summarises a load.
type LoadStats struct {
	Path        string `json:"path"`
	MIME        string `json:"mime"`
	TotalRows   int    `json:"totalRows"`
	DroppedRows int    `json:"droppedRows"`
	Rows        int    `json:"rows"`
	Columns     int    `json:"columns"`
}

// LoadCSV sniffs, parses and validates the dataset at path.
func LoadCSV(path string) (*Dataset, *LoadStats, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("detect content type of %s: %w", path, err)
	}
	if !isText(mtype) {
		return nil, nil, &SchemaError{Reason: fmt.Sprintf("expected a text/csv file, got %s", mtype.String()), Violations: 1}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, stats, err := ReadCSV(f)
	if stats != nil {
		stats.Path = path
		stats.MIME = mtype.String()
	}
	return ds, stats, err
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// ReadCSV parses a dataset from r. Short rows and rows with an empty field
// are dropped and counted; every other contract violation is collected into
// one SchemaError.
func ReadCSV(r io.Reader) (*Dataset, *LoadStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &SchemaError{Reason: "missing header row", Violations: 1}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	colIndex, schemaErr := indexHeader(header)
	if schemaErr != nil {
		return nil, nil, schemaErr
	}

	stats := &LoadStats{Columns: len(Header)}
	var (
		records []Record
		first   *SchemaError
		count   int
	)
	violate := func(e *SchemaError) {
		count++
		if first == nil {
			first = e
		}
	}

	for row := 1; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", row, err)
		}
		stats.TotalRows++
		if len(rec) < len(header) {
			stats.DroppedRows++
			continue
		}
		if len(rec) > len(header) {
			violate(&SchemaError{Row: row, Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(rec))})
			continue
		}
		if hasMissing(rec) {
			stats.DroppedRows++
			continue
		}
		r, e := parseRecord(rec, colIndex, row)
		if e != nil {
			violate(e)
			continue
		}
		records = append(records, r)
	}

	if first != nil {
		first.Violations = count
		return nil, stats, first
	}
	stats.Rows = len(records)
	return NewDataset(records), stats, nil
}

func indexHeader(header []string) (map[string]int, *SchemaError) {
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		if _, dup := colIndex[col]; dup {
			return nil, &SchemaError{Column: col, Reason: "duplicate column", Violations: 1}
		}
		colIndex[col] = i
	}
	var missing []string
	for _, col := range Header {
		if _, ok := colIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Column: missing[0], Reason: "missing required column", Violations: len(missing)}
	}
	if len(colIndex) != len(Header) {
		for col := range colIndex {
			if col != ColumnLabel && col != ColumnDeviceType && !IsContinuous(col) {
				return nil, &SchemaError{Column: col, Reason: "unexpected column", Violations: len(colIndex) - len(Header)}
			}
		}
	}
	return colIndex, nil
}

func hasMissing(rec []string) bool {
	for _, v := range rec {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "na", "n/a", "nan", "null":
			return true
		}
	}
	return false
}

func parseRecord(rec []string, colIndex map[string]int, row int) (Record, *SchemaError) {
	var r Record
	raw := strings.TrimSpace(rec[colIndex[ColumnLabel]])
	label, err := ParseLabel(raw)
	if err != nil {
		return r, &SchemaError{Row: row, Column: ColumnLabel, Value: raw, Reason: "label outside {Normal, DDoS}"}
	}
	raw = strings.TrimSpace(rec[colIndex[ColumnDeviceType]])
	device, err := ParseDeviceType(raw)
	if err != nil {
		return r, &SchemaError{Row: row, Column: ColumnDeviceType, Value: raw, Reason: "device_type outside {camera, thermostat, light, speaker}"}
	}
	r.Label, r.Device = label, device

	targets := map[string]*float64{
		ColumnFlowPktsS:     &r.FlowPktsS,
		ColumnFlowBytsS:     &r.FlowBytsS,
		ColumnFlowDurationS: &r.FlowDurationS,
		ColumnAvgPktLen:     &r.AvgPktLen,
	}
	for _, col := range ContinuousColumns {
		raw := strings.TrimSpace(rec[colIndex[col]])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(v, 0) {
			return r, &SchemaError{Row: row, Column: col, Value: raw, Reason: "not a finite number"}
		}
		if v <= 0 {
			return r, &SchemaError{Row: row, Column: col, Value: raw, Reason: "must be strictly positive"}
		}
		*targets[col] = v
	}
	return r, nil
}

// WriteCSV writes ds with the canonical header. Numeric fields carry two
// decimals, flow_duration_s three.
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < ds.Len(); i++ {
		r := ds.Record(i)
		row := []string{
			string(r.Label),
			string(r.Device),
			strconv.FormatFloat(r.FlowPktsS, 'f', 2, 64),
			strconv.FormatFloat(r.FlowBytsS, 'f', 2, 64),
			strconv.FormatFloat(r.FlowDurationS, 'f', 3, 64),
			strconv.FormatFloat(r.AvgPktLen, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
