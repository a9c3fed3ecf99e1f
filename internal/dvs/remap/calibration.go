package remap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// calibrationFields is the maximum row width:
// source_index,dst1_x,dst1_y,dst2_x,dst2_y
const calibrationFields = 1 + 2*MaxFanOut

// LoadCalibrationFile reads an undistortion table from a CSV file.
func LoadCalibrationFile(path string, dims Dimensions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &dvs.LookupTableError{Path: path, Err: err}
	}
	defer f.Close()

	t, err := LoadCalibration(f, dims)
	if err != nil {
		var lerr *dvs.LookupTableError
		if errors.As(err, &lerr) && lerr.Path == "" {
			lerr.Path = path
		}
		return nil, err
	}
	return t, nil
}

// LoadCalibration parses calibration rows into a table over dims. The table
// starts with every pixel dropped; each row populates one source index.
// Trailing fields are optional and a negative destination marks the slot
// unused. Later rows for the same index replace earlier ones.
func LoadCalibration(r io.Reader, dims Dimensions) (*Table, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	t := NewEmptyTable(dims)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			line := 0
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &dvs.LookupTableError{Line: line, Err: err}
		}
		line, _ := reader.FieldPos(0)
		idx, entry, err := parseCalibrationRow(row, dims)
		if err != nil {
			return nil, &dvs.LookupTableError{Line: line, Err: err}
		}
		t.entries[idx] = entry
	}
	return t, nil
}

func parseCalibrationRow(row []string, dims Dimensions) (int, Entry, error) {
	if len(row) > calibrationFields {
		return 0, Entry{}, fmt.Errorf("expected at most %d fields, got %d", calibrationFields, len(row))
	}

	values := make([]int, len(row))
	for i, field := range row {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return 0, Entry{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = v
	}

	idx := values[0]
	if idx < 0 || idx >= dims.Len() {
		return 0, Entry{}, fmt.Errorf("source index %d outside [0, %d)", idx, dims.Len())
	}

	entry := emptyEntry()
	for slot := 0; slot < MaxFanOut; slot++ {
		xi, yi := 1+2*slot, 2+2*slot
		if yi >= len(values) {
			break
		}
		x, y := values[xi], values[yi]
		if x < 0 || y < 0 {
			continue
		}
		if !dims.Contains(x, y) {
			return 0, Entry{}, fmt.Errorf("destination %d (%d,%d) outside %dx%d frame", slot+1, x, y, dims.Width, dims.Height)
		}
		entry.add(Point{X: int32(x), Y: int32(y)})
	}
	return idx, entry, nil
}
