package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errEmptyCSV = errors.New("csv has no data rows")

// extractCSV yields one unit per data row as "header: value" lines.
func extractCSV(_ context.Context, data []byte) ([]Unit, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, errEmptyCSV
	}
	headers := records[0]
	units := make([]Unit, 0, len(records)-1)
	for i, row := range records[1:] {
		block := rowBlock(headers, row)
		if block == "" {
			continue
		}
		units = append(units, Unit{Text: block, Metadata: map[string]string{"row": strconv.Itoa(i + 1)}})
	}
	return units, nil
}

func rowBlock(headers, row []string) string {
	lines := make([]string, 0, len(row))
	for i, v := range row {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		h := ""
		if i < len(headers) {
			h = strings.TrimSpace(headers[i])
		}
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		lines = append(lines, h+": "+v)
	}
	return strings.Join(lines, "\n")
}
