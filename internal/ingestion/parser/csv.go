package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// CSVParser turns each data row into one segment of "header: value" pairs
// located by sheet and row.
type CSVParser struct{}

func (CSVParser) Parse(ctx context.Context, r io.Reader, name string) ([]Segment, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sheet := strings.TrimSuffix(path.Base(name), path.Ext(name))
	var out []Segment
	for row := 2; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(rec))
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			col := fmt.Sprintf("column %d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				col = strings.TrimSpace(header[i])
			}
			parts = append(parts, col+": "+cell)
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, Segment{
			Text:     strings.Join(parts, "; "),
			Location: fmt.Sprintf("sheet %s row %d", sheet, row),
		})
	}
	return out, nil
}
