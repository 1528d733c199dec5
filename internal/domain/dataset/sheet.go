package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

const (
	imageColumn = "image"
	labelColumn = "label"
)

// Sheet is a parsed table. Header cells are trimmed; rows are padded to the
// header width.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// ParseSheet reads the first worksheet of an .xlsx file or a .csv file,
// chosen by the file extension.
func ParseSheet(name string, data []byte) (*Sheet, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		records, err = readXLSX(data)
	case ".csv":
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		records, err = r.ReadAll()
	default:
		return nil, apperr.New(apperr.ValidationFailed, "sheet must be .xlsx or .csv, got %q", name)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ValidationFailed, "cannot read sheet %s", name)
	}
	if len(records) == 0 {
		return nil, apperr.New(apperr.ValidationFailed, "sheet %s is empty", name)
	}

	s := &Sheet{Header: make([]string, len(records[0]))}
	for i, h := range records[0] {
		s.Header[i] = strings.TrimSpace(h)
	}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]string, len(s.Header))
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheet)
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (s *Sheet) column(name string) int {
	for i, h := range s.Header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// Join matches every row's image column against the uploaded images, keyed
// by file name. Any row naming an image that was not uploaded fails the
// whole sheet with the missing names listed.
func (s *Sheet) Join(images map[string]string) ([]Row, error) {
	imgCol := s.column(imageColumn)
	if imgCol < 0 {
		return nil, apperr.New(apperr.ValidationFailed, "sheet has no %q column", imageColumn)
	}
	labelCol := s.column(labelColumn)

	var (
		rows    = make([]Row, 0, len(s.Rows))
		missing = map[string]bool{}
	)
	for i, rec := range s.Rows {
		name := rec[imgCol]
		ref, ok := images[name]
		if !ok {
			missing[name] = true
			continue
		}
		row := Row{Position: i + 1, ImageName: name, ImageRef: ref, Fields: map[string]string{}}
		for c, h := range s.Header {
			switch {
			case c == imgCol:
			case c == labelCol:
				row.Label = rec[c]
			case h != "":
				row.Fields[h] = rec[c]
			}
		}
		rows = append(rows, row)
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, fmt.Sprintf("%q", n))
		}
		sort.Strings(names)
		return nil, apperr.New(apperr.ValidationFailed, "sheet references images that were not uploaded: %s", strings.Join(names, ", "))
	}
	return rows, nil
}
