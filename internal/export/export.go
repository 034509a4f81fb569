// Package export renders stored vacancies as CSV, JSON or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/marketscope/vacancy-crawler/internal/scrape"
)

// Format selects an output encoding.
type Format string

// Supported export formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv, json or xlsx)", s)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	return string(f)
}

var columns = []string{
	"link", "title", "company", "location", "experience", "remote",
	"key_skills", "salary_min", "salary_max", "currency", "created_at",
}

// Write encodes the vacancies in the requested format.
func Write(w io.Writer, format Format, vacancies []scrape.Vacancy) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, vacancies)
	case FormatJSON:
		return WriteJSON(w, vacancies)
	case FormatXLSX:
		return WriteXLSX(w, vacancies)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteCSV writes a header row followed by one row per vacancy.
func WriteCSV(w io.Writer, vacancies []scrape.Vacancy) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, v := range vacancies {
		row := make([]string, 0, len(columns))
		for _, cell := range record(v) {
			row = append(row, fmt.Sprint(cell))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSON writes the vacancies as a JSON array.
func WriteJSON(w io.Writer, vacancies []scrape.Vacancy) error {
	if vacancies == nil {
		vacancies = []scrape.Vacancy{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vacancies); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with a single Vacancies sheet.
func WriteXLSX(w io.Writer, vacancies []scrape.Vacancy) error {
	const sheet = "Vacancies"

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}
	for i, v := range vacancies {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("compute cell: %w", err)
		}
		row := record(v)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write xlsx row: %w", err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// record flattens a vacancy into cell values ordered like columns.
func record(v scrape.Vacancy) []any {
	return []any{
		v.Link,
		v.Title,
		v.Company,
		v.Location,
		string(v.Experience),
		strconv.FormatBool(v.Remote),
		strings.Join(v.KeySkills, "; "),
		optInt(v.SalaryMin),
		optInt(v.SalaryMax),
		optStr(v.Currency),
		v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func optInt(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func optStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
