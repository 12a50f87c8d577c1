// Package export renders household records for download: spreadsheet-safe
// CSV, indented JSON and XLSX.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/boothsurvey/internal/model"
)

// BOM marks the CSV as UTF-8 for spreadsheet tools.
const BOM = "\uFEFF"

// DateTimeLayout matches the en-IN locale rendering, e.g. "1/3/2024, 2:30:05 pm".
const DateTimeLayout = "2/1/2006, 3:04:05 pm"

var Header = []string{
	"Date & Time",
	"Booth",
	"Household Booth",
	"User Name",
	"User Phone",
	"Household Name",
	"Household Phone",
	"Issues",
	"ID",
}

// Formatter renders records in a fixed location. Now supplies the time
// used for records that have no timestamp yet.
type Formatter struct {
	Location *time.Location
	Now      func() time.Time
}

func NewFormatter(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{Location: loc, Now: time.Now}
}

// Format is CSV with the default formatter (UTC, wall clock).
func Format(records []model.HouseholdRecord) string {
	return NewFormatter(time.UTC).CSV(records)
}

// CSV returns a BOM-prefixed CSV document with a header line and one line
// per record. Every cell is quoted. An empty input yields "".
func (f *Formatter) CSV(records []model.HouseholdRecord) string {
	if len(records) == 0 {
		return ""
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, csvLine(Header))
	for i := range records {
		lines = append(lines, csvLine(f.Row(&records[i])))
	}
	return BOM + strings.Join(lines, "\n")
}

// Row derives the export cells for one record, in Header order.
func (f *Formatter) Row(r *model.HouseholdRecord) []string {
	return []string{
		f.dateTime(r.CreatedAt),
		r.BoothNumber,
		r.BoothNumberField,
		r.UserName,
		textPhone(r.UserPhone),
		r.HouseholdName,
		textPhone(r.PhoneNumber),
		flattenLines(r.Issues),
		shortID(r.ID),
	}
}

func (f *Formatter) dateTime(t *time.Time) string {
	ts := f.now()
	if t != nil {
		ts = *t
	}
	return ts.In(f.location()).Format(DateTimeLayout)
}

func (f *Formatter) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

// In converts t to the formatter's location.
func (f *Formatter) In(t time.Time) time.Time {
	return t.In(f.location())
}

func (f *Formatter) location() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}

func csvLine(cells []string) string {
	quoted := make([]string, len(cells))
	for i, c := range cells {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ",")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// textPhone prefixes an apostrophe so spreadsheets keep leading zeros.
func textPhone(p string) string {
	if p == "" {
		return "-"
	}
	return "'" + p
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flattenLines(s string) string {
	return lineBreaks.Replace(s)
}

func shortID(id string) string {
	if r := []rune(id); len(r) > 8 {
		return string(r[:8])
	}
	return id
}

// FormatJSON renders records as an indented JSON array.
func FormatJSON(records []model.HouseholdRecord) ([]byte, error) {
	if records == nil {
		records = []model.HouseholdRecord{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	return b, nil
}

type Summary struct {
	TotalEntries     int    `json:"totalEntries"`
	UniqueBooths     int    `json:"uniqueBooths"`
	UniqueUsers      int    `json:"uniqueUsers"`
	UniqueHouseholds int    `json:"uniqueHouseholds"`
	GeneratedAt      string `json:"generatedAt"`
}

// Summarize counts entries and distinct booths, users and household phones.
func (f *Formatter) Summarize(records []model.HouseholdRecord) Summary {
	booths := make(map[string]struct{})
	users := make(map[string]struct{})
	households := make(map[string]struct{})
	for i := range records {
		booths[records[i].BoothNumber] = struct{}{}
		users[records[i].UserID] = struct{}{}
		households[records[i].PhoneNumber] = struct{}{}
	}
	return Summary{
		TotalEntries:     len(records),
		UniqueBooths:     len(booths),
		UniqueUsers:      len(users),
		UniqueHouseholds: len(households),
		GeneratedAt:      f.now().In(f.location()).Format(DateTimeLayout),
	}
}
