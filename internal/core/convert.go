package core

// convert.go normalizes raw CSV cells into the values stored on records.
//
// Exports from other practice software are inconsistent:
//   - Dates come as ISO (2024-03-05, 2024-3-5) or French (05/03/2024, 5.3.24)
//   - Gender comes as F, Femme, Féminin, W, M, Homme or nothing at all
//   - Excel sometimes wraps values as ="..." formulas
//
// Normalizers never fail. Unparseable dates report ok=false and the caller
// omits the field; unrecognized genders default to male.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// TwoDigitYearPivot splits two-digit years: values at or above the pivot are
// read as 19xx, values below as 20xx.
var TwoDigitYearPivot = 50

var (
	isoDateRegex       = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	frenchDateRegex    = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)
	frenchShortDateRgx = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2})$`)
)

// femaleTokens are the uppercased spellings read as female.
var femaleTokens = map[string]bool{
	"F":        true,
	"FEMME":    true,
	"FEMININ":  true,
	"FEMININE": true,
	"FÉMININ":  true,
	"W":        true,
}

// ParseDateToISO converts a raw date cell to YYYY-MM-DD. Formats are tried in
// order: ISO (validated against the calendar), French D/M/YYYY and French
// D/M/YY. The French forms accept '/', '-' or '.' as separators and only
// range-check their parts, so 31/02/2024 yields "2024-02-31".
func ParseDateToISO(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if m := isoDateRegex.FindStringSubmatch(s); m != nil {
		y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
		t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
			return "", false
		}
		return formatISODate(y, mo, d), true
	}

	if m := frenchDateRegex.FindStringSubmatch(s); m != nil {
		d, mo, y := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if !inRange(d, mo, y) {
			return "", false
		}
		return formatISODate(y, mo, d), true
	}

	if m := frenchShortDateRgx.FindStringSubmatch(s); m != nil {
		d, mo, yy := atoi(m[1]), atoi(m[2]), atoi(m[3])
		y := 2000 + yy
		if yy >= TwoDigitYearPivot {
			y = 1900 + yy
		}
		if !inRange(d, mo, y) {
			return "", false
		}
		return formatISODate(y, mo, d), true
	}

	return "", false
}

// NormalizeGender maps a free-text gender to F or M. Anything not recognized
// as female, including an empty cell, is M.
func NormalizeGender(raw string) Gender {
	if femaleTokens[strings.ToUpper(strings.TrimSpace(raw))] {
		return GenderFemale
	}
	return GenderMale
}

func inRange(d, mo, y int) bool {
	return d >= 1 && d <= 31 && mo >= 1 && mo <= 12 && y >= 1900 && y <= 2100
}

func formatISODate(y, mo, d int) string {
	return fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
}

// atoi is only called on regex-matched digit groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a YYYY-MM-DD string to pgtype.Date.
// Empty input is NULL; a string that is not a real calendar date is an error
// so the row is reported instead of silently losing the value.
func ToPgDate(s string) (pgtype.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return pgtype.Date{}, fmt.Errorf("invalid date %q", s)
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

// ToPgTimestamp converts a YYYY-MM-DDTHH:MM:SS string to pgtype.Timestamp.
func ToPgTimestamp(s string) (pgtype.Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Timestamp{Valid: false}, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return pgtype.Timestamp{}, fmt.Errorf("invalid date %q", s)
	}
	return pgtype.Timestamp{Time: t, Valid: true}, nil
}

// ToPgUUID converts a uuid.UUID to pgtype.UUID.
// The nil UUID is stored as NULL.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgUUIDToUUID converts a pgtype.UUID back, returning uuid.Nil when invalid.
func PgUUIDToUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return uuid.UUID(u.Bytes)
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
