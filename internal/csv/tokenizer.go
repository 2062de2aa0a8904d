// Package csv tokenizes CSV exports produced by practice-management software.
//
// Exports in the wild use either commas or semicolons (French Excel defaults to
// semicolons), so the delimiter is detected from the header line rather than
// configured. Quoting follows RFC 4180: a quoted field may contain delimiters,
// newlines and doubled quotes.
//
// The tokenizer is deliberately lenient. An unterminated quote consumes the
// remainder of the input as part of the current field instead of failing.
package csv

import "strings"

const (
	Comma     = ','
	Semicolon = ';'
)

// utf8BOM is prepended by Excel when saving "CSV UTF-8".
const utf8BOM = "\ufeff"

type state int

const (
	stateNormal state = iota
	stateInQuotes
)

// StripBOM removes a leading UTF-8 byte order mark if present.
func StripBOM(text string) string {
	return strings.TrimPrefix(text, utf8BOM)
}

// DetectDelimiter inspects the first line of text and returns ';' when it holds
// strictly more semicolons than commas, otherwise ','.
func DetectDelimiter(text string) rune {
	firstLine := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		firstLine = text[:i]
	}

	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		return Semicolon
	}
	return Comma
}

// Parse splits text into rows of trimmed cells using the auto-detected delimiter.
// Rows whose cells are all empty after trimming are dropped.
func Parse(text string) [][]string {
	return ParseWith(text, DetectDelimiter(text))
}

// ParseWith splits text into rows using an explicit delimiter.
func ParseWith(text string, delim rune) [][]string {
	var (
		rows  [][]string
		row   []string
		field strings.Builder
		st    = stateNormal
	)

	endField := func() {
		row = append(row, strings.TrimSpace(field.String()))
		field.Reset()
	}
	endRow := func() {
		endField()
		if !isBlank(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if st == stateInQuotes {
			if c == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					field.WriteRune('"')
					i++
					continue
				}
				st = stateNormal
				continue
			}
			field.WriteRune(c)
			continue
		}

		switch c {
		case '"':
			st = stateInQuotes
		case delim:
			endField()
		case '\r':
			// dropped; "\r\n" ends the row on '\n'
		case '\n':
			endRow()
		default:
			field.WriteRune(c)
		}
	}

	if field.Len() > 0 || len(row) > 0 {
		endRow()
	}

	return rows
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
