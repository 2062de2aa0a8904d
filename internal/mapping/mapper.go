package mapping

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNameNotMapped is returned by Validate when neither last_name nor full_name
// is assigned to a column.
var ErrNameNotMapped = errors.New("no column mapped to last_name or full_name")

// ErrColumnOutOfRange is returned by Assign for a column index outside the mapping.
var ErrColumnOutOfRange = errors.New("column out of range")

// ColumnMapping assigns a field key to each column index.
// Every key other than Ignore appears in at most one column.
type ColumnMapping []FieldKey

// NewColumnMapping returns a mapping of n columns, all ignored.
func NewColumnMapping(n int) ColumnMapping {
	m := make(ColumnMapping, n)
	for i := range m {
		m[i] = Ignore
	}
	return m
}

// AutoDetect builds a mapping from headers using the alias dictionary.
// Each header is looked up as written, then without diacritics. When two
// headers resolve to the same key, the first column keeps it and the later
// one stays ignored.
func AutoDetect(headers []string) ColumnMapping {
	m := NewColumnMapping(len(headers))
	claimed := make(map[FieldKey]bool, len(headers))

	for i, h := range headers {
		key, ok := Lookup(h)
		if !ok || claimed[key] {
			continue
		}
		m[i] = key
		claimed[key] = true
	}

	return m
}

// Lookup resolves a single header against the alias dictionary.
func Lookup(header string) (FieldKey, bool) {
	normalized := NormalizeHeader(header)
	if normalized == "" {
		return "", false
	}
	if key, ok := aliases[normalized]; ok {
		return key, true
	}
	if key, ok := aliases[StripDiacritics(normalized)]; ok {
		return key, true
	}
	return "", false
}

// NormalizeHeader lowercases and trims a header and collapses inner whitespace.
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

// StripDiacritics removes combining marks: "Prénom" becomes "Prenom".
func StripDiacritics(s string) string {
	// transform.Chain keeps state, so a fresh chain is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Assign maps column col to key. Any other column holding key is reset to
// Ignore first. Assigning Ignore simply clears col.
func (m ColumnMapping) Assign(col int, key FieldKey) error {
	if col < 0 || col >= len(m) {
		return fmt.Errorf("%w: %d (have %d columns)", ErrColumnOutOfRange, col, len(m))
	}
	if !key.Valid() {
		return fmt.Errorf("unknown field %q", key)
	}

	if key != Ignore {
		for i, k := range m {
			if k == key {
				m[i] = Ignore
			}
		}
	}
	m[col] = key
	return nil
}

// Column returns the column mapped to key.
func (m ColumnMapping) Column(key FieldKey) (int, bool) {
	if key == Ignore {
		return -1, false
	}
	for i, k := range m {
		if k == key {
			return i, true
		}
	}
	return -1, false
}

// Field returns the key mapped to col, or Ignore when col is out of range.
func (m ColumnMapping) Field(col int) FieldKey {
	if col < 0 || col >= len(m) {
		return Ignore
	}
	return m[col]
}

// Has reports whether any of keys is mapped.
func (m ColumnMapping) Has(keys ...FieldKey) bool {
	for _, key := range keys {
		if _, ok := m.Column(key); ok {
			return true
		}
	}
	return false
}

// HasKind reports whether any column feeds a field of kind.
func (m ColumnMapping) HasKind(kind Kind) bool {
	for _, k := range m {
		if k != Ignore && k.Kind() == kind {
			return true
		}
	}
	return false
}

// Validate checks that a name column is mapped.
func (m ColumnMapping) Validate() error {
	if !m.Has(LastName, FullName) {
		return ErrNameNotMapped
	}
	return nil
}

// Clone returns an independent copy.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	copy(out, m)
	return out
}

// Value returns the trimmed cell of row feeding key, or "" when the key is
// unmapped or the row is short.
func (m ColumnMapping) Value(row []string, key FieldKey) string {
	col, ok := m.Column(key)
	if !ok || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
