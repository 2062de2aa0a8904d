package core

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/JonMunkholm/PatientImport/internal/csv"
	"github.com/JonMunkholm/PatientImport/internal/mapping"
)

// DefaultMaxFileSize bounds uploaded files.
const DefaultMaxFileSize int64 = 20 << 20

// previewRows is how many data rows a SessionView carries.
const previewRows = 5

// ImportSession is one file moving through upload, mapping and import.
// It is created by NewImportSession and discarded on reset or expiry.
type ImportSession struct {
	ID        string
	FileName  string
	Delimiter rune
	Headers   []string
	Rows      [][]string // data rows, header excluded
	Mapping   mapping.ColumnMapping
	Phase     ImportPhase
	CreatedAt time.Time
}

// NewImportSession checks and tokenizes an uploaded file, then proposes a
// mapping from its headers. maxSize <= 0 uses DefaultMaxFileSize.
//
// The returned error wraps ErrFileFormat when the file is not a .csv, is too
// large, is not UTF-8, or has fewer than two rows.
func NewImportSession(fileName string, data []byte, maxSize int64) (*ImportSession, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return nil, fileFormatError("not a csv file: %q", fileName)
	}
	if len(data) == 0 {
		return nil, fileFormatError("no data rows: file is empty")
	}
	if int64(len(data)) > maxSize {
		return nil, fileFormatError("file too large: %d bytes (max %d)", len(data), maxSize)
	}
	if !utf8.Valid(data) {
		return nil, fileFormatError("not valid utf-8")
	}

	text := csv.StripBOM(string(data))
	delim := csv.DetectDelimiter(text)
	rows := csv.ParseWith(text, delim)
	if len(rows) < 2 {
		return nil, fileFormatError("no data rows: found %d row(s), need a header and at least one patient", len(rows))
	}

	headers := rows[0]
	return &ImportSession{
		ID:        uuid.New().String(),
		FileName:  filepath.Base(fileName),
		Delimiter: delim,
		Headers:   headers,
		Rows:      rows[1:],
		Mapping:   mapping.AutoDetect(headers),
		Phase:     PhaseMapping,
		CreatedAt: time.Now(),
	}, nil
}

// ColumnView describes one source column and the field it feeds.
type ColumnView struct {
	Index  int              `json:"index"`
	Header string           `json:"header"`
	Field  mapping.FieldKey `json:"field"`
}

// SessionView is a read-only snapshot of a session for clients.
type SessionView struct {
	ID         string         `json:"id"`
	FileName   string         `json:"fileName"`
	Phase      ImportPhase    `json:"phase"`
	Delimiter  string         `json:"delimiter"`
	Columns    []ColumnView   `json:"columns"`
	Preview    [][]string     `json:"preview"`
	TotalRows  int            `json:"totalRows"`
	CanImport  bool           `json:"canImport"`
	Progress   ImportProgress `json:"progress"`
	CreatedAt  time.Time      `json:"createdAt"`
	MappingErr string         `json:"mappingError,omitempty"`
}

// View snapshots the session. The caller must hold whatever lock guards it.
func (s *ImportSession) View() SessionView {
	cols := make([]ColumnView, len(s.Headers))
	for i, h := range s.Headers {
		cols[i] = ColumnView{Index: i, Header: h, Field: s.Mapping.Field(i)}
	}

	n := min(previewRows, len(s.Rows))
	preview := make([][]string, n)
	for i := range preview {
		preview[i] = append([]string(nil), s.Rows[i]...)
	}

	v := SessionView{
		ID:        s.ID,
		FileName:  s.FileName,
		Phase:     s.Phase,
		Delimiter: string(s.Delimiter),
		Columns:   cols,
		Preview:   preview,
		TotalRows: len(s.Rows),
		CreatedAt: s.CreatedAt,
	}
	if err := s.Mapping.Validate(); err != nil {
		v.MappingErr = err.Error()
	} else {
		v.CanImport = true
	}
	return v
}
