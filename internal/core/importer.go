package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/PatientImport/internal/logging"
	"github.com/JonMunkholm/PatientImport/internal/mapping"
)

// Default per-call limits for store operations.
const (
	DefaultStoreCallTimeout = 15 * time.Second
	DefaultRowRetryBudget   = 0
)

// ImporterOptions tunes how an Importer talks to its stores.
type ImporterOptions struct {
	// PlaceholderPhone fills the phone column when the row has none.
	PlaceholderPhone string

	// CallTimeout bounds every single store call. Zero disables the bound.
	CallTimeout time.Duration

	// RetryBudget is how many extra attempts a row may spend on store calls
	// that hit CallTimeout. Other failures are never retried.
	RetryBudget int
}

// Importer drives rows through the stores one at a time, in input order.
// An Importer holds no per-run state and is safe to share between runs.
type Importer struct {
	patients      PatientStore
	consultations ConsultationStore
	opts          ImporterOptions
}

// NewImporter creates an Importer. Zero-valued options fall back to defaults.
func NewImporter(patients PatientStore, consultations ConsultationStore, opts ImporterOptions) *Importer {
	if opts.PlaceholderPhone == "" {
		opts.PlaceholderPhone = DefaultPlaceholderPhone
	}
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	return &Importer{
		patients:      patients,
		consultations: consultations,
		opts:          opts,
	}
}

// run holds the state of one import run.
type run struct {
	practitionerID  uuid.UUID
	mapping         mapping.ColumnMapping
	hasConsultation bool
	cache           map[string]uuid.UUID
}

// rowOutcome is what processing one row produced. err is set when the row
// failed; a patient may still have been created before a consultation error.
type rowOutcome struct {
	skipped             bool
	patientCreated      bool
	patientReused       bool
	consultationCreated bool
	err                 *RowError
}

// Run imports data rows (the header row already removed) for practitionerID.
// Row failures are collected in the result and never stop the run. When ctx
// is cancelled, Run stops before the next row and returns the partial result
// with Cancelled set.
func (im *Importer) Run(ctx context.Context, practitionerID uuid.UUID, rows [][]string, m mapping.ColumnMapping, onProgress ProgressCallback) *ImportResult {
	start := time.Now()
	log := logging.WithFields(ctx,
		"practitioner_id", practitionerID,
		"rows", len(rows),
	)

	r := &run{
		practitionerID:  practitionerID,
		mapping:         m,
		hasConsultation: m.HasKind(mapping.KindConsultation),
		cache:           make(map[string]uuid.UUID),
	}

	result := &ImportResult{
		Total:  len(rows),
		Errors: []RowError{},
	}

	for i, row := range rows {
		if ctx.Err() != nil {
			result.Cancelled = true
			log.Info("import cancelled", "processed", i)
			break
		}

		out := im.processRow(ctx, r, i, row)
		if out.err != nil && ctx.Err() != nil {
			// The row was cut short by cancellation, not by bad data.
			out.err = nil
		}
		applyOutcome(result, out)
		if out.err != nil {
			log.Warn("row failed",
				"row", out.err.Row,
				"kind", out.err.Kind,
				"error", out.err.Message,
			)
		}

		if onProgress != nil {
			onProgress(ImportProgress{
				Phase:                 PhaseImporting,
				TotalRows:             len(rows),
				CurrentRow:            i + 1,
				PatientsImported:      result.PatientsImported,
				ConsultationsImported: result.ConsultationsImported,
				Errors:                len(result.Errors),
				Percent:               percent(i+1, len(rows)),
			})
		}
	}

	result.Duration = time.Since(start)
	return result
}

func applyOutcome(result *ImportResult, out rowOutcome) {
	if out.skipped {
		result.Skipped++
	}
	if out.patientCreated {
		result.PatientsImported++
	}
	if out.patientReused {
		result.PatientsReused++
	}
	if out.consultationCreated {
		result.ConsultationsImported++
	}
	if out.err != nil {
		result.Errors = append(result.Errors, *out.err)
	}
}

// processRow handles data row i. Row numbers in errors count the header as
// line 1, hence i+2.
func (im *Importer) processRow(ctx context.Context, r *run, i int, row []string) rowOutcome {
	line := i + 2
	lastName, firstName := extractNames(r.mapping, row)
	if lastName == "" && firstName == "" {
		return rowOutcome{skipped: true}
	}

	var out rowOutcome
	budget := im.opts.RetryBudget
	key := DedupKey(lastName, firstName)
	patientID, cached := r.cache[key]

	if !cached {
		storedLast := lastName
		if storedLast == "" {
			storedLast = DefaultLastName
		}

		var existing *Patient
		err := im.call(ctx, &budget, func(ctx context.Context) error {
			var err error
			existing, err = im.patients.FindByName(ctx, r.practitionerID, storedLast, firstName)
			return err
		})
		if err != nil {
			out.err = &RowError{Row: line, Kind: PatientLookupFailure, Message: err.Error()}
			return out
		}

		if existing != nil {
			patientID = existing.ID
			out.patientReused = true
		} else {
			rec := im.buildPatient(ctx, r, line, row, storedLast, firstName)
			var created *Patient
			err := im.call(ctx, &budget, func(ctx context.Context) error {
				var err error
				created, err = im.patients.Insert(ctx, rec)
				return err
			})
			if err != nil {
				out.err = &RowError{Row: line, Kind: PatientInsertFailure, Message: err.Error()}
				return out
			}
			patientID = created.ID
			out.patientCreated = true
		}
		r.cache[key] = patientID
	} else {
		out.patientReused = true
	}

	if !r.hasConsultation {
		return out
	}

	rec, ok := im.buildConsultation(ctx, r, line, row, patientID)
	if !ok {
		return out
	}
	err := im.call(ctx, &budget, func(ctx context.Context) error {
		_, err := im.consultations.Insert(ctx, rec)
		return err
	})
	if err != nil {
		out.err = &RowError{
			Row:     line,
			Kind:    ConsultationInsertFailure,
			Message: "Consultation: " + err.Error(),
		}
		return out
	}
	out.consultationCreated = true
	return out
}

// extractNames reads last and first name, splitting the full name column
// when the last name cell is empty. "Dupont Jean Marie" gives last "Dupont"
// and first "Jean Marie".
func extractNames(m mapping.ColumnMapping, row []string) (last, first string) {
	last = CleanCell(m.Value(row, mapping.LastName))
	first = CleanCell(m.Value(row, mapping.FirstName))

	if last == "" {
		if full := CleanCell(m.Value(row, mapping.FullName)); full != "" {
			parts := strings.Fields(full)
			last = parts[0]
			if rest := strings.Join(parts[1:], " "); rest != "" {
				first = rest
			}
		}
	}
	return last, first
}

// DedupKey identifies the same patient across rows of one run.
func DedupKey(lastName, firstName string) string {
	if lastName == "" {
		lastName = DefaultLastName
	}
	return strings.ToLower(lastName) + "|" + strings.ToLower(firstName)
}

func (im *Importer) buildPatient(ctx context.Context, r *run, line int, row []string, lastName, firstName string) PatientRecord {
	m := r.mapping
	cell := func(key mapping.FieldKey) string { return CleanCell(m.Value(row, key)) }

	rec := PatientRecord{
		PractitionerID:  r.practitionerID,
		Gender:          NormalizeGender(cell(mapping.Gender)),
		LastName:        lastName,
		FirstName:       firstName,
		Phone:           cell(mapping.Phone),
		Email:           cell(mapping.Email),
		Profession:      cell(mapping.Profession),
		TraumaHistory:   cell(mapping.TraumaHistory),
		MedicalHistory:  cell(mapping.MedicalHistory),
		SurgicalHistory: cell(mapping.SurgicalHistory),
		FamilyHistory:   cell(mapping.FamilyHistory),
	}
	if rec.Phone == "" {
		rec.Phone = im.opts.PlaceholderPhone
	}
	if raw := cell(mapping.BirthDate); raw != "" {
		if iso, ok := ParseDateToISO(raw); ok {
			rec.BirthDate = iso
		} else {
			dateNotRecognized(ctx, m, line, mapping.BirthDate)
		}
	}
	return rec
}

// buildConsultation returns ok=false when the row carries neither a reason
// nor a consultation date.
func (im *Importer) buildConsultation(ctx context.Context, r *run, line int, row []string, patientID uuid.UUID) (ConsultationRecord, bool) {
	m := r.mapping
	cell := func(key mapping.FieldKey) string { return CleanCell(m.Value(row, key)) }

	reason := cell(mapping.Reason)
	rawDate := cell(mapping.ConsultationDate)
	if reason == "" && rawDate == "" {
		return ConsultationRecord{}, false
	}
	if reason == "" {
		reason = DefaultReason
	}

	rec := ConsultationRecord{
		PatientID:   patientID,
		Reason:      reason,
		Anamnesis:   cell(mapping.Anamnesis),
		Examination: cell(mapping.Examination),
		Advice:      cell(mapping.Advice),
	}
	if rawDate != "" {
		if iso, ok := ParseDateToISO(rawDate); ok {
			rec.DateTime = iso + "T" + ConsultationTime
		} else {
			dateNotRecognized(ctx, m, line, mapping.ConsultationDate)
		}
	}
	return rec, true
}

// dateNotRecognized records where an unreadable date sits. Cell contents are
// patient data and stay out of the logs.
func dateNotRecognized(ctx context.Context, m mapping.ColumnMapping, line int, key mapping.FieldKey) {
	col, _ := m.Column(key)
	logging.FromContext(ctx).Debug("date not recognized, omitted",
		"row", line,
		"column", col,
		"field", key,
	)
}

// call runs fn under the per-call timeout. An attempt that times out while
// the run itself is still live is retried, spending one unit of the row's
// shared budget per retry.
func (im *Importer) call(ctx context.Context, budget *int, fn func(context.Context) error) error {
	attempts := 1
	for {
		err := im.callOnce(ctx, fn)
		if err == nil || !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
		if *budget <= 0 {
			if attempts > 1 {
				return fmt.Errorf("store call timed out after %d attempts: %w", attempts, err)
			}
			return err
		}
		*budget--
		attempts++
	}
}

func (im *Importer) callOnce(ctx context.Context, fn func(context.Context) error) error {
	if im.opts.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, im.opts.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
