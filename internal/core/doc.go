// Package core provides the business logic for importing patients and
// consultations from CSV exports of other practice software.
//
// The package has no transport or database dependencies. Stores are injected
// through the PatientStore, ConsultationStore, PractitionerResolver and
// HistoryStore interfaces, so the same code serves the HTTP API, the CLI and
// the tests.
//
// # Workflow
//
// An import moves through four phases:
//
//  1. Upload: [Service.CreateSession] checks the file (.csv, size, UTF-8,
//     at least a header and one row), tokenizes it and proposes a column
//     mapping from the headers.
//  2. Mapping: [Service.AssignField] lets the user correct the mapping.
//     A column must feed last_name or full_name before the run can start.
//  3. Importing: [Service.StartImport] resolves the practitioner behind the
//     authenticated user and runs the [Importer] in the background. Progress
//     is broadcast to [Service.SubscribeProgress] subscribers.
//  4. Done: [Service.GetResult] returns the [ImportResult].
//
// An authentication or practitioner failure returns the session to Mapping.
//
// # Rows
//
// Rows are processed one at a time, in file order. Within a run, rows with
// the same [DedupKey] resolve to one patient; across runs, an existing
// patient with the same name is reused. A failed row is recorded as a
// [RowError] and never stops the run. Each row commits on its own.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
package core
