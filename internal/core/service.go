package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/PatientImport/internal/logging"
	"github.com/JonMunkholm/PatientImport/internal/mapping"
)

// Default lifecycle settings.
const (
	DefaultRunTimeout = 30 * time.Minute
	DefaultSessionTTL = 1 * time.Hour
	historyTimeout    = 10 * time.Second
)

// Stores groups the collaborators the service persists through.
// History may be nil, in which case runs are not recorded.
type Stores struct {
	Patients      PatientStore
	Consultations ConsultationStore
	Practitioners PractitionerResolver
	History       HistoryStore
}

// ServiceOptions configures a Service. Zero values use the package defaults.
type ServiceOptions struct {
	MaxFileSize   int64
	MaxConcurrent int
	MaxWait       time.Duration
	RunTimeout    time.Duration
	SessionTTL    time.Duration
	Importer      ImporterOptions
}

// Service owns import sessions and runs them against the stores.
type Service struct {
	stores   Stores
	importer *Importer
	limiter  *ImportLimiter
	opts     ServiceOptions

	mu       sync.RWMutex
	sessions map[string]*activeImport
}

type activeImport struct {
	owner string // user that uploaded the file; immutable

	mu             sync.Mutex
	session        *ImportSession
	practitionerID uuid.UUID
	cancel         context.CancelFunc
	progress       ImportProgress
	result         *ImportResult
	done           chan struct{}
	listeners      []chan ImportProgress
	expiry         *time.Timer
}

// NewService creates a Service.
func NewService(stores Stores, opts ServiceOptions) *Service {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	return &Service{
		stores:   stores,
		importer: NewImporter(stores.Patients, stores.Consultations, opts.Importer),
		limiter:  NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:     opts,
		sessions: make(map[string]*activeImport),
	}
}

// CreateSession validates and tokenizes an uploaded file and opens a session
// in the mapping phase with an auto-detected column mapping.
func (s *Service) CreateSession(ctx context.Context, fileName string, data []byte) (SessionView, error) {
	sess, err := NewImportSession(fileName, data, s.opts.MaxFileSize)
	if err != nil {
		logging.FromContext(ctx).Info("file rejected", "file", fileName, "error", err)
		return SessionView{}, err
	}

	ai := &activeImport{
		owner:   UserIDFromContext(ctx),
		session: sess,
		done:    make(chan struct{}),
		progress: ImportProgress{
			SessionID: sess.ID,
			Phase:     sess.Phase,
			FileName:  sess.FileName,
			TotalRows: len(sess.Rows),
		},
	}

	s.mu.Lock()
	s.sessions[sess.ID] = ai
	s.mu.Unlock()
	s.scheduleExpiry(sess.ID, ai)

	logging.WithFields(ctx, "session_id", sess.ID).Info("import session created",
		"file", sess.FileName,
		"rows", len(sess.Rows),
		"delimiter", string(sess.Delimiter),
	)

	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.viewLocked(), nil
}

// GetSession returns a snapshot of a session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (SessionView, error) {
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.viewLocked(), nil
}

// AssignField maps column col to key, clearing key from any other column.
// Only allowed while the session is in the mapping phase.
func (s *Service) AssignField(ctx context.Context, sessionID string, col int, key mapping.FieldKey) (SessionView, error) {
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()

	if err := ai.requirePhase(PhaseMapping); err != nil {
		return SessionView{}, err
	}
	if err := ai.session.Mapping.Assign(col, key); err != nil {
		return SessionView{}, err
	}
	return ai.viewLocked(), nil
}

// StartImport validates the session and starts the run in the background.
// The user is taken from ctx (see ContextWithUserID). Progress is available
// through SubscribeProgress and the final result through GetResult.
//
// The session counts as importing while StartImport waits for a slot, so
// CancelImport and ResetSession apply from that moment. A run cancelled
// before it got a slot finishes with an empty cancelled result; a reset
// session returns ErrSessionNotFound. Other pre-flight failures leave the
// session in the mapping phase.
func (s *Service) StartImport(ctx context.Context, sessionID string) error {
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}

	ai.mu.Lock()
	if err := ai.requirePhase(PhaseMapping); err != nil {
		ai.mu.Unlock()
		return err
	}
	if err := ai.session.Mapping.Validate(); err != nil {
		ai.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrMappingValidation, err)
	}
	// The run outlives the request that started it but keeps its log fields.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RunTimeout)
	ai.cancel = cancel
	ai.setPhaseLocked(PhaseImporting)
	ai.mu.Unlock()

	practitionerID, err := s.resolvePractitioner(ctx)
	if err == nil {
		err = s.acquireSlot(ctx, runCtx)
		if err == nil && (runCtx.Err() != nil || !s.registered(sessionID, ai)) {
			s.limiter.Release()
			err = context.Canceled
		}
	}
	if err != nil {
		stopped := runCtx.Err() != nil || !s.registered(sessionID, ai)
		cancel()
		return s.abortStart(ctx, ai, practitionerID, stopped, err)
	}

	ai.mu.Lock()
	ai.practitionerID = practitionerID
	rows := ai.session.Rows
	m := ai.session.Mapping.Clone()
	ai.notifyLocked()
	ai.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import",
					"session_id", sessionID,
					"panic", r,
				)
				s.finish(runCtx, ai, &ImportResult{Total: len(rows), Errors: []RowError{}}, fmt.Sprintf("internal error: %v", r))
			}
		}()
		s.runImport(runCtx, ai, practitionerID, rows, m)
	}()

	return nil
}

// acquireSlot waits for a limiter slot until the caller goes away or the
// run is stopped.
func (s *Service) acquireSlot(ctx, runCtx context.Context) error {
	waitCtx, stop := context.WithCancel(runCtx)
	defer stop()
	unhook := context.AfterFunc(ctx, stop)
	defer unhook()
	return s.limiter.Acquire(waitCtx)
}

// abortStart unwinds a StartImport that never launched its run. stopped
// reports whether the run was cancelled or reset while waiting.
func (s *Service) abortStart(ctx context.Context, ai *activeImport, practitionerID uuid.UUID, stopped bool, err error) error {
	ai.mu.Lock()
	ai.cancel = nil
	if !stopped {
		ai.setPhaseLocked(PhaseMapping)
		ai.notifyLocked()
		ai.mu.Unlock()
		return err
	}
	ai.practitionerID = practitionerID
	sessionID := ai.session.ID
	empty := &ImportResult{Total: len(ai.session.Rows), Cancelled: true, Errors: []RowError{}}
	ai.mu.Unlock()

	if !s.registered(sessionID, ai) {
		ai.mu.Lock()
		ai.completeLocked(empty, "")
		ai.mu.Unlock()
		logging.FromContext(ctx).Info("session reset before import started", "session_id", sessionID)
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	logging.FromContext(ctx).Info("import cancelled before start", "session_id", sessionID)
	s.finish(ctx, ai, empty, "")
	return nil
}

func (s *Service) resolvePractitioner(ctx context.Context) (uuid.UUID, error) {
	userID := UserIDFromContext(ctx)
	if userID == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := s.stores.Practitioners.ResolvePractitionerID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("resolve practitioner: %w", err)
	}
	return id, nil
}

func (s *Service) runImport(ctx context.Context, ai *activeImport, practitionerID uuid.UUID, rows [][]string, m mapping.ColumnMapping) {
	ai.mu.Lock()
	sessionID, fileName := ai.session.ID, ai.session.FileName
	ai.mu.Unlock()

	ctx = logging.WithAttrs(ctx,
		"session_id", sessionID,
		"file", fileName,
	)
	log := logging.FromContext(ctx)
	log.Info("import started", "rows", len(rows))

	result := s.importer.Run(ctx, practitionerID, rows, m, func(p ImportProgress) {
		ai.mu.Lock()
		p.SessionID = sessionID
		p.FileName = fileName
		ai.progress = p
		ai.notifyLocked()
		ai.mu.Unlock()
	})

	log.Info("import finished",
		"total", result.Total,
		"patients", result.PatientsImported,
		"consultations", result.ConsultationsImported,
		"errors", len(result.Errors),
		"cancelled", result.Cancelled,
		"duration_ms", result.Duration.Milliseconds(),
	)

	s.finish(ctx, ai, result, "")
}

// finish publishes the result, records history and closes subscribers.
func (s *Service) finish(ctx context.Context, ai *activeImport, result *ImportResult, failure string) {
	ai.mu.Lock()
	if !ai.completeLocked(result, failure) {
		ai.mu.Unlock()
		return
	}
	run := ImportRun{
		ID:                    uuid.New(),
		PractitionerID:        ai.practitionerID,
		FileName:              ai.session.FileName,
		Total:                 result.Total,
		PatientsImported:      result.PatientsImported,
		ConsultationsImported: result.ConsultationsImported,
		ErrorCount:            len(result.Errors),
		Cancelled:             result.Cancelled,
		DurationMs:            result.Duration.Milliseconds(),
		StartedAt:             time.Now().Add(-result.Duration),
	}
	ai.mu.Unlock()

	if s.stores.History == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := s.stores.History.RecordRun(hctx, run); err != nil {
		logging.FromContext(ctx).Error("record import run", "error", err)
	}
}

// SubscribeProgress returns a channel of progress snapshots. The current
// snapshot is sent immediately; the channel is closed when the run ends.
// Slow subscribers miss intermediate snapshots rather than blocking the run.
func (s *Service) SubscribeProgress(ctx context.Context, sessionID string) (<-chan ImportProgress, error) {
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	ai.mu.Lock()
	defer ai.mu.Unlock()

	ch <- ai.progress
	if ai.result != nil {
		close(ch)
		return ch, nil
	}
	ai.listeners = append(ai.listeners, ch)
	return ch, nil
}

// CancelImport stops a running import before its next row. The partial
// result remains available through GetResult.
func (s *Service) CancelImport(ctx context.Context, sessionID string) error {
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	if err := ai.requirePhase(PhaseImporting); err != nil {
		return err
	}
	if ai.cancel != nil {
		ai.cancel()
	}
	return nil
}

// GetResult returns the result of a run, blocking until it finishes or ctx
// is done.
func (s *Service) GetResult(ctx context.Context, sessionID string) (*ImportResult, error) {
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ai.mu.Lock()
	phase := ai.session.Phase
	ai.mu.Unlock()
	if phase != PhaseImporting && phase != PhaseDone {
		return nil, fmt.Errorf("%w: no import started", ErrInvalidPhase)
	}

	select {
	case <-ai.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.result, nil
}

// FailedRow pairs a row error with the source cells of that row.
type FailedRow struct {
	RowError
	Cells []string
}

// FailedRows returns the headers and the failed rows of a finished run.
func (s *Service) FailedRows(ctx context.Context, sessionID string) ([]string, []FailedRow, error) {
	result, err := s.GetResult(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ai, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()

	rows := ai.session.Rows
	failed := make([]FailedRow, 0, len(result.Errors))
	for _, re := range result.Errors {
		fr := FailedRow{RowError: re}
		if idx := re.Row - 2; idx >= 0 && idx < len(rows) {
			fr.Cells = rows[idx]
		}
		failed = append(failed, fr)
	}
	return ai.session.Headers, failed, nil
}

// ResetSession cancels any run and discards the session.
func (s *Service) ResetSession(ctx context.Context, sessionID string) error {
	user := UserIDFromContext(ctx)
	s.mu.Lock()
	ai, ok := s.sessions[sessionID]
	if ok && ai.owner == user {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok || ai.owner != user {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.cancel != nil {
		ai.cancel()
	}
	if ai.expiry != nil {
		ai.expiry.Stop()
	}
	return nil
}

// ListHistory returns the most recent runs of the practitioner behind the
// user in ctx.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]ImportRun, error) {
	if s.stores.History == nil {
		return []ImportRun{}, nil
	}
	practitionerID, err := s.resolvePractitioner(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.stores.History.ListRuns(ctx, practitionerID, limit)
}

// Limiter exposes the run limiter for shutdown draining.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Shutdown cancels every running import and waits for them to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, ai := range s.sessions {
		ai.mu.Lock()
		if ai.cancel != nil {
			ai.cancel()
		}
		ai.mu.Unlock()
	}
	s.mu.RUnlock()
	return s.limiter.WaitForDrain(ctx)
}

// get looks a session up for the user in ctx. Sessions owned by another
// user are reported as not found.
func (s *Service) get(ctx context.Context, sessionID string) (*activeImport, error) {
	s.mu.RLock()
	ai, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || ai.owner != UserIDFromContext(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return ai, nil
}

func (s *Service) registered(sessionID string, ai *activeImport) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID] == ai
}

// scheduleExpiry drops the session after the TTL. A session still importing
// is given another TTL.
func (s *Service) scheduleExpiry(sessionID string, ai *activeImport) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.expiry = time.AfterFunc(s.opts.SessionTTL, func() {
		ai.mu.Lock()
		importing := ai.session.Phase == PhaseImporting
		ai.mu.Unlock()
		if importing {
			s.scheduleExpiry(sessionID, ai)
			return
		}
		s.mu.Lock()
		if s.sessions[sessionID] == ai {
			delete(s.sessions, sessionID)
		}
		s.mu.Unlock()
	})
}

func (ai *activeImport) requirePhase(want ImportPhase) error {
	if ai.session.Phase != want {
		return fmt.Errorf("%w: session is %s, want %s", ErrInvalidPhase, ai.session.Phase, want)
	}
	return nil
}

func (ai *activeImport) setPhaseLocked(phase ImportPhase) {
	ai.session.Phase = phase
	ai.progress.Phase = phase
}

// completeLocked publishes result once and wakes every waiter. It reports
// false when the session already has a result.
func (ai *activeImport) completeLocked(result *ImportResult, failure string) bool {
	if ai.result != nil {
		return false
	}
	ai.result = result
	ai.progress.Error = failure
	ai.progress.Errors = len(result.Errors)
	ai.progress.PatientsImported = result.PatientsImported
	ai.progress.ConsultationsImported = result.ConsultationsImported
	ai.setPhaseLocked(PhaseDone)
	ai.closeListenersLocked()
	close(ai.done)
	return true
}

func (ai *activeImport) viewLocked() SessionView {
	v := ai.session.View()
	v.Progress = ai.progress
	return v
}

// notifyLocked sends the current progress to every subscriber without
// blocking; a full channel drops the update.
func (ai *activeImport) notifyLocked() {
	for _, ch := range ai.listeners {
		select {
		case ch <- ai.progress:
		default:
		}
	}
}

func (ai *activeImport) closeListenersLocked() {
	for _, ch := range ai.listeners {
		select {
		case ch <- ai.progress:
		default:
		}
		close(ch)
	}
	ai.listeners = nil
}
