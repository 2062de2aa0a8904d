package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/PatientImport/internal/config"
	"github.com/JonMunkholm/PatientImport/internal/core"
	"github.com/JonMunkholm/PatientImport/internal/web/middleware"
)

const testUser = "user-1"

var testPractitioner = uuid.MustParse("7f1c2b9e-4d3a-4e8b-9a61-2f5d8c0b1a77")

// memStore implements every store the service needs.
type memStore struct {
	mu         sync.Mutex
	patients   map[string]uuid.UUID
	failInsert map[string]bool
	runs       []core.ImportRun
}

func newMemStore() *memStore {
	return &memStore{patients: map[string]uuid.UUID{}, failInsert: map[string]bool{}}
}

func (m *memStore) FindByName(ctx context.Context, pid uuid.UUID, last, first string) (*core.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.patients[core.DedupKey(last, first)]; ok {
		return &core.Patient{ID: id, PractitionerID: pid, LastName: last, FirstName: first}, nil
	}
	return nil, nil
}

func (m *memStore) Insert(ctx context.Context, rec core.PatientRecord) (*core.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert[rec.LastName] {
		return nil, errors.New("ERROR: duplicate key value violates unique constraint")
	}
	id := uuid.New()
	m.patients[core.DedupKey(rec.LastName, rec.FirstName)] = id
	return &core.Patient{ID: id, PractitionerID: rec.PractitionerID}, nil
}

func (m *memStore) ResolvePractitionerID(ctx context.Context, userID string) (uuid.UUID, error) {
	if userID != testUser {
		return uuid.Nil, core.ErrPractitionerNotFound
	}
	return testPractitioner, nil
}

func (m *memStore) RecordRun(ctx context.Context, run core.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) ListRuns(ctx context.Context, pid uuid.UUID, limit int) ([]core.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.ImportRun{}, m.runs...), nil
}

type memConsultations struct{}

func (memConsultations) Insert(ctx context.Context, rec core.ConsultationRecord) (*core.Consultation, error) {
	return &core.Consultation{ID: uuid.New(), PatientID: rec.PatientID}, nil
}

func newTestServer(t *testing.T, requireAuth bool) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := core.NewService(core.Stores{
		Patients:      store,
		Consultations: memConsultations{},
		Practitioners: store,
		History:       store,
	}, core.ServiceOptions{MaxFileSize: 4096})

	cfg := &config.Config{
		Import: config.ImportConfig{MaxFileSize: 4096},
		Security: config.SecurityConfig{
			JWTSecret:   "0123456789abcdef0123456789abcdef",
			RequireAuth: requireAuth,
		},
	}
	ts := httptest.NewServer(NewServer(svc, cfg).Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url string, body []byte, contentType string, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set(middleware.DevUserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func upload(t *testing.T, ts *httptest.Server, name, content string) *http.Response {
	t.Helper()
	return uploadAs(t, ts, name, content, testUser)
}

func uploadAs(t *testing.T, ts *httptest.Server, name, content, user string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return do(t, http.MethodPost, ts.URL+"/api/import/sessions", buf.Bytes(), mw.FormDataContentType(), user)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func wantCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	wantStatus(t, resp, status)
	if got := decode[ErrorResponse](t, resp); got.Code != code {
		t.Errorf("error code = %q, want %q", got.Code, code)
	}
}

const sampleCSV = "Nom;Prénom;Email;Motif\n" +
	"Dupont;Jean;jean@example.com;Lombalgie\n" +
	"Martin;Claire;;Cervicalgie\n" +
	"Dupont;Jean;;Suivi\n"

func createSession(t *testing.T, ts *httptest.Server) core.SessionView {
	t.Helper()
	resp := upload(t, ts, "patients.csv", sampleCSV)
	wantStatus(t, resp, http.StatusCreated)
	return decode[core.SessionView](t, resp)
}

func TestListFields(t *testing.T) {
	ts, _ := newTestServer(t, false)
	resp := do(t, http.MethodGet, ts.URL+"/api/fields", nil, "", "")
	wantStatus(t, resp, http.StatusOK)

	fields := decode[[]fieldView](t, resp)
	if len(fields) == 0 || fields[0].Key != "last_name" || fields[0].Kind != "patient" {
		t.Errorf("fields = %+v", fields)
	}
	if last := fields[len(fields)-1]; last.Kind != "ignore" {
		t.Errorf("last field = %+v, want ignore", last)
	}
}

func TestCreateSession(t *testing.T) {
	ts, _ := newTestServer(t, false)
	view := createSession(t, ts)

	if view.Delimiter != ";" || view.TotalRows != 3 || !view.CanImport {
		t.Errorf("view = %+v", view)
	}
	if view.Phase != core.PhaseMapping {
		t.Errorf("phase = %q, want mapping", view.Phase)
	}
	if view.Columns[3].Field != "reason" {
		t.Errorf("column 3 field = %q, want reason", view.Columns[3].Field)
	}
}

func TestCreateSession_Errors(t *testing.T) {
	ts, _ := newTestServer(t, false)

	t.Run("wrong extension", func(t *testing.T) {
		wantCode(t, upload(t, ts, "patients.xlsx", sampleCSV), http.StatusUnprocessableEntity, "FILE002")
	})
	t.Run("header only", func(t *testing.T) {
		wantCode(t, upload(t, ts, "patients.csv", "Nom;Prénom\n"), http.StatusUnprocessableEntity, "FILE004")
	})
	t.Run("too large", func(t *testing.T) {
		big := "Nom\n" + strings.Repeat("Dupont\n", 1000)
		wantCode(t, upload(t, ts, "patients.csv", big), http.StatusUnprocessableEntity, "FILE001")
	})
	t.Run("no file part", func(t *testing.T) {
		resp := do(t, http.MethodPost, ts.URL+"/api/import/sessions", []byte("x"), "text/plain", testUser)
		wantStatus(t, resp, http.StatusUnprocessableEntity)
	})
}

func TestGetSession_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, false)
	wantCode(t, do(t, http.MethodGet, ts.URL+"/api/import/sessions/missing", nil, "", ""), http.StatusNotFound, "IMP003")
}

func TestAssignField(t *testing.T) {
	ts, _ := newTestServer(t, false)
	view := createSession(t, ts)
	url := ts.URL + "/api/import/sessions/" + view.ID + "/mapping"

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"reassign", `{"column":2,"field":"phone"}`, http.StatusOK},
		{"ignore column", `{"column":3,"field":""}`, http.StatusOK},
		{"unknown field", `{"column":2,"field":"shoe_size"}`, http.StatusUnprocessableEntity},
		{"column out of range", `{"column":9,"field":"email"}`, http.StatusUnprocessableEntity},
		{"missing column", `{"field":"email"}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"column":`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPut, url, []byte(tt.body), "application/json", testUser)
			wantStatus(t, resp, tt.status)
		})
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/import/sessions/"+view.ID, nil, "", testUser)
	got := decode[core.SessionView](t, resp)
	if got.Columns[2].Field != "phone" || got.Columns[3].Field != "ignore" {
		t.Errorf("columns = %+v", got.Columns)
	}
}

func TestAssignField_NameUnmappedBlocksRun(t *testing.T) {
	ts, _ := newTestServer(t, false)
	view := createSession(t, ts)
	base := ts.URL + "/api/import/sessions/" + view.ID

	resp := do(t, http.MethodPut, base+"/mapping", []byte(`{"column":0,"field":"ignore"}`), "application/json", testUser)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[core.SessionView](t, resp); got.CanImport {
		t.Error("CanImport = true without a name column")
	}

	wantCode(t, do(t, http.MethodPost, base+"/run", nil, "", testUser), http.StatusUnprocessableEntity, "MAP001")
}

func TestStartImport_Auth(t *testing.T) {
	ts, _ := newTestServer(t, false)

	t.Run("anonymous", func(t *testing.T) {
		resp := uploadAs(t, ts, "patients.csv", sampleCSV, "")
		wantStatus(t, resp, http.StatusCreated)
		view := decode[core.SessionView](t, resp)
		url := ts.URL + "/api/import/sessions/" + view.ID

		wantCode(t, do(t, http.MethodPost, url+"/run", nil, "", ""), http.StatusUnauthorized, "AUTH001")
		if got := decode[core.SessionView](t, do(t, http.MethodGet, url, nil, "", "")); got.Phase != core.PhaseMapping {
			t.Errorf("phase after rejected start = %q, want mapping", got.Phase)
		}
	})

	t.Run("no practitioner profile", func(t *testing.T) {
		resp := uploadAs(t, ts, "patients.csv", sampleCSV, "stranger")
		wantStatus(t, resp, http.StatusCreated)
		view := decode[core.SessionView](t, resp)
		url := ts.URL + "/api/import/sessions/" + view.ID

		wantCode(t, do(t, http.MethodPost, url+"/run", nil, "", "stranger"), http.StatusForbidden, "AUTH002")
		if got := decode[core.SessionView](t, do(t, http.MethodGet, url, nil, "", "stranger")); got.Phase != core.PhaseMapping {
			t.Errorf("phase after rejected start = %q, want mapping", got.Phase)
		}
	})
}

func TestSession_OtherUserGetsNotFound(t *testing.T) {
	ts, store := newTestServer(t, false)
	view := createSession(t, ts)
	base := ts.URL + "/api/import/sessions/" + view.ID

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "", ""},
		{http.MethodPut, "/mapping", `{"column":2,"field":"phone"}`},
		{http.MethodPost, "/run", ""},
		{http.MethodGet, "/progress", ""},
		{http.MethodGet, "/result", ""},
		{http.MethodGet, "/errors.csv", ""},
		{http.MethodPost, "/cancel", ""},
		{http.MethodDelete, "", ""},
	}
	for _, user := range []string{"", "intruder"} {
		for _, rt := range routes {
			t.Run(user+" "+rt.method+" "+rt.path, func(t *testing.T) {
				var body []byte
				if rt.body != "" {
					body = []byte(rt.body)
				}
				resp := do(t, rt.method, base+rt.path, body, "application/json", user)
				wantCode(t, resp, http.StatusNotFound, "IMP003")
			})
		}
	}

	store.mu.Lock()
	n := len(store.patients)
	store.mu.Unlock()
	if n != 0 {
		t.Errorf("stored %d patients from another user's session", n)
	}
	got := decode[core.SessionView](t, do(t, http.MethodGet, base, nil, "", testUser))
	if got.Phase != core.PhaseMapping || got.Columns[2].Field == "phone" {
		t.Errorf("owner view = %+v, want untouched mapping session", got)
	}
}

func TestImportWorkflow(t *testing.T) {
	ts, store := newTestServer(t, false)
	store.failInsert["Martin"] = true

	view := createSession(t, ts)
	base := ts.URL + "/api/import/sessions/" + view.ID

	resp := do(t, http.MethodPost, base+"/run", nil, "", testUser)
	wantStatus(t, resp, http.StatusAccepted)

	resp = do(t, http.MethodGet, base+"/result", nil, "", testUser)
	wantStatus(t, resp, http.StatusOK)
	result := decode[core.ImportResult](t, resp)

	if result.Total != 3 || result.PatientsImported != 1 || result.PatientsReused != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.ConsultationsImported != 2 {
		t.Errorf("ConsultationsImported = %d, want 2", result.ConsultationsImported)
	}
	if len(result.Errors) != 1 || result.Errors[0].Row != 3 || result.Errors[0].Kind != core.PatientInsertFailure {
		t.Fatalf("Errors = %+v", result.Errors)
	}

	t.Run("errors csv", func(t *testing.T) {
		resp := do(t, http.MethodGet, base+"/errors.csv", nil, "", testUser)
		wantStatus(t, resp, http.StatusOK)
		records, err := csv.NewReader(resp.Body).ReadAll()
		if err != nil {
			t.Fatalf("read csv: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records = %v", records)
		}
		wantHeader := []string{"_line", "_kind", "_error", "Nom", "Prénom", "Email", "Motif"}
		if strings.Join(records[0], ",") != strings.Join(wantHeader, ",") {
			t.Errorf("header = %v, want %v", records[0], wantHeader)
		}
		if records[1][0] != "3" || records[1][1] != "patient_insert" || records[1][3] != "Martin" {
			t.Errorf("row = %v", records[1])
		}
	})

	t.Run("progress after completion", func(t *testing.T) {
		resp := do(t, http.MethodGet, base+"/progress", nil, "", testUser)
		wantStatus(t, resp, http.StatusOK)
		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("Content-Type = %q", ct)
		}

		var events []string
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if ev, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events = append(events, ev)
			}
		}
		if strings.Join(events, ",") != "progress,complete" {
			t.Errorf("events = %v, want [progress complete]", events)
		}
	})

	t.Run("cancel finished run", func(t *testing.T) {
		wantCode(t, do(t, http.MethodPost, base+"/cancel", nil, "", testUser), http.StatusConflict, "IMP004")
	})

	t.Run("history", func(t *testing.T) {
		// The run is recorded just after its result is published.
		var runs []core.ImportRun
		for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
			resp := do(t, http.MethodGet, ts.URL+"/api/import/history?limit=5", nil, "", testUser)
			wantStatus(t, resp, http.StatusOK)
			if runs = decode[[]core.ImportRun](t, resp); len(runs) > 0 {
				break
			}
		}
		if len(runs) != 1 || runs[0].FileName != "patients.csv" || runs[0].ErrorCount != 1 {
			t.Errorf("runs = %+v", runs)
		}
	})

	t.Run("reset", func(t *testing.T) {
		wantStatus(t, do(t, http.MethodDelete, base, nil, "", testUser), http.StatusNoContent)
		wantStatus(t, do(t, http.MethodGet, base, nil, "", testUser), http.StatusNotFound)
	})
}

func TestResult_BeforeStart(t *testing.T) {
	ts, _ := newTestServer(t, false)
	view := createSession(t, ts)
	wantCode(t, do(t, http.MethodGet, ts.URL+"/api/import/sessions/"+view.ID+"/result", nil, "", testUser), http.StatusConflict, "IMP004")
}

func TestRequireAuth(t *testing.T) {
	ts, _ := newTestServer(t, true)

	resp := do(t, http.MethodGet, ts.URL+"/api/fields", nil, "", testUser)
	wantCode(t, resp, http.StatusUnauthorized, "AUTH001")

	resp = do(t, http.MethodGet, ts.URL+"/healthz", nil, "", "")
	wantStatus(t, resp, http.StatusOK)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrInvalidPhase, http.StatusConflict},
		{core.ErrUnauthenticated, http.StatusUnauthorized},
		{core.ErrPractitionerNotFound, http.StatusForbidden},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{core.ErrMappingValidation, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestProgress_StreamsLiveRun(t *testing.T) {
	ts, _ := newTestServer(t, false)
	view := createSession(t, ts)
	base := ts.URL + "/api/import/sessions/" + view.ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/progress", nil)
	req.Header.Set(middleware.DevUserHeader, testUser)

	wantStatus(t, do(t, http.MethodPost, base+"/run", nil, "", testUser), http.StatusAccepted)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var last core.ImportProgress
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok && data != "{}" {
			if err := json.Unmarshal([]byte(data), &last); err != nil {
				t.Fatalf("decode progress: %v", err)
			}
		}
	}
	if last.Phase != core.PhaseDone || last.PatientsImported != 2 {
		t.Errorf("last progress = %+v", last)
	}
}
