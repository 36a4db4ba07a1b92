package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"diabetesml/dataset"
	"diabetesml/db"
	"diabetesml/ml"
	"diabetesml/monitoring"
	"diabetesml/prediction"
	"diabetesml/training"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeModel predicts diabetes when Glucose is above 140.
type fakeModel struct{}

func (fakeModel) Predict(features []float64) (int, float64, error) {
	if features[1] > 140 {
		return 1, 0.8, nil
	}
	return 0, 0.7, nil
}

func (m fakeModel) PredictProba(features []float64) ([]float64, error) {
	if label, _, _ := m.Predict(features); label == 1 {
		return []float64{0.2, 0.8}, nil
	}
	return []float64{0.7, 0.3}, nil
}

type fakeAdmin struct {
	reloads  int
	retrains int
	err      error
}

func (f *fakeAdmin) Reload() error {
	f.reloads++
	return f.err
}

func (f *fakeAdmin) Retrain(ctx context.Context) (*training.Result, error) {
	f.retrains++
	if f.err != nil {
		return nil, f.err
	}
	return &training.Result{Metrics: ml.Metrics{Accuracy: 0.75}, TrainRows: 614, TestRows: 154}, nil
}

type fakeRuns struct {
	runs []db.TrainingRun
}

func (f *fakeRuns) ListTrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type testEnv struct {
	handler  http.Handler
	handlers *Handlers
	holder  *ml.Holder
	health  *monitoring.Health
	admin   *fakeAdmin
	logPath string
}

func newTestEnv(t *testing.T, config ServerConfig, runs RunLister) *testEnv {
	t.Helper()
	return newLoggedTestEnv(t, config, runs, zap.NewNop())
}

func newLoggedTestEnv(t *testing.T, config ServerConfig, runs RunLister, logger *zap.Logger) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		holder:  &ml.Holder{},
		health:  monitoring.NewHealth(),
		admin:   &fakeAdmin{},
		logPath: filepath.Join(dir, "real_time_predictions.csv"),
	}
	env.holder.Store(fakeModel{})
	env.health.ModelLoaded(training.SourceDisk)

	history, err := prediction.NewHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	service := prediction.NewService(
		env.holder,
		prediction.NewRealtimeLog(env.logPath, dataset.LogColumns()),
		prediction.NewBatchWriter(filepath.Join(dir, "batch_predictions.csv")),
		history,
		env.health,
		zap.NewNop(),
	)
	handlers, err := NewHandlers(Deps{
		Service:   service,
		Models:    env.admin,
		Runs:      runs,
		Health:    env.health,
		SecretKey: "test-secret",
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewHandlers failed: %v", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	env.handlers = handlers
	env.handler = NewHandler(config, handlers, logger)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

const exampleBody = `{"Pregnancies": 6, "Glucose": 148, "BloodPressure": 72, "SkinThickness": 35, "Insulin": 0, "BMI": 33.6, "DiabetesPedigreeFunction": 0.627, "Age": 50}`

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return payload["error"]
}

func TestHandlePredict(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	w := env.do(postJSON("/predict", exampleBody))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := `{"Pregnancies":6,"Glucose":148,"BloodPressure":72,"SkinThickness":35,"Insulin":0,"BMI":33.6,"DiabetesPedigreeFunction":0.627,"Age":50,"Prediction":1}`
	if got := w.Body.String(); got != want {
		t.Fatalf("unexpected body\n got %s\nwant %s", got, want)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestHandlePredictMissingFeatures(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	w := env.do(postJSON("/predict", `{"Glucose": 120, "Extra": "x"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	msg := errorMessage(t, w)
	for _, feature := range dataset.RequiredFeatures {
		if feature == "Glucose" {
			if strings.Contains(msg, feature) {
				t.Errorf("present feature listed as missing: %s", msg)
			}
			continue
		}
		if !strings.Contains(msg, feature) {
			t.Errorf("missing feature %s not named in %q", feature, msg)
		}
	}
}

func TestHandlePredictBadRequests(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"Glucose": `},
		{"not an object", `[1, 2, 3]`},
		{"empty", ``},
		{"non numeric", strings.Replace(exampleBody, `"BMI": 33.6`, `"BMI": "heavy"`, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(postJSON("/predict", tt.body))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if errorMessage(t, w) == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestHandlePredictModelNotReady(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)
	env.holder.Store(nil)

	w := env.do(postJSON("/predict", exampleBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if msg := errorMessage(t, w); msg != ml.ErrModelNotReady.Error() {
		t.Errorf("unexpected error %q", msg)
	}
}

func multipartUpload(t *testing.T, field, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, "patients.csv")
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(content))
	} else {
		mw.WriteField("note", "no file")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/batch-predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleBatchPredict(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	csv := strings.Join(dataset.RequiredFeatures, ",") + ",Name\n" +
		"6,148,72,35,0,33.6,0.627,50,alice\n" +
		"1,85,66,29,0,26.6,0.351,31,bob\n"
	w := env.do(multipartUpload(t, "file", csv))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["Prediction"].(float64) != 1 || rows[1]["Prediction"].(float64) != 0 {
		t.Errorf("unexpected predictions: %v", rows)
	}
	if rows[1]["Name"] != "bob" || rows[0]["BMI"].(float64) != 33.6 {
		t.Errorf("original columns not kept: %v", rows[0])
	}
	if !strings.HasPrefix(w.Body.String(), `[{"Pregnancies":6,`) {
		t.Errorf("columns should keep file order: %s", w.Body.String())
	}
}

func TestHandleBatchPredictErrors(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	w := env.do(multipartUpload(t, "", ""))
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != "No files uploaded by user" {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}

	w = env.do(multipartUpload(t, "file", "Glucose\n100\n"))
	if w.Code != http.StatusBadRequest || !strings.HasPrefix(errorMessage(t, w), "Missing feature(s): ") {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}

	env.holder.Store(nil)
	w = env.do(multipartUpload(t, "file", strings.Join(dataset.RequiredFeatures, ",")+"\n1,2,3,4,5,6,7,8\n"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("model not ready should be a 400 on batch, got %d", w.Code)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxUploadBytes = 64
	env := newTestEnv(t, config, nil)

	w := env.do(postJSON("/predict", exampleBody))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/submit-prediction", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func exampleForm() url.Values {
	return url.Values{
		"Pregnancies":              {"6"},
		"Glucose":                  {"148"},
		"BloodPressure":            {"72"},
		"SkinThickness":            {"35"},
		"Insulin":                  {"0"},
		"BMI":                      {"33.6"},
		"DiabetesPedigreeFunction": {"0.627"},
		"Age":                      {"50"},
	}
}

func TestSubmitPrediction(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	w := env.do(postForm(exampleForm()))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{"Diabetes likely", "20.00%", "80.00%", "DiabetesPedigreeFunction", "0.627"} {
		if !strings.Contains(body, want) {
			t.Errorf("result page missing %q", want)
		}
	}
}

func TestSubmitPredictionMissingValueFlashes(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	form := exampleForm()
	form.Set("BMI", "")
	w := env.do(postForm(form))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/predict-form" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a flash cookie")
	}
	req := httptest.NewRequest(http.MethodGet, "/predict-form", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	page := env.do(req)
	if !strings.Contains(page.Body.String(), "Please provide a value for BMI") {
		t.Fatalf("flash message not rendered:\n%s", page.Body.String())
	}

	// A tampered cookie is ignored.
	req = httptest.NewRequest(http.MethodGet, "/predict-form", nil)
	req.AddCookie(&http.Cookie{Name: flashCookie, Value: cookies[0].Value + "x"})
	if strings.Contains(env.do(req).Body.String(), "Please provide a value") {
		t.Fatal("tampered flash cookie should be ignored")
	}
}

func TestSubmitPredictionErrorsRedirect(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)

	form := exampleForm()
	form.Set("Age", "fifty")
	if w := env.do(postForm(form)); w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 for a bad value, got %d", w.Code)
	}

	env.holder.Store(nil)
	if w := env.do(postForm(exampleForm())); w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 without a model, got %d", w.Code)
	}
}

func TestPages(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), &fakeRuns{runs: []db.TrainingRun{
		{ID: 1, ModelType: ml.TypeRandomForest, NumTrees: 100, TrainRows: 614, TestRows: 154, Accuracy: 0.75, TrainedAt: time.Now()},
	}})

	for _, path := range []string{"/", "/predict-form", "/batch-form", "/results", "/about", "/static/js/main.js", "/static/css/style.css"} {
		w := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/predict", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /predict, got %d", w.Code)
	}
}

func TestResultsPage(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), &fakeRuns{runs: []db.TrainingRun{
		{ID: 7, ModelType: ml.TypeRandomForest, NumTrees: 100, Accuracy: 0.7532, TrainedAt: time.Now()},
	}})

	if w := env.do(postForm(exampleForm())); w.Code != http.StatusOK {
		t.Fatalf("prediction failed: %d", w.Code)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/results", nil))
	body := w.Body.String()
	if !strings.Contains(body, "75.32%") || !strings.Contains(body, "/results?id=") {
		t.Fatalf("results page missing history or runs:\n%s", body)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/results?id=unknown", nil))
	if w.Code != http.StatusSeeOther {
		t.Errorf("expected redirect for unknown result, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)
	env.do(postJSON("/predict", exampleBody))

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap monitoring.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != monitoring.StatusOK || !snap.ModelReady || snap.Predictions != 1 {
		t.Errorf("unexpected health %+v", snap)
	}
}

func TestHandleTrainingRuns(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), nil)
	if w := env.do(httptest.NewRequest(http.MethodGet, "/api/training-runs", nil)); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a store, got %d", w.Code)
	}

	runs := &fakeRuns{runs: []db.TrainingRun{{ID: 2}, {ID: 1}}}
	env = newTestEnv(t, DefaultServerConfig(), runs)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/training-runs?limit=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload struct {
		Runs  []db.TrainingRun `json:"runs"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Count != 1 || payload.Runs[0].ID != 2 {
		t.Errorf("unexpected payload %+v", payload)
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/api/training-runs?limit=abc", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", w.Code)
	}
}

func TestModelAdminEndpoints(t *testing.T) {
	config := DefaultServerConfig()
	config.AdminToken = "s3cret"
	env := newTestEnv(t, config, nil)

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/model/reload", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/model/reload", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if w := env.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/model/reload", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/model/retrain", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = env.do(req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"train_rows":614`) {
		t.Fatalf("unexpected retrain response %d: %s", w.Code, w.Body.String())
	}
	if env.admin.reloads != 1 || env.admin.retrains != 1 {
		t.Errorf("unexpected admin calls: %+v", env.admin)
	}

	env.admin.err = errors.New("dataset download failed")
	req = httptest.NewRequest(http.MethodPost, "/api/model/retrain", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = env.do(req)
	if w.Code != http.StatusInternalServerError || errorMessage(t, w) != "dataset download failed" {
		t.Fatalf("unexpected failure response %d: %s", w.Code, w.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestErrorLogCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newLoggedTestEnv(t, DefaultServerConfig(), nil, zap.New(core))
	env.admin.err = errors.New("disk full")

	req := httptest.NewRequest(http.MethodPost, "/api/model/reload", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := env.do(req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	entries := logs.FilterMessage("Request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-123" {
		t.Fatalf("expected request_id req-123, got %v", fields["request_id"])
	}
	if fields["error"] != "disk full" {
		t.Fatalf("unexpected error field: %v", fields["error"])
	}
}

func TestLoggerMiddlewareSetsRequestID(t *testing.T) {
	var seen string
	handler := LoggerMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if got := w.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header %q does not match context id %q", got, seen)
	}

	if GetRequestID(context.Background()) != "" {
		t.Fatal("expected empty id without middleware")
	}
}
