package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"diabetesml/dataset"
	"diabetesml/db"
	"diabetesml/ml"
	"diabetesml/monitoring"
	"diabetesml/prediction"
	"diabetesml/training"

	"go.uber.org/zap"
)

// ModelAdmin 模型管理（重新加载、重新训练）
type ModelAdmin interface {
	Reload() error
	Retrain(ctx context.Context) (*training.Result, error)
}

// RunLister 训练记录查询
type RunLister interface {
	ListTrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

// Deps 处理器依赖。Models、Runs 可为空。
type Deps struct {
	Service   *prediction.Service
	Models    ModelAdmin
	Runs      RunLister
	Health    *monitoring.Health
	SecretKey string
	Logger    *zap.Logger
}

// Handlers 所有HTTP处理器
type Handlers struct {
	service *prediction.Service
	models  ModelAdmin
	runs    RunLister
	health  *monitoring.Health
	flash   *flashStore
	pages   *pages
	logger  *zap.Logger
}

func NewHandlers(deps Deps) (*Handlers, error) {
	if deps.Service == nil {
		return nil, errors.New("prediction service is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealth()
	}
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	return &Handlers{
		service: deps.Service,
		models:  deps.Models,
		runs:    deps.Runs,
		health:  deps.Health,
		flash:   newFlashStore(deps.SecretKey),
		pages:   p,
		logger:  deps.Logger,
	}, nil
}

// Register 注册所有路由。admin 非空时保护模型管理接口。
func (h *Handlers) Register(mux *http.ServeMux, admin Middleware) {
	// 预测接口
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("POST /batch-predict", h.handleBatchPredict)
	mux.HandleFunc("POST /submit-prediction", h.handleSubmitPrediction)

	// 页面
	mux.HandleFunc("GET /{$}", h.page("index", "Home"))
	mux.HandleFunc("GET /predict-form", h.page("predict_form", "Single Prediction"))
	mux.HandleFunc("GET /batch-form", h.page("batch_form", "Batch Prediction"))
	mux.HandleFunc("GET /about", h.page("about", "About"))
	mux.HandleFunc("GET /results", h.handleResults)
	mux.Handle("GET /static/", staticHandler())

	// 运维接口
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/training-runs", h.handleTrainingRuns)

	var reload, retrain http.Handler = http.HandlerFunc(h.handleModelReload), http.HandlerFunc(h.handleModelRetrain)
	if admin != nil {
		reload, retrain = admin(reload), admin(retrain)
	}
	mux.Handle("POST /api/model/reload", reload)
	mux.Handle("POST /api/model/retrain", retrain)
}

// ============ 预测处理器 ============

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	rec := dataset.NewRecord()
	if err := json.NewDecoder(r.Body).Decode(rec); err != nil {
		h.respondError(w, r, requestErrorStatus(err), "invalid JSON body: "+err.Error())
		return
	}

	result, err := h.service.Predict(r.Context(), rec)
	if err != nil {
		h.respondError(w, r, predictErrorStatus(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, result.Record)
}

func (h *Handlers) handleBatchPredict(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.respondError(w, r, http.StatusBadRequest, "No files uploaded by user")
		return
	}
	defer file.Close()

	records, err := h.service.PredictBatch(r.Context(), file)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleSubmitPrediction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.flashAndRedirect(w, r, "Error: "+err.Error(), "/predict-form")
		return
	}

	rec := dataset.NewRecord()
	for _, feature := range dataset.RequiredFeatures {
		raw := r.PostForm.Get(feature)
		if raw == "" {
			h.flashAndRedirect(w, r, "Please provide a value for "+feature, "/predict-form")
			return
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			h.flashAndRedirect(w, r, fmt.Sprintf("Error: could not convert string to float: %q", raw), "/predict-form")
			return
		}
		rec.Set(feature, value)
	}

	result, err := h.service.Predict(r.Context(), rec)
	if err != nil {
		h.flashAndRedirect(w, r, "Error: "+err.Error(), "/predict-form")
		return
	}
	h.render(w, r, http.StatusOK, "result", pageData{Title: "Prediction Result", Active: "predict_form", Result: result})
}

// ============ 页面处理器 ============

func (h *Handlers) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, http.StatusOK, name, pageData{Title: title, Active: name})
	}
}

func (h *Handlers) handleResults(w http.ResponseWriter, r *http.Request) {
	history := h.service.History()

	if id := r.URL.Query().Get("id"); id != "" {
		var result *prediction.Result
		if history != nil {
			result, _ = history.Get(id)
		}
		if result == nil {
			h.flashAndRedirect(w, r, "Error: result "+id+" not found", "/results")
			return
		}
		h.render(w, r, http.StatusOK, "result", pageData{Title: "Prediction Result", Active: "results", Result: result})
		return
	}

	data := pageData{Title: "Results", Active: "results", Health: h.health.Snapshot()}
	if history != nil {
		data.Results = history.Recent(20)
	}
	if h.runs == nil {
		data.RunsErr = "training history unavailable"
	} else if runs, err := h.runs.ListTrainingRuns(r.Context(), 10); err != nil {
		h.logger.Warn("Failed to list training runs", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		data.RunsErr = err.Error()
	} else {
		data.Runs = runs
	}
	h.render(w, r, http.StatusOK, "results", data)
}

// ============ 运维处理器 ============

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.health.Snapshot())
}

func (h *Handlers) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "training history unavailable")
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.respondError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.runs.ListTrainingRuns(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *Handlers) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "model management unavailable")
		return
	}
	if err := h.models.Reload(); err != nil {
		h.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"health": h.health.Snapshot(),
	})
}

func (h *Handlers) handleModelRetrain(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "model management unavailable")
		return
	}
	result, err := h.models.Retrain(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "retrained",
		"result": result,
	})
}

// ============ 响应辅助函数 ============

func predictErrorStatus(err error) int {
	var validationErr *prediction.ValidationError
	var valueErr *prediction.ValueError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &valueErr):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrModelNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handlers) flashAndRedirect(w http.ResponseWriter, r *http.Request, message, target string) {
	h.flash.Add(w, r, "error", message)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Flashes = h.flash.Pop(w, r)
	if data.Features == nil {
		data.Features = dataset.FeatureNames()
	}
	if err := h.pages.render(w, status, name, data); err != nil {
		h.logger.Error("Failed to render page",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("page", name),
			zap.Error(err),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// respondJSON 统一JSON响应
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to encode JSON", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Int("status", status),
			zap.String("error", message),
		)
	}
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
