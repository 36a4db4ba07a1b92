package monitoring

import (
	"sync"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Health tracks model readiness and prediction log failures. Log failures
// never fail a request; they are counted here and surface on /api/health.
type Health struct {
	mu sync.RWMutex

	startTime        time.Time
	modelReady       bool
	modelSource      string
	modelLoadedAt    time.Time
	lastModelError   string
	logWriteFailures int64
	lastLogError     string
	lastLogErrorAt   time.Time
	predictions      int64
	batchRows        int64
}

// Snapshot 健康状态快照
type Snapshot struct {
	Status           string        `json:"status"`
	ModelReady       bool          `json:"model_ready"`
	ModelSource      string        `json:"model_source,omitempty"`
	ModelLoadedAt    *time.Time    `json:"model_loaded_at,omitempty"`
	LastModelError   string        `json:"last_model_error,omitempty"`
	LogWriteFailures int64         `json:"log_write_failures"`
	LastLogError     string        `json:"last_log_error,omitempty"`
	LastLogErrorAt   *time.Time    `json:"last_log_error_at,omitempty"`
	Predictions      int64         `json:"predictions"`
	BatchRows        int64         `json:"batch_rows"`
	Uptime           time.Duration `json:"uptime_ns"`
}

func NewHealth() *Health {
	return &Health{startTime: time.Now()}
}

func (h *Health) ModelLoaded(source string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modelReady = true
	h.modelSource = source
	h.modelLoadedAt = time.Now()
	h.lastModelError = ""
}

// ModelFailed records a load or training failure. A model that is already
// serving stays ready.
func (h *Health) ModelFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastModelError = err.Error()
	}
}

func (h *Health) LogWriteFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logWriteFailures++
	if err != nil {
		h.lastLogError = err.Error()
	}
	h.lastLogErrorAt = time.Now()
}

func (h *Health) PredictionServed(rows int, batch bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if batch {
		h.batchRows += int64(rows)
		return
	}
	h.predictions += int64(rows)
}

func (h *Health) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := Snapshot{
		Status:           StatusOK,
		ModelReady:       h.modelReady,
		ModelSource:      h.modelSource,
		LastModelError:   h.lastModelError,
		LogWriteFailures: h.logWriteFailures,
		LastLogError:     h.lastLogError,
		Predictions:      h.predictions,
		BatchRows:        h.batchRows,
		Uptime:           time.Since(h.startTime),
	}
	if !h.modelLoadedAt.IsZero() {
		t := h.modelLoadedAt
		snap.ModelLoadedAt = &t
	}
	if !h.lastLogErrorAt.IsZero() {
		t := h.lastLogErrorAt
		snap.LastLogErrorAt = &t
	}
	if !h.modelReady || h.logWriteFailures > 0 {
		snap.Status = StatusDegraded
	}
	return snap
}
