package ml

import (
	"sync/atomic"
	"time"
)

// Holder is the process-wide model reference. Reads never block and a
// reload swaps the whole model at once.
type Holder struct {
	current atomic.Pointer[loadedModel]
}

type loadedModel struct {
	model    Classifier
	loadedAt time.Time
}

func (h *Holder) Store(model Classifier) {
	if model == nil {
		h.current.Store(nil)
		return
	}
	h.current.Store(&loadedModel{model: model, loadedAt: time.Now()})
}

// Get returns ErrModelNotReady until a model has been stored.
func (h *Holder) Get() (Classifier, error) {
	lm := h.current.Load()
	if lm == nil {
		return nil, ErrModelNotReady
	}
	return lm.model, nil
}

func (h *Holder) LoadedAt() time.Time {
	lm := h.current.Load()
	if lm == nil {
		return time.Time{}
	}
	return lm.loadedAt
}
