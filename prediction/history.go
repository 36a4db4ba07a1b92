package prediction

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// History remembers the most recent results for the results pages. It is
// never consulted to answer a prediction.
type History struct {
	results *lru.Cache[string, *Result]
}

func NewHistory(size int) (*History, error) {
	if size <= 0 {
		size = 100
	}
	results, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, err
	}
	return &History{results: results}, nil
}

func (h *History) Add(result *Result) {
	h.results.Add(result.ID, result)
}

func (h *History) Get(id string) (*Result, bool) {
	return h.results.Peek(id)
}

// Recent returns up to n results, newest first.
func (h *History) Recent(n int) []*Result {
	keys := h.results.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}
	out := make([]*Result, 0, n)
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		if result, ok := h.results.Peek(keys[i]); ok {
			out = append(out, result)
		}
	}
	return out
}

func (h *History) Len() int {
	return h.results.Len()
}
