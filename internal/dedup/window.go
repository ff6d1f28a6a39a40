package dedup

import (
	"sync"

	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/observability"
)

const DefaultWindow = 10

// Window is the bounded notification list. Merge keeps arrival order and
// retains only the newest Limit entries, read or not; dismissals only hide.
type Window struct {
	mu        sync.Mutex
	limit     int
	items     []models.Notification
	index     map[int64]struct{}
	dismissed map[int64]struct{}
}

func NewWindow(limit int) *Window {
	if limit <= 0 {
		limit = DefaultWindow
	}
	return &Window{
		limit:     limit,
		index:     make(map[int64]struct{}),
		dismissed: make(map[int64]struct{}),
	}
}

// Merge adds the notifications of one poll and returns the ones that were
// new to this window.
func (w *Window) Merge(batch []models.Notification) []models.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	var fresh []models.Notification
	for _, n := range batch {
		if _, ok := w.index[n.ID]; ok {
			observability.DuplicatesSuppressed.WithLabelValues("notification").Inc()
			continue
		}
		w.index[n.ID] = struct{}{}
		w.items = append(w.items, n)
		fresh = append(fresh, n)
	}
	if over := len(w.items) - w.limit; over > 0 {
		// evicted ids stay in index so a late poll cannot bring them back
		w.items = append([]models.Notification(nil), w.items[over:]...)
	}
	return fresh
}

// Contains reports whether id is currently retained.
func (w *Window) Contains(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range w.items {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (w *Window) Dismiss(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.index[id]; !ok {
		return false
	}
	w.dismissed[id] = struct{}{}
	return true
}

// Visible is the retained list minus dismissed entries, oldest first.
func (w *Window) Visible() []models.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Notification, 0, len(w.items))
	for _, n := range w.items {
		if _, gone := w.dismissed[n.ID]; gone {
			continue
		}
		out = append(out, n)
	}
	return out
}
