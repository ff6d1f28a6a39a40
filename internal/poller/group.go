package poller

import "sync"

// Group holds the pollers owned by one view. Stopping the group is the
// unmount.
type Group struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewGroup() *Group { return &Group{handles: make(map[string]*Handle)} }

// Add registers h under its name, stopping any poller it replaces.
func (g *Group) Add(h *Handle) {
	g.mu.Lock()
	old := g.handles[h.name]
	g.handles[h.name] = h
	g.mu.Unlock()
	if old != nil && old != h {
		old.Stop()
	}
}

func (g *Group) Stop(name string) {
	g.mu.Lock()
	h := g.handles[name]
	delete(g.handles, name)
	g.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Running reports whether a live, non-disabled poller is registered.
func (g *Group) Running(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[name]
	return ok && !h.Stopped()
}

func (g *Group) Get(name string) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[name]
	return h, ok
}

func (g *Group) StopAll() {
	g.mu.Lock()
	hs := g.handles
	g.handles = make(map[string]*Handle)
	g.mu.Unlock()
	for _, h := range hs {
		h.Stop()
	}
}

// Wait waits for every handle currently registered.
func (g *Group) Wait() {
	g.mu.Lock()
	hs := make([]*Handle, 0, len(g.handles))
	for _, h := range g.handles {
		hs = append(hs, h)
	}
	g.mu.Unlock()
	for _, h := range hs {
		h.Wait()
	}
}
