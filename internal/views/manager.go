package views

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/carpool-sync/internal/auth"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/observability"
)

var ErrNoView = errors.New("no dashboard mounted")

// View is what the local API needs from either dashboard.
type View interface {
	Start(ctx context.Context)
	Stop()
	Snapshot() any
	DismissNotification(ctx context.Context, id int64) error
}

// sessionScoped views keep state outside the process that must not outlive
// the login, such as a shared dedup set.
type sessionScoped interface {
	endSession(ctx context.Context)
}

// Closer drops the push connections of a user who signed out.
type Closer interface {
	CloseUser(userID int64)
}

// Manager mounts the dashboard matching the signed-in role and unmounts it
// on logout.
type Manager struct {
	ctx    context.Context
	deps   Deps
	closer Closer

	mu   sync.Mutex
	user models.Identity
	view View
}

// NewManager subscribes to session changes. Views started by the manager
// live until logout or until ctx is cancelled.
func NewManager(ctx context.Context, deps Deps, session *auth.Session, closer Closer) *Manager {
	m := &Manager{ctx: ctx, deps: deps, closer: closer}
	session.OnChange(func(id models.Identity, ok bool) {
		if ok {
			m.Mount(id)
			return
		}
		m.Unmount(id.UserID)
	})
	return m
}

// Mount replaces whatever view is running with one for id.
func (m *Manager) Mount(id models.Identity) View {
	var v View
	switch id.Role {
	case models.RoleDriver:
		v = NewDriverView(id, m.deps)
	default:
		v = NewRiderView(id, m.deps)
	}

	m.mu.Lock()
	old, oldUser := m.view, m.user
	m.view, m.user = v, id
	m.mu.Unlock()

	if old != nil {
		retire(old)
		observability.ActiveViews.WithLabelValues(string(oldUser.Role)).Dec()
	}
	v.Start(m.ctx)
	observability.ActiveViews.WithLabelValues(string(id.Role)).Inc()
	m.deps.logger().Info("view mounted", "user_id", id.UserID, "role", id.Role)
	return v
}

// Unmount stops the view of userID, if it is the one mounted, and ends its
// session state.
func (m *Manager) Unmount(userID int64) {
	m.mu.Lock()
	v, user := m.view, m.user
	if v == nil || user.UserID != userID {
		m.mu.Unlock()
		return
	}
	m.view, m.user = nil, models.Identity{}
	m.mu.Unlock()

	retire(v)
	observability.ActiveViews.WithLabelValues(string(user.Role)).Dec()
	if m.closer != nil {
		m.closer.CloseUser(userID)
	}
	m.deps.logger().Info("view unmounted", "user_id", userID)
}

// retire stops a view that is going away for good and drops its session
// state. A view stopped by Close keeps it for the next process.
func retire(v View) {
	v.Stop()
	if s, ok := v.(sessionScoped); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.endSession(ctx)
	}
}

func (m *Manager) Current() (View, models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil {
		return nil, models.Identity{}, ErrNoView
	}
	return m.view, m.user, nil
}

// Profile fetches the backend record of the signed-in user.
func (m *Manager) Profile(ctx context.Context) (models.User, error) {
	_, id, err := m.Current()
	if err != nil {
		return models.User{}, err
	}
	return m.deps.Backend.GetUser(ctx, id.UserID)
}

func (m *Manager) Driver() (*DriverView, error) {
	v, id, err := m.Current()
	if err != nil {
		return nil, err
	}
	d, ok := v.(*DriverView)
	if !ok {
		return nil, fmt.Errorf("%w: need %s, have %s", auth.ErrForbidden, models.RoleDriver, id.Role)
	}
	return d, nil
}

func (m *Manager) Rider() (*RiderView, error) {
	v, id, err := m.Current()
	if err != nil {
		return nil, err
	}
	r, ok := v.(*RiderView)
	if !ok {
		return nil, fmt.Errorf("%w: need %s, have %s", auth.ErrForbidden, models.RoleRider, id.Role)
	}
	return r, nil
}

// Close stops the mounted view without touching the session.
func (m *Manager) Close() {
	m.mu.Lock()
	v, user := m.view, m.user
	m.view, m.user = nil, models.Identity{}
	m.mu.Unlock()
	if v != nil {
		v.Stop()
		observability.ActiveViews.WithLabelValues(string(user.Role)).Dec()
	}
}
