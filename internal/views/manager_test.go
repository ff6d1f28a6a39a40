package views

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carpool-sync/internal/auth"
	"github.com/example/carpool-sync/internal/dedup"
)

type closeRecorder struct {
	mu     sync.Mutex
	closed []int64
}

func (c *closeRecorder) CloseUser(userID int64) {
	c.mu.Lock()
	c.closed = append(c.closed, userID)
	c.mu.Unlock()
}

func TestManagerFollowsSession(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := auth.NewSession(auth.NewFileStore(t.TempDir()))
	closer := &closeRecorder{}
	m := NewManager(ctx, h.deps, session, closer)
	t.Cleanup(m.Close)

	_, _, err := m.Current()
	assert.ErrorIs(t, err, ErrNoView)

	require.NoError(t, session.Login(ctx, driver))
	d, err := m.Driver()
	require.NoError(t, err)
	assert.Equal(t, driver.UserID, d.DriverSnapshot().UserID)
	_, err = m.Rider()
	assert.ErrorIs(t, err, auth.ErrForbidden)

	require.NoError(t, session.Logout(ctx))
	_, _, err = m.Current()
	assert.ErrorIs(t, err, ErrNoView)
	assert.Equal(t, []int64{driver.UserID}, closer.closed)

	require.NoError(t, session.Login(ctx, rider))
	r, err := m.Rider()
	require.NoError(t, err)
	assert.Equal(t, rider.UserID, r.RiderSnapshot().UserID)
	_, err = m.Driver()
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestManagerLoginReplacesView(t *testing.T) {
	h := newHarness(t)
	session := auth.NewSession(auth.NewFileStore(t.TempDir()))
	m := NewManager(context.Background(), h.deps, session, nil)
	t.Cleanup(m.Close)

	require.NoError(t, session.Login(context.Background(), driver))
	first, err := m.Driver()
	require.NoError(t, err)

	require.NoError(t, session.Login(context.Background(), rider))
	_, err = m.Rider()
	require.NoError(t, err)
	assert.False(t, first.group.Running(pollDriverEarnings), "replaced view is stopped")

	// a stale logout for the old user leaves the new view alone
	m.Unmount(driver.UserID)
	_, err = m.Rider()
	assert.NoError(t, err)
}

func TestLogoutForgetsPromptedRequests(t *testing.T) {
	h := newHarness(t)
	shared := dedup.NewMemory()
	h.deps.Seen = func(int64, string) dedup.Set { return shared }
	h.backend.addRide(&fakeRide{ID: 70, DriverID: 7, PickupLocation: "Baner", DropLocation: "Kothrud", TotalSeats: 3, AvailableSeats: 3, Status: "WAITING"})
	h.backend.addRequest(70, fakeRequest{ID: 900, RiderID: 9, RiderName: "Asha", PickupLocation: "Baner", DropLocation: "Kothrud", Status: "PENDING"})

	ctx := context.Background()
	session := auth.NewSession(auth.NewFileStore(t.TempDir()))
	m := NewManager(ctx, h.deps, session, nil)
	t.Cleanup(m.Close)

	require.NoError(t, session.Login(ctx, driver))
	require.Eventually(t, func() bool { return h.push.count("prompt") == 1 }, time.Second, tick)
	time.Sleep(5 * tick)
	assert.Equal(t, 1, h.push.count("prompt"))

	require.NoError(t, session.Logout(ctx))
	isNew, err := shared.IsNew(ctx, 900)
	require.NoError(t, err)
	assert.True(t, isNew, "logout clears the seen set")

	require.NoError(t, session.Login(ctx, driver))
	require.Eventually(t, func() bool { return h.push.count("prompt") == 2 }, time.Second, tick)
	d, err := m.Driver()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.DriverSnapshot().Prompt != nil }, time.Second, tick)
	assert.EqualValues(t, 900, d.DriverSnapshot().Prompt.ID)
}

func TestCloseKeepsPromptedRequests(t *testing.T) {
	h := newHarness(t)
	shared := dedup.NewMemory()
	h.deps.Seen = func(int64, string) dedup.Set { return shared }
	h.backend.addRide(&fakeRide{ID: 70, DriverID: 7, PickupLocation: "Baner", DropLocation: "Kothrud", TotalSeats: 3, AvailableSeats: 3, Status: "WAITING"})
	h.backend.addRequest(70, fakeRequest{ID: 900, RiderID: 9, PickupLocation: "Baner", DropLocation: "Kothrud", Status: "PENDING"})

	m := NewManager(context.Background(), h.deps, auth.NewSession(auth.NewFileStore(t.TempDir())), nil)
	m.Mount(driver)
	require.Eventually(t, func() bool { return h.push.count("prompt") == 1 }, time.Second, tick)
	m.Close()

	isNew, err := shared.IsNew(context.Background(), 900)
	require.NoError(t, err)
	assert.False(t, isNew, "shutdown is not a logout")
}
