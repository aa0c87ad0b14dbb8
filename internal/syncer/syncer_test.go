package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checador/device/config"
	"github.com/checador/device/internal/store"
	"github.com/checador/device/types"
)

// memOutbox is an in-memory PunchOutbox.
type memOutbox struct {
	mu      sync.Mutex
	punches map[int64]*types.Punch
	order   []int64
}

func newMemOutbox(punches ...types.Punch) *memOutbox {
	outbox := &memOutbox{punches: make(map[int64]*types.Punch)}
	for i := range punches {
		p := punches[i]
		outbox.punches[p.ID] = &p
		outbox.order = append(outbox.order, p.ID)
	}
	return outbox
}

func (o *memOutbox) ListUnsynced(_ context.Context, limit int) ([]types.Punch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []types.Punch
	for _, id := range o.order {
		if len(out) >= limit {
			break
		}
		if p := o.punches[id]; p.SyncStatus != types.SyncSynced {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (o *memOutbox) MarkSynced(_ context.Context, ids []int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		if p, ok := o.punches[id]; ok {
			p.SyncStatus = types.SyncSynced
			p.SyncError = ""
		}
	}
	return nil
}

func (o *memOutbox) MarkError(_ context.Context, id int64, message string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.punches[id]
	if !ok || p.SyncStatus == types.SyncSynced {
		return store.ErrNotFound
	}
	p.SyncStatus = types.SyncError
	p.SyncError = message
	return nil
}

func (o *memOutbox) CountUnsynced(ctx context.Context, bound int) (int, error) {
	punches, err := o.ListUnsynced(ctx, bound)
	return len(punches), err
}

func (o *memOutbox) get(id int64) types.Punch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.punches[id]
}

// memResolver resolves punch owners from a fixed set.
type memResolver struct {
	users map[int]types.User
}

func (r *memResolver) GetByID(_ context.Context, id int) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func testPunch(id int64, userID int, at time.Time) types.Punch {
	return types.Punch{
		ID:             id,
		UserID:         userID,
		TimestampUTC:   at.UTC(),
		TimestampLocal: at,
		PunchType:      "in",
		MatchScore:     44,
		DeviceID:       "CHECADOR-001",
		SyncStatus:     types.SyncUnsynced,
		CreatedAt:      at,
	}
}

func syncConfig(url string) config.SyncConfig {
	return config.SyncConfig{
		Enabled:          true,
		URL:              url,
		APIKey:           "secret-key",
		IntervalSeconds:  300,
		RetryMaxAttempts: 5,
		RetryBackoffBase: 2,
		BatchLimit:       100,
		TimeoutSeconds:   5,
	}
}

func newWorker(cfg config.SyncConfig, outbox PunchOutbox, users map[int]types.User) *Worker {
	return New(cfg, "CHECADOR-001", outbox, &memResolver{users: users}, log.New(io.Discard, "", 0))
}

func TestSyncOnceEmptyOutboxIsIdempotentSuccess(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	worker := newWorker(syncConfig(server.URL), newMemOutbox(), nil)

	require.NoError(t, worker.SyncOnce(context.Background()))
	require.NoError(t, worker.SyncOnce(context.Background()))
	assert.Zero(t, calls, "empty outbox must not contact the network")
}

func TestSyncOnceDeliversBatch(t *testing.T) {
	now := time.Now()
	var gotAuth string
	var gotBody batchPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/punches", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer server.Close()

	outbox := newMemOutbox(testPunch(1, 10, now), testPunch(2, 10, now.Add(time.Second)))
	users := map[int]types.User{10: {ID: 10, EmployeeCode: "A123", Active: true}}
	worker := newWorker(syncConfig(server.URL), outbox, users)

	require.NoError(t, worker.SyncOnce(context.Background()))

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "CHECADOR-001", gotBody.DeviceID)
	require.Len(t, gotBody.Punches, 2)
	assert.Equal(t, "A123", gotBody.Punches[0].EmployeeCode)
	assert.Equal(t, 44, gotBody.Punches[0].MatchScore)

	assert.Equal(t, types.SyncSynced, outbox.get(1).SyncStatus)
	assert.Equal(t, types.SyncSynced, outbox.get(2).SyncStatus)
}

func TestSyncOnceServerErrorMarksBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	now := time.Now()
	outbox := newMemOutbox(
		testPunch(1, 10, now),
		testPunch(2, 10, now.Add(time.Second)),
		testPunch(3, 10, now.Add(2*time.Second)),
		testPunch(4, 10, now.Add(3*time.Second)),
		testPunch(5, 10, now.Add(4*time.Second)),
	)
	users := map[int]types.User{10: {ID: 10, EmployeeCode: "A123", Active: true}}
	worker := newWorker(syncConfig(server.URL), outbox, users)

	err := worker.SyncOnce(context.Background())
	require.ErrorIs(t, err, ErrDeliveryFailed)

	for id := int64(1); id <= 5; id++ {
		punch := outbox.get(id)
		assert.Equal(t, types.SyncError, punch.SyncStatus)
		assert.Contains(t, punch.SyncError, "server returned 500")
		assert.Contains(t, punch.SyncError, "database unavailable")
	}

	// Error-state punches stay in the unsynced selection.
	pending, err := outbox.ListUnsynced(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

func TestSyncOnceErrorPunchesRecoverOnNextCycle(t *testing.T) {
	fail := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "try later", http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	outbox := newMemOutbox(testPunch(1, 10, time.Now()))
	users := map[int]types.User{10: {ID: 10, EmployeeCode: "A123", Active: true}}
	worker := newWorker(syncConfig(server.URL), outbox, users)

	require.ErrorIs(t, worker.SyncOnce(context.Background()), ErrDeliveryFailed)
	assert.Equal(t, types.SyncError, outbox.get(1).SyncStatus)

	fail = false
	require.NoError(t, worker.SyncOnce(context.Background()))
	punch := outbox.get(1)
	assert.Equal(t, types.SyncSynced, punch.SyncStatus)
	assert.Empty(t, punch.SyncError)
}

func TestSyncOnceSkipsUnresolvableUsers(t *testing.T) {
	var gotBody batchPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer server.Close()

	now := time.Now()
	outbox := newMemOutbox(testPunch(1, 10, now), testPunch(2, 99, now.Add(time.Second)))
	users := map[int]types.User{10: {ID: 10, EmployeeCode: "A123", Active: true}}
	worker := newWorker(syncConfig(server.URL), outbox, users)

	require.NoError(t, worker.SyncOnce(context.Background()))

	require.Len(t, gotBody.Punches, 1)
	assert.Equal(t, "A123", gotBody.Punches[0].EmployeeCode)

	assert.Equal(t, types.SyncSynced, outbox.get(1).SyncStatus)
	// The orphaned punch is neither synced nor marked error; it waits
	// for the lookup to succeed on a later cycle.
	assert.Equal(t, types.SyncUnsynced, outbox.get(2).SyncStatus)
	assert.Empty(t, outbox.get(2).SyncError)
}

func TestSyncOnceDisabledTouchesNothing(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	cfg := syncConfig(server.URL)
	cfg.Enabled = false
	outbox := newMemOutbox(testPunch(1, 10, time.Now()))
	worker := newWorker(cfg, outbox, nil)

	require.NoError(t, worker.SyncOnce(context.Background()))
	assert.Zero(t, calls)
	assert.Equal(t, types.SyncUnsynced, outbox.get(1).SyncStatus, "disabled sync must never mark punches synced")
}

func TestSyncOnceTransportErrorMarksBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	outbox := newMemOutbox(testPunch(1, 10, time.Now()))
	users := map[int]types.User{10: {ID: 10, EmployeeCode: "A123", Active: true}}
	worker := newWorker(syncConfig(server.URL), outbox, users)

	require.ErrorIs(t, worker.SyncOnce(context.Background()), ErrDeliveryFailed)
	assert.Equal(t, types.SyncError, outbox.get(1).SyncStatus)
	assert.NotEmpty(t, outbox.get(1).SyncError)
}

// alwaysPendingOutbox never runs dry, so every loop cycle uploads.
type alwaysPendingOutbox struct {
	punch types.Punch
}

func (o *alwaysPendingOutbox) ListUnsynced(context.Context, int) ([]types.Punch, error) {
	return []types.Punch{o.punch}, nil
}

func (o *alwaysPendingOutbox) MarkSynced(context.Context, []int64) error { return nil }

func (o *alwaysPendingOutbox) MarkError(context.Context, int64, string) error { return nil }

func (o *alwaysPendingOutbox) CountUnsynced(context.Context, int) (int, error) { return 1, nil }

func TestRunLoopResetsRetriesOnSuccess(t *testing.T) {
	// Endpoint outcomes per cycle: fail, fail, succeed, fail. The two
	// failures climb the exponential curve, the success drops the loop
	// back to the steady-state interval, and the next failure starts the
	// curve over at the base delay.
	var mu sync.Mutex
	statuses := []int{
		http.StatusInternalServerError,
		http.StatusInternalServerError,
		http.StatusOK,
		http.StatusInternalServerError,
	}
	cycle := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		status := statuses[cycle]
		cycle++
		mu.Unlock()
		w.WriteHeader(status)
	}))
	defer server.Close()

	outbox := &alwaysPendingOutbox{punch: testPunch(1, 10, time.Now())}
	users := map[int]types.User{10: {ID: 10, EmployeeCode: "A123", Active: true}}
	worker := newWorker(syncConfig(server.URL), outbox, users)

	var delays []time.Duration
	worker.sleep = func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return len(delays) < len(statuses)
	}

	worker.run(context.Background(), make(chan struct{}))

	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		300 * time.Second,
		2 * time.Second,
	}, delays)
}

func TestNextDelayCapsAtMaxAttempts(t *testing.T) {
	worker := newWorker(syncConfig("http://localhost:0"), newMemOutbox(), nil)

	retries := 0
	var delays []time.Duration
	for i := 0; i < 7; i++ {
		var delay time.Duration
		delay, retries = worker.nextDelay(ErrDeliveryFailed, retries)
		delays = append(delays, delay)
	}

	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		32 * time.Second,
		32 * time.Second,
	}, delays)
	assert.Equal(t, 5, retries)
}

func TestNextDelayInternalErrorUsesFixedFallback(t *testing.T) {
	worker := newWorker(syncConfig("http://localhost:0"), newMemOutbox(), nil)

	delay, retries := worker.nextDelay(errors.New("outbox read failed"), 3)
	assert.Equal(t, 60*time.Second, delay)
	assert.Equal(t, 3, retries, "an internal error must not advance the exponential curve")
}

func TestBackoffDelayGrowth(t *testing.T) {
	worker := newWorker(syncConfig("http://localhost:0"), newMemOutbox(), nil)

	assert.Equal(t, 2*time.Second, worker.backoffDelay(1))
	assert.Equal(t, 4*time.Second, worker.backoffDelay(2))
	assert.Equal(t, 8*time.Second, worker.backoffDelay(3))
	assert.Equal(t, 16*time.Second, worker.backoffDelay(4))
	assert.Equal(t, 32*time.Second, worker.backoffDelay(5))
}

func TestStatusReportsBacklogAndState(t *testing.T) {
	outbox := newMemOutbox(testPunch(1, 10, time.Now()), testPunch(2, 10, time.Now()))
	worker := newWorker(syncConfig("http://clock.example.com"), outbox, nil)

	status, err := worker.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.Running)
	assert.Equal(t, "http://clock.example.com", status.ServerURL)
	assert.Equal(t, 2, status.UnsyncedCount)
}

func TestStatusHidesURLWhenDisabled(t *testing.T) {
	cfg := syncConfig("http://clock.example.com")
	cfg.Enabled = false
	worker := newWorker(cfg, newMemOutbox(), nil)

	status, err := worker.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Empty(t, status.ServerURL)
}

func TestStartStopInterruptsSleep(t *testing.T) {
	worker := newWorker(syncConfig("http://localhost:0"), newMemOutbox(), nil)

	worker.Start()
	status, err := worker.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)

	// The loop is asleep for the full steady-state interval; Stop must
	// not wait it out.
	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt the sync loop sleep")
	}

	status, err = worker.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestStartDisabledDoesNotRun(t *testing.T) {
	cfg := syncConfig("http://localhost:0")
	cfg.Enabled = false
	worker := newWorker(cfg, newMemOutbox(), nil)

	worker.Start()
	status, err := worker.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Running)
}
