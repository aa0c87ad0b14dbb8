// Package syncer delivers punch records to the central server with
// at-least-once semantics. Punches stay durable in the outbox until the
// server acknowledges a batch; failed attempts are marked for operator
// visibility but never taken out of rotation.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/checador/device/config"
	"github.com/checador/device/types"
)

// PunchOutbox is the durable queue of punches awaiting delivery.
type PunchOutbox interface {
	ListUnsynced(ctx context.Context, limit int) ([]types.Punch, error)
	MarkSynced(ctx context.Context, ids []int64) error
	MarkError(ctx context.Context, id int64, message string) error
	CountUnsynced(ctx context.Context, bound int) (int, error)
}

// UserResolver looks up punch owners for the upload payload.
type UserResolver interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// ErrDeliveryFailed marks a normal delivery failure: the endpoint was
// unreachable or rejected the batch. The loop reacts with exponential
// backoff; anything else is an internal error handled with a fixed delay.
var ErrDeliveryFailed = errors.New("punch delivery failed")

// statusCountBound caps the unsynced scan in Status so reporting stays
// cheap on a large backlog.
const statusCountBound = 1000

// internalRetryDelay is the fixed sleep after an unexpected internal
// error, kept off the exponential curve to avoid runaway loops on
// persistent bugs.
const internalRetryDelay = 60 * time.Second

// Worker drains the punch outbox to the central server.
// One worker per process; manual and background cycles are serialized
// so a batch is never double-sent.
type Worker struct {
	cfg      config.SyncConfig
	deviceID string
	outbox   PunchOutbox
	users    UserResolver
	client   *http.Client
	logger   *log.Logger

	// sleep waits between cycles; swapped out in tests so the loop's
	// delay sequence can be observed without real multi-second sleeps.
	sleep func(ctx context.Context, d time.Duration) bool

	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg config.SyncConfig, deviceID string, outbox PunchOutbox, users UserResolver, logger *log.Logger) *Worker {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		cfg:      cfg,
		deviceID: deviceID,
		outbox:   outbox,
		users:    users,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// batchPayload is the upload body for one drain cycle.
type batchPayload struct {
	DeviceID string        `json:"device_id"`
	Punches  []punchRecord `json:"punches"`
}

type punchRecord struct {
	UserID         int    `json:"user_id"`
	EmployeeCode   string `json:"employee_code"`
	TimestampUTC   string `json:"timestamp_utc"`
	TimestampLocal string `json:"timestamp_local"`
	PunchType      string `json:"punch_type"`
	MatchScore     int    `json:"match_score"`
	DeviceID       string `json:"device_id"`
}

// SyncOnce runs one drain cycle: read a batch of unsynced punches,
// resolve their owners, upload them in a single request, and record the
// outcome. An empty batch is a success, and disabled sync short-circuits
// without touching records or the network.
func (w *Worker) SyncOnce(ctx context.Context) error {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	if !w.cfg.Enabled {
		return nil
	}
	if w.cfg.URL == "" {
		w.logger.Printf("sync: server url not configured")
		return nil
	}

	punches, err := w.outbox.ListUnsynced(ctx, w.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}
	if len(punches) == 0 {
		return nil
	}

	payload := batchPayload{DeviceID: w.deviceID}
	included := make([]types.Punch, 0, len(punches))
	for _, punch := range punches {
		user, err := w.users.GetByID(ctx, punch.UserID)
		if err != nil {
			// User lookups can fail transiently; the punch stays
			// unsynced and comes back on the next cycle rather than
			// being marked as an error.
			w.logger.Printf("sync: cannot resolve user %d for punch %d: %v", punch.UserID, punch.ID, err)
			continue
		}
		payload.Punches = append(payload.Punches, punchRecord{
			UserID:         user.ID,
			EmployeeCode:   user.EmployeeCode,
			TimestampUTC:   punch.TimestampUTC.Format(time.RFC3339),
			TimestampLocal: punch.TimestampLocal.Format(time.RFC3339),
			PunchType:      punch.PunchType,
			MatchScore:     punch.MatchScore,
			DeviceID:       punch.DeviceID,
		})
		included = append(included, punch)
	}

	if len(included) == 0 {
		return nil
	}

	w.logger.Printf("sync: uploading %d punches", len(included))

	if err := w.deliver(ctx, payload); err != nil {
		for _, punch := range included {
			if markErr := w.outbox.MarkError(ctx, punch.ID, err.Error()); markErr != nil {
				w.logger.Printf("sync: mark error failed for punch %d: %v", punch.ID, markErr)
			}
		}
		w.logger.Printf("sync: upload failed: %v", err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	ids := make([]int64, len(included))
	for i, punch := range included {
		ids[i] = punch.ID
	}
	if err := w.outbox.MarkSynced(ctx, ids); err != nil {
		// The server has the batch; the punches will be re-sent next
		// cycle, which at-least-once delivery allows.
		return fmt.Errorf("mark synced: %w", err)
	}

	w.logger.Printf("sync: %d punches delivered", len(included))
	return nil
}

// deliver posts one batch. The request runs under the client timeout
// rather than the loop context so a stop signal lets an in-flight upload
// finish instead of leaving the batch state ambiguous.
func (w *Worker) deliver(_ context.Context, payload batchPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, w.cfg.URL+"/punches", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Start launches the background drain loop. A disabled configuration is
// a no-op, as is starting a worker that is already running.
func (w *Worker) Start() {
	if !w.cfg.Enabled {
		w.logger.Printf("sync: disabled")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.logger.Printf("sync: worker already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
	w.logger.Printf("sync: worker started")
}

// Stop cancels the loop and waits for it to exit. Queued punches stay
// durable for the next start.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.logger.Printf("sync: worker stopped")
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	retries := 0
	for {
		err := w.SyncOnce(ctx)
		var delay time.Duration
		delay, retries = w.nextDelay(err, retries)
		switch {
		case err == nil:
		case errors.Is(err, ErrDeliveryFailed):
			w.logger.Printf("sync: retry in %s (attempt %d)", delay, retries)
		default:
			w.logger.Printf("sync: cycle error: %v", err)
		}

		if !w.sleep(ctx, delay) {
			return
		}
	}
}

// nextDelay advances the loop's retry state for one cycle outcome:
// success resets the counter and yields the steady-state interval, a
// delivery failure bumps the capped counter onto the exponential curve,
// and any other error keeps the counter and yields the fixed fallback.
func (w *Worker) nextDelay(err error, retries int) (time.Duration, int) {
	switch {
	case err == nil:
		return time.Duration(w.cfg.IntervalSeconds) * time.Second, 0
	case errors.Is(err, ErrDeliveryFailed):
		retries = min(retries+1, w.cfg.RetryMaxAttempts)
		return w.backoffDelay(retries), retries
	default:
		return internalRetryDelay, retries
	}
}

// backoffDelay returns base^retries seconds. The caller caps retries at
// RetryMaxAttempts, so the longest sleep is base^RetryMaxAttempts.
func (w *Worker) backoffDelay(retries int) time.Duration {
	delay := 1
	for i := 0; i < retries; i++ {
		delay *= w.cfg.RetryBackoffBase
	}
	return time.Duration(delay) * time.Second
}

// sleepCtx waits for d, returning false if the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Status is the operator-facing sync report.
type Status struct {
	Enabled       bool   `json:"enabled"`
	Running       bool   `json:"running"`
	ServerURL     string `json:"server_url,omitempty"`
	UnsyncedCount int    `json:"unsynced_count"`
}

// Status reports whether sync is enabled and running, plus a bounded
// count of punches still awaiting delivery.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	count, err := w.outbox.CountUnsynced(ctx, statusCountBound)
	if err != nil {
		return Status{}, err
	}

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	status := Status{
		Enabled:       w.cfg.Enabled,
		Running:       running,
		UnsyncedCount: count,
	}
	if w.cfg.Enabled {
		status.ServerURL = w.cfg.URL
	}
	return status, nil
}
