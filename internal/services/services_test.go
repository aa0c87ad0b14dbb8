package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"testing"
	"time"

	"github.com/checador/device/internal/store"
	"github.com/checador/device/types"
)

// grayCapture returns a small grayscale PNG the imaging pipeline accepts.
func grayCapture(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode capture: %v", err)
	}
	return buf.Bytes()
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	users  map[int]types.User
	nextID int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int]types.User), nextID: 1}
}

func (r *memUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByEmployeeCode(_ context.Context, code string) (types.User, error) {
	for _, user := range r.users {
		if user.EmployeeCode == code {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) List(_ context.Context, activeOnly bool) ([]types.User, error) {
	var users []types.User
	for id := 1; id < r.nextID; id++ {
		user, ok := r.users[id]
		if !ok {
			continue
		}
		if activeOnly && !user.Active {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

func (r *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	user.ID = r.nextID
	user.Active = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	r.nextID++
	return user, nil
}

func (r *memUserRepo) Deactivate(_ context.Context, id int) error {
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Active = false
	r.users[id] = user
	return nil
}

// memTemplateRepo is an in-memory TemplateRepository.
type memTemplateRepo struct {
	users     *memUserRepo
	templates []types.Template
	nextID    int
}

func newMemTemplateRepo(users *memUserRepo) *memTemplateRepo {
	return &memTemplateRepo{users: users, nextID: 1}
}

func (r *memTemplateRepo) Create(_ context.Context, template types.Template) (types.Template, error) {
	template.ID = r.nextID
	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now()
	}
	r.nextID++
	r.templates = append(r.templates, template)
	return template, nil
}

func (r *memTemplateRepo) ListForUser(_ context.Context, userID int) ([]types.Template, error) {
	var out []types.Template
	for _, t := range r.templates {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTemplateRepo) CountForUser(ctx context.Context, userID int) (int, error) {
	templates, err := r.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(templates), nil
}

func (r *memTemplateRepo) ListForActiveUsers(_ context.Context) ([]types.Template, error) {
	var out []types.Template
	for _, t := range r.templates {
		user, ok := r.users.users[t.UserID]
		if !ok || !user.Active {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// memPunchRepo is an in-memory PunchRepository.
type memPunchRepo struct {
	punches []types.Punch
	nextID  int64
}

func newMemPunchRepo() *memPunchRepo {
	return &memPunchRepo{nextID: 1}
}

func (r *memPunchRepo) Create(_ context.Context, punch types.Punch) (types.Punch, error) {
	punch.ID = r.nextID
	punch.CreatedAt = time.Now()
	punch.SyncStatus = types.SyncUnsynced
	r.nextID++
	r.punches = append(r.punches, punch)
	return punch, nil
}

func (r *memPunchRepo) GetLastForUser(_ context.Context, userID int) (types.Punch, error) {
	for i := len(r.punches) - 1; i >= 0; i-- {
		if r.punches[i].UserID == userID {
			return r.punches[i], nil
		}
	}
	return types.Punch{}, store.ErrNotFound
}

func (r *memPunchRepo) ListRecent(_ context.Context, limit int) ([]types.Punch, error) {
	var out []types.Punch
	for i := len(r.punches) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.punches[i])
	}
	return out, nil
}

// scriptedExtractor returns queued results, one per Extract call.
type scriptedExtractor struct {
	results []extractResult
	calls   int
}

type extractResult struct {
	features []byte
	quality  int
	err      error
}

func (e *scriptedExtractor) Extract(context.Context, string) ([]byte, int, error) {
	if e.calls >= len(e.results) {
		return nil, 0, fmt.Errorf("unexpected extract call %d", e.calls)
	}
	result := e.results[e.calls]
	e.calls++
	return result.features, result.quality, result.err
}

// mapMatcher scores candidates by their feature payload.
type mapMatcher struct {
	scores map[string]int
	errs   map[string]error
}

func (m *mapMatcher) Match(_ context.Context, _, candidate []byte) (int, error) {
	key := string(candidate)
	if err, ok := m.errs[key]; ok {
		return 0, err
	}
	score, ok := m.scores[key]
	if !ok {
		return 0, fmt.Errorf("no score for candidate %q", key)
	}
	return score, nil
}
