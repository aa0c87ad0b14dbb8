package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/checador/device/config"
	"github.com/checador/device/internal/store"
	"github.com/checador/device/types"
)

// PunchRepository defines persistence operations for punches.
type PunchRepository interface {
	Create(ctx context.Context, punch types.Punch) (types.Punch, error)
	GetLastForUser(ctx context.Context, userID int) (types.Punch, error)
	ListRecent(ctx context.Context, limit int) ([]types.Punch, error)
}

// EventPublisher pushes punch events to a local broker for on-premise
// consumers (attendance displays, door controllers).
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// ErrPunchBounced is returned when a user punches again within the
// antibounce window. The repeat touch is dropped, not recorded.
var ErrPunchBounced = errors.New("punch within antibounce window")

const (
	PunchTypeIn  = "in"
	PunchTypeOut = "out"
)

// PunchService records punches after a successful identification.
// Punch creation is append-only; the sync worker owns all later
// status transitions.
type PunchService struct {
	punches    PunchRepository
	users      UserRepository
	publisher  EventPublisher
	channel    string
	deviceID   string
	antibounce time.Duration
	logger     *log.Logger
}

func NewPunchService(
	punches PunchRepository,
	users UserRepository,
	deviceID string,
	cfg config.TimeclockConfig,
	logger *log.Logger,
) *PunchService {
	return &PunchService{
		punches:    punches,
		users:      users,
		deviceID:   deviceID,
		antibounce: time.Duration(cfg.AntibounceSeconds) * time.Second,
		logger:     logger,
	}
}

// WithPublisher enables the punch event feed.
func (s *PunchService) WithPublisher(publisher EventPublisher, channel string) *PunchService {
	s.publisher = publisher
	s.channel = channel
	return s
}

// punchEvent is the broker payload for one recorded punch.
type punchEvent struct {
	PunchID      int64     `json:"punch_id"`
	UserID       int       `json:"user_id"`
	EmployeeCode string    `json:"employee_code"`
	Name         string    `json:"name"`
	PunchType    string    `json:"punch_type"`
	MatchScore   int       `json:"match_score"`
	DeviceID     string    `json:"device_id"`
	TimestampUTC time.Time `json:"timestamp_utc"`
}

// RecordPunch creates the punch for an identified user. The punch type
// alternates with the user's previous punch; a repeat within the
// antibounce window is rejected without touching storage.
func (s *PunchService) RecordPunch(ctx context.Context, userID, matchScore int) (types.Punch, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.Punch{}, err
	}

	now := time.Now()
	punchType := PunchTypeIn

	last, err := s.punches.GetLastForUser(ctx, userID)
	switch {
	case err == nil:
		if now.Sub(last.TimestampUTC) < s.antibounce {
			return types.Punch{}, ErrPunchBounced
		}
		if last.PunchType == PunchTypeIn {
			punchType = PunchTypeOut
		}
	case errors.Is(err, store.ErrNotFound):
		// First punch ever, clock in.
	default:
		return types.Punch{}, err
	}

	punch, err := s.punches.Create(ctx, types.Punch{
		UserID:         userID,
		TimestampUTC:   now.UTC(),
		TimestampLocal: now,
		PunchType:      punchType,
		MatchScore:     matchScore,
		DeviceID:       s.deviceID,
	})
	if err != nil {
		return types.Punch{}, err
	}

	s.logger.Printf("punch: %s %s for %s (score=%d)", punchType, punch.TimestampLocal.Format(time.RFC3339), user.EmployeeCode, matchScore)
	s.publishEvent(ctx, punch, user)
	return punch, nil
}

// ListRecent returns the newest punches for the admin UI.
func (s *PunchService) ListRecent(ctx context.Context, limit int) ([]types.Punch, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return s.punches.ListRecent(ctx, limit)
}

// publishEvent pushes the punch to the event feed. Delivery is
// best-effort: the punch record itself is already durable and the sync
// worker owns delivery to the central server.
func (s *PunchService) publishEvent(ctx context.Context, punch types.Punch, user types.User) {
	if s.publisher == nil {
		return
	}

	data, err := json.Marshal(punchEvent{
		PunchID:      punch.ID,
		UserID:       user.ID,
		EmployeeCode: user.EmployeeCode,
		Name:         user.Name,
		PunchType:    punch.PunchType,
		MatchScore:   punch.MatchScore,
		DeviceID:     punch.DeviceID,
		TimestampUTC: punch.TimestampUTC,
	})
	if err != nil {
		s.logger.Printf("punch: event encode failed: %v", err)
		return
	}

	attrs := map[string]string{"device_id": punch.DeviceID}
	if _, err := s.publisher.Publish(ctx, s.channel, data, attrs); err != nil {
		s.logger.Printf("punch: event publish failed: %v", err)
	}
}
