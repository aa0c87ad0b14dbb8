package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checador/device/config"
	"github.com/checador/device/types"
)

type capturedEvent struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type fakePublisher struct {
	events []capturedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, capturedEvent{channel: channel, data: data, attrs: attrs})
	return "event-1", nil
}

func newPunchFixture(t *testing.T) (*PunchService, *memUserRepo, *memPunchRepo) {
	t.Helper()
	users := newMemUserRepo()
	punches := newMemPunchRepo()
	service := NewPunchService(punches, users, "CHECADOR-001", config.TimeclockConfig{AntibounceSeconds: 10}, testLogger())
	return service, users, punches
}

func TestRecordPunchFirstIsIn(t *testing.T) {
	service, users, _ := newPunchFixture(t)
	user, err := users.Create(context.Background(), types.User{Name: "Ana", EmployeeCode: "A123"})
	require.NoError(t, err)

	punch, err := service.RecordPunch(context.Background(), user.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, PunchTypeIn, punch.PunchType)
	assert.Equal(t, 55, punch.MatchScore)
	assert.Equal(t, "CHECADOR-001", punch.DeviceID)
	assert.Equal(t, types.SyncUnsynced, punch.SyncStatus)
	assert.Equal(t, time.UTC, punch.TimestampUTC.Location())
}

func TestRecordPunchAntibounce(t *testing.T) {
	service, users, punches := newPunchFixture(t)
	user, err := users.Create(context.Background(), types.User{Name: "Ana", EmployeeCode: "A123"})
	require.NoError(t, err)

	_, err = service.RecordPunch(context.Background(), user.ID, 55)
	require.NoError(t, err)

	_, err = service.RecordPunch(context.Background(), user.ID, 60)
	assert.ErrorIs(t, err, ErrPunchBounced)
	assert.Len(t, punches.punches, 1, "bounced punch must not be recorded")
}

func TestRecordPunchAlternatesType(t *testing.T) {
	service, users, punches := newPunchFixture(t)
	user, err := users.Create(context.Background(), types.User{Name: "Ana", EmployeeCode: "A123"})
	require.NoError(t, err)

	// Seed a clock-in old enough to clear the antibounce window.
	punches.punches = append(punches.punches, types.Punch{
		ID:           1,
		UserID:       user.ID,
		PunchType:    PunchTypeIn,
		TimestampUTC: time.Now().UTC().Add(-time.Hour),
	})
	punches.nextID = 2

	punch, err := service.RecordPunch(context.Background(), user.ID, 48)
	require.NoError(t, err)
	assert.Equal(t, PunchTypeOut, punch.PunchType)
}

func TestRecordPunchUnknownUser(t *testing.T) {
	service, _, _ := newPunchFixture(t)

	_, err := service.RecordPunch(context.Background(), 42, 55)
	assert.Error(t, err)
}

func TestRecordPunchPublishesEvent(t *testing.T) {
	service, users, _ := newPunchFixture(t)
	publisher := &fakePublisher{}
	service = service.WithPublisher(publisher, "checador.punches")

	user, err := users.Create(context.Background(), types.User{Name: "Ana", EmployeeCode: "A123"})
	require.NoError(t, err)

	_, err = service.RecordPunch(context.Background(), user.ID, 55)
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "checador.punches", publisher.events[0].channel)
	assert.Contains(t, string(publisher.events[0].data), `"employee_code":"A123"`)
	assert.Equal(t, "CHECADOR-001", publisher.events[0].attrs["device_id"])
}

func TestRecordPunchSurvivesPublishFailure(t *testing.T) {
	service, users, punches := newPunchFixture(t)
	service = service.WithPublisher(&fakePublisher{err: errors.New("broker down")}, "checador.punches")

	user, err := users.Create(context.Background(), types.User{Name: "Ana", EmployeeCode: "A123"})
	require.NoError(t, err)

	_, err = service.RecordPunch(context.Background(), user.ID, 55)
	require.NoError(t, err, "event feed is best-effort; punch recording must succeed")
	assert.Len(t, punches.punches, 1)
}

func TestUserServiceListReportsEnrollment(t *testing.T) {
	users := newMemUserRepo()
	templates := newMemTemplateRepo(users)
	service := NewUserService(users, templates, 3)

	user, err := users.Create(context.Background(), types.User{Name: "Ana", EmployeeCode: "A123"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := templates.Create(context.Background(), types.Template{UserID: user.ID, Quality: 25})
		require.NoError(t, err)
	}
	partial, err := users.Create(context.Background(), types.User{Name: "Ben", EmployeeCode: "B456"})
	require.NoError(t, err)
	_, err = templates.Create(context.Background(), types.Template{UserID: partial.ID, Quality: 25})
	require.NoError(t, err)

	summaries, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 3, summaries[0].TemplateCount)
	assert.True(t, summaries[0].Enrolled)
	assert.Equal(t, 1, summaries[1].TemplateCount)
	assert.False(t, summaries[1].Enrolled)
}
