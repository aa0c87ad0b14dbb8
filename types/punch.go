package types

import (
	"encoding/json"
	"time"
)

// Punch represents a single clock event recorded after a successful
// identification. Punches are append-only; after creation only the sync
// worker mutates them, and only their sync status fields.
type Punch struct {
	// ID is the unique identifier of the punch.
	ID int64 `json:"id" db:"id"`

	// UserID identifies the user who punched.
	UserID int `json:"user_id" db:"user_id"`

	// TimestampUTC is the punch time in UTC.
	TimestampUTC time.Time `json:"timestamp_utc" db:"timestamp_utc"`

	// TimestampLocal is the punch time in the device's local zone.
	// The central server receives both.
	TimestampLocal time.Time `json:"timestamp_local" db:"timestamp_local"`

	// PunchType tags the event, e.g. "in" or "out".
	PunchType string `json:"punch_type" db:"punch_type"`

	// MatchScore is the identification score that produced this punch.
	MatchScore int `json:"match_score" db:"match_score"`

	// DeviceID identifies the device that recorded the punch.
	DeviceID string `json:"device_id" db:"device_id"`

	// SyncStatus tracks delivery to the central server.
	SyncStatus SyncStatus `json:"sync_status" db:"sync_status"`

	// SyncError holds the detail of the last failed delivery attempt.
	// Empty when the punch has never failed to sync.
	SyncError string `json:"sync_error,omitempty" db:"sync_error"`

	// CreatedAt is the timestamp when the punch was recorded.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SyncStatus represents the delivery state of a punch.
type SyncStatus int

// Supported sync status values.
const (
	// SyncUnsynced indicates the punch has not been delivered yet.
	SyncUnsynced SyncStatus = iota

	// SyncSynced indicates the central server accepted the punch.
	// This state is terminal.
	SyncSynced

	// SyncError indicates the last delivery attempt failed. The punch
	// remains eligible for retry; error is a sub-state of not-yet-synced,
	// never a dead end.
	SyncError
)

// String returns the compact string representation of the status used
// in API responses, logs, and the database.
func (s SyncStatus) String() string {
	switch s {
	case SyncUnsynced:
		return "unsynced"
	case SyncSynced:
		return "synced"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSyncStatus maps the stored string form back to a SyncStatus.
func ParseSyncStatus(s string) SyncStatus {
	switch s {
	case "synced":
		return SyncSynced
	case "error":
		return SyncError
	default:
		return SyncUnsynced
	}
}

func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
