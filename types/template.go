package types

import "time"

// Template represents one enrolled fingerprint sample of a user.
// A user accumulates templates during enrollment; templates are immutable
// once created and are only ever excluded from matching by deactivating
// their owner.
type Template struct {
	// ID is the unique identifier of the template.
	ID int `json:"id" db:"id"`

	// UserID identifies the user this template belongs to.
	UserID int `json:"user_id" db:"user_id"`

	// Features is the opaque minutiae feature set produced by the
	// extractor at capture time (mindtct XYT payload). The device never
	// interprets it beyond handing it to the matcher.
	Features []byte `json:"-" db:"features"`

	// Quality is the extraction quality score recorded at capture time.
	// It is never recomputed.
	Quality int `json:"quality" db:"quality"`

	// ArchiveKey is the object-storage key of the raw capture image,
	// when capture archiving is enabled. Empty otherwise.
	ArchiveKey string `json:"archive_key,omitempty" db:"archive_key"`

	// CreatedAt is the timestamp when the sample was accepted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
