package types

import "time"

// User represents an employee enrolled on the device.
// It contains identity and audit metadata; fingerprint data lives in
// the user's templates.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// EmployeeCode is the unique payroll code assigned to the user.
	// It is the identifier the central server keys attendance on.
	EmployeeCode string `json:"employee_code" db:"employee_code"`

	// Active indicates whether the user may be identified at the clock.
	// Deactivation is a soft delete: templates and punches that reference
	// the user are kept.
	Active bool `json:"active" db:"active"`

	// CreatedAt is the timestamp when the user was created, which is the
	// moment enrollment started for them.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
