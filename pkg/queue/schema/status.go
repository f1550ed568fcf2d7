package schema

import (
	"strings"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Status is the state of a message. A message moves from pending to
// processing when claimed, and from processing to completed.
type Status uint

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
)

// Statuses are all the values of Status, in transition order
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// ParseStatus returns the status for the stored representation. The match
// is case-insensitive.
func ParseStatus(v string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "PENDING":
		return StatusPending, nil
	case "PROCESSING":
		return StatusProcessing, nil
	case "COMPLETED":
		return StatusCompleted, nil
	}
	return 0, pg.ErrBadParameter.Withf("invalid status %q", v)
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

// String returns the stored representation of the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusCompleted:
		return "COMPLETED"
	}
	return "UNKNOWN"
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, pg.ErrBadParameter.Withf("invalid status %d", uint(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(data []byte) error {
	v, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Valid returns true if the status is one of the defined values
func (s Status) Valid() bool {
	return s <= StatusCompleted
}

// Precedes returns true if other is the status which directly follows s
func (s Status) Precedes(other Status) bool {
	return s.Valid() && other.Valid() && other == s+1
}
