// README: Assignment records and the conflict result returned when a compare-and-set loses.
package assignment

import (
	"errors"
	"fmt"
	"time"

	"chauffeur/internal/types"
)

var (
	ErrAssignmentConflict = errors.New("assignment conflict")
	ErrNotFound           = errors.New("assignment not found")
	ErrInvalidAssignment  = errors.New("invalid assignment")
)

// Assignment binds a driver to a ride request. Records are append-only; a
// reassignment writes a new record that supersedes the previous one.
type Assignment struct {
	ID            types.ID
	RideRequestID types.ID
	DriverID      types.ID
	AssignedAt    time.Time
	// Version is the ride's head version this record created, starting at 1.
	Version    int64
	Supersedes *types.ID
	// SupersededBy is derived on read from the following record.
	SupersededBy *types.ID
}

func (a Assignment) Active() bool { return a.SupersededBy == nil }

// Head is the per-ride pointer guarded by compare-and-set. Version 0 means
// the ride has never been assigned.
type Head struct {
	RideRequestID types.ID
	Version       int64
	Active        *Assignment
}

// ConflictError reports a lost race. Current is the state that won, when it
// could be read back.
type ConflictError struct {
	RideRequestID   types.ID
	ExpectedVersion int64
	Current         *Assignment
}

func (e *ConflictError) Error() string {
	if e.Current != nil {
		return fmt.Sprintf("%s: ride %s moved past version %d, now assigned to %s at version %d",
			ErrAssignmentConflict, e.RideRequestID, e.ExpectedVersion, e.Current.DriverID, e.Current.Version)
	}
	return fmt.Sprintf("%s: ride %s moved past version %d", ErrAssignmentConflict, e.RideRequestID, e.ExpectedVersion)
}

func (e *ConflictError) Is(target error) bool { return target == ErrAssignmentConflict }

// linkHistory fills SupersededBy from the ordered records.
func linkHistory(records []Assignment) []Assignment {
	for i := 0; i+1 < len(records); i++ {
		next := records[i+1].ID
		records[i].SupersededBy = &next
	}
	return records
}
