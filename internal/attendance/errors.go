package attendance

import (
	"errors"
	"fmt"

	"industrialvisit/internal/geo"
)

// Lookup and state errors returned by the store and the service.
var (
	ErrVisitNotFound      = errors.New("visit not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrNoActiveToken      = errors.New("visit has no active token")
	ErrAttendanceNotFound = errors.New("attendance not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidRefresh     = errors.New("refresh token unknown, revoked or expired")
	ErrVersionConflict    = errors.New("visit was modified concurrently")
	ErrForbidden          = errors.New("not allowed to manage this visit")
	ErrVisitCompleted     = errors.New("visit is completed")
	ErrVisitNotPending    = errors.New("visit can only be deleted before it starts")
	ErrVisitNotStarted    = errors.New("visit has not started")
	ErrVisitStarted       = errors.New("visit has started; its start cannot move into the future")
	ErrAlreadyCheckedOut  = errors.New("already checked out")
	ErrNotAttended        = errors.New("no attendance recorded for this visit")
	ErrFeedbackExists     = errors.New("feedback already submitted")
	ErrStudentRequired    = errors.New("student id required")
)

// Validation errors for visit and feedback input.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidWindow   = fmt.Errorf("%w: end time must be after start time", ErrInvalidInput)
	ErrInvalidRadius   = fmt.Errorf("%w: allowed radius must be between %.0f and %.0f meters", ErrInvalidInput, MinRadiusMeters, MaxRadiusMeters)
	ErrInvalidFeedback = fmt.Errorf("%w: feedback", ErrInvalidInput)
)

// Check-in failure kinds. Each CheckInError unwraps to one of these.
var (
	ErrTokenExpiredOrInactive = errors.New("session not active or code expired")
	ErrAlreadyCheckedIn       = errors.New("already checked in")
	ErrOutOfRange             = errors.New("outside the allowed radius")
	ErrLocationUnavailable    = errors.New("location not available")
	ErrInvalidCoordinates     = geo.ErrInvalidCoordinates
)

// ErrorKind is a stable code for a check-in outcome, serialized to API clients.
type ErrorKind string

const (
	KindTokenNotFound          ErrorKind = "TOKEN_NOT_FOUND"
	KindTokenExpiredOrInactive ErrorKind = "TOKEN_EXPIRED_OR_INACTIVE"
	KindAlreadyCheckedIn       ErrorKind = "ALREADY_CHECKED_IN"
	KindOutOfRange             ErrorKind = "OUT_OF_RANGE"
	KindLocationUnavailable    ErrorKind = "LOCATION_UNAVAILABLE"
	KindInvalidCoordinates     ErrorKind = "INVALID_COORDINATES"
)

var kindSentinels = map[ErrorKind]error{
	KindTokenNotFound:          ErrTokenNotFound,
	KindTokenExpiredOrInactive: ErrTokenExpiredOrInactive,
	KindAlreadyCheckedIn:       ErrAlreadyCheckedIn,
	KindOutOfRange:             ErrOutOfRange,
	KindLocationUnavailable:    ErrLocationUnavailable,
	KindInvalidCoordinates:     ErrInvalidCoordinates,
}

// CheckInError describes why a check-in attempt was not recorded.
// For KindAlreadyCheckedIn, Existing holds the prior attendance.
type CheckInError struct {
	Kind                ErrorKind
	DistanceMeters      float64
	AllowedRadiusMeters float64
	Existing            *Attendance
	Detail              string
}

func (e *CheckInError) Error() string {
	switch e.Kind {
	case KindOutOfRange:
		return fmt.Sprintf("you are %.0fm from the visit location, allowed radius is %.0fm", e.DistanceMeters, e.AllowedRadiusMeters)
	case KindAlreadyCheckedIn:
		return "attendance already recorded for this visit"
	}
	msg := kindSentinels[e.Kind].Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CheckInError) Unwrap() error { return kindSentinels[e.Kind] }

// KindOf returns the check-in kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CheckInError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
