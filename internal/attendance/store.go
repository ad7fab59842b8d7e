package attendance

import (
	"context"
	"time"
)

// Store persists visits, tokens, attendance and feedback. Implementations
// must enforce uniqueness of (student, visit) for attendance and feedback,
// and at most one active token per visit.
type Store interface {
	CreateVisit(ctx context.Context, v Visit) (Visit, error)
	GetVisit(ctx context.Context, id string) (Visit, error)
	// ListVisits returns visits owned by ownerID, or all visits when ownerID is empty.
	ListVisits(ctx context.Context, ownerID string) ([]Visit, error)
	// UpdateVisit writes v if the stored version still equals v.Version and
	// returns the visit with its bumped version.
	UpdateVisit(ctx context.Context, v Visit) (Visit, error)
	DeleteVisit(ctx context.Context, id string, expectedVersion int64) error

	// RotateToken deactivates the visit's active token and stores tok as the
	// new active one in a single write, guarded by expectedVersion.
	RotateToken(ctx context.Context, visitID string, expectedVersion int64, tok QRToken) (QRToken, error)
	ActiveToken(ctx context.Context, visitID string) (QRToken, error)
	// TokenByValue resolves a token whether or not it is still active.
	TokenByValue(ctx context.Context, value string) (QRToken, error)
	// TouchToken records a display refresh on the visit's active token.
	TouchToken(ctx context.Context, visitID string, at time.Time) (QRToken, error)

	// InsertAttendance stores a if no row exists for (a.StudentID, a.VisitID).
	// When one already exists it is returned with inserted=false.
	InsertAttendance(ctx context.Context, a Attendance) (rec Attendance, inserted bool, err error)
	GetAttendance(ctx context.Context, studentID, visitID string) (Attendance, error)
	ListAttendance(ctx context.Context, visitID string) ([]Attendance, error)
	CheckOut(ctx context.Context, studentID, visitID string, at time.Time, status AttendanceStatus) (Attendance, error)

	InsertFeedback(ctx context.Context, f Feedback) (Feedback, error)
	ListFeedback(ctx context.Context, visitID string) ([]Feedback, error)
	Counters(ctx context.Context, visitID string) (Counters, error)

	CreateUser(ctx context.Context, u User) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes a live refresh token and returns its user.
	// Unknown, revoked and expired tokens fail with ErrInvalidRefresh.
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (userID string, err error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, visitID string) ([]AuditEntry, error)
}
