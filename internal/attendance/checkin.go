package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"industrialvisit/internal/queue"
)

// CheckInRequest is a student's claim of presence.
type CheckInRequest struct {
	Token string
	// VisitID is optional; when the scanned payload carries one it must
	// match the visit owning Token.
	VisitID   string
	StudentID string
	Position  GPS
	Now       time.Time
}

// CheckIn validates the token, the visit window and the reported position,
// then records attendance at most once per student and visit. A repeated
// check-in returns the existing record together with a KindAlreadyCheckedIn
// error.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (Attendance, error) {
	if req.StudentID == "" {
		return Attendance{}, ErrStudentRequired
	}
	now := s.clock(req.Now)

	tok, err := s.store.TokenByValue(ctx, req.Token)
	if errors.Is(err, ErrTokenNotFound) || (err == nil && req.VisitID != "" && req.VisitID != tok.VisitID) {
		return Attendance{}, s.reject(&CheckInError{Kind: KindTokenNotFound})
	}
	if err != nil {
		return Attendance{}, fmt.Errorf("resolve token: %w", err)
	}
	visit, err := s.store.GetVisit(ctx, tok.VisitID)
	if errors.Is(err, ErrVisitNotFound) {
		return Attendance{}, s.reject(&CheckInError{Kind: KindTokenNotFound})
	}
	if err != nil {
		return Attendance{}, fmt.Errorf("load visit: %w", err)
	}

	if !IsTokenUsable(visit, tok, now) {
		return Attendance{}, s.reject(&CheckInError{
			Kind:   KindTokenExpiredOrInactive,
			Detail: tokenState(visit, tok, now),
		})
	}

	existing, err := s.store.GetAttendance(ctx, req.StudentID, visit.ID)
	if err == nil {
		return existing, s.reject(&CheckInError{Kind: KindAlreadyCheckedIn, Existing: &existing})
	}
	if !errors.Is(err, ErrAttendanceNotFound) {
		return Attendance{}, fmt.Errorf("load attendance: %w", err)
	}

	check, err := ValidateLocation(visit, req.Position)
	if errors.Is(err, ErrInvalidCoordinates) {
		return Attendance{}, s.reject(&CheckInError{Kind: KindInvalidCoordinates, Detail: err.Error()})
	}
	if err != nil {
		return Attendance{}, err
	}
	if !check.Measured {
		return Attendance{}, s.reject(&CheckInError{Kind: KindLocationUnavailable})
	}
	s.metrics.ObserveDistance(check.DistanceMeters)
	if !check.IsWithinRadius {
		return Attendance{}, s.reject(&CheckInError{
			Kind:                KindOutOfRange,
			DistanceMeters:      check.DistanceMeters,
			AllowedRadiusMeters: check.AllowedRadiusMeters,
		})
	}

	pos := req.Position
	distance := check.DistanceMeters
	rec, inserted, err := s.store.InsertAttendance(ctx, Attendance{
		ID:                      uuid.NewString(),
		StudentID:               req.StudentID,
		VisitID:                 visit.ID,
		CheckInAt:               now,
		Position:                &pos,
		DistanceFromVisitMeters: &distance,
		IsWithinRadius:          true,
		ValidationMessage:       check.Message,
		Status:                  AttendancePresent,
		VerificationMethod:      VerifiedQRScan,
	})
	if err != nil {
		return Attendance{}, fmt.Errorf("record attendance: %w", err)
	}
	if !inserted {
		// lost a race with a concurrent scan by the same student
		return rec, s.reject(&CheckInError{Kind: KindAlreadyCheckedIn, Existing: &rec})
	}

	s.metrics.CheckIn("success")
	s.publish(ctx, queue.Message{
		Type:       queue.TypeCheckIn,
		VisitID:    visit.ID,
		ActorID:    req.StudentID,
		Generation: tok.Generation,
		Detail:     fmt.Sprintf("%.1fm", distance),
		At:         now,
	})
	return rec, nil
}

func (s *Service) reject(e *CheckInError) error {
	s.metrics.CheckIn(string(e.Kind))
	return e
}

func tokenState(v Visit, tok QRToken, now time.Time) string {
	switch {
	case !tok.IsActive:
		return "code was replaced"
	case !now.Before(tok.ExpiresAt):
		return "code expired"
	}
	switch StatusOf(v, now) {
	case StatusPending:
		return "visit has not started"
	case StatusCompleted:
		return "visit has ended"
	}
	return ""
}

// CheckOut closes a student's attendance. Leaving before the visit ends
// marks the record LEFT_EARLY.
func (s *Service) CheckOut(ctx context.Context, studentID, visitID string, now time.Time) (Attendance, error) {
	if studentID == "" {
		return Attendance{}, ErrStudentRequired
	}
	now = s.clock(now)
	visit, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return Attendance{}, err
	}
	cur, err := s.store.GetAttendance(ctx, studentID, visitID)
	if err != nil {
		return Attendance{}, err
	}
	status := cur.Status
	if now.Before(visit.EndTime) {
		status = AttendanceLeftEarly
	}
	rec, err := s.store.CheckOut(ctx, studentID, visitID, now, status)
	if err != nil {
		return Attendance{}, err
	}
	s.publish(ctx, queue.Message{Type: queue.TypeCheckOut, VisitID: visitID, ActorID: studentID, Detail: string(status), At: now})
	return rec, nil
}

// MarkManual records a student as present without a scan. Only the visit
// owner or an admin may do this, and only once the visit has started.
func (s *Service) MarkManual(ctx context.Context, actor Actor, visitID, studentID string, now time.Time) (Attendance, error) {
	if studentID == "" {
		return Attendance{}, ErrStudentRequired
	}
	now = s.clock(now)
	visit, err := s.manageableVisit(ctx, actor, visitID)
	if err != nil {
		return Attendance{}, err
	}
	if StatusOf(visit, now) == StatusPending {
		return Attendance{}, ErrVisitNotStarted
	}
	rec, inserted, err := s.store.InsertAttendance(ctx, Attendance{
		ID:                 uuid.NewString(),
		StudentID:          studentID,
		VisitID:            visitID,
		CheckInAt:          now,
		ValidationMessage:  "marked present by " + actor.ID,
		Status:             AttendancePresent,
		VerificationMethod: VerifiedManual,
	})
	if err != nil {
		return Attendance{}, fmt.Errorf("record attendance: %w", err)
	}
	if !inserted {
		return rec, &CheckInError{Kind: KindAlreadyCheckedIn, Existing: &rec}
	}
	s.publish(ctx, queue.Message{Type: queue.TypeManual, VisitID: visitID, ActorID: actor.ID, Detail: studentID, At: now})
	return rec, nil
}

// ListAttendance returns the visit's attendance records for its owner or an admin.
func (s *Service) ListAttendance(ctx context.Context, actor Actor, visitID string) ([]Attendance, error) {
	if _, err := s.manageableVisit(ctx, actor, visitID); err != nil {
		return nil, err
	}
	return s.store.ListAttendance(ctx, visitID)
}
