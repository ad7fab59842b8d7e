package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocationInput is the client-supplied visit location.
type LocationInput struct {
	Latitude            float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude           float64 `json:"longitude" validate:"gte=-180,lte=180"`
	AllowedRadiusMeters float64 `json:"allowed_radius_meters"`
}

// VisitInput carries the mutable fields of a visit.
type VisitInput struct {
	CompanyName string         `json:"company_name" validate:"required,max=200"`
	Purpose     string         `json:"purpose" validate:"max=2000"`
	StartTime   time.Time      `json:"start_time" validate:"required"`
	EndTime     time.Time      `json:"end_time" validate:"required"`
	Location    *LocationInput `json:"location,omitempty"`
}

func (s *Service) normalizeVisit(in VisitInput) (VisitInput, *Location, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.Purpose = strings.TrimSpace(in.Purpose)
	if err := s.validate.Struct(in); err != nil {
		return in, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !in.EndTime.After(in.StartTime) {
		return in, nil, ErrInvalidWindow
	}
	if in.Location == nil {
		return in, nil, nil
	}
	radius := in.Location.AllowedRadiusMeters
	if radius == 0 {
		radius = DefaultRadiusMeters
	}
	if radius < MinRadiusMeters || radius > MaxRadiusMeters {
		return in, nil, ErrInvalidRadius
	}
	return in, &Location{
		Latitude:            in.Location.Latitude,
		Longitude:           in.Location.Longitude,
		AllowedRadiusMeters: radius,
	}, nil
}

// CreateVisit stores a new visit owned by ownerID.
func (s *Service) CreateVisit(ctx context.Context, ownerID string, in VisitInput) (Visit, error) {
	if ownerID == "" {
		return Visit{}, ErrStudentRequired
	}
	in, loc, err := s.normalizeVisit(in)
	if err != nil {
		return Visit{}, err
	}
	now := s.now().UTC()
	return s.store.CreateVisit(ctx, Visit{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CompanyName: in.CompanyName,
		Purpose:     in.Purpose,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		Location:    loc,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// GetVisit returns the visit with its derived status and counters.
func (s *Service) GetVisit(ctx context.Context, visitID string) (VisitSummary, error) {
	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return VisitSummary{}, err
	}
	return s.summarize(ctx, v, s.now())
}

// ListVisits returns the actor's visits, or every visit for admins.
func (s *Service) ListVisits(ctx context.Context, actor Actor) ([]VisitSummary, error) {
	owner := actor.ID
	if actor.IsAdmin() {
		owner = ""
	}
	visits, err := s.store.ListVisits(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := make([]VisitSummary, 0, len(visits))
	for _, v := range visits {
		sum, err := s.summarize(ctx, v, now)
		if err != nil {
			return nil, err
		}
		res = append(res, sum)
	}
	return res, nil
}

func (s *Service) summarize(ctx context.Context, v Visit, now time.Time) (VisitSummary, error) {
	c, err := s.store.Counters(ctx, v.ID)
	if err != nil {
		return VisitSummary{}, fmt.Errorf("count visit %s: %w", v.ID, err)
	}
	return VisitSummary{Visit: v, Status: StatusOf(v, now), Counters: c}, nil
}

// UpdateVisit replaces the company, purpose, window and location of a visit
// that has not completed.
func (s *Service) UpdateVisit(ctx context.Context, actor Actor, visitID string, in VisitInput) (Visit, error) {
	in, loc, err := s.normalizeVisit(in)
	if err != nil {
		return Visit{}, err
	}
	var updated Visit
	err = retryOnConflict(func() error {
		v, err := s.manageableVisit(ctx, actor, visitID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		switch StatusOf(v, now) {
		case StatusCompleted:
			return ErrVisitCompleted
		case StatusActive:
			if in.StartTime.After(now) {
				return ErrVisitStarted
			}
		}
		v.CompanyName = in.CompanyName
		v.Purpose = in.Purpose
		v.StartTime = in.StartTime.UTC()
		v.EndTime = in.EndTime.UTC()
		v.Location = loc
		v.UpdatedAt = now
		updated, err = s.store.UpdateVisit(ctx, v)
		return err
	})
	return updated, err
}

// DeleteVisit removes a visit that has not started yet and holds no
// attendance.
func (s *Service) DeleteVisit(ctx context.Context, actor Actor, visitID string) error {
	return retryOnConflict(func() error {
		v, err := s.manageableVisit(ctx, actor, visitID)
		if err != nil {
			return err
		}
		if StatusOf(v, s.now()) != StatusPending {
			return ErrVisitNotPending
		}
		c, err := s.store.Counters(ctx, visitID)
		if err != nil {
			return fmt.Errorf("count visit %s: %w", visitID, err)
		}
		if c.AttendanceCount > 0 || c.FeedbackCount > 0 {
			return ErrVisitNotPending
		}
		return s.store.DeleteVisit(ctx, visitID, v.Version)
	})
}

// AuditTrail returns the recorded events of a visit.
func (s *Service) AuditTrail(ctx context.Context, actor Actor, visitID string) ([]AuditEntry, error) {
	if _, err := s.manageableVisit(ctx, actor, visitID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, visitID)
}
