package attendance

import (
	"context"
	"time"

	"industrialvisit/internal/queue"
)

// Rotate mints a new token for the visit and deactivates the previous one.
// Rotation is allowed before the visit starts; the new token only becomes
// usable once the visit is ACTIVE. Concurrent rotations are serialized by
// the visit version, so exactly one token stays active.
func (s *Service) Rotate(ctx context.Context, actor Actor, visitID string, now time.Time) (QRToken, error) {
	now = s.clock(now)
	var rotated QRToken
	err := retryOnConflict(func() error {
		visit, err := s.manageableVisit(ctx, actor, visitID)
		if err != nil {
			return err
		}
		if StatusOf(visit, now) == StatusCompleted {
			return ErrVisitCompleted
		}
		tok, err := Mint(s.tokenTTL, now)
		if err != nil {
			return err
		}
		rotated, err = s.store.RotateToken(ctx, visitID, visit.Version, tok)
		if err == nil {
			rotated = withUsability(visit, rotated, now)
		}
		return err
	})
	if err != nil {
		return QRToken{}, err
	}

	s.metrics.Rotated()
	s.publish(ctx, queue.Message{
		Type:       queue.TypeRotated,
		VisitID:    visitID,
		ActorID:    actor.ID,
		Generation: rotated.Generation,
		At:         now,
	})
	return rotated, nil
}

// Refresh marks the active token as redisplayed. Unlike Rotate it never
// invalidates the token or changes its expiry.
func (s *Service) Refresh(ctx context.Context, actor Actor, visitID string, now time.Time) (QRToken, error) {
	now = s.clock(now)
	visit, err := s.manageableVisit(ctx, actor, visitID)
	if err != nil {
		return QRToken{}, err
	}
	tok, err := s.store.TouchToken(ctx, visitID, now)
	if err != nil {
		return QRToken{}, err
	}
	s.metrics.Refreshed()
	return withUsability(visit, tok, now), nil
}

// CurrentToken returns the visit's latest token for display. Once the visit
// is COMPLETED the token is reported inactive.
func (s *Service) CurrentToken(ctx context.Context, actor Actor, visitID string, now time.Time) (QRToken, error) {
	now = s.clock(now)
	visit, err := s.manageableVisit(ctx, actor, visitID)
	if err != nil {
		return QRToken{}, err
	}
	tok, err := s.store.ActiveToken(ctx, visitID)
	if err != nil {
		return QRToken{}, err
	}
	return withUsability(visit, tok, now), nil
}

func withUsability(v Visit, tok QRToken, now time.Time) QRToken {
	if StatusOf(v, now) == StatusCompleted {
		tok.IsActive = false
	}
	tok.Usable = IsTokenUsable(v, tok, now)
	return tok
}
