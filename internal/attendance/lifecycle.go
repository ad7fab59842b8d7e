package attendance

import "time"

// StatusOf derives a visit's status at now. The start is inclusive and the
// end exclusive: at exactly EndTime the visit is COMPLETED.
func StatusOf(v Visit, now time.Time) VisitStatus {
	switch {
	case now.Before(v.StartTime):
		return StatusPending
	case now.Before(v.EndTime):
		return StatusActive
	default:
		return StatusCompleted
	}
}

// IsTokenUsable reports whether tok admits a check-in to v at now.
func IsTokenUsable(v Visit, tok QRToken, now time.Time) bool {
	return tok.VisitID == v.ID &&
		tok.IsActive &&
		now.Before(tok.ExpiresAt) &&
		StatusOf(v, now) == StatusActive
}
