package attendance

import (
	"time"

	"industrialvisit/internal/geo"
)

// VisitStatus is derived from the wall clock and the visit's scheduled window.
type VisitStatus string

const (
	StatusPending   VisitStatus = "PENDING"
	StatusActive    VisitStatus = "ACTIVE"
	StatusCompleted VisitStatus = "COMPLETED"
)

// AttendanceStatus describes a student's presence at a visit.
type AttendanceStatus string

const (
	AttendancePresent   AttendanceStatus = "PRESENT"
	AttendanceLate      AttendanceStatus = "LATE"
	AttendanceLeftEarly AttendanceStatus = "LEFT_EARLY"
	AttendanceAbsent    AttendanceStatus = "ABSENT"
)

// VerificationMethod records how an attendance entry was established.
type VerificationMethod string

const (
	VerifiedQRScan  VerificationMethod = "QR_SCAN"
	VerifiedManual  VerificationMethod = "MANUAL"
	VerifiedGPSAuto VerificationMethod = "GPS_AUTO"
)

const (
	DefaultRadiusMeters = 100.0
	MinRadiusMeters     = 50.0
	MaxRadiusMeters     = 10000.0
)

// Location is the fixed place a visit happens at.
type Location struct {
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	AllowedRadiusMeters float64 `json:"allowed_radius_meters"`
}

// Point returns the location as a geo point.
func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Latitude, Lng: l.Longitude}
}

// Visit is one scheduled company visit.
type Visit struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	CompanyName       string    `json:"company_name"`
	Purpose           string    `json:"purpose"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Location          *Location `json:"location,omitempty"`
	RegenerationCount int       `json:"regeneration_count"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// QRToken is a credential for checking into a visit.
type QRToken struct {
	Value       string     `json:"value"`
	VisitID     string     `json:"visit_id"`
	Generation  int        `json:"generation"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsActive    bool       `json:"is_active"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	// Usable is derived at read time from the visit window and expiry.
	Usable bool `json:"usable"`
}

// GPS is a position reported by a student device.
type GPS struct {
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

// Point drops the accuracy.
func (g GPS) Point() geo.Point {
	return geo.Point{Lat: g.Lat, Lng: g.Lng}
}

// Attendance is one student's verified presence at a visit.
type Attendance struct {
	ID                      string             `json:"id"`
	StudentID               string             `json:"student_id"`
	VisitID                 string             `json:"visit_id"`
	CheckInAt               time.Time          `json:"check_in_at"`
	CheckOutAt              *time.Time         `json:"check_out_at,omitempty"`
	Position                *GPS               `json:"position,omitempty"`
	DistanceFromVisitMeters *float64           `json:"distance_from_visit_meters,omitempty"`
	IsWithinRadius          bool               `json:"is_within_radius"`
	ValidationMessage       string             `json:"validation_message"`
	Status                  AttendanceStatus   `json:"status"`
	VerificationMethod      VerificationMethod `json:"verification_method"`
}

// Counters are computed from attendance and feedback rows at read time.
type Counters struct {
	AttendanceCount int     `json:"attendance_count"`
	FeedbackCount   int     `json:"feedback_count"`
	AverageRating   float64 `json:"average_rating"`
}

// VisitSummary is a visit together with its derived state.
type VisitSummary struct {
	Visit
	Status VisitStatus `json:"status"`
	Counters
}

// Role names carried in access tokens.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// canManage reports whether the actor may mutate the visit.
func (a Actor) canManage(v Visit) bool {
	return a.IsAdmin() || (a.ID != "" && a.ID == v.OwnerID)
}

// User is an account able to sign in.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEntry is one row of a visit's audit trail.
type AuditEntry struct {
	ID         string    `json:"id"`
	VisitID    string    `json:"visit_id"`
	Kind       string    `json:"kind"`
	ActorID    string    `json:"actor_id,omitempty"`
	Generation int       `json:"generation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
