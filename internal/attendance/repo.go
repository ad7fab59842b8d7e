package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists visit data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const visitColumns = `id, owner_id, company_name, purpose, start_time, end_time,
	latitude, longitude, allowed_radius_meters, regeneration_count, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (Visit, error) {
	var (
		v             Visit
		lat, lng, rad sql.NullFloat64
	)
	if err := row.Scan(&v.ID, &v.OwnerID, &v.CompanyName, &v.Purpose, &v.StartTime, &v.EndTime,
		&lat, &lng, &rad, &v.RegenerationCount, &v.Version, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return Visit{}, err
	}
	if lat.Valid && lng.Valid && rad.Valid {
		v.Location = &Location{Latitude: lat.Float64, Longitude: lng.Float64, AllowedRadiusMeters: rad.Float64}
	}
	return v, nil
}

func locationArgs(l *Location) (lat, lng, rad any) {
	if l == nil {
		return nil, nil, nil
	}
	return l.Latitude, l.Longitude, l.AllowedRadiusMeters
}

// CreateVisit inserts a visit with version 1.
func (r *Repository) CreateVisit(ctx context.Context, v Visit) (Visit, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	lat, lng, rad := locationArgs(v.Location)
	v.Version = 1
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO visits (id, owner_id, company_name, purpose, start_time, end_time,
			latitude, longitude, allowed_radius_meters, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, v.ID, v.OwnerID, v.CompanyName, v.Purpose, v.StartTime, v.EndTime, lat, lng, rad, v.Version, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return Visit{}, fmt.Errorf("insert visit: %w", err)
	}
	return v, nil
}

// GetVisit returns a visit by id.
func (r *Repository) GetVisit(ctx context.Context, id string) (Visit, error) {
	v, err := scanVisit(r.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Visit{}, ErrVisitNotFound
	}
	return v, err
}

// ListVisits returns visits, newest start first.
func (r *Repository) ListVisits(ctx context.Context, ownerID string) ([]Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// UpdateVisit writes mutable fields when the version matches.
func (r *Repository) UpdateVisit(ctx context.Context, v Visit) (Visit, error) {
	lat, lng, rad := locationArgs(v.Location)
	row := r.db.QueryRowContext(ctx, `
		UPDATE visits
		SET company_name = $3, purpose = $4, start_time = $5, end_time = $6,
			latitude = $7, longitude = $8, allowed_radius_meters = $9,
			updated_at = $10, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+visitColumns,
		v.ID, v.Version, v.CompanyName, v.Purpose, v.StartTime, v.EndTime, lat, lng, rad, v.UpdatedAt)
	updated, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Visit{}, r.missingOrConflict(ctx, v.ID)
	}
	return updated, err
}

// DeleteVisit removes a visit and, by cascade, its tokens.
func (r *Repository) DeleteVisit(ctx context.Context, id string, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM visits WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *Repository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM visits WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrVisitNotFound
	}
	return ErrVersionConflict
}

// RotateToken swaps the active token inside one transaction holding the
// visit row lock.
func (r *Repository) RotateToken(ctx context.Context, visitID string, expectedVersion int64, tok QRToken) (QRToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return QRToken{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		version    int64
		generation int
	)
	err = tx.QueryRowContext(ctx, `SELECT version, regeneration_count FROM visits WHERE id = $1 FOR UPDATE`, visitID).
		Scan(&version, &generation)
	if errors.Is(err, sql.ErrNoRows) {
		return QRToken{}, ErrVisitNotFound
	}
	if err != nil {
		return QRToken{}, err
	}
	if version != expectedVersion {
		return QRToken{}, ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `UPDATE qr_tokens SET is_active = FALSE WHERE visit_id = $1 AND is_active`, visitID); err != nil {
		return QRToken{}, fmt.Errorf("deactivate token: %w", err)
	}
	tok.VisitID = visitID
	tok.Generation = generation + 1
	tok.IsActive = true
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO qr_tokens (value, visit_id, generation, issued_at, expires_at, is_active)
		VALUES ($1,$2,$3,$4,$5,TRUE)
	`, tok.Value, visitID, tok.Generation, tok.IssuedAt, tok.ExpiresAt); err != nil {
		return QRToken{}, fmt.Errorf("insert token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE visits SET regeneration_count = $2, version = version + 1 WHERE id = $1
	`, visitID, tok.Generation); err != nil {
		return QRToken{}, fmt.Errorf("bump visit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return QRToken{}, err
	}
	return tok, nil
}

const tokenColumns = `value, visit_id, generation, issued_at, expires_at, is_active, refreshed_at`

func scanToken(row rowScanner) (QRToken, error) {
	var (
		t         QRToken
		refreshed sql.NullTime
	)
	if err := row.Scan(&t.Value, &t.VisitID, &t.Generation, &t.IssuedAt, &t.ExpiresAt, &t.IsActive, &refreshed); err != nil {
		return QRToken{}, err
	}
	if refreshed.Valid {
		t.RefreshedAt = &refreshed.Time
	}
	return t, nil
}

// ActiveToken returns the visit's active token.
func (r *Repository) ActiveToken(ctx context.Context, visitID string) (QRToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM qr_tokens WHERE visit_id = $1 AND is_active`, visitID))
	if errors.Is(err, sql.ErrNoRows) {
		return QRToken{}, ErrNoActiveToken
	}
	return t, err
}

// TokenByValue resolves a token value.
func (r *Repository) TokenByValue(ctx context.Context, value string) (QRToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM qr_tokens WHERE value = $1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return QRToken{}, ErrTokenNotFound
	}
	return t, err
}

// TouchToken stamps refreshed_at on the active token.
func (r *Repository) TouchToken(ctx context.Context, visitID string, at time.Time) (QRToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx, `
		UPDATE qr_tokens SET refreshed_at = $2
		WHERE visit_id = $1 AND is_active
		RETURNING `+tokenColumns, visitID, at))
	if errors.Is(err, sql.ErrNoRows) {
		return QRToken{}, ErrNoActiveToken
	}
	return t, err
}

const attendanceColumns = `id, student_id, visit_id, check_in_at, check_out_at, gps_lat, gps_lng, gps_accuracy,
	distance_meters, is_within_radius, validation_message, status, verification_method`

func scanAttendance(row rowScanner) (Attendance, error) {
	var (
		a                   Attendance
		checkOut            sql.NullTime
		lat, lng, acc, dist sql.NullFloat64
	)
	if err := row.Scan(&a.ID, &a.StudentID, &a.VisitID, &a.CheckInAt, &checkOut, &lat, &lng, &acc,
		&dist, &a.IsWithinRadius, &a.ValidationMessage, &a.Status, &a.VerificationMethod); err != nil {
		return Attendance{}, err
	}
	if checkOut.Valid {
		a.CheckOutAt = &checkOut.Time
	}
	if lat.Valid && lng.Valid {
		a.Position = &GPS{Lat: lat.Float64, Lng: lng.Float64}
		if acc.Valid {
			a.Position.AccuracyMeters = &acc.Float64
		}
	}
	if dist.Valid {
		a.DistanceFromVisitMeters = &dist.Float64
	}
	return a, nil
}

// InsertAttendance inserts unless (student, visit) already has a row.
func (r *Repository) InsertAttendance(ctx context.Context, a Attendance) (Attendance, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var lat, lng, acc any
	if a.Position != nil {
		lat, lng = a.Position.Lat, a.Position.Lng
		if a.Position.AccuracyMeters != nil {
			acc = *a.Position.AccuracyMeters
		}
	}
	var dist any
	if a.DistanceFromVisitMeters != nil {
		dist = *a.DistanceFromVisitMeters
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, student_id, visit_id, check_in_at, gps_lat, gps_lng, gps_accuracy,
			distance_meters, is_within_radius, validation_message, status, verification_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (student_id, visit_id) DO NOTHING
	`, a.ID, a.StudentID, a.VisitID, a.CheckInAt, lat, lng, acc, dist, a.IsWithinRadius, a.ValidationMessage, a.Status, a.VerificationMethod)
	if err != nil {
		return Attendance{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Attendance{}, false, err
	}
	if n == 1 {
		return a, true, nil
	}
	existing, err := r.GetAttendance(ctx, a.StudentID, a.VisitID)
	return existing, false, err
}

// GetAttendance returns the attendance of a student at a visit.
func (r *Repository) GetAttendance(ctx context.Context, studentID, visitID string) (Attendance, error) {
	a, err := scanAttendance(r.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE student_id = $1 AND visit_id = $2`, studentID, visitID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attendance{}, ErrAttendanceNotFound
	}
	return a, err
}

// ListAttendance returns a visit's attendance in check-in order.
func (r *Repository) ListAttendance(ctx context.Context, visitID string) ([]Attendance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE visit_id = $1 ORDER BY check_in_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CheckOut sets check_out_at once.
func (r *Repository) CheckOut(ctx context.Context, studentID, visitID string, at time.Time, status AttendanceStatus) (Attendance, error) {
	a, err := scanAttendance(r.db.QueryRowContext(ctx, `
		UPDATE attendance SET check_out_at = $3, status = $4
		WHERE student_id = $1 AND visit_id = $2 AND check_out_at IS NULL
		RETURNING `+attendanceColumns, studentID, visitID, at, status))
	if !errors.Is(err, sql.ErrNoRows) {
		return a, err
	}
	if _, err := r.GetAttendance(ctx, studentID, visitID); err != nil {
		return Attendance{}, err
	}
	return Attendance{}, ErrAlreadyCheckedOut
}

// InsertFeedback stores feedback; a second submission is rejected.
func (r *Repository) InsertFeedback(ctx context.Context, f Feedback) (Feedback, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	answers := f.ExtraAnswers
	if answers == nil {
		answers = []Answer{}
	}
	extra, err := json.Marshal(answers)
	if err != nil {
		return Feedback{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO feedback (id, student_id, visit_id, rating, comments, extra_answers, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, f.ID, f.StudentID, f.VisitID, f.Rating, f.Comments, extra, f.SubmittedAt)
	if isUniqueViolation(err) {
		return Feedback{}, ErrFeedbackExists
	}
	if err != nil {
		return Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	return f, nil
}

// ListFeedback returns a visit's feedback in submission order.
func (r *Repository) ListFeedback(ctx context.Context, visitID string) ([]Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, visit_id, rating, comments, extra_answers, submitted_at
		FROM feedback WHERE visit_id = $1 ORDER BY submitted_at
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Feedback
	for rows.Next() {
		var (
			f     Feedback
			extra []byte
		)
		if err := rows.Scan(&f.ID, &f.StudentID, &f.VisitID, &f.Rating, &f.Comments, &extra, &f.SubmittedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(extra, &f.ExtraAnswers); err != nil {
			return nil, fmt.Errorf("decode answers of feedback %s: %w", f.ID, err)
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// Counters derives attendance and feedback figures with aggregate queries.
func (r *Repository) Counters(ctx context.Context, visitID string) (Counters, error) {
	var (
		c   Counters
		avg sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM attendance WHERE visit_id = $1),
			(SELECT COUNT(*) FROM feedback WHERE visit_id = $1),
			(SELECT AVG(rating)::float8 FROM feedback WHERE visit_id = $1)
	`, visitID).Scan(&c.AttendanceCount, &c.FeedbackCount, &avg)
	if err != nil {
		return Counters{}, err
	}
	c.AverageRating = avg.Float64
	return c, nil
}

// CreateUser inserts an account.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrUserExists
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UserByUsername looks up an account.
func (r *Repository) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// SaveRefreshToken stores a refresh token so it can be redeemed once.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live refresh token in one statement, so two
// concurrent exchanges of the same token cannot both succeed.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > $2
		RETURNING user_id
	`, token, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidRefresh
	}
	if err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	return userID, nil
}

// AppendAudit writes one audit row.
func (r *Repository) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, visit_id, kind, actor_id, generation, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.VisitID, e.Kind, e.ActorID, e.Generation, e.Detail, e.OccurredAt)
	return err
}

// ListAudit returns a visit's audit trail oldest first.
func (r *Repository) ListAudit(ctx context.Context, visitID string) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, visit_id, kind, actor_id, generation, detail, occurred_at
		FROM audit_log WHERE visit_id = $1 ORDER BY occurred_at
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.VisitID, &e.Kind, &e.ActorID, &e.Generation, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
