package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded Store for development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	visits     map[string]Visit
	tokens     map[string]QRToken // by value
	attendance map[attendanceKey]Attendance
	feedback   map[attendanceKey]Feedback
	users      map[string]User // by username
	refresh    map[string]refreshEntry
	audit      []AuditEntry
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type attendanceKey struct {
	studentID string
	visitID   string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visits:     make(map[string]Visit),
		tokens:     make(map[string]QRToken),
		attendance: make(map[attendanceKey]Attendance),
		feedback:   make(map[attendanceKey]Feedback),
		users:      make(map[string]User),
		refresh:    make(map[string]refreshEntry),
	}
}

func (m *MemoryStore) CreateVisit(_ context.Context, v Visit) (Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.Version = 1
	m.visits[v.ID] = v
	return v, nil
}

func (m *MemoryStore) GetVisit(_ context.Context, id string) (Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return Visit{}, ErrVisitNotFound
	}
	return v, nil
}

func (m *MemoryStore) ListVisits(_ context.Context, ownerID string) ([]Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Visit
	for _, v := range m.visits {
		if ownerID == "" || v.OwnerID == ownerID {
			res = append(res, v)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.After(res[j].StartTime) })
	return res, nil
}

func (m *MemoryStore) UpdateVisit(_ context.Context, v Visit) (Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.visits[v.ID]
	if !ok {
		return Visit{}, ErrVisitNotFound
	}
	if cur.Version != v.Version {
		return Visit{}, ErrVersionConflict
	}
	v.Version++
	v.RegenerationCount = cur.RegenerationCount
	v.OwnerID = cur.OwnerID
	v.CreatedAt = cur.CreatedAt
	m.visits[v.ID] = v
	return v, nil
}

func (m *MemoryStore) DeleteVisit(_ context.Context, id string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.visits[id]
	if !ok {
		return ErrVisitNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(m.visits, id)
	for val, tok := range m.tokens {
		if tok.VisitID == id {
			delete(m.tokens, val)
		}
	}
	for key := range m.attendance {
		if key.visitID == id {
			delete(m.attendance, key)
		}
	}
	for key := range m.feedback {
		if key.visitID == id {
			delete(m.feedback, key)
		}
	}
	return nil
}

func (m *MemoryStore) RotateToken(_ context.Context, visitID string, expectedVersion int64, tok QRToken) (QRToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[visitID]
	if !ok {
		return QRToken{}, ErrVisitNotFound
	}
	if v.Version != expectedVersion {
		return QRToken{}, ErrVersionConflict
	}
	for val, t := range m.tokens {
		if t.VisitID == visitID && t.IsActive {
			t.IsActive = false
			m.tokens[val] = t
		}
	}
	v.RegenerationCount++
	v.Version++
	m.visits[visitID] = v

	tok.VisitID = visitID
	tok.Generation = v.RegenerationCount
	tok.IsActive = true
	m.tokens[tok.Value] = tok
	return tok, nil
}

func (m *MemoryStore) ActiveToken(_ context.Context, visitID string) (QRToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTokenLocked(visitID)
}

func (m *MemoryStore) activeTokenLocked(visitID string) (QRToken, error) {
	for _, t := range m.tokens {
		if t.VisitID == visitID && t.IsActive {
			return t, nil
		}
	}
	return QRToken{}, ErrNoActiveToken
}

func (m *MemoryStore) TokenByValue(_ context.Context, value string) (QRToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[value]
	if !ok {
		return QRToken{}, ErrTokenNotFound
	}
	return t, nil
}

func (m *MemoryStore) TouchToken(_ context.Context, visitID string, at time.Time) (QRToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.activeTokenLocked(visitID)
	if err != nil {
		return QRToken{}, err
	}
	at = at.UTC()
	t.RefreshedAt = &at
	m.tokens[t.Value] = t
	return t, nil
}

func (m *MemoryStore) InsertAttendance(_ context.Context, a Attendance) (Attendance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{a.StudentID, a.VisitID}
	if existing, ok := m.attendance[key]; ok {
		return existing, false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.attendance[key] = a
	return a, true, nil
}

func (m *MemoryStore) GetAttendance(_ context.Context, studentID, visitID string) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attendance[attendanceKey{studentID, visitID}]
	if !ok {
		return Attendance{}, ErrAttendanceNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListAttendance(_ context.Context, visitID string) ([]Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Attendance
	for _, a := range m.attendance {
		if a.VisitID == visitID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CheckInAt.Before(res[j].CheckInAt) })
	return res, nil
}

func (m *MemoryStore) CheckOut(_ context.Context, studentID, visitID string, at time.Time, status AttendanceStatus) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{studentID, visitID}
	a, ok := m.attendance[key]
	if !ok {
		return Attendance{}, ErrAttendanceNotFound
	}
	if a.CheckOutAt != nil {
		return Attendance{}, ErrAlreadyCheckedOut
	}
	at = at.UTC()
	a.CheckOutAt = &at
	a.Status = status
	m.attendance[key] = a
	return a, nil
}

func (m *MemoryStore) InsertFeedback(_ context.Context, f Feedback) (Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{f.StudentID, f.VisitID}
	if _, ok := m.feedback[key]; ok {
		return Feedback{}, ErrFeedbackExists
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	m.feedback[key] = f
	return f, nil
}

func (m *MemoryStore) ListFeedback(_ context.Context, visitID string) ([]Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Feedback
	for _, f := range m.feedback {
		if f.VisitID == visitID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SubmittedAt.Before(res[j].SubmittedAt) })
	return res, nil
}

func (m *MemoryStore) Counters(_ context.Context, visitID string) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counters
	for _, a := range m.attendance {
		if a.VisitID == visitID {
			c.AttendanceCount++
		}
	}
	total := 0
	for _, f := range m.feedback {
		if f.VisitID == visitID {
			c.FeedbackCount++
			total += f.Rating
		}
	}
	if c.FeedbackCount > 0 {
		c.AverageRating = float64(total) / float64(c.FeedbackCount)
	}
	return c, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return User{}, ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.Username] = u
	return u, nil
}

func (m *MemoryStore) UserByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryStore) SaveRefreshToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[token]; ok {
		return fmt.Errorf("refresh token already stored")
	}
	m.refresh[token] = refreshEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) ConsumeRefreshToken(_ context.Context, token string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.refresh[token]
	if !ok || e.revoked || !now.Before(e.expiresAt) {
		return "", ErrInvalidRefresh
	}
	e.revoked = true
	m.refresh[token] = e
	return e.userID, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, visitID string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []AuditEntry
	for _, e := range m.audit {
		if e.VisitID == visitID {
			res = append(res, e)
		}
	}
	return res, nil
}
