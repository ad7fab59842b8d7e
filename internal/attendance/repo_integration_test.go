//go:build integration

package attendance

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"industrialvisit/internal/store"
)

// Run with: DATABASE_TEST_URL=postgres://... go test -tags integration ./internal/attendance/
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	db, err := store.NewDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client.Close() })
	require.NoError(t, store.Migrate(context.Background(), db.Client))
	return NewRepository(db.Client)
}

func createRepoVisit(t *testing.T, r *Repository) Visit {
	t.Helper()
	v, err := r.CreateVisit(context.Background(), Visit{
		OwnerID:     "owner-" + uuid.NewString(),
		CompanyName: "Acme Steel",
		Purpose:     "Plant tour",
		StartTime:   t0,
		EndTime:     t0.Add(2 * time.Hour),
		Location:    &Location{Latitude: 40, Longitude: -74, AllowedRadiusMeters: 100},
		CreatedAt:   t0.Add(-24 * time.Hour),
		UpdatedAt:   t0.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	return v
}

func TestRepositoryVisitRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	v := createRepoVisit(t, r)

	got, err := r.GetVisit(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Steel", got.CompanyName)
	assert.True(t, got.StartTime.Equal(t0))
	require.NotNil(t, got.Location)
	assert.Equal(t, 100.0, got.Location.AllowedRadiusMeters)
	assert.Equal(t, int64(1), got.Version)

	got.Purpose = "Line walk"
	updated, err := r.UpdateVisit(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = r.UpdateVisit(ctx, got)
	assert.ErrorIs(t, err, ErrVersionConflict, "stale version")

	_, err = r.GetVisit(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestRepositoryRotateKeepsOneActiveToken(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	v := createRepoVisit(t, r)

	first, err := Mint(time.Minute, t0)
	require.NoError(t, err)
	first, err = r.RotateToken(ctx, v.ID, v.Version, first)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Generation)

	_, err = r.RotateToken(ctx, v.ID, v.Version, first)
	assert.ErrorIs(t, err, ErrVersionConflict)

	second, err := Mint(time.Minute, t0.Add(time.Minute))
	require.NoError(t, err)
	second, err = r.RotateToken(ctx, v.ID, v.Version+1, second)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Generation)

	active, err := r.ActiveToken(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Value, active.Value)

	old, err := r.TokenByValue(ctx, first.Value)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	touched, err := r.TouchToken(ctx, v.ID, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, touched.RefreshedAt)
	assert.Equal(t, second.ExpiresAt.Unix(), touched.ExpiresAt.Unix(), "refresh keeps expiry")

	got, err := r.GetVisit(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RegenerationCount)
}

func TestRepositoryConcurrentCheckInsInsertOnce(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	v := createRepoVisit(t, r)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.InsertAttendance(ctx, Attendance{
				StudentID:          "stu-1",
				VisitID:            v.ID,
				CheckInAt:          t0.Add(5 * time.Minute),
				Status:             AttendancePresent,
				VerificationMethod: VerifiedQRScan,
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)

	list, err := r.ListAttendance(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = r.CheckOut(ctx, "stu-1", v.ID, t0.Add(time.Hour), AttendanceLeftEarly)
	require.NoError(t, err)
	_, err = r.CheckOut(ctx, "stu-1", v.ID, t0.Add(90*time.Minute), AttendancePresent)
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
	_, err = r.CheckOut(ctx, "stu-2", v.ID, t0.Add(time.Hour), AttendancePresent)
	assert.ErrorIs(t, err, ErrAttendanceNotFound)
}

func TestRepositoryCountersAndDeleteCascade(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	v := createRepoVisit(t, r)

	yes := "yes"
	for i, student := range []string{"stu-1", "stu-2"} {
		_, _, err := r.InsertAttendance(ctx, Attendance{
			StudentID: student, VisitID: v.ID, CheckInAt: t0,
			Status: AttendancePresent, VerificationMethod: VerifiedQRScan,
		})
		require.NoError(t, err)
		_, err = r.InsertFeedback(ctx, Feedback{
			StudentID: student, VisitID: v.ID, Rating: 4 + i, SubmittedAt: t0.Add(3 * time.Hour),
			ExtraAnswers: []Answer{{Question: "Safety briefing?", Kind: AnswerText, Text: &yes}},
		})
		require.NoError(t, err)
	}
	_, err := r.InsertFeedback(ctx, Feedback{StudentID: "stu-1", VisitID: v.ID, Rating: 1, SubmittedAt: t0.Add(4 * time.Hour)})
	assert.ErrorIs(t, err, ErrFeedbackExists)

	c, err := r.Counters(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.AttendanceCount)
	assert.Equal(t, 2, c.FeedbackCount)
	assert.InDelta(t, 4.5, c.AverageRating, 1e-9)

	fb, err := r.ListFeedback(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, fb, 2)
	require.NotNil(t, fb[0].ExtraAnswers[0].Text)
	assert.Equal(t, "yes", *fb[0].ExtraAnswers[0].Text)

	assert.ErrorIs(t, r.DeleteVisit(ctx, v.ID, v.Version+1), ErrVersionConflict)
	require.NoError(t, r.DeleteVisit(ctx, v.ID, v.Version))
	c, err = r.Counters(ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, c.AttendanceCount, "attendance is removed with the visit")
	assert.Zero(t, c.FeedbackCount)
}

func TestRepositoryRefreshTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	u, err := r.CreateUser(ctx, User{Username: "user-" + uuid.NewString(), PasswordHash: "x", Role: RoleStudent, CreatedAt: t0})
	require.NoError(t, err)
	_, err = r.CreateUser(ctx, User{Username: u.Username, PasswordHash: "y", Role: RoleStudent, CreatedAt: t0})
	assert.ErrorIs(t, err, ErrUserExists)

	token := uuid.NewString()
	require.NoError(t, r.SaveRefreshToken(ctx, u.ID, token, t0.Add(time.Hour)))
	assert.Error(t, r.SaveRefreshToken(ctx, u.ID, token, t0.Add(time.Hour)), "token values are unique")

	_, err = r.ConsumeRefreshToken(ctx, token, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRefresh, "expired")

	userID, err := r.ConsumeRefreshToken(ctx, token, t0)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	_, err = r.ConsumeRefreshToken(ctx, token, t0)
	assert.ErrorIs(t, err, ErrInvalidRefresh, "revoked")
}

func TestServiceOverRepositoryRejectsReopeningStartedVisit(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	now := t0.Add(10 * time.Minute)
	svc := NewService(r, 15*time.Minute, WithClock(func() time.Time { return now }))
	v := createRepoVisit(t, r)
	owner := Actor{ID: v.OwnerID, Role: RoleStudent}

	_, err := svc.UpdateVisit(ctx, owner, v.ID, VisitInput{
		CompanyName: v.CompanyName,
		StartTime:   now.Add(24 * time.Hour),
		EndTime:     now.Add(26 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrVisitStarted)
}
