package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateVisitValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 0)

	base := VisitInput{CompanyName: "Acme", StartTime: t0, EndTime: t0.Add(time.Hour)}

	v, err := svc.CreateVisit(ctx, "owner", base)
	require.NoError(t, err)
	assert.Nil(t, v.Location)
	assert.Equal(t, int64(1), v.Version)
	assert.Equal(t, DefaultTokenTTL, svc.TokenTTL())

	cases := []struct {
		name string
		mut  func(*VisitInput)
		want error
	}{
		{"missing company", func(in *VisitInput) { in.CompanyName = "  " }, ErrInvalidInput},
		{"end equals start", func(in *VisitInput) { in.EndTime = in.StartTime }, ErrInvalidWindow},
		{"end before start", func(in *VisitInput) { in.EndTime = in.StartTime.Add(-time.Minute) }, ErrInvalidWindow},
		{"radius too small", func(in *VisitInput) { in.Location = &LocationInput{Latitude: 1, Longitude: 1, AllowedRadiusMeters: 49} }, ErrInvalidRadius},
		{"radius too large", func(in *VisitInput) { in.Location = &LocationInput{Latitude: 1, Longitude: 1, AllowedRadiusMeters: 10001} }, ErrInvalidRadius},
		{"bad latitude", func(in *VisitInput) { in.Location = &LocationInput{Latitude: 100, Longitude: 1} }, ErrInvalidInput},
		{"bad longitude", func(in *VisitInput) { in.Location = &LocationInput{Latitude: 1, Longitude: -190} }, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mut(&in)
			_, err := svc.CreateVisit(ctx, "owner", in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = svc.CreateVisit(ctx, "", base)
	assert.ErrorIs(t, err, ErrStudentRequired)
}

func TestCreateVisitRadiusDefaultsAndBounds(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 0)
	in := VisitInput{CompanyName: "Acme", StartTime: t0, EndTime: t0.Add(time.Hour), Location: &LocationInput{Latitude: 12.9, Longitude: 77.6}}

	v, err := svc.CreateVisit(ctx, "owner", in)
	require.NoError(t, err)
	require.NotNil(t, v.Location)
	assert.Equal(t, DefaultRadiusMeters, v.Location.AllowedRadiusMeters)

	for _, r := range []float64{MinRadiusMeters, MaxRadiusMeters} {
		in.Location.AllowedRadiusMeters = r
		v, err := svc.CreateVisit(ctx, "owner", in)
		require.NoError(t, err)
		assert.Equal(t, r, v.Location.AllowedRadiusMeters)
	}
}

func TestUpdateVisitLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := VisitInput{
		CompanyName: "Acme Steel Works",
		StartTime:   t0,
		EndTime:     t0.Add(3 * time.Hour),
		Location:    &LocationInput{Latitude: 40.001, Longitude: -74, AllowedRadiusMeters: 250},
	}

	_, err := f.svc.UpdateVisit(ctx, Actor{ID: "other"}, f.visit.ID, in)
	assert.ErrorIs(t, err, ErrForbidden)

	f.setNow(t0.Add(30 * time.Minute))
	updated, err := f.svc.UpdateVisit(ctx, f.owner, f.visit.ID, in)
	require.NoError(t, err, "active visits stay editable")
	assert.Equal(t, "Acme Steel Works", updated.CompanyName)
	assert.Equal(t, 250.0, updated.Location.AllowedRadiusMeters)
	assert.Equal(t, f.visit.Version+1, updated.Version)
	assert.Equal(t, f.owner.ID, updated.OwnerID)

	f.setNow(t0.Add(3 * time.Hour))
	_, err = f.svc.UpdateVisit(ctx, f.owner, f.visit.ID, in)
	assert.ErrorIs(t, err, ErrVisitCompleted)

	bad := in
	bad.EndTime = bad.StartTime
	_, err = f.svc.UpdateVisit(ctx, f.owner, f.visit.ID, bad)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestDeleteVisitOnlyWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.setNow(t0)
	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, f.owner, f.visit.ID), ErrVisitNotPending)
	f.setNow(t0.Add(5 * time.Hour))
	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, f.owner, f.visit.ID), ErrVisitNotPending)

	f.setNow(t0.Add(-time.Hour))
	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, Actor{ID: "other"}, f.visit.ID), ErrForbidden)
	tok := f.rotate(t, t0.Add(-time.Hour))
	require.NoError(t, f.svc.DeleteVisit(ctx, f.owner, f.visit.ID))

	_, err := f.svc.GetVisit(ctx, f.visit.ID)
	assert.ErrorIs(t, err, ErrVisitNotFound)
	_, err = f.store.TokenByValue(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestStartedVisitCannotBeReopenedAndDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.rotate(t, t0)
	_, err := f.checkIn(tok.Value, "stu-1", site, t0.Add(5*time.Minute))
	require.NoError(t, err)

	f.setNow(t0.Add(10 * time.Minute))
	moved := VisitInput{
		CompanyName: "Acme Steel",
		StartTime:   t0.Add(24 * time.Hour),
		EndTime:     t0.Add(26 * time.Hour),
		Location:    &LocationInput{Latitude: 40, Longitude: -74},
	}
	_, err = f.svc.UpdateVisit(ctx, f.owner, f.visit.ID, moved)
	assert.ErrorIs(t, err, ErrVisitStarted)

	// a visit back in PENDING with attendance on record still refuses deletion
	reopened, err := f.store.GetVisit(ctx, f.visit.ID)
	require.NoError(t, err)
	reopened.StartTime = t0.Add(24 * time.Hour)
	reopened.EndTime = t0.Add(26 * time.Hour)
	_, err = f.store.UpdateVisit(ctx, reopened)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteVisit(ctx, f.owner, f.visit.ID), ErrVisitNotPending)

	_, err = f.svc.GetVisit(ctx, f.visit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.counters(t).AttendanceCount)
}

func TestVisitSummaryCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.rotate(t, t0)

	for _, s := range []string{"a", "b", "c"} {
		_, err := f.checkIn(tok.Value, s, site, t0.Add(time.Minute))
		require.NoError(t, err)
	}
	for s, rating := range map[string]int{"a": 5, "b": 4} {
		_, err := f.svc.SubmitFeedback(ctx, s, f.visit.ID, FeedbackInput{Rating: rating})
		require.NoError(t, err)
	}

	f.setNow(t0.Add(10 * time.Minute))
	sum, err := f.svc.GetVisit(ctx, f.visit.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sum.Status)
	assert.Equal(t, 3, sum.AttendanceCount)
	assert.Equal(t, 2, sum.FeedbackCount)
	assert.InDelta(t, 4.5, sum.AverageRating, 1e-9)

	list, err := f.svc.ListVisits(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, list, 1)

	others, err := f.svc.ListVisits(ctx, Actor{ID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, others)

	all, err := f.svc.ListVisits(ctx, Actor{ID: "root", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
