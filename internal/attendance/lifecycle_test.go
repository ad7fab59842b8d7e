package attendance

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func windowVisit(start, end time.Time) Visit {
	return Visit{ID: "v1", StartTime: start, EndTime: end}
}

func TestStatusOfBoundaries(t *testing.T) {
	v := windowVisit(t0, t0.Add(2*time.Hour))

	assert.Equal(t, StatusPending, StatusOf(v, t0.Add(-time.Nanosecond)))
	assert.Equal(t, StatusActive, StatusOf(v, t0))
	assert.Equal(t, StatusActive, StatusOf(v, t0.Add(2*time.Hour-time.Nanosecond)))
	assert.Equal(t, StatusCompleted, StatusOf(v, t0.Add(2*time.Hour)))
	assert.Equal(t, StatusCompleted, StatusOf(v, t0.Add(48*time.Hour)))
}

func TestStatusOfIsMonotonic(t *testing.T) {
	rank := map[VisitStatus]int{StatusPending: 0, StatusActive: 1, StatusCompleted: 2}
	v := windowVisit(t0, t0.Add(90*time.Minute))

	prev := -1
	for now := t0.Add(-time.Hour); now.Before(t0.Add(3 * time.Hour)); now = now.Add(7 * time.Minute) {
		r := rank[StatusOf(v, now)]
		assert.GreaterOrEqual(t, r, prev, "status went backwards at %s", now)
		prev = r
	}
	assert.Equal(t, 2, prev)
}

func TestIsTokenUsable(t *testing.T) {
	v := windowVisit(t0, t0.Add(2*time.Hour))
	tok := QRToken{Value: "abc", VisitID: "v1", IssuedAt: t0, ExpiresAt: t0.Add(15 * time.Minute), IsActive: true}

	assert.True(t, IsTokenUsable(v, tok, t0))
	assert.True(t, IsTokenUsable(v, tok, t0.Add(14*time.Minute)))
	assert.False(t, IsTokenUsable(v, tok, t0.Add(15*time.Minute)), "expiry is exclusive")
	assert.False(t, IsTokenUsable(v, tok, t0.Add(-time.Minute)), "visit pending")

	inactive := tok
	inactive.IsActive = false
	assert.False(t, IsTokenUsable(v, inactive, t0.Add(time.Minute)))

	foreign := tok
	foreign.VisitID = "v2"
	assert.False(t, IsTokenUsable(v, foreign, t0.Add(time.Minute)))

	late := tok
	late.ExpiresAt = t0.Add(3 * time.Hour)
	assert.False(t, IsTokenUsable(v, late, t0.Add(2*time.Hour)), "visit completed")
}

func TestMint(t *testing.T) {
	tok, err := Mint(10*time.Minute, t0)
	require.NoError(t, err)
	assert.Len(t, tok.Value, 64)
	assert.True(t, tok.IsActive)
	assert.Equal(t, t0, tok.IssuedAt)
	assert.Equal(t, t0.Add(10*time.Minute), tok.ExpiresAt)

	def, err := Mint(0, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(DefaultTokenTTL), def.ExpiresAt)

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		tok, err := Mint(time.Minute, t0)
		require.NoError(t, err)
		require.False(t, seen[tok.Value], "duplicate token")
		seen[tok.Value] = true
	}
}

func TestMintRandomFailure(t *testing.T) {
	orig := randRead
	t.Cleanup(func() { randRead = orig })
	randRead = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

	_, err := Mint(time.Minute, t0)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "entropy exhausted"))
}

func TestCheckInErrorUnwrap(t *testing.T) {
	err := error(&CheckInError{Kind: KindOutOfRange, DistanceMeters: 151.2, AllowedRadiusMeters: 100})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Contains(t, err.Error(), "151m")
	assert.Contains(t, err.Error(), "100m")

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindOutOfRange, kind)

	_, ok = KindOf(ErrVisitNotFound)
	assert.False(t, ok)

	assert.ErrorIs(t, &CheckInError{Kind: KindTokenNotFound}, ErrTokenNotFound)
	assert.ErrorIs(t, &CheckInError{Kind: KindInvalidCoordinates}, ErrInvalidCoordinates)
}
