package announcements

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolboard/internal/apperr"
	"schoolboard/internal/model"
	"schoolboard/internal/store/memory"
)

func at(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestActiveWindowAndOrder(t *testing.T) {
	mem := memory.New()
	svc := NewService(mem, nil, nil, nil)
	ctx := context.Background()
	now := *at("2026-03-10T09:00:00Z")

	open, err := svc.Create(ctx, "u1", Input{Text: "Welcome back"})
	require.NoError(t, err)
	assert.Equal(t, model.AnnouncementNews, open.Type)
	time.Sleep(2 * time.Millisecond)
	_, err = svc.Create(ctx, "u1", Input{Text: "Expired", EndAt: at("2026-03-10T09:00:00Z")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", Input{Text: "Future", StartAt: at("2026-03-11T00:00:00Z")})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	window, err := svc.Create(ctx, "u1", Input{Text: "Trip", StartAt: at("2026-03-10T08:00:00Z"), EndAt: at("2026-03-10T12:00:00Z")})
	require.NoError(t, err)

	active, err := svc.Active(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, window.ID, active[0].ID)
	assert.Equal(t, open.ID, active[1].ID)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := NewService(memory.New(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", Input{Text: " ", Type: "gossip"})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Fields, "text")
	assert.Contains(t, appErr.Fields, "type")

	_, err = svc.Create(ctx, "u1", Input{Text: "x", StartAt: at("2026-03-10T10:00:00Z"), EndAt: at("2026-03-10T09:00:00Z")})
	assert.True(t, apperr.HasCode(err, ErrInvalidWindow))
}

func TestUpdateAndDelete(t *testing.T) {
	svc := NewService(memory.New(), nil, nil, nil)
	ctx := context.Background()
	a, err := svc.Create(ctx, "u1", Input{Text: "Draft", EndAt: at("2026-03-10T09:00:00Z")})
	require.NoError(t, err)

	text := "Final"
	updated, err := svc.Update(ctx, a.ID, UpdateInput{Text: &text, ClearWindow: true})
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Text)
	assert.Nil(t, updated.EndAt)
	assert.Equal(t, "u1", updated.CreatedBy)

	require.NoError(t, svc.Delete(ctx, a.ID))
	assert.True(t, apperr.HasCode(svc.Delete(ctx, a.ID), ErrAnnouncementNotFound))
	_, err = svc.Update(ctx, a.ID, UpdateInput{Text: &text})
	assert.True(t, apperr.HasCode(err, ErrAnnouncementNotFound))
}

func TestBirthdays(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	for _, user := range []model.User{
		{ID: "a", Username: "a", UsernameLower: "a", FirstName: "Yael", Birthday: "2011-03-10", ClassName: "9A"},
		{ID: "b", Username: "b", UsernameLower: "b", FirstName: "Omer", Birthday: "2011-03-11"},
		{ID: "c", Username: "c", UsernameLower: "c", FirstName: "Leap", Birthday: "2012-02-29"},
		{ID: "d", Username: "d", UsernameLower: "d", FirstName: "Nobody"},
	} {
		_, err := mem.CreateUser(ctx, user)
		require.NoError(t, err)
	}
	svc := NewService(mem, nil, nil, nil)

	today, err := svc.Birthdays(ctx, *at("2026-03-10T07:00:00Z"))
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, Birthday{UserID: "a", Name: "Yael", ClassName: "9A"}, today[0])

	leapFallback, err := svc.Birthdays(ctx, *at("2027-02-28T07:00:00Z"))
	require.NoError(t, err)
	require.Len(t, leapFallback, 1)
	assert.Equal(t, "c", leapFallback[0].UserID)

	leapYear, err := svc.Birthdays(ctx, *at("2028-02-28T07:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, leapYear)
}

func TestPurge(t *testing.T) {
	svc := NewService(memory.New(), nil, nil, nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", Input{Text: "old", EndAt: at("2026-01-01T00:00:00Z")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", Input{Text: "recent", EndAt: at("2026-03-05T00:00:00Z")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", Input{Text: "forever"})
	require.NoError(t, err)

	removed, err := svc.Purge(ctx, *at("2026-03-10T00:00:00Z"), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	left, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
