package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teatalks/teatalks/internal/cache"
	"github.com/teatalks/teatalks/internal/models"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
)

func TestUserServiceAuthenticate(t *testing.T) {
	db := openServiceTestDB(t)
	user := createTestUser(t, db, "alice")

	svc, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	byName, err := svc.Authenticate(ctx, "Alice", "secret123")
	require.NoError(t, err)
	require.Equal(t, user.ID, byName.ID)

	byEmail, err := svc.Authenticate(ctx, " ALICE@college.edu", "secret123")
	require.NoError(t, err)
	require.Equal(t, user.ID, byEmail.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "secret123")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "", "secret123")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestUserServiceUpdateBio(t *testing.T) {
	db := openServiceTestDB(t)
	user := createTestUser(t, db, "alice")

	svc, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	updated, err := svc.UpdateBio(ctx, user.ID, " <em>CS</em> junior ")
	require.NoError(t, err)
	require.Equal(t, "CS junior", updated.Bio)

	_, err = svc.UpdateBio(ctx, "missing", "bio")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserServicePlatformStatsCached(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	alice := createTestUser(t, db, "alice")
	createTestUser(t, db, "bob")

	fresh := &models.Post{AuthorID: alice.ID, Title: "today", Content: "c"}
	fresh.CreatedAt = clock.Now().Add(-time.Hour)
	stale := &models.Post{AuthorID: alice.ID, Title: "last week", Content: "c"}
	stale.CreatedAt = clock.Now().Add(-72 * time.Hour)
	require.NoError(t, db.Create(fresh).Error)
	require.NoError(t, db.Create(stale).Error)
	require.NoError(t, db.Create(&models.Comment{PostID: fresh.ID, AuthorID: alice.ID, Content: "c"}).Error)

	store := cache.NewMemoryStore()
	svc, err := NewUserService(db, WithUserClock(clock.Now), WithUserCache(store))
	require.NoError(t, err)
	ctx := context.Background()

	stats, err := svc.PlatformStats(ctx)
	require.NoError(t, err)
	require.Equal(t, PlatformStats{UserCount: 2, PostCount: 2, CommentCount: 1, DailyPostCount: 1}, *stats)

	createTestUser(t, db, "carol")
	cached, err := svc.PlatformStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, cached.UserCount)

	require.NoError(t, store.Delete(ctx, platformStatsCacheKey))
	refreshed, err := svc.PlatformStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, refreshed.UserCount)
}
