package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/crypto"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
)

func TestPasswordResetFlow(t *testing.T) {
	db := openServiceTestDB(t)
	sender := newFakeSender()
	clock := newTestClock()
	user := createTestUser(t, db, "bob")
	token := "stored-refresh"
	require.NoError(t, db.Model(user).Update("refresh_token", token).Error)

	svc, err := NewPasswordResetService(db, sender,
		WithPasswordResetClock(clock.Now),
		WithPasswordResetPolicy(testOTPPolicy()),
		WithPasswordResetCodeGenerator(&sequenceCodes{codes: []string{"654321"}}))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, "  BOB@college.edu "))
	require.Equal(t, "654321", sender.last(t, user.Email))

	err = svc.Reset(ctx, user.Email, "000000", "newpass1")
	require.ErrorIs(t, err, apperrors.ErrOTPInvalid)
	require.Equal(t, 4, err.(*apperrors.AppError).Details["remainingAttempts"])

	require.NoError(t, svc.Reset(ctx, user.Email, "654321", "newpass1"))

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(reloaded.PasswordHash, "newpass1"))
	require.Nil(t, reloaded.RefreshToken)

	err = svc.Reset(ctx, user.Email, "654321", "again123")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	db := openServiceTestDB(t)
	sender := newFakeSender()
	svc, err := NewPasswordResetService(db, sender, WithPasswordResetPolicy(testOTPPolicy()))
	require.NoError(t, err)

	require.NoError(t, svc.Request(context.Background(), "ghost@college.edu"))
	require.Zero(t, sender.sent("ghost@college.edu"))
}

func TestPasswordResetExpiry(t *testing.T) {
	db := openServiceTestDB(t)
	sender := newFakeSender()
	clock := newTestClock()
	user := createTestUser(t, db, "carol")

	svc, err := NewPasswordResetService(db, sender,
		WithPasswordResetClock(clock.Now),
		WithPasswordResetPolicy(testOTPPolicy()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, user.Email))
	code := sender.last(t, user.Email)

	clock.Advance(11 * time.Minute)
	err = svc.Reset(ctx, user.Email, code, "newpass1")
	require.ErrorIs(t, err, apperrors.ErrOTPExpired)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(reloaded.PasswordHash, "secret123"))
}

func TestPasswordResetDispatchFailure(t *testing.T) {
	db := openServiceTestDB(t)
	sender := newFakeSender()
	sender.setFail(true)
	user := createTestUser(t, db, "dave")

	svc, err := NewPasswordResetService(db, sender, WithPasswordResetPolicy(testOTPPolicy()))
	require.NoError(t, err)

	err = svc.Request(context.Background(), user.Email)
	require.ErrorIs(t, err, apperrors.ErrDispatchFailure)

	var pending int64
	require.NoError(t, db.Model(&models.PasswordReset{}).Count(&pending).Error)
	require.Zero(t, pending)
}

func TestPasswordResetAttemptCeiling(t *testing.T) {
	db := openServiceTestDB(t)
	sender := newFakeSender()
	user := createTestUser(t, db, "erin")

	svc, err := NewPasswordResetService(db, sender,
		WithPasswordResetPolicy(testOTPPolicy()),
		WithPasswordResetCodeGenerator(&sequenceCodes{codes: []string{"777777"}}))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, user.Email))

	for i := 1; i <= 5; i++ {
		err = svc.Reset(ctx, user.Email, "000000", "newpass1")
		require.ErrorIs(t, err, apperrors.ErrOTPInvalid)
		require.Equal(t, 5-i, err.(*apperrors.AppError).Details["remainingAttempts"])
	}

	err = svc.Reset(ctx, user.Email, "777777", "newpass1")
	require.ErrorIs(t, err, apperrors.ErrOTPAttemptsExhausted)

	var pending int64
	require.NoError(t, db.Model(&models.PasswordReset{}).Count(&pending).Error)
	require.Zero(t, pending)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(reloaded.PasswordHash, "secret123"))

	err = svc.Reset(ctx, user.Email, "777777", "newpass1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPasswordResetParallelWrongCodesShareCeiling(t *testing.T) {
	db := openServiceTestDB(t)
	sender := newFakeSender()
	user := createTestUser(t, db, "frank")

	policy := testOTPPolicy()
	policy.HashCost = 8
	svc, err := NewPasswordResetService(db, sender,
		WithPasswordResetPolicy(policy),
		WithPasswordResetCodeGenerator(&sequenceCodes{codes: []string{"888888"}}))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, user.Email))

	const guesses = 20
	var wg sync.WaitGroup
	errs := make(chan error, guesses)
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Reset(ctx, user.Email, "000000", "newpass1")
		}()
	}
	wg.Wait()
	close(errs)

	invalid := 0
	for err := range errs {
		switch {
		case errors.Is(err, apperrors.ErrOTPInvalid):
			invalid++
		case errors.Is(err, apperrors.ErrOTPAttemptsExhausted):
		default:
			require.ErrorIs(t, err, apperrors.ErrNotFound)
		}
	}
	require.Equal(t, policy.MaxAttempts, invalid)

	err = svc.Reset(ctx, user.Email, "888888", "newpass1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(reloaded.PasswordHash, "secret123"))
}
