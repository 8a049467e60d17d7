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

type registrationFixture struct {
	svc    *RegistrationService
	sender *fakeSender
	clock  *testClock
}

func newRegistrationFixture(t *testing.T, opts ...RegistrationOption) (*registrationFixture, func() int64) {
	t.Helper()
	db := openServiceTestDB(t)
	sender := newFakeSender()
	clock := newTestClock()

	base := []RegistrationOption{
		WithRegistrationClock(clock.Now),
		WithRegistrationPolicy(testOTPPolicy()),
	}
	svc, err := NewRegistrationService(db, sender, append(base, opts...)...)
	require.NoError(t, err)

	countUsers := func() int64 {
		var n int64
		require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
		return n
	}
	return &registrationFixture{svc: svc, sender: sender, clock: clock}, countUsers
}

func aliceInput() RegisterInput {
	return RegisterInput{
		Email:    "a@x.edu",
		UserName: "alice",
		Password: "secret123",
		FullName: "Alice A",
	}
}

func TestRegistrationRequestAndVerify(t *testing.T) {
	fx, countUsers := newRegistrationFixture(t)
	ctx := context.Background()

	ack, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)
	require.Equal(t, "a@x.edu", ack.Email)
	require.Zero(t, countUsers())

	code := fx.sender.last(t, "a@x.edu")
	require.Len(t, code, 6)

	user, err := fx.svc.Verify(ctx, "a@x.edu", code)
	require.NoError(t, err)
	require.Equal(t, "alice", user.UserName)
	require.Equal(t, "Alice A", user.FullName)
	require.True(t, crypto.VerifyPassword(user.PasswordHash, "secret123"))
	require.EqualValues(t, 1, countUsers())

	_, err = fx.svc.Verify(ctx, "a@x.edu", code)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = fx.svc.Request(ctx, aliceInput())
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestRegistrationRejectsReservedUserName(t *testing.T) {
	fx, _ := newRegistrationFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	other := aliceInput()
	other.Email = "b@x.edu"
	_, err = fx.svc.Request(ctx, other)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Equal(t, ErrUserNameReserved.Message, err.(*apperrors.AppError).Message)

	// Once the first code expires the name is free again.
	fx.clock.Advance(11 * time.Minute)
	_, err = fx.svc.Request(ctx, other)
	require.NoError(t, err)
}

func TestRegistrationRequestReplacesPendingForSameEmail(t *testing.T) {
	fx, countUsers := newRegistrationFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)
	first := fx.sender.last(t, "a@x.edu")

	renamed := aliceInput()
	renamed.UserName = "alice_b"
	_, err = fx.svc.Request(ctx, renamed)
	require.NoError(t, err)
	second := fx.sender.last(t, "a@x.edu")

	if first != second {
		_, err = fx.svc.Verify(ctx, "a@x.edu", first)
		require.ErrorIs(t, err, apperrors.ErrOTPInvalid)
	}

	user, err := fx.svc.Verify(ctx, "a@x.edu", second)
	require.NoError(t, err)
	require.Equal(t, "alice_b", user.UserName)
	require.EqualValues(t, 1, countUsers())
}

func TestRegistrationAttemptCeiling(t *testing.T) {
	fx, countUsers := newRegistrationFixture(t, WithRegistrationCodeGenerator(&sequenceCodes{codes: []string{"123456"}}))
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err = fx.svc.Verify(ctx, "a@x.edu", "000000")
		require.ErrorIs(t, err, apperrors.ErrOTPInvalid)
		appErr := err.(*apperrors.AppError)
		require.Equal(t, 5-i, appErr.Details["remainingAttempts"])
	}

	// The correct code no longer helps once the ceiling is reached.
	_, err = fx.svc.Verify(ctx, "a@x.edu", "123456")
	require.ErrorIs(t, err, apperrors.ErrOTPAttemptsExhausted)
	require.Zero(t, countUsers())

	_, err = fx.svc.Verify(ctx, "a@x.edu", "123456")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// The email starts over cleanly after exhaustion.
	_, err = fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)
	user, err := fx.svc.Verify(ctx, "a@x.edu", fx.sender.last(t, "a@x.edu"))
	require.NoError(t, err)
	require.Equal(t, "alice", user.UserName)
	require.EqualValues(t, 1, countUsers())
}

func TestRegistrationParallelWrongCodesShareCeiling(t *testing.T) {
	policy := testOTPPolicy()
	// A slower hash widens the window between reading and claiming an attempt.
	policy.HashCost = 8
	fx, countUsers := newRegistrationFixture(t,
		WithRegistrationPolicy(policy),
		WithRegistrationCodeGenerator(&sequenceCodes{codes: []string{"123456"}}))
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	const guesses = 20
	var wg sync.WaitGroup
	errs := make(chan error, guesses)
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Verify(ctx, "a@x.edu", "000000")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	invalid, exhausted := 0, 0
	for err := range errs {
		switch {
		case errors.Is(err, apperrors.ErrOTPInvalid):
			invalid++
		case errors.Is(err, apperrors.ErrOTPAttemptsExhausted):
			exhausted++
		default:
			require.ErrorIs(t, err, apperrors.ErrNotFound)
		}
	}
	require.Equal(t, policy.MaxAttempts, invalid)
	require.NotZero(t, exhausted)

	_, err = fx.svc.Verify(ctx, "a@x.edu", "123456")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Zero(t, countUsers())
}

func TestRegistrationExpiredCode(t *testing.T) {
	fx, countUsers := newRegistrationFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)
	code := fx.sender.last(t, "a@x.edu")

	fx.clock.Advance(10*time.Minute + time.Second)
	_, err = fx.svc.Verify(ctx, "a@x.edu", code)
	require.ErrorIs(t, err, apperrors.ErrOTPExpired)
	require.Zero(t, countUsers())

	_, err = fx.svc.Verify(ctx, "a@x.edu", code)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRegistrationResend(t *testing.T) {
	codes := &sequenceCodes{codes: []string{"111111", "222222", "333333"}}
	fx, _ := newRegistrationFixture(t, WithRegistrationCodeGenerator(codes))
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = fx.svc.Verify(ctx, "a@x.edu", "999999")
		require.ErrorIs(t, err, apperrors.ErrOTPInvalid)
	}

	fx.clock.Advance(9 * time.Minute)
	_, err = fx.svc.Resend(ctx, "a@x.edu")
	require.NoError(t, err)
	require.Equal(t, "222222", fx.sender.last(t, "a@x.edu"))

	// Old code is gone, attempts and lifetime were reset.
	_, err = fx.svc.Verify(ctx, "a@x.edu", "111111")
	require.ErrorIs(t, err, apperrors.ErrOTPInvalid)
	require.Equal(t, 4, err.(*apperrors.AppError).Details["remainingAttempts"])

	fx.clock.Advance(5 * time.Minute)
	user, err := fx.svc.Verify(ctx, "a@x.edu", "222222")
	require.NoError(t, err)
	require.Equal(t, "alice", user.UserName)
}

func TestRegistrationResendDispatchFailureKeepsOldCode(t *testing.T) {
	codes := &sequenceCodes{codes: []string{"111111", "222222"}}
	fx, _ := newRegistrationFixture(t, WithRegistrationCodeGenerator(codes))
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	fx.sender.setFail(true)
	_, err = fx.svc.Resend(ctx, "a@x.edu")
	require.ErrorIs(t, err, apperrors.ErrDispatchFailure)

	_, err = fx.svc.Verify(ctx, "a@x.edu", "111111")
	require.NoError(t, err)
}

func TestRegistrationResendUnknownEmail(t *testing.T) {
	fx, _ := newRegistrationFixture(t)
	_, err := fx.svc.Resend(context.Background(), "nobody@x.edu")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRegistrationDispatchFailureLeavesNoPending(t *testing.T) {
	fx, _ := newRegistrationFixture(t)
	ctx := context.Background()

	fx.sender.setFail(true)
	_, err := fx.svc.Request(ctx, aliceInput())
	require.ErrorIs(t, err, apperrors.ErrDispatchFailure)

	_, err = fx.svc.Resend(ctx, "a@x.edu")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	fx.sender.setFail(false)
	_, err = fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)
}

func TestRegistrationCollegeDomain(t *testing.T) {
	fx, _ := newRegistrationFixture(t, WithCollegeDomain("@X.edu"))
	ctx := context.Background()

	in := aliceInput()
	in.Email = "alice@gmail.com"
	_, err := fx.svc.Request(ctx, in)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)
}

func TestRegistrationConcurrentVerifyCreatesOneUser(t *testing.T) {
	fx, countUsers := newRegistrationFixture(t, WithRegistrationCodeGenerator(&sequenceCodes{codes: []string{"424242"}}))
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	const workers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.svc.Verify(ctx, "a@x.edu", "424242"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.EqualValues(t, 1, countUsers())
}

func TestRegistrationPurgeExpired(t *testing.T) {
	fx, _ := newRegistrationFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Request(ctx, aliceInput())
	require.NoError(t, err)

	removed, err := fx.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	fx.clock.Advance(time.Hour)
	removed, err = fx.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
