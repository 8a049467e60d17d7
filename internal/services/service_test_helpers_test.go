package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/database/testutil"
	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/crypto"
	"github.com/teatalks/teatalks/pkg/mail"
)

var errSendFailed = errors.New("smtp unavailable")

// fakeSender records every code it is asked to deliver.
type fakeSender struct {
	mu    sync.Mutex
	codes map[string][]string
	fail  bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{codes: make(map[string][]string)}
}

func (f *fakeSender) SendOTP(_ context.Context, _ mail.Purpose, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	f.codes[to] = append(f.codes[to], code)
	return nil
}

func (f *fakeSender) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeSender) last(t *testing.T, to string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := f.codes[to]
	require.NotEmpty(t, codes, "no code sent to %s", to)
	return codes[len(codes)-1]
}

func (f *fakeSender) sent(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.codes[to])
}

// sequenceCodes hands out the configured codes in order and then repeats the last one.
type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (s *sequenceCodes) Generate(int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.codes[len(s.codes)-1]
	if s.next < len(s.codes) {
		code = s.codes[s.next]
		s.next++
	}
	return code, nil
}

// testClock is a settable UTC clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOTPPolicy() OTPPolicy {
	return OTPPolicy{Length: 6, TTL: 10 * time.Minute, MaxAttempts: 5, HashCost: 4}
}

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func createTestUser(t *testing.T, db *gorm.DB, userName string) *models.User {
	t.Helper()

	hash, err := crypto.HashPasswordWithCost("secret123", 4)
	require.NoError(t, err)

	user := &models.User{
		Email:        userName + "@college.edu",
		UserName:     userName,
		FullName:     "Test " + userName,
		PasswordHash: hash,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestPost(t *testing.T, db *gorm.DB, author *models.User, title string) *models.Post {
	t.Helper()
	post := &models.Post{AuthorID: author.ID, Title: title, Content: title + " body"}
	require.NoError(t, db.Create(post).Error)
	return post
}

func reloadPost(t *testing.T, db *gorm.DB, id string) models.Post {
	t.Helper()
	var post models.Post
	require.NoError(t, db.Take(&post, "id = ?", id).Error)
	return post
}

func reloadComment(t *testing.T, db *gorm.DB, id string) models.Comment {
	t.Helper()
	var comment models.Comment
	require.NoError(t, db.Take(&comment, "id = ?", id).Error)
	return comment
}
