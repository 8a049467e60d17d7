package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSession struct {
	from   string
	rcpts  []string
	body   bytes.Buffer
	authed bool
	quit   bool
}

func (s *recordingSession) Auth(smtp.Auth) error { s.authed = true; return nil }
func (s *recordingSession) Mail(from string) error {
	s.from = from
	return nil
}
func (s *recordingSession) Rcpt(to string) error {
	s.rcpts = append(s.rcpts, to)
	return nil
}
func (s *recordingSession) Data() (io.WriteCloser, error) { return nopCloser{&s.body}, nil }
func (s *recordingSession) Quit() error                   { s.quit = true; return nil }
func (s *recordingSession) Close() error                  { return nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newTestMailer(t *testing.T, cfg SMTPSettings, sess *recordingSession) *smtpMailer {
	t.Helper()
	m, err := NewSMTPMailer(cfg)
	require.NoError(t, err)
	sm := m.(*smtpMailer)
	sm.connect = func(context.Context, SMTPSettings) (session, error) { return sess, nil }
	return sm
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.college.edu"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"alice@college.edu"}})
	require.True(t, errors.Is(err, ErrSMTPDisabled))
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.college.edu",
		Port:    465,
		UseTLS:  true,
	})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerSendDeliversThroughSession(t *testing.T) {
	sess := &recordingSession{}
	mailer := newTestMailer(t, SMTPSettings{
		Enabled:  true,
		Host:     "smtp.college.edu",
		Port:     587,
		Username: "mailer",
		Password: "secret",
		From:     "no-reply@college.edu",
	}, sess)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"alice@college.edu", " alice@college.edu "},
		Subject: "Hello",
		Body:    "Body",
	})
	require.NoError(t, err)

	require.True(t, sess.authed)
	require.True(t, sess.quit)
	require.Equal(t, "no-reply@college.edu", sess.from)
	require.Equal(t, []string{"alice@college.edu"}, sess.rcpts)
	require.Contains(t, sess.body.String(), "Subject: Hello")
	require.True(t, strings.HasSuffix(sess.body.String(), "\r\n\r\nBody"))
}

func TestSMTPMailerSendValidatesEnvelope(t *testing.T) {
	mailer := newTestMailer(t, SMTPSettings{Enabled: true, Host: "smtp.college.edu", Port: 587}, &recordingSession{})

	err := mailer.Send(context.Background(), Message{To: []string{"   ", "\t"}})
	require.ErrorContains(t, err, "at least one recipient")

	err = mailer.Send(context.Background(), Message{To: []string{"alice@college.edu"}})
	require.ErrorContains(t, err, "sender address is required")

	err = mailer.Send(context.Background(), Message{From: "invalid-from", To: []string{"alice@college.edu"}})
	require.ErrorContains(t, err, "invalid from address")

	err = mailer.Send(context.Background(), Message{From: "no-reply@college.edu", To: []string{"alice@college.edu", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestFormatMessageEscapesSubject(t *testing.T) {
	content := formatMessage("from@college.edu", []string{"to@college.edu"}, "Subject\r\nBreak", "Body")
	require.Contains(t, content, "From: from@college.edu")
	require.Contains(t, content, "Subject: Subject  Break")
	require.True(t, strings.HasSuffix(content, "Body"))
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{"alice@college.edu", "bob@college.edu", " alice@college.edu ", "", "bob@college.edu"})
	require.Equal(t, []string{"alice@college.edu", "bob@college.edu"}, result)
}

func TestCodeMessage(t *testing.T) {
	msg, err := CodeMessage(PurposeRegistration, "alice@college.edu", "123456", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"alice@college.edu"}, msg.To)
	require.Contains(t, msg.Subject, "Verify")
	require.Contains(t, msg.Body, "123456")
	require.Contains(t, msg.Body, "10 minutes")

	msg, err = CodeMessage(PurposePasswordReset, "alice@college.edu", "654321", 5*time.Minute)
	require.NoError(t, err)
	require.Contains(t, msg.Subject, "Reset")
	require.Contains(t, msg.Body, "654321")
}

func TestLogMailerRecordsMessage(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	mailer := NewLogMailer(zap.New(core))

	require.NoError(t, mailer.Send(context.Background(), Message{To: []string{"alice@college.edu"}, Subject: "Hi"}))
	require.Equal(t, 1, recorded.Len())
	require.Equal(t, "Hi", recorded.All()[0].ContextMap()["subject"])
}
