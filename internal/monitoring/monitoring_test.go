package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teatalks/teatalks/internal/database/testutil"
	"github.com/teatalks/teatalks/internal/monitoring"
	"github.com/teatalks/teatalks/internal/monitoring/checks"
)

func TestHealthManagerEvaluate(t *testing.T) {
	manager := monitoring.NewHealthManager(
		monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}),
		monitoring.NewCheck("mail", func(ctx context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
		}),
	)

	report := manager.Evaluate(context.Background())
	require.False(t, report.Healthy)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "mail", report.Checks[1].Component)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	manager := monitoring.NewHealthManager(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		panic("boom")
	}))

	report := manager.Evaluate(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "boom", report.Checks[0].Details)
	require.Equal(t, "broken", report.Checks[0].Component)
}

func TestResultFromErrorTimeoutIsDegraded(t *testing.T) {
	res := monitoring.ResultFromError("database", context.DeadlineExceeded, time.Millisecond)
	require.Equal(t, monitoring.StatusDegraded, res.Status)

	res = monitoring.ResultFromError("database", nil, -1)
	require.Equal(t, monitoring.StatusUp, res.Status)
	require.Zero(t, res.Duration)
}

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := checks.Database(db, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestMaintenanceCheck(t *testing.T) {
	tracker := monitoring.NewJobTracker()
	tracker.Expect("reconcile")

	result := checks.Maintenance(tracker, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Contains(t, result.Details, "pending first run")

	tracker.Record("sweep", nil, time.Second)
	tracker.Record("cache", errors.New("disk full"), time.Second)

	result = checks.Maintenance(tracker, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "disk full")

	tracker.Record("cache", nil, time.Second)
	result = checks.Maintenance(tracker, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
}

func TestMaintenanceCheckFlagsStaleRuns(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	tracker := monitoring.NewJobTracker().WithClock(func() time.Time { return past })
	tracker.Record("sweep", nil, time.Second)

	result := checks.Maintenance(tracker, time.Hour).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "stale run")
}

func TestJobTrackerSnapshot(t *testing.T) {
	tracker := monitoring.NewJobTracker()
	tracker.Record("sweep", errors.New("locked"), time.Second)
	tracker.Record("sweep", errors.New("locked"), time.Second)
	tracker.Record("reconcile", nil, time.Second)

	jobs := tracker.Snapshot()
	require.Len(t, jobs, 2)
	require.Equal(t, "reconcile", jobs[0].Job)
	require.EqualValues(t, 2, jobs[1].ConsecutiveFailures)
	require.EqualValues(t, 2, jobs[1].Failures)
	require.True(t, jobs[1].LastSuccessAt.IsZero())
}
