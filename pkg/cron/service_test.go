package cron

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeNextRunInterval(t *testing.T) {
	now := nowMs()
	next := computeNextRun(Schedule{EveryMs: 60000}, now)
	require.Equal(t, now+60000, next)
}

func TestComputeNextRunCronExpr(t *testing.T) {
	// every day at 09:00
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC).UnixMilli()
	next := computeNextRun(Schedule{Expr: "0 9 * * *"}, now)
	require.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).UnixMilli(), next)
}

func TestComputeNextRunBadExpr(t *testing.T) {
	require.Zero(t, computeNextRun(Schedule{Expr: "not a cron"}, nowMs()))
	require.Zero(t, computeNextRun(Schedule{}, nowMs()))
}

func TestAddListRemovePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	s := NewService(path, nil)

	job := s.AddJob("promo-lunes", KindPromo, Schedule{Expr: "0 9 * * 1"}, PromoPayload{
		To:   []string{"5216682478005"},
		Text: "Promoción de seguros de auto",
	})
	require.NotEmpty(t, job.ID)
	require.True(t, job.Enabled)
	require.NotZero(t, job.State.NextRunAtMs)

	// A fresh service instance sees the persisted job.
	s2 := NewService(path, nil)
	s2.loadStore()
	jobs := s2.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "promo-lunes", jobs[0].Name)
	require.Equal(t, KindPromo, jobs[0].Kind)

	require.True(t, s2.RemoveJob(job.ID))
	require.Empty(t, s2.ListJobs())
	require.False(t, s2.RemoveJob(job.ID))
}

func TestEnsureNamedReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	s := NewService(path, nil)

	s.EnsureNamed("sweep", KindSweep, Schedule{EveryMs: 60000}, PromoPayload{})
	s.EnsureNamed("sweep", KindSweep, Schedule{EveryMs: 30000}, PromoPayload{})

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	require.EqualValues(t, 30000, jobs[0].Schedule.EveryMs)
}

func TestDueJobFires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")

	var mu sync.Mutex
	var fired []Job
	s := NewService(path, func(j Job) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, j)
	})

	s.AddJob("sweep", KindSweep, Schedule{EveryMs: 10}, PromoPayload{})
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, KindSweep, fired[0].Kind)
	mu.Unlock()

	require.Eventually(t, func() bool {
		jobs := s.ListJobs()
		return len(jobs) == 1 && jobs[0].State.LastStatus == "ok"
	}, 5*time.Second, 10*time.Millisecond)
}
