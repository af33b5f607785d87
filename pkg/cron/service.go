package cron

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Service schedules promo sends and the escalation sweep. Jobs persist to
// a JSON file so restarts keep the schedule.
type Service struct {
	StorePath string
	OnJob     func(Job)
	store     *jobStore
	running   bool
	stopChan  chan struct{}
	mu        sync.RWMutex
}

// NewService creates a new cron service.
func NewService(storePath string, onJob func(Job)) *Service {
	return &Service{
		StorePath: storePath,
		OnJob:     onJob,
		stopChan:  make(chan struct{}),
	}
}

func nowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

func computeNextRun(schedule Schedule, now int64) int64 {
	if schedule.EveryMs > 0 {
		return now + schedule.EveryMs
	}
	if schedule.Expr != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(schedule.Expr)
		if err != nil {
			log.Printf("Error parsing cron expr '%s': %v", schedule.Expr, err)
			return 0
		}
		next := sched.Next(time.Unix(0, now*int64(time.Millisecond)))
		return next.UnixNano() / int64(time.Millisecond)
	}
	return 0
}

func (s *Service) loadStore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return
	}
	s.store = &jobStore{Version: 1, Jobs: []Job{}}

	data, err := os.ReadFile(s.StorePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Failed to load cron store: %v", err)
		}
		return
	}
	if err := json.Unmarshal(data, s.store); err != nil {
		log.Printf("Failed to parse cron store: %v", err)
	}
}

func (s *Service) saveStore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return
	}
	os.MkdirAll(filepath.Dir(s.StorePath), 0755)

	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		log.Printf("Failed to marshal cron store: %v", err)
		return
	}
	if err := os.WriteFile(s.StorePath, data, 0644); err != nil {
		log.Printf("Failed to save cron store: %v", err)
	}
}

// Start loads the store and begins the scheduling loop.
func (s *Service) Start() {
	s.loadStore()
	s.recomputeNextRuns()
	s.saveStore()
	s.running = true
	go s.loop()
	log.Printf("Cron service started with %d jobs", len(s.store.Jobs))
}

// Stop stops the cron service.
func (s *Service) Stop() {
	s.running = false
	close(s.stopChan)
}

func (s *Service) recomputeNextRuns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMs()
	for i := range s.store.Jobs {
		job := &s.store.Jobs[i]
		if job.Enabled {
			job.State.NextRunAtMs = computeNextRun(job.Schedule, now)
		}
	}
}

func (s *Service) getNextWakeMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var minNext int64
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMs > 0 {
			if minNext == 0 || job.State.NextRunAtMs < minNext {
				minNext = job.State.NextRunAtMs
			}
		}
	}
	return minNext
}

func (s *Service) loop() {
	for {
		if !s.running {
			return
		}

		nextWake := s.getNextWakeMs()
		now := nowMs()

		var delay time.Duration
		if nextWake > now {
			delay = time.Duration(nextWake-now) * time.Millisecond
		}
		// Cap the sleep so jobs added at runtime are picked up.
		if nextWake == 0 || delay > 10*time.Second {
			delay = 10 * time.Second
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
			s.processJobs()
		}
	}
}

func (s *Service) processJobs() {
	s.mu.Lock()
	now := nowMs()
	var due []Job
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMs > 0 && now >= job.State.NextRunAtMs {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.executeJob(&job)

		s.mu.Lock()
		for i := range s.store.Jobs {
			if s.store.Jobs[i].ID != job.ID {
				continue
			}
			s.store.Jobs[i] = job
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(job.Schedule, nowMs())
			break
		}
		s.mu.Unlock()
	}

	if len(due) > 0 {
		s.saveStore()
	}
}

func (s *Service) executeJob(job *Job) {
	log.Printf("Cron: executing job '%s' (%s)", job.Name, job.ID)
	startMs := nowMs()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Cron: panic executing job: %v", r)
			job.State.LastStatus = "error"
			job.State.LastError = fmt.Sprintf("panic: %v", r)
		}
	}()

	if s.OnJob != nil {
		s.OnJob(*job)
	}

	job.State.LastStatus = "ok"
	job.State.LastError = ""
	job.State.LastRunAtMs = startMs
	job.UpdatedAtMs = nowMs()
}

// ListJobs returns a copy of the current jobs.
func (s *Service) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	jobs := make([]Job, len(s.store.Jobs))
	copy(jobs, s.store.Jobs)
	return jobs
}

// AddJob registers a job and returns it with id and next run filled in.
func (s *Service) AddJob(name string, kind JobKind, schedule Schedule, promo PromoPayload) Job {
	s.loadStore()

	s.mu.Lock()
	now := nowMs()
	job := Job{
		ID:          uuid.New().String(),
		Name:        name,
		Kind:        kind,
		Enabled:     true,
		Schedule:    schedule,
		Promo:       promo,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	job.State.NextRunAtMs = computeNextRun(schedule, now)
	s.store.Jobs = append(s.store.Jobs, job)
	s.mu.Unlock()

	s.saveStore()
	return job
}

// RemoveJob deletes a job by id.
func (s *Service) RemoveJob(id string) bool {
	s.loadStore()

	s.mu.Lock()
	removed := false
	for i, job := range s.store.Jobs {
		if job.ID == id {
			s.store.Jobs = append(s.store.Jobs[:i], s.store.Jobs[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		s.saveStore()
	}
	return removed
}

// EnsureNamed keeps exactly one job under each given name, replacing any
// stored copy. Config-seeded jobs go through here so edits to the config
// win over the persisted store.
func (s *Service) EnsureNamed(name string, kind JobKind, schedule Schedule, promo PromoPayload) Job {
	s.loadStore()

	s.mu.Lock()
	for i := 0; i < len(s.store.Jobs); i++ {
		if s.store.Jobs[i].Name == name {
			s.store.Jobs = append(s.store.Jobs[:i], s.store.Jobs[i+1:]...)
			i--
		}
	}
	s.mu.Unlock()

	return s.AddJob(name, kind, schedule, promo)
}
