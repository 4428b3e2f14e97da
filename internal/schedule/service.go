// Package schedule runs periodic maintenance jobs on cron patterns.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/guildgate/guildgate/internal/config"
)

// ReviewSweepJob is the name of the job that discards reviews of departed members.
const ReviewSweepJob = "review_sweep"

const defaultJobTimeout = 5 * time.Minute

type job struct {
	name    string
	pattern string
	fn      JobFunc
	entry   cron.EntryID

	lastRun   time.Time
	lastCount int
	lastErr   error
	running   bool
}

// Service owns a cron runner and the jobs registered on it.
type Service struct {
	cron    *cron.Cron
	parser  cron.Parser
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewService creates a stopped scheduler. Patterns accept an optional seconds
// field and descriptors such as "@every 1h".
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		timeout: defaultJobTimeout,
		logger:  log.With(slog.String("service", "schedule")),
		jobs:    map[string]*job{},
	}
}

// RegisterReviewSweep schedules sweeper on the configured review sweep pattern.
func (s *Service) RegisterReviewSweep(cfg config.ReviewConfig, sweeper Sweeper) error {
	pattern := strings.TrimSpace(cfg.SweepSchedule)
	if pattern == "" {
		pattern = config.DefaultSweepSchedule
	}
	return s.Add(ReviewSweepJob, pattern, sweeper.SweepDeparted)
}

// Add registers fn under name.
func (s *Service) Add(name, pattern string, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return fmt.Errorf("job name and func are required")
	}
	sched, err := s.parser.Parse(pattern)
	if err != nil {
		return fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return ErrJobExists
	}
	j := &job{name: name, pattern: pattern, fn: fn}
	j.entry = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(j) }))
	s.jobs[name] = j
	s.logger.Info("job scheduled", slog.String("job", name), slog.String("pattern", pattern))
	return nil
}

// Remove unregisters a job.
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, name)
	return nil
}

// Start begins firing jobs.
func (s *Service) Start() {
	s.cron.Start()
}

// Stop halts the runner and waits for running jobs.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a job now, outside its schedule, and returns its result.
func (s *Service) Trigger(ctx context.Context, name string) (JobStatus, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, ErrJobNotFound
	}
	if _, err := s.execute(ctx, j); err != nil {
		return s.status(j), err
	}
	return s.status(j), nil
}

// List returns the registered jobs sorted by name.
func (s *Service) List() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, s.status(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Service) run(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.execute(ctx, j)
}

// execute runs j unless a previous run is still in progress.
func (s *Service) execute(ctx context.Context, j *job) (int, error) {
	s.mu.Lock()
	if j.running {
		s.mu.Unlock()
		s.logger.Warn("job still running, skipping", slog.String("job", j.name))
		return 0, nil
	}
	j.running = true
	s.mu.Unlock()

	start := time.Now()
	n, err := j.fn(ctx)

	s.mu.Lock()
	j.running = false
	j.lastRun = start.UTC()
	j.lastCount = n
	j.lastErr = err
	s.mu.Unlock()

	log := s.logger.With(slog.String("job", j.name), slog.Int("count", n), slog.Duration("took", time.Since(start)))
	if err != nil {
		log.Error("job failed", slog.Any("error", err))
		return n, err
	}
	log.Info("job finished")
	return n, nil
}

func (s *Service) status(j *job) JobStatus {
	next := s.cron.Entry(j.entry).Next
	s.mu.Lock()
	defer s.mu.Unlock()
	st := JobStatus{
		Name:      j.name,
		Pattern:   j.pattern,
		Next:      next,
		LastRun:   j.lastRun,
		LastCount: j.lastCount,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
