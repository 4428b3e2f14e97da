package schedule

import (
	"context"
	"errors"
	"time"
)

// Errors returned by the scheduler.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already registered")
)

// JobFunc is one scheduled unit of work. It returns how many items it processed.
type JobFunc func(ctx context.Context) (int, error)

// JobStatus describes a registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Pattern   string    `json:"pattern"`
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastCount int       `json:"last_count"`
	LastError string    `json:"last_error,omitempty"`
}

// Sweeper is satisfied by *review.Queue.
type Sweeper interface {
	SweepDeparted(ctx context.Context) (int, error)
}
