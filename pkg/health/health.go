package health

import (
	"context"
	"time"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Name is the component the result is reported under
	Name() string
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health status of a dependency
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy indicates if the dependency is currently considered healthy
	Healthy bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume healthy until proven otherwise
	}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0

	// Mark as unhealthy after reaching retry threshold
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// FuncChecker turns a ping function into a Checker
type FuncChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewFuncChecker creates a checker reporting under name
func NewFuncChecker(name string, ping func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, ping: ping}
}

// Name returns the component name
func (f *FuncChecker) Name() string {
	return f.name
}

// Check calls the ping function
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
