package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/log"
	"github.com/rs/zerolog"
)

// ReportFunc receives the health of a component after every check
type ReportFunc func(name string, healthy bool, message string)

// Monitor runs checkers periodically and reports their status
type Monitor struct {
	checkers []Checker
	config   Config
	report   ReportFunc
	logger   zerolog.Logger

	mu       sync.RWMutex
	statuses map[string]*Status

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor for the given checkers
func NewMonitor(config Config, report ReportFunc, checkers ...Checker) *Monitor {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = defaults.Retries
	}

	statuses := make(map[string]*Status, len(checkers))
	for _, c := range checkers {
		statuses[c.Name()] = NewStatus()
	}
	return &Monitor{
		checkers: checkers,
		config:   config,
		report:   report,
		logger:   log.WithComponent("health"),
		statuses: statuses,
		stopCh:   make(chan struct{}),
	}
}

// Start starts one check loop per checker
func (m *Monitor) Start() {
	for _, c := range m.checkers {
		m.wg.Add(1)
		go m.checkLoop(c)
	}
}

// Stop stops all check loops and waits for them to return
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Status returns a copy of the named checker's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

func (m *Monitor) checkLoop(c Checker) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Run initial check immediately
	m.runCheck(c)

	for {
		select {
		case <-ticker.C:
			m.runCheck(c)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) runCheck(c Checker) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	result := c.Check(ctx)

	m.mu.Lock()
	status := m.statuses[c.Name()]
	wasHealthy := status.Healthy
	status.Update(result, m.config)
	healthy := status.Healthy
	m.mu.Unlock()

	switch {
	case wasHealthy && !healthy:
		m.logger.Warn().Str("check", c.Name()).Str("message", result.Message).Msg("dependency became unhealthy")
	case !wasHealthy && healthy:
		m.logger.Info().Str("check", c.Name()).Msg("dependency recovered")
	case !result.Healthy:
		m.logger.Debug().Str("check", c.Name()).Str("message", result.Message).Msg("health check failed")
	}

	if m.report != nil {
		m.report(c.Name(), healthy, result.Message)
	}
}
