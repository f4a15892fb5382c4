package reconciler

import (
	"sync"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultInterval is the sweep period when none is configured
const DefaultInterval = 10 * time.Second

// Sweeper is the part of the lifecycle manager the reconciler drives
type Sweeper interface {
	Sweep(now time.Time)
}

// Reconciler periodically sweeps the lifecycle manager so that TTL expiry
// and status timeouts are acted on without outside prompting
type Reconciler struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReconciler creates a reconciler sweeping every interval
func NewReconciler(sweeper Sweeper, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop ends the sweep loop and waits for an in-progress sweep to finish.
// Stop must only be called after Start.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("sweep loop started")
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("sweep loop stopped")
			return
		}
	}
}

// reconcile performs one sweep cycle
func (r *Reconciler) reconcile() {
	start := r.now()
	r.sweeper.Sweep(start)
	r.logger.Debug().Dur("took", r.now().Sub(start)).Msg("sweep complete")
}
