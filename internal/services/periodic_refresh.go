package services

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// Refresher refreshes every monitored route
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// PeriodicRefreshService keeps monitored route reports warm by refreshing
// them on a fixed interval
type PeriodicRefreshService struct {
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewPeriodicRefreshService creates a refresh loop over refresher
func NewPeriodicRefreshService(refresher Refresher, interval time.Duration) *PeriodicRefreshService {
	return &PeriodicRefreshService{
		refresher: refresher,
		interval:  interval,
		timeout:   2 * time.Minute,
	}
}

// StartPeriodicRefresh begins refreshing in the background. The first
// refresh runs immediately.
func (p *PeriodicRefreshService) StartPeriodicRefresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil // Already running
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	log.Printf("Starting periodic refresh every %v", p.interval)
	go p.refreshLoop(ctx, p.stopChan, p.done)

	return nil
}

// Stop stops the refresh loop and waits for it to exit
func (p *PeriodicRefreshService) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
	log.Printf("Stopped periodic refresh service")
}

// IsRunning returns whether periodic refresh is active
func (p *PeriodicRefreshService) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicRefreshService) refreshLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Periodic refresh: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Periodic refresh stopping due to context cancellation")
			return
		case <-stop:
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *PeriodicRefreshService) refresh(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.refresher.RefreshAll(refreshCtx); err != nil {
		log.Printf("Periodic refresh failed: %v", err)
		return
	}
	log.Printf("Periodic refresh completed")
}
