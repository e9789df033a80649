package bench

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/annbench/engine"
)

// stillAliveInterval is how long a build may go without a progress event
// before a "still running" diagnostic is emitted.
const stillAliveInterval = 10 * time.Second

// ProgressLogger turns build-progress events into log output. Forwarded
// events are rate limited to one per second; a background poller emits a
// best-effort "still running" line when the build goes quiet. Neither path
// ever alters control flow.
type ProgressLogger struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	last   engine.ProgressEvent
	lastAt time.Time
	seen   bool

	stop chan struct{}
	done chan struct{}
}

// NewProgressLogger creates a ProgressLogger and starts its poll loop.
// Call Stop when the build completes.
func NewProgressLogger(logger *slog.Logger) *ProgressLogger {
	if logger == nil {
		logger = slog.Default()
	}

	p := &ProgressLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.poll()

	return p
}

// Sink is the callback handed to engine.BuildSpec.Progress. Safe for
// concurrent use.
func (p *ProgressLogger) Sink(ev engine.ProgressEvent) {
	p.mu.Lock()
	p.last = ev
	p.lastAt = time.Now()
	p.seen = true
	p.mu.Unlock()

	if p.limiter.Allow() {
		p.logger.Info("build progress",
			"stage", ev.Stage,
			"current", ev.Current,
			"max", ev.Max,
		)
	}
}

// Stop terminates the poll loop and waits for it to exit.
func (p *ProgressLogger) Stop() {
	close(p.stop)
	<-p.done
}

func (p *ProgressLogger) poll() {
	defer close(p.done)

	ticker := time.NewTicker(stillAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			ev, at, seen := p.last, p.lastAt, p.seen
			p.mu.Unlock()

			if !seen || time.Since(at) < stillAliveInterval {
				continue
			}

			attrs := []any{
				"stage", ev.Stage,
				"running_for", time.Since(at).Round(time.Second),
			}
			if ev.Max > 0 {
				attrs = append(attrs, "percent", float64(ev.Current)/float64(ev.Max)*100)
			}
			p.logger.Info("build still running", attrs...)
		}
	}
}
