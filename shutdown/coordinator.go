package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/commlink-dev/commlink/logging"
)

// DefaultTimeout bounds a signal-triggered shutdown.
const DefaultTimeout = 30 * time.Second

// Coordinator runs registered teardown steps in phase order when shutdown is
// initiated, by call or by SIGTERM/SIGINT. Shutdown runs at most once.
type Coordinator struct {
	timeout time.Duration
	log     *logging.Logger

	mu    sync.Mutex
	steps []step

	once    sync.Once
	done    chan struct{}
	err     error
	results []StepResult
	sigCh   chan os.Signal
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the signal-triggered shutdown timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a shutdown coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		done:    make(chan struct{}),
		sigCh:   make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.New()
	}
	c.log = c.log.WithComponent("shutdown")
	return c
}

// Register adds a teardown step at the given phase.
func (c *Coordinator) Register(name string, phase int, fn StepFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, phase: phase, fn: fn})
}

// Shutdown runs all registered steps in phase order. Subsequent calls return
// the outcome of the first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if first {
		return c.err
	}

	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// ShutdownWithTimeout runs Shutdown bounded by a deadline.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.sigCh
		c.log.Info("signal received, shutting down")
		c.ShutdownWithTimeout(c.timeout)
	}()
}

// Trigger initiates shutdown as if a signal arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.sigCh <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown outcome. Only valid after Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Results returns per-step outcomes. Only valid after Done is closed.
func (c *Coordinator) Results() []StepResult {
	select {
	case <-c.done:
		return c.results
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	steps := make([]step, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].phase < steps[j].phase
	})

	var failed bool
	for start := 0; start < len(steps); {
		end := start
		for end < len(steps) && steps[end].phase == steps[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			c.log.Error("shutdown timed out", map[string]interface{}{
				"completed": len(c.results),
				"total":     len(steps),
			})
			return ErrTimeout
		default:
		}

		for _, res := range c.runPhase(ctx, steps[start:end]) {
			c.results = append(c.results, res)
			if res.Err != nil {
				failed = true
				c.log.Error("step failed", map[string]interface{}{
					"step":  res.Name,
					"error": res.Err.Error(),
				})
			} else {
				c.log.Info("step complete", map[string]interface{}{
					"step":     res.Name,
					"duration": res.Duration.String(),
				})
			}
		}
		start = end
	}

	if failed {
		return ErrStepFailed
	}
	return nil
}

// runPhase runs one phase's steps concurrently.
func (c *Coordinator) runPhase(ctx context.Context, phase []step) []StepResult {
	results := make([]StepResult, len(phase))
	var wg sync.WaitGroup

	for i, s := range phase {
		wg.Add(1)
		go func(idx int, s step) {
			defer wg.Done()
			start := time.Now()
			err := s.fn(ctx)
			results[idx] = StepResult{
				Name:     s.name,
				Phase:    s.phase,
				Duration: time.Since(start),
				Err:      err,
			}
		}(i, s)
	}

	wg.Wait()
	return results
}
