package webtranspose

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/webtranspose/internal/resilience"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 10 * time.Minute
)

// PollOption configures how Wait polls a remote job.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

func newPollConfig(opts []PollOption) pollConfig {
	cfg := pollConfig{
		initial: defaultPollInitial,
		cap:     defaultPollCap,
		timeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.initial <= 0 {
		cfg.initial = defaultPollInitial
	}
	if cfg.cap < cfg.initial {
		cfg.cap = cfg.initial
	}
	return cfg
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout. It applies only when the
// parent context has no deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// poll calls check until it reports done, returns an error, or ctx expires.
// Intervals double from cfg.initial up to cfg.cap.
func poll(ctx context.Context, cfg pollConfig, op string, check func(ctx context.Context) (bool, error)) error {
	if _, ok := ctx.Deadline(); !ok && cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	bo := resilience.Backoff{Initial: cfg.initial, Max: cfg.cap, Multiplier: 2}
	for attempt := 0; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := resilience.Sleep(ctx, bo.Delay(attempt)); err != nil {
			return &Error{
				Kind:    KindTransport,
				Op:      op,
				Code:    CodeTimeout,
				Message: "stopped waiting for remote job",
				Err:     eris.Wrap(err, "poll"),
			}
		}
	}
}
