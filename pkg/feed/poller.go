package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// PollerConfig holds HTTP poll producer configuration.
type PollerConfig struct {
	Source   SourceID
	URL      string
	Interval time.Duration

	// MaxRequestsPerMinute caps outbound requests independently of Interval,
	// protecting upstream APIs when Interval is misconfigured.
	MaxRequestsPerMinute int

	RequestTimeout time.Duration
}

// DefaultPollerConfig returns a config with sensible defaults.
func DefaultPollerConfig(src SourceID, url string) PollerConfig {
	return PollerConfig{
		Source:               src,
		URL:                  url,
		Interval:             30 * time.Second,
		MaxRequestsPerMinute: 10,
		RequestTimeout:       20 * time.Second,
	}
}

// Poller consumes a REST-style producer: an endpoint returning an NDJSON
// body of envelopes, fetched on an interval. It drives the same state
// machine as Runner so the two producer kinds are interchangeable upstream.
type Poller struct {
	config   PollerConfig
	handlers Handlers

	httpClient *http.Client
	limiter    *rate.Limiter

	state     int32 // atomic State
	failures  int
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewPoller creates an HTTP poll producer.
func NewPoller(config PollerConfig, handlers Handlers) *Poller {
	rpm := config.MaxRequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	return &Poller{
		config:     config,
		handlers:   handlers,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		closeCh:    make(chan struct{}),
	}
}

// State returns the current producer state.
func (p *Poller) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Close stops the poller. Safe to call more than once.
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		p.setState(StateClosed)
		close(p.closeCh)
	})
}

// Run polls until ctx is cancelled or Close is called. Blocks; one
// goroutine per source.
func (p *Poller) Run(ctx context.Context) {
	defer p.setState(StateClosed)

	p.setState(StateConnecting)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// First fetch immediately rather than waiting a full interval.
	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	if p.State() == StateClosed {
		return
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	if err := p.fetch(ctx); err != nil {
		p.failures++
		p.setState(StateDegraded)
		p.emitError(fmt.Errorf("poll %s: %w", p.config.Source, err))
		return
	}

	p.failures = 0
	p.setState(StateStreaming)
}

func (p *Poller) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	dec := NewDecoder(resp.Body)
	for {
		env, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if p.handlers.OnEnvelope != nil {
			p.handlers.OnEnvelope(p.config.Source, env)
		}
	}
}

func (p *Poller) setState(s State) {
	old := State(atomic.SwapInt32(&p.state, int32(s)))
	if old != s && p.handlers.OnStateChange != nil {
		p.handlers.OnStateChange(p.config.Source, old, s)
	}
}

func (p *Poller) emitError(err error) {
	if p.handlers.OnError != nil {
		p.handlers.OnError(p.config.Source, err)
	}
}
