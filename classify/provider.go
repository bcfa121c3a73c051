package classify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/metrics"
	"github.com/ddsvuln/vuln-dataset/types"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultMaxAttempts = 3
)

type options struct {
	timeout     time.Duration
	maxAttempts int
	limiter     *rate.Limiter
	cache       Cache
	metrics     *metrics.Metrics
	logger      *zap.Logger
	newBackOff  func() backoff.BackOff
}

type option func(*options)

// WithTimeout bounds one Classify call, retries included.
func WithTimeout(d time.Duration) option {
	return func(opts *options) { opts.timeout = d }
}

func WithMaxAttempts(n int) option {
	return func(opts *options) { opts.maxAttempts = n }
}

// WithInterval sets the minimum delay between two backend requests.
func WithInterval(d time.Duration) option {
	return func(opts *options) {
		if d <= 0 {
			opts.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		opts.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithCache(c Cache) option {
	return func(opts *options) { opts.cache = c }
}

func WithMetrics(m *metrics.Metrics) option {
	return func(opts *options) { opts.metrics = m }
}

func WithLogger(logger *zap.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

func WithBackOff(f func() backoff.BackOff) option {
	return func(opts *options) { opts.newBackOff = f }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Provider turns a description into a verdict through one backend. Classify
// never fails: every error becomes a sentinel verdict.
type Provider struct {
	name    string
	backend Backend
	*options
}

func NewProvider(name string, backend Backend, opts ...option) *Provider {
	o := &options{
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		logger:      zap.NewNop(),
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	o.logger = o.logger.Named("provider").With(zap.String("provider", name))
	return &Provider{name: name, backend: backend, options: o}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Classify(ctx context.Context, description string) types.Verdict {
	key := CacheKey(p.name, p.backend.Model(), description)
	if p.cache != nil {
		if v, ok := p.cache.Get(ctx, key); ok {
			p.metrics.Classification(p.name, metrics.OutcomeCacheHit, 0)
			return v
		}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.complete(ctx, BuildPrompt(description))
	if err != nil {
		outcome := metrics.OutcomeBackendError
		if xerrors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		p.metrics.Classification(p.name, outcome, time.Since(start))
		p.logger.Warn("Classification failed", zap.String("outcome", outcome), zap.Error(err))
		return types.SentinelVerdict(err.Error())
	}

	v, err := ExtractVerdict(text)
	if err != nil {
		p.metrics.Classification(p.name, metrics.OutcomeParseError, time.Since(start))
		p.logger.Warn("Unable to extract verdict", zap.Error(err), zap.Int("answer_length", len(text)))
		return types.SentinelVerdict(xerrors.Errorf("unable to extract verdict: %w", err).Error())
	}

	p.metrics.Classification(p.name, metrics.OutcomeOK, time.Since(start))
	if p.cache != nil {
		p.cache.Set(ctx, key, v)
	}
	return v
}

// complete calls the backend with retries. Parse errors are handled by the
// caller and never retried.
func (p *Provider) complete(ctx context.Context, prompt string) (string, error) {
	var text string
	attempt := 0
	operation := func() error {
		attempt++
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(xerrors.Errorf("rate limiter: %w", err))
		}
		var err error
		text, err = p.call(ctx, prompt)
		if err != nil && attempt < p.maxAttempts {
			p.logger.Debug("Backend call failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		if ctx.Err() != nil && !xerrors.Is(err, ctx.Err()) {
			return "", xerrors.Errorf("%v: %w", err, ctx.Err())
		}
		return "", err
	}
	return text, nil
}

// call runs the backend in its own goroutine so that a backend ignoring ctx
// cannot hold the caller past its deadline.
func (p *Provider) call(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := p.backend.Complete(ctx, prompt)
		ch <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", backoff.Permanent(ctx.Err())
	case r := <-ch:
		return r.text, r.err
	}
}
