package pipeline

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/araddon/dateparse"
	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/classify"
	"github.com/ddsvuln/vuln-dataset/config"
	"github.com/ddsvuln/vuln-dataset/consensus"
	"github.com/ddsvuln/vuln-dataset/dedupe"
	"github.com/ddsvuln/vuln-dataset/feed"
	"github.com/ddsvuln/vuln-dataset/kevc"
	"github.com/ddsvuln/vuln-dataset/metrics"
	"github.com/ddsvuln/vuln-dataset/normalize"
	"github.com/ddsvuln/vuln-dataset/types"
	"github.com/ddsvuln/vuln-dataset/utils"
)

// CatalogFetcher returns the set of CVE ids known to be exploited.
type CatalogFetcher interface {
	Fetch() (kevc.Catalog, error)
}

type source struct {
	extractor feed.Extractor
	limiter   *rate.Limiter
}

type Option func(*options)

type options struct {
	sources     []source
	classifiers []classify.Classifier
	kev         CatalogFetcher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	progress    io.Writer
}

// WithExtractor engages a feed. Consecutive searches of the feed are spaced
// by at least interval; zero disables the pacing.
func WithExtractor(ex feed.Extractor, interval time.Duration) Option {
	return func(opts *options) {
		var limiter *rate.Limiter
		if interval > 0 {
			limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
		opts.sources = append(opts.sources, source{extractor: ex, limiter: limiter})
	}
}

// WithClassifiers sets the providers in tie-break order.
func WithClassifiers(classifiers []classify.Classifier) Option {
	return func(opts *options) { opts.classifiers = classifiers }
}

func WithKEV(fetcher CatalogFetcher) Option {
	return func(opts *options) { opts.kev = fetcher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *options) { opts.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) { opts.logger = logger }
}

// WithProgress sets where the classification progress bar is drawn.
func WithProgress(w io.Writer) Option {
	return func(opts *options) { opts.progress = w }
}

type Pipeline struct {
	*options
	cfg        config.Config
	normalizer *normalize.Normalizer
}

func New(cfg config.Config, opts ...Option) *Pipeline {
	o := &options{
		logger:   zap.NewNop(),
		progress: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("pipeline")

	return &Pipeline{
		options:    o,
		cfg:        cfg,
		normalizer: normalize.New(cfg.Vendors),
	}
}

// Result is the outcome of one run. FeedErrors collects the searches that
// failed; they do not fail the run.
type Result struct {
	RunID      string
	Records    []types.Record
	Drops      []types.DropEvent
	Collected  map[types.Source]int
	FeedErrors error
}

// Summary converts r into the persisted last-run summary.
func (r Result) Summary(exported int) utils.LastRun {
	lr := utils.LastRun{
		RunID:     r.RunID,
		Finished:  time.Now().UTC(),
		Collected: map[string]int{},
		Dropped:   map[string]int{},
		Exported:  exported,
	}
	for s, n := range r.Collected {
		lr.Collected[string(s)] = n
	}
	for _, d := range r.Drops {
		lr.Dropped[string(d.Reason)]++
	}
	return lr
}

// Run executes one pass: collect, normalize, filter, deduplicate, enrich and
// classify. Records come out in first-seen order.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	res := Result{
		RunID:     uuid.New().String(),
		Collected: map[types.Source]int{},
	}
	logger := p.logger.With(zap.String("run_id", res.RunID))
	logger.Info("Starting run", zap.Int("feeds", len(p.sources)), zap.Int("providers", len(p.classifiers)))

	cutoff, err := p.cfg.PublishedCutoff()
	if err != nil {
		return res, err
	}

	raw, err := p.collect(ctx, &res, logger)
	if err != nil {
		return res, err
	}

	d := dedupe.New(logger)
	for _, r := range raw {
		cr, err := p.normalizer.Normalize(r)
		if err != nil {
			logger.Warn("Dropped record",
				zap.String("source", string(r.Source)),
				zap.String("reason", string(types.DropUnidentifiable)),
				zap.Error(err))
			res.Drops = append(res.Drops, types.DropEvent{Source: r.Source, Reason: types.DropUnidentifiable, Detail: err.Error()})
			continue
		}
		if drop, ok := p.filter(cr, cutoff); !ok {
			logger.Info("Dropped record",
				zap.String("id", drop.ID),
				zap.String("source", string(drop.Source)),
				zap.String("reason", string(drop.Reason)),
				zap.String("detail", drop.Detail))
			res.Drops = append(res.Drops, drop)
			continue
		}
		d.Add(cr)
	}
	res.Drops = append(res.Drops, d.Drops()...)
	canonical := d.Records()
	for _, drop := range res.Drops {
		p.metrics.RecordDropped(string(drop.Reason))
	}
	logger.Info("Records ready for classification", zap.Int("count", len(canonical)), zap.Int("dropped", len(res.Drops)))

	catalog := p.catalog(logger)

	records, err := p.classify(ctx, canonical, catalog, logger)
	if err != nil {
		return res, err
	}
	res.Records = records

	logger.Info("Run finished", zap.Int("records", len(records)))
	return res, nil
}

func (p *Pipeline) collect(ctx context.Context, res *Result, logger *zap.Logger) ([]types.RawRecord, error) {
	var raw []types.RawRecord
	for _, s := range p.sources {
		found, err := feed.Collect(ctx, s.extractor, p.cfg.Terms, s.limiter, logger)
		if err != nil {
			res.FeedErrors = multierror.Append(res.FeedErrors, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.Errorf("collection interrupted: %w", ctxErr)
		}
		src := s.extractor.Source()
		res.Collected[src] += len(found)
		p.metrics.RecordsCollected(string(src), len(found))
		raw = append(raw, found...)
	}
	return raw, nil
}

// filter applies the published-date cutoff and the vendor relevance rule.
func (p *Pipeline) filter(r types.CanonicalRecord, cutoff time.Time) (types.DropEvent, bool) {
	if !cutoff.IsZero() && r.Published != "" {
		// unparsable dates are kept
		if published, err := dateparse.ParseAny(r.Published); err == nil && published.Before(cutoff) {
			return types.DropEvent{ID: r.ID, Source: r.Source, Reason: types.DropPublishedBefore, Detail: r.Published}, false
		}
	}
	if p.cfg.RequireVendor && r.Vendor == types.UnknownVendor {
		return types.DropEvent{ID: r.ID, Source: r.Source, Reason: types.DropUnknownVendor}, false
	}
	return types.DropEvent{}, true
}

func (p *Pipeline) catalog(logger *zap.Logger) kevc.Catalog {
	if !p.cfg.KEV || p.kev == nil {
		return nil
	}
	catalog, err := p.kev.Fetch()
	if err != nil {
		logger.Warn("Known exploited enrichment skipped", zap.Error(err))
		return nil
	}
	return catalog
}

func (p *Pipeline) classify(ctx context.Context, canonical []types.CanonicalRecord, catalog kevc.Catalog, logger *zap.Logger) ([]types.Record, error) {
	classifier := Classifier(p.classifiers, p.cfg.Weight, logger)
	logger.Info("Classifying", zap.String("classifier", classifier.Name()), zap.Int("concurrency", p.cfg.Concurrency))

	records := make([]types.Record, len(canonical))
	bar := pb.New(len(canonical)).SetWriter(p.progress).Start()
	defer bar.Finish()

	g := new(errgroup.Group)
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	}
	for i, cr := range canonical {
		i, cr := i, cr
		g.Go(func() error {
			defer bar.Increment()
			records[i] = types.Record{
				CanonicalRecord: cr,
				Classification:  classifier.Classify(ctx, cr.Description),
				KnownExploited:  catalog.Contains(dedupe.IdentityKey(cr.ID)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, xerrors.Errorf("classification error: %w", err)
	}
	return records, nil
}

// Classifier picks the verdict source for a run: the none verdict without
// providers, the provider itself when there is one, and a weighted vote
// otherwise.
func Classifier(members []classify.Classifier, weight func(string) float64, logger *zap.Logger) classify.Classifier {
	switch len(members) {
	case 0:
		return classify.NoneProvider{}
	case 1:
		if none, ok := members[0].(classify.NoneProvider); ok {
			return none
		}
		return single{Classifier: members[0]}
	}
	return consensus.New(members, weight, logger)
}

// single fills the blank fields of one provider's answer the way a vote does.
// Failed verdicts are passed through so the failure reason is kept.
type single struct {
	classify.Classifier
}

func (s single) Classify(ctx context.Context, description string) types.Verdict {
	v := s.Classifier.Classify(ctx, description)
	if v.Failed {
		return v
	}
	return consensus.Vote([]consensus.Ballot{{Provider: s.Name(), Weight: consensus.DefaultWeight, Verdict: v}})
}
