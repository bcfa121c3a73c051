package feed

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
)

// Extractor returns raw, feed-native records matching one search term.
type Extractor interface {
	Source() types.Source
	Search(ctx context.Context, term string) ([]types.RawRecord, error)
}

// Collect queries ex for every term, one term at a time, waiting on limiter
// before each query. A failing term is logged and contributes no records; the
// failures are returned together once every term has been tried.
func Collect(ctx context.Context, ex Extractor, terms []string, limiter *rate.Limiter, logger *zap.Logger) ([]types.RawRecord, error) {
	logger = logger.With(zap.String("source", string(ex.Source())))

	var records []types.RawRecord
	var result error
	for _, term := range uniqueTerms(terms) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return records, xerrors.Errorf("rate limiter: %w", err)
			}
		}

		logger.Info("Collecting records", zap.String("term", term))
		found, err := ex.Search(ctx, term)
		if err != nil {
			logger.Warn("Search failed, skipping term", zap.String("term", term), zap.Error(err))
			result = multierror.Append(result, xerrors.Errorf("%s %q: %w", ex.Source(), term, err))
			continue
		}
		logger.Info("Found records", zap.String("term", term), zap.Int("count", len(found)))
		records = append(records, found...)
	}
	return records, result
}

func uniqueTerms(terms []string) []string {
	trimmed := lo.Map(terms, func(t string, _ int) string { return strings.TrimSpace(t) })
	return lo.Uniq(lo.Compact(trimmed))
}
