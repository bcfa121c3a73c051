package vulners

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
	"github.com/ddsvuln/vuln-dataset/utils"
)

const (
	searchURL = "https://vulners.com/api/v3/search/lucene/"
	pageSize  = 100
	retry     = 3
)

var fields = []string{"id", "type", "title", "description", "published", "href", "cvss", "cvss3"}

type options struct {
	baseURL  string
	apiKey   string
	pageSize int
	retry    int
	wait     time.Duration
	logger   *zap.Logger
}

type option func(*options)

func WithBaseURL(baseURL string) option {
	return func(opts *options) { opts.baseURL = baseURL }
}

func WithAPIKey(apiKey string) option {
	return func(opts *options) { opts.apiKey = apiKey }
}

func WithPageSize(size int) option {
	return func(opts *options) { opts.pageSize = size }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

// WithWait sets the sleep between attempts after a 429 or 5xx answer.
func WithWait(wait time.Duration) option {
	return func(opts *options) { opts.wait = wait }
}

func WithLogger(logger *zap.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

// Extractor queries the Vulners lucene search endpoint.
type Extractor struct {
	*options
}

func NewExtractor(opts ...option) Extractor {
	o := &options{
		baseURL:  searchURL,
		pageSize: pageSize,
		retry:    retry,
		wait:     5 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("vulners")
	return Extractor{options: o}
}

func (e Extractor) Source() types.Source {
	return types.SourceVulners
}

func (e Extractor) Search(ctx context.Context, term string) ([]types.RawRecord, error) {
	var records []types.RawRecord
	for skip := 0; ; {
		resp, err := e.post(ctx, searchRequest{
			Query:  term,
			Skip:   skip,
			Size:   e.pageSize,
			Fields: fields,
			APIKey: e.apiKey,
		})
		if err != nil {
			return nil, xerrors.Errorf("search %q failed at skip %d: %w", term, skip, err)
		}
		for _, doc := range resp.Data.Search {
			records = append(records, types.RawRecord{Source: types.SourceVulners, Payload: doc})
		}

		skip += len(resp.Data.Search)
		if len(resp.Data.Search) == 0 || skip >= resp.Data.Total {
			break
		}
	}
	return records, nil
}

func (e Extractor) post(ctx context.Context, req searchRequest) (searchResponse, error) {
	var lastErr error
	for i := 0; i <= e.retry; i++ {
		b, err := utils.PostJSON(e.baseURL, req, nil)
		if err == nil {
			var resp searchResponse
			if err = json.Unmarshal(b, &resp); err != nil {
				return searchResponse{}, xerrors.Errorf("unable to decode response: %w", err)
			}
			if resp.Result != "OK" {
				return searchResponse{}, xerrors.Errorf("vulners error: result=%s, error=%s", resp.Result, resp.Data.Error)
			}
			return resp, nil
		}
		lastErr = err

		code := utils.StatusCode(err)
		if code != 0 && code != http.StatusTooManyRequests && code < http.StatusInternalServerError {
			return searchResponse{}, err
		}
		if i == e.retry {
			break
		}
		e.logger.Warn("Request failed, retrying", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return searchResponse{}, ctx.Err()
		case <-time.After(e.wait):
		}
	}
	return searchResponse{}, xerrors.Errorf("retries exhausted: %w", lastErr)
}
