package nvd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
	"github.com/ddsvuln/vuln-dataset/utils"
)

const (
	url20             = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	maxResultsPerPage = 2000
	retry             = 3
	forbiddenWait     = 30 * time.Second
	unavailableWait   = time.Second
	apiKeyHeader      = "apiKey"
)

type options struct {
	baseURL           string
	apiKey            string
	maxResultsPerPage int
	retry             int
	forbiddenWait     time.Duration
	unavailableWait   time.Duration
	logger            *zap.Logger
}

type option func(*options)

func WithBaseURL(baseURL string) option {
	return func(opts *options) { opts.baseURL = baseURL }
}

func WithAPIKey(apiKey string) option {
	return func(opts *options) { opts.apiKey = apiKey }
}

func WithMaxResultsPerPage(n int) option {
	return func(opts *options) { opts.maxResultsPerPage = n }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

// WithWait overrides the sleeps applied on 403/429 and 503 responses.
func WithWait(forbidden, unavailable time.Duration) option {
	return func(opts *options) {
		opts.forbiddenWait = forbidden
		opts.unavailableWait = unavailable
	}
}

func WithLogger(logger *zap.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

// Extractor searches the NVD CVE API 2.0 by keyword.
type Extractor struct {
	*options
}

func NewExtractor(opts ...option) Extractor {
	o := &options{
		baseURL:           url20,
		maxResultsPerPage: maxResultsPerPage,
		retry:             retry,
		forbiddenWait:     forbiddenWait,
		unavailableWait:   unavailableWait,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("nvd")
	return Extractor{options: o}
}

// Interval is the minimum delay between two requests allowed by the NVD
// public rate limits.
func Interval(apiKey string) time.Duration {
	if apiKey != "" {
		return 600 * time.Millisecond
	}
	return 6 * time.Second
}

func (e Extractor) Source() types.Source {
	return types.SourceNVD
}

func (e Extractor) Search(ctx context.Context, term string) ([]types.RawRecord, error) {
	var records []types.RawRecord
	for startIndex := 0; ; {
		pageURL, err := e.urlWithParams(term, startIndex)
		if err != nil {
			return nil, err
		}

		page, err := e.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, xerrors.Errorf("unable to get page for %q: %w", pageURL, err)
		}
		for _, v := range page.Vulnerabilities {
			records = append(records, types.RawRecord{Source: types.SourceNVD, Payload: v})
		}

		startIndex += len(page.Vulnerabilities)
		if len(page.Vulnerabilities) == 0 || startIndex >= page.TotalResults {
			break
		}
	}
	return records, nil
}

func (e Extractor) fetchPage(ctx context.Context, pageURL string) (Response, error) {
	var headers map[string]string
	if e.apiKey != "" {
		headers = map[string]string{apiKeyHeader: e.apiKey}
	}

	var lastErr error
	for i := 0; i <= e.retry; i++ {
		b, err := utils.Get(pageURL, headers)
		if err == nil {
			var resp Response
			if err = json.Unmarshal(b, &resp); err != nil {
				return Response{}, xerrors.Errorf("unable to decode response: %w", err)
			}
			return resp, nil
		}
		lastErr = err

		var wait time.Duration
		switch utils.StatusCode(err) {
		case http.StatusForbidden, http.StatusTooManyRequests:
			wait = e.forbiddenWait
			e.logger.Warn("Rate limit exceeded or access forbidden", zap.String("url", pageURL), zap.Duration("wait", wait))
		case http.StatusServiceUnavailable:
			wait = e.unavailableWait
		case 0:
			wait = e.unavailableWait
			e.logger.Warn("Request failed", zap.String("url", pageURL), zap.Error(err))
		default:
			return Response{}, err
		}

		if i == e.retry {
			break
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Response{}, xerrors.Errorf("retries exhausted: %w", lastErr)
}

func (e Extractor) urlWithParams(term string, startIndex int) (string, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return "", xerrors.Errorf("unable to parse %q base url: %w", e.baseURL, err)
	}
	q := u.Query()
	q.Set("keywordSearch", term)
	q.Set("startIndex", strconv.Itoa(startIndex))
	q.Set("resultsPerPage", strconv.Itoa(e.maxResultsPerPage))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
