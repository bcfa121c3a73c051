package kevc

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/utils"
)

const (
	kevcURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	retry   = 5
)

type Config struct {
	*options
}

type option func(*options)

type options struct {
	url    string
	retry  int
	logger *zap.Logger
}

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

func WithLogger(logger *zap.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

func NewConfig(opts ...option) Config {
	o := &options{
		url:    kevcURL,
		retry:  retry,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("kevc")

	return Config{
		options: o,
	}
}

// Fetch downloads the Known Exploited Vulnerabilities Catalog and returns
// its CVE IDs.
func (c Config) Fetch() (Catalog, error) {
	c.logger.Info("Fetching Known Exploited Vulnerabilities Catalog")

	res, err := utils.FetchURL(c.url, nil, c.retry)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch KEVC: %w", err)
	}
	kevc := KEVC{}
	if err := json.Unmarshal(res, &kevc); err != nil {
		return nil, xerrors.Errorf("failed to KEVC json unmarshal error: %w", err)
	}
	if kevc.Count != len(kevc.Vulnerabilities) {
		return nil, xerrors.Errorf("failed to Vulnerabilities count error: kevc.Count %d, kevc.Vulnerability length %d", kevc.Count, len(kevc.Vulnerabilities))
	}

	catalog := make(Catalog, len(kevc.Vulnerabilities))
	for _, vuln := range kevc.Vulnerabilities {
		if !strings.HasPrefix(vuln.CveID, "CVE-") {
			c.logger.Debug("Discovered non-CVE-ID", zap.String("id", vuln.CveID))
			continue
		}
		catalog[vuln.CveID] = struct{}{}
	}
	c.logger.Info("Loaded KEV catalog", zap.String("version", kevc.CatalogVersion), zap.Int("count", len(catalog)))
	return catalog, nil
}
