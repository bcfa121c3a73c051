package ghsa

import (
	"context"
	"math"
	"time"

	githubql "github.com/shurcooL/githubv4"
	"github.com/shurcooL/graphql"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
	"github.com/ddsvuln/vuln-dataset/utils"
)

var wait = func(i int) time.Duration {
	sleep := math.Pow(float64(i), 2) + float64(utils.RandInt()%10)
	return time.Duration(sleep) * time.Second
}

const (
	retry           = 5
	maxResponseSize = 100
)

type Config struct {
	retry  int
	client GithubClient
	logger *zap.Logger
}

type GithubClient interface {
	Query(ctx context.Context, q interface{}, variables map[string]interface{}) error
}

func NewConfig(client GithubClient, logger *zap.Logger) Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Config{
		retry:  retry,
		client: client,
		logger: logger.Named("ghsa"),
	}
}

func (c Config) Source() types.Source {
	return types.SourceGHSA
}

// Search uses term as the package name of the advisory query. Withdrawn
// advisories and nodes without an advisory id are skipped, and an advisory
// affecting several packages matching the term is returned once.
func (c Config) Search(ctx context.Context, term string) ([]types.RawRecord, error) {
	vulns, err := c.fetchGithubSecurityAdvisories(ctx, term)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch github security advisory: %w", err)
	}

	seen := make(map[string]struct{})
	var records []types.RawRecord
	for _, v := range vulns {
		// skip bad ghsa
		if v.Advisory.GhsaId == "" || v.Advisory.WithdrawnAt != nil {
			continue
		}
		if _, ok := seen[v.Advisory.GhsaId]; ok {
			continue
		}
		seen[v.Advisory.GhsaId] = struct{}{}
		records = append(records, types.RawRecord{Source: types.SourceGHSA, Payload: v})
	}
	return records, nil
}

func (c Config) fetchGithubSecurityAdvisories(ctx context.Context, term string) ([]Vulnerability, error) {
	var vulns []Vulnerability
	variables := map[string]interface{}{
		"package": githubql.String(term),
		"total":   graphql.Int(maxResponseSize),
		"cursor":  (*githubql.String)(nil),
	}
	for {
		var getVulnerabilitiesQuery GetVulnerabilitiesQuery
		var err error
		for i := 0; i <= c.retry; i++ {
			if i > 0 {
				sleep := wait(i)
				c.logger.Info("Retrying GraphQL query", zap.String("package", term), zap.Duration("after", sleep))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(sleep):
				}
			}

			err = c.client.Query(ctx, &getVulnerabilitiesQuery, variables)
			if err == nil || len(getVulnerabilitiesQuery.Nodes) > 0 {
				break
			}
		}
		// GitHub GraphQL API may return an error together with partial nodes;
		// keep what arrived, bad nodes are skipped by the caller.
		if err != nil && len(getVulnerabilitiesQuery.Nodes) == 0 {
			return nil, xerrors.Errorf("graphql api error: %w", err)
		}

		vulns = append(vulns, getVulnerabilitiesQuery.Nodes...)
		if !getVulnerabilitiesQuery.PageInfo.HasNextPage {
			break
		}

		variables["cursor"] = githubql.NewString(getVulnerabilitiesQuery.PageInfo.EndCursor)
	}
	return vulns, nil
}
