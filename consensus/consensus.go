package consensus

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ddsvuln/vuln-dataset/classify"
	"github.com/ddsvuln/vuln-dataset/types"
)

const DefaultWeight = 1.0

// Ballot is one provider's verdict and the weight of its vote.
type Ballot struct {
	Provider string
	Weight   float64
	Verdict  types.Verdict
}

// Vote merges ballots field by field. Each non-blank value accumulates the
// weight of the ballots carrying it and the heaviest value wins; on a tie the
// value first voted for, in ballot order, wins. A failed ballot votes its
// sentinel values but not its failure reason. Fields without votes become
// "Unknown" ("UNKNOWN" for cwe_category).
func Vote(ballots []Ballot) types.Verdict {
	var result types.Verdict
	for _, field := range types.VerdictFields {
		result.Set(field, voteField(ballots, field))
	}
	return result
}

func voteField(ballots []Ballot, field string) string {
	weights := make(map[string]float64)
	var order []string
	for _, b := range ballots {
		if b.Verdict.Failed && field == types.FieldExplanation {
			continue
		}
		value := strings.TrimSpace(b.Verdict.Get(field))
		if value == "" {
			continue
		}
		if _, ok := weights[value]; !ok {
			order = append(order, value)
		}
		weights[value] += b.Weight
	}

	if len(order) == 0 {
		return types.UnknownValue(field)
	}
	winner := order[0]
	for _, value := range order[1:] {
		if weights[value] > weights[winner] {
			winner = value
		}
	}
	return winner
}

// Classifier asks every member concurrently and votes on their verdicts.
type Classifier struct {
	members []classify.Classifier
	weight  func(provider string) float64
	logger  *zap.Logger
}

// New returns a Classifier over members; their order is the tie-break order.
// A nil weight function gives every provider DefaultWeight.
func New(members []classify.Classifier, weight func(provider string) float64, logger *zap.Logger) *Classifier {
	if weight == nil {
		weight = func(string) float64 { return DefaultWeight }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		members: members,
		weight:  weight,
		logger:  logger.Named("consensus"),
	}
}

func (c *Classifier) Name() string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.Name()
	}
	return strings.Join(names, "+")
}

// Classify waits for every member; members never fail, they return sentinel
// verdicts instead.
func (c *Classifier) Classify(ctx context.Context, description string) types.Verdict {
	ballots := make([]Ballot, len(c.members))
	var g errgroup.Group
	for i, m := range c.members {
		i, m := i, m
		g.Go(func() error {
			ballots[i] = Ballot{
				Provider: m.Name(),
				Weight:   c.weight(m.Name()),
				Verdict:  m.Classify(ctx, description),
			}
			return nil
		})
	}
	_ = g.Wait()

	v := Vote(ballots)
	c.logger.Debug("Consensus reached",
		zap.String("cwe_category", v.CWECategory),
		zap.Int("failed", countFailed(ballots)),
		zap.Int("ballots", len(ballots)))
	return v
}

func countFailed(ballots []Ballot) int {
	n := 0
	for _, b := range ballots {
		if b.Verdict.Failed {
			n++
		}
	}
	return n
}
