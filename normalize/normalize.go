package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
)

const (
	MaxDescriptionLength = 500
	sentenceDelimiter    = ". "
	maxSentences         = 2
	ellipsis             = "..."
)

var (
	// KeyPhrases mark sentences that describe the impact of a vulnerability.
	KeyPhrases = []string{"allows", "to cause", "via", "in", "component"}

	ErrUnidentifiable = xerrors.New("unidentifiable record")
	ErrUnknownSource  = xerrors.New("no normalization strategy for source")

	punct = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// fields are the values a strategy reads out of a feed-native payload.
type fields struct {
	id          string
	title       string
	description string
	published   string
	score       *float64
	severity    *string
}

type strategy func(payload interface{}) (fields, error)

type Normalizer struct {
	vendors    []string
	vendorKeys []string
	strategies map[types.Source]strategy
}

// New returns a Normalizer resolving vendors against the given vocabulary,
// in priority order.
func New(vendors []string) *Normalizer {
	n := &Normalizer{
		strategies: map[types.Source]strategy{
			types.SourceNVD:     fromNVD,
			types.SourceVulners: fromVulners,
			types.SourceGHSA:    fromGHSA,
		},
	}
	for _, v := range vendors {
		k := Key(v)
		if strings.TrimSpace(k) == "" {
			continue
		}
		n.vendors = append(n.vendors, v)
		n.vendorKeys = append(n.vendorKeys, k)
	}
	return n
}

// Normalize maps one raw record to its canonical form. It returns an error
// wrapping ErrUnidentifiable when no identifier can be derived.
func (n *Normalizer) Normalize(raw types.RawRecord) (types.CanonicalRecord, error) {
	s, ok := n.strategies[raw.Source]
	if !ok {
		return types.CanonicalRecord{}, xerrors.Errorf("%s: %w", raw.Source, ErrUnknownSource)
	}
	f, err := s(raw.Payload)
	if err != nil {
		return types.CanonicalRecord{}, xerrors.Errorf("%s: %w", raw.Source, err)
	}

	id := strings.TrimSpace(f.id)
	if id == "" {
		return types.CanonicalRecord{}, xerrors.Errorf("%s record without id: %w", raw.Source, ErrUnidentifiable)
	}

	title := strings.TrimSpace(f.title)
	if title == "" {
		title = types.NoTitle
	}

	description := Summarize(strings.TrimSpace(f.description))
	key := Key(description)

	return types.CanonicalRecord{
		ID:             id,
		Title:          title,
		Description:    description,
		DescriptionKey: key,
		Vendor:         n.ResolveVendor(key),
		Published:      strings.TrimSpace(f.published),
		CVSSScore:      f.score,
		Severity:       f.severity,
		Source:         raw.Source,
	}, nil
}

// ResolveVendor returns the first vocabulary entry whose key is a substring
// of descriptionKey.
func (n *Normalizer) ResolveVendor(descriptionKey string) string {
	for i, k := range n.vendorKeys {
		if strings.Contains(descriptionKey, k) {
			return n.vendors[i]
		}
	}
	return types.UnknownVendor
}

// Key strips everything but letters, digits, underscores and whitespace, and
// lower-cases the rest.
func Key(s string) string {
	return strings.ToLower(punct.ReplaceAllString(s, ""))
}

// Summarize leaves descriptions of up to MaxDescriptionLength characters
// untouched. Longer ones are reduced to the first two sentences containing a
// key phrase, followed by an ellipsis.
func Summarize(description string) string {
	if utf8.RuneCountInString(description) <= MaxDescriptionLength {
		return description
	}

	var kept []string
	for _, sentence := range strings.Split(description, sentenceDelimiter) {
		if len(kept) == maxSentences {
			break
		}
		if containsKeyPhrase(sentence) {
			kept = append(kept, sentence)
		}
	}

	summary := strings.Join(kept, sentenceDelimiter)
	// Sentences without a delimiter can be arbitrarily long.
	for len(kept) > 1 && utf8.RuneCountInString(summary)+len(ellipsis) > MaxDescriptionLength {
		kept = kept[:len(kept)-1]
		summary = strings.Join(kept, sentenceDelimiter)
	}
	if utf8.RuneCountInString(summary)+len(ellipsis) > MaxDescriptionLength {
		summary = cutAtWord(summary, MaxDescriptionLength-len(ellipsis))
	}
	return summary + ellipsis
}

func containsKeyPhrase(sentence string) bool {
	for _, p := range KeyPhrases {
		if strings.Contains(sentence, p) {
			return true
		}
	}
	return false
}

func cutAtWord(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
