package dedupe

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ddsvuln/vuln-dataset/types"
)

// IDPrefixes are feed-specific prefixes removed from ids before comparing them.
var IDPrefixes = []string{"NVD:", "CVELIST:", "PRION:", "OSV:", "GHSA:"}

// IdentityKey returns the id with whitespace trimmed and every leading known
// prefix removed, so "CVELIST:NVD:CVE-1" becomes "CVE-1".
func IdentityKey(id string) string {
	key := strings.TrimSpace(id)
	for stripped := true; stripped; {
		stripped = false
		for _, p := range IDPrefixes {
			if strings.HasPrefix(key, p) {
				key = strings.TrimSpace(strings.TrimPrefix(key, p))
				stripped = true
			}
		}
	}
	return key
}

type seen struct {
	source types.Source
	index  int
}

// Deduplicator tracks the identities seen during one run. It is not safe for
// concurrent use.
type Deduplicator struct {
	identities map[string][]seen
	records    []types.CanonicalRecord
	drops      []types.DropEvent
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		identities: make(map[string][]seen),
		logger:     logger.Named("dedupe"),
	}
}

// Add records r and reports whether it was retained.
func (d *Deduplicator) Add(r types.CanonicalRecord) bool {
	key := IdentityKey(r.ID)
	if key == "" {
		d.drop(r, types.DropEmptyIdentity, "")
		return false
	}

	sightings := d.identities[key]
	for _, s := range sightings {
		if s.source == r.Source {
			d.drop(r, types.DropSameSource, d.records[s.index].ID)
			return false
		}
	}
	if len(sightings) > 0 {
		first := d.records[sightings[0].index]
		d.logger.Info("Cross-source duplicate retained",
			zap.String("key", key),
			zap.String("source", string(r.Source)),
			zap.String("first_source", string(first.Source)))
	}

	d.identities[key] = append(sightings, seen{source: r.Source, index: len(d.records)})
	d.records = append(d.records, r)
	return true
}

func (d *Deduplicator) drop(r types.CanonicalRecord, reason types.DropReason, detail string) {
	d.logger.Debug("Dropped record",
		zap.String("id", r.ID),
		zap.String("source", string(r.Source)),
		zap.String("reason", string(reason)))
	d.drops = append(d.drops, types.DropEvent{ID: r.ID, Source: r.Source, Reason: reason, Detail: detail})
}

// Records returns retained records in first-seen order.
func (d *Deduplicator) Records() []types.CanonicalRecord {
	return d.records
}

func (d *Deduplicator) Drops() []types.DropEvent {
	return d.drops
}

// Deduplicate runs a fresh Deduplicator over records.
func Deduplicate(records []types.CanonicalRecord, logger *zap.Logger) ([]types.CanonicalRecord, []types.DropEvent) {
	d := New(logger)
	for _, r := range records {
		d.Add(r)
	}
	return d.Records(), d.Drops()
}
