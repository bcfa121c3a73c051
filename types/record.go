package types

// Source is the name of the feed a record came from.
type Source string

const (
	SourceNVD     Source = "NVD"
	SourceVulners Source = "Vulners"
	SourceGHSA    Source = "GitHub"
)

const (
	NoTitle       = "No Title"
	UnknownVendor = "Unknown"
	Unknown       = "Unknown"
	UnknownCWE    = "UNKNOWN"
)

// RawRecord is a feed-native payload tagged with the feed that produced it.
// Payload is only interpreted by the normalization strategy registered for Source.
type RawRecord struct {
	Source  Source
	Payload interface{}
}

// CanonicalRecord is the feed-agnostic vulnerability representation.
type CanonicalRecord struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	DescriptionKey string   `json:"-"`
	Vendor         string   `json:"vendor"`
	Published      string   `json:"published"`
	CVSSScore      *float64 `json:"cvss_score"`
	Severity       *string  `json:"severity"`
	Source         Source   `json:"source"`
}

// Record is a canonical record with its classification merged in; this is what
// the exporter receives.
type Record struct {
	CanonicalRecord
	Classification Verdict `json:"classification"`
	KnownExploited bool    `json:"known_exploited"`
}
