package normalize_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddsvuln/vuln-dataset/config"
	"github.com/ddsvuln/vuln-dataset/ghsa"
	"github.com/ddsvuln/vuln-dataset/normalize"
	"github.com/ddsvuln/vuln-dataset/nvd"
	"github.com/ddsvuln/vuln-dataset/types"
	"github.com/ddsvuln/vuln-dataset/vulners"
)

func float(f float64) *float64 { return &f }
func str(s string) *string     { return &s }

func TestNormalizer_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     types.RawRecord
		want    types.CanonicalRecord
		wantErr error
	}{
		{
			name: "nvd with v3.1 and v2 metrics",
			raw: types.RawRecord{Source: types.SourceNVD, Payload: nvd.Vulnerability{CVE: nvd.CVE{
				ID:        "CVE-2023-39534",
				Published: "2023-08-11T14:15:13.317",
				Descriptions: []nvd.Description{
					{Lang: "es", Value: "Fast DDS es una implementacion."},
					{Lang: "en", Value: "Fast DDS allows a crash via a malformed GAP submessage."},
				},
				Metrics: nvd.Metrics{
					CVSSMetricV31: []nvd.CVSSMetric{{CVSSData: nvd.CVSSData{BaseScore: float(7.5), BaseSeverity: str("HIGH")}}},
					CVSSMetricV2:  []nvd.CVSSMetric{{CVSSData: nvd.CVSSData{BaseScore: float(5.0)}, BaseSeverity: str("MEDIUM")}},
				},
			}}},
			want: types.CanonicalRecord{
				ID:             "CVE-2023-39534",
				Title:          types.NoTitle,
				Description:    "Fast DDS allows a crash via a malformed GAP submessage.",
				DescriptionKey: "fast dds allows a crash via a malformed gap submessage",
				Vendor:         "Fast DDS",
				Published:      "2023-08-11T14:15:13.317",
				CVSSScore:      float(7.5),
				Severity:       str("HIGH"),
				Source:         types.SourceNVD,
			},
		},
		{
			name: "nvd with only v2 metric",
			raw: types.RawRecord{Source: types.SourceNVD, Payload: nvd.Vulnerability{CVE: nvd.CVE{
				ID:           "CVE-2021-38429",
				Descriptions: []nvd.Description{{Lang: "en", Value: "OCI OpenDDS versions prior to 3.18.1 are vulnerable."}},
				Metrics: nvd.Metrics{
					CVSSMetricV2: []nvd.CVSSMetric{{CVSSData: nvd.CVSSData{BaseScore: float(5.0)}, BaseSeverity: str("MEDIUM")}},
				},
			}}},
			want: types.CanonicalRecord{
				ID:             "CVE-2021-38429",
				Title:          types.NoTitle,
				Description:    "OCI OpenDDS versions prior to 3.18.1 are vulnerable.",
				DescriptionKey: "oci opendds versions prior to 3181 are vulnerable",
				Vendor:         "opendds",
				CVSSScore:      float(5.0),
				Severity:       str("MEDIUM"),
				Source:         types.SourceNVD,
			},
		},
		{
			name: "vulners with html and cvss3 preferred",
			raw: types.RawRecord{Source: types.SourceVulners, Payload: vulners.Document{
				ID: "PRION:CVE-2021-38429",
				Source: vulners.Bulletin{
					ID:          "PRION:CVE-2021-38429",
					Title:       "Design/Logic Flaw",
					Description: "<p>RTI <b>Connext</b> DDS crashes.</p>",
					Published:   "2021-11-18T22:15:00",
					CVSS:        &vulners.CVSS{Score: float(5.0), Severity: str("MEDIUM")},
					CVSS3: func() *vulners.CVSS3 {
						c := &vulners.CVSS3{}
						c.CVSSV3.BaseScore = float(7.5)
						c.CVSSV3.BaseSeverity = str("HIGH")
						return c
					}(),
				},
			}},
			want: types.CanonicalRecord{
				ID:             "PRION:CVE-2021-38429",
				Title:          "Design/Logic Flaw",
				Description:    "RTI Connext DDS crashes.",
				DescriptionKey: "rti connext dds crashes",
				Vendor:         "connext",
				Published:      "2021-11-18T22:15:00",
				CVSSScore:      float(7.5),
				Severity:       str("HIGH"),
				Source:         types.SourceVulners,
			},
		},
		{
			name: "vulners without cvss",
			raw: types.RawRecord{Source: types.SourceVulners, Payload: vulners.Document{
				ID:     "OSV:GHSA-2pw4-5v3f-9mxq",
				Source: vulners.Bulletin{Description: "Something else entirely."},
			}},
			want: types.CanonicalRecord{
				ID:             "OSV:GHSA-2pw4-5v3f-9mxq",
				Title:          types.NoTitle,
				Description:    "Something else entirely.",
				DescriptionKey: "something else entirely",
				Vendor:         types.UnknownVendor,
				Source:         types.SourceVulners,
			},
		},
		{
			name: "ghsa with cve alias",
			raw: types.RawRecord{Source: types.SourceGHSA, Payload: ghsa.Vulnerability{
				Severity: "MODERATE",
				Advisory: ghsa.Advisory{
					GhsaId:      "GHSA-2pw4-5v3f-9mxq",
					Summary:     "CycloneDDS heap overflow",
					Description: "Eclipse CycloneDDS has a heap overflow.",
					PublishedAt: "2023-08-11T14:15:13Z",
					Identifiers: []ghsa.Identifier{{Type: "GHSA", Value: "GHSA-2pw4-5v3f-9mxq"}, {Type: "CVE", Value: "CVE-2023-1000"}},
					Cvss:        ghsa.CVSS{Score: 8.1},
				},
			}},
			want: types.CanonicalRecord{
				ID:             "CVE-2023-1000",
				Title:          "CycloneDDS heap overflow",
				Description:    "Eclipse CycloneDDS has a heap overflow.",
				DescriptionKey: "eclipse cyclonedds has a heap overflow",
				Vendor:         "cyclonedds",
				Published:      "2023-08-11T14:15:13Z",
				CVSSScore:      float(8.1),
				Severity:       str("MODERATE"),
				Source:         types.SourceGHSA,
			},
		},
		{
			name: "ghsa without cve alias or score",
			raw: types.RawRecord{Source: types.SourceGHSA, Payload: ghsa.Vulnerability{
				Advisory: ghsa.Advisory{
					GhsaId:   "GHSA-q4mc-9qqq-9xvr",
					Summary:  "GurumDDS crash",
					Severity: "LOW",
				},
			}},
			want: types.CanonicalRecord{
				ID:             "GHSA-q4mc-9qqq-9xvr",
				Title:          "GurumDDS crash",
				Description:    "GurumDDS crash",
				DescriptionKey: "gurumdds crash",
				Vendor:         "GurumDDS",
				Severity:       str("LOW"),
				Source:         types.SourceGHSA,
			},
		},
		{
			name:    "missing id",
			raw:     types.RawRecord{Source: types.SourceNVD, Payload: nvd.Vulnerability{CVE: nvd.CVE{ID: "  "}}},
			wantErr: normalize.ErrUnidentifiable,
		},
		{
			name:    "unknown source",
			raw:     types.RawRecord{Source: "OSV", Payload: nil},
			wantErr: normalize.ErrUnknownSource,
		},
		{
			name:    "payload of the wrong feed",
			raw:     types.RawRecord{Source: types.SourceNVD, Payload: vulners.Document{}},
			wantErr: nil,
		},
	}

	n := normalize.New(config.DefaultVendors)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.want.ID == "" {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	raw := types.RawRecord{Source: types.SourceVulners, Payload: vulners.Document{
		Source: vulners.Bulletin{
			ID:          "CVE-2023-39534",
			Description: strings.Repeat("Fast DDS allows remote attackers to cause a crash. ", 20),
			CVSS:        &vulners.CVSS{Score: float(5.0)},
		},
	}}
	n := normalize.New(config.DefaultVendors)

	first, err := n.Normalize(raw)
	require.NoError(t, err)
	second, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizer_ResolveVendor(t *testing.T) {
	tests := []struct {
		name    string
		vendors []string
		key     string
		want    string
	}{
		{
			name:    "earlier vocabulary entry wins regardless of text position",
			vendors: []string{"CoreDX", "Fast DDS"},
			key:     "fast dds and coredx are both affected",
			want:    "CoreDX",
		},
		{
			name:    "punctuation in vocabulary entry is ignored",
			vendors: []string{"Connext-DDS"},
			key:     "rti connextdds crashes",
			want:    "Connext-DDS",
		},
		{
			name:    "no match",
			vendors: config.DefaultVendors,
			key:     "an unrelated product",
			want:    types.UnknownVendor,
		},
		{
			name:    "blank vocabulary entries never match",
			vendors: []string{"", "!!"},
			key:     "anything",
			want:    types.UnknownVendor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize.New(tt.vendors).ResolveVendor(tt.key))
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "fastdds v2_1 crash", normalize.Key("Fast-DDS v2_1: crash!"))
	assert.Equal(t, "élan ürün", normalize.Key("Élan, Ürün."))
}

func TestSummarize(t *testing.T) {
	long := func(s ...string) string { return strings.Join(s, ". ") }
	filler := strings.Repeat("x", 495)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "short description untouched",
			input: "A short description.",
			want:  "A short description.",
		},
		{
			name:  "exactly the limit is untouched",
			input: strings.Repeat("a", normalize.MaxDescriptionLength),
			want:  strings.Repeat("a", normalize.MaxDescriptionLength),
		},
		{
			name:  "first two qualifying sentences kept in order",
			input: long(filler, "Attackers can do X via Y", "Empty here", "It allows Z", "The component breaks"),
			want:  "Attackers can do X via Y. It allows Z...",
		},
		{
			name:  "one qualifying sentence",
			input: long(filler, "Empty here", "Remote attackers to cause a crash"),
			want:  "Remote attackers to cause a crash...",
		},
		{
			name:  "no qualifying sentence",
			input: long(filler, "Empty here", "ABC"),
			want:  "...",
		},
		{
			name:  "multibyte characters counted as characters",
			input: strings.Repeat("é", normalize.MaxDescriptionLength),
			want:  strings.Repeat("é", normalize.MaxDescriptionLength),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize.Summarize(tt.input))
		})
	}
}

func TestSummarize_Law(t *testing.T) {
	inputs := []string{
		strings.Repeat("The parser allows a crash. Nothing to see. ", 30),
		strings.Repeat("Heap overflow in the RTPS component", 20),
		"Buffer overflow via crafted packet " + strings.Repeat("and more words ", 60) + ". Another sentence in here",
		strings.Repeat("word ", 200),
	}
	for _, input := range inputs {
		require.Greater(t, utf8.RuneCountInString(input), normalize.MaxDescriptionLength)

		got := normalize.Summarize(input)
		assert.True(t, strings.HasSuffix(got, "..."), got)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), normalize.MaxDescriptionLength)

		body := strings.TrimSuffix(got, "...")
		if body == "" {
			continue
		}
		sentences := strings.Split(body, ". ")
		assert.LessOrEqual(t, len(sentences), 2)
	}
}
