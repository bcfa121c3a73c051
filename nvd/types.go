package nvd

// Response is one page of the CVE API 2.0.
type Response struct {
	ResultsPerPage  int             `json:"resultsPerPage"`
	StartIndex      int             `json:"startIndex"`
	TotalResults    int             `json:"totalResults"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// Vulnerability is the raw NVD record handed to the normalizer.
type Vulnerability struct {
	CVE CVE `json:"cve"`
}

type CVE struct {
	ID           string        `json:"id"`
	Published    string        `json:"published"`
	LastModified string        `json:"lastModified"`
	Descriptions []Description `json:"descriptions"`
	Metrics      Metrics       `json:"metrics"`
}

type Description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Metrics struct {
	CVSSMetricV31 []CVSSMetric `json:"cvssMetricV31,omitempty"`
	CVSSMetricV30 []CVSSMetric `json:"cvssMetricV30,omitempty"`
	CVSSMetricV2  []CVSSMetric `json:"cvssMetricV2,omitempty"`
}

type CVSSMetric struct {
	Source       string   `json:"source"`
	Type         string   `json:"type"`
	CVSSData     CVSSData `json:"cvssData"`
	BaseSeverity *string  `json:"baseSeverity,omitempty"` // v2 keeps severity outside cvssData
}

type CVSSData struct {
	Version      string   `json:"version"`
	VectorString string   `json:"vectorString"`
	BaseScore    *float64 `json:"baseScore"`
	BaseSeverity *string  `json:"baseSeverity,omitempty"`
}

// EnglishDescription returns the first description tagged "en".
func (c CVE) EnglishDescription() string {
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	return ""
}
