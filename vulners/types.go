package vulners

type searchRequest struct {
	Query  string   `json:"query"`
	Skip   int      `json:"skip"`
	Size   int      `json:"size"`
	Fields []string `json:"fields"`
	APIKey string   `json:"apiKey,omitempty"`
}

type searchResponse struct {
	Result string `json:"result"`
	Data   struct {
		Search []Document `json:"search"`
		Total  int        `json:"total"`
		Error  string     `json:"error,omitempty"`
	} `json:"data"`
}

// Document is the raw Vulners hit handed to the normalizer.
type Document struct {
	ID     string   `json:"_id"`
	Source Bulletin `json:"_source"`
}

type Bulletin struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Published   string `json:"published"`
	Href        string `json:"href"`
	CVSS        *CVSS  `json:"cvss,omitempty"`
	CVSS3       *CVSS3 `json:"cvss3,omitempty"`
}

type CVSS struct {
	Score    *float64 `json:"score"`
	Severity *string  `json:"severity"`
	Vector   string   `json:"vector"`
}

type CVSS3 struct {
	CVSSV3 struct {
		BaseScore    *float64 `json:"baseScore"`
		BaseSeverity *string  `json:"baseSeverity"`
		VectorString string   `json:"vectorString"`
	} `json:"cvssV3"`
}
