package ghsa

import githubql "github.com/shurcooL/githubv4"

type GetVulnerabilitiesQuery struct {
	SecurityVulnerabilities `graphql:"securityVulnerabilities(package: $package, first: $total, after: $cursor)"`
}

type SecurityVulnerabilities struct {
	Nodes    []Vulnerability
	PageInfo PageInfo
}

type PageInfo struct {
	EndCursor   githubql.String
	HasNextPage bool
}

// Vulnerability is one affected-package node of an advisory; it is the raw
// payload handed to the normalizer.
type Vulnerability struct {
	Severity               string
	UpdatedAt              string
	Package                Package
	Advisory               Advisory
	VulnerableVersionRange string
	FirstPatchedVersion    FirstPatchedVersion
}

type Package struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
}

type FirstPatchedVersion struct {
	Identifier string `json:"identifier"`
}

type Advisory struct {
	GhsaId      string
	Summary     string
	Description string
	Severity    string
	PublishedAt string
	WithdrawnAt *string
	Identifiers []Identifier
	Cvss        CVSS
}

type Identifier struct {
	Type  string
	Value string
}

type CVSS struct {
	Score        float64
	VectorString string
}

// CVEID returns the first CVE alias of the advisory, or "".
func (a Advisory) CVEID() string {
	for _, id := range a.Identifiers {
		if id.Type == "CVE" {
			return id.Value
		}
	}
	return ""
}
