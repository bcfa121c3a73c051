package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/ghsa"
	"github.com/ddsvuln/vuln-dataset/nvd"
	"github.com/ddsvuln/vuln-dataset/vulners"
)

func fromNVD(payload interface{}) (fields, error) {
	v, ok := payload.(nvd.Vulnerability)
	if !ok {
		return fields{}, xerrors.Errorf("unexpected payload %T", payload)
	}

	f := fields{
		id:          v.CVE.ID,
		description: v.CVE.EnglishDescription(),
		published:   v.CVE.Published,
	}

	// v3.1 is preferred over v3.0, which is preferred over v2
	for _, metrics := range [][]nvd.CVSSMetric{v.CVE.Metrics.CVSSMetricV31, v.CVE.Metrics.CVSSMetricV30, v.CVE.Metrics.CVSSMetricV2} {
		for _, m := range metrics {
			if f.score == nil && m.CVSSData.BaseScore != nil {
				f.score = m.CVSSData.BaseScore
			}
			if f.severity == nil {
				if m.CVSSData.BaseSeverity != nil {
					f.severity = m.CVSSData.BaseSeverity
				} else if m.BaseSeverity != nil {
					f.severity = m.BaseSeverity
				}
			}
		}
	}
	return f, nil
}

func fromVulners(payload interface{}) (fields, error) {
	doc, ok := payload.(vulners.Document)
	if !ok {
		return fields{}, xerrors.Errorf("unexpected payload %T", payload)
	}

	b := doc.Source
	id := b.ID
	if id == "" {
		id = doc.ID
	}
	f := fields{
		id:          id,
		title:       b.Title,
		description: stripHTML(b.Description),
		published:   b.Published,
	}
	if b.CVSS3 != nil {
		f.score = b.CVSS3.CVSSV3.BaseScore
		f.severity = b.CVSS3.CVSSV3.BaseSeverity
	}
	if b.CVSS != nil {
		if f.score == nil {
			f.score = b.CVSS.Score
		}
		if f.severity == nil {
			f.severity = b.CVSS.Severity
		}
	}
	return f, nil
}

func fromGHSA(payload interface{}) (fields, error) {
	v, ok := payload.(ghsa.Vulnerability)
	if !ok {
		return fields{}, xerrors.Errorf("unexpected payload %T", payload)
	}

	a := v.Advisory
	id := a.CVEID()
	if id == "" {
		id = a.GhsaId
	}
	description := a.Description
	if strings.TrimSpace(description) == "" {
		description = a.Summary
	}
	f := fields{
		id:          id,
		title:       a.Summary,
		description: description,
		published:   a.PublishedAt,
	}
	if a.Cvss.Score > 0 {
		score := a.Cvss.Score
		f.score = &score
	}
	severity := a.Severity
	if severity == "" {
		severity = v.Severity
	}
	if severity != "" {
		f.severity = &severity
	}
	return f, nil
}

// stripHTML returns the text content of s when it contains markup.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
