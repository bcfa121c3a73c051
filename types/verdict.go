package types

// Verdict is the five-field classification of a vulnerability description.
type Verdict struct {
	CWECategory string `json:"cwe_category"`
	Explanation string `json:"explanation"`
	Vendor      string `json:"vendor"`
	Cause       string `json:"cause"`
	Impact      string `json:"impact"`

	// Failed marks a sentinel produced for a failed or unparsable answer.
	// Explanation then holds the failure reason rather than an answer.
	Failed bool `json:"-"`
}

// SentinelVerdict is returned whenever a provider cannot produce an answer.
func SentinelVerdict(reason string) Verdict {
	return Verdict{
		CWECategory: UnknownCWE,
		Explanation: reason,
		Vendor:      UnknownVendor,
		Failed:      true,
	}
}

// Field names, in the order they are voted and exported.
const (
	FieldCWECategory = "cwe_category"
	FieldExplanation = "explanation"
	FieldVendor      = "vendor"
	FieldCause       = "cause"
	FieldImpact      = "impact"
)

var VerdictFields = []string{FieldCWECategory, FieldExplanation, FieldVendor, FieldCause, FieldImpact}

// Get returns the value of the named field.
func (v Verdict) Get(field string) string {
	switch field {
	case FieldCWECategory:
		return v.CWECategory
	case FieldExplanation:
		return v.Explanation
	case FieldVendor:
		return v.Vendor
	case FieldCause:
		return v.Cause
	case FieldImpact:
		return v.Impact
	}
	return ""
}

// Set assigns the named field. Unknown field names are ignored.
func (v *Verdict) Set(field, value string) {
	switch field {
	case FieldCWECategory:
		v.CWECategory = value
	case FieldExplanation:
		v.Explanation = value
	case FieldVendor:
		v.Vendor = value
	case FieldCause:
		v.Cause = value
	case FieldImpact:
		v.Impact = value
	}
}

// UnknownValue returns the sentinel value used when a field has no answer.
func UnknownValue(field string) string {
	if field == FieldCWECategory {
		return UnknownCWE
	}
	return Unknown
}
