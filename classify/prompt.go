package classify

import "fmt"

const systemPrompt = "You are a security expert who classifies software vulnerabilities. Answer with a single JSON object and nothing else."

const promptTemplate = `Classify the following vulnerability description into a CWE category.

Description:
"""
%s
"""

Return a strict JSON object with exactly these keys:
{"cwe_category": "CWE-<id>", "explanation": "<brief explanation of the CWE>", "vendor": "<vendor>", "cause": "<root cause>", "impact": "<impact>"}

Rules for "vendor":
1. Return only the name of the primary organization that develops or maintains the affected product, not the product name.
2. Use the official organization name when it is known (for example "eProsima" rather than "eprosima inc").
3. Name the same vendor the same way every time.
4. Return "Unknown" if the vendor cannot be determined from the description.`

// BuildPrompt returns the classification prompt for description.
func BuildPrompt(description string) string {
	return fmt.Sprintf(promptTemplate, description)
}
