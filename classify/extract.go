package classify

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
)

// fencedBlock matches markdown code blocks; \x60 is a backtick.
var fencedBlock = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\x60\x60\x60")

var ErrNoVerdict = xerrors.New("no JSON object with cwe_category, explanation, vendor, cause and impact found")

// ExtractVerdict locates the verdict object in a free-text model answer.
// Fenced blocks are tried first, then every '{' of the whole answer in
// order; the first candidate that decodes and carries all verdict keys wins.
func ExtractVerdict(text string) (types.Verdict, error) {
	var candidates []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, text)

	for _, c := range candidates {
		for i := strings.IndexByte(c, '{'); i >= 0; {
			if v, ok := decodeVerdict(c[i:]); ok {
				return v, nil
			}
			next := strings.IndexByte(c[i+1:], '{')
			if next < 0 {
				break
			}
			i += next + 1
		}
	}
	return types.Verdict{}, ErrNoVerdict
}

// decodeVerdict decodes the first JSON value of s, ignoring trailing text.
func decodeVerdict(s string) (types.Verdict, bool) {
	var obj map[string]json.RawMessage
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&obj); err != nil {
		return types.Verdict{}, false
	}

	var v types.Verdict
	for _, field := range types.VerdictFields {
		raw, ok := obj[field]
		if !ok {
			return types.Verdict{}, false
		}
		v.Set(field, strings.TrimSpace(scalar(raw)))
	}
	return v, true
}

// scalar renders a JSON value as verdict text: strings unquoted, null empty,
// anything else compacted.
func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
