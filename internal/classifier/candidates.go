package classifier

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var embeddedURL = regexp.MustCompile(`https?://[^\s"'<>\\]+`)

// ExtractCandidates walks an indirection body and returns every media URL it mentions.
// Bodies that are not valid JSON are scanned as plain text.
func ExtractCandidates(body []byte, p Policy) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		for _, m := range embeddedURL.FindAllString(s, -1) {
			m = strings.TrimRight(m, ".,;)]}")
			if seen[m] || !isMediaURL(m, p) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		add(string(body))
		return out
	}
	walk(doc, add)
	return out
}

func walk(v any, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case []any:
		for _, e := range t {
			walk(e, visit)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(t[k], visit)
		}
	}
}

func isMediaURL(s string, p Policy) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	_, ok := p.ExtensionRank[urlExt(s)]
	return ok
}

// Rank orders candidates best first: extension rank, then the policy tie-break.
func Rank(cands []string, p Policy) []string {
	ranked := append([]string(nil), cands...)
	prefer := p.Prefer
	if prefer == nil {
		prefer = PreferLonger
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := p.ExtensionRank[urlExt(ranked[i])], p.ExtensionRank[urlExt(ranked[j])]
		if ri != rj {
			return ri < rj
		}
		return prefer(ranked[i], ranked[j])
	})
	return ranked
}

func Best(cands []string, p Policy) (string, bool) {
	if len(cands) == 0 {
		return "", false
	}
	return Rank(cands, p)[0], true
}
