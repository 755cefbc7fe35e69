// Package signals turns free text found on person records (headlines,
// titles, locations) into structured signals. Every heuristic lives in one
// of the mapping tables below so it can be reviewed and tested in isolation.
package signals

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SkillKeywords maps a lower-case keyword as it appears in free text to the
// canonical skill tag it implies.
var SkillKeywords = map[string]string{
	"python":              "Python",
	"java":                "Java",
	"golang":              "Go",
	"go":                  "Go",
	"node.js":             "Node.js",
	"nodejs":              "Node.js",
	"kubernetes":          "Kubernetes",
	"k8s":                 "Kubernetes",
	"docker":              "Docker",
	"microservices":       "Microservices",
	"react":               "React",
	"angular":             "Angular",
	"vue":                 "Vue.js",
	"vue.js":              "Vue.js",
	"typescript":          "TypeScript",
	"javascript":          "JavaScript",
	"next.js":             "Next.js",
	"aws":                 "AWS",
	"azure":               "Azure",
	"gcp":                 "GCP",
	"terraform":           "Terraform",
	"jenkins":             "Jenkins",
	"ci/cd":               "CI/CD",
	"ansible":             "Ansible",
	"machine learning":    "Machine Learning",
	"ml":                  "Machine Learning",
	"data science":        "Data Science",
	"sql":                 "SQL",
	"spark":               "Spark",
	"kafka":               "Kafka",
	"airflow":             "Airflow",
	"cybersecurity":       "Cybersecurity",
	"siem":                "SIEM",
	"penetration testing": "Penetration Testing",
	"cloud security":      "Cloud Security",
}

// LocationAliases maps a lower-case location fragment to its canonical name.
// Longer fragments are tried first.
var LocationAliases = map[string]string{
	"tel aviv":  "Tel Aviv",
	"tel-aviv":  "Tel Aviv",
	"tlv":       "Tel Aviv",
	"תל אביב":   "Tel Aviv",
	"jerusalem": "Jerusalem",
	"ירושלים":   "Jerusalem",
	"haifa":     "Haifa",
	"חיפה":      "Haifa",
	"herzliya":  "Herzliya",
	"raanana":   "Ra'anana",
	"ra'anana":  "Ra'anana",
	"netanya":   "Netanya",
	"israel":    "Israel",
	"ישראל":     "Israel",
}

// SeniorityLadder is checked top to bottom; the first level with a matching
// keyword wins.
var SeniorityLadder = []struct {
	Level    string
	Keywords []string
}{
	{"executive", []string{"cto", "vp", "vice president", "chief"}},
	{"director", []string{"director", "head of"}},
	{"principal", []string{"principal", "staff", "architect"}},
	{"senior", []string{"senior", "lead"}},
	{"junior", []string{"junior", "entry"}},
}

var keywordPatterns = compileKeywords()

func compileKeywords() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(SkillKeywords))
	for kw := range SkillKeywords {
		out[kw] = regexp.MustCompile(`(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(kw) + `($|[^\p{L}\p{N}])`)
	}
	return out
}

// ExtractSkills returns the canonical skills mentioned in text, sorted
func ExtractSkills(text string) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	found := make(map[string]bool)
	for kw, re := range keywordPatterns {
		if re.MatchString(lower) {
			found[SkillKeywords[kw]] = true
		}
	}
	out := make([]string, 0, len(found))
	for s := range found {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NormalizeLocation maps a free-text location to a canonical name. Unknown
// locations are returned trimmed; empty input yields "".
func NormalizeLocation(text string) string {
	trimmed := strings.Join(strings.Fields(text), " ")
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	aliases := make([]string, 0, len(LocationAliases))
	for alias := range LocationAliases {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})
	for _, alias := range aliases {
		if strings.Contains(lower, alias) {
			return LocationAliases[alias]
		}
	}
	return trimmed
}

// OrganizationFromHeadline pulls the employer out of "Title at Org" or
// "Title @ Org" headlines. Returns "" when no separator is present.
func OrganizationFromHeadline(headline string) string {
	lower := strings.ToLower(headline)
	for _, sep := range []string{" at ", " @ "} {
		if i := strings.LastIndex(lower, sep); i >= 0 {
			org := headline[i+len(sep):]
			if j := strings.IndexAny(org, "|,·"); j >= 0 {
				org = org[:j]
			}
			return strings.TrimSpace(org)
		}
	}
	return ""
}

// Seniority classifies a title or headline
func Seniority(title string) string {
	lower := strings.ToLower(title)
	if strings.TrimSpace(lower) == "" {
		return "unknown"
	}
	for _, rung := range SeniorityLadder {
		for _, kw := range rung.Keywords {
			if containsWord(lower, kw) {
				return rung.Level
			}
		}
	}
	return "mid-level"
}

// Tags derives descriptive labels from a person's attributes.
// preferred reports whether the organization is on the target list.
func Tags(headline, location string, degree int, preferred bool) []string {
	var tags []string
	switch Seniority(headline) {
	case "executive", "director":
		tags = append(tags, "leadership")
	case "principal", "senior":
		tags = append(tags, "senior")
	case "junior":
		tags = append(tags, "junior")
	}
	if preferred {
		tags = append(tags, "preferred_company")
	}
	switch NormalizeLocation(location) {
	case "Tel Aviv":
		tags = append(tags, "tel_aviv")
	}
	tags = append(tags, fmt.Sprintf("degree_%d", degree))
	return tags
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		before := start == 0 || !isWordByte(text[start-1])
		after := end == len(text) || !isWordByte(text[end])
		if before && after {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
