package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"talent-graph/backend/internal/state"
)

// Key is the exact-match identity of a record, derived from its contact
// handles. It is computed on demand and never stored.
type Key struct {
	Email      string
	ProfileURL string
	ExternalID string
}

// IsZero reports whether the record carried no usable handle
func (k Key) IsZero() bool {
	return k.Email == "" && k.ProfileURL == "" && k.ExternalID == ""
}

// Components returns the index entries for the key, strongest first
func (k Key) Components() []string {
	var out []string
	if k.Email != "" {
		out = append(out, "email:"+k.Email)
	}
	if k.ProfileURL != "" {
		out = append(out, "url:"+k.ProfileURL)
	}
	if k.ExternalID != "" {
		out = append(out, "ext:"+k.ExternalID)
	}
	return out
}

// String renders the key for logs
func (k Key) String() string {
	if k.IsZero() {
		return "<no handles>"
	}
	return strings.Join(k.Components(), "|")
}

// KeyFor derives the identity key of a record
func KeyFor(r state.Record) Key {
	return Key{
		Email:      NormalizeEmail(r.Email),
		ProfileURL: NormalizeProfileURL(r.ProfileURL),
		ExternalID: strings.ToLower(strings.TrimSpace(r.ExternalID)),
	}
}

// KeyOf derives the identity key of an already-canonical person
func KeyOf(p state.Person) Key {
	return Key{
		Email:      NormalizeEmail(p.Email),
		ProfileURL: NormalizeProfileURL(p.ProfileURL),
		ExternalID: strings.ToLower(strings.TrimSpace(p.ExternalID)),
	}
}

// Fingerprint identifies a handle-less record by its normalised content so
// that re-ingesting the same record stays idempotent.
func Fingerprint(r state.Record) string {
	parts := []string{
		strings.ToLower(CleanName(r.Name)),
		strings.ToLower(strings.TrimSpace(r.Organization)),
		strings.ToLower(strings.Join(strings.Fields(r.Headline), " ")),
		strings.ToLower(strings.TrimSpace(r.Location)),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "\x1f")))
	return "fp:" + hex.EncodeToString(sum[:])
}

// NormalizeEmail lower-cases and validates an address; invalid input yields ""
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	email = strings.TrimPrefix(email, "mailto:")
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ""
	}
	if strings.ContainsAny(email, " \t,;") {
		return ""
	}
	return email
}

// NormalizeProfileURL strips scheme, www, query, fragment and trailing
// slashes and lower-cases the remainder.
func NormalizeProfileURL(url string) string {
	url = strings.ToLower(strings.TrimSpace(url))
	if url == "" {
		return ""
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "www.")
	url = strings.TrimRight(url, "/")
	return url
}

// CleanName removes punctuation other than hyphens and apostrophes and
// collapses whitespace.
func CleanName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r), r == '-', r == '\'':
			return r
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(cleaned), " ")
}

var indelParams = levenshtein.NewParams().SubCost(2)

// Ratio is the character-level similarity of two strings on a 0..100 scale,
// computed case-insensitively as (len(a)+len(b)-indel distance)/(len(a)+len(b)).
func Ratio(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}
	dist := levenshtein.Distance(a, b, indelParams)
	return 100 * float64(total-dist) / float64(total)
}
