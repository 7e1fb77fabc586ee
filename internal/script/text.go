package script

import (
	"regexp"
	"strings"
)

// Regex patterns for text preparation.
const (
	placeholderRegexPattern = `\{\{\s*([^{}]+?)\s*\}\}`
	whitespaceRegexPattern  = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// PlaceholderLookup resolves a catalog placeholder token to the spoken name
// of the entry it refers to. The second return reports whether the token is
// known; unknown tokens are left in the text untouched.
type PlaceholderLookup func(token string) (string, bool)

// Preparer normalizes speech text before it reaches a provider. Patterns
// are compiled once and reused across items.
type Preparer struct {
	placeholderPattern  *regexp.Regexp
	whitespacePattern   *regexp.Regexp
	punctuationReplacer *strings.Replacer
}

// NewPreparer creates a preparer with compiled patterns and replacers.
func NewPreparer() *Preparer {
	return &Preparer{
		placeholderPattern: regexp.MustCompile(placeholderRegexPattern),
		whitespacePattern:  regexp.MustCompile(whitespaceRegexPattern),
		punctuationReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Prepare expands catalog placeholders and normalizes punctuation and
// whitespace. A nil lookup skips expansion.
func (p *Preparer) Prepare(text string, lookup PlaceholderLookup) string {
	expanded := p.expandPlaceholders(text, lookup)

	normalized := p.punctuationReplacer.Replace(expanded)

	return p.normalizeWhitespace(normalized)
}

// expandPlaceholders replaces {{token}} occurrences with the names the
// lookup resolves them to.
func (p *Preparer) expandPlaceholders(text string, lookup PlaceholderLookup) string {
	if lookup == nil {
		return text
	}

	return p.placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := p.placeholderPattern.FindStringSubmatch(match)[1]

		name, found := lookup(token)
		if !found {
			return match
		}

		return name
	})
}

func (p *Preparer) normalizeWhitespace(text string) string {
	collapsed := p.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(collapsed)
}
