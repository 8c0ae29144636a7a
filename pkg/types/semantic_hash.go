package types

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// semanticHashBodyLimit bounds how much of the body participates in the hash
const semanticHashBodyLimit = 500

var (
	nonWordPattern  = regexp.MustCompile(`\W+`)
	hexHashPattern  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	whitespaceSplit = regexp.MustCompile(`\s+`)
)

// NormalizeForHash canonicalizes free text for fingerprinting: NFKC fold,
// lowercase, non-word characters to spaces, collapsed whitespace, tokens of
// length <= 2 dropped, remaining tokens sorted and joined by single spaces.
func NormalizeForHash(text string) string {
	folded := norm.NFKC.String(text)
	lowered := strings.ToLower(folded)
	spaced := nonWordPattern.ReplaceAllString(lowered, " ")
	tokens := whitespaceSplit.Split(strings.TrimSpace(spaced), -1)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) > 2 {
			kept = append(kept, tok)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, " ")
}

// ComputeSemanticHash fingerprints an object from its title, the first 500
// characters of its body, and its keywords. Keyword order does not affect
// the result. Returns 64 lowercase hex characters.
func ComputeSemanticHash(title, body string, keywords []string) string {
	truncated := body
	if len(truncated) > semanticHashBodyLimit {
		truncated = truncated[:semanticHashBodyLimit]
	}

	sorted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		sorted = append(sorted, strings.ToLower(kw))
	}
	sort.Strings(sorted)

	input := NormalizeForHash(title) + " | " + NormalizeForHash(truncated) + " | " + strings.Join(sorted, " ")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:64]
}

// SemanticHashFor computes the fingerprint of a canonical object from its
// own title, body, and properties.keywords.
func SemanticHashFor(obj *CanonicalObject) string {
	return ComputeSemanticHash(obj.Title, obj.Body, obj.Keywords())
}

// ValidSemanticHash reports whether h is a well-formed 64-hex fingerprint
func ValidSemanticHash(h string) bool {
	return hexHashPattern.MatchString(h)
}
