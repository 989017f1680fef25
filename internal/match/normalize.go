package match

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips diacritic marks: decompose, drop combining marks,
// recompose. "José" and "Jose" fold to the same key.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizePhone reduces a phone number to its digits. Formatting,
// extensions punctuation and whitespace never affect tier-1 matching.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FoldName lowercases and removes diacritics so tier-2 first-name matching
// is case- and accent-insensitive.
func FoldName(raw string) string {
	folded, _, err := transform.String(foldTransformer, strings.TrimSpace(raw))
	if err != nil {
		// Transform failures fall back to the raw string; a missed fold
		// costs a match, never a false one.
		folded = strings.TrimSpace(raw)
	}
	return strings.ToLower(folded)
}

// PhoneKey derives the one-way tier-1 match key. Empty when no digits.
func PhoneKey(phone string) string {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return ""
	}
	return digest("phone:" + normalized)
}

// NameDOBKey derives the one-way tier-2 match key from folded first name
// and exact date of birth. Empty unless both parts are present.
func NameDOBKey(firstName, dob string) string {
	folded := FoldName(firstName)
	if folded == "" || dob == "" {
		return ""
	}
	return digest("name_dob:" + folded + ":" + dob)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
