package override

import (
	"strings"
	"unicode"
)

const (
	legacyDelimiter = "-"
	strictDelimiter = "_"
	// hashSuffixLen is the number of fingerprint hex characters in a plan name.
	hashSuffixLen = 12
)

// Options configures the registry.
type Options struct {
	// UseStrictOverridePattern selects the REC-xml-names compliant encoding
	// of generated override plan names. The default keeps the legacy "-"
	// delimiter.
	UseStrictOverridePattern bool
}

// Pattern encodes and decodes override plan names. It only affects the
// generated identifier, never the resolved price.
type Pattern struct {
	strict bool
}

// NewPattern returns the legacy or strict naming pattern.
func NewPattern(strict bool) Pattern {
	return Pattern{strict: strict}
}

// Strict reports whether the REC-xml-names compliant encoding is used.
func (p Pattern) Strict() bool {
	return p.strict
}

// Delimiter separates the base plan name from the fingerprint suffix.
func (p Pattern) Delimiter() string {
	if p.strict {
		return strictDelimiter
	}
	return legacyDelimiter
}

// PlanName derives the override plan name for a base plan and fingerprint.
func (p Pattern) PlanName(basePlan, fingerprint string) string {
	suffix := fingerprint
	if len(suffix) > hashSuffixLen {
		suffix = suffix[:hashSuffixLen]
	}
	base := basePlan
	if p.strict {
		base = xmlName(basePlan)
	}
	return base + p.Delimiter() + suffix
}

// Parse splits an override plan name into its base plan part and fingerprint
// suffix. ok is false when name was not produced by this pattern. With the
// strict pattern the returned base is the encoded one.
func (p Pattern) Parse(name string) (basePlan, suffix string, ok bool) {
	i := strings.LastIndex(name, p.Delimiter())
	if i <= 0 {
		return "", "", false
	}
	suffix = name[i+len(p.Delimiter()):]
	if len(suffix) != hashSuffixLen || !isLowerHex(suffix) {
		return "", "", false
	}
	return name[:i], suffix, true
}

// xmlName rewrites s so that it is a valid XML 1.0 Name: characters outside
// the NameChar set become "_" and a leading non-NameStartChar gets a "_" prefix.
func xmlName(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 1)
	for i, r := range s {
		if i == 0 && !isNameStartChar(r) {
			b.WriteString("_")
			if isNameChar(r) {
				b.WriteRune(r)
			}
			continue
		}
		if isNameChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteString("_")
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func isNameStartChar(r rune) bool {
	return r == '_' || r == ':' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return isNameStartChar(r) || r == '-' || r == '.' || unicode.IsDigit(r)
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
