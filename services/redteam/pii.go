package redteam

import (
	"regexp"
	"sort"
	"strings"
)

// PIIKind is a class of personal data found in text
type PIIKind string

const (
	PIIEmail      PIIKind = "email"
	PIIPhone      PIIKind = "phone"
	PIISSN        PIIKind = "ssn"
	PIICreditCard PIIKind = "credit_card"
	PIIIPAddress  PIIKind = "ip_address"
)

// PIIMatch locates one piece of personal data. The value itself is not kept.
type PIIMatch struct {
	Kind     PIIKind `json:"kind"`
	StartPos int     `json:"start"`
	EndPos   int     `json:"end"`
}

type piiPattern struct {
	kind  PIIKind
	re    *regexp.Regexp
	valid func(string) bool
}

// checked in order; a later pattern never claims a span an earlier one matched
var piiPatterns = []piiPattern{
	{kind: PIIEmail, re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{kind: PIICreditCard, re: regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`), valid: luhn},
	{kind: PIISSN, re: regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), valid: plausibleSSN},
	{kind: PIIIPAddress, re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)},
	{kind: PIIPhone, re: regexp.MustCompile(`(?:\+?1[-. ]?)?\(?\b[0-9]{3}\)?[-. ]?[0-9]{3}[-. ][0-9]{4}\b`)},
}

// FindPII returns the non-overlapping personal data spans in text, ordered by
// position
func FindPII(text string) []PIIMatch {
	var found []PIIMatch
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.valid != nil && !p.valid(text[loc[0]:loc[1]]) {
				continue
			}
			if overlaps(found, loc[0], loc[1]) {
				continue
			}
			found = append(found, PIIMatch{Kind: p.kind, StartPos: loc[0], EndPos: loc[1]})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].StartPos < found[j].StartPos })
	return found
}

// Redact replaces every personal data span with a [KIND] marker
func Redact(text string) string {
	matches := FindPII(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.StartPos])
		b.WriteString("[" + strings.ToUpper(string(m.Kind)) + "]")
		last = m.EndPos
	}
	b.WriteString(text[last:])
	return b.String()
}

func piiKinds(matches []PIIMatch) []PIIKind {
	seen := make(map[PIIKind]bool)
	var kinds []PIIKind
	for _, m := range matches {
		if !seen[m.Kind] {
			seen[m.Kind] = true
			kinds = append(kinds, m.Kind)
		}
	}
	return kinds
}

func overlaps(found []PIIMatch, start, end int) bool {
	for _, f := range found {
		if start < f.EndPos && f.StartPos < end {
			return true
		}
	}
	return false
}

func plausibleSSN(s string) bool {
	digits := strings.ReplaceAll(s, "-", "")
	if digits[:3] == "000" || digits[3:5] == "00" || digits[5:] == "0000" {
		return false
	}
	return digits[0] != '9' && !strings.HasPrefix(digits, "666")
}

func luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
