// Package redteam scans goals for prompt injection and personal data before
// they reach a playbook.
package redteam

import (
	"fmt"
	"regexp"

	"github.com/avaprime/spooky-logic/services"
)

// Category groups injection patterns
type Category string

const (
	CategoryInstructionOverride Category = "instruction_override"
	CategorySystemPromptLeak    Category = "system_prompt_leak"
	CategoryDataExfiltration    Category = "data_exfiltration"
	CategoryJailbreak           Category = "jailbreak"
)

// weightPerMatch is added to the risk score for every matching pattern
const weightPerMatch = 0.25

type pattern struct {
	category Category
	source   string
	re       *regexp.Regexp
}

var patterns = []pattern{
	newPattern(CategoryInstructionOverride, `ignore\s+previous\s+instructions`),
	newPattern(CategorySystemPromptLeak, `system\s*prompt`),
	newPattern(CategoryDataExfiltration, `exfiltrate|leak|steal`),
	newPattern(CategoryJailbreak, `disable\s+safety|jailbreak`),
}

func newPattern(category Category, source string) pattern {
	return pattern{category: category, source: source, re: regexp.MustCompile(`(?i)` + source)}
}

// Detection is one matching pattern and where it first matched
type Detection struct {
	Category Category `json:"category"`
	Pattern  string   `json:"pattern"`
	StartPos int      `json:"start"`
	EndPos   int      `json:"end"`
}

// Result is the outcome of a scan
type Result struct {
	RiskScore  float64     `json:"risk_score"`
	Matches    []string    `json:"matches"`
	Detections []Detection `json:"detections,omitempty"`
	PII        []PIIKind   `json:"pii,omitempty"`
}

// ScanRequest is the body of a scan call
type ScanRequest struct {
	Text string `json:"text" validate:"required"`
}

// Scan scores text at 0.25 per matching pattern, capped at 1
func Scan(text string) Result {
	result := Result{Matches: []string{}}
	for _, p := range patterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		result.Matches = append(result.Matches, p.source)
		result.Detections = append(result.Detections, Detection{
			Category: p.category,
			Pattern:  p.source,
			StartPos: loc[0],
			EndPos:   loc[1],
		})
		result.RiskScore += weightPerMatch
	}
	result.RiskScore = min(1.0, result.RiskScore)
	result.PII = piiKinds(FindPII(text))
	return result
}

// Guard rejects text whose risk score reaches maxRisk. A maxRisk of zero
// or less disables the gate.
func Guard(text string, maxRisk float64) (Result, error) {
	result := Scan(text)
	if maxRisk > 0 && result.RiskScore >= maxRisk {
		return result, services.NewDomainError(services.ErrorTypePolicyViolation,
			fmt.Sprintf("prompt injection detected (risk %.2f)", result.RiskScore), nil).
			WithDetail("matches", result.Matches)
	}
	return result, nil
}
