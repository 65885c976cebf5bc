// Package supplychain scores artifacts and drives the cosign and rekor CLIs.
package supplychain

import (
	"math"
	"strings"
)

// ScoreRequest lists the supply chain evidence collected for an artifact
type ScoreRequest struct {
	SBOMOK          bool   `json:"sbom_ok"`
	ProvenanceOK    bool   `json:"provenance_ok"`
	CosignOK        bool   `json:"cosign_ok"`
	RekorOK         bool   `json:"rekor_ok"`
	MaxVulnSeverity string `json:"max_vuln_severity" validate:"max=16"`
}

// Scorecard is the computed score and tier
type Scorecard struct {
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`
}

var severityPenalty = map[string]float64{
	"NONE":     0,
	"LOW":      0.05,
	"MEDIUM":   0.10,
	"HIGH":     0.20,
	"CRITICAL": 0.35,
}

const unknownSeverityPenalty = 0.20

// Score weighs the evidence and subtracts the vulnerability penalty.
// Severities are matched case-insensitively; anything unrecognized,
// including an empty severity, is penalized like HIGH.
func Score(req ScoreRequest) float64 {
	score := 0.0
	if req.SBOMOK {
		score += 0.25
	}
	if req.ProvenanceOK {
		score += 0.25
	}
	if req.CosignOK {
		score += 0.25
	}
	if req.RekorOK {
		score += 0.15
	}

	penalty, ok := severityPenalty[strings.ToUpper(req.MaxVulnSeverity)]
	if !ok {
		penalty = unknownSeverityPenalty
	}

	score = math.Max(0, math.Min(1, score-penalty))
	return math.Round(score*1000) / 1000
}

// Tier maps a score to A, B, C or D
func Tier(score float64) string {
	switch {
	case score >= 0.85:
		return "A"
	case score >= 0.70:
		return "B"
	case score >= 0.50:
		return "C"
	default:
		return "D"
	}
}

// Evaluate scores and tiers the evidence
func Evaluate(req ScoreRequest) Scorecard {
	s := Score(req)
	return Scorecard{Score: s, Tier: Tier(s)}
}
