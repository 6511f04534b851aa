package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
)

// Flag weights and level thresholds. A critical flag carries three times
// the weight of a warning; two criticals land exactly on the critical
// boundary (score 60).
const (
	criticalFlagWeight = 30
	warningFlagWeight  = 10
	maxRiskScore       = 100

	mediumRiskThreshold   = 1
	highRiskThreshold     = 40
	criticalRiskThreshold = 60
)

const noFlagsSentence = "No potential hallucinations detected. All clinical statements are sourced."

// HallucinationRiskScorer turns detection flags into a bounded risk score
// and an approve/reject recommendation for the reviewing physician
type HallucinationRiskScorer struct {
	logger *logrus.Logger
}

// NewHallucinationRiskScorer creates a new risk scorer
func NewHallucinationRiskScorer(logger *logrus.Logger) *HallucinationRiskScorer {
	return &HallucinationRiskScorer{logger: logger}
}

// GroupFlagsBySeverity partitions non-dismissed flags by severity.
// Dismissed flags are excluded from both groups.
func (s *HallucinationRiskScorer) GroupFlagsBySeverity(flags []domain.HallucinationFlag) domain.GroupedFlags {
	grouped := domain.GroupedFlags{
		Critical: []domain.HallucinationFlag{},
		Warning:  []domain.HallucinationFlag{},
	}
	for _, flag := range flags {
		if flag.Dismissed {
			continue
		}
		switch flag.Severity {
		case domain.SeverityCritical:
			grouped.Critical = append(grouped.Critical, flag)
		default:
			grouped.Warning = append(grouped.Warning, flag)
		}
	}
	return grouped
}

// CalculateHallucinationRisk computes the clamped risk score and level.
// Dismissed flags contribute nothing; adding a flag never lowers the score.
func (s *HallucinationRiskScorer) CalculateHallucinationRisk(flags []domain.HallucinationFlag) domain.RiskAssessment {
	grouped := s.GroupFlagsBySeverity(flags)

	score := criticalFlagWeight*len(grouped.Critical) + warningFlagWeight*len(grouped.Warning)
	if score > maxRiskScore {
		score = maxRiskScore
	}

	var level domain.RiskLevel
	switch {
	case score >= criticalRiskThreshold:
		level = domain.RiskCritical
	case score >= highRiskThreshold:
		level = domain.RiskHigh
	case score >= mediumRiskThreshold:
		level = domain.RiskMedium
	default:
		level = domain.RiskLow
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"score":    score,
			"level":    level,
			"critical": len(grouped.Critical),
			"warning":  len(grouped.Warning),
		}).Debug("Calculated hallucination risk")
	}

	return domain.RiskAssessment{
		Score:         score,
		Level:         level,
		CriticalCount: len(grouped.Critical),
		WarningCount:  len(grouped.Warning),
	}
}

// RecommendApproval maps the risk level to a send recommendation. High and
// critical risk block approval until flags are resolved or consciously
// dismissed with a recorded justification.
func (s *HallucinationRiskScorer) RecommendApproval(flags []domain.HallucinationFlag) domain.ApprovalRecommendation {
	assessment := s.CalculateHallucinationRisk(flags)

	switch assessment.Level {
	case domain.RiskLow:
		return domain.ApprovalRecommendation{
			ShouldApprove: true,
			Reason:        "No unresolved hallucination risk detected.",
		}
	case domain.RiskMedium:
		return domain.ApprovalRecommendation{
			ShouldApprove: true,
			Reason:        fmt.Sprintf("Risk score %d: moderate review recommended before sending.", assessment.Score),
			Instruction:   "Review each warning flag against the source material.",
		}
	case domain.RiskHigh:
		return domain.ApprovalRecommendation{
			ShouldApprove: false,
			Reason:        fmt.Sprintf("Risk score %d is high: unsourced clinical statements remain.", assessment.Score),
			Instruction:   "Resolve or dismiss the outstanding flags before resubmission.",
		}
	default:
		return domain.ApprovalRecommendation{
			ShouldApprove: false,
			Reason:        fmt.Sprintf("Risk score %d is critical: the letter contains unsourced critical findings.", assessment.Score),
			Instruction:   "Correct all critical flags before resubmission.",
		}
	}
}

// GenerateHallucinationReport renders the flags as a deterministic
// plain-text report for the reviewing physician
func (s *HallucinationRiskScorer) GenerateHallucinationReport(flags []domain.HallucinationFlag) string {
	grouped := s.GroupFlagsBySeverity(flags)

	if len(grouped.Critical) == 0 && len(grouped.Warning) == 0 {
		return noFlagsSentence
	}

	assessment := s.CalculateHallucinationRisk(flags)

	var b strings.Builder
	b.WriteString("Hallucination Check Report\n")
	b.WriteString("==========================\n")
	fmt.Fprintf(&b, "Risk Score: %d (%s)\n", assessment.Score, assessment.Level)

	fmt.Fprintf(&b, "\nCritical Flags (%d)\n", len(grouped.Critical))
	for _, flag := range grouped.Critical {
		fmt.Fprintf(&b, "  - %s\n    \"%s\"\n", flag.Reason, truncateSegment(flag.SegmentText, 80))
	}

	fmt.Fprintf(&b, "\nWarnings (%d)\n", len(grouped.Warning))
	for _, flag := range grouped.Warning {
		fmt.Fprintf(&b, "  - %s\n    \"%s\"\n", flag.Reason, truncateSegment(flag.SegmentText, 80))
	}

	return b.String()
}

// truncateSegment shortens flagged text to roughly limit characters
func truncateSegment(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
