package service

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
)

// RuleInput is the shared evaluation input handed to every detection rule
type RuleInput struct {
	// LetterText is the generated letter under scrutiny.
	LetterText string

	// SourceText is the case-insensitive (lowercased) concatenation of
	// transcript, user input and stringified document extraction values.
	// Absent source categories contribute an empty string.
	SourceText string

	// Anchors are pre-validated spans exempt from flagging.
	Anchors []domain.SourceAnchor

	// Values are the extracted clinical values; verified ones source
	// measurements on their own.
	Values []domain.ClinicalValue
}

// DetectionRule is one independent hallucination check. Rules accumulate
// flags; no rule's failure blocks another.
type DetectionRule struct {
	Name        string
	Description string
	Severity    domain.Severity
	Evaluate    func(input RuleInput) []domain.HallucinationFlag
}

// HallucinationDetector scans generated letters against source material and
// emits severity-tagged flags for statements not traceable to any source
type HallucinationDetector struct {
	logger *logrus.Logger
	rules  []*DetectionRule
}

// NewHallucinationDetector creates a detector with the standard rule set
func NewHallucinationDetector(logger *logrus.Logger) *HallucinationDetector {
	d := &HallucinationDetector{logger: logger}
	d.registerRules()
	return d
}

// registerRules installs the independent rule registry. Each rule is
// evaluated separately so they can be added, removed and unit-tested in
// isolation.
func (d *HallucinationDetector) registerRules() {
	d.rules = []*DetectionRule{
		newMeasurementRule(),
		newReferringDoctorRule(),
		newSpecificDateRule(),
		newVesselFindingRule(),
		newMedicationChangeRule(),
		newDeviceSizeRule(),
	}

	if d.logger != nil {
		d.logger.WithField("rule_count", len(d.rules)).Info("Initialized hallucination detection rules")
	}
}

// Rules exposes the registry for introspection and testing
func (d *HallucinationDetector) Rules() []*DetectionRule {
	return d.rules
}

// Detect evaluates every rule against the letter. Missing optional sources
// degrade to "no match"; an unexpected fault in one rule demotes to "no
// flags from this rule" rather than aborting the scan. The detector always
// emits flags with Dismissed=false and never sets dismissal metadata.
func (d *HallucinationDetector) Detect(ctx context.Context, letterText string, sources domain.SourceBundle, anchors []domain.SourceAnchor, values []domain.ClinicalValue) []domain.HallucinationFlag {
	input := RuleInput{
		LetterText: letterText,
		SourceText: buildSourceText(sources),
		Anchors:    anchors,
		Values:     values,
	}

	flags := make([]domain.HallucinationFlag, 0)
	for _, rule := range d.rules {
		select {
		case <-ctx.Done():
			return flags
		default:
		}

		ruleFlags := d.evaluateRule(rule, input)
		flags = append(flags, ruleFlags...)
	}

	for i := range flags {
		flags[i].ID = uuid.New().String()
		flags[i].Dismissed = false
	}

	sort.SliceStable(flags, func(i, j int) bool {
		return flags[i].StartIndex < flags[j].StartIndex
	})

	if d.logger != nil {
		d.logger.WithFields(logrus.Fields{
			"rules_run": len(d.rules),
			"flags":     len(flags),
		}).Info("Completed hallucination scan")
	}

	return flags
}

// evaluateRule runs a single rule with fault isolation
func (d *HallucinationDetector) evaluateRule(rule *DetectionRule, input RuleInput) (flags []domain.HallucinationFlag) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.WithFields(logrus.Fields{
					"rule":  rule.Name,
					"panic": r,
				}).Warn("Detection rule failed, continuing with remaining rules")
			}
			flags = nil
		}
	}()

	return rule.Evaluate(input)
}

// buildSourceText lowercases and concatenates every available source.
// Absent optional sources are treated as empty strings. Only extraction
// values count as source material; field keys are schema labels, not
// something the patient's record said.
func buildSourceText(sources domain.SourceBundle) string {
	var b strings.Builder
	b.WriteString(sources.Transcript)
	b.WriteString("\n")
	b.WriteString(sources.UserInput)
	for _, doc := range sources.Documents {
		for _, value := range doc.Fields {
			b.WriteString("\n")
			b.WriteString(value)
		}
	}
	return strings.ToLower(b.String())
}

// anchorCovers reports whether any pre-validated anchor text contains the
// given segment (case-insensitive)
func anchorCovers(anchors []domain.SourceAnchor, segment string) bool {
	needle := strings.ToLower(strings.TrimSpace(segment))
	if needle == "" {
		return false
	}
	for _, anchor := range anchors {
		if strings.Contains(strings.ToLower(anchor.Text), needle) {
			return true
		}
	}
	return false
}
