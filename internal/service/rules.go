package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/letter-verify-server/internal/domain"
)

// The standard detection rules. Each is self-contained: it scans the letter
// for its statement shape, checks traceability against sources, anchors or
// verified values, and emits flags for the rest.

var (
	measurementPattern = regexp.MustCompile(`(?i)\b([a-z][a-z /]{2,30}?)\s+(?:of|was|is|at|measured(?:\s+at)?|:)\s+(\d+(?:\.\d+)?)\s*(%|mmhg|mmol/l|g/l|mg|mcg|ml|kg|bpm|cm|mm|kpa)?`)

	doctorPattern = regexp.MustCompile(`\bDr\.?\s+([A-Z][A-Za-z'-]+)`)

	isoDatePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDatePattern = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	longDatePattern  = regexp.MustCompile(`(?i)\b(?:(\d{1,2})(?:st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)|(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?),?\s+(\d{4})\b`)

	vesselPattern = regexp.MustCompile(`(?i)\b(LAD|LCx|RCA|LMCA|LIMA|ramus(?:\s+intermedius)?|obtuse\s+marginal|diagonal|left\s+anterior\s+descending|left\s+circumflex|circumflex|right\s+coronary(?:\s+artery)?|left\s+main|posterior\s+descending)\b[^.!?]*?\b(\d{1,3})\s*%\s*(?:stenosis|occlusion|narrowing|lesion|disease|stenosed)`)

	medChangePattern = regexp.MustCompile(`(?i)\b(start(?:ed|ing)?|commenc(?:e|ed|ing)|stop(?:ped|ping)?|cease(?:d|s)?|discontinu(?:e|ed|ing)|withh?(?:o|e)ld(?:ing)?|increas(?:e|ed|ing)|decreas(?:e|ed|ing)|reduc(?:e|ed|ing)|uptitrat(?:e|ed)|wean(?:ed|ing)?)\s+(?:the\s+|on\s+|his\s+|her\s+|their\s+)?([A-Za-z]{4,})(\s+(?:to\s+|at\s+)?\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?)\b)?`)

	deviceAfterPattern  = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?\s*(?:x|×)\s*\d+(?:\.\d+)?\s*mm)[^.!?]*?\b(stent|balloon|graft|valve|lead|pacemaker|device)s?\b`)
	deviceBeforePattern = regexp.MustCompile(`(?i)\b(stent|balloon|graft|valve|lead|pacemaker|device)s?\b[^.!?]*?\b(\d+(?:\.\d+)?\s*(?:x|×)\s*\d+(?:\.\d+)?\s*mm)\b`)
)

// medChangeStopwords are verb objects that are not medication names
var medChangeStopwords = map[string]bool{
	"taking": true, "dose": true, "doses": true, "therapy": true,
	"treatment": true, "medication": true, "medications": true,
	"patient": true, "with": true, "this": true, "that": true,
	"smoking": true, "drinking": true, "exercise": true, "work": true,
	"driving": true, "walking": true,
}

// newMeasurementRule flags name+value(+unit) statements absent from all
// source text and not covered by a verified clinical value
func newMeasurementRule() *DetectionRule {
	return &DetectionRule{
		Name:        "unsourced_measurement",
		Description: "Measurement not present in any source or verified clinical value",
		Severity:    domain.SeverityWarning,
		Evaluate: func(input RuleInput) []domain.HallucinationFlag {
			var flags []domain.HallucinationFlag
			for _, m := range measurementPattern.FindAllStringSubmatchIndex(input.LetterText, -1) {
				segment := input.LetterText[m[0]:m[1]]
				name := strings.TrimSpace(input.LetterText[m[2]:m[3]])
				value := input.LetterText[m[4]:m[5]]

				if sourceContainsMeasurement(input.SourceText, name, value) {
					continue
				}
				if verifiedValueMatches(input.Values, name, value) {
					continue
				}
				flags = append(flags, domain.HallucinationFlag{
					SegmentText: segment,
					StartIndex:  m[0],
					EndIndex:    m[1],
					Reason:      fmt.Sprintf("Unsourced measurement: '%s %s' does not appear in any source material", name, value),
					Severity:    domain.SeverityWarning,
				})
			}
			return flags
		},
	}
}

// newReferringDoctorRule flags doctor names in greeting or signature that
// appear in no source
func newReferringDoctorRule() *DetectionRule {
	return &DetectionRule{
		Name:        "unknown_referring_doctor",
		Description: "Doctor name not mentioned in any source",
		Severity:    domain.SeverityWarning,
		Evaluate: func(input RuleInput) []domain.HallucinationFlag {
			var flags []domain.HallucinationFlag
			seen := map[string]bool{}
			for _, m := range doctorPattern.FindAllStringSubmatchIndex(input.LetterText, -1) {
				surname := input.LetterText[m[2]:m[3]]
				key := strings.ToLower(surname)
				if seen[key] {
					continue
				}
				seen[key] = true

				if strings.Contains(input.SourceText, key) {
					continue
				}
				flags = append(flags, domain.HallucinationFlag{
					SegmentText: input.LetterText[m[0]:m[1]],
					StartIndex:  m[0],
					EndIndex:    m[1],
					Reason:      fmt.Sprintf("Unknown referring doctor: 'Dr %s' does not appear in any source material", surname),
					Severity:    domain.SeverityWarning,
				})
			}
			return flags
		},
	}
}

// newSpecificDateRule flags calendar dates absent from all sources. Literal
// and normalized comparisons both count as sourcing, so "12 March 2024" in
// a source covers "2024-03-12" in the letter.
func newSpecificDateRule() *DetectionRule {
	return &DetectionRule{
		Name:        "unsourced_specific_date",
		Description: "Calendar date not present in any source",
		Severity:    domain.SeverityWarning,
		Evaluate: func(input RuleInput) []domain.HallucinationFlag {
			sourceDates := normalizedDates(input.SourceText)

			var flags []domain.HallucinationFlag
			for _, match := range findDates(input.LetterText) {
				literal := strings.ToLower(match.text)
				if strings.Contains(input.SourceText, literal) {
					continue
				}
				if anyDateSourced(match.normalized, sourceDates) {
					continue
				}
				flags = append(flags, domain.HallucinationFlag{
					SegmentText: match.text,
					StartIndex:  match.start,
					EndIndex:    match.end,
					Reason:      fmt.Sprintf("Unsourced specific date: '%s' does not appear in any source material", match.text),
					Severity:    domain.SeverityWarning,
				})
			}
			return flags
		},
	}
}

// newVesselFindingRule flags named coronary vessels paired with a stenosis
// percentage when no source anchor or source text backs the finding
func newVesselFindingRule() *DetectionRule {
	return &DetectionRule{
		Name:        "unsourced_vessel_finding",
		Description: "Coronary vessel finding with no matching source anchor",
		Severity:    domain.SeverityCritical,
		Evaluate: func(input RuleInput) []domain.HallucinationFlag {
			var flags []domain.HallucinationFlag
			for _, m := range vesselPattern.FindAllStringSubmatchIndex(input.LetterText, -1) {
				segment := input.LetterText[m[0]:m[1]]
				vessel := input.LetterText[m[2]:m[3]]
				percent := input.LetterText[m[4]:m[5]]

				if anchorCovers(input.Anchors, segment) || anchorCoversFinding(input.Anchors, vessel, percent) {
					continue
				}
				if sourceContainsFinding(input.SourceText, vessel, percent) {
					continue
				}
				flags = append(flags, domain.HallucinationFlag{
					SegmentText: segment,
					StartIndex:  m[0],
					EndIndex:    m[1],
					Reason:      fmt.Sprintf("Unsourced vessel finding: '%s %s%%' has no matching source anchor", vessel, percent),
					Severity:    domain.SeverityCritical,
				})
			}
			return flags
		},
	}
}

// newMedicationChangeRule flags start/stop/dose statements whose medication
// appears in no source
func newMedicationChangeRule() *DetectionRule {
	return &DetectionRule{
		Name:        "unsourced_medication_change",
		Description: "Medication change not present in any source",
		Severity:    domain.SeverityWarning,
		Evaluate: func(input RuleInput) []domain.HallucinationFlag {
			var flags []domain.HallucinationFlag
			for _, m := range medChangePattern.FindAllStringSubmatchIndex(input.LetterText, -1) {
				medication := input.LetterText[m[4]:m[5]]
				key := strings.ToLower(medication)
				if medChangeStopwords[key] {
					continue
				}
				if strings.Contains(input.SourceText, key) {
					continue
				}
				segment := input.LetterText[m[0]:m[1]]
				flags = append(flags, domain.HallucinationFlag{
					SegmentText: segment,
					StartIndex:  m[0],
					EndIndex:    m[1],
					Reason:      fmt.Sprintf("Unsourced medication change: '%s' does not appear in any source material", medication),
					Severity:    domain.SeverityWarning,
				})
			}
			return flags
		},
	}
}

// newDeviceSizeRule flags device dimension specifications with no matching
// source anchor
func newDeviceSizeRule() *DetectionRule {
	return &DetectionRule{
		Name:        "unsourced_device_size",
		Description: "Device or stent size with no matching source anchor",
		Severity:    domain.SeverityCritical,
		Evaluate: func(input RuleInput) []domain.HallucinationFlag {
			var flags []domain.HallucinationFlag
			emit := func(start, end int, size string) {
				segment := input.LetterText[start:end]
				if anchorCovers(input.Anchors, segment) || anchorCovers(input.Anchors, size) {
					return
				}
				if strings.Contains(normalizeSpacing(input.SourceText), normalizeSpacing(strings.ToLower(size))) {
					return
				}
				flags = append(flags, domain.HallucinationFlag{
					SegmentText: segment,
					StartIndex:  start,
					EndIndex:    end,
					Reason:      fmt.Sprintf("Unsourced device size: '%s' has no matching source anchor", size),
					Severity:    domain.SeverityCritical,
				})
			}

			for _, m := range deviceAfterPattern.FindAllStringSubmatchIndex(input.LetterText, -1) {
				emit(m[0], m[1], input.LetterText[m[2]:m[3]])
			}
			for _, m := range deviceBeforePattern.FindAllStringSubmatchIndex(input.LetterText, -1) {
				emit(m[0], m[1], input.LetterText[m[4]:m[5]])
			}
			return flags
		},
	}
}

// Rule helpers

// measurementWindow is how far (in bytes) a measurement name may sit from
// its value in source text and still count as the same statement
const measurementWindow = 80

// measurementNameWords extracts the distinctive words of a measurement name
func measurementNameWords(name string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if len(w) >= 3 && !medChangeStopwords[w] &&
			w != "the" && w != "his" && w != "her" && w != "and" && w != "was" {
			words = append(words, w)
		}
	}
	return words
}

// sourceContainsMeasurement looks for the value with a word of the
// measurement name nearby. A bare number elsewhere in the sources (an age,
// a different metric) does not source the measurement.
func sourceContainsMeasurement(sourceText, name, value string) bool {
	if sourceText == "" {
		return false
	}
	words := measurementNameWords(name)
	if len(words) == 0 {
		return strings.Contains(sourceText, value)
	}

	offset := 0
	for {
		i := strings.Index(sourceText[offset:], value)
		if i < 0 {
			return false
		}
		pos := offset + i

		start := pos - measurementWindow
		if start < 0 {
			start = 0
		}
		end := pos + len(value) + measurementWindow
		if end > len(sourceText) {
			end = len(sourceText)
		}

		window := sourceText[start:end]
		for _, w := range words {
			if strings.Contains(window, w) {
				return true
			}
		}
		offset = pos + len(value)
	}
}

// verifiedValueMatches reports whether a verified clinical value covers the
// measurement: same value, and the names overlap in either direction
func verifiedValueMatches(values []domain.ClinicalValue, name, value string) bool {
	lowerName := strings.ToLower(name)
	for _, v := range values {
		if !v.Verified || v.Value != value {
			continue
		}
		vName := strings.ToLower(v.Name)
		if strings.Contains(lowerName, vName) || strings.Contains(vName, lowerName) {
			return true
		}
	}
	return false
}

// sourceContainsFinding checks for the vessel and percentage in the source
// text, tolerating a space before the percent sign
func sourceContainsFinding(sourceText, vessel, percent string) bool {
	if sourceText == "" {
		return false
	}
	if !strings.Contains(sourceText, strings.ToLower(normalizeSpacing(vessel))) {
		return false
	}
	return strings.Contains(sourceText, percent+"%") || strings.Contains(sourceText, percent+" %")
}

// anchorCoversFinding reports whether one anchor mentions both the vessel
// and the percentage
func anchorCoversFinding(anchors []domain.SourceAnchor, vessel, percent string) bool {
	v := strings.ToLower(normalizeSpacing(vessel))
	for _, anchor := range anchors {
		text := strings.ToLower(anchor.Text)
		if strings.Contains(text, v) &&
			(strings.Contains(text, percent+"%") || strings.Contains(text, percent+" %")) {
			return true
		}
	}
	return false
}

func normalizeSpacing(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Date matching

type dateMatch struct {
	text       string
	start, end int
	normalized []string // candidate YYYY-MM-DD renderings
}

var monthNumbers = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// findDates locates calendar dates in text and computes their candidate
// normalizations. Slash dates are ambiguous between DD/MM and MM/DD, so
// both candidates are kept.
func findDates(text string) []dateMatch {
	var matches []dateMatch

	for _, m := range isoDatePattern.FindAllStringIndex(text, -1) {
		literal := text[m[0]:m[1]]
		matches = append(matches, dateMatch{
			text: literal, start: m[0], end: m[1],
			normalized: []string{literal},
		})
	}

	for _, m := range slashDatePattern.FindAllStringIndex(text, -1) {
		literal := text[m[0]:m[1]]
		matches = append(matches, dateMatch{
			text: literal, start: m[0], end: m[1],
			normalized: slashDateCandidates(literal),
		})
	}

	for _, m := range longDatePattern.FindAllStringSubmatchIndex(text, -1) {
		literal := text[m[0]:m[1]]
		var day, month, year string
		if m[2] >= 0 { // "12 March 2024"
			day, month = text[m[2]:m[3]], text[m[4]:m[5]]
		} else { // "March 12, 2024"
			month, day = text[m[6]:m[7]], text[m[8]:m[9]]
		}
		year = text[m[10]:m[11]]
		matches = append(matches, dateMatch{
			text: literal, start: m[0], end: m[1],
			normalized: longDateCandidate(day, month, year),
		})
	}

	return matches
}

func slashDateCandidates(literal string) []string {
	parts := strings.Split(literal, "/")
	if len(parts) != 3 {
		return nil
	}
	var candidates []string
	if t, err := time.Parse("2/1/2006", literal); err == nil {
		candidates = append(candidates, t.Format("2006-01-02"))
	}
	if t, err := time.Parse("1/2/2006", literal); err == nil {
		iso := t.Format("2006-01-02")
		if len(candidates) == 0 || candidates[0] != iso {
			candidates = append(candidates, iso)
		}
	}
	return candidates
}

func longDateCandidate(day, month, year string) []string {
	m, ok := monthNumbers[strings.ToLower(month)]
	if !ok {
		return nil
	}
	t, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%d-%s", year, int(m), day))
	if err != nil {
		return nil
	}
	return []string{t.Format("2006-01-02")}
}

// normalizedDates collects the normalized candidates of every date found in
// the (already lowercased) source text
func normalizedDates(sourceText string) map[string]bool {
	set := map[string]bool{}
	for _, match := range findDates(sourceText) {
		for _, iso := range match.normalized {
			set[iso] = true
		}
	}
	return set
}

func anyDateSourced(candidates []string, sourceDates map[string]bool) bool {
	for _, c := range candidates {
		if sourceDates[c] {
			return true
		}
	}
	return false
}
