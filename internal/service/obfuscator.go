package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
)

// PHI field names used for tokens and leak reporting
const (
	FieldName     = "patient_name"
	FieldDOB      = "date_of_birth"
	FieldMedicare = "medicare_number"
	FieldGender   = "gender"
	FieldAddress  = "address"
	FieldPhone    = "phone_number"
	FieldEmail    = "email"
)

// PHIObfuscator replaces identifying substrings with placeholder tokens
// before text is sent to any third-party model, logger or error tracker,
// and reverses the substitution on the way back.
//
// Tokens are deterministic in (sessionID, field): repeated calls within one
// session yield identical tokens, so the AI sees a stable context and
// debugging stays reproducible. The codec holds no per-session state; the
// caller owns the returned map.
type PHIObfuscator struct {
	logger       *logrus.Logger
	phonePattern *regexp.Regexp
}

// NewPHIObfuscator creates a new PHI obfuscation codec. phonePattern is the
// locale-configurable phone shape; an empty string selects a default that
// tolerates AU and US formats.
func NewPHIObfuscator(logger *logrus.Logger, phonePattern string) *PHIObfuscator {
	if phonePattern == "" {
		phonePattern = `(?:\+?\d{1,3}[\s-]?)?\(?\d{2,4}\)?[\s-]?\d{3,4}[\s-]?\d{3,4}`
	}
	compiled, err := regexp.Compile(phonePattern)
	if err != nil {
		if logger != nil {
			logger.WithError(err).Warn("Invalid phone pattern, falling back to default")
		}
		compiled = regexp.MustCompile(`(?:\+?\d{1,3}[\s-]?)?\(?\d{2,4}\)?[\s-]?\d{3,4}[\s-]?\d{3,4}`)
	}
	return &PHIObfuscator{logger: logger, phonePattern: compiled}
}

// sessionToken derives the stable placeholder for a field within a session
func sessionToken(sessionID, field string) string {
	sum := sha256.Sum256([]byte(sessionID + ":" + field))
	return fmt.Sprintf("[%s_%s]", strings.ToUpper(field), hex.EncodeToString(sum[:4]))
}

// Obfuscate substitutes every detectable PHI value in text with its session
// token. Missing optional fields are skipped; the function never fails.
// Matching runs most specific first so earlier substitutions are not
// corrupted by later, looser patterns.
func (o *PHIObfuscator) Obfuscate(text string, phi domain.PHI, sessionID string) domain.ObfuscationResult {
	tokens := domain.TokenSet{}
	replaced := 0

	// (1) Exact patient name, case-insensitive, whole phrase
	if phi.Name != "" {
		tokens.Name = sessionToken(sessionID, FieldName)
		text, replaced = replaceAllCount(text, namePattern(phi.Name), tokens.Name, replaced)
	}

	// (2) Date of birth in ISO and slash-delimited forms
	if phi.DateOfBirth != "" {
		tokens.DOB = sessionToken(sessionID, FieldDOB)
		for _, variant := range dobVariants(phi.DateOfBirth) {
			text, replaced = replaceAllCount(text, variant, tokens.DOB, replaced)
		}
	}

	// (3) Health-identifier digits with or without internal separators
	if phi.MedicareNumber != "" {
		tokens.Medicare = sessionToken(sessionID, FieldMedicare)
		if p := flexibleDigitPattern(phi.MedicareNumber); p != nil {
			text, replaced = replaceAllCount(text, p, tokens.Medicare, replaced)
		}
	}

	// (4) Gender, only adjacent to gender-indicating context
	if phi.Gender != "" {
		tokens.Gender = sessionToken(sessionID, FieldGender)
		text, replaced = replaceGenderInContext(text, phi.Gender, tokens.Gender, replaced)
	}

	// (5) Email address
	if phi.Email != "" {
		tokens.Email = sessionToken(sessionID, FieldEmail)
		p := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phi.Email))
		text, replaced = replaceAllCount(text, p, tokens.Email, replaced)
	}

	// (6) Phone number
	if phi.PhoneNumber != "" {
		tokens.Phone = sessionToken(sessionID, FieldPhone)
		if p := flexibleDigitPattern(phi.PhoneNumber); p != nil {
			text, replaced = replaceAllCount(text, p, tokens.Phone, replaced)
		}
	}

	// (7) Free-text address line
	if phi.Address != "" {
		tokens.Address = sessionToken(sessionID, FieldAddress)
		p := regexp.MustCompile(`(?i)` + flexibleWhitespace(phi.Address))
		text, replaced = replaceAllCount(text, p, tokens.Address, replaced)
	}

	if o.logger != nil && replaced > 0 {
		o.logger.WithFields(logrus.Fields{
			"session_id":      sessionID,
			"tokens_replaced": replaced,
		}).Debug("Obfuscated PHI")
	}

	return domain.ObfuscationResult{
		ObfuscatedText: text,
		Map: &domain.DeobfuscationMap{
			SessionID:     sessionID,
			Tokens:        tokens,
			PHI:           phi,
			ExtraMappings: map[string]string{},
			CreatedAt:     time.Now().UTC(),
		},
		TokensReplaced: replaced,
	}
}

// Deobfuscate reverses every substitution recorded in the map, including
// ad hoc tokens registered in ExtraMappings.
func (o *PHIObfuscator) Deobfuscate(text string, m *domain.DeobfuscationMap) string {
	if m == nil {
		return text
	}

	pairs := []struct{ token, value string }{
		{m.Tokens.Name, m.PHI.Name},
		{m.Tokens.DOB, m.PHI.DateOfBirth},
		{m.Tokens.Medicare, m.PHI.MedicareNumber},
		{m.Tokens.Gender, m.PHI.Gender},
		{m.Tokens.Address, m.PHI.Address},
		{m.Tokens.Phone, m.PHI.PhoneNumber},
		{m.Tokens.Email, m.PHI.Email},
	}
	for _, p := range pairs {
		if p.token != "" && p.value != "" {
			text = strings.ReplaceAll(text, p.token, p.value)
		}
	}
	for token, value := range m.ExtraMappings {
		if token != "" {
			text = strings.ReplaceAll(text, token, value)
		}
	}
	return text
}

// ValidateObfuscation re-scans text for raw PHI values. It is a deliberate
// second, independent check: it must catch leaks even when the primary
// obfuscation path was bypassed or is buggy elsewhere.
func (o *PHIObfuscator) ValidateObfuscation(text string, phi domain.PHI) domain.LeakValidation {
	var leaked []string

	if phi.Name != "" && namePattern(phi.Name).MatchString(text) {
		leaked = append(leaked, FieldName)
	}
	if phi.DateOfBirth != "" {
		for _, variant := range dobVariants(phi.DateOfBirth) {
			if variant.MatchString(text) {
				leaked = append(leaked, FieldDOB)
				break
			}
		}
	}
	if phi.MedicareNumber != "" {
		if p := flexibleDigitPattern(phi.MedicareNumber); p != nil && p.MatchString(text) {
			leaked = append(leaked, FieldMedicare)
		}
	}
	if phi.Gender != "" {
		if _, n := replaceGenderInContext(text, phi.Gender, "", 0); n > 0 {
			leaked = append(leaked, FieldGender)
		}
	}
	if phi.Email != "" {
		if regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phi.Email)).MatchString(text) {
			leaked = append(leaked, FieldEmail)
		}
	}
	if phi.PhoneNumber != "" {
		if p := flexibleDigitPattern(phi.PhoneNumber); p != nil && p.MatchString(text) {
			leaked = append(leaked, FieldPhone)
		}
	}
	if phi.Address != "" {
		if regexp.MustCompile(`(?i)` + flexibleWhitespace(phi.Address)).MatchString(text) {
			leaked = append(leaked, FieldAddress)
		}
	}

	if o.logger != nil && len(leaked) > 0 {
		o.logger.WithField("leaked_fields", leaked).Warn("PHI leak detected by validator")
	}

	return domain.LeakValidation{IsSafe: len(leaked) == 0, LeakedPHI: leaked}
}

// replaceAllCount replaces every match and accumulates the running count
func replaceAllCount(text string, pattern *regexp.Regexp, token string, count int) (string, int) {
	matches := len(pattern.FindAllStringIndex(text, -1))
	if matches == 0 {
		return text, count
	}
	return pattern.ReplaceAllString(text, token), count + matches
}

// namePattern matches the whole name phrase case-insensitively, tolerating
// run-on whitespace between name parts
func namePattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + flexibleWhitespace(name) + `\b`)
}

// flexibleWhitespace quotes a literal but lets any whitespace run separate
// its words
func flexibleWhitespace(literal string) string {
	parts := strings.Fields(literal)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(quoted, `\s+`)
}

// dobVariants renders a YYYY-MM-DD date of birth in the forms it may appear
// in dictation or documents: ISO, DD/MM/YYYY and MM/DD/YYYY, with and
// without leading zeros. An unparseable input degrades to a literal match.
func dobVariants(dob string) []*regexp.Regexp {
	t, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return []*regexp.Regexp{regexp.MustCompile(regexp.QuoteMeta(dob))}
	}

	forms := map[string]struct{}{
		t.Format("2006-01-02"): {},
		t.Format("02/01/2006"): {},
		t.Format("01/02/2006"): {},
		t.Format("2/1/2006"):   {},
		t.Format("1/2/2006"):   {},
	}

	variants := make([]*regexp.Regexp, 0, len(forms))
	for form := range forms {
		variants = append(variants, regexp.MustCompile(`\b`+regexp.QuoteMeta(form)+`\b`))
	}
	return variants
}

// flexibleDigitPattern matches the digit sequence of an identifier with
// optional single separators between digits. Returns nil when the value
// carries no digits.
func flexibleDigitPattern(value string) *regexp.Regexp {
	var digits []string
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits = append(digits, string(r))
		}
	}
	if len(digits) < 6 {
		return nil
	}
	return regexp.MustCompile(`\b` + strings.Join(digits, `[\s-]?`) + `\b`)
}

// replaceGenderInContext substitutes the gender word only when adjacent to
// gender-indicating context, so ordinary prose is not corrupted. With an
// empty token it acts as a contextual match counter.
func replaceGenderInContext(text, gender, token string, count int) (string, int) {
	g := regexp.QuoteMeta(gender)

	// "58-year-old male", "58 year old female"
	agePattern := regexp.MustCompile(`(?i)(\b(?:\d+[\s-]?year[\s-]?old)\s+)` + g + `\b`)
	// "Gender: male", "Sex: F"
	labelPattern := regexp.MustCompile(`(?i)(\b(?:gender|sex)\s*[:\-]\s*)` + g + `\b`)

	for _, p := range []*regexp.Regexp{agePattern, labelPattern} {
		matches := len(p.FindAllStringIndex(text, -1))
		if matches == 0 {
			continue
		}
		count += matches
		text = p.ReplaceAllString(text, "${1}"+token)
	}
	return text, count
}
