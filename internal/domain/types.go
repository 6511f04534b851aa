package domain

import (
	"time"
)

// Core Enums and Types

// Severity represents the severity of a hallucination flag
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// RiskLevel represents the aggregated hallucination risk level
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// DiffOperation represents a single edit-script operation
type DiffOperation string

const (
	DiffEqual  DiffOperation = "equal"
	DiffInsert DiffOperation = "insert"
	DiffDelete DiffOperation = "delete"
)

// Clinical Data Models

// ClinicalValue represents a measurement extracted from source material.
// Created during extraction; mutated only by physician verification,
// never deleted - a new letter version supersedes it.
type ClinicalValue struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Value          string     `json:"value"`
	Unit           string     `json:"unit,omitempty"`
	Verified       bool       `json:"verified"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	VerifiedBy     string     `json:"verified_by,omitempty"`
	SourceAnchorID string     `json:"source_anchor_id,omitempty"`
}

// SourceAnchor is a pre-validated span linking a clinical statement to its
// origin. Statements covered by an anchor are exempt from hallucination
// flagging. Immutable once created.
type SourceAnchor struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SourceID   string `json:"source_id"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// HallucinationFlag marks a statement in generated text that is not
// traceable to any source. The detector creates flags with Dismissed=false;
// dismissal fields are set only by a physician action.
type HallucinationFlag struct {
	ID            string     `json:"id"`
	LetterID      string     `json:"letter_id,omitempty"`
	SegmentText   string     `json:"segment_text"`
	StartIndex    int        `json:"start_index"`
	EndIndex      int        `json:"end_index"`
	Reason        string     `json:"reason"`
	Severity      Severity   `json:"severity"`
	Dismissed     bool       `json:"dismissed"`
	DismissedAt   *time.Time `json:"dismissed_at,omitempty"`
	DismissedBy   string     `json:"dismissed_by,omitempty"`
	DismissReason string     `json:"dismiss_reason,omitempty"`
}

// SourceBundle is the named bundle of source texts a letter was drafted from
type SourceBundle struct {
	Transcript string               `json:"transcript,omitempty"`
	UserInput  string               `json:"user_input,omitempty"`
	Documents  []DocumentExtraction `json:"documents,omitempty"`
}

// DocumentExtraction is the structured extraction of one uploaded document
type DocumentExtraction struct {
	DocumentID string            `json:"document_id"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Diff Models

// DiffSegment is one entry of a token-level edit script
type DiffSegment struct {
	Operation DiffOperation `json:"operation"`
	Text      string        `json:"text"`
}

// DiffStats summarizes an edit script by whitespace-trimmed word counts
type DiffStats struct {
	Additions      int `json:"additions"`
	Deletions      int `json:"deletions"`
	TotalWords     int `json:"total_words"`
	PercentChanged int `json:"percent_changed"`
}

// PHI Models

// PHI holds patient-identifying fields supplied per request.
// Never persisted by this service.
type PHI struct {
	Name           string `json:"name"`
	DateOfBirth    string `json:"date_of_birth"`
	MedicareNumber string `json:"medicare_number,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Address        string `json:"address,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
	Email          string `json:"email,omitempty"`
}

// TokenSet holds the placeholder tokens substituted for the fixed PHI fields
type TokenSet struct {
	Name     string `json:"name_token,omitempty"`
	DOB      string `json:"dob_token,omitempty"`
	Medicare string `json:"medicare_token,omitempty"`
	Gender   string `json:"gender_token,omitempty"`
	Address  string `json:"address_token,omitempty"`
	Phone    string `json:"phone_token,omitempty"`
	Email    string `json:"email_token,omitempty"`
}

// DeobfuscationMap reverses an obfuscation pass. Session-scoped: it must
// not outlive the session that created it.
type DeobfuscationMap struct {
	SessionID     string            `json:"session_id"`
	Tokens        TokenSet          `json:"tokens"`
	PHI           PHI               `json:"phi"`
	ExtraMappings map[string]string `json:"extra_mappings,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ObfuscationResult is the output of a single obfuscation pass
type ObfuscationResult struct {
	ObfuscatedText string            `json:"obfuscated_text"`
	Map            *DeobfuscationMap `json:"deobfuscation_map"`
	TokensReplaced int               `json:"tokens_replaced"`
}

// LeakValidation is the result of the independent PHI leak re-scan
type LeakValidation struct {
	IsSafe    bool     `json:"is_safe"`
	LeakedPHI []string `json:"leaked_phi,omitempty"`
}

// Risk Models

// RiskAssessment is the aggregated hallucination risk for a letter
type RiskAssessment struct {
	Score         int       `json:"score"`
	Level         RiskLevel `json:"level"`
	CriticalCount int       `json:"critical_count"`
	WarningCount  int       `json:"warning_count"`
}

// ApprovalRecommendation tells the reviewing physician whether the letter
// can be approved as-is
type ApprovalRecommendation struct {
	ShouldApprove bool   `json:"should_approve"`
	Reason        string `json:"reason"`
	Instruction   string `json:"instruction,omitempty"`
}

// GroupedFlags partitions non-dismissed flags by severity
type GroupedFlags struct {
	Critical []HallucinationFlag `json:"critical"`
	Warning  []HallucinationFlag `json:"warning"`
}
