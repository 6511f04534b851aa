package domain

import (
	"time"
)

// Provenance Models
//
// ProvenanceData is created exactly once per approved letter and is
// logically immutable: any later mutation must be detectable through a
// hash mismatch on verification, never silently applied.

// ProvenanceData is the complete audit record for one approved letter
type ProvenanceData struct {
	ID             string               `json:"id"`
	LetterID       string               `json:"letter_id"`
	PatientID      string               `json:"patient_id"`
	Generation     GenerationMetadata   `json:"generation"`
	Sources        []SourceFile         `json:"sources"`
	ClinicalValues []ClinicalValue      `json:"clinical_values"`
	Hallucination  HallucinationSummary `json:"hallucination"`
	Review         ReviewMetadata       `json:"review"`
	Edits          []EditRecord         `json:"edits"`
	Quality        QualityMetrics       `json:"quality"`
	CreatedAt      time.Time            `json:"created_at"`
}

// GenerationMetadata captures which models produced the draft and at what cost
type GenerationMetadata struct {
	DraftModel       string    `json:"draft_model"`
	RefinementModel  string    `json:"refinement_model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	GenerationMS     int64     `json:"generation_ms"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// SourceFile identifies one recording or document the letter was drafted from
type SourceFile struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // recording, document
	CreatedAt time.Time `json:"created_at"`
}

// HallucinationSummary captures the outcome of the hallucination checks
type HallucinationSummary struct {
	TotalFlags     int                 `json:"total_flags"`
	CriticalFlags  int                 `json:"critical_flags"`
	DismissedFlags int                 `json:"dismissed_flags"`
	RiskScore      int                 `json:"risk_score"`
	Dismissed      []HallucinationFlag `json:"dismissed,omitempty"`
}

// ReviewMetadata captures the reviewing physician and the extent of editing
type ReviewMetadata struct {
	PhysicianID           string    `json:"physician_id"`
	PhysicianName         string    `json:"physician_name"`
	ReviewDurationSeconds int       `json:"review_duration_seconds"`
	PercentChanged        float64   `json:"percent_changed"`
	EditCount             int       `json:"edit_count"`
	ApprovedAt            time.Time `json:"approved_at"`
}

// EditRecord is one physician edit, positioned in the final text
type EditRecord struct {
	Index     int    `json:"index"`
	Operation string `json:"operation"` // addition, deletion, modification
	Text      string `json:"text"`
}

// QualityMetrics summarizes verification coverage for the record
type QualityMetrics struct {
	TotalValues    int `json:"total_values"`
	VerifiedValues int `json:"verified_values"`
	AnchorCount    int `json:"anchor_count"`
}

// ProvenanceRecord is the persisted unit: the record plus its hash.
// The stored hash must always equal the hash of the canonical
// serialization of Data.
type ProvenanceRecord struct {
	Data ProvenanceData `json:"data"`
	Hash string         `json:"hash"`
}

// IntegrityStatus is the outcome of verifying a stored provenance record
type IntegrityStatus string

const (
	IntegrityVerified IntegrityStatus = "verified"
	IntegrityTampered IntegrityStatus = "tampered"
)

// IntegrityResult reports a provenance verification, including both hashes
// when they diverge so the failure is auditable
type IntegrityResult struct {
	LetterID     string          `json:"letter_id"`
	Status       IntegrityStatus `json:"status"`
	StoredHash   string          `json:"stored_hash"`
	ComputedHash string          `json:"computed_hash"`
	CheckedAt    time.Time       `json:"checked_at"`
}
