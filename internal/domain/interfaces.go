package domain

import (
	"context"
)

// DiffEngine computes token-level edit scripts between letter versions
type DiffEngine interface {
	Diff(original, modified string) []DiffSegment
	Stats(segments []DiffSegment) DiffStats
}

// Obfuscator replaces identifying substrings with session-stable placeholder
// tokens before text leaves the trusted boundary, and reverses the
// substitution on the way back
type Obfuscator interface {
	Obfuscate(text string, phi PHI, sessionID string) ObfuscationResult
	Deobfuscate(text string, m *DeobfuscationMap) string
	ValidateObfuscation(text string, phi PHI) LeakValidation
}

// Detector scans generated text against sources and verified values and
// flags statements not traceable to any source
type Detector interface {
	Detect(ctx context.Context, letterText string, sources SourceBundle, anchors []SourceAnchor, values []ClinicalValue) []HallucinationFlag
}

// RiskScorer aggregates flags into a bounded risk score and a
// recommendation shown to the reviewing physician
type RiskScorer interface {
	GroupFlagsBySeverity(flags []HallucinationFlag) GroupedFlags
	CalculateHallucinationRisk(flags []HallucinationFlag) RiskAssessment
	RecommendApproval(flags []HallucinationFlag) ApprovalRecommendation
	GenerateHallucinationReport(flags []HallucinationFlag) string
}

// ProvenanceBuilder assembles and hashes the audit record for an approved
// letter and verifies stored records against their hashes
type ProvenanceBuilder interface {
	Build(input ProvenanceInput) (*ProvenanceRecord, error)
	CalculateProvenanceHash(data *ProvenanceData) (string, error)
	Verify(record *ProvenanceRecord) (*IntegrityResult, error)
	FormatProvenanceReport(record *ProvenanceRecord) string
}

// ProvenanceInput carries everything the builder needs for one letter
type ProvenanceInput struct {
	LetterID       string
	PatientID      string
	Generation     GenerationMetadata
	Sources        []SourceFile
	ClinicalValues []ClinicalValue
	Flags          []HallucinationFlag
	RiskScore      int
	Review         ReviewMetadata
	DraftText      string
	FinalText      string
	Diff           []DiffSegment
}

// FlagStore persists hallucination flags and records physician dismissals
type FlagStore interface {
	SaveFlags(ctx context.Context, letterID string, flags []HallucinationFlag) error
	GetFlags(ctx context.Context, letterID string) ([]HallucinationFlag, error)
	DismissFlag(ctx context.Context, flagID, dismissedBy, reason string) error
}

// ProvenanceStore persists provenance records append-only, one per letter
type ProvenanceStore interface {
	Save(ctx context.Context, record *ProvenanceRecord) error
	Get(ctx context.Context, letterID string) (*ProvenanceRecord, error)
}

// SessionStore holds deobfuscation maps keyed by session id. Maps expire
// with their session and are never shared between sessions.
type SessionStore interface {
	SaveMap(ctx context.Context, m *DeobfuscationMap) error
	GetMap(ctx context.Context, sessionID string) (*DeobfuscationMap, error)
	DeleteMap(ctx context.Context, sessionID string) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetRedisConfig() *RedisConfig
	Validate() error
}
