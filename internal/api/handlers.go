package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
)

// DiffRequest asks for a token-level edit script between two letter versions
type DiffRequest struct {
	Original string `json:"original"`
	Modified string `json:"modified"`
}

// handleDiff computes the edit script and its summary statistics
func (s *Server) handleDiff(c *gin.Context) {
	var req DiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid request body")
		return
	}

	segments := s.diff.Diff(req.Original, req.Modified)
	stats := s.diff.Stats(segments)

	c.JSON(http.StatusOK, gin.H{
		"segments": segments,
		"stats":    stats,
	})
}

// VerifyRequest carries a generated letter and its source material
type VerifyRequest struct {
	LetterID   string                 `json:"letter_id" binding:"required"`
	LetterText string                 `json:"letter_text" binding:"required"`
	Sources    domain.SourceBundle    `json:"sources"`
	Anchors    []domain.SourceAnchor  `json:"anchors"`
	Values     []domain.ClinicalValue `json:"values"`
}

// handleVerify scans the letter, persists the flags and returns the risk
// assessment with an approval recommendation
func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "letter_id and letter_text are required")
		return
	}

	ctx := c.Request.Context()
	flags := s.detector.Detect(ctx, req.LetterText, req.Sources, req.Anchors, req.Values)
	for i := range flags {
		flags[i].LetterID = req.LetterID
	}

	if err := s.flags.SaveFlags(ctx, req.LetterID, flags); err != nil {
		s.logger.WithFields(logrus.Fields{
			"letter_id":      req.LetterID,
			"correlation_id": c.GetString("correlation_id"),
		}).WithError(err).Error("Failed to persist hallucination flags")
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to persist flags")
		return
	}

	assessment := s.scorer.CalculateHallucinationRisk(flags)
	recommendation := s.scorer.RecommendApproval(flags)

	c.JSON(http.StatusOK, gin.H{
		"letter_id":      req.LetterID,
		"flags":          flags,
		"assessment":     assessment,
		"recommendation": recommendation,
	})
}

// handleGetFlags returns the stored flags for a letter
func (s *Server) handleGetFlags(c *gin.Context) {
	flags, err := s.flags.GetFlags(c.Request.Context(), c.Param("letterID"))
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to load flags")
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags})
}

// handleHallucinationReport renders the stored flags as a plain-text report
func (s *Server) handleHallucinationReport(c *gin.Context) {
	flags, err := s.flags.GetFlags(c.Request.Context(), c.Param("letterID"))
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to load flags")
		return
	}
	c.String(http.StatusOK, s.scorer.GenerateHallucinationReport(flags))
}

// DismissFlagRequest records a physician dismissal of one flag
type DismissFlagRequest struct {
	DismissedBy string `json:"dismissed_by" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}

// handleDismissFlag marks a flag dismissed, at most once
func (s *Server) handleDismissFlag(c *gin.Context) {
	var req DismissFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "dismissed_by and reason are required")
		return
	}

	if err := s.flags.DismissFlag(c.Request.Context(), c.Param("flagID"), req.DismissedBy, req.Reason); err != nil {
		s.errorResponse(c, http.StatusConflict, domain.ErrInvalidInput, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": true})
}

// ObfuscateRequest asks for PHI replacement before text leaves the service
type ObfuscateRequest struct {
	SessionID string     `json:"session_id" binding:"required"`
	Text      string     `json:"text" binding:"required"`
	PHI       domain.PHI `json:"phi"`
}

// handleObfuscate replaces PHI with session-stable tokens and stores the
// reverse map in the session store. Raw PHI is never echoed back.
func (s *Server) handleObfuscate(c *gin.Context) {
	var req ObfuscateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "session_id and text are required")
		return
	}

	result := s.obfuscator.Obfuscate(req.Text, req.PHI, req.SessionID)

	if err := s.sessions.SaveMap(c.Request.Context(), result.Map); err != nil {
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrInternalServer, "failed to store deobfuscation map")
		return
	}

	validation := s.obfuscator.ValidateObfuscation(result.ObfuscatedText, req.PHI)

	c.JSON(http.StatusOK, gin.H{
		"obfuscated_text": result.ObfuscatedText,
		"tokens_replaced": result.TokensReplaced,
		"validation":      s.scrubber.ScrubPayload(leakPayload(validation)),
	})
}

// leakPayload shapes a LeakValidation for the response. Leaked field names
// pass the scrubber so raw PHI never rides along in validation output.
func leakPayload(v domain.LeakValidation) map[string]interface{} {
	return map[string]interface{}{
		"is_safe":      v.IsSafe,
		"leaked_count": len(v.LeakedPHI),
	}
}

// DeobfuscateRequest asks for token restoration on returned text
type DeobfuscateRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// handleDeobfuscate restores original PHI using the session's stored map
func (s *Server) handleDeobfuscate(c *gin.Context) {
	var req DeobfuscateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "session_id and text are required")
		return
	}

	m, err := s.sessions.GetMap(c.Request.Context(), req.SessionID)
	if err != nil {
		var verr *domain.VerificationError
		if errors.As(err, &verr) && verr.Code == domain.ErrSessionExpired {
			s.errorResponse(c, http.StatusGone, domain.ErrSessionExpired, "session expired or unknown")
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrInternalServer, "failed to load deobfuscation map")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text": s.obfuscator.Deobfuscate(req.Text, m),
	})
}

// ValidatePHIRequest asks for an independent PHI leak scan
type ValidatePHIRequest struct {
	Text string     `json:"text" binding:"required"`
	PHI  domain.PHI `json:"phi"`
}

// handleValidatePHI re-scans text for PHI that survived obfuscation
func (s *Server) handleValidatePHI(c *gin.Context) {
	var req ValidatePHIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "text is required")
		return
	}

	validation := s.obfuscator.ValidateObfuscation(req.Text, req.PHI)
	c.JSON(http.StatusOK, validation)
}

// BuildProvenanceRequest carries everything needed for one audit record
type BuildProvenanceRequest struct {
	LetterID       string                     `json:"letter_id" binding:"required"`
	PatientID      string                     `json:"patient_id" binding:"required"`
	Generation     domain.GenerationMetadata  `json:"generation"`
	Sources        []domain.SourceFile        `json:"sources"`
	ClinicalValues []domain.ClinicalValue     `json:"clinical_values"`
	Flags          []domain.HallucinationFlag `json:"flags"`
	RiskScore      int                        `json:"risk_score"`
	Review         domain.ReviewMetadata      `json:"review"`
	DraftText      string                     `json:"draft_text"`
	FinalText      string                     `json:"final_text"`
}

// handleBuildProvenance assembles, hashes and persists the audit record for
// an approved letter. One record per letter; a second build is rejected.
func (s *Server) handleBuildProvenance(c *gin.Context) {
	var req BuildProvenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, "letter_id and patient_id are required")
		return
	}

	record, err := s.builder.Build(domain.ProvenanceInput{
		LetterID:       req.LetterID,
		PatientID:      req.PatientID,
		Generation:     req.Generation,
		Sources:        req.Sources,
		ClinicalValues: req.ClinicalValues,
		Flags:          req.Flags,
		RiskScore:      req.RiskScore,
		Review:         req.Review,
		DraftText:      req.DraftText,
		FinalText:      req.FinalText,
		Diff:           s.diff.Diff(req.DraftText, req.FinalText),
	})
	if err != nil {
		s.errorResponse(c, http.StatusBadRequest, domain.ErrInvalidInput, err.Error())
		return
	}

	if err := s.provenance.Save(c.Request.Context(), record); err != nil {
		var verr *domain.VerificationError
		if errors.As(err, &verr) && verr.Code == domain.ErrDuplicate {
			s.errorResponse(c, http.StatusConflict, domain.ErrDuplicate, "provenance record already exists for this letter")
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to persist provenance record")
		return
	}

	c.JSON(http.StatusCreated, record)
}

// handleGetProvenance returns the stored record for a letter
func (s *Server) handleGetProvenance(c *gin.Context) {
	record, err := s.loadProvenance(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleVerifyProvenance re-hashes the stored record and reports integrity.
// A mismatch returns the full result with both hashes, not an opaque error.
func (s *Server) handleVerifyProvenance(c *gin.Context) {
	record, err := s.loadProvenance(c)
	if err != nil {
		return
	}

	result, err := s.builder.Verify(record)
	if err != nil && !errors.Is(err, domain.ErrHashMismatch) {
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrInternalServer, "verification failed")
		return
	}

	status := http.StatusOK
	if result.Status == domain.IntegrityTampered {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// handleProvenanceReport renders the stored record as a plain-text report
func (s *Server) handleProvenanceReport(c *gin.Context) {
	record, err := s.loadProvenance(c)
	if err != nil {
		return
	}
	c.String(http.StatusOK, s.builder.FormatProvenanceReport(record))
}

// loadProvenance fetches the record for the letterID path param, writing the
// error response itself on failure
func (s *Server) loadProvenance(c *gin.Context) (*domain.ProvenanceRecord, error) {
	record, err := s.provenance.Get(c.Request.Context(), c.Param("letterID"))
	if err != nil {
		var verr *domain.VerificationError
		if errors.As(err, &verr) && verr.Code == domain.ErrNotFound {
			s.errorResponse(c, http.StatusNotFound, domain.ErrNotFound, "no provenance record for this letter")
			return nil, err
		}
		s.errorResponse(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to load provenance record")
		return nil, err
	}
	return record, nil
}
