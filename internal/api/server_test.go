package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letter-verify-server/internal/config"
	"github.com/letter-verify-server/internal/domain"
	"github.com/letter-verify-server/internal/repository"
	"github.com/letter-verify-server/internal/service"
)

// memorySessionStore is an in-memory SessionStore for handler tests
type memorySessionStore struct {
	maps map[string]*domain.DeobfuscationMap
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{maps: map[string]*domain.DeobfuscationMap{}}
}

func (s *memorySessionStore) SaveMap(_ context.Context, m *domain.DeobfuscationMap) error {
	s.maps[m.SessionID] = m
	return nil
}

func (s *memorySessionStore) GetMap(_ context.Context, sessionID string) (*domain.DeobfuscationMap, error) {
	m, ok := s.maps[sessionID]
	if !ok {
		return nil, domain.NewVerificationError(domain.ErrSessionExpired, "session expired", "", "")
	}
	return m, nil
}

func (s *memorySessionStore) DeleteMap(_ context.Context, sessionID string) error {
	delete(s.maps, sessionID)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir, err := os.MkdirTemp("", "letter-verify-api-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := repository.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	configManager, err := config.NewManager()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(bytes.NewBuffer(nil))

	obfuscator := service.NewPHIObfuscator(logger, "")

	return NewServer(configManager, logger, Dependencies{
		Diff:       service.NewTokenDiffEngine(logger),
		Obfuscator: obfuscator,
		Detector:   service.NewHallucinationDetector(logger),
		Scorer:     service.NewHallucinationRiskScorer(logger),
		Builder:    service.NewAuditProvenanceBuilder(logger),
		Scrubber:   service.NewTelemetryScrubber(obfuscator),
		Flags:      store,
		Provenance: store,
		Sessions:   newMemorySessionStore(),
	})
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

// stubHealth is a canned database health probe
type stubHealth struct {
	err error
}

func (s stubHealth) Health(context.Context) error { return s.err }

func TestHealthEndpointProbesDatabase(t *testing.T) {
	configManager, err := config.NewManager()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(bytes.NewBuffer(nil))

	newServerWithHealth := func(h HealthChecker) *Server {
		return NewServer(configManager, logger, Dependencies{
			Diff:     service.NewTokenDiffEngine(logger),
			Scorer:   service.NewHallucinationRiskScorer(logger),
			DBHealth: h,
		})
	}

	t.Run("reachable database reported", func(t *testing.T) {
		w := doJSON(t, newServerWithHealth(stubHealth{}), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"database":"ok"`)
	})

	t.Run("unreachable database degrades", func(t *testing.T) {
		h := stubHealth{err: errors.New("connection refused")}
		w := doJSON(t, newServerWithHealth(h), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "degraded")
	})
}

func TestDiffEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/diff", map[string]string{
		"original": "The patient was seen today.",
		"modified": "The patient was reviewed today.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Segments []domain.DiffSegment `json:"segments"`
		Stats    domain.DiffStats     `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.Segments)
	assert.Equal(t, 1, resp.Stats.Additions)
	assert.Equal(t, 1, resp.Stats.Deletions)
}

func TestVerifyEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/verify", map[string]interface{}{
		"letter_id":   "letter-1",
		"letter_text": "The LAD shows 70% stenosis.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Flags          []domain.HallucinationFlag    `json:"flags"`
		Assessment     domain.RiskAssessment         `json:"assessment"`
		Recommendation domain.ApprovalRecommendation `json:"recommendation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.Flags, 1)
	assert.Equal(t, domain.SeverityCritical, resp.Flags[0].Severity)
	assert.Equal(t, 30, resp.Assessment.Score)
	assert.False(t, resp.Recommendation.ShouldApprove)

	// Flags were persisted and the text report is served
	w = doJSON(t, server, http.MethodGet, "/api/v1/verify/letter-1/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Critical Flags (1)")
}

func TestVerifyEndpointRejectsMissingFields(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/verify", map[string]string{
		"letter_text": "no letter id",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDismissFlagEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/verify", map[string]interface{}{
		"letter_id":   "letter-1",
		"letter_text": "The LAD shows 70% stenosis.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Flags []domain.HallucinationFlag `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Flags, 1)

	dismiss := map[string]string{"dismissed_by": "dr-1", "reason": "confirmed on angiogram"}
	w = doJSON(t, server, http.MethodPost, "/api/v1/flags/"+resp.Flags[0].ID+"/dismiss", dismiss)
	assert.Equal(t, http.StatusOK, w.Code)

	// Dismissal is single-shot
	w = doJSON(t, server, http.MethodPost, "/api/v1/flags/"+resp.Flags[0].ID+"/dismiss", dismiss)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestObfuscationEndpoints(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/phi/obfuscate", map[string]interface{}{
		"session_id": "session-1",
		"text":       "Patient John Citizen attended today.",
		"phi":        map[string]string{"name": "John Citizen", "date_of_birth": "1958-03-07"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var obfResp struct {
		ObfuscatedText string `json:"obfuscated_text"`
		TokensReplaced int    `json:"tokens_replaced"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obfResp))
	assert.NotContains(t, obfResp.ObfuscatedText, "John Citizen")
	assert.Equal(t, 1, obfResp.TokensReplaced)

	w = doJSON(t, server, http.MethodPost, "/api/v1/phi/deobfuscate", map[string]string{
		"session_id": "session-1",
		"text":       obfResp.ObfuscatedText,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var deobfResp struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deobfResp))
	assert.Equal(t, "Patient John Citizen attended today.", deobfResp.Text)
}

func TestDeobfuscateUnknownSession(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/phi/deobfuscate", map[string]string{
		"session_id": "never-created",
		"text":       "whatever",
	})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestValidatePHIEndpoint(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/phi/validate", map[string]interface{}{
		"text": "John Citizen was seen today.",
		"phi":  map[string]string{"name": "John Citizen"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var validation domain.LeakValidation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &validation))
	assert.False(t, validation.IsSafe)
	assert.Contains(t, validation.LeakedPHI, "patient_name")
}

func TestProvenanceEndpoints(t *testing.T) {
	server := newTestServer(t)

	build := map[string]interface{}{
		"letter_id":  "letter-1",
		"patient_id": "patient-1",
		"draft_text": "The patient was seen today.",
		"final_text": "The patient was reviewed today.",
		"risk_score": 10,
	}

	w := doJSON(t, server, http.MethodPost, "/api/v1/provenance", build)
	require.Equal(t, http.StatusCreated, w.Code)

	var record domain.ProvenanceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.NotEmpty(t, record.Hash)
	assert.Equal(t, 1, record.Data.Review.EditCount)

	t.Run("record is append-only", func(t *testing.T) {
		w := doJSON(t, server, http.MethodPost, "/api/v1/provenance", build)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("get stored record", func(t *testing.T) {
		w := doJSON(t, server, http.MethodGet, "/api/v1/provenance/letter-1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var loaded domain.ProvenanceRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
		assert.Equal(t, record.Hash, loaded.Hash)
	})

	t.Run("verify intact record", func(t *testing.T) {
		w := doJSON(t, server, http.MethodPost, "/api/v1/provenance/letter-1/verify", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result domain.IntegrityResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, domain.IntegrityVerified, result.Status)
	})

	t.Run("plain-text report", func(t *testing.T) {
		w := doJSON(t, server, http.MethodGet, "/api/v1/provenance/letter-1/report", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "LETTER PROVENANCE RECORD")
	})

	t.Run("unknown letter", func(t *testing.T) {
		w := doJSON(t, server, http.MethodGet, "/api/v1/provenance/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
