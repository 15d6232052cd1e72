package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pupscan/pupscan-backend/internal/clients/gcp"
	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/http/middleware"
	"github.com/pupscan/pupscan-backend/internal/http/response"
	"github.com/pupscan/pupscan-backend/internal/platform/apierr"
	"github.com/pupscan/pupscan-backend/internal/scan"
)

const maxRequestBytes = 12 << 20

type ScanHandler struct {
	scans       *scan.Service
	corrections *scan.CorrectionService
	bucket      gcp.BucketService
}

func NewScanHandler(scans *scan.Service, corrections *scan.CorrectionService, bucket gcp.BucketService) *ScanHandler {
	return &ScanHandler{scans: scans, corrections: corrections, bucket: bucket}
}

// POST /api/v1/scans
func (h *ScanHandler) CreateScan(c *gin.Context) {
	data, err := readImage(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}

	rec, err := h.scans.Analyze(c.Request.Context(), middleware.UserID(c), data)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"scan": h.scanView(rec)})
}

// GET /api/v1/scans
func (h *ScanHandler) ListScans(c *gin.Context) {
	recs, err := h.scans.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	views := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		views = append(views, h.scanView(rec))
	}
	response.RespondOK(c, gin.H{"scans": views})
}

// GET /api/v1/scans/:id
func (h *ScanHandler) GetScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.scans.Get(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"scan": h.scanView(rec)})
}

// GET /api/v1/scans/:id/simulation
func (h *ScanHandler) SimulationStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	payload, err := h.scans.SimulationStatus(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	// Pollers must never see a stale intermediary copy.
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/json", payload)
}

// POST /api/v1/scans/:id/regenerate
func (h *ScanHandler) Regenerate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.scans.Regenerate(c.Request.Context(), middleware.UserID(c), id); err != nil {
		respondPipelineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": domain.SimulationQueued})
}

// DELETE /api/v1/scans/:id
func (h *ScanHandler) DeleteScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.scans.Delete(c.Request.Context(), middleware.UserID(c), id); err != nil {
		respondPipelineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type correctionRequest struct {
	Breed string `json:"breed"`
}

// POST /api/v1/scans/:id/correction
func (h *ScanHandler) SubmitCorrection(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", "request body must be JSON with a breed field")
		return
	}

	out, err := h.corrections.Submit(c.Request.Context(), id, req.Breed)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	msg := "correction saved"
	if !out.Taught && out.TeachingStatus == domain.TeachingError {
		msg = "correction saved, but the classifier could not be updated"
	}
	response.RespondOK(c, gin.H{
		"correction":      out.Entry,
		"teaching_status": out.TeachingStatus,
		"message":         msg,
	})
}

// POST /api/v1/corrections/:id/reteach
func (h *ScanHandler) Reteach(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	out, err := h.corrections.Reteach(c.Request.Context(), id)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"correction":      out.Entry,
		"teaching_status": out.TeachingStatus,
	})
}

// DELETE /api/v1/corrections/:id
func (h *ScanHandler) DeleteCorrection(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.corrections.Delete(c.Request.Context(), id); err != nil {
		respondPipelineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ScanHandler) scanView(rec *domain.ScanRecord) gin.H {
	sim := domain.ParseSimulation(rec.Simulation)
	simView := gin.H{
		"status":  sim.Status,
		"1_years": publicURL(h.bucket, sim.OneYearPath),
		"3_years": publicURL(h.bucket, sim.ThreeYearPath),
	}
	if sim.Error != "" {
		simView["error"] = sim.Error
	}
	return gin.H{
		"id":                  rec.ID,
		"breed":               rec.Breed,
		"confidence":          rec.Confidence,
		"alternatives":        domain.ParseAlternatives(rec.Alternatives),
		"verification_status": rec.VerificationStatus,
		"prediction_method":   rec.PredictionMethod,
		"description":         rec.Description,
		"origin":              json.RawMessage(rec.Origin),
		"health_risks":        json.RawMessage(rec.HealthRisks),
		"image_url":           h.bucket.PublicURL(rec.ImagePath),
		"simulation":          simView,
		"created_at":          rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func publicURL(bucket gcp.BucketService, key *string) *string {
	if key == nil || strings.TrimSpace(*key) == "" {
		return nil
	}
	u := bucket.PublicURL(*key)
	return &u
}

// readImage accepts either a multipart form with an "image" file or a raw
// image body.
func readImage(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	ct := c.ContentType()
	if strings.HasPrefix(ct, "multipart/") {
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return nil, errors.New("multipart upload must include an image file field")
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(c.Request.Body)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", "path id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func respondPipelineError(c *gin.Context, err error) {
	aerr := classifyError(err)
	msg := domain.UserMessage(err)
	if errors.Is(err, scan.ErrNotFound) {
		msg = "scan not found"
	}
	response.RespondError(c, aerr.Status, aerr.Code, msg)
}

// classifyError maps pipeline errors onto transport status and code. The
// user-facing message comes from domain.UserMessage, never from err itself.
func classifyError(err error) *apierr.Error {
	var aerr *apierr.Error
	if errors.As(err, &aerr) {
		return aerr
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return apierr.New(http.StatusBadRequest, "invalid_image", err)
	}
	var nderr *domain.NotADogError
	if errors.As(err, &nderr) {
		return apierr.New(http.StatusUnprocessableEntity, "not_a_dog", err)
	}
	if errors.Is(err, scan.ErrNotFound) {
		return apierr.New(http.StatusNotFound, "not_found", err)
	}
	var serr *domain.ExternalServiceError
	if errors.As(err, &serr) {
		if serr.Reason == domain.FailureQuota {
			return apierr.New(http.StatusServiceUnavailable, "analysis_unavailable", err)
		}
		return apierr.New(http.StatusBadGateway, "analysis_unavailable", err)
	}
	var perr *domain.ParseError
	if errors.As(err, &perr) {
		return apierr.New(http.StatusBadGateway, "analysis_failed", err)
	}
	return apierr.New(http.StatusInternalServerError, "internal_error", err)
}
