package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Prediction method tags. "model" and "memory" are the low-quality tags: a
// record carrying one of them never short-circuits a re-scan unless its
// confidence clears the reuse floor.
const (
	MethodExactMatch           = "exact_match"
	MethodAdminCorrected       = "admin_corrected"
	MethodMLGeminiConfirmed    = "ml_gemini_confirmed"
	MethodGeminiOverride       = "gemini_override"
	MethodGeminiHybridOverride = "gemini_hybrid_override"
	MethodModel                = "model"
	MethodMemory               = "memory"
)

const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
)

const (
	SimulationPending    = "pending"
	SimulationQueued     = "queued"
	SimulationGenerating = "generating"
	SimulationComplete   = "complete"
	SimulationFailed     = "failed"
)

// Teaching outcomes recorded on a CorrectionEntry after the best-effort
// classifier teach call.
const (
	TeachingAdded   = "added"
	TeachingUpdated = "updated"
	TeachingSkipped = "skipped"
	TeachingError   = "error"
)

type ScanRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	ImagePath   string `gorm:"column:image_path;not null" json:"image_path"`
	ImageDigest string `gorm:"column:image_digest;not null;index" json:"image_digest"`

	Breed        string         `gorm:"column:breed" json:"breed"`
	Confidence   float64        `gorm:"column:confidence" json:"confidence"`
	Alternatives datatypes.JSON `gorm:"column:alternatives;type:jsonb" json:"alternatives"`

	VerificationStatus string `gorm:"column:verification_status;not null;default:'pending'" json:"verification_status"`
	PredictionMethod   string `gorm:"column:prediction_method" json:"prediction_method"`

	Description string         `gorm:"column:description;type:text" json:"description"`
	Origin      datatypes.JSON `gorm:"column:origin;type:jsonb" json:"origin"`
	HealthRisks datatypes.JSON `gorm:"column:health_risks;type:jsonb" json:"health_risks"`
	Simulation  datatypes.JSON `gorm:"column:simulation;type:jsonb" json:"simulation"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ScanRecord) TableName() string { return "scan_record" }

func (r *ScanRecord) Verified() bool {
	return strings.EqualFold(r.VerificationStatus, VerificationVerified)
}

type BreedAlternative struct {
	Breed      string  `json:"breed"`
	Confidence float64 `json:"confidence"`
}

// SimulationData is the structured simulation block stored in
// ScanRecord.Simulation. Variant paths are pointers: a completed run may
// carry a null path when that variant never rendered.
type SimulationData struct {
	Status        string          `json:"status"`
	OneYearPath   *string         `json:"1_years"`
	ThreeYearPath *string         `json:"3_years"`
	BreedProfile  json.RawMessage `json:"breed_profile,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func (s SimulationData) JSON() datatypes.JSON {
	b, _ := json.Marshal(s)
	return datatypes.JSON(b)
}

func ParseSimulation(raw datatypes.JSON) SimulationData {
	out := SimulationData{Status: SimulationPending}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	if strings.TrimSpace(out.Status) == "" {
		out.Status = SimulationPending
	}
	return out
}

func ParseAlternatives(raw datatypes.JSON) []BreedAlternative {
	if len(raw) == 0 {
		return nil
	}
	var out []BreedAlternative
	_ = json.Unmarshal(raw, &out)
	return out
}

func AlternativesJSON(alts []BreedAlternative) datatypes.JSON {
	if alts == nil {
		alts = []BreedAlternative{}
	}
	b, _ := json.Marshal(alts)
	return datatypes.JSON(b)
}

type CorrectionEntry struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ScanRecordID uuid.UUID `gorm:"type:uuid;not null;index" json:"scan_record_id"`

	ImagePath   string `gorm:"column:image_path" json:"image_path"`
	ImageDigest string `gorm:"column:image_digest;not null;index" json:"image_digest"`

	PredictedBreed         string  `gorm:"column:predicted_breed" json:"predicted_breed"`
	CorrectedBreed         string  `gorm:"column:corrected_breed;not null" json:"corrected_breed"`
	ConfidenceAtCorrection float64 `gorm:"column:confidence_at_correction" json:"confidence_at_correction"`

	TeachingStatus string `gorm:"column:teaching_status" json:"teaching_status"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CorrectionEntry) TableName() string { return "correction_entry" }
