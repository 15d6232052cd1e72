package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pupscan/pupscan-backend/internal/breed"
	"github.com/pupscan/pupscan-backend/internal/clients/gcp"
	rediscache "github.com/pupscan/pupscan-backend/internal/clients/redis"
	"github.com/pupscan/pupscan-backend/internal/data/repos"
	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/dbctx"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

var ErrNotFound = errors.New("scan record not found")

// Engine is the breed consensus engine.
type Engine interface {
	Run(ctx context.Context, image []byte) (*breed.Result, error)
}

// DogGate is the binary pre-classification check.
type DogGate interface {
	DetectDog(ctx context.Context, image []byte) (bool, error)
}

// Dispatcher hands a scan to the asynchronous age-progression queue.
type Dispatcher interface {
	DispatchAgeProgression(ctx context.Context, scanID uuid.UUID) error
}

const statusCacheTTL = 10 * time.Second

type Service struct {
	log         *logger.Logger
	scans       repos.ScanRepo
	corrections repos.CorrectionRepo
	engine      Engine
	gate        DogGate
	bucket      gcp.BucketService
	status      rediscache.StatusCache
	dispatcher  Dispatcher
}

func NewService(
	log *logger.Logger,
	scans repos.ScanRepo,
	corrections repos.CorrectionRepo,
	engine Engine,
	gate DogGate,
	bucket gcp.BucketService,
	status rediscache.StatusCache,
	dispatcher Dispatcher,
) *Service {
	return &Service{
		log:         log.With("service", "ScanService"),
		scans:       scans,
		corrections: corrections,
		engine:      engine,
		gate:        gate,
		bucket:      bucket,
		status:      status,
		dispatcher:  dispatcher,
	}
}

// Analyze runs the full upload pipeline: validation, dog gate, digest
// lookup, consensus (unless a correction or reusable prior short-circuits
// it), persistence and job dispatch.
func (s *Service) Analyze(ctx context.Context, ownerID uuid.UUID, data []byte) (*domain.ScanRecord, error) {
	if err := ValidateUpload(data); err != nil {
		return nil, err
	}

	// FailOpen: a broken gate must not block uploads, only a confident "no
	// dog" verdict does.
	isDog, gateErr := s.gate.DetectDog(ctx, data)
	if gateErr != nil {
		s.log.Warn("dog gate errored; failing open", "error", gateErr)
	} else if !isDog {
		return nil, &domain.NotADogError{}
	}

	digest := Digest(data)
	dbc := dbctx.New(ctx)

	// A human-corrected image is never re-inferred.
	corr, err := s.corrections.LatestByDigest(dbc, digest)
	if err != nil {
		return nil, err
	}
	if corr != nil {
		return s.createFromCorrection(ctx, ownerID, data, digest, corr)
	}

	prior, err := s.scans.LatestByDigest(dbc, digest)
	if err != nil {
		return nil, err
	}
	if Reusable(prior) {
		return s.createFromPrior(ctx, ownerID, data, digest, prior)
	}

	return s.createFromConsensus(ctx, ownerID, data, digest)
}

func (s *Service) createFromCorrection(ctx context.Context, ownerID uuid.UUID, data []byte, digest string, corr *domain.CorrectionEntry) (*domain.ScanRecord, error) {
	rec := s.newRecord(ownerID, data, digest)
	rec.Breed = corr.CorrectedBreed
	rec.Confidence = 100
	rec.VerificationStatus = domain.VerificationVerified
	rec.PredictionMethod = domain.MethodAdminCorrected
	rec.Alternatives = domain.AlternativesJSON(nil)

	prior, err := s.scans.GetByID(dbctx.New(ctx), corr.ScanRecordID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		rec.Description = prior.Description
		rec.Origin = prior.Origin
		rec.HealthRisks = prior.HealthRisks
		rec.Simulation = prior.Simulation
	}

	return s.persistAndMaybeDispatch(ctx, rec, data)
}

func (s *Service) createFromPrior(ctx context.Context, ownerID uuid.UUID, data []byte, digest string, prior *domain.ScanRecord) (*domain.ScanRecord, error) {
	rec := s.newRecord(ownerID, data, digest)
	rec.Breed = prior.Breed
	rec.Confidence = prior.Confidence
	rec.PredictionMethod = domain.MethodExactMatch
	rec.Alternatives = prior.Alternatives
	rec.Description = prior.Description
	rec.Origin = prior.Origin
	rec.HealthRisks = prior.HealthRisks
	rec.Simulation = prior.Simulation

	return s.persistAndMaybeDispatch(ctx, rec, data)
}

func (s *Service) createFromConsensus(ctx context.Context, ownerID uuid.UUID, data []byte, digest string) (*domain.ScanRecord, error) {
	result, err := s.engine.Run(ctx, data)
	if err != nil {
		return nil, err
	}

	rec := s.newRecord(ownerID, data, digest)
	rec.Breed = result.Breed
	rec.Confidence = result.Confidence
	rec.PredictionMethod = result.Method
	rec.Alternatives = domain.AlternativesJSON(result.Alternatives)
	rec.Description = result.Description
	rec.Origin = datatypes.JSON(result.Origin)
	rec.HealthRisks = datatypes.JSON(result.HealthRisks)

	return s.persistAndMaybeDispatch(ctx, rec, data)
}

func (s *Service) newRecord(ownerID uuid.UUID, data []byte, digest string) *domain.ScanRecord {
	id := uuid.New()
	ext := "jpg"
	if f := sniffFormat(data); f != "" {
		ext = f
	}
	return &domain.ScanRecord{
		ID:                 id,
		OwnerUserID:        ownerID,
		ImagePath:          fmt.Sprintf("scans/%s/original.%s", id.String(), ext),
		ImageDigest:        digest,
		VerificationStatus: domain.VerificationPending,
		Simulation:         domain.SimulationData{Status: domain.SimulationQueued}.JSON(),
	}
}

func (s *Service) persistAndMaybeDispatch(ctx context.Context, rec *domain.ScanRecord, data []byte) (*domain.ScanRecord, error) {
	if err := s.bucket.Upload(ctx, rec.ImagePath, data); err != nil {
		return nil, &domain.StorageError{Op: "upload", Err: err}
	}
	if err := s.scans.Create(dbctx.New(ctx), rec); err != nil {
		return nil, err
	}

	sim := domain.ParseSimulation(rec.Simulation)
	if sim.Status == domain.SimulationComplete {
		return rec, nil
	}
	if sim.Status != domain.SimulationQueued {
		// Copied-forward simulation that never finished: restart it.
		sim = domain.SimulationData{Status: domain.SimulationQueued}
		if err := s.scans.UpdateFields(dbctx.New(ctx), rec.ID, map[string]interface{}{
			"simulation": sim.JSON(),
		}); err != nil {
			return nil, err
		}
		rec.Simulation = sim.JSON()
	}
	if err := s.dispatcher.DispatchAgeProgression(ctx, rec.ID); err != nil {
		s.log.Error("age progression dispatch failed", "scan_id", rec.ID.String(), "error", err)
	}
	return rec, nil
}

// Get loads a scan owned by ownerID. A record belonging to another user is
// indistinguishable from a missing one.
func (s *Service) Get(ctx context.Context, ownerID, id uuid.UUID) (*domain.ScanRecord, error) {
	rec, err := s.scans.GetByID(dbctx.New(ctx), id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.OwnerUserID != ownerID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]*domain.ScanRecord, error) {
	return s.scans.ListByOwner(dbctx.New(ctx), ownerID)
}

// Regenerate resets a finished (or failed) simulation and re-dispatches the
// job. It is the only sanctioned way back from a terminal simulation state.
func (s *Service) Regenerate(ctx context.Context, ownerID, id uuid.UUID) error {
	rec, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	sim := domain.SimulationData{Status: domain.SimulationQueued}
	if err := s.scans.UpdateFields(dbctx.New(ctx), rec.ID, map[string]interface{}{
		"simulation": sim.JSON(),
	}); err != nil {
		return err
	}
	s.status.Invalidate(ctx, rec.ID)

	return s.dispatcher.DispatchAgeProgression(ctx, rec.ID)
}

// StatusPayload is the polling contract for in-progress simulations.
type StatusPayload struct {
	Status        string             `json:"status"`
	Simulations   map[string]*string `json:"simulations"`
	OriginalImage string             `json:"original_image"`
	Timestamp     time.Time          `json:"timestamp"`
}

func (s *Service) SimulationStatus(ctx context.Context, ownerID, id uuid.UUID) ([]byte, error) {
	// Ownership is checked before the cache so a cached payload is never
	// served to another user.
	rec, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.status.Get(ctx, id); ok {
		return cached, nil
	}
	sim := domain.ParseSimulation(rec.Simulation)

	payload := StatusPayload{
		Status: sim.Status,
		Simulations: map[string]*string{
			"1_years": publicURLOrNil(s.bucket, sim.OneYearPath),
			"3_years": publicURLOrNil(s.bucket, sim.ThreeYearPath),
		},
		OriginalImage: s.bucket.PublicURL(rec.ImagePath),
		Timestamp:     time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	s.status.Set(ctx, id, raw, statusCacheTTL)
	return raw, nil
}

func publicURLOrNil(bucket gcp.BucketService, key *string) *string {
	if key == nil || strings.TrimSpace(*key) == "" {
		return nil
	}
	u := bucket.PublicURL(*key)
	return &u
}

// Delete removes the record and its stored blobs. Blob removal is
// best-effort: an orphaned object is preferable to a half-deleted record.
func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	rec, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	keys := []string{rec.ImagePath}
	sim := domain.ParseSimulation(rec.Simulation)
	if sim.OneYearPath != nil {
		keys = append(keys, *sim.OneYearPath)
	}
	if sim.ThreeYearPath != nil {
		keys = append(keys, *sim.ThreeYearPath)
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.bucket.Delete(ctx, key); err != nil {
			s.log.Warn("blob delete failed", "key", key, "error", err)
		}
	}

	if err := s.scans.Delete(dbctx.New(ctx), rec.ID); err != nil {
		return err
	}
	s.status.Invalidate(ctx, rec.ID)
	return nil
}
