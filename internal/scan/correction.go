package scan

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pupscan/pupscan-backend/internal/clients/classifier"
	"github.com/pupscan/pupscan-backend/internal/clients/gcp"
	"github.com/pupscan/pupscan-backend/internal/data/repos"
	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/dbctx"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// Notifier delivers the "your scan was reviewed" message to the owner.
// Delivery is best-effort and never blocks the correction itself.
type Notifier interface {
	CorrectionApplied(ctx context.Context, ownerID uuid.UUID, scanID uuid.UUID, breed string)
}

type logNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) Notifier {
	return &logNotifier{log: log.With("service", "Notifier")}
}

func (n *logNotifier) CorrectionApplied(_ context.Context, ownerID, scanID uuid.UUID, breed string) {
	n.log.Info("correction applied",
		"owner_user_id", ownerID.String(),
		"scan_id", scanID.String(),
		"breed", breed,
	)
}

// CorrectionOutcome reports how the correction landed: the write always
// succeeds or the whole call fails, but the classifier teach step may have
// failed independently.
type CorrectionOutcome struct {
	Entry          *domain.CorrectionEntry
	Taught         bool
	TeachingStatus string
}

type CorrectionService struct {
	log         *logger.Logger
	db          *gorm.DB
	scans       repos.ScanRepo
	corrections repos.CorrectionRepo
	classifier  classifier.Client
	bucket      gcp.BucketService
	notifier    Notifier
}

func NewCorrectionService(
	log *logger.Logger,
	db *gorm.DB,
	scans repos.ScanRepo,
	corrections repos.CorrectionRepo,
	cls classifier.Client,
	bucket gcp.BucketService,
	notifier Notifier,
) *CorrectionService {
	return &CorrectionService{
		log:         log.With("service", "CorrectionService"),
		db:          db,
		scans:       scans,
		corrections: corrections,
		classifier:  cls,
		bucket:      bucket,
		notifier:    notifier,
	}
}

// Submit records a human breed correction. The entry insert and the scan
// update commit atomically; notification and classifier teaching run after
// the commit and are best-effort.
func (s *CorrectionService) Submit(ctx context.Context, scanID uuid.UUID, correctedBreed string) (*CorrectionOutcome, error) {
	correctedBreed = strings.TrimSpace(correctedBreed)
	if correctedBreed == "" {
		return nil, &domain.ValidationError{Reason: "corrected breed is required"}
	}

	rec, err := s.scans.GetByID(dbctx.New(ctx), scanID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	entry := &domain.CorrectionEntry{
		ID:                     uuid.New(),
		ScanRecordID:           rec.ID,
		ImagePath:              rec.ImagePath,
		ImageDigest:            rec.ImageDigest,
		PredictedBreed:         rec.Breed,
		CorrectedBreed:         correctedBreed,
		ConfidenceAtCorrection: rec.Confidence,
		TeachingStatus:         domain.TeachingSkipped,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		if err := s.corrections.Create(dbc, entry); err != nil {
			return err
		}
		return s.scans.UpdateFields(dbc, rec.ID, map[string]interface{}{
			"breed":               correctedBreed,
			"confidence":          100.0,
			"verification_status": domain.VerificationVerified,
			"prediction_method":   domain.MethodAdminCorrected,
			"alternatives":        domain.AlternativesJSON(nil),
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.CorrectionApplied(ctx, rec.OwnerUserID, rec.ID, correctedBreed)

	status := s.teach(ctx, entry)
	return &CorrectionOutcome{
		Entry:          entry,
		Taught:         status == domain.TeachingAdded || status == domain.TeachingUpdated,
		TeachingStatus: status,
	}, nil
}

// Reteach replays the classifier teach step for a correction whose first
// attempt failed or was skipped.
func (s *CorrectionService) Reteach(ctx context.Context, correctionID uuid.UUID) (*CorrectionOutcome, error) {
	entry, err := s.corrections.GetByID(dbctx.New(ctx), correctionID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}

	status := s.teach(ctx, entry)
	return &CorrectionOutcome{
		Entry:          entry,
		Taught:         status == domain.TeachingAdded || status == domain.TeachingUpdated,
		TeachingStatus: status,
	}, nil
}

// Delete removes the correction entry only. The scan it corrected stays
// verified: the human verdict outlives its audit row.
func (s *CorrectionService) Delete(ctx context.Context, correctionID uuid.UUID) error {
	entry, err := s.corrections.GetByID(dbctx.New(ctx), correctionID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotFound
	}
	return s.corrections.Delete(dbctx.New(ctx), entry.ID)
}

// teach feeds the corrected pair into the classifier and records the
// outcome. Every failure path lands on teaching_status=error; none of them
// propagate.
func (s *CorrectionService) teach(ctx context.Context, entry *domain.CorrectionEntry) string {
	status := domain.TeachingError

	image, err := s.bucket.Download(ctx, entry.ImagePath)
	if err != nil {
		s.log.Warn("teach skipped: image download failed",
			"correction_id", entry.ID.String(), "error", err)
	} else if res, err := s.classifier.Teach(ctx, image, entry.CorrectedBreed); err != nil {
		s.log.Warn("classifier teach failed",
			"correction_id", entry.ID.String(), "error", err)
	} else {
		status = res.Status
	}

	if err := s.corrections.UpdateTeachingStatus(dbctx.New(ctx), entry.ID, status); err != nil {
		s.log.Error("teaching status update failed",
			"correction_id", entry.ID.String(), "error", err)
	}
	entry.TeachingStatus = status
	return status
}
