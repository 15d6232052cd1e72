package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/dbctx"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

type CorrectionRepo interface {
	Create(dbc dbctx.Context, entry *domain.CorrectionEntry) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.CorrectionEntry, error)
	LatestByDigest(dbc dbctx.Context, digest string) (*domain.CorrectionEntry, error)
	ListByScan(dbc dbctx.Context, scanID uuid.UUID) ([]*domain.CorrectionEntry, error)
	UpdateTeachingStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type correctionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCorrectionRepo(db *gorm.DB, baseLog *logger.Logger) CorrectionRepo {
	return &correctionRepo{
		db:  db,
		log: baseLog.With("repo", "CorrectionRepo"),
	}
}

func (r *correctionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *correctionRepo) Create(dbc dbctx.Context, entry *domain.CorrectionEntry) error {
	if entry == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Create(entry).Error
}

func (r *correctionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.CorrectionEntry, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var entry domain.CorrectionEntry
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *correctionRepo) LatestByDigest(dbc dbctx.Context, digest string) (*domain.CorrectionEntry, error) {
	if digest == "" {
		return nil, nil
	}
	var entry domain.CorrectionEntry
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("image_digest = ?", digest).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *correctionRepo) ListByScan(dbc dbctx.Context, scanID uuid.UUID) ([]*domain.CorrectionEntry, error) {
	var out []*domain.CorrectionEntry
	if scanID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("scan_record_id = ?", scanID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *correctionRepo) UpdateTeachingStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.CorrectionEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"teaching_status": status,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *correctionRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&domain.CorrectionEntry{}).Error
}
