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

type ScanRepo interface {
	Create(dbc dbctx.Context, rec *domain.ScanRecord) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.ScanRecord, error)
	LatestByDigest(dbc dbctx.Context, digest string) (*domain.ScanRecord, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*domain.ScanRecord, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type scanRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScanRepo(db *gorm.DB, baseLog *logger.Logger) ScanRepo {
	return &scanRepo{
		db:  db,
		log: baseLog.With("repo", "ScanRepo"),
	}
}

func (r *scanRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *scanRepo) Create(dbc dbctx.Context, rec *domain.ScanRecord) error {
	if rec == nil {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Create(rec).Error
}

func (r *scanRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.ScanRecord, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var rec domain.ScanRecord
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *scanRepo) LatestByDigest(dbc dbctx.Context, digest string) (*domain.ScanRecord, error) {
	if digest == "" {
		return nil, nil
	}
	var rec domain.ScanRecord
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("image_digest = ?", digest).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *scanRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*domain.ScanRecord, error) {
	var out []*domain.ScanRecord
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scanRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.ScanRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *scanRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&domain.ScanRecord{}).Error
}
