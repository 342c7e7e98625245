package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ordo/vendor-engine/internal/domain/shared"
	"github.com/ordo/vendor-engine/internal/domain/vendor"
	"github.com/ordo/vendor-engine/internal/infrastructure/persistence/models"
)

// GormCredentialRepository implements vendor.CredentialRepository using GORM.
type GormCredentialRepository struct {
	db *gorm.DB
}

// NewGormCredentialRepository creates a new GormCredentialRepository
func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

// Find returns the stored credential for the office-vendor link.
func (r *GormCredentialRepository) Find(ctx context.Context, officeID, vendorID uuid.UUID) (*vendor.Credential, error) {
	var model models.VendorCredentialModel
	err := r.db.WithContext(ctx).
		Where("office_id = ? AND vendor_id = ?", officeID, vendorID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// RecordAuthFailure increments the consecutive-failure counter under a row
// lock and returns the new count. Concurrent runs for the same pair are
// serialized upstream, but the lock keeps the counter exact regardless.
func (r *GormCredentialRepository) RecordAuthFailure(ctx context.Context, officeID, vendorID uuid.UUID) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.VendorCredentialModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("office_id = ? AND vendor_id = ?", officeID, vendorID).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}
		count = model.FailureCount + 1
		return tx.Model(&models.VendorCredentialModel{}).
			Where("office_id = ? AND vendor_id = ?", officeID, vendorID).
			Updates(map[string]any{
				"failure_count": count,
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ResetAuthFailures clears the counter after a successful login.
func (r *GormCredentialRepository) ResetAuthFailures(ctx context.Context, officeID, vendorID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.VendorCredentialModel{}).
		Where("office_id = ? AND vendor_id = ?", officeID, vendorID).
		Updates(map[string]any{
			"failure_count": 0,
			"updated_at":    time.Now(),
		}).Error
}

// FlagRelinkRequired marks the credential as needing an explicit relink.
// Runs for this pair stop authenticating until the flag is cleared.
func (r *GormCredentialRepository) FlagRelinkRequired(ctx context.Context, officeID, vendorID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.VendorCredentialModel{}).
		Where("office_id = ? AND vendor_id = ?", officeID, vendorID).
		Updates(map[string]any{
			"relink_required": true,
			"updated_at":      time.Now(),
		}).Error
}

// ActivePairs lists the linked office-vendor pairs eligible for scheduled
// history fetches. Credentials flagged for relink are excluded: they would
// only burn an authentication attempt.
func (r *GormCredentialRepository) ActivePairs(ctx context.Context) ([]vendor.OfficeVendor, error) {
	var rows []models.VendorCredentialModel
	err := r.db.WithContext(ctx).
		Where("relink_required = ?", false).
		Order("office_id ASC, vendor_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	pairs := make([]vendor.OfficeVendor, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, vendor.OfficeVendor{
			OfficeID: row.OfficeID,
			VendorID: row.VendorID,
			Slug:     vendor.Slug(row.Slug),
		})
	}
	return pairs, nil
}

// Ensure GormCredentialRepository implements vendor.CredentialRepository
var _ vendor.CredentialRepository = (*GormCredentialRepository)(nil)
