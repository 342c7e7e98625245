package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
	"github.com/ordo/vendor-engine/internal/infrastructure/persistence/models"
)

// GormProductRepository implements vendor.ProductRepository using GORM.
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// Upsert creates the product if absent, otherwise refreshes the observed
// catalog fields and last-seen time.
func (r *GormProductRepository) Upsert(ctx context.Context, vendorID uuid.UUID, nativeID string, attrs vendor.ProductAttrs) (*vendor.ProductRef, error) {
	var ref *vendor.ProductRef
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var innerErr error
		ref, innerErr = upsertProductTx(tx, vendorID, nativeID, attrs, time.Now())
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// upsertProductTx is the transactional core shared with order creation, so a
// created order's product rows commit atomically with the order itself.
func upsertProductTx(tx *gorm.DB, vendorID uuid.UUID, nativeID string, attrs vendor.ProductAttrs, now time.Time) (*vendor.ProductRef, error) {
	lastSeen := attrs.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = now
	}

	var model models.ProductModel
	err := tx.Where("vendor_id = ? AND native_id = ?", vendorID, nativeID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model = models.ProductModel{
			ID:           uuid.New(),
			VendorID:     vendorID,
			NativeID:     nativeID,
			Name:         attrs.Name,
			Manufacturer: attrs.Manufacturer,
			Packaging:    attrs.Packaging,
			Price:        attrs.Price,
			Currency:     attrs.Currency,
			LastSeenAt:   lastSeen,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if createErr := tx.Create(&model).Error; createErr != nil {
			return nil, createErr
		}
		return model.Ref(), nil
	}
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"price":        attrs.Price,
		"last_seen_at": lastSeen,
		"updated_at":   now,
	}
	// Descriptive fields only improve; an empty observation never blanks a
	// previously known value.
	if attrs.Name != "" {
		fields["name"] = attrs.Name
	}
	if attrs.Manufacturer != "" {
		fields["manufacturer"] = attrs.Manufacturer
	}
	if attrs.Packaging != "" {
		fields["packaging"] = attrs.Packaging
	}
	if attrs.Currency != "" {
		fields["currency"] = attrs.Currency
	}
	if err := tx.Model(&models.ProductModel{}).Where("id = ?", model.ID).Updates(fields).Error; err != nil {
		return nil, err
	}
	return model.Ref(), nil
}

// Ensure GormProductRepository implements vendor.ProductRepository
var _ vendor.ProductRepository = (*GormProductRepository)(nil)
