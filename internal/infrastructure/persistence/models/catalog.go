package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// ProductModel is the catalog row for one vendor-native product, unique per
// (vendor, native_id).
type ProductModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key"`
	VendorID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uq_products_vendor_native,priority:1"`
	NativeID     string          `gorm:"type:varchar(100);not null;uniqueIndex:uq_products_vendor_native,priority:2"`
	Name         string          `gorm:"type:varchar(255)"`
	Manufacturer string          `gorm:"type:varchar(255)"`
	Packaging    string          `gorm:"type:varchar(100)"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2)"`
	Currency     string          `gorm:"type:varchar(3);default:'USD'"`
	LastSeenAt   time.Time       `gorm:"not null;index"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "vendor_products"
}

// Ref returns the domain reference for this row.
func (m *ProductModel) Ref() *vendor.ProductRef {
	return &vendor.ProductRef{ID: m.ID, VendorID: m.VendorID, NativeID: m.NativeID}
}

// VendorCredentialModel stores the login for one office-vendor link.
type VendorCredentialModel struct {
	OfficeID       uuid.UUID `gorm:"type:uuid;primary_key"`
	VendorID       uuid.UUID `gorm:"type:uuid;primary_key"`
	Slug           string    `gorm:"type:varchar(64);not null;index"`
	Username       string    `gorm:"type:varchar(255);not null"`
	Secret         string    `gorm:"type:text;not null"`
	RelinkRequired bool      `gorm:"not null;default:false"`
	FailureCount   int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (VendorCredentialModel) TableName() string {
	return "vendor_credentials"
}

// ToDomain converts the persistence model to a domain Credential.
func (m *VendorCredentialModel) ToDomain() *vendor.Credential {
	return &vendor.Credential{
		VendorID:       m.VendorID,
		OfficeID:       m.OfficeID,
		Username:       m.Username,
		Secret:         m.Secret,
		RelinkRequired: m.RelinkRequired,
		FailureCount:   m.FailureCount,
		UpdatedAt:      m.UpdatedAt,
	}
}
