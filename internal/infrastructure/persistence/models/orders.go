package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// InternalOrderModel is the parent aggregation record: one logical order the
// office placed, possibly spanning several vendors.
type InternalOrderModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	OfficeID  uuid.UUID `gorm:"type:uuid;not null;index:idx_internal_orders_office"`
	OrderDate time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InternalOrderModel) TableName() string {
	return "internal_orders"
}

// VendorOrderModel is the persistence model for a stored vendor order.
// Uniqueness is enforced on (office, vendor, vendor_order_id) and
// (office, vendor, vendor_order_reference) where the identifier is known;
// the (office, vendor, order_date) index serves the product-set fallback.
type VendorOrderModel struct {
	ID                   uuid.UUID             `gorm:"type:uuid;primary_key"`
	OfficeID             uuid.UUID             `gorm:"type:uuid;not null;index:idx_vendor_orders_office_vendor_date,priority:1;uniqueIndex:uq_vendor_orders_oid,priority:1;uniqueIndex:uq_vendor_orders_ref,priority:1"`
	VendorID             uuid.UUID             `gorm:"type:uuid;not null;index:idx_vendor_orders_office_vendor_date,priority:2;uniqueIndex:uq_vendor_orders_oid,priority:2;uniqueIndex:uq_vendor_orders_ref,priority:2"`
	InternalOrderID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	VendorOrderID        *string               `gorm:"type:varchar(100);uniqueIndex:uq_vendor_orders_oid,priority:3"`
	VendorOrderReference *string               `gorm:"type:varchar(100);uniqueIndex:uq_vendor_orders_ref,priority:3"`
	OrderDate            time.Time             `gorm:"type:date;not null;index:idx_vendor_orders_office_vendor_date,priority:3"`
	Status               vendor.OrderStatus    `gorm:"type:varchar(20);not null;default:'OPEN'"`
	TotalAmount          decimal.Decimal       `gorm:"type:decimal(12,2);not null"`
	Currency             string                `gorm:"type:varchar(3);not null;default:'USD'"`
	ShippingAddress      string                `gorm:"type:text"`
	InvoiceLink          string                `gorm:"type:text"`
	LineItems            []VendorOrderItemModel `gorm:"foreignKey:OrderID"`
	CreatedAt            time.Time             `gorm:"not null"`
	UpdatedAt            time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (VendorOrderModel) TableName() string {
	return "vendor_orders"
}

// VendorOrderItemModel is one stored order line.
type VendorOrderItemModel struct {
	ID             uuid.UUID             `gorm:"type:uuid;primary_key"`
	OrderID        uuid.UUID             `gorm:"type:uuid;not null;index:idx_vendor_order_items_order"`
	ProductID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	VendorProduct  string                `gorm:"type:varchar(100);not null;index:idx_vendor_order_items_native"`
	Quantity       int                   `gorm:"not null"`
	UnitPrice      decimal.Decimal       `gorm:"type:decimal(12,2);not null"`
	Status         vendor.LineItemStatus `gorm:"type:varchar(20);not null;default:'PROCESSING'"`
	RawStatus      string                `gorm:"type:varchar(100)"`
	TrackingJSON   string                `gorm:"type:jsonb;column:tracking"`
	BudgetCategory string                `gorm:"type:varchar(50)"`
	CreatedAt      time.Time             `gorm:"not null"`
	UpdatedAt      time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (VendorOrderItemModel) TableName() string {
	return "vendor_order_items"
}

// ToDomain converts the persistence model to a domain StoredOrder.
func (m *VendorOrderModel) ToDomain() *vendor.StoredOrder {
	order := &vendor.StoredOrder{
		ID:              m.ID,
		OfficeID:        m.OfficeID,
		VendorID:        m.VendorID,
		InternalOrderID: m.InternalOrderID,
		OrderDate:       m.OrderDate,
		Status:          m.Status,
		TotalAmount:     m.TotalAmount,
		Currency:        m.Currency,
		ShippingAddress: m.ShippingAddress,
		InvoiceLink:     m.InvoiceLink,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.VendorOrderID != nil {
		order.VendorOrderID = *m.VendorOrderID
	}
	if m.VendorOrderReference != nil {
		order.VendorOrderReference = *m.VendorOrderReference
	}
	order.LineItems = make([]vendor.StoredLineItem, len(m.LineItems))
	for i := range m.LineItems {
		order.LineItems[i] = *m.LineItems[i].ToDomain()
	}
	return order
}

// ToDomain converts the persistence model to a domain StoredLineItem.
func (m *VendorOrderItemModel) ToDomain() *vendor.StoredLineItem {
	item := &vendor.StoredLineItem{
		ID:             m.ID,
		OrderID:        m.OrderID,
		ProductID:      m.ProductID,
		VendorProduct:  m.VendorProduct,
		Quantity:       m.Quantity,
		UnitPrice:      m.UnitPrice,
		Status:         m.Status,
		RawStatus:      m.RawStatus,
		BudgetCategory: m.BudgetCategory,
	}
	if m.TrackingJSON != "" {
		var tr vendor.TrackingInfo
		if err := json.Unmarshal([]byte(m.TrackingJSON), &tr); err == nil {
			item.Tracking = &tr
		}
	}
	return item
}

// EncodeTracking serializes tracking detail into the jsonb column.
func EncodeTracking(tr *vendor.TrackingInfo) string {
	if tr == nil {
		return ""
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return ""
	}
	return string(b)
}
