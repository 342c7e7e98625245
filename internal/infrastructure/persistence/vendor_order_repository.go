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

// GormVendorOrderRepository implements vendor.OrderRepository using GORM.
// One order's mutation (order row plus all of its line items) commits as a
// single transaction; a partial write is never visible.
type GormVendorOrderRepository struct {
	db *gorm.DB
}

// NewGormVendorOrderRepository creates a new GormVendorOrderRepository
func NewGormVendorOrderRepository(db *gorm.DB) *GormVendorOrderRepository {
	return &GormVendorOrderRepository{db: db}
}

// FindByReference looks up by (office, vendor, vendor_order_reference).
func (r *GormVendorOrderRepository) FindByReference(ctx context.Context, officeID, vendorID uuid.UUID, reference string) (*vendor.StoredOrder, error) {
	return r.findOne(ctx, "office_id = ? AND vendor_id = ? AND vendor_order_reference = ?", officeID, vendorID, reference)
}

// FindByVendorOrderID looks up by (office, vendor, vendor_order_id).
func (r *GormVendorOrderRepository) FindByVendorOrderID(ctx context.Context, officeID, vendorID uuid.UUID, vendorOrderID string) (*vendor.StoredOrder, error) {
	return r.findOne(ctx, "office_id = ? AND vendor_id = ? AND vendor_order_id = ?", officeID, vendorID, vendorOrderID)
}

func (r *GormVendorOrderRepository) findOne(ctx context.Context, query string, args ...any) (*vendor.StoredOrder, error) {
	var model models.VendorOrderModel
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where(query, args...).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByDate returns all rows for (office, vendor, order_date), with line
// items loaded so callers can compare product-id sets.
func (r *GormVendorOrderRepository) FindByDate(ctx context.Context, officeID, vendorID uuid.UUID, date time.Time) ([]vendor.StoredOrder, error) {
	var orderModels []models.VendorOrderModel
	day := date.Truncate(24 * time.Hour)
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("office_id = ? AND vendor_id = ? AND order_date = ?", officeID, vendorID, day).
		Order("created_at ASC").
		Find(&orderModels).Error
	if err != nil {
		return nil, err
	}

	orders := make([]vendor.StoredOrder, len(orderModels))
	for i := range orderModels {
		orders[i] = *orderModels[i].ToDomain()
	}
	return orders, nil
}

// Create persists the order, its line items, the product upserts, and the
// parent internal-order record in one transaction.
func (r *GormVendorOrderRepository) Create(ctx context.Context, order vendor.NewOrder) (*vendor.StoredOrder, error) {
	now := time.Now()
	orderModel := &models.VendorOrderModel{
		ID:              uuid.New(),
		OfficeID:        order.OfficeID,
		VendorID:        order.VendorID,
		OrderDate:       order.OrderDate.Truncate(24 * time.Hour),
		Status:          order.Status,
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		InvoiceLink:     order.InvoiceLink,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.VendorOrderID != "" {
		orderModel.VendorOrderID = &order.VendorOrderID
	}
	if order.VendorOrderReference != "" {
		orderModel.VendorOrderReference = &order.VendorOrderReference
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Parent aggregation record, so multi-vendor spend rolls up under
		// one logical order.
		internal := &models.InternalOrderModel{
			ID:        uuid.New(),
			OfficeID:  order.OfficeID,
			OrderDate: orderModel.OrderDate,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(internal).Error; err != nil {
			return err
		}
		orderModel.InternalOrderID = internal.ID

		if err := tx.Create(orderModel).Error; err != nil {
			return err
		}

		for _, line := range order.Lines {
			ref, err := upsertProductTx(tx, order.VendorID, line.VendorProduct, line.Attrs, now)
			if err != nil {
				return err
			}
			item := &models.VendorOrderItemModel{
				ID:             uuid.New(),
				OrderID:        orderModel.ID,
				ProductID:      ref.ID,
				VendorProduct:  line.VendorProduct,
				Quantity:       line.Quantity,
				UnitPrice:      line.UnitPrice,
				Status:         line.Status,
				RawStatus:      line.RawStatus,
				TrackingJSON:   models.EncodeTracking(line.Tracking),
				BudgetCategory: line.BudgetCategory,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
			orderModel.LineItems = append(orderModel.LineItems, *item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orderModel.ToDomain(), nil
}

// Update overwrites the vendor-mutable order fields and refreshes the listed
// line items by vendor product id. Stored lines absent from the update list
// are left untouched.
func (r *GormVendorOrderRepository) Update(ctx context.Context, orderID uuid.UUID, upd vendor.OrderUpdate, lines []vendor.LineItemUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]any{
			"status":       upd.Status,
			"total_amount": upd.TotalAmount,
			"updated_at":   time.Now(),
		}
		if upd.VendorOrderID != "" {
			fields["vendor_order_id"] = upd.VendorOrderID
		}
		if upd.InvoiceLink != "" {
			fields["invoice_link"] = upd.InvoiceLink
		}
		if err := tx.Model(&models.VendorOrderModel{}).Where("id = ?", orderID).Updates(fields).Error; err != nil {
			return err
		}

		for _, line := range lines {
			itemFields := map[string]any{
				"status":     line.Status,
				"raw_status": line.RawStatus,
				"updated_at": time.Now(),
			}
			if line.Tracking != nil {
				itemFields["tracking"] = models.EncodeTracking(line.Tracking)
			}
			if err := tx.Model(&models.VendorOrderItemModel{}).
				Where("order_id = ? AND vendor_product = ?", orderID, line.VendorProduct).
				Updates(itemFields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Ensure GormVendorOrderRepository implements vendor.OrderRepository
var _ vendor.OrderRepository = (*GormVendorOrderRepository)(nil)
