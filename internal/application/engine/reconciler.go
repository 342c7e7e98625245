package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// reconcileOutcome reports what a single-order reconciliation did.
type reconcileOutcome int

const (
	outcomeCreated reconcileOutcome = iota
	outcomeUpdated
)

// reconciler merges canonical orders into durable storage without
// duplication. Lookups run in strict precedence: reference, then id, then
// the date + exact product-id-set heuristic; no match means create.
type reconciler struct {
	orders        vendor.OrderRepository
	defaultBudget string
}

func newReconciler(orders vendor.OrderRepository, defaultBudget string) *reconciler {
	return &reconciler{orders: orders, defaultBudget: defaultBudget}
}

// Reconcile matches one canonical order against storage and creates or
// updates accordingly.
func (r *reconciler) Reconcile(ctx context.Context, pair vendor.OfficeVendor, order *vendor.CanonicalOrder) (reconcileOutcome, error) {
	stored, err := r.match(ctx, pair, order)
	if err != nil {
		return 0, err
	}
	if stored == nil {
		if err := r.create(ctx, pair, order); err != nil {
			return 0, fmt.Errorf("engine: create order %s: %w", orderKey(order), err)
		}
		return outcomeCreated, nil
	}
	if err := r.update(ctx, stored, order); err != nil {
		return 0, fmt.Errorf("engine: update order %s: %w", orderKey(order), err)
	}
	return outcomeUpdated, nil
}

// match resolves the stored counterpart, if any. A reference match always
// wins over an id match: vendors reuse internal ids across storefront
// migrations more often than web references.
func (r *reconciler) match(ctx context.Context, pair vendor.OfficeVendor, order *vendor.CanonicalOrder) (*vendor.StoredOrder, error) {
	if order.VendorOrderReference != "" {
		stored, err := r.orders.FindByReference(ctx, pair.OfficeID, pair.VendorID, order.VendorOrderReference)
		if err != nil || stored != nil {
			return stored, err
		}
	}
	if order.VendorOrderID != "" {
		stored, err := r.orders.FindByVendorOrderID(ctx, pair.OfficeID, pair.VendorID, order.VendorOrderID)
		if err != nil || stored != nil {
			return stored, err
		}
	}
	if order.VendorOrderReference != "" || order.VendorOrderID != "" {
		return nil, nil
	}

	// No identifier at all: fall back to same-day orders with the exact
	// same non-empty product-id set. Two genuinely distinct orders sharing
	// date and set cannot be told apart here; that is a known accuracy
	// limit of the heuristic.
	candidates, err := r.orders.FindByDate(ctx, pair.OfficeID, pair.VendorID, order.OrderDate)
	if err != nil {
		return nil, err
	}
	incoming := order.ProductIDSet()
	for i := range candidates {
		if vendor.SameProductIDSet(candidates[i].ProductIDSet(), incoming) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (r *reconciler) create(ctx context.Context, pair vendor.OfficeVendor, order *vendor.CanonicalOrder) error {
	now := time.Now()
	newOrder := vendor.NewOrder{
		OfficeID:             pair.OfficeID,
		VendorID:             pair.VendorID,
		VendorOrderID:        order.VendorOrderID,
		VendorOrderReference: order.VendorOrderReference,
		OrderDate:            order.OrderDate,
		Status:               order.Status,
		TotalAmount:          order.TotalAmount,
		Currency:             order.Currency,
		ShippingAddress:      order.ShippingAddress,
		InvoiceLink:          order.InvoiceLink,
	}
	for _, line := range order.LineItems {
		budget := line.BudgetCategory
		if budget == "" {
			budget = r.defaultBudget
		}
		newOrder.Lines = append(newOrder.Lines, vendor.NewOrderLine{
			VendorProduct: line.ProductID,
			Attrs: vendor.ProductAttrs{
				Name:         line.Attributes["name"],
				Manufacturer: line.Attributes["manufacturer"],
				Packaging:    line.Attributes["packaging"],
				Price:        line.UnitPrice,
				Currency:     order.Currency,
				LastSeenAt:   now,
			},
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			Status:         line.Status,
			RawStatus:      line.RawStatus,
			Tracking:       line.Tracking,
			BudgetCategory: budget,
		})
	}
	_, err := r.orders.Create(ctx, newOrder)
	return err
}

// update overwrites the vendor-mutable fields and refreshes incoming lines.
// Stored lines absent from the payload are left untouched.
func (r *reconciler) update(ctx context.Context, stored *vendor.StoredOrder, order *vendor.CanonicalOrder) error {
	upd := vendor.OrderUpdate{
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		InvoiceLink: order.InvoiceLink,
	}
	// An id learned since the original create fills in; an already stored
	// id is never blanked.
	if stored.VendorOrderID == "" && order.VendorOrderID != "" {
		upd.VendorOrderID = order.VendorOrderID
	}

	lines := make([]vendor.LineItemUpdate, 0, len(order.LineItems))
	for _, line := range order.LineItems {
		lines = append(lines, vendor.LineItemUpdate{
			VendorProduct: line.ProductID,
			Status:        line.Status,
			RawStatus:     line.RawStatus,
			Tracking:      line.Tracking,
		})
	}
	return r.orders.Update(ctx, stored.ID, upd, lines)
}

func orderKey(order *vendor.CanonicalOrder) string {
	if order.VendorOrderReference != "" {
		return order.VendorOrderReference
	}
	if order.VendorOrderID != "" {
		return order.VendorOrderID
	}
	return order.OrderDate.Format("2006-01-02")
}
