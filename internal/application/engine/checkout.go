package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/domain/shared"
	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// checkoutState tracks progress through the state machine.
type checkoutState string

const (
	checkoutEmpty     checkoutState = "EMPTY"
	checkoutPopulated checkoutState = "POPULATED"
	checkoutReviewed  checkoutState = "REVIEWED"
	checkoutConfirmed checkoutState = "CONFIRMED"
	checkoutFailed    checkoutState = "FAILED"
)

// ConfirmOrder drives the checkout state machine for one vendor:
// Empty -> Populated -> Reviewed -> Confirmed|Failed. Fake and redundant
// modes stop at Reviewed and synthesize a confirmation from the vendor's
// reviewed totals; only real mode reaches the submit primitive. Any failure
// after cart population degrades to a best-effort confirmation instead of
// propagating, so one vendor outage never blocks a multi-vendor checkout.
func (e *Engine) ConfirmOrder(ctx context.Context, pair vendor.OfficeVendor, items []vendor.RequestedItem, method vendor.ShippingMethod, mode vendor.CheckoutMode) (*vendor.OrderConfirmation, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("engine: unknown checkout mode %q: %w", mode, shared.ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("engine: no items to purchase: %w", shared.ErrInvalidInput)
	}

	var confirmation *vendor.OrderConfirmation
	err := e.withSession(ctx, pair, func(adapter vendor.Adapter, sess *vendor.Session) error {
		confirmation = e.runCheckout(ctx, pair, adapter, sess, items, method, mode)
		return nil
	})
	if err != nil {
		// Authentication and registry failures happen before the cart is
		// touched; there is nothing to degrade to.
		return nil, err
	}
	return confirmation, nil
}

// VendorCart is one vendor's slice of a multi-vendor checkout.
type VendorCart struct {
	Pair   vendor.OfficeVendor
	Items  []vendor.RequestedItem
	Method vendor.ShippingMethod
}

// CheckoutResult pairs one cart's confirmation with its terminal error.
// Exactly one of Confirmation and Err is set.
type CheckoutResult struct {
	Pair         vendor.OfficeVendor
	Confirmation *vendor.OrderConfirmation
	Err          error
}

// ConfirmOrders runs one checkout state machine per vendor cart. Carts are
// independent: results come back in cart order, and a failure on one vendor
// never cancels the others.
func (e *Engine) ConfirmOrders(ctx context.Context, carts []VendorCart, mode vendor.CheckoutMode) []CheckoutResult {
	results := make([]CheckoutResult, len(carts))

	var wg sync.WaitGroup
	for i, cart := range carts {
		wg.Add(1)
		go func(i int, cart VendorCart) {
			defer wg.Done()
			conf, err := e.ConfirmOrder(ctx, cart.Pair, cart.Items, cart.Method, mode)
			results[i] = CheckoutResult{Pair: cart.Pair, Confirmation: conf, Err: err}
		}(i, cart)
	}
	wg.Wait()

	return results
}

func (e *Engine) runCheckout(ctx context.Context, pair vendor.OfficeVendor, adapter vendor.Adapter, sess *vendor.Session, items []vendor.RequestedItem, method vendor.ShippingMethod, mode vendor.CheckoutMode) *vendor.OrderConfirmation {
	state := checkoutEmpty

	// Populated: clearing first is mandatory, vendor carts survive abandoned
	// sessions server-side.
	if err := adapter.ClearCart(ctx, sess); err != nil {
		return e.degrade(pair, items, mode, state, err)
	}
	if err := adapter.PopulateCart(ctx, sess, items); err != nil {
		return e.degrade(pair, items, mode, state, err)
	}
	state = checkoutPopulated

	// Reviewed: totals always come from the vendor, never the local cache.
	totals, err := adapter.ReviewCheckout(ctx, sess, method)
	if err != nil {
		return e.degrade(pair, items, mode, state, err)
	}
	state = checkoutReviewed

	if mode != vendor.ModeReal {
		return &vendor.OrderConfirmation{
			VendorOrderID: placeholderOrderID(),
			Type:          vendor.ConfirmationSynthesized,
			Mode:          mode,
			Totals:        *totals,
			Status:        "processing",
			NoCommitment:  mode == vendor.ModeRedundant,
			PlacedAt:      time.Now(),
		}
	}

	vendorOrderID, err := adapter.SubmitOrder(ctx, sess, method)
	if err != nil {
		return e.degrade(pair, items, mode, state, err)
	}

	return &vendor.OrderConfirmation{
		VendorOrderID: vendorOrderID,
		Type:          vendor.ConfirmationVendor,
		Mode:          mode,
		Totals:        *totals,
		Status:        "confirmed",
		PlacedAt:      time.Now(),
	}
}

// degrade resolves a mid-checkout failure into a best-effort confirmation:
// totals are the local sum of quantity times unit price, and the order is
// tagged processing/unconfirmed for later manual resolution.
func (e *Engine) degrade(pair vendor.OfficeVendor, items []vendor.RequestedItem, mode vendor.CheckoutMode, state checkoutState, cause error) *vendor.OrderConfirmation {
	e.logger.Warn("checkout degraded to local estimate",
		zap.String("slug", pair.Slug.String()),
		zap.String("office_id", pair.OfficeID.String()),
		zap.String("state", string(state)),
		zap.Error(fmt.Errorf("%w: %s", vendor.ErrCheckoutDegraded, cause.Error())))

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return &vendor.OrderConfirmation{
		VendorOrderID: placeholderOrderID(),
		Type:          vendor.ConfirmationDegraded,
		Mode:          mode,
		Totals: vendor.ReviewedTotals{
			Subtotal: total,
			Shipping: decimal.Zero,
			Tax:      decimal.Zero,
			Total:    total,
			Currency: "USD",
		},
		Status:       "processing",
		NoCommitment: mode == vendor.ModeRedundant,
		PlacedAt:     time.Now(),
	}
}

// placeholderOrderID generates the local id used when no vendor id exists.
func placeholderOrderID() string {
	return "local-" + uuid.NewString()
}
