// Package engine is the vendor integration engine: it owns session
// lifecycle, order-history reconciliation, the checkout state machine, the
// invoice pipeline, and product search / price sync across all registered
// vendor adapters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/domain/shared"
	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// RunLocker serializes runs per (office, vendor) pair.
type RunLocker interface {
	TryAcquire(ctx context.Context, officeID, vendorID uuid.UUID) (release func(context.Context) error, ok bool, err error)
}

// PDFRenderer converts invoice HTML into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ArchiveStore persists normalized invoice PDFs.
type ArchiveStore interface {
	Put(ctx context.Context, officeID, vendorID uuid.UUID, orderRef string, pdf []byte) (string, error)
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Options tunes engine behavior.
type Options struct {
	// RelinkThreshold is how many consecutive authentication failures flag
	// a credential for relink.
	RelinkThreshold int
	// SearchPageBound is the hard safety limit on driven search pages.
	SearchPageBound int
	// SearchFanout bounds parallel per-product lookups during price sync.
	SearchFanout int
	// BlockingWorkers sizes the dedicated pool for browser-automation
	// adapters.
	BlockingWorkers int
	// BudgetDefaults maps a vendor slug to its default spend sub-category,
	// used when a line item carries no explicit override.
	BudgetDefaults map[vendor.Slug]string
}

func (o *Options) applyDefaults() {
	if o.RelinkThreshold <= 0 {
		o.RelinkThreshold = 3
	}
	if o.SearchPageBound <= 0 {
		o.SearchPageBound = 200
	}
	if o.SearchFanout <= 0 {
		o.SearchFanout = 4
	}
	if o.BlockingWorkers <= 0 {
		o.BlockingWorkers = 2
	}
	if o.BudgetDefaults == nil {
		o.BudgetDefaults = map[vendor.Slug]string{}
	}
}

// Engine exposes the uniform vendor contract to the orchestration layer.
type Engine struct {
	registry   vendor.Registry
	orders     vendor.OrderRepository
	products   vendor.ProductRepository
	creds      vendor.CredentialRepository
	priceCache vendor.PriceCache
	events     vendor.EventPublisher
	locker     RunLocker
	renderer   PDFRenderer
	archive    ArchiveStore
	supervisor *Supervisor
	logger     *zap.Logger
	opts       Options
}

// New creates the engine. The archive store may be nil when invoice
// archiving is disabled; everything else is required.
func New(
	registry vendor.Registry,
	orders vendor.OrderRepository,
	products vendor.ProductRepository,
	creds vendor.CredentialRepository,
	priceCache vendor.PriceCache,
	events vendor.EventPublisher,
	locker RunLocker,
	renderer PDFRenderer,
	archive ArchiveStore,
	logger *zap.Logger,
	opts Options,
) *Engine {
	opts.applyDefaults()
	if events == nil {
		events = vendor.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:   registry,
		orders:     orders,
		products:   products,
		creds:      creds,
		priceCache: priceCache,
		events:     events,
		locker:     locker,
		renderer:   renderer,
		archive:    archive,
		supervisor: NewSupervisor(opts.BlockingWorkers),
		logger:     logger,
		opts:       opts,
	}
}

// Close stops the blocking worker pool.
func (e *Engine) Close() {
	e.supervisor.Close()
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// withSession runs op inside a scoped session for the pair: authenticate,
// run, release. The session is released on every exit path; authentication
// outcomes feed the credential failure counter and the relink flag.
func (e *Engine) withSession(ctx context.Context, pair vendor.OfficeVendor, op func(adapter vendor.Adapter, sess *vendor.Session) error) error {
	adapter, err := e.registry.Get(pair.Slug)
	if err != nil {
		return err
	}

	cred, err := e.creds.Find(ctx, pair.OfficeID, pair.VendorID)
	if err != nil {
		return fmt.Errorf("engine: load credential: %w", err)
	}
	if cred.RelinkRequired {
		return fmt.Errorf("engine: credential flagged for relink: %w", vendor.ErrAuthentication)
	}

	// A blocking adapter occupies its dedicated worker for the whole
	// operation, login included; a network adapter runs inline.
	return e.supervisor.Run(ctx, adapter.Blocking(), func() error {
		sess, authErr := adapter.Authenticate(ctx, *cred)
		e.recordAuthOutcome(ctx, pair, authErr)
		if authErr != nil {
			return authErr
		}
		defer sess.Close()

		return op(adapter, sess)
	})
}

// recordAuthOutcome updates the consecutive-failure counter and raises the
// relink event once the threshold is crossed. Only authentication failures
// count; a network blip never flags a credential.
func (e *Engine) recordAuthOutcome(ctx context.Context, pair vendor.OfficeVendor, err error) {
	switch {
	case err == nil:
		if resetErr := e.creds.ResetAuthFailures(ctx, pair.OfficeID, pair.VendorID); resetErr != nil {
			e.logger.Warn("failed to reset auth failure counter",
				zap.String("slug", pair.Slug.String()), zap.Error(resetErr))
		}
	case vendor.IsAuthenticationError(err):
		count, recErr := e.creds.RecordAuthFailure(ctx, pair.OfficeID, pair.VendorID)
		if recErr != nil {
			e.logger.Warn("failed to record auth failure",
				zap.String("slug", pair.Slug.String()), zap.Error(recErr))
			return
		}
		if count >= e.opts.RelinkThreshold {
			if flagErr := e.creds.FlagRelinkRequired(ctx, pair.OfficeID, pair.VendorID); flagErr != nil {
				e.logger.Error("failed to flag credential for relink",
					zap.String("slug", pair.Slug.String()), zap.Error(flagErr))
				return
			}
			e.events.RelinkRequired(ctx, vendor.RelinkRequiredEvent{
				OfficeID: pair.OfficeID,
				VendorID: pair.VendorID,
				Slug:     pair.Slug,
				Failures: count,
			})
		}
	}
}

// ---------------------------------------------------------------------------
// History fetch
// ---------------------------------------------------------------------------

// FetchHistory fetches the pair's order history for the range and reconciles
// it into storage. knownIDs lists vendor order ids already stored and fully
// closed, which the adapter may skip. Runs for the same pair are mutually
// exclusive; a second concurrent call is rejected, not queued.
func (e *Engine) FetchHistory(ctx context.Context, pair vendor.OfficeVendor, rng vendor.DateRange, knownIDs []string) (created, updated int, err error) {
	release, ok, err := e.locker.TryAcquire(ctx, pair.OfficeID, pair.VendorID)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: history run lock: %w", err)
	}
	if !ok {
		return 0, 0, fmt.Errorf("engine: history fetch already running for pair: %w", shared.ErrConcurrencyConflict)
	}
	defer func() {
		if relErr := release(ctx); relErr != nil {
			e.logger.Warn("failed to release run lock", zap.Error(relErr))
		}
	}()

	reconciler := newReconciler(e.orders, e.opts.BudgetDefaults[pair.Slug])

	err = e.withSession(ctx, pair, func(adapter vendor.Adapter, sess *vendor.Session) error {
		it, err := adapter.FetchOrderHistory(ctx, sess, rng, knownIDs)
		if err != nil {
			return err
		}
		for {
			order, err := it.Next(ctx)
			if err != nil {
				return err
			}
			if order == nil {
				return nil
			}
			outcome, err := reconciler.Reconcile(ctx, pair, order)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeCreated:
				created++
			case outcomeUpdated:
				updated++
			}
		}
	})

	result := vendor.HistoryFetchResult{
		OfficeID:   pair.OfficeID,
		VendorID:   pair.VendorID,
		Slug:       pair.Slug,
		Created:    created,
		Updated:    updated,
		FinishedAt: time.Now(),
	}
	if err != nil {
		result.Error = err.Error()
		e.events.HistoryFetchFailed(ctx, result)
		e.logger.Error("history fetch failed",
			zap.String("slug", pair.Slug.String()),
			zap.String("office_id", pair.OfficeID.String()),
			zap.Error(err))
		return created, updated, err
	}
	e.events.HistoryFetchSucceeded(ctx, result)
	e.logger.Info("history fetch completed",
		zap.String("slug", pair.Slug.String()),
		zap.String("office_id", pair.OfficeID.String()),
		zap.Int("created", created),
		zap.Int("updated", updated))
	return created, updated, nil
}

// ---------------------------------------------------------------------------
// Search and tracking
// ---------------------------------------------------------------------------

// SearchProducts returns one page of vendor catalog results. The caller
// drives pagination until satisfied or LastPage.
func (e *Engine) SearchProducts(ctx context.Context, pair vendor.OfficeVendor, query vendor.SearchQuery) (*vendor.SearchPage, error) {
	if query.Page > e.opts.SearchPageBound {
		return nil, fmt.Errorf("engine: search page %d exceeds safety bound %d: %w",
			query.Page, e.opts.SearchPageBound, shared.ErrInvalidInput)
	}

	var page *vendor.SearchPage
	err := e.withSession(ctx, pair, func(adapter vendor.Adapter, sess *vendor.Session) error {
		var err error
		page, err = adapter.SearchProducts(ctx, sess, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// TrackShipment fetches tracking detail for an order reference.
func (e *Engine) TrackShipment(ctx context.Context, pair vendor.OfficeVendor, orderRef string) ([]vendor.TrackingInfo, error) {
	var infos []vendor.TrackingInfo
	err := e.withSession(ctx, pair, func(adapter vendor.Adapter, sess *vendor.Session) error {
		var err error
		infos, err = adapter.TrackShipment(ctx, sess, orderRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// errIsNotFound reports whether err is the persistence not-found sentinel.
func errIsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
