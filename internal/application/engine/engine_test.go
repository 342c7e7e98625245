package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordo/vendor-engine/internal/domain/shared"
	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

// memOrderRepo implements vendor.OrderRepository in memory.
type memOrderRepo struct {
	mu     sync.Mutex
	orders []*vendor.StoredOrder
}

func newMemOrderRepo() *memOrderRepo { return &memOrderRepo{} }

func (r *memOrderRepo) FindByReference(_ context.Context, officeID, vendorID uuid.UUID, reference string) (*vendor.StoredOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OfficeID == officeID && o.VendorID == vendorID && o.VendorOrderReference == reference && reference != "" {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) FindByVendorOrderID(_ context.Context, officeID, vendorID uuid.UUID, vendorOrderID string) (*vendor.StoredOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OfficeID == officeID && o.VendorID == vendorID && o.VendorOrderID == vendorOrderID && vendorOrderID != "" {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) FindByDate(_ context.Context, officeID, vendorID uuid.UUID, date time.Time) ([]vendor.StoredOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := date.Truncate(24 * time.Hour)
	var out []vendor.StoredOrder
	for _, o := range r.orders {
		if o.OfficeID == officeID && o.VendorID == vendorID && o.OrderDate.Truncate(24*time.Hour).Equal(day) {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (r *memOrderRepo) Create(_ context.Context, order vendor.NewOrder) (*vendor.StoredOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := &vendor.StoredOrder{
		ID:                   uuid.New(),
		OfficeID:             order.OfficeID,
		VendorID:             order.VendorID,
		InternalOrderID:      uuid.New(),
		VendorOrderID:        order.VendorOrderID,
		VendorOrderReference: order.VendorOrderReference,
		OrderDate:            order.OrderDate,
		Status:               order.Status,
		TotalAmount:          order.TotalAmount,
		Currency:             order.Currency,
		ShippingAddress:      order.ShippingAddress,
		InvoiceLink:          order.InvoiceLink,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	for _, line := range order.Lines {
		stored.LineItems = append(stored.LineItems, vendor.StoredLineItem{
			ID:             uuid.New(),
			OrderID:        stored.ID,
			ProductID:      uuid.New(),
			VendorProduct:  line.VendorProduct,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			Status:         line.Status,
			RawStatus:      line.RawStatus,
			Tracking:       line.Tracking,
			BudgetCategory: line.BudgetCategory,
		})
	}
	r.orders = append(r.orders, stored)
	return cloneOrder(stored), nil
}

func (r *memOrderRepo) Update(_ context.Context, orderID uuid.UUID, upd vendor.OrderUpdate, lines []vendor.LineItemUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ID != orderID {
			continue
		}
		o.Status = upd.Status
		o.TotalAmount = upd.TotalAmount
		if upd.VendorOrderID != "" {
			o.VendorOrderID = upd.VendorOrderID
		}
		if upd.InvoiceLink != "" {
			o.InvoiceLink = upd.InvoiceLink
		}
		for _, lu := range lines {
			for i := range o.LineItems {
				if o.LineItems[i].VendorProduct == lu.VendorProduct {
					o.LineItems[i].Status = lu.Status
					o.LineItems[i].RawStatus = lu.RawStatus
					if lu.Tracking != nil {
						o.LineItems[i].Tracking = lu.Tracking
					}
				}
			}
		}
		o.UpdatedAt = time.Now()
		return nil
	}
	return shared.ErrNotFound
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memOrderRepo) all() []*vendor.StoredOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*vendor.StoredOrder, len(r.orders))
	for i, o := range r.orders {
		out[i] = cloneOrder(o)
	}
	return out
}

func cloneOrder(o *vendor.StoredOrder) *vendor.StoredOrder {
	cp := *o
	cp.LineItems = append([]vendor.StoredLineItem(nil), o.LineItems...)
	return &cp
}

var _ vendor.OrderRepository = (*memOrderRepo)(nil)

// memProductRepo implements vendor.ProductRepository in memory.
type memProductRepo struct {
	mu       sync.Mutex
	upserted map[string]vendor.ProductAttrs
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{upserted: map[string]vendor.ProductAttrs{}}
}

func (r *memProductRepo) Upsert(_ context.Context, vendorID uuid.UUID, nativeID string, attrs vendor.ProductAttrs) (*vendor.ProductRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted[nativeID] = attrs
	return &vendor.ProductRef{ID: uuid.New(), VendorID: vendorID, NativeID: nativeID}, nil
}

var _ vendor.ProductRepository = (*memProductRepo)(nil)

// memCredRepo implements vendor.CredentialRepository in memory.
type memCredRepo struct {
	mu   sync.Mutex
	cred vendor.Credential
}

func newMemCredRepo(officeID, vendorID uuid.UUID) *memCredRepo {
	return &memCredRepo{cred: vendor.Credential{
		OfficeID: officeID,
		VendorID: vendorID,
		Username: "frontdesk@clinic.test",
		Secret:   "hunter2",
	}}
}

func (r *memCredRepo) Find(_ context.Context, officeID, vendorID uuid.UUID) (*vendor.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred.OfficeID != officeID || r.cred.VendorID != vendorID {
		return nil, shared.ErrNotFound
	}
	cred := r.cred
	return &cred, nil
}

func (r *memCredRepo) RecordAuthFailure(_ context.Context, _, _ uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred.FailureCount++
	return r.cred.FailureCount, nil
}

func (r *memCredRepo) ResetAuthFailures(_ context.Context, _, _ uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred.FailureCount = 0
	return nil
}

func (r *memCredRepo) FlagRelinkRequired(_ context.Context, _, _ uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred.RelinkRequired = true
	return nil
}

func (r *memCredRepo) snapshot() vendor.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cred
}

var _ vendor.CredentialRepository = (*memCredRepo)(nil)

// memPriceCache implements vendor.PriceCache with a fixed freshness window.
type memPriceCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]vendor.CachedPrice
}

func newMemPriceCache(window time.Duration) *memPriceCache {
	return &memPriceCache{window: window, entries: map[string]vendor.CachedPrice{}}
}

func (c *memPriceCache) Get(_ context.Context, officeID, vendorID uuid.UUID, nativeID string) (*vendor.CachedPrice, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[officeID.String()+vendorID.String()+nativeID]
	if !ok {
		return nil, false, nil
	}
	return &p, time.Since(p.ObservedAt) <= c.window, nil
}

func (c *memPriceCache) Put(_ context.Context, officeID, vendorID uuid.UUID, nativeID string, price vendor.CachedPrice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[officeID.String()+vendorID.String()+nativeID] = price
	return nil
}

var _ vendor.PriceCache = (*memPriceCache)(nil)

// memLocker implements RunLocker in memory.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) TryAcquire(_ context.Context, officeID, vendorID uuid.UUID) (func(context.Context) error, bool, error) {
	key := officeID.String() + vendorID.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}

// captureEvents records published engine events.
type captureEvents struct {
	mu        sync.Mutex
	succeeded []vendor.HistoryFetchResult
	failed    []vendor.HistoryFetchResult
	relinks   []vendor.RelinkRequiredEvent
}

func (c *captureEvents) HistoryFetchSucceeded(_ context.Context, res vendor.HistoryFetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.succeeded = append(c.succeeded, res)
}

func (c *captureEvents) HistoryFetchFailed(_ context.Context, res vendor.HistoryFetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, res)
}

func (c *captureEvents) RelinkRequired(_ context.Context, ev vendor.RelinkRequiredEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relinks = append(c.relinks, ev)
}

// fakeRenderer converts HTML to fake PDF bytes.
type fakeRenderer struct {
	fail bool
	last string
}

func (r *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	if r.fail {
		return nil, errors.New("render crashed")
	}
	r.last = html
	return []byte("%PDF " + html[:min(16, len(html))]), nil
}

// fakeArchive records archived PDFs.
type fakeArchive struct {
	mu   sync.Mutex
	keys []string
	fail bool
}

func (a *fakeArchive) Put(_ context.Context, officeID, vendorID uuid.UUID, orderRef string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return "", errors.New("bucket unavailable")
	}
	key := "invoices/" + orderRef + ".pdf"
	a.keys = append(a.keys, key)
	return key, nil
}

// ---------------------------------------------------------------------------
// Fake adapter
// ---------------------------------------------------------------------------

// sliceIterator yields a fixed set of canonical orders.
type sliceIterator struct {
	orders []*vendor.CanonicalOrder
	idx    int
	err    error
}

func (it *sliceIterator) Next(context.Context) (*vendor.CanonicalOrder, error) {
	if it.idx >= len(it.orders) {
		if it.err != nil {
			return nil, it.err
		}
		return nil, nil
	}
	o := it.orders[it.idx]
	it.idx++
	return o, nil
}

// fakeAdapter is a fully programmable capability-contract implementation.
type fakeAdapter struct {
	mu sync.Mutex

	blocking bool
	authErr  error

	history    []*vendor.CanonicalOrder
	historyErr error

	searchPages  []vendor.SearchPage
	searchByTerm map[string]vendor.SearchPage
	searchErr    error

	clearErr    error
	populateErr error
	reviewErr   error
	submitErr   error

	reviewTotals vendor.ReviewedTotals
	submitID     string

	invoice    *vendor.InvoiceArtifact
	invoiceErr error

	tracking []vendor.TrackingInfo

	// call recording
	calls        []string
	sessionsOpen int
	sessionsMade int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		reviewTotals: vendor.ReviewedTotals{
			Subtotal: decimal.RequireFromString("25.00"),
			Total:    decimal.RequireFromString("25.00"),
			Currency: "USD",
		},
		submitID: "900001",
	}
}

func (a *fakeAdapter) record(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
}

func (a *fakeAdapter) callLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAdapter) openSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionsOpen
}

func (a *fakeAdapter) Slug() vendor.Slug { return vendor.SlugDentalDirect }
func (a *fakeAdapter) Blocking() bool    { return a.blocking }

func (a *fakeAdapter) Authenticate(_ context.Context, cred vendor.Credential) (*vendor.Session, error) {
	a.record("authenticate")
	if a.authErr != nil {
		return nil, a.authErr
	}
	sess := vendor.NewSession(a.Slug(), cred.OfficeID, nil, cred.Username)
	a.mu.Lock()
	a.sessionsOpen++
	a.sessionsMade++
	a.mu.Unlock()
	sess.OnClose(func() {
		a.mu.Lock()
		a.sessionsOpen--
		a.mu.Unlock()
	})
	return sess, nil
}

func (a *fakeAdapter) FetchOrderHistory(_ context.Context, sess *vendor.Session, _ vendor.DateRange, excludeIDs []string) (vendor.OrderIterator, error) {
	a.record("fetch_history")
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	exclude := map[string]struct{}{}
	for _, id := range excludeIDs {
		exclude[id] = struct{}{}
	}
	var kept []*vendor.CanonicalOrder
	for _, o := range a.history {
		if _, skip := exclude[o.VendorOrderID]; skip {
			continue
		}
		kept = append(kept, o)
	}
	return &sliceIterator{orders: kept}, nil
}

func (a *fakeAdapter) SearchProducts(_ context.Context, sess *vendor.Session, q vendor.SearchQuery) (*vendor.SearchPage, error) {
	a.record("search")
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}
	if a.searchErr != nil {
		return nil, a.searchErr
	}
	if p, ok := a.searchByTerm[q.Term]; ok {
		return &p, nil
	}
	page := max(q.Page, 1)
	if page > len(a.searchPages) {
		return &vendor.SearchPage{Page: page, LastPage: true}, nil
	}
	p := a.searchPages[page-1]
	return &p, nil
}

func (a *fakeAdapter) PopulateCart(_ context.Context, sess *vendor.Session, _ []vendor.RequestedItem) error {
	a.record("populate_cart")
	if !sess.Active() {
		return vendor.ErrSessionClosed
	}
	return a.populateErr
}

func (a *fakeAdapter) ClearCart(_ context.Context, sess *vendor.Session) error {
	a.record("clear_cart")
	if !sess.Active() {
		return vendor.ErrSessionClosed
	}
	return a.clearErr
}

func (a *fakeAdapter) ReviewCheckout(_ context.Context, sess *vendor.Session, _ vendor.ShippingMethod) (*vendor.ReviewedTotals, error) {
	a.record("review_checkout")
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}
	if a.reviewErr != nil {
		return nil, a.reviewErr
	}
	totals := a.reviewTotals
	return &totals, nil
}

func (a *fakeAdapter) SubmitOrder(_ context.Context, sess *vendor.Session, _ vendor.ShippingMethod) (string, error) {
	a.record("submit_order")
	if !sess.Active() {
		return "", vendor.ErrSessionClosed
	}
	if a.submitErr != nil {
		return "", a.submitErr
	}
	return a.submitID, nil
}

func (a *fakeAdapter) DownloadInvoice(_ context.Context, sess *vendor.Session, _ string) (*vendor.InvoiceArtifact, error) {
	a.record("download_invoice")
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}
	if a.invoiceErr != nil {
		return nil, a.invoiceErr
	}
	return a.invoice, nil
}

func (a *fakeAdapter) TrackShipment(_ context.Context, sess *vendor.Session, _ string) ([]vendor.TrackingInfo, error) {
	a.record("track_shipment")
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}
	return a.tracking, nil
}

var _ vendor.Adapter = (*fakeAdapter)(nil)

// fakeRegistry resolves the single fake adapter.
type fakeRegistry struct{ adapter vendor.Adapter }

func (r *fakeRegistry) Get(slug vendor.Slug) (vendor.Adapter, error) {
	if slug != r.adapter.Slug() {
		return nil, vendor.ErrAdapterNotRegistered
	}
	return r.adapter, nil
}

func (r *fakeRegistry) List() []vendor.Adapter { return []vendor.Adapter{r.adapter} }

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine   *Engine
	adapter  *fakeAdapter
	orders   *memOrderRepo
	products *memProductRepo
	creds    *memCredRepo
	prices   *memPriceCache
	events   *captureEvents
	renderer *fakeRenderer
	archive  *fakeArchive
	pair     vendor.OfficeVendor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pair := vendor.OfficeVendor{
		OfficeID: uuid.New(),
		VendorID: uuid.New(),
		Slug:     vendor.SlugDentalDirect,
	}
	h := &harness{
		adapter:  newFakeAdapter(),
		orders:   newMemOrderRepo(),
		products: newMemProductRepo(),
		creds:    newMemCredRepo(pair.OfficeID, pair.VendorID),
		prices:   newMemPriceCache(time.Hour),
		events:   &captureEvents{},
		renderer: &fakeRenderer{},
		archive:  &fakeArchive{},
		pair:     pair,
	}
	h.engine = New(
		&fakeRegistry{adapter: h.adapter},
		h.orders, h.products, h.creds, h.prices,
		h.events, newMemLocker(), h.renderer, h.archive,
		nil,
		Options{RelinkThreshold: 3, SearchPageBound: 10, SearchFanout: 4, BlockingWorkers: 2,
			BudgetDefaults: map[vendor.Slug]string{vendor.SlugDentalDirect: "supplies"}},
	)
	t.Cleanup(h.engine.Close)
	return h
}

func canonicalOrder(ref, id string, day time.Time, skus ...string) *vendor.CanonicalOrder {
	o := &vendor.CanonicalOrder{
		VendorOrderID:        id,
		VendorOrderReference: ref,
		OrderDate:            day,
		Status:               vendor.OrderStatusOpen,
		RawStatus:            "Processing",
		TotalAmount:          decimal.RequireFromString("29.97"),
		Currency:             "USD",
	}
	for _, sku := range skus {
		o.LineItems = append(o.LineItems, vendor.CanonicalLineItem{
			ProductID:  sku,
			Attributes: map[string]string{"name": "Item " + sku},
			Quantity:   1,
			UnitPrice:  decimal.RequireFromString("9.99"),
			Status:     vendor.LineItemStatusProcessing,
			RawStatus:  "Processing",
		})
	}
	return o
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

var rng = vendor.DateRange{
	Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
}

// ---------------------------------------------------------------------------
// Session lifecycle and auth accounting
// ---------------------------------------------------------------------------

func TestEngine_SessionCleanup(t *testing.T) {
	t.Run("sessions are released after success", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.history = []*vendor.CanonicalOrder{canonicalOrder("R1", "", day, "a")}

		_, _, err := h.engine.FetchHistory(context.Background(), h.pair, rng, nil)

		require.NoError(t, err)
		assert.Zero(t, h.adapter.openSessions())
	})

	t.Run("sessions are released after failure", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.historyErr = vendor.ErrVendorSite

		_, _, err := h.engine.FetchHistory(context.Background(), h.pair, rng, nil)

		require.Error(t, err)
		assert.Equal(t, 1, h.adapter.sessionsMade)
		assert.Zero(t, h.adapter.openSessions())
	})

	t.Run("sessions are released after every engine call", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.history = []*vendor.CanonicalOrder{canonicalOrder("R1", "", day, "a")}
		h.adapter.invoice = &vendor.InvoiceArtifact{Format: vendor.InvoicePDF, Raw: []byte("%PDF")}
		h.adapter.searchPages = []vendor.SearchPage{{LastPage: true}}

		ctx := context.Background()
		h.engine.FetchHistory(ctx, h.pair, rng, nil)
		h.engine.SearchProducts(ctx, h.pair, vendor.SearchQuery{Term: "gloves"})
		h.engine.DownloadInvoice(ctx, h.pair, "R1")
		h.engine.ConfirmOrder(ctx, h.pair, []vendor.RequestedItem{{ProductID: "a", Quantity: 1, UnitPrice: decimal.New(1, 0)}}, vendor.ShippingMethod{}, vendor.ModeFake)
		h.engine.TrackShipment(ctx, h.pair, "R1")

		assert.Zero(t, h.adapter.openSessions())
	})
}

func TestEngine_AuthAccounting(t *testing.T) {
	t.Run("repeated auth failures flag relink and raise the event", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.authErr = vendor.NewAuthError(vendor.SlugDentalDirect, "rejected")

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, _, err := h.engine.FetchHistory(ctx, h.pair, rng, nil)
			require.Error(t, err)
		}

		cred := h.creds.snapshot()
		assert.True(t, cred.RelinkRequired)
		assert.Equal(t, 3, cred.FailureCount)
		require.Len(t, h.events.relinks, 1)
		assert.Equal(t, 3, h.events.relinks[0].Failures)

		// A flagged credential refuses further runs without touching the
		// vendor again.
		before := len(h.adapter.callLog())
		_, _, err := h.engine.FetchHistory(ctx, h.pair, rng, nil)
		require.Error(t, err)
		assert.True(t, vendor.IsAuthenticationError(err))
		assert.Len(t, h.adapter.callLog(), before)
	})

	t.Run("network failure never flags the credential", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.authErr = vendor.ErrNetwork

		for i := 0; i < 5; i++ {
			h.engine.FetchHistory(context.Background(), h.pair, rng, nil)
		}

		cred := h.creds.snapshot()
		assert.False(t, cred.RelinkRequired)
		assert.Zero(t, cred.FailureCount)
		assert.Empty(t, h.events.relinks)
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.authErr = vendor.NewAuthError(vendor.SlugDentalDirect, "rejected")
		ctx := context.Background()

		h.engine.FetchHistory(ctx, h.pair, rng, nil)
		h.engine.FetchHistory(ctx, h.pair, rng, nil)
		require.Equal(t, 2, h.creds.snapshot().FailureCount)

		h.adapter.authErr = nil
		_, _, err := h.engine.FetchHistory(ctx, h.pair, rng, nil)
		require.NoError(t, err)
		assert.Zero(t, h.creds.snapshot().FailureCount)
	})
}

// ---------------------------------------------------------------------------
// History fetch orchestration
// ---------------------------------------------------------------------------

func TestEngine_FetchHistory(t *testing.T) {
	t.Run("reports created and updated counts and the success event", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.history = []*vendor.CanonicalOrder{
			canonicalOrder("R1", "", day, "a"),
			canonicalOrder("R2", "", day, "b"),
		}

		created, updated, err := h.engine.FetchHistory(context.Background(), h.pair, rng, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.Zero(t, updated)

		created, updated, err = h.engine.FetchHistory(context.Background(), h.pair, rng, nil)
		require.NoError(t, err)
		assert.Zero(t, created)
		assert.Equal(t, 2, updated)

		require.Len(t, h.events.succeeded, 2)
		assert.Equal(t, 2, h.events.succeeded[0].Created)
	})

	t.Run("failure raises the failed event", func(t *testing.T) {
		h := newHarness(t)
		h.adapter.historyErr = vendor.ErrVendorSite

		_, _, err := h.engine.FetchHistory(context.Background(), h.pair, rng, nil)

		require.Error(t, err)
		require.Len(t, h.events.failed, 1)
		assert.NotEmpty(t, h.events.failed[0].Error)
	})

	t.Run("concurrent run for the same pair is rejected", func(t *testing.T) {
		h := newHarness(t)
		release, ok, err := h.engine.locker.TryAcquire(context.Background(), h.pair.OfficeID, h.pair.VendorID)
		require.NoError(t, err)
		require.True(t, ok)
		defer release(context.Background())

		_, _, err = h.engine.FetchHistory(context.Background(), h.pair, rng, nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Empty(t, h.adapter.callLog())
	})
}

// ---------------------------------------------------------------------------
// Search bound
// ---------------------------------------------------------------------------

func TestEngine_SearchPageBound(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.SearchProducts(context.Background(), h.pair, vendor.SearchQuery{Term: "gloves", Page: 11})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Empty(t, h.adapter.callLog())
}

func TestEngine_SearchPaginationTermination(t *testing.T) {
	h := newHarness(t)
	h.adapter.searchPages = []vendor.SearchPage{
		{Products: []vendor.SearchProduct{{VendorProductID: "A"}, {VendorProductID: "B"}}, Page: 1, TotalSize: 3},
		{Products: []vendor.SearchProduct{{VendorProductID: "C"}}, Page: 2, TotalSize: 3, LastPage: true},
	}

	seen := map[string]struct{}{}
	pages := 0
	for page := 1; ; page++ {
		require.LessOrEqual(t, pages, 10, "pagination must terminate")
		res, err := h.engine.SearchProducts(context.Background(), h.pair, vendor.SearchQuery{Term: "x", Page: page})
		require.NoError(t, err)
		pages++
		for _, p := range res.Products {
			seen[p.VendorProductID] = struct{}{}
		}
		if res.LastPage {
			break
		}
	}

	assert.Len(t, seen, 3)
	assert.Equal(t, 2, pages)
}
