package dentaldirect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// maxResponseSize is the maximum allowed response size from the storefront (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Adapter implements the vendor capability contract for Dental Direct.
type Adapter struct {
	config *Config
	logger *zap.Logger
}

// NewAdapter creates a new Dental Direct adapter with the given configuration
func NewAdapter(config *Config, logger *zap.Logger) (*Adapter, error) {
	if config == nil {
		config = NewConfig("")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{config: config, logger: logger}, nil
}

// Slug returns the registry key for this vendor.
func (a *Adapter) Slug() vendor.Slug {
	return vendor.SlugDentalDirect
}

// Blocking reports whether the adapter needs a dedicated worker. Dental
// Direct speaks plain HTTP, so it runs on the cooperative pool.
func (a *Adapter) Blocking() bool {
	return false
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// Authenticate performs the form login and verifies the storefront echoes the
// account identity back. Dental Direct answers a wrong password with a 200
// login page, so a status check alone is not enough.
func (a *Adapter) Authenticate(ctx context.Context, cred vendor.Credential) (*vendor.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("dentaldirect: cookie jar: %w", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: a.config.Timeout,
	}

	form := url.Values{}
	form.Set("email", cred.Username)
	form.Set("password", cred.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("dentaldirect: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkErr("login", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, vendor.NewAuthError(vendor.SlugDentalDirect, "credentials rejected")
	case resp.StatusCode >= 400:
		return nil, siteErr("login", resp.StatusCode)
	}

	// The account endpoint echoes the logged-in identity. A missing or
	// mismatched identity after a 200 login is the silent-failure case.
	identity, err := a.fetchIdentity(ctx, client)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(identity), strings.TrimSpace(cred.Username)) {
		return nil, vendor.NewSilentAuthError(vendor.SlugDentalDirect,
			fmt.Sprintf("account endpoint returned %q", identity))
	}

	sess := vendor.NewSession(vendor.SlugDentalDirect, cred.OfficeID, client, identity)
	sess.OnClose(client.CloseIdleConnections)

	a.logger.Debug("dental direct login succeeded",
		zap.String("office_id", cred.OfficeID.String()))
	return sess, nil
}

func (a *Adapter) fetchIdentity(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/api/account", nil)
	if err != nil {
		return "", fmt.Errorf("dentaldirect: build account request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", networkErr("account", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", vendor.NewSilentAuthError(vendor.SlugDentalDirect, "account endpoint rejected the session")
	}
	if resp.StatusCode != http.StatusOK {
		return "", siteErr("account", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", networkErr("account", err)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("dentaldirect: account: %w: not JSON", vendor.ErrVendorSite)
	}
	return gjson.GetBytes(body, "email").String(), nil
}

// ---------------------------------------------------------------------------
// Order History
// ---------------------------------------------------------------------------

// FetchOrderHistory returns a lazy iterator over the range. Listing pages are
// fetched on demand; the per-order detail calls for one page fan out under
// the configured bound.
func (a *Adapter) FetchOrderHistory(ctx context.Context, sess *vendor.Session, rng vendor.DateRange, excludeIDs []string) (vendor.OrderIterator, error) {
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}

	exclude := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = struct{}{}
	}
	return &historyIterator{
		adapter: a,
		sess:    sess,
		rng:     rng,
		exclude: exclude,
		page:    1,
	}, nil
}

// historyIterator walks listing pages and buffers the normalized orders of
// the current page. It is finite and non-restartable.
type historyIterator struct {
	adapter *Adapter
	sess    *vendor.Session
	rng     vendor.DateRange
	exclude map[string]struct{}

	page     int
	done     bool
	buffered []*vendor.CanonicalOrder
}

// Next returns the next normalized order, or (nil, nil) at end of sequence.
func (it *historyIterator) Next(ctx context.Context) (*vendor.CanonicalOrder, error) {
	for len(it.buffered) == 0 {
		if it.done {
			return nil, nil
		}
		if err := it.fetchPage(ctx); err != nil {
			it.done = true
			return nil, err
		}
	}
	order := it.buffered[0]
	it.buffered = it.buffered[1:]
	return order, nil
}

func (it *historyIterator) fetchPage(ctx context.Context) error {
	if !it.sess.Active() {
		return vendor.ErrSessionClosed
	}
	a := it.adapter

	q := url.Values{}
	q.Set("from", it.rng.Start.Format(dateLayout))
	q.Set("to", it.rng.End.Format(dateLayout))
	q.Set("page", strconv.Itoa(it.page))
	q.Set("page_size", strconv.Itoa(a.config.HistoryPageSize))

	body, err := a.get(ctx, it.sess, "/api/orders?"+q.Encode(), "order listing")
	if err != nil {
		return err
	}
	summaries, lastPage, err := parseOrderListing(body)
	if err != nil {
		return parseErrf("order listing", err)
	}
	if lastPage {
		it.done = true
	}
	it.page++

	wanted := make([]orderSummary, 0, len(summaries))
	for _, s := range summaries {
		if _, skip := it.exclude[s.ID]; skip {
			continue
		}
		if !it.rng.Contains(s.Date) {
			continue
		}
		wanted = append(wanted, s)
	}
	if len(wanted) == 0 {
		return nil
	}

	// Fan out the detail fetches for this page, order preserved.
	orders := make([]*vendor.CanonicalOrder, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.DetailFanout)
	for i, s := range wanted {
		g.Go(func() error {
			order, err := a.fetchOrderDetail(gctx, it.sess, s.ID)
			if err != nil {
				return err
			}
			orders[i] = order
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	it.buffered = append(it.buffered, orders...)
	return nil
}

func (a *Adapter) fetchOrderDetail(ctx context.Context, sess *vendor.Session, orderID string) (*vendor.CanonicalOrder, error) {
	body, err := a.get(ctx, sess, "/api/orders/"+url.PathEscape(orderID), "order detail")
	if err != nil {
		return nil, err
	}
	order, err := parseOrderDetail(body)
	if err != nil {
		return nil, parseErrf("order detail", err)
	}
	return order, nil
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

// SearchProducts returns one page of catalog search results.
func (a *Adapter) SearchProducts(ctx context.Context, sess *vendor.Session, query vendor.SearchQuery) (*vendor.SearchPage, error) {
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}

	q := url.Values{}
	q.Set("q", query.Term)
	q.Set("page", strconv.Itoa(max(query.Page, 1)))
	if query.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(query.PageSize))
	}
	if query.MinPrice != nil {
		q.Set("min_price", query.MinPrice.String())
	}
	if query.MaxPrice != nil {
		q.Set("max_price", query.MaxPrice.String())
	}

	body, err := a.get(ctx, sess, "/api/products?"+q.Encode(), "search")
	if err != nil {
		return nil, err
	}
	page, err := parseSearchPage(body)
	if err != nil {
		return nil, parseErrf("search", err)
	}
	return page, nil
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

// PopulateCart adds exactly the requested items to the remote cart. The
// caller clears the cart first; Dental Direct carts survive sessions.
func (a *Adapter) PopulateCart(ctx context.Context, sess *vendor.Session, items []vendor.RequestedItem) error {
	if !sess.Active() {
		return vendor.ErrSessionClosed
	}

	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"sku":      item.ProductID,
			"quantity": item.Quantity,
		})
	}

	body, err := a.postJSON(ctx, sess, "/api/cart/items", map[string]any{"items": payload}, "populate cart")
	if err != nil {
		return err
	}
	// The cart endpoint echoes the resulting item count; a mismatch means
	// the vendor silently dropped a line.
	if count := gjson.GetBytes(body, "item_count"); count.Exists() && int(count.Int()) != len(items) {
		return fmt.Errorf("dentaldirect: populate cart: %w: cart holds %d of %d items",
			vendor.ErrVendorSite, count.Int(), len(items))
	}
	return nil
}

// ClearCart empties the remote cart.
func (a *Adapter) ClearCart(ctx context.Context, sess *vendor.Session) error {
	if !sess.Active() {
		return vendor.ErrSessionClosed
	}
	_, err := a.do(ctx, sess, http.MethodDelete, "/api/cart", nil, "", "clear cart")
	return err
}

// ReviewCheckout asks the storefront for authoritative cart totals.
func (a *Adapter) ReviewCheckout(ctx context.Context, sess *vendor.Session, method vendor.ShippingMethod) (*vendor.ReviewedTotals, error) {
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}

	body, err := a.postJSON(ctx, sess, "/api/checkout/review",
		map[string]any{"shipping_method": method.Code}, "review checkout")
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)
	subtotal, err := parseMoney(root.Get("subtotal"))
	if err != nil {
		return nil, parseErrf("review checkout", err)
	}
	shipping, err := parseMoney(root.Get("shipping"))
	if err != nil {
		return nil, parseErrf("review checkout", err)
	}
	tax, err := parseMoney(root.Get("tax"))
	if err != nil {
		return nil, parseErrf("review checkout", err)
	}
	total, err := parseMoney(root.Get("total"))
	if err != nil {
		return nil, parseErrf("review checkout", err)
	}
	if !root.Get("total").Exists() {
		return nil, fmt.Errorf("dentaldirect: review checkout: %w: missing total", vendor.ErrVendorSite)
	}

	return &vendor.ReviewedTotals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    total,
		Currency: currencyOrDefault(root.Get("currency")),
	}, nil
}

// SubmitOrder places the populated, reviewed cart.
func (a *Adapter) SubmitOrder(ctx context.Context, sess *vendor.Session, method vendor.ShippingMethod) (string, error) {
	if !sess.Active() {
		return "", vendor.ErrSessionClosed
	}

	body, err := a.postJSON(ctx, sess, "/api/checkout/submit",
		map[string]any{"shipping_method": method.Code}, "submit order")
	if err != nil {
		return "", err
	}
	orderID := gjson.GetBytes(body, "order_id").String()
	if orderID == "" {
		return "", fmt.Errorf("dentaldirect: submit order: %w: missing order_id", vendor.ErrVendorSite)
	}
	return orderID, nil
}

// ---------------------------------------------------------------------------
// Invoice and Tracking
// ---------------------------------------------------------------------------

// DownloadInvoice fetches the invoice artifact for an order reference.
// Dental Direct serves finalized invoices as PDF and recent ones as JSON;
// the artifact format tells the pipeline which normalization path to take.
func (a *Adapter) DownloadInvoice(ctx context.Context, sess *vendor.Session, orderRef string) (*vendor.InvoiceArtifact, error) {
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}

	path := "/api/orders/" + url.PathEscape(orderRef) + "/invoice"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("dentaldirect: build invoice request: %w", err)
	}
	resp, err := sess.Client.Do(req)
	if err != nil {
		return nil, networkErr("invoice", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("dentaldirect: order %s: %w", orderRef, vendor.ErrInvoiceUnavailable)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		sess.Expire()
		return nil, vendor.NewAuthError(vendor.SlugDentalDirect, "session rejected mid-operation")
	case resp.StatusCode != http.StatusOK:
		return nil, siteErr("invoice", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, networkErr("invoice", err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/pdf"):
		return &vendor.InvoiceArtifact{Format: vendor.InvoicePDF, Raw: body}, nil
	case strings.Contains(contentType, "application/json"):
		data, err := parseStructuredInvoice(body)
		if err != nil {
			return nil, parseErrf("invoice", err)
		}
		return &vendor.InvoiceArtifact{Format: vendor.InvoiceStructured, Structured: data}, nil
	case strings.Contains(contentType, "text/html"):
		return &vendor.InvoiceArtifact{Format: vendor.InvoiceHTML, Raw: body}, nil
	default:
		return nil, fmt.Errorf("dentaldirect: invoice: %w: unexpected content type %q",
			vendor.ErrVendorSite, contentType)
	}
}

// TrackShipment fetches tracking detail for an order reference.
func (a *Adapter) TrackShipment(ctx context.Context, sess *vendor.Session, orderRef string) ([]vendor.TrackingInfo, error) {
	if !sess.Active() {
		return nil, vendor.ErrSessionClosed
	}

	body, err := a.get(ctx, sess, "/api/orders/"+url.PathEscape(orderRef)+"/tracking", "tracking")
	if err != nil {
		return nil, err
	}
	infos, err := parseTracking(body)
	if err != nil {
		return nil, parseErrf("tracking", err)
	}
	return infos, nil
}

// ---------------------------------------------------------------------------
// Transport helpers
// ---------------------------------------------------------------------------

func (a *Adapter) get(ctx context.Context, sess *vendor.Session, path, op string) ([]byte, error) {
	return a.do(ctx, sess, http.MethodGet, path, nil, "", op)
}

func (a *Adapter) postJSON(ctx context.Context, sess *vendor.Session, path string, payload any, op string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dentaldirect: %s: encode payload: %w", op, err)
	}
	return a.do(ctx, sess, http.MethodPost, path, raw, "application/json", op)
}

func (a *Adapter) do(ctx context.Context, sess *vendor.Session, method, path string, payload []byte, contentType, op string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("dentaldirect: build %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := sess.Client.Do(req)
	if err != nil {
		return nil, networkErr(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		sess.Expire()
		return nil, vendor.NewAuthError(vendor.SlugDentalDirect, "session rejected mid-operation")
	case resp.StatusCode >= 400:
		return nil, siteErr(op, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, networkErr(op, err)
	}
	return body, nil
}

func networkErr(op string, err error) error {
	return fmt.Errorf("dentaldirect: %s: %w: %s", op, vendor.ErrNetwork, err.Error())
}

func siteErr(op string, status int) error {
	return fmt.Errorf("dentaldirect: %s: %w: HTTP %d", op, vendor.ErrVendorSite, status)
}

func parseErrf(op string, err error) error {
	return fmt.Errorf("dentaldirect: %s: %w: %s", op, vendor.ErrVendorSite, err.Error())
}

// Ensure Adapter implements the vendor capability contract
var _ vendor.Adapter = (*Adapter)(nil)
