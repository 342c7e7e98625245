package dentaldirect

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

const dateLayout = "2006-01-02"

// orderSummary is one row of the order listing endpoint, before the detail
// fetch fills in line items.
type orderSummary struct {
	ID        string
	Reference string
	Date      time.Time
	RawStatus string
}

func parseMoney(r gjson.Result) (decimal.Decimal, error) {
	if !r.Exists() {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad money value %q: %w", r.String(), err)
	}
	return d, nil
}

func parseDate(r gjson.Result) (time.Time, error) {
	if !r.Exists() || r.String() == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	t, err := time.Parse(dateLayout, r.String())
	if err != nil {
		// The invoice endpoint timestamps with full RFC 3339.
		t, err = time.Parse(time.RFC3339, r.String())
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", r.String(), err)
	}
	return t, nil
}

// parseOrderListing extracts summaries and the last-page marker from the
// listing payload: {"orders": [...], "last_page": bool}.
func parseOrderListing(body []byte) ([]orderSummary, bool, error) {
	if !gjson.ValidBytes(body) {
		return nil, false, fmt.Errorf("listing is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	ordersField := root.Get("orders")
	if !ordersField.Exists() || !ordersField.IsArray() {
		return nil, false, fmt.Errorf("listing missing orders array")
	}

	var summaries []orderSummary
	var parseErr error
	ordersField.ForEach(func(_, o gjson.Result) bool {
		date, err := parseDate(o.Get("placed_on"))
		if err != nil {
			parseErr = fmt.Errorf("order %s: %w", o.Get("id").String(), err)
			return false
		}
		summaries = append(summaries, orderSummary{
			ID:        o.Get("id").String(),
			Reference: o.Get("web_reference").String(),
			Date:      date,
			RawStatus: o.Get("status").String(),
		})
		return true
	})
	if parseErr != nil {
		return nil, false, parseErr
	}
	return summaries, root.Get("last_page").Bool(), nil
}

// parseOrderDetail normalizes one order detail payload into a canonical
// order. Every line must parse; a partial order is never returned.
func parseOrderDetail(body []byte) (*vendor.CanonicalOrder, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("order detail is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.Get("id").Exists() {
		return nil, fmt.Errorf("order detail missing id")
	}

	date, err := parseDate(root.Get("placed_on"))
	if err != nil {
		return nil, err
	}
	total, err := parseMoney(root.Get("total"))
	if err != nil {
		return nil, err
	}

	rawStatus := root.Get("status").String()
	order := &vendor.CanonicalOrder{
		VendorOrderID:        root.Get("id").String(),
		VendorOrderReference: root.Get("web_reference").String(),
		OrderDate:            date,
		Status:               vendor.ClassifyOrderStatus(rawStatus),
		RawStatus:            rawStatus,
		TotalAmount:          total,
		Currency:             currencyOrDefault(root.Get("currency")),
		ShippingAddress:      root.Get("ship_to").String(),
		InvoiceLink:          root.Get("invoice_url").String(),
	}

	var lineErr error
	root.Get("items").ForEach(func(_, item gjson.Result) bool {
		line, err := parseLineItem(item)
		if err != nil {
			lineErr = fmt.Errorf("order %s: %w", order.VendorOrderID, err)
			return false
		}
		order.LineItems = append(order.LineItems, *line)
		return true
	})
	if lineErr != nil {
		return nil, lineErr
	}
	return order, nil
}

func parseLineItem(item gjson.Result) (*vendor.CanonicalLineItem, error) {
	sku := item.Get("sku").String()
	if sku == "" {
		return nil, fmt.Errorf("line item missing sku")
	}
	unitPrice, err := parseMoney(item.Get("unit_price"))
	if err != nil {
		return nil, fmt.Errorf("line %s: %w", sku, err)
	}

	attrs := map[string]string{}
	if name := item.Get("name").String(); name != "" {
		attrs["name"] = name
	}
	if mfr := item.Get("manufacturer").String(); mfr != "" {
		attrs["manufacturer"] = mfr
	}
	if pkg := item.Get("packaging").String(); pkg != "" {
		attrs["packaging"] = pkg
	}

	rawStatus := item.Get("status").String()
	line := &vendor.CanonicalLineItem{
		ProductID:  sku,
		Attributes: attrs,
		Quantity:   int(item.Get("quantity").Int()),
		UnitPrice:  unitPrice,
		Status:     vendor.ClassifyLineItemStatus(rawStatus),
		RawStatus:  rawStatus,
	}
	if tr := item.Get("tracking"); tr.Exists() && tr.Get("number").String() != "" {
		info := &vendor.TrackingInfo{
			Carrier:        tr.Get("carrier").String(),
			TrackingNumber: tr.Get("number").String(),
			TrackingURL:    tr.Get("url").String(),
		}
		if shipped, err := parseDate(tr.Get("shipped_on")); err == nil {
			info.ShippedAt = &shipped
		}
		line.Tracking = info
	}
	return line, nil
}

// parseSearchPage normalizes one search result page:
// {"products": [...], "page": n, "total": n, "last_page": bool}.
func parseSearchPage(body []byte) (*vendor.SearchPage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	productsField := root.Get("products")
	if !productsField.Exists() || !productsField.IsArray() {
		return nil, fmt.Errorf("search response missing products array")
	}

	page := &vendor.SearchPage{
		Page:      int(root.Get("page").Int()),
		TotalSize: int(root.Get("total").Int()),
		LastPage:  root.Get("last_page").Bool(),
	}
	var parseErr error
	productsField.ForEach(func(_, p gjson.Result) bool {
		price, err := parseMoney(p.Get("price"))
		if err != nil {
			parseErr = fmt.Errorf("product %s: %w", p.Get("sku").String(), err)
			return false
		}
		page.Products = append(page.Products, vendor.SearchProduct{
			VendorProductID: p.Get("sku").String(),
			Name:            p.Get("name").String(),
			Manufacturer:    p.Get("manufacturer").String(),
			Packaging:       p.Get("packaging").String(),
			Price:           price,
			Currency:        currencyOrDefault(p.Get("currency")),
			InStock:         p.Get("in_stock").Bool(),
			ImageURL:        p.Get("image_url").String(),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return page, nil
}

// parseStructuredInvoice normalizes the JSON invoice endpoint into canonical
// invoice data for the shared template.
func parseStructuredInvoice(body []byte) (*vendor.InvoiceData, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invoice is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.Get("invoice_number").Exists() {
		return nil, fmt.Errorf("invoice missing invoice_number")
	}

	subtotal, err := parseMoney(root.Get("subtotal"))
	if err != nil {
		return nil, err
	}
	shipping, err := parseMoney(root.Get("shipping"))
	if err != nil {
		return nil, err
	}
	tax, err := parseMoney(root.Get("tax"))
	if err != nil {
		return nil, err
	}
	total, err := parseMoney(root.Get("total"))
	if err != nil {
		return nil, err
	}

	data := &vendor.InvoiceData{
		VendorName:    "Dental Direct",
		InvoiceNumber: root.Get("invoice_number").String(),
		OrderRef:      root.Get("order_reference").String(),
		BillTo:        root.Get("bill_to").String(),
		ShipTo:        root.Get("ship_to").String(),
		Currency:      currencyOrDefault(root.Get("currency")),
		Subtotal:      subtotal,
		Shipping:      shipping,
		Tax:           tax,
		Total:         total,
	}
	if issued, err := parseDate(root.Get("issued_on")); err == nil {
		data.IssuedAt = issued
	}

	var lineErr error
	root.Get("lines").ForEach(func(_, l gjson.Result) bool {
		unitPrice, err := parseMoney(l.Get("unit_price"))
		if err != nil {
			lineErr = err
			return false
		}
		amount, err := parseMoney(l.Get("amount"))
		if err != nil {
			lineErr = err
			return false
		}
		data.Lines = append(data.Lines, vendor.InvoiceLine{
			ProductID:   l.Get("sku").String(),
			Description: l.Get("description").String(),
			Quantity:    int(l.Get("quantity").Int()),
			UnitPrice:   unitPrice,
			Amount:      amount,
		})
		return true
	})
	if lineErr != nil {
		return nil, lineErr
	}
	return data, nil
}

// parseTracking normalizes the tracking endpoint: {"shipments": [...]}.
func parseTracking(body []byte) ([]vendor.TrackingInfo, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("tracking response is not valid JSON")
	}
	var infos []vendor.TrackingInfo
	gjson.GetBytes(body, "shipments").ForEach(func(_, s gjson.Result) bool {
		info := vendor.TrackingInfo{
			Carrier:        s.Get("carrier").String(),
			TrackingNumber: s.Get("number").String(),
			TrackingURL:    s.Get("url").String(),
		}
		if shipped, err := parseDate(s.Get("shipped_on")); err == nil {
			info.ShippedAt = &shipped
		}
		infos = append(infos, info)
		return true
	})
	return infos, nil
}

func currencyOrDefault(r gjson.Result) string {
	if r.String() == "" {
		return "USD"
	}
	return r.String()
}
