package invoice

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// canonicalTemplate is the shared invoice layout. Every structured invoice
// renders through it regardless of vendor, so archived PDFs look uniform.
const canonicalTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Invoice {{.InvoiceNumber}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #222; margin: 0; }
.header { display: flex; justify-content: space-between; border-bottom: 2px solid #333; padding-bottom: 12px; }
.vendor { font-size: 18px; font-weight: bold; }
.meta { text-align: right; }
.addresses { display: flex; gap: 48px; margin: 18px 0; }
.addresses h4 { margin: 0 0 4px; font-size: 11px; text-transform: uppercase; color: #666; }
table { width: 100%; border-collapse: collapse; margin-top: 12px; }
th { text-align: left; font-size: 11px; text-transform: uppercase; color: #666; border-bottom: 1px solid #ccc; padding: 6px 4px; }
td { padding: 6px 4px; border-bottom: 1px solid #eee; }
td.num, th.num { text-align: right; }
.totals { margin-top: 16px; margin-left: auto; width: 240px; }
.totals td { border: none; padding: 3px 4px; }
.totals tr.grand td { border-top: 1px solid #333; font-weight: bold; }
</style>
</head>
<body>
<div class="header">
  <div class="vendor">{{.VendorName}}</div>
  <div class="meta">
    <div>Invoice {{.InvoiceNumber}}</div>
    {{if .OrderRef}}<div>Order {{.OrderRef}}</div>{{end}}
    <div>{{formatDate .IssuedAt}}</div>
  </div>
</div>
<div class="addresses">
  {{if .BillTo}}<div><h4>Bill To</h4><div>{{.BillTo}}</div></div>{{end}}
  {{if .ShipTo}}<div><h4>Ship To</h4><div>{{.ShipTo}}</div></div>{{end}}
</div>
<table>
  <thead>
    <tr><th>Item</th><th>Description</th><th class="num">Qty</th><th class="num">Unit Price</th><th class="num">Amount</th></tr>
  </thead>
  <tbody>
    {{range .Lines}}
    <tr>
      <td>{{.ProductID}}</td>
      <td>{{.Description}}</td>
      <td class="num">{{.Quantity}}</td>
      <td class="num">{{formatMoney $.Currency .UnitPrice}}</td>
      <td class="num">{{formatMoney $.Currency .Amount}}</td>
    </tr>
    {{end}}
  </tbody>
</table>
<table class="totals">
  <tr><td>Subtotal</td><td class="num">{{formatMoney .Currency .Subtotal}}</td></tr>
  <tr><td>Shipping</td><td class="num">{{formatMoney .Currency .Shipping}}</td></tr>
  <tr><td>Tax</td><td class="num">{{formatMoney .Currency .Tax}}</td></tr>
  <tr class="grand"><td>Total</td><td class="num">{{formatMoney .Currency .Total}}</td></tr>
</table>
</body>
</html>`

var invoiceTemplate = template.Must(
	template.New("invoice").Funcs(template.FuncMap{
		"formatMoney": formatMoney,
		"formatDate":  formatDate,
	}).Parse(canonicalTemplate),
)

func formatMoney(currency string, amount decimal.Decimal) string {
	symbol := "$"
	switch currency {
	case "", "USD":
	case "EUR":
		symbol = "€"
	case "GBP":
		symbol = "£"
	default:
		symbol = currency + " "
	}
	return symbol + amount.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Jan 2, 2006")
}

// RenderHTML renders structured invoice data through the canonical template.
func RenderHTML(data *vendor.InvoiceData) (string, error) {
	if data == nil {
		return "", fmt.Errorf("invoice: no structured data to render")
	}
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("invoice: template execution failed: %w", err)
	}
	return buf.String(), nil
}
