package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
	"github.com/ordo/vendor-engine/internal/infrastructure/invoice"
)

// DownloadInvoice fetches the vendor invoice for an order reference and
// normalizes it into one canonical PDF. Vendor PDFs pass through unchanged;
// HTML renders directly; structured extractions go through the shared
// template first. Render failures surface, never swallowed.
func (e *Engine) DownloadInvoice(ctx context.Context, pair vendor.OfficeVendor, orderRef string) ([]byte, error) {
	if orderRef == "" {
		return nil, fmt.Errorf("engine: no order reference: %w", vendor.ErrInvoiceUnavailable)
	}

	var artifact *vendor.InvoiceArtifact
	err := e.withSession(ctx, pair, func(adapter vendor.Adapter, sess *vendor.Session) error {
		var err error
		artifact, err = adapter.DownloadInvoice(ctx, sess, orderRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	pdf, err := e.normalizeInvoice(ctx, artifact)
	if err != nil {
		return nil, err
	}
	artifact.PDF = pdf

	if e.archive != nil {
		key, err := e.archive.Put(ctx, pair.OfficeID, pair.VendorID, orderRef, pdf)
		if err != nil {
			// Archiving is an add-on; the caller still gets the PDF.
			e.logger.Warn("invoice archive failed",
				zap.String("slug", pair.Slug.String()),
				zap.String("order_ref", orderRef),
				zap.Error(err))
		} else {
			e.logger.Debug("invoice archived", zap.String("key", key))
		}
	}
	return pdf, nil
}

func (e *Engine) normalizeInvoice(ctx context.Context, artifact *vendor.InvoiceArtifact) ([]byte, error) {
	switch artifact.Format {
	case vendor.InvoicePDF:
		if len(artifact.Raw) == 0 {
			return nil, fmt.Errorf("engine: vendor served an empty PDF: %w", vendor.ErrVendorSite)
		}
		return artifact.Raw, nil

	case vendor.InvoiceHTML:
		pdf, err := e.renderer.RenderPDF(ctx, string(artifact.Raw))
		if err != nil {
			return nil, fmt.Errorf("engine: render HTML invoice: %w", err)
		}
		return pdf, nil

	case vendor.InvoiceStructured:
		html, err := invoice.RenderHTML(artifact.Structured)
		if err != nil {
			return nil, fmt.Errorf("engine: canonical invoice template: %w", err)
		}
		pdf, err := e.renderer.RenderPDF(ctx, html)
		if err != nil {
			return nil, fmt.Errorf("engine: render structured invoice: %w", err)
		}
		return pdf, nil

	default:
		return nil, fmt.Errorf("engine: unknown invoice format %q: %w", artifact.Format, vendor.ErrVendorSite)
	}
}
