package services

import (
	"bytes"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const invoiceFooter = "All items carry a 12-month limited warranty. Questions? support@shophub.example"

// textInvoiceRenderer produces a plain-text billing document: header, line
// items, totals block, and the fixed warranty footer. It stands in for the
// external PDF engine and honours the same input/output contract.
type textInvoiceRenderer struct {
	printer *message.Printer
}

var _ InvoiceRenderer = (*textInvoiceRenderer)(nil)

// NewTextInvoiceRenderer returns the default renderer with locale-aware
// number formatting.
func NewTextInvoiceRenderer() InvoiceRenderer {
	return &textInvoiceRenderer{printer: message.NewPrinter(language.English)}
}

func (r *textInvoiceRenderer) Render(invoice Invoice, order Order) ([]byte, error) {
	if invoice.OrderID != order.ID {
		return nil, fmt.Errorf("invoice renderer: invoice %s does not belong to order %s", invoice.InvoiceNumber, order.ID)
	}

	var buf bytes.Buffer
	r.printer.Fprintf(&buf, "INVOICE %s\n", invoice.InvoiceNumber)
	r.printer.Fprintf(&buf, "Order %s (%s)\n", order.OrderNumber, order.Currency)
	if invoice.IsPaid && invoice.PaidAt != nil {
		r.printer.Fprintf(&buf, "PAID %s\n", invoice.PaidAt.Format("2006-01-02"))
	} else {
		buf.WriteString("UNPAID\n")
	}
	buf.WriteString("\n")

	for _, item := range order.Items {
		r.printer.Fprintf(&buf, "%-40s %3d x %10s = %12s\n",
			item.ProductName, item.Quantity, item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2))
	}

	buf.WriteString("\n")
	r.printer.Fprintf(&buf, "Subtotal  %12s\n", invoice.Subtotal.StringFixed(2))
	r.printer.Fprintf(&buf, "Discount  %12s\n", invoice.Discount.Neg().StringFixed(2))
	r.printer.Fprintf(&buf, "Shipping  %12s\n", invoice.Shipping.StringFixed(2))
	r.printer.Fprintf(&buf, "Tax       %12s\n", invoice.Tax.StringFixed(2))
	r.printer.Fprintf(&buf, "Total     %12s\n", invoice.Total.StringFixed(2))

	buf.WriteString("\n")
	buf.WriteString(invoiceFooter)
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
