// Package services – MessageFormatter
//
// This file implements the stateless renderer that turns ERP business events
// (order confirmed/shipped/delivered, supplier order placed) into outbound
// message text plus the parameter list for the matching WhatsApp template.
// Rendering is a pure function of the event: no side effects, no network.
package services

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Template names registered with the provider for each business event.
const (
	TemplateOrderConfirmed      = "order_confirmed"
	TemplateOrderShipped        = "order_shipped"
	TemplateOrderDelivered      = "order_delivered"
	TemplateSupplierOrderPlaced = "supplier_order_placed"
)

// OrderEvent carries the fields of a customer-order lifecycle event.
type OrderEvent struct {
	OrderNumber    string
	CustomerName   string
	TotalAmount    float64
	Currency       string
	TrackingNumber string    // shipped only
	Carrier        string    // shipped only
	DeliveryDate   time.Time // shipped (expected) / delivered (actual)
}

// SupplierOrderEvent carries the fields of a supplier purchase order.
type SupplierOrderEvent struct {
	OrderNumber  string
	SupplierName string
	ItemCount    int
	TotalAmount  float64
	Currency     string
	ExpectedDate time.Time
}

// RenderedMessage is the outcome of formatting one business event: the plain
// text fallback plus the template name/parameters for a template send.
type RenderedMessage struct {
	Text         string
	TemplateName string
	Params       []string
}

// MessageFormatter renders business events into outbound messages. The locale
// drives name casing and number formatting.
type MessageFormatter struct {
	locale  language.Tag
	titling cases.Caser
	printer *message.Printer
}

// NewMessageFormatter constructs a formatter for the given locale;
// language.Und falls back to English formatting rules.
func NewMessageFormatter(locale language.Tag) *MessageFormatter {
	if locale == language.Und {
		locale = language.English
	}
	return &MessageFormatter{
		locale:  locale,
		titling: cases.Title(locale, cases.NoLower),
		printer: message.NewPrinter(locale),
	}
}

// OrderConfirmed renders the order-confirmation message.
func (f *MessageFormatter) OrderConfirmed(e OrderEvent) RenderedMessage {
	name := f.customerName(e.CustomerName)
	amount := f.amount(e.TotalAmount, e.Currency)
	return RenderedMessage{
		Text: fmt.Sprintf("Hi %s! Your order %s has been confirmed. Total: %s. We will let you know once it ships.",
			name, e.OrderNumber, amount),
		TemplateName: TemplateOrderConfirmed,
		Params:       []string{name, e.OrderNumber, amount},
	}
}

// OrderShipped renders the shipping notification, including tracking details
// when present.
func (f *MessageFormatter) OrderShipped(e OrderEvent) RenderedMessage {
	name := f.customerName(e.CustomerName)
	tracking := e.TrackingNumber
	if tracking == "" {
		tracking = "n/a"
	}
	carrier := e.Carrier
	if carrier == "" {
		carrier = "our courier"
	}
	eta := f.date(e.DeliveryDate)
	return RenderedMessage{
		Text: fmt.Sprintf("Hi %s! Your order %s is on its way via %s. Tracking: %s. Expected delivery: %s.",
			name, e.OrderNumber, carrier, tracking, eta),
		TemplateName: TemplateOrderShipped,
		Params:       []string{name, e.OrderNumber, carrier, tracking, eta},
	}
}

// OrderDelivered renders the delivery confirmation.
func (f *MessageFormatter) OrderDelivered(e OrderEvent) RenderedMessage {
	name := f.customerName(e.CustomerName)
	return RenderedMessage{
		Text: fmt.Sprintf("Hi %s! Your order %s was delivered. Thank you for shopping with us!",
			name, e.OrderNumber),
		TemplateName: TemplateOrderDelivered,
		Params:       []string{name, e.OrderNumber},
	}
}

// SupplierOrderPlaced renders the purchase-order notification sent to a
// supplier contact.
func (f *MessageFormatter) SupplierOrderPlaced(e SupplierOrderEvent) RenderedMessage {
	amount := f.amount(e.TotalAmount, e.Currency)
	expected := f.date(e.ExpectedDate)
	return RenderedMessage{
		Text: fmt.Sprintf("Purchase order %s placed with %s: %d item(s), total %s. Expected by %s.",
			e.OrderNumber, e.SupplierName, e.ItemCount, amount, expected),
		TemplateName: TemplateSupplierOrderPlaced,
		Params:       []string{e.OrderNumber, e.SupplierName, fmt.Sprintf("%d", e.ItemCount), amount, expected},
	}
}

// customerName title-cases the customer name, falling back to a neutral
// salutation when unknown.
func (f *MessageFormatter) customerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "there"
	}
	return f.titling.String(strings.ToLower(name))
}

// amount formats a monetary amount with locale-aware digit grouping.
func (f *MessageFormatter) amount(v float64, currency string) string {
	if currency == "" {
		currency = "RON"
	}
	return f.printer.Sprintf("%.2f %s", v, currency)
}

// date formats a date for message text; the zero time renders as "soon".
func (f *MessageFormatter) date(t time.Time) string {
	if t.IsZero() {
		return "soon"
	}
	return t.Format("2 Jan 2006")
}
