// Package invoice computes billing totals for the invoice print view.
package invoice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxdraft/internal/validation"
)

var ErrInvalidInvoice = errors.New("invalid invoice")

var hundred = decimal.NewFromInt(100)

// LineItem is one billed service or product.
type LineItem struct {
	Service   string          `json:"service" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Amount is quantity × unit price.
func (l LineItem) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Invoice is the billing record handed to the renderer.
type Invoice struct {
	Number      string          `json:"number"`
	IssuedAt    time.Time       `json:"issued_at"`
	ClinicName  string          `json:"clinic_name"`
	DoctorName  string          `json:"doctor_name,omitempty"`
	PatientID   string          `json:"patient_id" validate:"required"`
	PatientName string          `json:"patient_name" validate:"required"`
	Items       []LineItem      `json:"items" validate:"min=1"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
	PaymentMode string          `json:"payment_mode,omitempty"`
	Paid        decimal.Decimal `json:"paid"`
}

// Totals are rounded to two places.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Taxable  decimal.Decimal `json:"taxable"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Paid     decimal.Decimal `json:"paid"`
	Due      decimal.Decimal `json:"due"`
}

// Validate checks the invoice and returns field errors keyed by json name.
// Line item errors are keyed items[i].field.
func (inv *Invoice) Validate() validation.FieldErrors {
	errs := validation.Struct(inv)
	for i, item := range inv.Items {
		for f, msg := range validation.Struct(item) {
			errs = errs.Merge(validation.FieldErrors{fmt.Sprintf("items[%d].%s", i, f): msg})
		}
		if item.UnitPrice.IsNegative() {
			errs = errs.Merge(validation.FieldErrors{fmt.Sprintf("items[%d].unit_price", i): "must not be negative"})
		}
	}
	if pctOutOfRange(inv.DiscountPct) {
		errs = errs.Merge(validation.FieldErrors{"discount_pct": "must be between 0 and 100"})
	}
	if pctOutOfRange(inv.TaxPct) {
		errs = errs.Merge(validation.FieldErrors{"tax_pct": "must be between 0 and 100"})
	}
	if inv.Paid.IsNegative() {
		errs = errs.Merge(validation.FieldErrors{"paid": "must not be negative"})
	}
	if errs.Empty() {
		return nil
	}
	return errs
}

func pctOutOfRange(p decimal.Decimal) bool {
	return p.IsNegative() || p.GreaterThan(hundred)
}

// Totals computes subtotal, discount, tax and balance. Discount applies
// before tax.
func (inv *Invoice) Totals() Totals {
	sub := decimal.Zero
	for _, item := range inv.Items {
		sub = sub.Add(item.Amount())
	}
	discount := sub.Mul(inv.DiscountPct).Div(hundred).Round(2)
	taxable := sub.Sub(discount)
	tax := taxable.Mul(inv.TaxPct).Div(hundred).Round(2)
	total := taxable.Add(tax).Round(2)
	due := total.Sub(inv.Paid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	return Totals{
		Subtotal: sub.Round(2),
		Discount: discount,
		Taxable:  taxable.Round(2),
		Tax:      tax,
		Total:    total,
		Paid:     inv.Paid.Round(2),
		Due:      due.Round(2),
	}
}

// Prepare validates the invoice and fills defaults for printing.
func (inv *Invoice) Prepare(now time.Time) error {
	if errs := inv.Validate(); !errs.Empty() {
		msgs := make([]string, 0, len(errs))
		for k, v := range errs {
			msgs = append(msgs, k+" "+v)
		}
		sort.Strings(msgs)
		return fmt.Errorf("%w: %s", ErrInvalidInvoice, strings.Join(msgs, "; "))
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = now.UTC()
	}
	if inv.Number == "" {
		inv.Number = "INV-" + inv.IssuedAt.Format("20060102-150405")
	}
	return nil
}
