package invoice

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTotals(t *testing.T) {
	inv := &Invoice{
		PatientID:   "p1",
		PatientName: "Ann",
		Items: []LineItem{
			{Service: "Consultation", Quantity: 1, UnitPrice: dec("500")},
			{Service: "Dressing", Quantity: 3, UnitPrice: dec("33.33")},
		},
		DiscountPct: dec("10"),
		TaxPct:      dec("18"),
		Paid:        dec("200"),
	}

	got := inv.Totals()
	checks := map[string][2]decimal.Decimal{
		"subtotal": {got.Subtotal, dec("599.99")},
		"discount": {got.Discount, dec("60")},
		"taxable":  {got.Taxable, dec("539.99")},
		"tax":      {got.Tax, dec("97.2")},
		"total":    {got.Total, dec("637.19")},
		"due":      {got.Due, dec("437.19")},
	}
	for name, c := range checks {
		if !c[0].Equal(c[1]) {
			t.Errorf("%s: expected %s, got %s", name, c[1], c[0])
		}
	}
}

func TestDueNeverNegative(t *testing.T) {
	inv := &Invoice{Items: []LineItem{{Service: "X", Quantity: 1, UnitPrice: dec("10")}}, Paid: dec("50")}
	if due := inv.Totals().Due; !due.IsZero() {
		t.Errorf("expected zero due, got %s", due)
	}
}

func TestValidate(t *testing.T) {
	inv := &Invoice{
		Items:       []LineItem{{Service: "", Quantity: 0, UnitPrice: dec("-1")}},
		DiscountPct: dec("120"),
	}
	errs := inv.Validate()
	for _, f := range []string{"patient_id", "patient_name", "items[0].service", "items[0].quantity", "items[0].unit_price", "discount_pct"} {
		if errs[f] == "" {
			t.Errorf("expected error on %s, got %v", f, errs)
		}
	}

	empty := &Invoice{PatientID: "p1", PatientName: "Ann"}
	if empty.Validate()["items"] == "" {
		t.Error("expected error for an invoice without items")
	}
}

func TestPrepare(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	inv := &Invoice{PatientID: "p1", PatientName: "Ann", Items: []LineItem{{Service: "X", Quantity: 1, UnitPrice: dec("1")}}}
	if err := inv.Prepare(now); err != nil {
		t.Fatal(err)
	}
	if inv.Number != "INV-20261019-093000" || !inv.IssuedAt.Equal(now) {
		t.Errorf("unexpected defaults %s %s", inv.Number, inv.IssuedAt)
	}

	bad := &Invoice{}
	if err := bad.Prepare(now); !errors.Is(err, ErrInvalidInvoice) {
		t.Errorf("expected ErrInvalidInvoice, got %v", err)
	}
}

func TestPrepareErrorIsStable(t *testing.T) {
	now := time.Now()
	first := (&Invoice{TaxPct: dec("150")}).Prepare(now).Error()
	for i := 0; i < 20; i++ {
		if got := (&Invoice{TaxPct: dec("150")}).Prepare(now).Error(); got != first {
			t.Fatalf("message changed between runs:\n%s\n%s", first, got)
		}
	}
	items := strings.Index(first, "items ")
	patient := strings.Index(first, "patient_id ")
	tax := strings.Index(first, "tax_pct ")
	if items < 0 || patient < items || tax < patient {
		t.Errorf("fields not in sorted order: %s", first)
	}
}
