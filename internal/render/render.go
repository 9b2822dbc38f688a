// Package render produces the print documents for prescriptions and invoices.
// Rendering is a pure projection: nothing passed in is modified.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/domain/invoice"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// DefaultPrintDelay lets the new document settle before the print dialog opens.
const DefaultPrintDelay = 500 * time.Millisecond

// ContentType is the media type of rendered documents.
const ContentType = "text/html; charset=utf-8"

// Config holds renderer configuration
type Config struct {
	PrintDelay time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{PrintDelay: DefaultPrintDelay}
}

// Renderer renders print documents from embedded templates.
type Renderer struct {
	config       Config
	prescription *template.Template
	invoice      *template.Template
	now          func() time.Time
}

// New parses the embedded templates.
func New(cfg Config) (*Renderer, error) {
	if cfg.PrintDelay < 0 {
		cfg.PrintDelay = 0
	}
	rx, err := parse("prescription")
	if err != nil {
		return nil, err
	}
	inv, err := parse("invoice")
	if err != nil {
		return nil, err
	}
	return &Renderer{config: cfg, prescription: rx, invoice: inv, now: time.Now}, nil
}

func parse(name string) (*template.Template, error) {
	funcs := sprig.FuncMap()
	funcs["money"] = func(d decimal.Decimal) string { return d.StringFixed(2) }
	t, err := template.New(name).Funcs(funcs).ParseFS(templateFS,
		"templates/layout.html.tmpl", "templates/"+name+".html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return t, nil
}

// VitalLine is one printed vital.
type VitalLine struct {
	Label string
	Value string
	Unit  string
}

type prescriptionData struct {
	Rx           draft.Prescription
	Vitals       []VitalLine
	Medications  []*draft.Medication
	Printed      time.Time
	PrintDelayMS int64
}

type invoiceData struct {
	Invoice      invoice.Invoice
	Totals       invoice.Totals
	PrintDelayMS int64
}

var vitalLabels = []struct {
	field draft.VitalField
	label string
}{
	{draft.VitalTemperature, "Temp"},
	{draft.VitalPulse, "Pulse"},
	{draft.VitalSystolic, "Systolic"},
	{draft.VitalDiastolic, "Diastolic"},
	{draft.VitalRespiratoryRate, "Resp. rate"},
	{draft.VitalSpO2, "SpO2"},
	{draft.VitalHeight, "Height"},
	{draft.VitalWeight, "Weight"},
	{draft.VitalBloodSugar, "Blood sugar"},
}

func vitalLines(v draft.Vitals) []VitalLine {
	var lines []VitalLine
	for _, vl := range vitalLabels {
		p := v.Get(vl.field)
		if p == nil {
			continue
		}
		r, _ := draft.VitalRange(vl.field)
		lines = append(lines, VitalLine{
			Label: vl.label,
			Value: strconv.FormatFloat(*p, 'f', -1, 64),
			Unit:  r.Unit,
		})
	}
	if v.BMI != "" {
		lines = append(lines, VitalLine{Label: "BMI", Value: v.BMI, Unit: "kg/m²"})
	}
	return lines
}

// Prescription writes the print document for rx. Blank medication rows are
// left out.
func (r *Renderer) Prescription(w io.Writer, rx draft.Prescription) error {
	data := prescriptionData{
		Rx:           rx,
		Vitals:       vitalLines(rx.Vitals),
		Printed:      r.now(),
		PrintDelayMS: r.config.PrintDelay.Milliseconds(),
	}
	for _, m := range rx.Diagnosis.Medications {
		if !m.IsBlank() {
			data.Medications = append(data.Medications, m)
		}
	}
	return execute(w, r.prescription, data)
}

// Invoice writes the print document for inv. The invoice must already be
// prepared.
func (r *Renderer) Invoice(w io.Writer, inv invoice.Invoice) error {
	data := invoiceData{
		Invoice:      inv,
		Totals:       inv.Totals(),
		PrintDelayMS: r.config.PrintDelay.Milliseconds(),
	}
	return execute(w, r.invoice, data)
}

// execute buffers the output so a failed render never writes a partial page.
func execute(w io.Writer, t *template.Template, data interface{}) error {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", t.Name(), err)
	}
	_, err := buf.WriteTo(w)
	return err
}
