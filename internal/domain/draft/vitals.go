package draft

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VitalField names one numeric vital sign.
type VitalField string

const (
	VitalTemperature     VitalField = "temperature"
	VitalPulse           VitalField = "pulse"
	VitalSystolic        VitalField = "systolic"
	VitalDiastolic       VitalField = "diastolic"
	VitalRespiratoryRate VitalField = "respiratory_rate"
	VitalSpO2            VitalField = "spo2"
	VitalHeight          VitalField = "height"
	VitalWeight          VitalField = "weight"
	VitalBloodSugar      VitalField = "blood_sugar"
)

// Range is the closed interval a vital must fall in.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Unit string  `json:"unit"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

var vitalRanges = map[VitalField]Range{
	VitalTemperature:     {Min: 90, Max: 110, Unit: "°F"},
	VitalPulse:           {Min: 30, Max: 220, Unit: "bpm"},
	VitalSystolic:        {Min: 50, Max: 250, Unit: "mmHg"},
	VitalDiastolic:       {Min: 30, Max: 150, Unit: "mmHg"},
	VitalRespiratoryRate: {Min: 5, Max: 60, Unit: "/min"},
	VitalSpO2:            {Min: 50, Max: 100, Unit: "%"},
	VitalHeight:          {Min: 30, Max: 250, Unit: "cm"},
	VitalWeight:          {Min: 1, Max: 300, Unit: "kg"},
	VitalBloodSugar:      {Min: 20, Max: 600, Unit: "mg/dL"},
}

// VitalRange returns the documented range for f.
func VitalRange(f VitalField) (Range, bool) {
	r, ok := vitalRanges[f]
	return r, ok
}

// Vitals is the vitals slice of a draft. BMI is derived and read-only.
type Vitals struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	Pulse           *float64 `json:"pulse,omitempty"`
	Systolic        *float64 `json:"systolic,omitempty"`
	Diastolic       *float64 `json:"diastolic,omitempty"`
	RespiratoryRate *float64 `json:"respiratory_rate,omitempty"`
	SpO2            *float64 `json:"spo2,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	Weight          *float64 `json:"weight,omitempty"`
	BloodSugar      *float64 `json:"blood_sugar,omitempty"`
	BMI             string   `json:"bmi"`
}

func (v *Vitals) slot(f VitalField) **float64 {
	switch f {
	case VitalTemperature:
		return &v.Temperature
	case VitalPulse:
		return &v.Pulse
	case VitalSystolic:
		return &v.Systolic
	case VitalDiastolic:
		return &v.Diastolic
	case VitalRespiratoryRate:
		return &v.RespiratoryRate
	case VitalSpO2:
		return &v.SpO2
	case VitalHeight:
		return &v.Height
	case VitalWeight:
		return &v.Weight
	case VitalBloodSugar:
		return &v.BloodSugar
	}
	return nil
}

// Get returns the stored value of f.
func (v *Vitals) Get(f VitalField) *float64 {
	if s := v.slot(f); s != nil {
		return *s
	}
	return nil
}

func (v Vitals) clone() Vitals {
	c := v
	for f := range vitalRanges {
		if p := v.Get(f); p != nil {
			val := *p
			*c.slot(f) = &val
		}
	}
	return c
}

// ComputeBMI returns weight / height_m² to one decimal, or "" when either
// input is missing or out of range.
func ComputeBMI(heightCM, weightKG *float64) string {
	if heightCM == nil || weightKG == nil {
		return ""
	}
	if !vitalRanges[VitalHeight].Contains(*heightCM) || !vitalRanges[VitalWeight].Contains(*weightKG) {
		return ""
	}
	m := *heightCM / 100
	bmi := math.Round(*weightKG/(m*m)*10) / 10
	return strconv.FormatFloat(bmi, 'f', 1, 64)
}

// InvalidVitalPolicy decides what happens to an out-of-range vital on blur.
type InvalidVitalPolicy string

const (
	// PolicyFlag keeps the raw input and shows an inline message.
	PolicyFlag InvalidVitalPolicy = "flag"
	// PolicyClear silently empties the field.
	PolicyClear InvalidVitalPolicy = "clear"
)

// ParsePolicy maps a config value to a policy, defaulting to PolicyFlag.
func ParsePolicy(s string) InvalidVitalPolicy {
	if InvalidVitalPolicy(strings.ToLower(strings.TrimSpace(s))) == PolicyClear {
		return PolicyClear
	}
	return PolicyFlag
}

// VitalEvent is the editor event that triggered validation.
type VitalEvent string

const (
	EventChange VitalEvent = "change"
	EventBlur   VitalEvent = "blur"
)

// VitalResult is the editor's view of one field after an input event.
type VitalResult struct {
	Field   VitalField `json:"field"`
	Raw     string     `json:"raw"`
	Value   *float64   `json:"value,omitempty"`
	Error   string     `json:"error,omitempty"`
	Cleared bool       `json:"cleared,omitempty"`
	BMI     string     `json:"bmi"`
}

// checkVital parses raw against f's range. An empty raw value is valid and
// means "unset".
func checkVital(f VitalField, raw string) (*float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ""
	}
	r := vitalRanges[f]
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, "must be a number"
	}
	if !r.Contains(v) {
		return nil, fmt.Sprintf("must be between %s and %s %s",
			strconv.FormatFloat(r.Min, 'f', -1, 64), strconv.FormatFloat(r.Max, 'f', -1, 64), r.Unit)
	}
	return &v, ""
}
