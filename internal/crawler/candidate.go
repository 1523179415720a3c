package crawler

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCurrency is applied when a candidate omits its currency code.
const DefaultCurrency = "USD"

// CandidateOpportunity is a pre-persistence record produced by a Formatter.
type CandidateOpportunity struct {
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	AmountMin           *float64   `json:"amount_min,omitempty"`
	AmountMax           *float64   `json:"amount_max,omitempty"`
	Currency            string     `json:"currency"`
	EligibilityCriteria string     `json:"eligibility_criteria"`
	ApplicationProcess  string     `json:"application_process"`
	ContactEmail        *string    `json:"contact_email,omitempty"`
	ContactPhone        *string    `json:"contact_phone,omitempty"`
	Keywords            []string   `json:"keywords"`
	FocusAreas          []string   `json:"focus_areas"`
	Sector              string     `json:"sector"`
}

// Normalize trims text fields, applies defaults, and rejects records that
// cannot be persisted. The receiver is left untouched.
func (c CandidateOpportunity) Normalize() (CandidateOpportunity, error) {
	out := c
	out.Title = strings.TrimSpace(out.Title)
	out.Description = strings.TrimSpace(out.Description)
	if out.Title == "" {
		return CandidateOpportunity{}, fmt.Errorf("candidate title is empty")
	}
	if out.Description == "" {
		return CandidateOpportunity{}, fmt.Errorf("candidate %q has empty description", out.Title)
	}
	out.Currency = strings.ToUpper(strings.TrimSpace(out.Currency))
	if out.Currency == "" {
		out.Currency = DefaultCurrency
	}
	out.AmountMin = nonNegative(out.AmountMin)
	out.AmountMax = nonNegative(out.AmountMax)
	if out.AmountMin != nil && out.AmountMax != nil && *out.AmountMin > *out.AmountMax {
		out.AmountMin, out.AmountMax = out.AmountMax, out.AmountMin
	}
	out.EligibilityCriteria = strings.TrimSpace(out.EligibilityCriteria)
	out.ApplicationProcess = strings.TrimSpace(out.ApplicationProcess)
	out.Sector = strings.TrimSpace(out.Sector)
	out.ContactEmail = nonBlank(out.ContactEmail)
	out.ContactPhone = nonBlank(out.ContactPhone)
	out.Keywords = cleanSet(out.Keywords)
	out.FocusAreas = cleanSet(out.FocusAreas)
	return out, nil
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	val := *v
	return &val
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// cleanSet trims entries and drops blanks and case-insensitive duplicates.
func cleanSet(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
