package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// wireOpportunity is the loosely typed shape models actually return.
type wireOpportunity struct {
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Deadline            flexDate   `json:"deadline"`
	AmountMin           flexAmount `json:"amount_min"`
	AmountMax           flexAmount `json:"amount_max"`
	Currency            string     `json:"currency"`
	EligibilityCriteria flexText   `json:"eligibility_criteria"`
	ApplicationProcess  flexText   `json:"application_process"`
	ContactEmail        *string    `json:"contact_email"`
	ContactPhone        *string    `json:"contact_phone"`
	Keywords            flexList   `json:"keywords"`
	FocusAreas          flexList   `json:"focus_areas"`
	Sector              string     `json:"sector"`
}

// flexAmount accepts 50000, "50000", "$50,000", or null.
type flexAmount struct{ value *float64 }

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	switch v := raw.(type) {
	case float64:
		a.value = &v
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(v)
		if cleaned == "" {
			return nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			// Non-numeric amounts such as "varies" are treated as absent.
			return nil
		}
		a.value = &f
	}
	return nil
}

var deadlineLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05", "2006/01/02"}

// flexDate accepts ISO dates, RFC 3339 timestamps, or null. Anything else is
// treated as an unknown deadline.
type flexDate struct{ value *time.Time }

func (d *flexDate) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil || s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			utc := t.UTC()
			d.value = &utc
			return nil
		}
	}
	return nil
}

// flexList accepts a JSON array of strings or a single comma-separated string.
type flexList []string

func (l *flexList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = strings.Split(s, ",")
		return nil
	}
	return nil
}

// flexText accepts a string or an array of strings joined with "; ".
type flexText string

func (t *flexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = flexText(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = flexText(strings.Join(list, "; "))
	}
	return nil
}

// parseCandidates isolates the JSON array between the first '[' and the last
// ']' of content and converts it into validated candidates. Entries that fail
// validation are dropped; an empty array is a valid result.
func parseCandidates(content string, logger *zap.Logger) ([]crawler.CandidateOpportunity, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, errNoArray
	}
	var wire []wireOpportunity
	if err := json.Unmarshal([]byte(content[start:end+1]), &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", errDecode, err)
	}
	out := make([]crawler.CandidateOpportunity, 0, len(wire))
	for i, w := range wire {
		candidate, err := w.toCandidate().Normalize()
		if err != nil {
			logger.Debug("dropping invalid ai candidate", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, candidate)
	}
	return out, nil
}

func (w wireOpportunity) toCandidate() crawler.CandidateOpportunity {
	return crawler.CandidateOpportunity{
		Title:               w.Title,
		Description:         w.Description,
		Deadline:            w.Deadline.value,
		AmountMin:           w.AmountMin.value,
		AmountMax:           w.AmountMax.value,
		Currency:            w.Currency,
		EligibilityCriteria: string(w.EligibilityCriteria),
		ApplicationProcess:  string(w.ApplicationProcess),
		ContactEmail:        w.ContactEmail,
		ContactPhone:        w.ContactPhone,
		Keywords:            w.Keywords,
		FocusAreas:          w.FocusAreas,
		Sector:              w.Sector,
	}
}
