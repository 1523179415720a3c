package formatter

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// Heuristic defaults for synthesized candidates.
const (
	heuristicDescriptionChars = 300
	heuristicEligibility      = "See source website for details"
	heuristicApplication      = "Visit source website for application details"
	heuristicSector           = "General"
)

// Indicators are the words whose presence makes a page worth a candidate.
var Indicators = []string{"grant", "funding", "opportunity", "application", "deadline"}

var amountPattern = regexp.MustCompile(`(\$)?(\d+(?:\.\d{2})?)`)

// Heuristic extracts at most one candidate from page using keyword and
// amount matching. It never calls out and never returns nil.
func Heuristic(page crawler.RawPage) []crawler.CandidateOpportunity {
	text := strings.ToLower(page.Text)
	if !containsAny(text, Indicators) {
		return []crawler.CandidateOpportunity{}
	}

	title := strings.TrimSpace(page.Title)
	if title == "" {
		title = "Funding Opportunity from " + host(page.URL)
	}
	candidate := crawler.CandidateOpportunity{
		Title:               title,
		Description:         truncateDescription(text),
		Currency:            crawler.DefaultCurrency,
		EligibilityCriteria: heuristicEligibility,
		ApplicationProcess:  heuristicApplication,
		Keywords:            []string{"funding", "opportunity"},
		FocusAreas:          []string{"General"},
		Sector:              heuristicSector,
	}
	amounts := extractAmounts(text)
	if len(amounts) > 0 {
		candidate.AmountMin = &amounts[0]
	}
	if len(amounts) > 1 {
		candidate.AmountMax = &amounts[len(amounts)-1]
	}

	normalized, err := candidate.Normalize()
	if err != nil {
		return []crawler.CandidateOpportunity{}
	}
	return []crawler.CandidateOpportunity{normalized}
}

// extractAmounts scans comma-stripped text for numbers. Dollar-prefixed
// matches win; without any, bare numbers that look like years are skipped.
func extractAmounts(text string) []float64 {
	matches := amountPattern.FindAllStringSubmatch(strings.ReplaceAll(text, ",", ""), -1)
	var dollars, bare []float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if m[1] == "$" {
			dollars = append(dollars, v)
			continue
		}
		if looksLikeYear(m[2]) {
			continue
		}
		bare = append(bare, v)
	}
	if len(dollars) > 0 {
		return dollars
	}
	return bare
}

func looksLikeYear(digits string) bool {
	if len(digits) != 4 {
		return false
	}
	year, err := strconv.Atoi(digits)
	return err == nil && year >= 1900 && year <= 2099
}

func truncateDescription(text string) string {
	if len([]rune(text)) <= heuristicDescriptionChars {
		return text
	}
	return truncateRunes(text, heuristicDescriptionChars) + "..."
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
