package formatter

import (
	"strings"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// DefaultPromptChars bounds how much body text is sent to the model.
const DefaultPromptChars = 3000

const schemaInstructions = `Please extract and format any funding opportunities as JSON with these fields:
- title: Clear opportunity title
- description: Brief description
- deadline: Deadline if mentioned (ISO format or null)
- amount_min: Minimum funding amount (number or null)
- amount_max: Maximum funding amount (number or null)
- currency: Currency code (default USD)
- eligibility_criteria: Who can apply
- application_process: How to apply
- contact_email: Contact email if available
- contact_phone: Contact phone if available
- keywords: Array of relevant keywords
- focus_areas: Array of focus areas/sectors
- sector: Primary sector (Education, Health, Environment, etc.)

Return only valid JSON array of opportunities found, or empty array if none.`

// BuildPrompt renders the extraction prompt for page. At most maxChars runes
// of body text are embedded.
func BuildPrompt(page crawler.RawPage, regionHint string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultPromptChars
	}
	var b strings.Builder
	b.WriteString("Extract funding opportunities from this web page content.\n")
	b.WriteString("Country focus: ")
	b.WriteString(regionHint)
	b.WriteString("\n\nPage Title: ")
	b.WriteString(page.Title)
	b.WriteString("\nURL: ")
	b.WriteString(page.URL)
	b.WriteString("\nContent: ")
	b.WriteString(truncateRunes(page.Text, maxChars))
	b.WriteString("\n\n")
	b.WriteString(schemaInstructions)
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
