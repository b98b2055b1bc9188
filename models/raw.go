package models

import (
	"strings"
	"time"
)

// RawListing holds one unprocessed listing card straight from the browser:
// the card's free-text block plus the detail and image URLs. The dedup
// engine turns these into Listings.
type RawListing struct {
	Text      string
	URL       string
	ImageURL  string
	ScrapedAt time.Time
}

// Title returns the first non-empty line of the card text, which is the
// listing title on the search results page.
func (r RawListing) Title() string {
	for _, line := range strings.Split(r.Text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "Untitled Item"
}
