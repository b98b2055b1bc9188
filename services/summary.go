package services

import (
	"fmt"
	"strings"

	"github.com/AudricY/mercari-jp-bot/config"
)

// DailyCounts accumulates how many new items were sent per keyword display
// name since the last daily summary.
type DailyCounts struct {
	counts map[string]int
}

// NewDailyCounts returns an empty counter.
func NewDailyCounts() *DailyCounts {
	return &DailyCounts{counts: make(map[string]int)}
}

// Add records n newly notified items for a keyword.
func (d *DailyCounts) Add(name string, n int) {
	d.counts[name] += n
}

// Get returns the count for a keyword display name.
func (d *DailyCounts) Get(name string) int {
	return d.counts[name]
}

// Total returns the number of items notified across all keywords.
func (d *DailyCounts) Total() int {
	total := 0
	for _, n := range d.counts {
		total += n
	}
	return total
}

// Reset clears all counts. Called immediately after the summary is sent.
func (d *DailyCounts) Reset() {
	d.counts = make(map[string]int)
}

// SummaryMessage renders the daily summary in keyword configuration order,
// which keeps the report stable across runs.
func SummaryMessage(date string, counts *DailyCounts, keywords []config.KeywordConfig) string {
	lines := []string{fmt.Sprintf("📊 Mercari Summary — %s\n", date)}

	active := 0
	for _, kw := range keywords {
		name := kw.DisplayName()
		n := counts.Get(name)
		if n == 0 {
			continue
		}
		plural := ""
		if n != 1 {
			plural = "s"
		}
		lines = append(lines, fmt.Sprintf("• %s: %d new item%s", name, n, plural))
		active++
	}

	if active == 0 {
		lines = append(lines, "No activity recorded today.")
	}

	return strings.Join(lines, "\n")
}
