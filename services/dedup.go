package services

import (
	"strings"

	"github.com/AudricY/mercari-jp-bot/config"
	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/storage"
	"github.com/AudricY/mercari-jp-bot/utils"
)

// Engine decides which freshly scraped listings are worth notifying: a novel
// signature, or the same listing strictly cheaper than last recorded.
type Engine struct {
	logger    *utils.Logger
	converter Converter
}

// NewEngine creates an Engine with the given price conversion policy.
func NewEngine(logger *utils.Logger, converter Converter) *Engine {
	return &Engine{logger: logger, converter: converter}
}

// verdict is the explicit per-item outcome of filtering and parsing. A
// non-empty skip reason means the card never reaches the seen-set.
type verdict struct {
	listing models.Listing
	skip    string
}

// Process filters and dedups one keyword's batch of raw cards against the
// seen-set. Cards must arrive oldest-first; accepted listings are recorded
// immediately, so a later in-batch duplicate is compared against the price
// just recorded, not the stale one from disk. The store is only mutated in
// memory here; persisting it is the caller's end-of-cycle step.
func (e *Engine) Process(kw config.KeywordConfig, cards []models.RawListing, store *storage.SeenStore) []models.Listing {
	var accepted []models.Listing

	for _, card := range cards {
		v := e.evaluate(kw, card)
		if v.skip != "" {
			e.logger.Debug("[dedup] Skipping %q: %s", card.Title(), v.skip)
			continue
		}

		sig := v.listing.Signature()
		if !store.ShouldAccept(sig, v.listing.Price) {
			e.logger.Debug("[dedup] Already seen and not cheaper: %s", v.listing.Title)
			continue
		}

		store.Record(sig, v.listing.Price, v.listing.Timestamp())
		accepted = append(accepted, v.listing)
		e.logger.Info("New or cheaper item found: %s at %s", v.listing.Title, v.listing.PriceDisplay)
	}

	return accepted
}

// evaluate applies the keyword's structural filters and price parsing to a
// single card without touching the seen-set.
func (e *Engine) evaluate(kw config.KeywordConfig, card models.RawListing) verdict {
	title := card.Title()
	lower := strings.ToLower(title)

	if len(kw.Include) > 0 && !containsAny(lower, kw.Include) {
		return verdict{skip: "title matches no include filter"}
	}
	if containsAny(lower, kw.Exclude) {
		return verdict{skip: "title matches an exclude filter"}
	}

	display, amount, ok := ParsePrice(card.Text)
	if !ok {
		return verdict{skip: "no parseable price"}
	}
	display, amount = e.converter.Apply(display, amount)

	// Bounds are usually pushed into the search URL already; this re-check
	// guards against cards the page serves anyway.
	if kw.MinPrice > 0 && amount < kw.MinPrice {
		return verdict{skip: "below configured minimum price"}
	}
	if kw.MaxPrice > 0 && amount > kw.MaxPrice {
		return verdict{skip: "above configured maximum price"}
	}

	return verdict{listing: models.NewListing(title, card.URL, card.ImageURL, display, amount, card.ScrapedAt)}
}

// containsAny reports whether the lower-cased title contains any of the
// given substrings, compared case-insensitively.
func containsAny(lowerTitle string, subs []string) bool {
	for _, sub := range subs {
		if sub == "" {
			continue
		}
		if strings.Contains(lowerTitle, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
