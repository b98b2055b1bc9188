package models

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format used for discovery timestamps,
// both in notifications and in the persisted seen-set file.
const TimestampLayout = "2006-01-02 15:04:05"

// Listing represents one scraped marketplace item. Instances are built once
// per scrape pass and never mutated afterwards; only the signature and price
// are ever persisted.
type Listing struct {
	Title        string
	URL          string
	ImageURL     string
	PriceDisplay string
	Price        int
	FoundAt      time.Time
}

// NewListing constructs a Listing. foundAt is the scrape capture time; a
// zero value falls back to the current time.
func NewListing(title, url, imageURL, priceDisplay string, price int, foundAt time.Time) Listing {
	if foundAt.IsZero() {
		foundAt = time.Now()
	}
	return Listing{
		Title:        title,
		URL:          url,
		ImageURL:     imageURL,
		PriceDisplay: priceDisplay,
		Price:        price,
		FoundAt:      foundAt,
	}
}

// Signature returns the listing's content identity.
func (l Listing) Signature() string {
	return Signature(l.Title, l.ImageURL)
}

// Timestamp returns the discovery time formatted for display and persistence.
func (l Listing) Timestamp() string {
	return l.FoundAt.Format(TimestampLayout)
}

// Signature derives a stable identity digest from the lower-cased title and
// the image URL. Title+image is used instead of the detail URL because
// marketplace URLs get re-slugged and carry tracking parameters, while the
// rendered title/image pair stays fixed for the life of a listing. A price
// drop on the same listing therefore keeps the same signature.
func Signature(title, imageURL string) string {
	sum := md5.Sum([]byte(strings.ToLower(title) + imageURL))
	return hex.EncodeToString(sum[:])
}

// SeenRecord is the persisted state for one known signature: the lowest
// price observed so far and when it was observed.
type SeenRecord struct {
	Price     int    `json:"price"`
	Timestamp string `json:"timestamp"`
}
