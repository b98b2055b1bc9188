package storage

import "github.com/AudricY/mercari-jp-bot/models"

// ListingArchiver is the interface any archive backend must satisfy. The
// archive keeps a record of every listing that was actually notified, for
// later inspection outside the bot.
type ListingArchiver interface {
	Archive(keyword string, listings []models.Listing) error
	Close() error
}
