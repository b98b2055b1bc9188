package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AudricY/mercari-jp-bot/models"
)

// PostgresWriter archives notified listings to PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS notified_listings (
			id            SERIAL PRIMARY KEY,
			keyword       TEXT        NOT NULL,
			title         TEXT        NOT NULL,
			price_display TEXT        NOT NULL DEFAULT '',
			price         INTEGER     NOT NULL DEFAULT 0,
			url           TEXT        UNIQUE NOT NULL,
			image_url     TEXT        NOT NULL DEFAULT '',
			found_at      TIMESTAMPTZ NOT NULL,
			archived_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_notified_keyword  ON notified_listings(keyword);
		CREATE INDEX IF NOT EXISTS idx_notified_found_at ON notified_listings(found_at);
	`)
	return err
}

// Archive batch-inserts notified listings, skipping detail URLs that were
// already archived by a previous run.
func (pw *PostgresWriter) Archive(keyword string, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := pw.insertBatch(keyword, listings[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pw *PostgresWriter) insertBatch(keyword string, batch []models.Listing) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*7)

	for idx, l := range batch {
		base := idx * 7
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		valueArgs = append(valueArgs,
			keyword, l.Title, l.PriceDisplay, l.Price, l.URL, l.ImageURL, l.FoundAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO notified_listings (keyword, title, price_display, price, url, image_url, found_at)
		VALUES %s
		ON CONFLICT (url) DO NOTHING
	`, strings.Join(valueStrings, ","))

	_, err := pw.db.Exec(query, valueArgs...)
	return err
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
