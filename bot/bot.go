package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AudricY/mercari-jp-bot/config"
	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/notify"
	"github.com/AudricY/mercari-jp-bot/scraper/mercari"
	"github.com/AudricY/mercari-jp-bot/services"
	"github.com/AudricY/mercari-jp-bot/storage"
	"github.com/AudricY/mercari-jp-bot/utils"
)

// Notifier is the delivery channel surface the bot needs.
type Notifier interface {
	SendText(text string) error
	SendPhoto(caption, photoURL string) error
}

// Searcher produces raw listing cards for a search term and supports
// periodic session recycling.
type Searcher interface {
	FetchCards(term string, minPrice, maxPrice int) ([]models.RawListing, error)
	Restart() error
}

// Bot drives the scrape → dedup → notify cycle for every configured keyword,
// persists the seen-set at the end of each cycle, and fires the daily
// summary at the configured time of day.
type Bot struct {
	cfg      *config.Config
	logger   *utils.Logger
	store    *storage.SeenStore
	engine   *services.Engine
	notifier Notifier
	scraper  Searcher
	archiver storage.ListingArchiver
	counts   *services.DailyCounts

	lastSummaryDate string
}

// New wires a Bot from its collaborators. archiver may be nil.
func New(
	cfg *config.Config,
	logger *utils.Logger,
	store *storage.SeenStore,
	engine *services.Engine,
	notifier Notifier,
	scraper Searcher,
	archiver storage.ListingArchiver,
) *Bot {
	return &Bot{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		engine:   engine,
		notifier: notifier,
		scraper:  scraper,
		archiver: archiver,
		counts:   services.NewDailyCounts(),
	}
}

// Run executes search cycles until ctx is cancelled or an unrecoverable
// error occurs. On exit it always persists the seen-set and sends a final
// stopped notification, best effort.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.notifier.SendText("🟢 Mercari bot started."); err != nil {
		return fmt.Errorf("startup notification: %w", err)
	}

	// When the process comes up after today's summary time, arm for
	// tomorrow instead of summarizing a day that was barely observed.
	if hour, minute, err := b.cfg.SummaryClock(); err == nil {
		now := time.Now()
		due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !now.Before(due) {
			b.lastSummaryDate = now.Format("2006-01-02")
		}
	}

	cycle := 0
	for {
		for _, kw := range b.cfg.Keywords {
			if ctx.Err() != nil {
				return b.shutdown(nil)
			}

			if err := b.runKeyword(kw); err != nil {
				return b.shutdown(err)
			}

			if !sleepCtx(ctx, b.cfg.BatchDelay()) {
				return b.shutdown(nil)
			}
		}

		b.store.Save(b.cfg.SeenFile, b.cfg.MaxSeenItems)

		if err := b.maybeSendSummary(time.Now()); err != nil {
			return b.shutdown(err)
		}

		b.logger.Info("Finished a full cycle of keyword searches. Waiting for next cycle...")
		if !sleepCtx(ctx, b.cfg.CycleDelay()) {
			return b.shutdown(nil)
		}

		cycle++
		if cycle%b.cfg.CyclesBeforeRestart == 0 {
			if err := b.scraper.Restart(); err != nil {
				return b.shutdown(fmt.Errorf("browser failed to re-initialize: %w", err))
			}
		}
	}
}

// runKeyword scrapes, dedups and notifies one keyword. Scrape timeouts skip
// the keyword for this cycle; only channel-level delivery failures bubble up.
func (b *Bot) runKeyword(kw config.KeywordConfig) error {
	name := kw.DisplayName()
	b.logger.Info("Starting search for keyword: %s", name)

	var cards []models.RawListing
	for _, term := range kw.Terms {
		fetched, err := b.scraper.FetchCards(term, kw.MinPrice, kw.MaxPrice)
		if err != nil {
			if errors.Is(err, mercari.ErrTimeout) {
				b.logger.Warn("Timeout waiting for items for term %q — skipping this cycle", term)
			} else {
				b.logger.Error("Scrape failed for term %q: %v", term, err)
			}
			continue
		}
		cards = append(cards, fetched...)
	}

	newItems := b.engine.Process(kw, cards, b.store)
	if len(newItems) == 0 {
		b.logger.Info("No new items found for keyword: %s", name)
		return nil
	}

	return b.dispatch(name, newItems)
}

// dispatch sends one batch of new listings: a header text, one photo per
// item oldest-first (capped), then a footer. A photo failure is recoverable:
// it is logged and replaced by a text fallback. Text failures propagate,
// since they mean the channel itself is likely unusable.
func (b *Bot) dispatch(name string, items []models.Listing) error {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FoundAt.Before(items[j].FoundAt)
	})

	if err := b.notifier.SendText(fmt.Sprintf("🔍 Found new listings for: <b>%s</b>...", name)); err != nil {
		return err
	}

	b.counts.Add(name, len(items))
	b.logger.Info("🚀 Sending %d items for keyword: %s", len(items), name)

	sendable := items
	if limit := b.cfg.MaxItemsPerBatch; limit > 0 && len(sendable) > limit {
		sendable = sendable[:limit]
		b.logger.Warn("Capping batch for %s at %d of %d items", name, limit, len(items))
	}

	for _, item := range sendable {
		caption := notify.Caption(item)
		if err := b.notifier.SendPhoto(caption, item.ImageURL); err != nil {
			b.logger.Error("Photo send failed for %q: %v — falling back to text", item.Title, err)
			if err := b.notifier.SendText(caption); err != nil {
				return err
			}
		}
	}

	plural := ""
	if len(items) != 1 {
		plural = "s"
	}
	if err := b.notifier.SendText(fmt.Sprintf("✅ Done! Found <b>%d</b> new item%s for <b>%s</b>.",
		len(items), plural, name)); err != nil {
		return err
	}

	b.archive(name, items)
	return nil
}

// archive records notified listings in the configured backend, best effort.
func (b *Bot) archive(name string, items []models.Listing) {
	if b.archiver == nil {
		return
	}
	if err := b.archiver.Archive(name, items); err != nil {
		b.logger.Error("Archive failed for %s: %v", name, err)
	}
}

// maybeSendSummary fires the daily summary once per day, the first time the
// loop passes the configured time of day.
func (b *Bot) maybeSendSummary(now time.Time) error {
	hour, minute, err := b.cfg.SummaryClock()
	if err != nil {
		return err
	}

	today := now.Format("2006-01-02")
	due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Before(due) || b.lastSummaryDate == today {
		return nil
	}

	msg := services.SummaryMessage(today, b.counts, b.cfg.Keywords)
	if err := b.notifier.SendText(msg); err != nil {
		return fmt.Errorf("daily summary: %w", err)
	}

	b.counts.Reset()
	b.lastSummaryDate = today
	b.logger.Info("Daily summary sent and daily counts cleared.")
	return nil
}

// shutdown persists state and notifies the operator, best effort, then
// returns the original error so the process can exit accordingly.
func (b *Bot) shutdown(runErr error) error {
	b.store.Save(b.cfg.SeenFile, b.cfg.MaxSeenItems)

	if runErr != nil {
		b.logger.Error("Shutting down due to error: %v", runErr)
		if err := b.notifier.SendText(fmt.Sprintf("❗️ An error occurred: %v", runErr)); err != nil {
			b.logger.Error("Failed to send error notification: %v", err)
		}
	}

	if err := b.notifier.SendText("🔴 Mercari bot has stopped."); err != nil {
		b.logger.Error("Failed to send stop notification: %v", err)
	}
	b.logger.Info("Mercari bot is shutting down.")
	return runErr
}

// sleepCtx pauses for d but wakes early on cancellation. Returns false when
// the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
