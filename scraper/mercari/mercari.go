package mercari

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/utils"
)

const (
	searchBaseURL = "https://jp.mercari.com/search"
	itemCellSel   = `li[data-testid="item-cell"]`

	pageLoadTimeout = 45 * time.Second
	waitTimeout     = 15 * time.Second
	scrollPasses    = 2
)

// ErrTimeout reports that the results page never showed any listings within
// the wait window. Distinct from a page that loaded with zero results: a
// timeout is a transient failure and must not poison the seen-set.
var ErrTimeout = errors.New("timed out waiting for listings")

// Scraper drives a headless Chrome session against the Mercari search page.
// It is the page snapshot producer: it yields raw per-listing text blocks
// plus detail and image URLs, and nothing else.
type Scraper struct {
	logger *utils.Logger
	retry  *utils.RetryConfig

	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelTab   context.CancelFunc
}

// New creates a Scraper. Call Start before fetching.
func New(logger *utils.Logger) *Scraper {
	return &Scraper{
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   5 * time.Second,
			MaxDelay:    20 * time.Second,
			Logger:      logger,
		},
	}
}

// Start launches the browser. Initialization is retried because a headless
// Chrome occasionally fails to come up on constrained hosts.
func (s *Scraper) Start() error {
	chromeBin := findChromeBinary()
	s.logger.Info("[mercari] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("window-size", "1920,8192"),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	return s.retry.Do("start-browser", func() error {
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

		// Suppress chromedp log noise
		browserCtx, cancelTab := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(func(string, ...interface{}) {}))

		startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
		defer cancel()
		if err := chromedp.Run(startCtx); err != nil {
			cancelTab()
			cancelAlloc()
			return fmt.Errorf("launch browser: %w", err)
		}

		s.cancelAlloc = cancelAlloc
		s.browserCtx = browserCtx
		s.cancelTab = cancelTab
		s.logger.Info("[mercari] Browser session started")
		return nil
	})
}

// Stop tears down the browser session.
func (s *Scraper) Stop() {
	if s.cancelTab != nil {
		s.cancelTab()
		s.cancelTab = nil
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
		s.cancelAlloc = nil
	}
}

// Restart recycles the browser session. Long-lived headless Chrome leaks
// memory, so the main loop recycles it every few cycles.
func (s *Scraper) Restart() error {
	s.logger.Info("[mercari] Recycling browser session")
	s.Stop()
	return s.Start()
}

// SearchURL builds the results URL for one search term, newest listings
// first, on-sale only. Price bounds, when set, are pushed into the query so
// the page itself pre-filters.
func SearchURL(term string, minPrice, maxPrice int) string {
	q := url.Values{}
	q.Set("keyword", term)
	q.Set("sort", "created_time")
	q.Set("order", "desc")
	q.Set("status", "on_sale")
	if minPrice > 0 {
		q.Set("price_min", strconv.Itoa(minPrice))
	}
	if maxPrice > 0 {
		q.Set("price_max", strconv.Itoa(maxPrice))
	}
	return searchBaseURL + "?" + q.Encode()
}

// newTab opens a tab inside the running browser session. Parenting on
// browserCtx is what makes the tab join the existing Chrome process instead
// of the allocator exec'ing a fresh one per fetch.
func (s *Scraper) newTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(s.browserCtx)
}

type cardData struct {
	Text string `json:"text"`
	URL  string `json:"url"`
	Img  string `json:"img"`
}

// FetchCards loads the results page for one term and extracts the raw
// listing cards, oldest first. A wait timeout returns ErrTimeout so the
// caller can skip the keyword for this cycle.
func (s *Scraper) FetchCards(term string, minPrice, maxPrice int) ([]models.RawListing, error) {
	if s.browserCtx == nil {
		return nil, errors.New("browser session not started")
	}

	pageURL := SearchURL(term, minPrice, maxPrice)
	s.logger.Info("[mercari] Navigating to: %s", pageURL)

	tabCtx, cancel := s.newTab()
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, pageLoadTimeout)
	defer cancelTimeout()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(pageURL)); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(tabCtx, waitTimeout)
	defer cancelWait()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(itemCellSel, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w for term %q", ErrTimeout, term)
		}
		return nil, fmt.Errorf("wait for listings: %w", err)
	}

	// Bounded scroll to trigger lazy-loaded cards below the fold.
	for i := 0; i < scrollPasses; i++ {
		if err := chromedp.Run(tabCtx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(time.Second),
		); err != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
	}

	var cards []cardData
	err := chromedp.Run(tabCtx, chromedp.Evaluate(`
		(function() {
			var out = [];
			var cells = document.querySelectorAll('li[data-testid="item-cell"]');
			for (var i = 0; i < cells.length; i++) {
				var cell = cells[i];
				var link = cell.querySelector('a');
				var img = cell.querySelector('img');
				out.push({
					text: (cell.innerText || '').trim(),
					url:  link ? link.href : '',
					img:  img ? img.src : ''
				});
			}
			return out;
		})()
	`, &cards))
	if err != nil {
		return nil, fmt.Errorf("extract cards: %w", err)
	}

	s.logger.Info("[mercari] Found %d potential items for term: %s", len(cards), term)

	// The page lists newest first; reverse so downstream processing and
	// notification ordering run oldest-first.
	now := time.Now()
	raw := make([]models.RawListing, 0, len(cards))
	for i := len(cards) - 1; i >= 0; i-- {
		c := cards[i]
		if c.URL == "" {
			s.logger.Debug("[mercari] Skipping card without detail URL: %.60s", c.Text)
			continue
		}
		raw = append(raw, models.RawListing{
			Text:      c.Text,
			URL:       c.URL,
			ImageURL:  c.Img,
			ScrapedAt: now,
		})
	}
	return raw, nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
