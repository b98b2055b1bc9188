package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AudricY/mercari-jp-bot/config"
	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/utils"
)

const defaultBaseURL = "https://api.telegram.org"

// Client delivers text and photo notifications through the Telegram Bot API.
// All sends funnel through one rate-limited post call, so text and photo
// messages share a single throttle domain. On a 429 response the client
// backs off and retries; any other failure is returned to the caller, who
// decides whether it is recoverable.
type Client struct {
	botToken string
	chatID   string

	httpClient    *http.Client
	limiter       *utils.RateLimiter
	maxRetries    int
	backoffFactor float64
	logger        *utils.Logger

	baseURL string
	sleep   func(time.Duration)
}

// NewClient creates a Client with the given credentials and throttle tuning.
func NewClient(botToken, chatID string, cfg config.NotifierConfig, logger *utils.Logger) *Client {
	return &Client{
		botToken:      botToken,
		chatID:        chatID,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		limiter:       utils.NewRateLimiter(cfg.MinDelay()),
		maxRetries:    cfg.MaxRetries,
		backoffFactor: cfg.BackoffFactor,
		logger:        logger,
		baseURL:       defaultBaseURL,
		sleep:         time.Sleep,
	}
}

// SendText sends a plain text (HTML-formatted) message.
func (c *Client) SendText(text string) error {
	err := c.post("sendMessage", url.Values{
		"chat_id":    {c.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	})
	if err != nil {
		return err
	}
	c.logger.Info("📝 Sent message: %.50s", text)
	return nil
}

// SendPhoto sends a photo by URL with an HTML caption.
func (c *Client) SendPhoto(caption, photoURL string) error {
	err := c.post("sendPhoto", url.Values{
		"chat_id":    {c.chatID},
		"photo":      {photoURL},
		"caption":    {caption},
		"parse_mode": {"HTML"},
	})
	if err != nil {
		return err
	}
	c.logger.Info("📷 Sent photo: %.50s", caption)
	return nil
}

// Caption renders the photo caption for one listing.
func Caption(l models.Listing) string {
	return fmt.Sprintf("<b>%s</b>\nPrice: %s\nTime: %s\n%s",
		l.Title, l.PriceDisplay, l.Timestamp(), l.URL)
}

// post performs one rate-limited API call, retrying on throttling responses.
func (c *Client) post(method string, payload url.Values) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		c.limiter.Wait()

		resp, err := c.httpClient.PostForm(endpoint, payload)
		if err != nil {
			return fmt.Errorf("telegram %s: %w", method, err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			hint := retryAfterHint(resp.Header, body)
			wait := c.backoffWait(hint, attempt)
			lastErr = fmt.Errorf("telegram %s: rate limited (retry after %v)", method, hint)
			c.logger.Warn("Telegram throttled %s (attempt %d/%d) — backing off %v",
				method, attempt+1, c.maxRetries, wait)
			c.sleep(wait)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("telegram %s: status %d: %.200s", method, resp.StatusCode, body)
		}
		return nil
	}

	return fmt.Errorf("telegram %s: giving up after %d attempts: %w", method, c.maxRetries, lastErr)
}

// backoffWait computes the wait before retry number attempt (0-based): the
// server's retry-after hint floored by the minimum send delay, scaled by
// backoffFactor^attempt.
func (c *Client) backoffWait(hint time.Duration, attempt int) time.Duration {
	base := hint
	if base < c.limiter.MinDelay() {
		base = c.limiter.MinDelay()
	}
	return time.Duration(float64(base) * math.Pow(c.backoffFactor, float64(attempt)))
}

// retryAfterHint extracts the server-suggested wait from a 429 response:
// the Telegram JSON body's parameters.retry_after if present, otherwise the
// Retry-After header. Zero means no hint.
func retryAfterHint(header http.Header, body []byte) time.Duration {
	var payload struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Parameters.RetryAfter > 0 {
		return time.Duration(payload.Parameters.RetryAfter) * time.Second
	}

	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
