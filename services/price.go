package services

import (
	"encoding/json"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AudricY/mercari-jp-bot/utils"
)

// priceRegexp captures a currency-prefixed numeric token. US$ must be listed
// before $ so the longer symbol wins.
var priceRegexp = regexp.MustCompile(`(US\$|¥|\$)\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

// ParsePrice locates a currency-prefixed amount inside a raw listing text
// blob. It returns the display string (original symbol and digit formatting
// preserved) and the numeric amount, or ok=false when no recognizable price
// is present. Malformed price text is expected noise from page markup, so
// callers should skip the listing rather than fail.
func ParsePrice(text string) (display string, amount int, ok bool) {
	match := priceRegexp.FindStringSubmatch(text)
	if match == nil {
		return "", 0, false
	}

	symbol, digits := match[1], match[2]
	value, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil || value < 0 {
		return "", 0, false
	}

	return symbol + digits, int(math.Round(value)), true
}

// Converter optionally rewrites a parsed price into a common currency.
type Converter interface {
	Apply(display string, amount int) (string, int)
}

// NoopConverter leaves prices in their original currency. Cross-currency
// amounts are then not comparable, which is acceptable: the seen-set compares
// prices per listing, and a listing keeps its currency.
type NoopConverter struct{}

func (NoopConverter) Apply(display string, amount int) (string, int) {
	return display, amount
}

// YenConverter converts dollar-denominated prices to yen at a fixed rate.
type YenConverter struct {
	Rate float64
}

func (c YenConverter) Apply(display string, amount int) (string, int) {
	if !strings.HasPrefix(display, "$") && !strings.HasPrefix(display, "US$") {
		return display, amount
	}
	yen := int(math.Round(float64(amount) * c.Rate))
	return FormatYen(yen), yen
}

// FormatYen renders an amount as "¥12.345", dot-separated thousands.
func FormatYen(amount int) string {
	digits := strconv.Itoa(amount)
	var b strings.Builder
	b.WriteString("¥")
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return b.String()
}

const (
	exchangeRateURL = "https://open.er-api.com/v6/latest/USD"
	fallbackJPYRate = 145.0
)

// FetchUSDJPYRate returns the current USD→JPY exchange rate, falling back to
// a fixed rate when the rate service is unreachable or returns garbage.
func FetchUSDJPYRate(logger *utils.Logger) float64 {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(exchangeRateURL)
	if err != nil {
		logger.Warn("Failed to fetch exchange rate, using fallback (%v): %v", fallbackJPYRate, err)
		return fallbackJPYRate
	}
	defer resp.Body.Close()

	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logger.Warn("Failed to parse exchange rate data, using fallback (%v): %v", fallbackJPYRate, err)
		return fallbackJPYRate
	}

	rate, ok := payload.Rates["JPY"]
	if !ok || rate <= 0 {
		logger.Warn("Exchange rate response missing JPY, using fallback (%v)", fallbackJPYRate)
		return fallbackJPYRate
	}

	logger.Info("Fetched USD to JPY exchange rate: %v", rate)
	return rate
}
