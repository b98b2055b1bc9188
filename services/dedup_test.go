package services

import (
	"testing"
	"time"

	"github.com/AudricY/mercari-jp-bot/config"
	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/storage"
	"github.com/AudricY/mercari-jp-bot/utils"
)

func newTestEngine() *Engine {
	return NewEngine(utils.NewLogger(false), NoopConverter{})
}

func card(title, price, url, img string) models.RawListing {
	return models.RawListing{Text: title + "\n" + price, URL: url, ImageURL: img}
}

func TestProcessRespectsMaxPrice(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Name: "camera", Terms: []string{"camera"}, MaxPrice: 50000}

	cards := []models.RawListing{
		card("Camera A", "¥40,000", "https://jp.mercari.com/item/m1", "https://img/a.jpg"),
		card("Camera B", "¥60,000", "https://jp.mercari.com/item/m2", "https://img/b.jpg"),
	}

	got := engine.Process(kw, cards, store)
	if len(got) != 1 || got[0].Title != "Camera A" {
		t.Fatalf("accepted set = %v, want only Camera A", titles(got))
	}
	if got[0].Price != 40000 || got[0].PriceDisplay != "¥40,000" {
		t.Errorf("Camera A price = (%q, %d)", got[0].PriceDisplay, got[0].Price)
	}
}

func TestProcessRespectsMinPrice(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Terms: []string{"lens"}, MinPrice: 5000}

	cards := []models.RawListing{
		card("Cheap Lens", "¥1,000", "https://jp.mercari.com/item/m1", "https://img/a.jpg"),
		card("Good Lens", "¥8,000", "https://jp.mercari.com/item/m2", "https://img/b.jpg"),
	}

	got := engine.Process(kw, cards, store)
	if len(got) != 1 || got[0].Title != "Good Lens" {
		t.Fatalf("accepted set = %v, want only Good Lens", titles(got))
	}
}

func TestProcessTitleFilters(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{
		Terms:   []string{"gundam"},
		Include: []string{"MG", "RG"},
		Exclude: []string{"junk"},
	}

	cards := []models.RawListing{
		card("MG Freedom Gundam", "¥4,500", "https://jp.mercari.com/item/m1", "https://img/1.jpg"),
		card("HG Barbatos", "¥1,500", "https://jp.mercari.com/item/m2", "https://img/2.jpg"),
		card("rg Nu Gundam", "¥3,800", "https://jp.mercari.com/item/m3", "https://img/3.jpg"),
		card("MG Sazabi JUNK parts", "¥2,000", "https://jp.mercari.com/item/m4", "https://img/4.jpg"),
	}

	got := engine.Process(kw, cards, store)
	want := []string{"MG Freedom Gundam", "rg Nu Gundam"}
	if len(got) != 2 || got[0].Title != want[0] || got[1].Title != want[1] {
		t.Errorf("accepted = %v, want %v", titles(got), want)
	}
}

func TestProcessSkipsUnparseablePrice(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Terms: []string{"x"}}

	cards := []models.RawListing{
		card("No Price Item", "SOLD", "https://jp.mercari.com/item/m1", "https://img/1.jpg"),
	}

	if got := engine.Process(kw, cards, store); len(got) != 0 {
		t.Errorf("unparseable price should be skipped, got %v", titles(got))
	}
	if store.Len() != 0 {
		t.Error("skipped cards must not be recorded in the seen-set")
	}
}

func TestProcessCarriesCaptureTime(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Terms: []string{"x"}}

	captured := time.Date(2025, 6, 1, 10, 30, 0, 0, time.Local)
	c := card("Nikon F3", "¥30,000", "https://jp.mercari.com/item/m1", "https://img/1.jpg")
	c.ScrapedAt = captured

	got := engine.Process(kw, []models.RawListing{c}, store)
	if len(got) != 1 {
		t.Fatal("card should be accepted")
	}
	if !got[0].FoundAt.Equal(captured) {
		t.Errorf("FoundAt = %v, want the scrape capture time %v", got[0].FoundAt, captured)
	}
}

func TestProcessDedupsAgainstStore(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Terms: []string{"x"}}

	c := card("Nikon F3", "¥30,000", "https://jp.mercari.com/item/m1", "https://img/1.jpg")

	if got := engine.Process(kw, []models.RawListing{c}, store); len(got) != 1 {
		t.Fatalf("first sighting should be accepted, got %v", titles(got))
	}
	if got := engine.Process(kw, []models.RawListing{c}, store); len(got) != 0 {
		t.Errorf("identical re-sighting should be rejected, got %v", titles(got))
	}

	cheaper := card("Nikon F3", "¥25,000", "https://jp.mercari.com/item/m9", "https://img/1.jpg")
	got := engine.Process(kw, []models.RawListing{cheaper}, store)
	if len(got) != 1 {
		t.Fatal("cheaper re-sighting of the same title+image should be accepted")
	}
	rec, _ := store.Get(got[0].Signature())
	if rec.Price != 25000 {
		t.Errorf("stored price after drop: %d, want 25000", rec.Price)
	}
}

func TestProcessInBatchDuplicateComparesAgainstJustRecordedPrice(t *testing.T) {
	engine := newTestEngine()
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Terms: []string{"x"}}

	// Same identity three times in one batch: accepted, cheaper (accepted),
	// then back up (rejected against the just-recorded ¥800, not the ¥1,000
	// from the first card).
	cards := []models.RawListing{
		card("Same Item", "¥1,000", "https://jp.mercari.com/item/m1", "https://img/1.jpg"),
		card("Same Item", "¥800", "https://jp.mercari.com/item/m2", "https://img/1.jpg"),
		card("Same Item", "¥900", "https://jp.mercari.com/item/m3", "https://img/1.jpg"),
	}

	got := engine.Process(kw, cards, store)
	if len(got) != 2 {
		t.Fatalf("accepted %d listings (%v), want 2", len(got), titles(got))
	}
	rec, _ := store.Get(got[0].Signature())
	if rec.Price != 800 {
		t.Errorf("final recorded price = %d, want 800", rec.Price)
	}
}

func TestProcessWithYenConversion(t *testing.T) {
	engine := NewEngine(utils.NewLogger(false), YenConverter{Rate: 145.0})
	store := storage.NewSeenStore(utils.NewLogger(false))
	kw := config.KeywordConfig{Terms: []string{"x"}, MaxPrice: 20000}

	cards := []models.RawListing{
		card("Import Item", "US$100", "https://jp.mercari.com/item/m1", "https://img/1.jpg"),
		card("Pricey Import", "US$200", "https://jp.mercari.com/item/m2", "https://img/2.jpg"),
	}

	got := engine.Process(kw, cards, store)
	if len(got) != 1 {
		t.Fatalf("bounds must apply to the converted amount, got %v", titles(got))
	}
	if got[0].Price != 14500 || got[0].PriceDisplay != "¥14.500" {
		t.Errorf("converted price = (%q, %d)", got[0].PriceDisplay, got[0].Price)
	}
}

func titles(listings []models.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.Title
	}
	return out
}
