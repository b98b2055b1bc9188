package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AudricY/mercari-jp-bot/config"
	"github.com/AudricY/mercari-jp-bot/models"
	"github.com/AudricY/mercari-jp-bot/utils"
)

func newTestClient(t *testing.T, cfg config.NotifierConfig, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("token", "chat", cfg, utils.NewLogger(false))
	c.baseURL = srv.URL
	return c, srv
}

func fastConfig() config.NotifierConfig {
	return config.NotifierConfig{MinDelaySeconds: 0.01, MaxRetries: 3, BackoffFactor: 2.0}
}

func TestSendTextPostsForm(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotText, gotChat string

	c, _ := newTestClient(t, fastConfig(), func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		gotPath = r.URL.Path
		gotText = r.FormValue("text")
		gotChat = r.FormValue("chat_id")
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})

	if err := c.SendText("hello <b>world</b>"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotText != "hello <b>world</b>" || gotChat != "chat" {
		t.Errorf("form = text %q chat %q", gotText, gotChat)
	}
}

func TestSendPhotoPostsForm(t *testing.T) {
	var gotPhoto, gotCaption string
	c, _ := newTestClient(t, fastConfig(), func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotPhoto = r.FormValue("photo")
		gotCaption = r.FormValue("caption")
		w.Write([]byte(`{"ok":true}`))
	})

	if err := c.SendPhoto("a camera", "https://img/1.jpg"); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	if gotPhoto != "https://img/1.jpg" || gotCaption != "a camera" {
		t.Errorf("form = photo %q caption %q", gotPhoto, gotCaption)
	}
}

func TestSendsShareOneThrottleDomain(t *testing.T) {
	var mu sync.Mutex
	var hits []time.Time

	cfg := config.NotifierConfig{MinDelaySeconds: 0.1, MaxRetries: 3, BackoffFactor: 2.0}
	c, _ := newTestClient(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})

	if err := c.SendText("one"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendPhoto("two", "https://img/2.jpg"); err != nil {
		t.Fatal(err)
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 channel calls, got %d", len(hits))
	}
	if gap := hits[1].Sub(hits[0]); gap < 100*time.Millisecond {
		t.Errorf("gap between dispatches %v < min delay 100ms", gap)
	}
}

func TestRetryOnThrottleThenSuccess(t *testing.T) {
	var calls int
	var slept []time.Duration

	c, _ := newTestClient(t, fastConfig(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"parameters":{"retry_after":3}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := c.SendText("retry me"); err != nil {
		t.Fatalf("SendText should succeed after retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("channel calls = %d, want 2", calls)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("backoff sleeps = %v, want [3s] (hint × factor^0)", slept)
	}
}

func TestRetriesExhaustedPropagates(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, fastConfig(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429}`))
	})
	c.sleep = func(time.Duration) {}

	err := c.SendText("doomed")
	if err == nil {
		t.Fatal("exhausted retries must propagate an error")
	}
	if calls != 3 {
		t.Errorf("channel calls = %d, want 3 (max retries)", calls)
	}
	if !strings.Contains(err.Error(), "giving up") {
		t.Errorf("error should mention exhaustion: %v", err)
	}
}

func TestNonThrottlingFailureIsNotRetried(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, fastConfig(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request"}`))
	})

	if err := c.SendText("bad"); err == nil {
		t.Fatal("non-429 failure must be returned to the caller")
	}
	if calls != 1 {
		t.Errorf("channel calls = %d, want 1 (no retry)", calls)
	}
}

func TestBackoffWaitFloorAndGrowth(t *testing.T) {
	cfg := config.NotifierConfig{MinDelaySeconds: 1.0, MaxRetries: 5, BackoffFactor: 2.0}
	c := NewClient("t", "c", cfg, utils.NewLogger(false))

	// Hint 3s, factor 2.0: attempt index 1 must wait ≥ 3 × 2 = 6s.
	if got := c.backoffWait(3*time.Second, 1); got < 6*time.Second {
		t.Errorf("backoffWait(3s, 1) = %v, want ≥ 6s", got)
	}
	// No hint: floored by the minimum delay.
	if got := c.backoffWait(0, 0); got != time.Second {
		t.Errorf("backoffWait(0, 0) = %v, want 1s", got)
	}
	if got := c.backoffWait(0, 2); got != 4*time.Second {
		t.Errorf("backoffWait(0, 2) = %v, want 4s", got)
	}
}

func TestRetryAfterHintFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	if got := retryAfterHint(h, []byte(`{}`)); got != 7*time.Second {
		t.Errorf("header hint = %v, want 7s", got)
	}
	if got := retryAfterHint(http.Header{}, []byte(`not json`)); got != 0 {
		t.Errorf("no hint should be zero, got %v", got)
	}
}

func TestCaptionFormat(t *testing.T) {
	l := models.NewListing("Nikon F3", "https://jp.mercari.com/item/m1", "https://img/1.jpg", "¥30,000", 30000, time.Now())
	got := Caption(l)
	if !strings.HasPrefix(got, "<b>Nikon F3</b>\nPrice: ¥30,000\nTime: ") {
		t.Errorf("caption prefix wrong:\n%s", got)
	}
	if !strings.HasSuffix(got, "\nhttps://jp.mercari.com/item/m1") {
		t.Errorf("caption should end with the detail URL:\n%s", got)
	}
}
