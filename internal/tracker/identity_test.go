package tracker_test

import (
	"regexp"
	"testing"

	"github.com/rs/zerolog"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker/hostsim"
)

var hex40 = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()
	env := hostsim.DesktopEnv()

	first := tracker.Fingerprint(env)
	if !hex40.MatchString(first) {
		t.Fatalf("fingerprint %q is not a SHA-1 hex digest", first)
	}
	if again := tracker.Fingerprint(hostsim.DesktopEnv()); again != first {
		t.Errorf("fingerprint changed for identical input: %q != %q", again, first)
	}

	java := true
	variants := map[string]func(*tracker.Environment){
		"language":    func(e *tracker.Environment) { e.Language = "de-DE" },
		"platform":    func(e *tracker.Environment) { e.Platform = "MacIntel" },
		"width":       func(e *tracker.Environment) { e.ScreenWidth = 1280 },
		"height":      func(e *tracker.Environment) { e.ScreenHeight = 720 },
		"depth":       func(e *tracker.Environment) { e.PixelDepth = 30 },
		"storage":     func(e *tracker.Environment) { e.IndexedDB = false },
		"concurrency": func(e *tracker.Environment) { e.HardwareConcurrency = 16 },
		"plugins":     func(e *tracker.Environment) { e.Plugins = append(e.Plugins, "flash") },
		"mime types":  func(e *tracker.Environment) { e.MimeTypes = nil },
		"java":        func(e *tracker.Environment) { e.JavaEnabled = &java },
	}
	for name, mutate := range variants {
		env := hostsim.DesktopEnv()
		mutate(&env)
		if tracker.Fingerprint(env) == first {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprintEmptyEnvironment(t *testing.T) {
	t.Parallel()
	if fp := tracker.Fingerprint(tracker.Environment{}); !hex40.MatchString(fp) {
		t.Errorf("fingerprint of empty environment = %q", fp)
	}
}

func newTracker(t *testing.T, page *hostsim.Page, cfg tracker.Config) *tracker.Tracker {
	t.Helper()
	logger := zerolog.Nop()
	tr, err := tracker.New(tracker.Options{Host: page, Config: cfg, Clock: hostsim.NewManualClock(epoch), Logger: &logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestVisitorIDCookieMode(t *testing.T) {
	t.Parallel()
	page := hostsim.NewPage("https://shop.example.com/", hostsim.DesktopEnv(), nil)

	first := newTracker(t, page, tracker.Config{APIKey: "k"}).VisitorID()
	second := newTracker(t, page, tracker.Config{APIKey: "k"}).VisitorID()
	if first == "" || first != second {
		t.Fatalf("visitor ids %q and %q, want the same persisted id", first, second)
	}

	c, ok := page.CookieRecord(tracker.VisitorCookie)
	if !ok || c.Value != first {
		t.Fatalf("cookie = %+v", c)
	}
	if c.Path != "/" || c.Domain != "" {
		t.Errorf("cookie scope = path %q domain %q", c.Path, c.Domain)
	}
	if days := c.Expires.Sub(epoch).Hours() / 24; days != 365 {
		t.Errorf("cookie retention = %v days, want 365", days)
	}
}

func TestVisitorIDCrossDomainCookie(t *testing.T) {
	t.Parallel()
	page := hostsim.NewPage("https://shop.example.com/", hostsim.DesktopEnv(), nil)
	newTracker(t, page, tracker.Config{APIKey: "k", CrossDomain: true})

	c, _ := page.CookieRecord(tracker.VisitorCookie)
	if c.Domain != "shop.example.com" {
		t.Errorf("cookie domain = %q", c.Domain)
	}
}

func TestVisitorIDCookieless(t *testing.T) {
	t.Parallel()
	env := hostsim.DesktopEnv()
	page := hostsim.NewPage("https://example.com/", env, nil)

	tr := newTracker(t, page, tracker.Config{APIKey: "k", Cookieless: true})
	if got := tr.VisitorID(); got != tracker.Fingerprint(env) {
		t.Errorf("visitor id = %q, want fingerprint", got)
	}
	if _, ok := page.Cookie(tracker.VisitorCookie); ok {
		t.Error("cookieless mode wrote a cookie")
	}
	if again := newTracker(t, page, tracker.Config{APIKey: "k", Cookieless: true}).VisitorID(); again != tr.VisitorID() {
		t.Errorf("cookieless id not stable: %q != %q", again, tr.VisitorID())
	}
}

func TestVisitorIDCookielessAdoptsExistingCookie(t *testing.T) {
	t.Parallel()
	page := hostsim.NewPage("https://example.com/", hostsim.DesktopEnv(), nil)
	page.SetCookie(tracker.Cookie{Name: tracker.VisitorCookie, Value: "legacy-id"})

	tr := newTracker(t, page, tracker.Config{APIKey: "k", Cookieless: true})
	if tr.VisitorID() != "legacy-id" {
		t.Errorf("visitor id = %q, want adopted cookie", tr.VisitorID())
	}
	if _, ok := page.Cookie(tracker.VisitorCookie); ok {
		t.Error("cookie not removed after adoption")
	}
}
