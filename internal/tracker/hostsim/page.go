package hostsim

import (
	"context"
	"net/http"
	"sync"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
)

// Page is a tracker.Host backed by in-memory state.
type Page struct {
	mu       sync.Mutex
	env      tracker.Environment
	url      string
	referrer string
	focused  bool
	framed   bool
	cookies  map[string]tracker.Cookie
	posted   []tracker.OutboundMessage
	doc      *Document
	net      Network
}

// NewPage opens url with an empty document. A nil network discards traffic.
func NewPage(url string, env tracker.Environment, net Network) *Page {
	if net == nil {
		net = &Recorder{}
	}
	return &Page{
		env:     env,
		url:     url,
		focused: true,
		cookies: make(map[string]tracker.Cookie),
		doc:     NewDocument(),
		net:     net,
	}
}

// DesktopEnv is a typical desktop Chrome environment.
func DesktopEnv() tracker.Environment {
	return tracker.Environment{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Language:            "en-US",
		Platform:            "Win32",
		CookieEnabled:       true,
		HardwareConcurrency: 8,
		Plugins:             []string{"internal-pdf-viewer"},
		MimeTypes:           []string{"application/pdf"},
		LocalStorage:        true,
		IndexedDB:           true,
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		ScreenAvailHeight:   1040,
		ColorDepth:          24,
		PixelDepth:          24,
	}
}

// PhoneEnv is a typical iPhone Safari environment.
func PhoneEnv() tracker.Environment {
	env := DesktopEnv()
	env.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	env.Platform = "iPhone"
	env.HardwareConcurrency = 4
	env.Plugins = nil
	env.MimeTypes = nil
	env.ScreenWidth, env.ScreenHeight, env.ScreenAvailHeight = 390, 844, 844
	return env
}

// Navigate changes the location without reloading, like history.pushState.
func (p *Page) Navigate(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) SetReferrer(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.referrer = ref
}

func (p *Page) SetFocus(focused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused = focused
}

// SetFramed makes the page behave as if embedded in a parent frame.
func (p *Page) SetFramed(framed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.framed = framed
}

// Posted returns the messages delivered to the parent frame.
func (p *Page) Posted() []tracker.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracker.OutboundMessage(nil), p.posted...)
}

// Doc returns the concrete document for building and driving the page.
func (p *Page) Doc() *Document {
	return p.doc
}

func (p *Page) Environment() tracker.Environment {
	return p.env
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Referrer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrer
}

func (p *Page) HasFocus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *Page) Cookie(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cookies[name]
	return c.Value, ok
}

// CookieRecord returns the full cookie as written.
func (p *Page) CookieRecord(name string) (tracker.Cookie, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cookies[name]
	return c, ok
}

func (p *Page) SetCookie(c tracker.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies[c.Name] = c
}

func (p *Page) RemoveCookie(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cookies, name)
}

func (p *Page) Document() tracker.Document {
	return p.doc
}

func (p *Page) PostToParent(msg tracker.OutboundMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.framed {
		return false
	}
	p.posted = append(p.posted, msg)
	return true
}

func (p *Page) Beacon(url string, body []byte) error {
	return p.net.Beacon(url, body)
}

func (p *Page) Send(ctx context.Context, url string, header http.Header, body []byte) error {
	return p.net.Send(ctx, url, header, body)
}
