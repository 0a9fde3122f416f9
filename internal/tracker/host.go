package tracker

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrBeaconUnavailable is returned by Host.Beacon when the page has no
// beacon capability.
var ErrBeaconUnavailable = errors.New("beacon unavailable")

// Host is everything the tracker may touch in the embedding page.
type Host interface {
	// Environment returns the navigator/screen/storage snapshot.
	Environment() Environment
	// URL returns origin + path + query + fragment of the current location.
	URL() string
	Referrer() string
	HasFocus() bool

	Cookie(name string) (string, bool)
	SetCookie(c Cookie)
	RemoveCookie(name string)

	Document() Document

	// PostToParent delivers a message to the embedding frame. It reports
	// false when the page is not framed.
	PostToParent(msg OutboundMessage) bool

	// Beacon queues body for delivery to url. It must not block.
	Beacon(url string, body []byte) error
	// Send posts body to url with the given headers.
	Send(ctx context.Context, url string, header http.Header, body []byte) error
}

// Environment is the static part of the host.
type Environment struct {
	UserAgent           string
	Language            string
	Platform            string
	Webdriver           bool
	CookieEnabled       bool
	HardwareConcurrency int
	// JavaEnabled is nil when the browser does not expose the check.
	JavaEnabled *bool
	Plugins     []string
	MimeTypes   []string

	LocalStorage bool
	IndexedDB    bool

	ScreenWidth       int
	ScreenHeight      int
	ScreenAvailHeight int
	ColorDepth        int
	PixelDepth        int
}

// Cookie is a cookie write request.
type Cookie struct {
	Name    string
	Value   string
	Expires time.Time
	Path    string
	Domain  string
}

// Document is the live DOM of the page.
type Document interface {
	Metrics() ScrollMetrics
	Forms() []Element
	Inputs() []Element
	// ActiveElement may return nil.
	ActiveElement() Element
	// OnSubmit attaches fn to the submit event of form.
	OnSubmit(form Element, fn func(form Element))
}

// Element is one DOM element. Implementations must be comparable so that the
// tracker can recognise an element it has already seen.
type Element interface {
	// Tag returns the lowercase tag name.
	Tag() string
	ID() string
	// ClassName is the raw class attribute (the baseVal for SVG elements).
	ClassName() string
	// Parent returns nil for the document root.
	Parent() Element
	Children() []Element
	// Attr returns attributes and properties such as type, name, value,
	// placeholder, src and href.
	Attr(name string) string
	InnerText() string
	// Valid reports the element's constraint validity.
	Valid() bool
	// FormElements lists the controls of a form element.
	FormElements() []Element
}

// ScrollMetrics collects the three scroll APIs and the height measurements
// browsers disagree about.
type ScrollMetrics struct {
	WindowScrollY int
	BodyScrollTop int
	DocScrollTop  int

	BodyScrollHeight int
	DocScrollHeight  int
	BodyOffsetHeight int
	DocOffsetHeight  int
	BodyClientHeight int
	DocClientHeight  int
	InnerHeight      int
}

// Clock schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
