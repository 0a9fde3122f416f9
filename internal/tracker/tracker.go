// Package tracker is the behavioral analytics tag. A Tracker owns the visitor
// identity, the session state machine, the page observers, the action log and
// the transport of one page. All page access goes through Host, so the same
// core runs in a browser bridge, in the hostsim test double or in tagsim.
package tracker

import (
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

// TransportMode selects the delivery path of a flush.
type TransportMode int

const (
	// ModeBeacon tries the beacon first and falls back to a request.
	ModeBeacon TransportMode = iota
	// ModeRequest always uses a request.
	ModeRequest
)

// Options configures New.
type Options struct {
	Host   Host
	Config Config
	// Clock defaults to SystemClock.
	Clock Clock
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
	// Queue holds commands pushed before the tag loaded. Start runs them
	// once, after the page entry is recorded.
	Queue []Command
}

// Tracker is the tracking instance of one page.
type Tracker struct {
	host      Host
	clock     Clock
	cfg       Config
	device    string
	log       zerolog.Logger
	sched     *scheduler
	transport *transport

	// sendMu serializes flushes so that each one drops exactly the prefix
	// it delivered.
	sendMu sync.Mutex

	mu           sync.Mutex
	actions      ActionLog
	flushWanted  bool
	visitorID    string
	userIdentity string
	customer     wire.Customer
	user         wire.User
	sess         session
	currentURL   string
	maxScroll    int
	innerPage    bool
	pageUnloaded bool
	hadFocus     bool
	trackedForms map[Element]bool
	backoff      Backoff
	started      bool
	queue        []Command
}

// New builds the tracker for the page behind opts.Host. It refuses to track
// automated agents and pages without an API key.
func New(opts Options) (*Tracker, error) {
	if opts.Host == nil {
		return nil, fmt.Errorf("tracker: nil host")
	}
	if opts.Config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	env := opts.Host.Environment()
	if isAutomated(env, opts.Host.URL()) {
		return nil, ErrAutomatedAgent
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "tracker").Logger()
	if opts.Config.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.ErrorLevel)
	}

	t := &Tracker{
		host:         opts.Host,
		clock:        clock,
		cfg:          opts.Config,
		device:       deviceType(env.UserAgent),
		log:          logger,
		sched:        newScheduler(clock),
		trackedForms: make(map[Element]bool),
		backoff:      Backoff{Current: opts.Config.IntervalStart, Increment: opts.Config.IntervalIncrement},
		queue:        append([]Command(nil), opts.Queue...),
	}
	t.transport = &transport{host: opts.Host, apiKey: opts.Config.APIKey, log: logger}
	t.currentURL = t.pageURL()
	t.visitorID = newIdentityManager(opts.Host, clock, opts.Config).GetOrCreateVisitorID()
	t.customer = t.buildCustomer()
	t.user = t.buildUser(env)
	return t, nil
}

func (t *Tracker) buildCustomer() wire.Customer {
	website := ""
	if u, err := url.Parse(t.host.URL()); err == nil {
		website = strings.ToLower(u.Hostname())
	}
	return wire.Customer{
		Website:       website,
		APIKey:        t.cfg.APIKey,
		IsFingerprint: t.cfg.Cookieless,
		DebugMode:     t.cfg.Debug,
		ServerPath:    wire.ServerPath,
		ServerURL:     t.cfg.Endpoint,
		Version:       wire.Version,
	}
}

func (t *Tracker) buildUser(env Environment) wire.User {
	u := wire.User{
		Language: env.Language,
		Platform: env.Platform,
		UUID:     t.visitorID,
		Custom:   map[string]any{},
		Shared:   []wire.SharedProperty{},
	}
	if !t.cfg.Cookieless {
		return u
	}
	u.Screen = &wire.Screen{
		AvailHeight: env.ScreenAvailHeight,
		Height:      env.ScreenHeight,
		Width:       env.ScreenWidth,
		Depth:       env.ColorDepth + env.PixelDepth,
	}
	u.MimeTypes = strings.Join(env.MimeTypes, "")
	u.Plugins = strings.Join(env.Plugins, "")
	u.StorageEnabled = storageFlags(env)
	other := env.HardwareConcurrency
	if env.JavaEnabled != nil && *env.JavaEnabled {
		other++
	}
	u.OtherInfo = other
	return u
}

// Start records the page entry, starts the observers and timers and drains
// the pre-load queue. Later calls do nothing.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.hadFocus = t.host.HasFocus()
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	t.run("init", func() {
		t.initSession()
		t.identifyFromURL()
		t.addAction(wire.ActionEnterPage, "", actionData{})
		t.requestFlush()
		t.registerForms()
	})

	t.sched.every(FocusPoll, func() bool {
		t.run("focus", t.focusPoll)
		return true
	})
	t.sched.every(IdleTick, func() bool {
		t.run("idle", t.idleTick)
		return true
	})
	t.sched.every(FormRescan, func() bool {
		t.run("forms", t.registerForms)
		return true
	})
	t.sched.every(URLPollInterval, func() bool {
		t.run("url", t.checkPageChange)
		return true
	})
	t.sched.loop(t.nextSendDelay, func() {
		t.run("interval", func() {
			if t.host.HasFocus() {
				t.backoff.Advance()
				t.endSession(true)
			}
		})
	})

	t.drainQueue(queue)
}

// Stop cancels every timer. Buffered actions are kept.
func (t *Tracker) Stop() {
	t.sched.stop()
}

func (t *Tracker) nextSendDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoff.Current
}

// run executes fn under the state lock with panics contained, then performs
// any flush fn requested.
func (t *Tracker) run(op string, fn func()) {
	t.mu.Lock()
	t.safely(op, fn)
	wanted := t.flushWanted
	t.flushWanted = false
	t.mu.Unlock()

	if wanted {
		t.Flush(ModeBeacon)
	}
}

// safely runs fn and logs instead of propagating a panic raised by host code.
func (t *Tracker) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().
				Str("operation", op).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered")
		}
	}()
	fn()
}

func (t *Tracker) requestFlush() {
	t.flushWanted = true
}

// Flush sends a snapshot of the action log. On success the delivered actions
// are dropped; actions appended while the send was in flight stay queued.
// An empty log never reaches the network.
func (t *Tracker) Flush(mode TransportMode) bool {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	if t.actions.Len() == 0 {
		t.mu.Unlock()
		return false
	}
	payload := t.payload()
	t.mu.Unlock()

	var ok bool
	if mode == ModeRequest {
		ok = t.transport.SendRequest(t.cfg.Endpoint, payload)
	} else {
		ok = t.transport.Send(t.cfg.Endpoint, payload)
	}

	if ok {
		t.mu.Lock()
		t.actions.Drop(len(payload.ActionLog))
		t.mu.Unlock()
	}
	t.log.Debug().Bool("ok", ok).Int("actions", len(payload.ActionLog)).Msg("flush")
	return ok
}

// payload snapshots everything a send needs. Caller holds t.mu.
func (t *Tracker) payload() wire.Payload {
	user := t.user
	if t.user.Identity != nil {
		id := *t.user.Identity
		user.Identity = &id
	}
	user.Custom = cloneProperties(t.user.Custom)
	user.Shared = make([]wire.SharedProperty, len(t.user.Shared))
	for i, p := range t.user.Shared {
		p.Properties = cloneProperties(p.Properties)
		user.Shared[i] = p
	}
	if t.user.SessionData != nil {
		sd := *t.user.SessionData
		user.SessionData = &sd
	}
	if t.user.Screen != nil {
		sc := *t.user.Screen
		user.Screen = &sc
	}

	return wire.Payload{
		Customer:  t.customer,
		User:      user,
		ActionLog: t.actions.Snapshot(),
		Referrer:  referrerFor(t.currentURL, t.host.Referrer()),
	}
}

// actionData carries the optional fields of a new action.
type actionData struct {
	ElementInfo
	Value      string
	Properties map[string]any
}

// addAction appends an action for targetURL (the current page when empty).
// Caller holds t.mu.
func (t *Tracker) addAction(actionType, targetURL string, d actionData) {
	pageURL := targetURL
	if pageURL == "" {
		pageURL = t.pageURL()
	}
	t.log.Debug().Str("type", actionType).Str("url", pageURL).Msg("creating action")

	if t.cfg.OnlyIdentify && actionType != wire.ActionIdentify {
		return
	}

	a := Action{
		Type:      actionType,
		Timestamp: t.actionTime(),
		Element:   d.Element,
		Text:      d.Text,
		Value:     d.Value,
	}
	if actionType == wire.ActionClick && d.URL != "" {
		// A click whose link already matches the location belongs to the
		// page it was made on.
		if d.URL == pageURL && pageURL != t.currentURL {
			t.addAction(actionType, t.currentURL, d)
			return
		}
		a.Value = d.URL
	}
	if len(d.Properties) > 0 {
		a.Properties = cloneProperties(d.Properties)
	}

	if actionType != wire.ActionEnterPage && actionType != wire.ActionScrollDepth && pageURL != t.currentURL {
		t.checkPageChange()
	}

	a.URL = strings.ToLower(pageURL)
	t.append(a)

	if actionType == wire.ActionSubmit || actionType == wire.ActionIdentify {
		t.requestFlush()
	}
}

func (t *Tracker) append(a Action) {
	t.actions.Append(a)
	if t.cfg.BatchSize > 0 && t.actions.Len() >= t.cfg.BatchSize {
		t.requestFlush()
	}
}

// actionTime stamps actions recorded after the session ended with the
// session's start.
func (t *Tracker) actionTime() time.Time {
	if t.sess.state == SessionEnded {
		return t.sess.start
	}
	return t.clock.Now()
}

func (t *Tracker) pageURL() string {
	return strings.ToLower(t.host.URL())
}

func (t *Tracker) isMobile() bool {
	return t.device == DevicePhone
}

// registerForms attaches the submit observer to forms inserted since the
// last scan.
func (t *Tracker) registerForms() {
	doc := t.host.Document()
	for _, form := range doc.Forms() {
		if form == nil || t.trackedForms[form] {
			continue
		}
		t.trackedForms[form] = true
		doc.OnSubmit(form, t.HandleSubmit)
	}
}
