package tracker

import (
	"net/url"
	"strings"
	"time"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

// ConfigView is the read-only configuration reported to host code.
type ConfigView struct {
	APIKey       string `json:"apiKey"`
	Cookieless   bool   `json:"cookieless"`
	PrivacyMode  bool   `json:"privacyMode"`
	AutoIdentify bool   `json:"autoIdentify"`
	OnlyIdentify bool   `json:"onlyIdentify"`
	Debug        bool   `json:"debug"`
	DeviceType   string `json:"deviceType"`
	IsMobile     bool   `json:"isMobile"`
}

// Identify sets the visitor's identity from an email address and merges
// custom into the user's custom properties. An empty email only merges.
// The identify action is flushed immediately.
func (t *Tracker) Identify(email string, custom map[string]any) {
	t.run("identify", func() { t.identify(email, custom) })
}

// IdentifyProperties merges props into the custom user properties without
// changing the identity.
func (t *Tracker) IdentifyProperties(props map[string]any) {
	t.run("identify", func() { t.identify("", props) })
}

func (t *Tracker) identify(email string, custom map[string]any) {
	t.log.Debug().Str("email", email).Interface("custom", custom).Msg("identify")

	if email != "" {
		identity := strings.ToLower(email)
		if t.cfg.PrivacyMode {
			identity = hashHex(identity)
		}
		t.userIdentity = identity
		t.user.Identity = &identity
		t.host.PostToParent(OutboundMessage{Name: MsgIdentify, Identity: identity})
	}
	if len(custom) > 0 {
		if t.user.Custom == nil {
			t.user.Custom = map[string]any{}
		}
		for k, v := range cloneProperties(custom) {
			t.user.Custom[k] = v
		}
	}
	t.addAction(wire.ActionIdentify, "", actionData{})
}

// Goal records a named conversion. at overrides the timestamp when set.
// Goals are buffered until the next flush.
func (t *Tracker) Goal(name string, props map[string]any, at *time.Time) {
	t.run("goal", func() { t.goal(name, props, at) })
}

// TrackEvent records a named custom event.
func (t *Tracker) TrackEvent(name string, props map[string]any) {
	t.Goal(name, props, nil)
}

// goal appends directly to the log: goals are recorded in identify-only
// mode too and never trigger page-change detection.
func (t *Tracker) goal(name string, props map[string]any, at *time.Time) {
	t.log.Debug().Str("goal", name).Interface("properties", props).Msg("goal")

	ts := t.actionTime()
	if at != nil {
		ts = *at
	}
	if props == nil {
		props = map[string]any{}
	}
	t.append(Action{
		Type:       wire.ActionCustom,
		Timestamp:  ts,
		URL:        strings.ToLower(goalURL(t.host.URL())),
		Text:       name,
		Properties: cloneProperties(props),
	})
}

// goalURL strips the fragment from the page URL.
func goalURL(raw string) string {
	clean, _, _ := strings.Cut(raw, "#")
	return clean
}

// AddSharedProperty upserts p by key, keeping the position of an existing
// entry.
func (t *Tracker) AddSharedProperty(p wire.SharedProperty) {
	t.run("addSharedProperty", func() {
		p.Properties = cloneProperties(p.Properties)
		for i, existing := range t.user.Shared {
			if existing.Key == p.Key {
				t.user.Shared[i] = p
				return
			}
		}
		t.user.Shared = append(t.user.Shared, p)
	})
}

// EndSession ends the session, or with soft set only reports scroll depth.
func (t *Tracker) EndSession(soft bool) {
	t.run("endSession", func() { t.endSession(soft) })
}

// SendData flushes the action log over the given transport.
func (t *Tracker) SendData(mode TransportMode) bool {
	return t.Flush(mode)
}

// VisitorID returns the cookie id or fingerprint of the visitor.
func (t *Tracker) VisitorID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visitorID
}

// Identity returns the normalized (or hashed) identity, empty when unknown.
func (t *Tracker) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userIdentity
}

func (t *Tracker) IsIdentified() bool {
	return t.Identity() != ""
}

// Config returns the resolved configuration.
func (t *Tracker) Config() ConfigView {
	return ConfigView{
		APIKey:       t.cfg.APIKey,
		Cookieless:   t.cfg.Cookieless,
		PrivacyMode:  t.cfg.PrivacyMode,
		AutoIdentify: t.cfg.AutoIdentify,
		OnlyIdentify: t.cfg.OnlyIdentify,
		Debug:        t.cfg.Debug,
		DeviceType:   t.device,
		IsMobile:     t.isMobile(),
	}
}

// SessionState reports the current session state.
func (t *Tracker) SessionState() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess.state
}

// Pending returns the number of buffered actions.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actions.Len()
}

// identifyFromURL identifies from the first query parameter whose name
// contains "email" and whose value is an address.
func (t *Tracker) identifyFromURL() {
	u, err := url.Parse(t.host.URL())
	if err != nil {
		return
	}
	for _, pair := range strings.Split(u.RawQuery, "&") {
		key, value, _ := strings.Cut(pair, "=")
		key, _ = url.QueryUnescape(key)
		if !strings.Contains(strings.ToLower(key), "email") {
			continue
		}
		value, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		t.log.Debug().Str("param", key).Msg("possible identify through URL")
		if isEmail(value) {
			t.identify(value, nil)
			return
		}
	}
}
