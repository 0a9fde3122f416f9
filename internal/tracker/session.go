package tracker

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

// Session timing.
const (
	SessionCeiling  = 10 * time.Minute
	IdleTick        = time.Minute
	IdleTicksToEnd  = 10
	ResumeGrace     = 5 * time.Second
	URLPollInterval = 500 * time.Millisecond
	FocusPoll       = 500 * time.Millisecond
	FormRescan      = 5 * time.Second
)

// SessionState is the lifecycle state of the current session.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionEnded
)

func (s SessionState) String() string {
	if s == SessionEnded {
		return "ENDED"
	}
	return "ACTIVE"
}

type session struct {
	state         SessionState
	id            string
	start         time.Time
	lastActivity  time.Time
	idleTicks     int
	resumePending bool
}

// ScrollDepthPercent converts the deepest scroll offset into a percentage of
// the scrollable height, clamped to [0, 100]. Pages that cannot scroll
// report 100.
func ScrollDepthPercent(maxScroll int, m ScrollMetrics) int {
	if !scrollable(m) {
		return 100
	}
	span := documentHeight(m) - windowHeight(m)
	if span <= 0 {
		return 100
	}
	pct := int(float64(maxScroll) / float64(span) * 100)
	switch {
	case pct > 100:
		return 100
	case pct < 0:
		return 0
	}
	return pct
}

func scrollable(m ScrollMetrics) bool {
	if m.InnerHeight > 0 {
		return max(m.BodyScrollHeight, m.DocScrollHeight) > m.InnerHeight
	}
	return m.DocScrollHeight > m.DocOffsetHeight || m.BodyScrollHeight > m.BodyOffsetHeight
}

func documentHeight(m ScrollMetrics) int {
	return max(m.BodyScrollHeight, m.DocScrollHeight, m.BodyOffsetHeight, m.DocOffsetHeight, m.BodyClientHeight, m.DocClientHeight)
}

func windowHeight(m ScrollMetrics) int {
	return min(m.BodyClientHeight, m.DocClientHeight, m.BodyOffsetHeight, m.DocOffsetHeight, m.InnerHeight)
}

// initSession starts a fresh session. Caller holds t.mu.
func (t *Tracker) initSession() {
	now := t.clock.Now()
	t.sess = session{
		state:        SessionActive,
		id:           uuid.NewString(),
		start:        now,
		lastActivity: now,
	}
	t.user.SessionData = &wire.SessionData{
		ID:          t.sess.id,
		StartTime:   isoTime(now),
		Referrer:    t.host.Referrer(),
		LandingPage: t.currentURL,
	}
	t.log.Debug().Str("session_id", t.sess.id).Msg("session started")
}

// updateActivity records user activity. It ends a session that outlived the
// ceiling and schedules a resume for an ended one.
func (t *Tracker) updateActivity() {
	now := t.clock.Now()
	if t.sess.state == SessionActive && now.Sub(t.sess.start) > SessionCeiling {
		t.sess.state = SessionEnded
		t.endSession(false)
	}
	t.sess.lastActivity = now
	t.sess.idleTicks = 0

	if t.sess.state == SessionEnded && !t.sess.resumePending {
		t.sess.resumePending = true
		t.sched.after(ResumeGrace, func() {
			t.run("resume", func() {
				t.sess.resumePending = false
				if t.sess.state == SessionEnded && t.host.HasFocus() {
					t.initSession()
				}
			})
		})
	}
}

// idleTick counts a minute without qualifying activity.
func (t *Tracker) idleTick() {
	if t.sess.state != SessionActive {
		return
	}
	t.sess.idleTicks++
	if t.sess.idleTicks >= IdleTicksToEnd {
		t.sess.state = SessionEnded
		t.endSession(false)
	}
}

// endSession appends the closing actions and requests a flush. A soft end
// during an active session only reports scroll depth. A soft end of an ended
// session records nothing.
func (t *Tracker) endSession(soft bool) {
	pct := strconv.Itoa(ScrollDepthPercent(t.maxScroll, t.host.Document().Metrics()))

	switch {
	case t.sess.state == SessionEnded && soft:
		return
	case t.sess.state == SessionEnded && !soft:
		t.addAction(wire.ActionScrollDepth, "", actionData{Value: pct})
		t.addAction(wire.ActionEndSession, "", actionData{})
		t.requestFlush()
		return
	case t.sess.state == SessionActive && soft:
		t.addAction(wire.ActionScrollDepth, "", actionData{Value: pct})
		t.requestFlush()
		return
	}

	if href, ok := t.followingSameSiteLink(); ok {
		clean, _, _ := strings.Cut(href, "#")
		if strings.HasPrefix(clean, "http") && t.pageURL() != clean {
			t.addAction(wire.ActionScrollDepth, "", actionData{Value: pct})
			t.requestFlush()
		}
		return
	}
	t.addAction(wire.ActionScrollDepth, "", actionData{Value: pct})
	t.addAction(wire.ActionEndSession, "", actionData{})
	t.sess.state = SessionEnded
	t.requestFlush()
}

// followingSameSiteLink reports the href of the focused element when the
// page is being left through a link to another page of the same site.
func (t *Tracker) followingSameSiteLink() (string, bool) {
	active := t.host.Document().ActiveElement()
	if active == nil {
		return "", false
	}
	href := active.Attr("href")
	if href == "" || href == t.currentURL {
		return "", false
	}
	target, err := url.Parse(href)
	if err != nil {
		t.log.Error().Err(err).Str("operation", "isSameSite").Str("uri", href).Msg("bad href")
		return "", false
	}
	page, err := url.Parse(t.host.URL())
	if err != nil || target.Hostname() == "" || target.Hostname() != page.Hostname() {
		return "", false
	}
	return href, true
}

// checkPageChange detects navigation that did not reload the page.
func (t *Tracker) checkPageChange() {
	next := t.pageURL()
	if next == t.currentURL {
		return
	}
	pct := strconv.Itoa(ScrollDepthPercent(t.maxScroll, t.host.Document().Metrics()))
	t.addAction(wire.ActionScrollDepth, t.currentURL, actionData{Value: pct})
	t.addAction(wire.ActionEnterPage, "", actionData{})
	t.requestFlush()

	t.currentURL = next
	t.maxScroll = 0
}

// focusPoll drives pause and resume from focus changes, which are the only
// reliable lifecycle signal on mobile browsers.
func (t *Tracker) focusPoll() {
	focused := t.host.HasFocus()
	if focused == t.hadFocus {
		return
	}
	t.hadFocus = focused
	if focused {
		t.pageUnloaded = false
		t.updateActivity()
		return
	}
	if t.isMobile() && !t.pageUnloaded {
		t.pageUnloaded = true
		t.endSession(false)
	}
}

func isoTime(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
