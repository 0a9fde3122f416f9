package tracker

import (
	"regexp"
	"strings"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	ctaPattern   = regexp.MustCompile(`(cta |submit|submission|book\-demo)`)
	searchName   = regexp.MustCompile(`(?i)search|query|keyword`)
	searchLabel  = regexp.MustCompile(`(?i)search`)
)

// hubSpotFormTag prefixes the element of HubSpot embedded forms.
const hubSpotFormTag = "#hsForm_"

// Goal names recorded by the built-in integrations.
const (
	GoalIdentifiedFromForm = "Identified from Form"
	GoalMeetingBooked      = "Meeting Booked on Website"
	GoalKlaviyoForm        = "Submit Klaviyo Form"
)

func isEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// HandleMouseOver marks the pointer as being over the page.
func (t *Tracker) HandleMouseOver() {
	t.run("mouseover", func() { t.innerPage = true })
}

// HandleMouseLeave marks the pointer as having left the page.
func (t *Tracker) HandleMouseLeave() {
	t.run("mouseleave", func() { t.innerPage = false })
}

// HandleActivity records mouse movement or a key press.
func (t *Tracker) HandleActivity() {
	t.run("activity", t.updateActivity)
}

// HandleScroll records activity and the deepest scroll offset seen so far.
func (t *Tracker) HandleScroll() {
	t.run("scroll", func() {
		t.updateActivity()
		m := t.host.Document().Metrics()
		t.maxScroll = max(t.maxScroll, m.WindowScrollY, m.BodyScrollTop, m.DocScrollTop)
	})
}

// HandleMouseDown processes a click on target.
func (t *Tracker) HandleMouseDown(target Element) {
	t.run("click", func() { t.handleClick(target) })
}

// HandleSubmit processes the submit event of a registered form.
func (t *Tracker) HandleSubmit(form Element) {
	t.run("submit", func() { t.handleFormSubmit(form) })
}

// HandleWindowSubmit is the window-level fallback for forms the periodic
// scan has not registered yet.
func (t *Tracker) HandleWindowSubmit(form Element) {
	t.run("window-submit", func() {
		if form != nil && t.trackedForms[form] {
			return
		}
		t.handleFormSubmit(form)
	})
}

// HandlePageHide ends the session when the page is being unloaded.
func (t *Tracker) HandlePageHide() {
	t.run("pagehide", func() {
		if t.pageUnloaded {
			return
		}
		t.pageUnloaded = true
		t.endSession(false)
	})
}

// HandlePageShow starts a new session when a mobile page is restored from
// the back-forward cache.
func (t *Tracker) HandlePageShow(persisted bool) {
	t.run("pageshow", func() {
		if t.isMobile() && persisted {
			t.pageUnloaded = false
			t.initSession()
		}
	})
}

// HandleMessage converts a cross-frame or integration message into actions.
func (t *Tracker) HandleMessage(msg Message) {
	t.run("message", func() {
		switch msg.Kind {
		case MessageIdentify:
			t.identify(msg.Email, nil)
		case MessageSubmit:
			if msg.FromSelf {
				return
			}
			t.addAction(wire.ActionSubmit, "", actionData{
				ElementInfo: ElementInfo{Element: msg.Element},
				Properties:  map[string]any{"source": MsgSubmit},
			})
		case MessageIdentifyForm:
			t.identifyThroughForm(msg.Value, nil)
		case MessageHubSpotForm:
			if t.cfg.AutoIdentify {
				for _, f := range msg.Fields {
					if f.Name == "email" {
						t.identify(f.Value, nil)
						break
					}
				}
			}
			t.addAction(wire.ActionSubmit, "", actionData{
				ElementInfo: ElementInfo{Element: hubSpotFormTag + msg.FormID},
				Properties:  map[string]any{"source": "hsFormCallback"},
			})
		case MessageHubSpotMeeting:
			if t.cfg.AutoIdentify && msg.Email != "" {
				t.identify(msg.Email, nil)
			}
			t.goal(GoalMeetingBooked, map[string]any{"integration": "HubSpot"}, nil)
		case MessageKlaviyoForm:
			if !msg.HasMetadata {
				return
			}
			if t.cfg.AutoIdentify && msg.Email != "" {
				t.identify(msg.Email, nil)
			}
			t.goal(GoalKlaviyoForm, map[string]any{"integration": "Klaviyo", "klaviyoFormId": msg.FormID}, nil)
		default:
			t.log.Debug().Stringer("kind", msg.Kind).Msg("ignoring message")
		}
	})
}

// inspect describes el, degrading to empty metadata when the host panics.
func (t *Tracker) inspect(op string, el Element) (info ElementInfo) {
	t.safely(op, func() { info = DescribeElement(el) })
	return info
}

func (t *Tracker) handleClick(target Element) {
	if !t.innerPage || target == nil {
		return
	}
	t.updateActivity()

	info := t.inspect("click/describe", target)
	t.addAction(wire.ActionClick, "", actionData{ElementInfo: info})

	t.safely("click/form", func() { t.checkSubmitClick(target) })
	t.checkPageChange()
}

// checkSubmitClick synthesizes a submit for a valid form whose call to
// action was clicked, and auto-identifies from email inputs.
func (t *Tracker) checkSubmitClick(target Element) {
	button := closest(target, "button")
	if button == nil {
		button = closest(target, "a")
	}
	if button == nil {
		return
	}
	if button.Tag() == "a" && !strings.Contains(button.ClassName(), "button") {
		return
	}

	form := closest(target, "form")
	if form == nil {
		if t.cfg.AutoIdentify {
			t.autoIdentifyInputs()
		}
		return
	}

	valid := true
	for _, el := range form.FormElements() {
		if el == nil || el.Attr("type") == "hidden" {
			continue
		}
		if !el.Valid() {
			valid = false
		}
		if t.cfg.AutoIdentify && el.Attr("type") == "email" {
			t.identifyThroughForm(el.Attr("value"), form)
		}
	}

	cta := ctaPattern.MatchString(button.ClassName())
	if valid && !t.actions.Contains(wire.ActionSubmit) && (button.Attr("type") == "submit" || cta) {
		t.addAction(wire.ActionSubmit, "", actionData{
			ElementInfo: t.inspect("click/form-describe", form),
			Properties:  map[string]any{"source": "checkSubmitClickInForm"},
		})
	}
}

// autoIdentifyInputs identifies from email-like inputs holding a valid
// address.
func (t *Tracker) autoIdentifyInputs() {
	for _, in := range t.host.Document().Inputs() {
		if in == nil {
			continue
		}
		if in.Attr("type") != "email" &&
			!strings.Contains(strings.ToLower(in.Attr("placeholder")), "email") &&
			!strings.Contains(strings.ToLower(in.Attr("name")), "email") {
			continue
		}
		if email := strings.TrimSpace(in.Attr("value")); isEmail(email) {
			t.identify(email, nil)
		}
	}
}

func (t *Tracker) handleFormSubmit(form Element) {
	t.updateActivity()
	if form == nil {
		return
	}

	info := t.inspect("submit/describe", form)
	if strings.HasPrefix(info.Element, hubSpotFormTag) {
		return
	}

	t.safely("submit", func() {
		elements := form.FormElements()
		for _, el := range elements {
			if el == nil {
				continue
			}
			typ, name := el.Attr("type"), el.Attr("name")
			t.log.Debug().Str("type", typ).Str("name", name).Msg("form element")

			if isSearchField(typ, name) && len(elements) <= 2 {
				t.addAction(wire.ActionSearch, "", actionData{ElementInfo: info, Value: el.Attr("value")})
				return
			}
			if t.cfg.AutoIdentify && (typ == "email" || typ == "text") {
				t.identifyThroughForm(el.Attr("value"), form)
				t.host.PostToParent(OutboundMessage{Name: MsgIdentifyForm, Value: el.Attr("value")})
			}
		}

		if text, ok := searchButtonInput(elements); ok {
			t.addAction(wire.ActionSearch, "", actionData{ElementInfo: info, Value: text.Attr("value")})
			return
		}

		t.addAction(wire.ActionSubmit, "", actionData{
			ElementInfo: info,
			Properties:  map[string]any{"source": "onSubmitFunc"},
		})
		t.host.PostToParent(OutboundMessage{Name: MsgSubmit, Element: info.Element})
	})
}

func isSearchField(typ, name string) bool {
	switch typ {
	case "search":
		return true
	case "text":
		switch name {
		case "s", "q", "k":
			return true
		}
		return searchName.MatchString(name)
	}
	return false
}

// searchButtonInput returns the only text input of a form whose submit input
// is labelled as a search.
func searchButtonInput(elements []Element) (Element, bool) {
	var submit Element
	var texts []Element
	for _, el := range elements {
		if el == nil || el.Tag() != "input" {
			continue
		}
		switch el.Attr("type") {
		case "submit":
			if submit == nil {
				submit = el
			}
		case "text":
			texts = append(texts, el)
		}
	}
	if submit == nil || !searchLabel.MatchString(submit.Attr("value")) || len(texts) != 1 {
		return nil, false
	}
	return texts[0], true
}

// identifyThroughForm identifies from a value typed into form and records
// the goal that ties the identity to the form.
func (t *Tracker) identifyThroughForm(value string, form Element) {
	email := strings.TrimSpace(value)
	t.log.Debug().Str("value", email).Msg("identify through form")
	if !isEmail(email) {
		return
	}

	var info ElementInfo
	if form != nil {
		info = t.inspect("identifyThroughForm/describe", form)
	}

	t.identify(email, nil)

	lower := strings.ToLower(email)
	if t.cfg.PrivacyMode {
		lower = hashHex(lower)
	}
	props := map[string]any{"email": lower}
	if info.Element != "" {
		props["element"] = info.Element
	}
	if info.Text != "" {
		props["text"] = info.Text
	}
	if info.URL != "" {
		props["url"] = info.URL
	}
	t.goal(GoalIdentifiedFromForm, props, nil)
}
