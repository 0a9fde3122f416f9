package tracker_test

import (
	"testing"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
)

func TestParseMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     map[string]any
		fromSelf bool
		wantOK   bool
		check    func(tracker.Message) bool
	}{
		{
			name:   "identify",
			data:   map[string]any{"name": "metricpal-identify", "email": "a@b.co"},
			wantOK: true,
			check:  func(m tracker.Message) bool { return m.Kind == tracker.MessageIdentify && m.Email == "a@b.co" },
		},
		{
			name:   "identify without email",
			data:   map[string]any{"name": "metricpal-identify"},
			wantOK: false,
		},
		{
			name:     "submit from self",
			data:     map[string]any{"name": "metricpal-onsubmit", "element": "#f"},
			fromSelf: true,
			wantOK:   true,
			check:    func(m tracker.Message) bool { return m.Kind == tracker.MessageSubmit && m.FromSelf && m.Element == "#f" },
		},
		{
			name:   "identify form",
			data:   map[string]any{"name": "metricpal-identify-form", "value": "x@y.io"},
			wantOK: true,
			check:  func(m tracker.Message) bool { return m.Kind == tracker.MessageIdentifyForm && m.Value == "x@y.io" },
		},
		{
			name: "hubspot form",
			data: map[string]any{
				"type": "hsFormCallback", "eventName": "onFormSubmit", "id": "abc",
				"data": []any{map[string]any{"name": "firstname", "value": "Ann"}, map[string]any{"name": "email", "value": "ann@x.io"}},
			},
			wantOK: true,
			check: func(m tracker.Message) bool {
				return m.Kind == tracker.MessageHubSpotForm && m.FormID == "abc" && len(m.Fields) == 2 && m.Fields[1].Value == "ann@x.io"
			},
		},
		{
			name:   "hubspot other event",
			data:   map[string]any{"type": "hsFormCallback", "eventName": "onFormReady"},
			wantOK: false,
		},
		{
			name:   "meeting without contact",
			data:   map[string]any{"meetingBookSucceeded": true},
			wantOK: true,
			check:  func(m tracker.Message) bool { return m.Kind == tracker.MessageHubSpotMeeting && m.Email == "" },
		},
		{
			name:   "unrelated",
			data:   map[string]any{"source": "react-devtools"},
			wantOK: false,
		},
		{
			name:   "nil",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, ok := tracker.ParseMessage(tt.data, tt.fromSelf)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tt.wantOK, msg)
			}
			if ok && !tt.check(msg) {
				t.Errorf("unexpected message %+v", msg)
			}
		})
	}
}

func TestParseKlaviyoEvent(t *testing.T) {
	t.Parallel()

	msg := tracker.ParseKlaviyoEvent(map[string]any{"formId": "Rk2", "metaData": map[string]any{"$email": "k@x.io"}})
	if msg.Kind != tracker.MessageKlaviyoForm || !msg.HasMetadata || msg.Email != "k@x.io" || msg.FormID != "Rk2" {
		t.Errorf("message = %+v", msg)
	}

	if msg := tracker.ParseKlaviyoEvent(map[string]any{"formId": "Rk2"}); msg.HasMetadata {
		t.Errorf("event without metadata = %+v", msg)
	}
}

func TestMessageKindString(t *testing.T) {
	t.Parallel()
	if got := tracker.MessageHubSpotMeeting.String(); got != "hubspot-meeting" {
		t.Errorf("String = %q", got)
	}
	if got := tracker.MessageKind(99).String(); got != "MessageKind(99)" {
		t.Errorf("String = %q", got)
	}
}
