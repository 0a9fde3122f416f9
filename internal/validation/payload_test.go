package validation

import (
	"errors"
	"strings"
	"testing"
)

const validBody = `{
  "customerObject": {"website": "example.com", "apiKey": "k", "version": "2.2.0"},
  "userObject": {
    "language": "en-US", "platform": "MacIntel", "uuid": "6f1c",
    "sessionData": {"id": "s1", "startTime": "2026-03-01T12:00:00.000Z"}
  },
  "actionLog": [
    {"timestamp": "2026-03-01T12:00:00.000Z", "action_type": "enter-page", "url": "https://example.com/"},
    {"timestamp": "2026-03-01T12:00:01.250Z", "action_type": "onclick", "url": "https://example.com/", "element": null}
  ]
}`

func TestDecodePayload(t *testing.T) {
	p, fieldErrs, err := DecodePayload([]byte(validBody))
	if err != nil || fieldErrs != nil {
		t.Fatalf("DecodePayload: %v %v", err, fieldErrs)
	}
	if p.Customer.APIKey != "k" || len(p.ActionLog) != 2 || p.User.SessionData.ID != "s1" {
		t.Errorf("payload = %+v", p)
	}

	for _, body := range []string{"", "[]", `"text"`, "{broken", "null"} {
		if _, _, err := DecodePayload([]byte(body)); !errors.Is(err, ErrNotObject) {
			t.Errorf("body %q: err = %v", body, err)
		}
	}
}

func TestDecodePayloadTypeMismatch(t *testing.T) {
	body := strings.Replace(validBody, `"uuid": "6f1c"`, `"uuid": 42`, 1)
	p, fieldErrs, err := DecodePayload([]byte(body))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(fieldErrs) != 1 || fieldErrs[0].Field != "userObject.uuid" || fieldErrs[0].Message != "must be string" {
		t.Errorf("field errors = %+v", fieldErrs)
	}
	if p.Customer.APIKey != "k" {
		t.Error("remaining fields were not decoded")
	}
}

func TestPayloadValidator(t *testing.T) {
	pv := NewPayloadValidator()

	p, _, _ := DecodePayload([]byte(validBody))
	if errs := pv.Validate(p); errs != nil {
		t.Fatalf("valid payload rejected: %+v", errs)
	}

	tests := []struct {
		name  string
		from  string
		to    string
		field string
	}{
		{"unknown action", `"action_type": "onclick"`, `"action_type": "hover"`, "actionLog[1].action_type"},
		{"bad timestamp", `"timestamp": "2026-03-01T12:00:01.250Z"`, `"timestamp": "yesterday"`, "actionLog[1].timestamp"},
		{"missing api key", `"apiKey": "k"`, `"apiKey": ""`, "customerObject.apiKey"},
		{"missing uuid", `"uuid": "6f1c"`, `"uuid": ""`, "userObject.uuid"},
		{"bad session start", `"startTime": "2026-03-01T12:00:00.000Z"`, `"startTime": "soon"`, "userObject.sessionData.startTime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := DecodePayload([]byte(strings.Replace(validBody, tt.from, tt.to, 1)))
			if err != nil {
				t.Fatal(err)
			}
			errs := pv.Validate(p)
			if len(errs) != 1 || errs[0].Field != tt.field {
				t.Errorf("errors = %+v, want one on %s", errs, tt.field)
			}
		})
	}
}

func TestPayloadValidatorRequiresActionLog(t *testing.T) {
	p, _, err := DecodePayload([]byte(`{"customerObject":{"website":"w","apiKey":"k","version":"v"},"userObject":{"uuid":"u"}}`))
	if err != nil {
		t.Fatal(err)
	}
	errs := NewPayloadValidator().Validate(p)
	if len(errs) != 1 || errs[0].Field != "actionLog" || errs[0].Message != "is required" {
		t.Errorf("errors = %+v", errs)
	}
}
