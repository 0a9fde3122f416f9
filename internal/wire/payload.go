// Package wire defines the JSON payload the tracking tag posts to the
// collection endpoint. The same types are encoded by the tracker and decoded
// by the collector, so field names follow the tag's camelCase contract.
package wire

// Version is reported in every customerObject.
const Version = "2.2.0"

// ServerPath is the collection path the tag targets by default.
const ServerPath = "/optimized"

// Action types accepted by the collector.
const (
	ActionEnterPage   = "enter-page"
	ActionClick       = "onclick"
	ActionSubmit      = "onsubmit"
	ActionSearch      = "onsearch"
	ActionScrollDepth = "scroll-depth"
	ActionEndSession  = "end-session"
	ActionIdentify    = "identify"
	ActionCustom      = "custom"
	ActionGoal        = "goal"
)

// Payload is one flush of the tag's action log.
type Payload struct {
	Customer  Customer       `json:"customerObject" validate:"required"`
	User      User           `json:"userObject" validate:"required"`
	ActionLog []ActionRecord `json:"actionLog" validate:"required,dive"`
	Referrer  string         `json:"referrer"`
}

// Customer identifies the site and tag build that produced the payload.
type Customer struct {
	Website       string `json:"website" validate:"required"`
	APIKey        string `json:"apiKey" validate:"required"`
	IsFingerprint bool   `json:"isFingerprint"`
	DebugMode     bool   `json:"debugMode"`
	ServerPath    string `json:"serverPath"`
	ServerURL     string `json:"serverURL"`
	Version       string `json:"version" validate:"required"`
}

// User describes the visitor. The fingerprint attributes are only present in
// cookieless mode.
type User struct {
	Language       string           `json:"language"`
	Platform       string           `json:"platform"`
	UUID           string           `json:"uuid" validate:"required"`
	Screen         *Screen          `json:"screen,omitempty"`
	MimeTypes      string           `json:"mimeTypes,omitempty"`
	Plugins        string           `json:"plugins,omitempty"`
	StorageEnabled string           `json:"storageEnabled,omitempty"`
	OtherInfo      any              `json:"otherInfo,omitempty"`
	Identity       *string          `json:"identity"`
	Custom         map[string]any   `json:"custom"`
	Shared         []SharedProperty `json:"shared"`
	SessionData    *SessionData     `json:"sessionData,omitempty"`
}

// Screen is the visitor's screen geometry.
type Screen struct {
	AvailHeight int `json:"availHeight"`
	Height      int `json:"height"`
	Width       int `json:"width"`
	Depth       int `json:"depth"`
}

// SessionData is attached whenever a session starts.
type SessionData struct {
	ID          string `json:"id" validate:"required"`
	StartTime   string `json:"startTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Referrer    string `json:"referrer"`
	LandingPage string `json:"landingPage"`
}

// SharedProperty is a key-addressed property shared across actions.
type SharedProperty struct {
	Key        string         `json:"key"`
	Value      any            `json:"value"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ActionRecord is the wire form of a single action.
type ActionRecord struct {
	Timestamp  string         `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	ActionType string         `json:"action_type" validate:"required,oneof=enter-page onclick onsubmit onsearch scroll-depth end-session identify custom goal"`
	URL        string         `json:"url"`
	Element    string         `json:"element,omitempty"`
	Text       string         `json:"text,omitempty"`
	Value      string         `json:"value,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}
