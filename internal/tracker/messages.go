package tracker

import "fmt"

// Names of the messages exchanged with an embedding frame.
const (
	MsgIdentify     = "metricpal-identify"
	MsgSubmit       = "metricpal-onsubmit"
	MsgIdentifyForm = "metricpal-identify-form"
)

// MessageKind discriminates inbound cross-frame messages.
type MessageKind int

const (
	// MessageIdentify carries an email from a parent or child frame.
	MessageIdentify MessageKind = iota + 1
	// MessageIdentifyForm carries a value typed into a child frame's form.
	MessageIdentifyForm
	// MessageSubmit reports a form submission in another frame.
	MessageSubmit
	// MessageHubSpotForm is HubSpot's onFormSubmit callback.
	MessageHubSpotForm
	// MessageHubSpotMeeting is HubSpot's meeting-booked callback.
	MessageHubSpotMeeting
	// MessageKlaviyoForm is Klaviyo's custom form submission event.
	MessageKlaviyoForm
)

func (k MessageKind) String() string {
	switch k {
	case MessageIdentify:
		return "identify"
	case MessageIdentifyForm:
		return "identify-form"
	case MessageSubmit:
		return "submit"
	case MessageHubSpotForm:
		return "hubspot-form"
	case MessageHubSpotMeeting:
		return "hubspot-meeting"
	case MessageKlaviyoForm:
		return "klaviyo-form"
	}
	return fmt.Sprintf("MessageKind(%d)", int(k))
}

// Message is an inbound cross-frame or integration message. Which fields are
// meaningful depends on Kind.
type Message struct {
	Kind MessageKind

	// Email is set for MessageIdentify, MessageHubSpotMeeting and
	// MessageKlaviyoForm.
	Email string
	// Value is set for MessageIdentifyForm.
	Value string
	// Element is set for MessageSubmit.
	Element string
	// FromSelf marks a MessageSubmit this window posted itself.
	FromSelf bool
	// FormID is set for MessageHubSpotForm and MessageKlaviyoForm.
	FormID string
	// Fields is set for MessageHubSpotForm.
	Fields []FormField
	// HasMetadata is false for Klaviyo events without submission metadata.
	HasMetadata bool
}

// FormField is one submitted field of a third-party form.
type FormField struct {
	Name  string
	Value string
}

// OutboundMessage is posted to the parent frame.
type OutboundMessage struct {
	Name     string `json:"name"`
	Identity string `json:"identity,omitempty"`
	Element  string `json:"element,omitempty"`
	Value    string `json:"value,omitempty"`
}

// ParseMessage decodes the data of a postMessage event. It reports false for
// messages the tracker does not handle.
func ParseMessage(data map[string]any, fromSelf bool) (Message, bool) {
	if data == nil {
		return Message{}, false
	}
	switch {
	case str(data, "name") == MsgIdentify && str(data, "email") != "":
		return Message{Kind: MessageIdentify, Email: str(data, "email")}, true
	case str(data, "name") == MsgSubmit && str(data, "element") != "":
		return Message{Kind: MessageSubmit, Element: str(data, "element"), FromSelf: fromSelf}, true
	case str(data, "name") == MsgIdentifyForm && str(data, "value") != "":
		return Message{Kind: MessageIdentifyForm, Value: str(data, "value")}, true
	case str(data, "type") == "hsFormCallback" && str(data, "eventName") == "onFormSubmit":
		msg := Message{Kind: MessageHubSpotForm, FormID: fmt.Sprint(data["id"])}
		fields, _ := data["data"].([]any)
		for _, f := range fields {
			if m, ok := f.(map[string]any); ok {
				msg.Fields = append(msg.Fields, FormField{Name: str(m, "name"), Value: str(m, "value")})
			}
		}
		return msg, true
	case truthy(data["meetingBookSucceeded"]):
		email := str(dig(data, "meetingsPayload", "bookingResponse", "postResponse", "contact"), "email")
		return Message{Kind: MessageHubSpotMeeting, Email: email}, true
	}
	return Message{}, false
}

// ParseKlaviyoEvent decodes the detail of a klaviyoForms DOM event.
func ParseKlaviyoEvent(detail map[string]any) Message {
	msg := Message{Kind: MessageKlaviyoForm, FormID: fmt.Sprint(detail["formId"])}
	if meta, ok := detail["metaData"].(map[string]any); ok {
		msg.HasMetadata = true
		msg.Email = str(meta, "$email")
	}
	return msg
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}
	return true
}

func dig(m map[string]any, path ...string) map[string]any {
	cur := m
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}
