package tracker

import (
	"encoding/json"
	"time"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

// Action is one recorded interaction. It is never modified after it has been
// appended to the log.
type Action struct {
	Type       string
	Timestamp  time.Time
	URL        string
	Element    string
	Text       string
	Value      string
	Properties map[string]any
}

func (a Action) record() wire.ActionRecord {
	return wire.ActionRecord{
		Timestamp:  isoTime(a.Timestamp),
		ActionType: a.Type,
		URL:        a.URL,
		Element:    a.Element,
		Text:       a.Text,
		Value:      a.Value,
		Properties: a.Properties,
	}
}

// ActionLog is the ordered buffer of actions awaiting delivery.
type ActionLog struct {
	actions []Action
}

func (l *ActionLog) Append(a Action) {
	l.actions = append(l.actions, a)
}

func (l *ActionLog) Len() int { return len(l.actions) }

// Snapshot returns a deep copy of the buffered actions encoded for the wire.
func (l *ActionLog) Snapshot() []wire.ActionRecord {
	out := make([]wire.ActionRecord, len(l.actions))
	for i, a := range l.actions {
		out[i] = a.record()
		out[i].Properties = cloneProperties(a.Properties)
	}
	return out
}

// Drop removes the first n actions, the ones a successful send delivered.
func (l *ActionLog) Drop(n int) {
	if n >= len(l.actions) {
		l.actions = l.actions[:0]
		return
	}
	rest := make([]Action, len(l.actions)-n)
	copy(rest, l.actions[n:])
	l.actions = rest
}

// Contains reports whether an action of the given type is buffered.
func (l *ActionLog) Contains(actionType string) bool {
	for _, a := range l.actions {
		if a.Type == actionType {
			return true
		}
	}
	return false
}

// cloneProperties copies through a JSON round trip so nested maps supplied by
// host code cannot change under an in-flight send.
func cloneProperties(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		out := make(map[string]any, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
