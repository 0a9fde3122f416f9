package tracker

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

// Command is one call pushed onto the pre-load queue, such as
// ["identify", "user@example.com"].
type Command struct {
	Method string
	Args   []any
}

// ParseCommand converts a queued array into a Command. It reports false for
// anything that is not a non-empty array starting with a method name.
func ParseCommand(item []any) (Command, bool) {
	if len(item) == 0 {
		return Command{}, false
	}
	method, ok := item[0].(string)
	if !ok {
		return Command{}, false
	}
	return Command{Method: method, Args: item[1:]}, true
}

// drainQueue runs queued commands in order. Unknown methods are skipped; a
// failing command is logged and does not stop the rest of the queue.
func (t *Tracker) drainQueue(cmds []Command) {
	for _, cmd := range cmds {
		if err := t.dispatch(cmd); err != nil {
			t.log.Error().Err(err).Str("operation", "processQueue").Str("method", cmd.Method).Msg("queued command failed")
		}
	}
}

func (t *Tracker) dispatch(cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	switch cmd.Method {
	case "identify":
		email, custom, err := identifyArgs(cmd.Args)
		if err != nil {
			return err
		}
		if email == "" {
			t.IdentifyProperties(custom)
			return nil
		}
		t.Identify(email, custom)
	case "goal", "trackEvent":
		if len(cmd.Args) == 0 {
			return fmt.Errorf("%s: missing name", cmd.Method)
		}
		name, ok := cmd.Args[0].(string)
		if !ok {
			return fmt.Errorf("%s: name is %T, want string", cmd.Method, cmd.Args[0])
		}
		props, _ := arg(cmd.Args, 1).(map[string]any)
		at, err := dateArg(arg(cmd.Args, 2))
		if err != nil {
			return err
		}
		if cmd.Method == "trackEvent" {
			at = nil
		}
		t.Goal(name, props, at)
	case "addSharedProperty":
		m, ok := arg(cmd.Args, 0).(map[string]any)
		if !ok {
			return fmt.Errorf("addSharedProperty: argument is %T, want object", arg(cmd.Args, 0))
		}
		key, _ := m["key"].(string)
		props, _ := m["properties"].(map[string]any)
		t.AddSharedProperty(wire.SharedProperty{Key: key, Value: m["value"], Properties: props})
	case "endSession":
		soft, _ := arg(cmd.Args, 0).(bool)
		t.EndSession(soft)
	case "sendData":
		mode := ModeRequest
		if s, _ := arg(cmd.Args, 0).(string); s == "beacon" {
			mode = ModeBeacon
		}
		t.Flush(mode)
	default:
		t.log.Debug().Str("method", cmd.Method).Msg("skipping unknown queued method")
	}
	return nil
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// identifyArgs accepts (email), (object), (email, object) and
// (object, object).
func identifyArgs(args []any) (string, map[string]any, error) {
	custom := map[string]any{}
	var email string
	switch first := arg(args, 0).(type) {
	case string:
		email = first
	case map[string]any:
		for k, v := range first {
			custom[k] = v
		}
	case nil:
	default:
		return "", nil, fmt.Errorf("identify: argument is %T", first)
	}
	if extra, ok := arg(args, 1).(map[string]any); ok {
		for k, v := range extra {
			custom[k] = v
		}
	}
	return email, custom, nil
}

func dateArg(v any) (*time.Time, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &d, nil
	case string:
		ts, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return nil, fmt.Errorf("goal date: %w", err)
		}
		return &ts, nil
	case float64:
		ts := time.UnixMilli(int64(d))
		return &ts, nil
	}
	return nil, fmt.Errorf("goal date is %T", v)
}
