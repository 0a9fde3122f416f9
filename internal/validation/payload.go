package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/wire"
)

var ErrNotObject = errors.New("request body must be a valid JSON object")

// FieldError describes one schema violation in a collected payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// DecodePayload parses a collection request body. Bodies that are not JSON
// objects yield ErrNotObject. Type mismatches come back as field errors next to
// the partially decoded payload.
func DecodePayload(body []byte) (*wire.Payload, []FieldError, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, nil, ErrNotObject
	}

	var p wire.Payload
	err := json.Unmarshal(trimmed, &p)

	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return &p, nil, nil
	case errors.As(err, &typeErr):
		return &p, []FieldError{{
			Field:   typeErr.Field,
			Message: "must be " + jsonKind(typeErr.Type),
			Value:   typeErr.Value,
		}}, nil
	default:
		return nil, nil, ErrNotObject
	}
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Float64:
		return "number"
	case reflect.Slice:
		return "array"
	case reflect.Map, reflect.Struct, reflect.Ptr:
		return "object"
	}
	return t.String()
}

// PayloadValidator checks decoded payloads against their struct tags.
type PayloadValidator struct {
	v *validator.Validate
}

func NewPayloadValidator() *PayloadValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PayloadValidator{v: v}
}

// Validate returns every violation found in p, or nil.
func (pv *PayloadValidator) Validate(p *wire.Payload) []FieldError {
	err := pv.v.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   strings.TrimPrefix(fe.Namespace(), "Payload."),
			Message: describe(fe),
			Value:   fe.Value(),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be an RFC 3339 date-time"
	}
	return "failed " + fe.Tag() + " check"
}
