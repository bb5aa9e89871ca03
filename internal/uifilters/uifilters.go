// Package uifilters decodes the uiFilters query parameter into an ordered
// list of field/value predicates.
//
// Two encodings are accepted:
//
//	{"environment": "production", "host": ["a", "b"]}
//	[{"field": "service.environment", "value": "production"}]
//
// Object keys are emitted in lexical order so the same input always yields
// the same sequence. Array entries keep their position.
package uifilters

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// ErrMalformed is returned (wrapped) for any uiFilters value that cannot be decoded.
var ErrMalformed = errors.New("malformed ui filters")

// Filter narrows a query to documents whose Field equals one of Values.
type Filter struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// Decoder turns the raw uiFilters value into filters.
type Decoder interface {
	Decode(raw string) ([]Filter, error)
}

// aliases maps the short names used by the UI onto document fields.
var aliases = map[string]string{
	"environment":       "service.environment",
	"transactionResult": "transaction.result",
	"host":              "host.hostname",
	"containerId":       "container.id",
	"podName":           "kubernetes.pod.name",
	"agentName":         "agent.name",
	"serviceVersion":    "service.version",
	"location":          "client.geo.country_iso_code",
	"transactionUrl":    "url.full",
	"browser":           "user_agent.name",
	"device":            "user_agent.device.name",
	"os":                "user_agent.os.name",
}

// Fields lists every document field a filter may target.
func Fields() []string {
	out := make([]string, 0, len(aliases))
	for _, f := range aliases {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the document field for a UI alias or a document field name.
func Resolve(name string) (string, bool) {
	if f, ok := aliases[name]; ok {
		return f, true
	}
	for _, f := range aliases {
		if f == name {
			return f, true
		}
	}
	return "", false
}

// JSONDecoder decodes both encodings using goccy/go-json.
type JSONDecoder struct{}

// NewDecoder returns the default Decoder.
func NewDecoder() JSONDecoder {
	return JSONDecoder{}
}

// Decode implements Decoder. Empty input and JSON null decode to no filters.
func (JSONDecoder) Decode(raw string) ([]Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []Filter{}, nil
	}

	switch raw[0] {
	case '{':
		return decodeObject(raw)
	case '[':
		return decodeArray(raw)
	default:
		return nil, fmt.Errorf("%w: expected an object or an array", ErrMalformed)
	}
}

func decodeObject(raw string) ([]Filter, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filters := make([]Filter, 0, len(keys))
	for _, k := range keys {
		f, err := build(k, obj[k])
		if err != nil {
			return nil, err
		}
		if len(f.Values) > 0 {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

func decodeArray(raw string) ([]Filter, error) {
	var entries []struct {
		Field string          `json:"field"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	filters := make([]Filter, 0, len(entries))
	for i, e := range entries {
		if e.Field == "" {
			return nil, fmt.Errorf("%w: entry %d has no field", ErrMalformed, i)
		}
		f, err := build(e.Field, e.Value)
		if err != nil {
			return nil, err
		}
		if len(f.Values) > 0 {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

func build(name string, value json.RawMessage) (Filter, error) {
	field, ok := Resolve(name)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unknown filter %q", ErrMalformed, name)
	}

	values, err := decodeValues(value)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: filter %q: %v", ErrMalformed, name, err)
	}
	return Filter{Field: field, Values: values}, nil
}

// decodeValues accepts a string, a list of strings, or null.
func decodeValues(value json.RawMessage) ([]string, error) {
	if len(value) == 0 || string(value) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(value, &many); err != nil {
		return nil, errors.New("value must be a string or a list of strings")
	}

	out := many[:0]
	for _, v := range many {
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}
