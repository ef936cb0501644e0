package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any value as long as the key exists.
const Presence = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONOption configures a JSONAsserter.
type JSONOption func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields drops the named keys at any depth before comparing.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// JSONAsserter compares JSON documents structurally.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	options := JSONAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &JSONAsserter{t: t, options: options}
}

func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// Diff returns a readable difference between the documents, or "".
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	expected = map[string]interface{}{"root": expected}
	actual = map[string]interface{}{"root": actual}

	ignored := make(map[string]bool, len(ja.options.IgnoredFields))
	for _, f := range ja.options.IgnoredFields {
		ignored[f] = true
	}
	actual = ja.prune(actual, expected, ignored)
	expected = ja.prune(expected, nil, ignored)

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// prune removes ignored keys from v and, when shape is given, resolves presence
// placeholders and drops keys shape does not mention.
func (ja *JSONAsserter) prune(v, shape interface{}, ignored map[string]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		shapeMap, _ := shape.(map[string]interface{})
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if ignored[k] {
				continue
			}
			var childShape interface{}
			if shapeMap != nil {
				s, ok := shapeMap[k]
				if !ok && ja.options.IgnoreExtraKeys {
					continue
				}
				if s == Presence {
					shapeMap[k] = child
				}
				childShape = s
			}
			out[k] = ja.prune(child, childShape, ignored)
		}
		return out
	case []interface{}:
		shapeSlice, _ := shape.([]interface{})
		out := make([]interface{}, len(val))
		for i, child := range val {
			var childShape interface{}
			if i < len(shapeSlice) {
				childShape = shapeSlice[i]
			}
			out[i] = ja.prune(child, childShape, ignored)
		}
		return out
	default:
		return v
	}
}
