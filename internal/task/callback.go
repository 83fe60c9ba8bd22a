package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Callback references the behavior a task runs: either a free function
// (Function) or a method on a named target (Target, Method). Callbacks are
// resolved through a Registry; two callbacks are the same iff their encodings
// are byte-identical.
type Callback struct {
	Function string `json:"function,omitempty"`
	Target   string `json:"target,omitempty"`
	Method   string `json:"method,omitempty"`
}

// FunctionRef returns a callback naming a registered function.
func FunctionRef(name string) Callback {
	return Callback{Function: name}
}

// MethodRef returns a callback naming a method on a registered target.
func MethodRef(target, method string) Callback {
	return Callback{Target: target, Method: method}
}

// IsMethod reports whether c is a (target, method) pair.
func (c Callback) IsMethod() bool {
	return c.Function == "" && c.Target != ""
}

// Validate checks that exactly one callback form is populated.
func (c Callback) Validate() error {
	switch {
	case c.Function != "" && c.Target == "" && c.Method == "":
		return nil
	case c.Function == "" && c.Target != "" && c.Method != "":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCallback, c.String())
	}
}

// String renders the callback as "function" or "Target::method".
func (c Callback) String() string {
	if c.Function != "" {
		return c.Function
	}
	return c.Target + "::" + c.Method
}

// Encode returns the canonical wire form of the callback.
func (c Callback) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// Equal compares two callbacks by their encoded form.
func (c Callback) Equal(other Callback) bool {
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// DecodeCallback parses the wire form produced by Encode.
func DecodeCallback(data []byte) (Callback, error) {
	var c Callback
	if err := json.Unmarshal(data, &c); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	return c, nil
}

// Params is the ordered argument list passed to a callback.
type Params []any

// Encode returns the canonical wire form of the parameters. Nil and empty
// lists encode identically.
func (p Params) Encode() ([]byte, error) {
	if len(p) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal([]any(p))
	if err != nil {
		return nil, fmt.Errorf("failed to encode task parameters: %w", err)
	}
	return data, nil
}

// Equal compares two parameter lists structurally.
func (p Params) Equal(other Params) bool {
	a, errA := p.Encode()
	b, errB := other.Encode()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// DecodeParams parses the wire form produced by Encode. Numbers decode as
// json.Number so they keep their literal form.
func DecodeParams(data []byte) (Params, error) {
	if len(data) == 0 {
		return Params{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out []any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode task parameters: %w", err)
	}
	if out == nil {
		out = []any{}
	}
	return Params(out), nil
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Synopsis renders a call for logs: the label followed by the parenthesised,
// comma-joined parameters.
func Synopsis(label string, params Params) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = renderParam(p)
	}
	return label + "(" + strings.Join(parts, ", ") + ")"
}

func renderParam(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return `"` + htmlEscaper.Replace(x) + `"`
	case json.Number:
		return x.String()
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "NULL"
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return "ARRAY"
	case reflect.Map, reflect.Struct:
		return "OBJECT"
	default:
		return "????"
	}
}
