package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
	"github.com/gowebpki/jcs"
)

// ErrInvalidPayload is returned when a value cannot be carried as a Payload.
var ErrInvalidPayload = errors.New("invalid payload")

// PayloadKind tags the variant held by a Payload.
type PayloadKind string

const (
	PayloadString PayloadKind = "string"
	PayloadNumber PayloadKind = "number"
	PayloadObject PayloadKind = "object"

	// payloadCorrupt marks a stored value that could not be decoded.
	payloadCorrupt PayloadKind = "corrupt"
)

// Payload is the document body of a record: a string, a number, or a
// key-value object. The zero value is the empty string payload.
type Payload struct {
	kind PayloadKind
	str  string
	num  json.Number
	obj  map[string]any
}

// StringPayload wraps s.
func StringPayload(s string) Payload {
	return Payload{kind: PayloadString, str: s}
}

// NumberPayload wraps a decimal literal. Literals that an IEEE 754 double
// cannot hold exactly are rejected.
func NumberPayload(n json.Number) (Payload, error) {
	if _, err := canonicalNumber(n.String()); err != nil {
		return Payload{}, err
	}
	return Payload{kind: PayloadNumber, num: n}, nil
}

// ObjectPayload wraps a deep copy of a JSON object. The map must be
// JSON-encodable; numbers inside it are checked when it is hashed.
func ObjectPayload(m map[string]any) Payload {
	if m == nil {
		return Payload{kind: PayloadObject, obj: map[string]any{}}
	}
	return Payload{kind: PayloadObject, obj: copyValue(m).(map[string]any)}
}

// canonicalNumber returns the RFC 8785 form of lit, or ErrInvalidPayload
// when that form denotes a different value than lit.
func canonicalNumber(lit string) ([]byte, error) {
	b, err := jcs.Transform([]byte(lit))
	if err != nil {
		return nil, fmt.Errorf("%w: bad number %q", ErrInvalidPayload, lit)
	}
	want, _, err := apd.NewFromString(lit)
	if err != nil {
		return nil, fmt.Errorf("%w: bad number %q", ErrInvalidPayload, lit)
	}
	got, _, err := apd.NewFromString(string(b))
	if err != nil || got.Cmp(want) != 0 {
		return nil, fmt.Errorf("%w: number %q is not exactly representable", ErrInvalidPayload, lit)
	}
	return b, nil
}

// checkNumbers walks a value decoded with UseNumber and rejects any number
// that canonicalNumber would change.
func checkNumbers(v any) error {
	switch t := v.(type) {
	case json.Number:
		_, err := canonicalNumber(t.String())
		return err
	case map[string]any:
		for _, e := range t {
			if err := checkNumbers(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkNumbers(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyValue deep-copies the maps and slices of a decoded JSON value.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

func corruptPayload(raw []byte) Payload {
	return Payload{kind: payloadCorrupt, str: string(raw)}
}

// ParsePayload decodes a raw JSON value into a Payload. Arrays, booleans
// and null are rejected.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Payload{}, fmt.Errorf("%w: empty value", ErrInvalidPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return Payload{}, fmt.Errorf("%w: trailing data after value", ErrInvalidPayload)
	}

	switch t := v.(type) {
	case string:
		return StringPayload(t), nil
	case json.Number:
		return NumberPayload(t)
	case map[string]any:
		if err := checkNumbers(t); err != nil {
			return Payload{}, err
		}
		return Payload{kind: PayloadObject, obj: t}, nil
	default:
		return Payload{}, fmt.Errorf("%w: must be a string, number or object", ErrInvalidPayload)
	}
}

// Kind reports the variant held by p.
func (p Payload) Kind() PayloadKind {
	if p.kind == "" {
		return PayloadString
	}
	return p.kind
}

// Text returns the string value, or "" for other kinds.
func (p Payload) Text() string { return p.str }

// Number returns the number literal, or "" for other kinds.
func (p Payload) Number() json.Number { return p.num }

// Object returns a copy of the object value, or nil for other kinds.
func (p Payload) Object() map[string]any {
	if p.obj == nil {
		return nil
	}
	return copyValue(p.obj).(map[string]any)
}

// Attr returns the string form of a top-level field of an object payload.
// Non-object payloads and missing fields yield ok == false.
func (p Payload) Attr(key string) (string, bool) {
	if p.Kind() != PayloadObject {
		return "", false
	}
	v, ok := p.obj[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Canonical returns the serialization hashed into a record. The form is
// fixed per kind:
//
//	string: "s:" + raw UTF-8 value
//	number: "n:" + RFC 8785 number form
//	object: "o:" + RFC 8785 canonical JSON
//
// Numbers, top-level or nested, must survive the RFC 8785 double
// conversion unchanged; Canonical fails with ErrInvalidPayload otherwise.
func (p Payload) Canonical() ([]byte, error) {
	switch p.Kind() {
	case PayloadString:
		if !utf8.ValidString(p.str) {
			return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrInvalidPayload)
		}
		return append([]byte("s:"), p.str...), nil
	case PayloadNumber:
		b, err := canonicalNumber(p.num.String())
		if err != nil {
			return nil, err
		}
		return append([]byte("n:"), b...), nil
	case PayloadObject:
		raw, err := json.Marshal(p.obj)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal object: %v", ErrInvalidPayload, err)
		}
		if err := checkEncodedNumbers(raw); err != nil {
			return nil, err
		}
		b, err := jcs.Transform(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: canonicalize object: %v", ErrInvalidPayload, err)
		}
		return append([]byte("o:"), b...), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, p.kind)
	}
}

// checkEncodedNumbers re-reads an encoded object and applies checkNumbers,
// so Go integer values an ObjectPayload caller supplied are covered too.
func checkEncodedNumbers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return checkNumbers(v)
}

// Value returns the natural JSON encoding of the payload (no kind envelope).
func (p Payload) Value() (json.RawMessage, error) {
	switch p.Kind() {
	case PayloadNumber:
		return json.RawMessage(p.num.String()), nil
	case PayloadObject:
		return json.Marshal(p.obj)
	case payloadCorrupt:
		return json.Marshal(map[string]string{"corrupt": p.str})
	default:
		return json.Marshal(p.str)
	}
}

// MarshalJSON encodes the payload as its natural JSON value.
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.Value()
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Payload) UnmarshalJSON(b []byte) error {
	parsed, err := ParsePayload(b)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Equal reports whether two payloads have the same canonical form.
func (p Payload) Equal(o Payload) bool {
	a, errA := p.Canonical()
	b, errB := o.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}
