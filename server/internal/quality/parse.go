package quality

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/smartbiofloc/biofloc/pkg/types"
)

// ErrMalformedBody is returned when the payload is not valid JSON or is
// the literal null.
var ErrMalformedBody = errors.New("invalid JSON body")

// FieldError reports a required reading field that is missing, null,
// not a number, or not finite.
type FieldError struct {
	Field types.Feature
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("Invalid or missing '%s'", e.Field)
}

// ParseReading decodes a JSON reading and enforces that all four channels
// are present finite numbers. Fields are checked in canonical order and
// the first failure is returned as a *FieldError. Unknown fields are
// ignored. Any other JSON value (array, string, number) has no ph and
// fails as a ph *FieldError.
func ParseReading(body []byte) (types.Reading, error) {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) || bytes.Equal(body, []byte("null")) {
		return types.Reading{}, ErrMalformedBody
	}
	var raw map[string]json.RawMessage
	if body[0] != '{' {
		raw = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return types.Reading{}, ErrMalformedBody
	}

	var r types.Reading
	for _, f := range types.Features {
		v, ok := number(raw[string(f)])
		if !ok {
			return types.Reading{}, &FieldError{Field: f}
		}
		r.Set(f, v)
	}
	return r, nil
}

// ValidateReading applies the same finiteness gate to an already-decoded
// reading, e.g. one built from a CSV row.
func ValidateReading(r types.Reading) error {
	for _, f := range types.Features {
		v := r.Value(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &FieldError{Field: f}
		}
	}
	return nil
}

// number accepts only a JSON number literal. Strings such as "7.0", null,
// booleans and out-of-range literals are rejected.
func number(msg json.RawMessage) (float64, bool) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return 0, false
	}
	switch msg[0] {
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(msg, &v); err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
