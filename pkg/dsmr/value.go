package dsmr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var ErrMalformedValue = errors.New("malformed value")

// MalformedValueError reports a payload with a unit whose magnitude is not
// a number. Only the one field is affected; the telegram stays usable.
type MalformedValueError struct {
	ID      ObjectID
	Payload string
	Err     error
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("%s: malformed value %q: %v", e.ID, e.Payload, e.Err)
}

func (e *MalformedValueError) Unwrap() []error {
	return []error{ErrMalformedValue, e.Err}
}

// Value is the decoded payload of one object in one telegram.
type Value struct {
	ID ObjectID

	// Raw is the payload between the parentheses, e.g. "001.234*kWh".
	Raw string

	// Prefix holds the groups before the value on lines that carry more
	// than one, such as the capture time on gas readings.
	Prefix []string

	// Magnitude is the numeric part exactly as sent and Number its
	// parsed form. Both are empty for text values.
	Magnitude string
	Number    float64
	Unit      string

	numeric bool
}

// IsNumeric reports whether the payload had a "<number>*<unit>" form.
func (v Value) IsNumeric() bool {
	return v.numeric
}

func (v Value) String() string {
	if !v.numeric {
		return fmt.Sprintf("%s: %s", v.ID, v.Raw)
	}
	if v.Unit == "" {
		return fmt.Sprintf("%s: %s", v.ID, v.Magnitude)
	}
	return fmt.Sprintf("%s: %s %s", v.ID, v.Magnitude, v.Unit)
}

// decodeValue takes the "(..)(..)" part of a data line.
func decodeValue(id ObjectID, groups string) (Value, error) {
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(groups, "("), ")"), ")(")
	payload := parts[len(parts)-1]

	v := Value{ID: id, Raw: payload}
	if len(parts) > 1 {
		v.Prefix = parts[:len(parts)-1]
	}

	magnitude, unit, found := strings.Cut(payload, "*")
	if !found {
		return v, nil
	}
	number, err := strconv.ParseFloat(magnitude, 64)
	if err != nil {
		return Value{}, &MalformedValueError{ID: id, Payload: payload, Err: err}
	}
	v.Magnitude = magnitude
	v.Number = number
	v.Unit = unit
	v.numeric = true
	return v, nil
}

// DecodeHexText decodes identifiers that meters send as hex encoded ASCII,
// such as "4B384547303034303436333935353037". Anything that does not
// decode to printable text is returned unchanged.
func DecodeHexText(s string) string {
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) == 0 {
		return s
	}
	for _, r := range string(decoded) {
		if !unicode.IsPrint(r) {
			return s
		}
	}
	return string(decoded)
}
