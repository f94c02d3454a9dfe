// Package dsmr decodes DSMR P1 telegrams: checksum validation and
// extraction of OBIS coded values.
package dsmr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidTelegram  = errors.New("invalid telegram")
	ErrChecksumMismatch = errors.New("telegram checksum mismatch")
)

// ChecksumError is returned by Parse when the trailing checksum does not
// match the telegram body or cannot be read at all.
type ChecksumError struct {
	Expected string // checksum text as sent by the meter
	Computed uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("telegram checksum mismatch: expected %q, computed %04X", e.Expected, e.Computed)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// Telegram is a framed telegram whose checksum has been validated.
// The only way to obtain one is Parse.
type Telegram struct {
	header      string
	data        string
	body        string
	checksum    uint16
	hasChecksum bool
}

// Parse validates a raw telegram and splits it into header and data.
// Everything up to and including '!' is the checksummed body; the rest,
// trimmed, is the hexadecimal checksum. Some meter firmwares send no
// checksum at all, in which case the body is accepted unchecked.
func Parse(raw string) (*Telegram, error) {
	split := strings.IndexByte(raw, '!')
	if split < 0 {
		return nil, fmt.Errorf("%w: no end marker", ErrInvalidTelegram)
	}
	body := raw[:split+1]
	crcText := strings.TrimSpace(raw[split+1:])

	t := &Telegram{body: body}
	if crcText != "" {
		computed := CRC16([]byte(body))
		expected, err := strconv.ParseUint(crcText, 16, 16)
		if err != nil || uint16(expected) != computed {
			return nil, &ChecksumError{Expected: crcText, Computed: computed}
		}
		t.checksum = computed
		t.hasChecksum = true
	}

	header, data, found := strings.Cut(body, "\r\n")
	if !found {
		return nil, fmt.Errorf("%w: no header line", ErrInvalidTelegram)
	}
	t.header = header
	t.data = strings.TrimLeft(data, "\r\n")
	return t, nil
}

// Header returns the identification line, e.g. "/ISk5\2MT382-1000".
func (t *Telegram) Header() string {
	return t.header
}

// Data returns the data lines, ending with the '!' end marker.
func (t *Telegram) Data() string {
	return t.data
}

// Body returns the checksummed part of the telegram.
func (t *Telegram) Body() string {
	return t.body
}

// Checksum returns the validated checksum, if the meter sent one.
func (t *Telegram) Checksum() (uint16, bool) {
	return t.checksum, t.hasChecksum
}

// Get looks up the first data line for id. A false ok means the meter does
// not report this object, which is normal for optional fields. A non-nil
// error means the line was found but its value could not be decoded.
func (t *Telegram) Get(id ObjectID) (Value, bool, error) {
	if !id.valid() {
		return Value{}, false, nil
	}
	match := catalog[id].pattern.FindStringSubmatch(t.data)
	if match == nil {
		return Value{}, false, nil
	}
	v, err := decodeValue(id, match[1])
	if err != nil {
		return Value{}, true, err
	}
	return v, true, nil
}

// Float returns the numeric value of id, or false when it is absent,
// malformed or not numeric.
func (t *Telegram) Float(id ObjectID) (float64, bool) {
	v, ok, err := t.Get(id)
	if !ok || err != nil || !v.IsNumeric() {
		return 0, false
	}
	return v.Number, true
}

// Text returns the raw payload of id.
func (t *Telegram) Text(id ObjectID) (string, bool) {
	v, ok, err := t.Get(id)
	if !ok || err != nil {
		return "", false
	}
	return v.Raw, true
}
