// Package wireformat defines the text encoding used for every message that crosses the
// shared memory: JSON text stored as UTF-16LE code units. Lengths on the wire are always
// byte lengths (two bytes per code unit), never UTF-8 lengths. This encoding is the ABI
// contract with the module and must remain stable.
package wireformat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// ErrOddLength is returned when a region cannot hold a whole number of code units.
var ErrOddLength = errors.New("byte length is not a multiple of 2")

// BytesPerCodeUnit is the width of one UTF-16 code unit.
const BytesPerCodeUnit = 2

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// MarshalText serializes v as compact JSON text without HTML escaping or trailing newline.
func MarshalText(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Marshal serializes v as JSON and returns the UTF-16LE code units of the text.
func Marshal(v any) ([]byte, error) {
	text, err := MarshalText(v)
	if err != nil {
		return nil, err
	}
	return EncodeText(text)
}

// EncodeText converts UTF-8 text to UTF-16LE code units.
func EncodeText(text []byte) ([]byte, error) {
	if len(text) == 0 {
		return []byte{}, nil
	}
	out, err := utf16le.NewEncoder().Bytes(text)
	if err != nil {
		return nil, fmt.Errorf("transcode to utf-16le: %w", err)
	}
	return out, nil
}

// DecodeText converts UTF-16LE code units back to UTF-8 text.
// Unpaired surrogates decode to U+FFFD.
func DecodeText(units []byte) ([]byte, error) {
	if len(units)%BytesPerCodeUnit != 0 {
		return nil, ErrOddLength
	}
	if len(units) == 0 {
		return []byte{}, nil
	}
	out, err := utf16le.NewDecoder().Bytes(units)
	if err != nil {
		return nil, fmt.Errorf("transcode from utf-16le: %w", err)
	}
	return out, nil
}

// Unmarshal decodes UTF-16LE JSON text into v.
func Unmarshal(units []byte, v any) error {
	text, err := DecodeText(units)
	if err != nil {
		return err
	}
	return json.Unmarshal(text, v)
}

// ByteLength is the number of bytes s occupies on the wire.
func ByteLength(s string) uint32 {
	return CodeUnits(s) * BytesPerCodeUnit
}

// CodeUnits counts the UTF-16 code units of s. Runes outside the BMP count twice.
func CodeUnits(s string) uint32 {
	var n uint32
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if w := utf16.RuneLen(r); w > 0 {
			n += uint32(w)
		} else {
			n++
		}
	}
	return n
}
