package payload

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Encode returns the transport encoding of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode returns the bytes carried by s. Surrounding
// whitespace and embedded newlines are ignored.
func Decode(s string) ([]byte, error) {
	const errCtx = "decoding payload"

	data, err := base64.StdEncoding.DecodeString(
		strings.TrimSpace(s),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return data, nil
}

// DecodeText decodes s as base64 UTF-8 text. When s is not
// valid base64, or does not decode to valid UTF-8, s itself
// is returned and ok is false.
func DecodeText(s string) (text string, ok bool) {
	data, err := Decode(s)
	if err != nil || !utf8.Valid(data) {
		return s, false
	}

	return string(data), true
}
