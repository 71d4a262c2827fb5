package textfile

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrInvalidEncoding = errors.New("file is not valid UTF-8 or BOM-marked UTF-16 text")

// Decode turns raw file bytes into text. A UTF-8 BOM is dropped and BOM-marked
// UTF-16 is converted; anything else must already be valid UTF-8.
func Decode(raw []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	if !utf8.Valid(out) {
		return "", ErrInvalidEncoding
	}
	return string(out), nil
}
