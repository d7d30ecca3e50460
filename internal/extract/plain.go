package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as UTF-8 text, replacing invalid sequences
// with the replacement character.
func extractPlain(content []byte) (string, error) {
	if utf8.Valid(content) {
		return string(content), nil
	}
	return strings.ToValidUTF8(string(content), "�"), nil
}
