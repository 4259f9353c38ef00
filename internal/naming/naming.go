// Package naming provides the reversible element naming scheme and the
// global sequence counter shared by every pipeline stage.
package naming

import (
	"fmt"
	"strings"
)

// escapeCodes maps each special character to its multi-character escape
// sequence. Underscore must be escaped so that every literal underscore
// in a token unambiguously delimits an escape sequence.
var escapeCodes = map[byte]string{
	' ':  "_s_",
	'/':  "_d_",
	'\\': "_b_",
	'_':  "_u_",
}

// decodeCodes is the inverse of escapeCodes, keyed by the code between
// the underscores.
var decodeCodes = map[string]byte{
	"s": ' ',
	"d": '/',
	"b": '\\',
	"u": '_',
}

// Encode converts a source element or assembly name into a token that is
// safe for filesystem paths and for the fixed-width card format. The
// mapping is bijective: Decode(Encode(name)) == name for every name, and
// two distinct names never share a token.
func Encode(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if escaped, ok := escapeCodes[c]; ok {
			builder.WriteString(escaped)
			continue
		}
		if isSafeByte(c) {
			builder.WriteByte(c)
			continue
		}
		// Hex fallback for any other unsafe byte, multi-byte runes included.
		fmt.Fprintf(&builder, "_x%02x_", c)
	}
	return builder.String()
}

// Decode reverses Encode, recovering the original source name.
func Decode(token string) (string, error) {
	var builder strings.Builder
	builder.Grow(len(token))
	for i := 0; i < len(token); {
		c := token[i]
		if c != '_' {
			if !isSafeByte(c) {
				return "", fmt.Errorf("decode token %q: unexpected byte %q at offset %d", token, c, i)
			}
			builder.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(token[i+1:], '_')
		if end < 0 {
			return "", fmt.Errorf("decode token %q: unterminated escape at offset %d", token, i)
		}
		code := token[i+1 : i+1+end]
		decoded, err := decodeEscape(code)
		if err != nil {
			return "", fmt.Errorf("decode token %q: %w", token, err)
		}
		builder.WriteByte(decoded)
		i += end + 2
	}
	return builder.String(), nil
}

// decodeEscape resolves the byte encoded by a single escape code.
func decodeEscape(code string) (byte, error) {
	if b, ok := decodeCodes[code]; ok {
		return b, nil
	}
	if len(code) == 3 && code[0] == 'x' {
		var b byte
		if _, err := fmt.Sscanf(code[1:], "%02x", &b); err == nil {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown escape code %q", code)
}

// isSafeByte reports whether the byte may appear verbatim in a token.
func isSafeByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.':
		return true
	}
	return false
}
